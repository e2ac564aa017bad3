package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"placementPortal/internal/analytics"
	"placementPortal/internal/api/middleware"
	"placementPortal/internal/auth"
	"placementPortal/internal/config"
	"placementPortal/internal/notify"
	"placementPortal/internal/review"
	"placementPortal/internal/roles"
	"placementPortal/internal/storage"
)

// Dependencies 汇总路由注册所需的服务。
type Dependencies struct {
	Config        *config.Config
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Tasks         TaskEnqueuer
	Storage       ObjectStore
	Scanner       storage.Scanner
	Auth          *auth.AuthService
	Roles         *roles.Resolver
	Reviews       *review.Service
	Notifications *notify.Store
	Analytics     *analytics.Cache
	Logger        *slog.Logger
}

// RegisterRoutes 注册 /v1 下的全部业务路由。
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config

	authHandler := NewAuthHandler(deps.DB, deps.Auth, deps.Redis, AuthSettings{
		EmailDomain:           cfg.Auth.EmailDomain,
		LoginRateLimitPerHour: cfg.Auth.LoginRateLimitPerHour,
		LoginLockThreshold:    cfg.Auth.LoginLockThreshold,
		LoginLockTTL:          cfg.Auth.LoginLockTTL,
		CookieDomain:          cfg.Auth.CookieDomain,
	})
	profileHandler := NewProfileHandler(deps.DB, deps.Roles)
	adminHandler := NewAdminHandler(deps.DB, deps.Roles)
	announcementHandler := NewAnnouncementHandler(deps.DB, deps.Storage, deps.Scanner, deps.Tasks, cfg.Uploads.MaxAttachmentBytes)
	placementHandler := NewPlacementHandler(deps.DB, deps.Storage, deps.Tasks)
	resumeHandler := NewResumeHandler(deps.DB, deps.Storage, deps.Scanner, deps.Tasks, cfg.Uploads.MaxResumeBytes)
	videoHandler := NewVideoHandler(deps.DB, deps.Storage, deps.Scanner, deps.Reviews, deps.Tasks, cfg.Uploads.MaxVideoBytes)
	notificationHandler := NewNotificationHandler(deps.Notifications)
	dashboardHandler := NewDashboardHandler(deps.DB, deps.Analytics, deps.Tasks)
	wsHandler := NewWsHandler(deps.Redis, deps.Auth, deps.Logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.Auth, deps.Roles)
	requireRoles := middleware.RequireRoles

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		authed := v1.Group("")
		authed.Use(authMiddleware)
		{
			authed.GET("/me", authHandler.Me)
			authed.PUT("/profile", profileHandler.UpdateOwnProfile)
			authed.GET("/dashboard", dashboardHandler.Dashboard)
			authed.GET("/applications/mine", placementHandler.MyApplications)
		}

		announcements := authed.Group("/announcements")
		{
			announcements.GET("", announcementHandler.ListAnnouncements)
			announcements.GET("/:id", announcementHandler.GetAnnouncement)
			announcements.POST("", requireRoles(roles.AnnouncementAuthor...), announcementHandler.CreateAnnouncement)
			announcements.DELETE("/:id", requireRoles(roles.AnnouncementAuthor...), announcementHandler.DeleteAnnouncement)
		}

		placements := authed.Group("/placements")
		{
			placements.GET("", placementHandler.ListPlacements)
			placements.POST("", requireRoles(roles.PlacementManager...), placementHandler.CreatePlacement)
			placements.DELETE("/:id", requireRoles(roles.PlacementManager...), placementHandler.DeletePlacement)
			placements.POST("/:id/apply", requireRoles(roles.Applicant...), placementHandler.Apply)
			placements.GET("/:id/applications", requireRoles(roles.PlacementManager...), placementHandler.ListApplications)
		}

		resumes := authed.Group("/resumes")
		{
			resumes.GET("", resumeHandler.ListResumes)
			resumes.POST("", resumeHandler.UploadResume)
			resumes.GET("/:id/download-link", resumeHandler.GetDownloadLink)
			resumes.POST("/:id/analyze", resumeHandler.AnalyzeResume)
			resumes.DELETE("/:id", resumeHandler.DeleteResume)
		}

		videos := authed.Group("/videos")
		{
			videos.GET("/mine", videoHandler.MyVideos)
			videos.GET("/approved", videoHandler.ApprovedVideos)
			videos.POST("", videoHandler.UploadVideo)
			videos.DELETE("/:id", videoHandler.DeleteVideo)

			reviewer := requireRoles(roles.VideoReviewer...)
			videos.GET("/review-queue", reviewer, videoHandler.ReviewQueue)
			videos.POST("/publish", reviewer, videoHandler.PublishVideo)
			videos.POST("/:id/review", reviewer, videoHandler.ReviewVideo)
			videos.GET("/:id/preview", reviewer, videoHandler.PreviewLink)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", notificationHandler.ListNotifications)
			notifications.GET("/recent", notificationHandler.RecentNotifications)
			notifications.GET("/unread-count", notificationHandler.UnreadCount)
			notifications.POST("/read-all", notificationHandler.MarkAllRead)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
			notifications.DELETE("/:id", notificationHandler.DeleteNotification)
		}

		admin := authed.Group("/admin", requireRoles(roles.UserAdmin...))
		{
			admin.GET("/users", adminHandler.ListUsers)
			admin.PUT("/users/:id/roles", adminHandler.SetRoles)
			admin.PUT("/users/:id/profile", profileHandler.UpdateUserProfile)
		}

		analyticsGroup := authed.Group("/analytics", requireRoles(roles.Privileged...))
		{
			analyticsGroup.GET("", dashboardHandler.Analytics)
			analyticsGroup.GET("/export.xlsx", dashboardHandler.ExportAnalytics)
			analyticsGroup.POST("/report", dashboardHandler.RequestReport)
		}
	}
}

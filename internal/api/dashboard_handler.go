package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"placementPortal/internal/analytics"
	"placementPortal/internal/api/middleware"
	"placementPortal/internal/tasks"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DashboardHandler 提供首页看板与统计分析接口。
type DashboardHandler struct {
	db    *gorm.DB
	cache *analytics.Cache
	tasks TaskEnqueuer
	now   func() time.Time
}

// NewDashboardHandler 构造看板处理器。
func NewDashboardHandler(db *gorm.DB, cache *analytics.Cache, enqueuer TaskEnqueuer) *DashboardHandler {
	return &DashboardHandler{db: db, cache: cache, tasks: enqueuer, now: time.Now}
}

// Dashboard 特权角色返回全局看板，其他用户返回个人看板。
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)

	if session.Roles.IsPrivileged() {
		d, err := analytics.ForStaff(ctx, h.db)
		if err != nil {
			logger.Error("build staff dashboard failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"view": "staff", "dashboard": d})
		return
	}

	viewer, err := loadViewer(ctx, h.db, session)
	if err != nil {
		logger.Error("load viewer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	d, err := analytics.ForStudent(ctx, h.db, viewer)
	if err != nil {
		logger.Error("build student dashboard failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": "student", "dashboard": d})
}

func (h *DashboardHandler) summary(ctx context.Context) (analytics.Summary, error) {
	return h.cache.Summary(ctx, func(ctx context.Context) (analytics.Summary, error) {
		return analytics.Compute(ctx, h.db, h.now())
	})
}

// Analytics 返回缓存的统计汇总；?refresh=true 时先丢弃缓存。
func (h *DashboardHandler) Analytics(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("refresh") == "true" {
		if err := h.cache.Invalidate(ctx); err != nil {
			loggerFromContext(c).Warn("invalidate analytics cache failed", slog.Any("error", err))
		}
	}
	s, err := h.summary(ctx)
	if err != nil {
		loggerFromContext(c).Error("compute analytics failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, s)
}

// ExportAnalytics 以 XLSX 附件形式下载统计汇总。
func (h *DashboardHandler) ExportAnalytics(c *gin.Context) {
	logger := loggerFromContext(c)
	s, err := h.summary(c.Request.Context())
	if err != nil {
		logger.Error("compute analytics failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var buf bytes.Buffer
	if err := analytics.WriteXLSX(&buf, s); err != nil {
		logger.Error("write xlsx failed", slog.Any("error", err))
		Internal(c, "failed to export analytics")
		return
	}

	filename := fmt.Sprintf("placement-analytics-%s.xlsx", s.GeneratedAt.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// RequestReport 将 PDF 报告生成放入队列，完成后通过实时通道推送下载地址。
func (h *DashboardHandler) RequestReport(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	logger := loggerFromContext(c)
	task, err := tasks.NewAnalyticsReportTask(userID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build report task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	info, err := h.tasks.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		logger.Error("enqueue report task failed", slog.Any("error", err))
		Internal(c, "failed to queue report")
		return
	}

	logger.Info("analytics report queued", slog.String("task_id", info.ID))
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "status": "queued"})
}

package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"placementPortal/internal/auth"
	"placementPortal/internal/database"
	"placementPortal/internal/review"
	"placementPortal/internal/roles"
	"placementPortal/internal/storage"
	"placementPortal/internal/tasks"
)

const videoPreviewTTL = time.Hour

var errNotVideoOwner = errors.New("not the video owner")

// VideoHandler 处理视频上传、审核与展示。
type VideoHandler struct {
	db       *gorm.DB
	storage  ObjectStore
	uploader *uploader
	reviews  *review.Service
	tasks    TaskEnqueuer
	rule     uploadRule
	now      func() time.Time
}

// NewVideoHandler 构造视频处理器。
func NewVideoHandler(db *gorm.DB, store ObjectStore, scanner storage.Scanner, reviews *review.Service, enqueuer TaskEnqueuer, maxVideoBytes int64) *VideoHandler {
	return &VideoHandler{
		db:       db,
		storage:  store,
		uploader: newUploader(store, scanner),
		reviews:  reviews,
		tasks:    enqueuer,
		rule: uploadRule{
			Label:        "video",
			MaxBytes:     maxVideoBytes,
			TypePrefixes: []string{"video/"},
			TypeMessage:  "video must be a video file",
		},
		now: time.Now,
	}
}

type videoResponse struct {
	ID          uint       `json:"id"`
	UserID      uint       `json:"user_id"`
	OwnerName   string     `json:"owner_name,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	VideoURL    string     `json:"video_url"`
	ContentType string     `json:"content_type,omitempty"`
	Size        int64      `json:"file_size"`
	Status      string     `json:"status"`
	ReviewNotes *string    `json:"review_notes"`
	ReviewedBy  *uint      `json:"reviewed_by"`
	ReviewedAt  *time.Time `json:"reviewed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newVideoResponse(v database.Video) videoResponse {
	return videoResponse{
		ID:          v.ID,
		UserID:      v.UserID,
		Title:       v.Title,
		Description: v.Description,
		VideoURL:    v.VideoURL,
		ContentType: v.ContentType,
		Size:        v.Size,
		Status:      v.Status,
		ReviewNotes: v.ReviewNotes,
		ReviewedBy:  v.ReviewedBy,
		ReviewedAt:  v.ReviewedAt,
		CreatedAt:   v.CreatedAt,
	}
}

// MyVideos 返回当前用户上传的视频。
func (h *VideoHandler) MyVideos(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var videos []database.Video
	if err := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").Find(&videos).Error; err != nil {
		loggerFromContext(c).Error("list own videos failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := make([]videoResponse, 0, len(videos))
	for _, v := range videos {
		items = append(items, newVideoResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"videos": items})
}

type uploadVideoForm struct {
	Title       string `form:"title" binding:"required,notblank,max=200"`
	Description string `form:"description" binding:"max=2000"`
}

// UploadVideo 上传视频，新视频总是处于 pending 状态。
func (h *VideoHandler) UploadVideo(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	video, ok := h.store(c, session)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, newVideoResponse(video))
}

// PublishVideo 审核人直接发布：先按普通流程上传，再以本人身份审核通过。
func (h *VideoHandler) PublishVideo(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	video, ok := h.store(c, session)
	if !ok {
		return
	}

	logger := loggerFromContext(c).With(slog.Uint64("video_id", uint64(video.ID)))
	approved, err := h.reviews.Review(c.Request.Context(), review.Decision{
		VideoID:    video.ID,
		ReviewerID: session.UserID,
		Status:     review.StatusApproved,
	})
	if err != nil {
		logger.Error("approve published video failed", slog.Any("error", err))
		Internal(c, "video was uploaded but could not be approved")
		return
	}

	logger.Info("video published")
	c.JSON(http.StatusCreated, newVideoResponse(approved))
}

// store 校验表单与文件，上传后写入 pending 记录；失败时已写入响应。
func (h *VideoHandler) store(c *gin.Context, session auth.Session) (database.Video, bool) {
	if !h.uploader.limitBody(c, h.rule) {
		return database.Video{}, false
	}

	var form uploadVideoForm
	if err := c.ShouldBind(&form); err != nil {
		formError(c, err, h.rule)
		return database.Video{}, false
	}
	file, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			BadRequest(c, "file is required")
			return database.Video{}, false
		}
		formError(c, err, h.rule)
		return database.Video{}, false
	}
	contentType, ok := h.uploader.accept(c, file, h.rule)
	if !ok {
		return database.Video{}, false
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)
	bucket := h.storage.VideosBucket()
	key := storage.ObjectKey(session.UserID, h.now(), file.Filename)

	if err := h.uploader.put(ctx, bucket, key, file, contentType); err != nil {
		logger.Error("upload video failed", slog.Any("error", err))
		Internal(c, "failed to upload video")
		return database.Video{}, false
	}

	video := database.Video{
		UserID:      session.UserID,
		Title:       strings.TrimSpace(form.Title),
		Description: strings.TrimSpace(form.Description),
		ObjectKey:   key,
		VideoURL:    h.storage.PublicURL(bucket, key),
		ContentType: contentType,
		Size:        file.Size,
		Status:      string(review.StatusPending),
	}
	if err := h.db.WithContext(ctx).Create(&video).Error; err != nil {
		logger.Error("create video failed", slog.Any("error", err))
		h.uploader.discard(ctx, logger, bucket, key)
		Internal(c, "internal error")
		return database.Video{}, false
	}

	logger.Info("video uploaded", slog.Uint64("video_id", uint64(video.ID)))
	return video, true
}

// DeleteVideo 所有者或审核人可在任意状态删除视频，记录与对象一并删除。
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	videoID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid video id")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("video_id", uint64(videoID)))

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video database.Video
		if err := tx.First(&video, videoID).Error; err != nil {
			return err
		}
		if video.UserID != session.UserID && !session.Can(roles.VideoReviewer...) {
			return errNotVideoOwner
		}
		if err := tx.Delete(&video).Error; err != nil {
			return fmt.Errorf("delete video: %w", err)
		}
		return deleteObject(ctx, h.storage, h.storage.VideosBucket(), video.ObjectKey)
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "video not found")
		return
	case errors.Is(err, errNotVideoOwner):
		Forbidden(c, "you can only delete your own videos")
		return
	case err != nil:
		logger.Error("delete video failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("video deleted")
	c.Status(http.StatusNoContent)
}

// ReviewQueue 列出待审核（或指定状态）的视频，附带上传者姓名。
func (h *VideoHandler) ReviewQueue(c *gin.Context) {
	status := strings.ToLower(c.DefaultQuery("status", string(review.StatusPending)))
	switch review.Status(status) {
	case review.StatusPending, review.StatusApproved, review.StatusRejected:
	default:
		if status != "all" {
			BadRequest(c, "status must be one of: pending, approved, rejected, all")
			return
		}
	}

	items, err := h.listWithOwner(c, status)
	if err != nil {
		loggerFromContext(c).Error("list review queue failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": items})
}

// ApprovedVideos 所有登录用户都可浏览已通过审核的视频。
func (h *VideoHandler) ApprovedVideos(c *gin.Context) {
	items, err := h.listWithOwner(c, string(review.StatusApproved))
	if err != nil {
		loggerFromContext(c).Error("list approved videos failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": items})
}

func (h *VideoHandler) listWithOwner(c *gin.Context, status string) ([]videoResponse, error) {
	var rows []struct {
		database.Video
		OwnerName string
	}
	q := h.db.WithContext(c.Request.Context()).Table("videos").
		Select("videos.*, COALESCE(profiles.full_name, '') AS owner_name").
		Joins("LEFT JOIN profiles ON profiles.id = videos.user_id")
	if status != "all" {
		q = q.Where("videos.status = ?", status)
	}
	if err := q.Order("videos.created_at DESC").Order("videos.id DESC").
		Limit(queryLimit(c, 100, 500)).Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]videoResponse, 0, len(rows))
	for _, r := range rows {
		item := newVideoResponse(r.Video)
		item.OwnerName = r.OwnerName
		items = append(items, item)
	}
	return items, nil
}

type reviewVideoRequest struct {
	Status string `json:"status" binding:"required,oneof=approved rejected"`
	Notes  string `json:"notes" binding:"max=1000"`
}

// ReviewVideo 写入审核结果并通知视频所有者。
func (h *VideoHandler) ReviewVideo(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	videoID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid video id")
		return
	}

	var req reviewVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}
	status, err := review.ParseDecision(req.Status)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := loggerFromContext(c).With(slog.Uint64("video_id", uint64(videoID)))
	video, err := h.reviews.Review(c.Request.Context(), review.Decision{
		VideoID:    videoID,
		ReviewerID: session.UserID,
		Status:     status,
		Notes:      req.Notes,
	})
	switch {
	case errors.Is(err, review.ErrVideoNotFound):
		NotFound(c, "video not found")
		return
	case errors.Is(err, review.ErrInvalidTransition), errors.Is(err, review.ErrConcurrentReview):
		Conflict(c, err.Error())
		return
	case errors.Is(err, review.ErrInvalidDecision):
		BadRequest(c, err.Error())
		return
	case err != nil:
		logger.Error("review video failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("video reviewed", slog.String("status", video.Status))
	enqueueFanout(c, h.tasks, tasks.FanoutVideoReview, video.ID, session.UserID)
	c.JSON(http.StatusOK, newVideoResponse(video))
}

// PreviewLink 为审核人生成 1 小时有效的预览地址。
func (h *VideoHandler) PreviewLink(c *gin.Context) {
	videoID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid video id")
		return
	}

	ctx := c.Request.Context()
	var video database.Video
	if err := h.db.WithContext(ctx).Select("id", "object_key").First(&video, videoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "video not found")
			return
		}
		loggerFromContext(c).Error("load video failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	url, err := h.storage.GeneratePresignedURL(ctx, h.storage.VideosBucket(), video.ObjectKey, videoPreviewTTL)
	if err != nil {
		loggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": h.now().Add(videoPreviewTTL).UTC(),
	})
}

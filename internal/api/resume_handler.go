package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"placementPortal/internal/api/middleware"
	"placementPortal/internal/database"
	"placementPortal/internal/storage"
	"placementPortal/internal/tasks"
)

// ResumeHandler 负责处理与简历相关的 API 请求。
type ResumeHandler struct {
	db       *gorm.DB
	storage  ObjectStore
	uploader *uploader
	tasks    TaskEnqueuer
	rule     uploadRule
	now      func() time.Time
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, store ObjectStore, scanner storage.Scanner, enqueuer TaskEnqueuer, maxResumeBytes int64) *ResumeHandler {
	return &ResumeHandler{
		db:       db,
		storage:  store,
		uploader: newUploader(store, scanner),
		tasks:    enqueuer,
		rule: uploadRule{
			Label:       "resume",
			MaxBytes:    maxResumeBytes,
			Extensions:  []string{".pdf", ".doc", ".docx"},
			TypeMessage: "resume must be a PDF or Word document (.pdf, .doc, .docx)",
		},
		now: time.Now,
	}
}

type resumeResponse struct {
	ID          uint      `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	ATSScore    *int      `json:"ats_score"`
	ATSFeedback *string   `json:"ats_feedback"`
	CreatedAt   time.Time `json:"created_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ID:          r.ID,
		FileName:    r.FileName,
		ContentType: r.ContentType,
		Size:        r.Size,
		ATSScore:    r.ATSScore,
		ATSFeedback: r.ATSFeedback,
		CreatedAt:   r.CreatedAt,
	}
}

// ListResumes 返回当前用户的简历，最新的在前。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resumes []database.Resume
	if err := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").Find(&resumes).Error; err != nil {
		loggerFromContext(c).Error("list resumes failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := make([]resumeResponse, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, newResumeResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"resumes": items})
}

// UploadResume 校验并扫描文件，写入私有 Bucket 后记录元数据。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if !h.uploader.limitBody(c, h.rule) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			BadRequest(c, "file is required")
			return
		}
		formError(c, err, h.rule)
		return
	}
	contentType, ok := h.uploader.accept(c, file, h.rule)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)
	bucket := h.storage.ResumesBucket()
	key := storage.ObjectKey(userID, h.now(), file.Filename)

	if err := h.uploader.put(ctx, bucket, key, file, contentType); err != nil {
		logger.Error("upload resume failed", slog.Any("error", err))
		Internal(c, "failed to upload resume")
		return
	}

	resume := database.Resume{
		UserID:      userID,
		FileName:    file.Filename,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        file.Size,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		logger.Error("create resume failed", slog.Any("error", err))
		h.uploader.discard(ctx, logger, bucket, key)
		Internal(c, "internal error")
		return
	}

	logger.Info("resume uploaded", slog.Uint64("resume_id", uint64(resume.ID)))
	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

// GetDownloadLink 返回 5 分钟有效的预签名下载地址。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	resume, ok := h.ownResume(c)
	if !ok {
		return
	}

	url, err := h.storage.GeneratePresignedURL(c.Request.Context(), h.storage.ResumesBucket(), resume.ObjectKey, resumeLinkTTL)
	if err != nil {
		loggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": h.now().Add(resumeLinkTTL).UTC(),
	})
}

// DeleteResume 在同一事务内删除记录与对象。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	resumeID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("resume_id", uint64(resumeID)))

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resume database.Resume
		if err := tx.Where("id = ? AND user_id = ?", resumeID, userID).First(&resume).Error; err != nil {
			return err
		}
		if err := tx.Delete(&resume).Error; err != nil {
			return fmt.Errorf("delete resume: %w", err)
		}
		return deleteObject(ctx, h.storage, h.storage.ResumesBucket(), resume.ObjectKey)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "resume not found")
		return
	}
	if err != nil {
		logger.Error("delete resume failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("resume deleted")
	c.Status(http.StatusNoContent)
}

type analyzeResumeRequest struct {
	ResumeText string `json:"resume_text" binding:"required,notblank,max=50000"`
}

// AnalyzeResume 将 ATS 分析放入队列，结果通过实时通道推送。
func (h *ResumeHandler) AnalyzeResume(c *gin.Context) {
	resume, ok := h.ownResume(c)
	if !ok {
		return
	}

	var req analyzeResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	logger := loggerFromContext(c).With(slog.Uint64("resume_id", uint64(resume.ID)))
	task, err := tasks.NewResumeAnalyzeTask(resume.ID, resume.UserID, req.ResumeText, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build analyze task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	info, err := h.tasks.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		logger.Error("enqueue analyze task failed", slog.Any("error", err))
		Internal(c, "failed to queue analysis")
		return
	}

	logger.Info("resume analysis queued", slog.String("task_id", info.ID))
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "status": "queued"})
}

// ownResume 读取路径中的简历并确认归属当前用户；失败时已写入响应。
func (h *ResumeHandler) ownResume(c *gin.Context) (database.Resume, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return database.Resume{}, false
	}
	resumeID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid resume id")
		return database.Resume{}, false
	}

	var resume database.Resume
	err = h.db.WithContext(c.Request.Context()).Where("id = ? AND user_id = ?", resumeID, userID).First(&resume).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resume not found")
		return database.Resume{}, false
	case err != nil:
		loggerFromContext(c).Error("load resume failed", slog.Any("error", err))
		Internal(c, "internal error")
		return database.Resume{}, false
	}
	return resume, true
}

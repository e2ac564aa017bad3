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

	"placementPortal/internal/audience"
	"placementPortal/internal/database"
	"placementPortal/internal/storage"
	"placementPortal/internal/tasks"
)

// AnnouncementHandler 处理公告的列表、发布与删除。
type AnnouncementHandler struct {
	db       *gorm.DB
	storage  ObjectStore
	uploader *uploader
	tasks    TaskEnqueuer
	rule     uploadRule
	now      func() time.Time
}

// NewAnnouncementHandler 构造公告处理器。
func NewAnnouncementHandler(db *gorm.DB, store ObjectStore, scanner storage.Scanner, enqueuer TaskEnqueuer, maxAttachmentBytes int64) *AnnouncementHandler {
	return &AnnouncementHandler{
		db:       db,
		storage:  store,
		uploader: newUploader(store, scanner),
		tasks:    enqueuer,
		rule: uploadRule{
			Label:       "attachment",
			MaxBytes:    maxAttachmentBytes,
			Extensions:  []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".pdf"},
			TypeMessage: "attachment must be an image (jpeg, png, webp, gif) or a PDF",
		},
		now: time.Now,
	}
}

type announcementResponse struct {
	ID             uint      `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	TargetYear     *int      `json:"target_year"`
	TargetBranch   *string   `json:"target_branch"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	CreatedBy      uint      `json:"created_by"`
	AuthorName     string    `json:"author_name"`
	CreatedAt      time.Time `json:"created_at"`
}

func newAnnouncementResponse(a database.Announcement, authorName string) announcementResponse {
	return announcementResponse{
		ID:             a.ID,
		Title:          a.Title,
		Content:        a.Content,
		TargetYear:     a.TargetYear,
		TargetBranch:   a.TargetBranch,
		AttachmentURL:  a.AttachmentURL,
		AttachmentName: a.AttachmentName,
		CreatedBy:      a.CreatedBy,
		AuthorName:     authorName,
		CreatedAt:      a.CreatedAt,
	}
}

// ListAnnouncements 返回当前用户可见的公告，最新的在前。
func (h *AnnouncementHandler) ListAnnouncements(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)

	viewer, err := loadViewer(ctx, h.db, session)
	if err != nil {
		logger.Error("load viewer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := []announcementResponse{}
	if err := h.db.WithContext(ctx).Table("announcements").
		Select("announcements.id, announcements.title, announcements.content, announcements.target_year, " +
			"announcements.target_branch, announcements.attachment_url, announcements.attachment_name, " +
			"announcements.created_by, COALESCE(profiles.full_name, '') AS author_name, announcements.created_at").
		Joins("LEFT JOIN profiles ON profiles.id = announcements.created_by").
		Scopes(audience.AnnouncementScope(viewer)).
		Order("announcements.created_at DESC").
		Order("announcements.id DESC").
		Limit(queryLimit(c, 100, 500)).
		Scan(&items).Error; err != nil {
		logger.Error("list announcements failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"announcements": items})
}

// GetAnnouncement 返回单条公告；对当前用户不可见时按不存在处理。
func (h *AnnouncementHandler) GetAnnouncement(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid announcement id")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("announcement_id", uint64(id)))

	var announcement database.Announcement
	if err := h.db.WithContext(ctx).First(&announcement, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "announcement not found")
			return
		}
		logger.Error("load announcement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	viewer, err := loadViewer(ctx, h.db, session)
	if err != nil {
		logger.Error("load viewer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !viewer.Sees(announcement) {
		NotFound(c, "announcement not found")
		return
	}

	var author database.Profile
	if err := h.db.WithContext(ctx).Select("id", "full_name").First(&author, announcement.CreatedBy).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("load author failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, newAnnouncementResponse(announcement, author.FullName))
}

type createAnnouncementForm struct {
	Title        string `form:"title" binding:"required,notblank,max=200"`
	Content      string `form:"content" binding:"required,notblank,max=5000"`
	TargetYear   *int   `form:"target_year" binding:"omitempty,gte=1,lte=4"`
	TargetBranch string `form:"target_branch" binding:"max=100"`
}

// CreateAnnouncement 校验表单与附件，上传附件后写入公告并触发通知扇出。
func (h *AnnouncementHandler) CreateAnnouncement(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if !h.uploader.limitBody(c, h.rule) {
		return
	}

	var form createAnnouncementForm
	if err := c.ShouldBind(&form); err != nil {
		formError(c, err, h.rule)
		return
	}

	file, err := c.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		formError(c, err, h.rule)
		return
	}

	var contentType string
	if file != nil {
		if contentType, ok = h.uploader.accept(c, file, h.rule); !ok {
			return
		}
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)
	bucket := h.storage.AnnouncementsBucket()

	announcement := database.Announcement{
		Title:        strings.TrimSpace(form.Title),
		Content:      strings.TrimSpace(form.Content),
		TargetYear:   form.TargetYear,
		TargetBranch: optionalString(form.TargetBranch),
		CreatedBy:    session.UserID,
	}

	if file != nil {
		key := storage.ObjectKey(session.UserID, h.now(), file.Filename)
		if err := h.uploader.put(ctx, bucket, key, file, contentType); err != nil {
			logger.Error("upload attachment failed", slog.Any("error", err))
			Internal(c, "failed to upload attachment")
			return
		}
		announcement.AttachmentKey = key
		announcement.AttachmentURL = h.storage.PublicURL(bucket, key)
		announcement.AttachmentName = file.Filename
	}

	if err := h.db.WithContext(ctx).Create(&announcement).Error; err != nil {
		logger.Error("create announcement failed", slog.Any("error", err))
		if announcement.AttachmentKey != "" {
			h.uploader.discard(ctx, logger, bucket, announcement.AttachmentKey)
		}
		Internal(c, "internal error")
		return
	}

	logger.Info("announcement created", slog.Uint64("announcement_id", uint64(announcement.ID)))
	enqueueFanout(c, h.tasks, tasks.FanoutAnnouncement, announcement.ID, session.UserID)

	c.JSON(http.StatusCreated, newAnnouncementResponse(announcement, ""))
}

// DeleteAnnouncement 在同一事务内删除公告及其附件。
func (h *AnnouncementHandler) DeleteAnnouncement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid announcement id")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("announcement_id", uint64(id)))

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var announcement database.Announcement
		if err := tx.First(&announcement, id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&announcement).Error; err != nil {
			return fmt.Errorf("delete announcement: %w", err)
		}
		return deleteObject(ctx, h.storage, h.storage.AnnouncementsBucket(), announcement.AttachmentKey)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "announcement not found")
		return
	}
	if err != nil {
		logger.Error("delete announcement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("announcement deleted")
	c.Status(http.StatusNoContent)
}

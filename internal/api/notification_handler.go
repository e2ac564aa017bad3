package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"placementPortal/internal/database"
	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
)

const recentNotificationLimit = 5

// NotificationHandler 暴露站内通知的读取与状态变更。
type NotificationHandler struct {
	store *notify.Store
}

// NewNotificationHandler 构造通知处理器。
func NewNotificationHandler(store *notify.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

func notificationItems(rows []database.Notification) []*realtime.Notification {
	items := make([]*realtime.Notification, 0, len(rows))
	for _, n := range rows {
		items = append(items, realtime.FromModel(n))
	}
	return items
}

// ListNotifications 最新的在前，?limit= 最多 200 条。
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	h.list(c, queryLimit(c, 50, 200))
}

// RecentNotifications 返回最近 5 条，供导航栏下拉使用。
func (h *NotificationHandler) RecentNotifications(c *gin.Context) {
	h.list(c, recentNotificationLimit)
}

func (h *NotificationHandler) list(c *gin.Context, limit int) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	rows, err := h.store.List(c.Request.Context(), userID, limit)
	if err != nil {
		loggerFromContext(c).Error("list notifications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notificationItems(rows)})
}

// UnreadCount 返回未读数量。
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	count, err := h.store.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		loggerFromContext(c).Error("count unread notifications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead 标记单条已读。
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid notification id")
		return
	}

	n, err := h.store.MarkRead(c.Request.Context(), userID, id)
	if errors.Is(err, notify.ErrNotificationNotFound) {
		NotFound(c, "notification not found")
		return
	}
	if err != nil {
		loggerFromContext(c).Error("mark notification read failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, realtime.FromModel(n))
}

// MarkAllRead 标记全部已读。
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	updated, err := h.store.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		loggerFromContext(c).Error("mark all notifications read failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// DeleteNotification 删除单条通知。
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid notification id")
		return
	}

	err = h.store.Delete(c.Request.Context(), userID, id)
	if errors.Is(err, notify.ErrNotificationNotFound) {
		NotFound(c, "notification not found")
		return
	}
	if err != nil {
		loggerFromContext(c).Error("delete notification failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"placementPortal/internal/database"
	"placementPortal/internal/realtime"
)

// ErrNotificationNotFound is returned for rows that do not exist or belong to another user.
var ErrNotificationNotFound = errors.New("notification not found")

// EventPublisher pushes realtime events to a user.
type EventPublisher interface {
	Publish(ctx context.Context, userID uint, ev realtime.Event) error
}

// Store 负责站内通知的读写，并在每次变更后推送实时事件。
// 推送失败只记录日志，不影响数据库写入结果。
type Store struct {
	db        *gorm.DB
	publisher EventPublisher
	logger    *slog.Logger
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB, publisher EventPublisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, publisher: publisher, logger: logger}
}

// Create 批量插入通知并逐条推送 INSERT 事件。
func (s *Store) Create(ctx context.Context, rows ...database.Notification) ([]database.Notification, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, 200).Error; err != nil {
		return nil, fmt.Errorf("insert notifications: %w", err)
	}
	for _, n := range rows {
		s.publish(ctx, realtime.OpInsert, n)
	}
	return rows, nil
}

// List returns the newest notifications first; limit <= 0 means 50.
func (s *Store) List(ctx context.Context, userID uint, limit int) ([]database.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []database.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return rows, nil
}

// UnreadCount 统计未读数量。
func (s *Store) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead 标记单条已读。
func (s *Store) MarkRead(ctx context.Context, userID, id uint) (database.Notification, error) {
	var n database.Notification
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return n, ErrNotificationNotFound
		}
		return n, fmt.Errorf("load notification: %w", err)
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.db.WithContext(ctx).Model(&n).Update("is_read", true).Error; err != nil {
		return n, fmt.Errorf("mark notification read: %w", err)
	}
	n.IsRead = true
	s.publish(ctx, realtime.OpUpdate, n)
	return n, nil
}

// MarkAllRead 标记全部已读，返回受影响条数。
func (s *Store) MarkAllRead(ctx context.Context, userID uint) (int, error) {
	var unread []database.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_read = ?", userID, false).
		Find(&unread).Error; err != nil {
		return 0, fmt.Errorf("load unread notifications: %w", err)
	}
	if len(unread) == 0 {
		return 0, nil
	}
	ids := make([]uint, len(unread))
	for i, n := range unread {
		ids[i] = n.ID
	}
	if err := s.db.WithContext(ctx).Model(&database.Notification{}).
		Where("id IN ? AND user_id = ?", ids, userID).
		Update("is_read", true).Error; err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	for _, n := range unread {
		n.IsRead = true
		s.publish(ctx, realtime.OpUpdate, n)
	}
	return len(unread), nil
}

// Delete 删除单条通知。
func (s *Store) Delete(ctx context.Context, userID, id uint) error {
	var n database.Notification
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("load notification: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&n).Error; err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	s.publish(ctx, realtime.OpDelete, n)
	return nil
}

func (s *Store) publish(ctx context.Context, op realtime.Op, n database.Notification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, n.UserID, realtime.NotificationEvent(op, n)); err != nil {
		s.logger.Warn("publish notification event failed",
			slog.Uint64("user_id", uint64(n.UserID)),
			slog.Uint64("notification_id", uint64(n.ID)),
			slog.String("op", string(op)),
			slog.Any("error", err),
		)
	}
}

package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"placementPortal/internal/database"
)

// Status 是视频审核状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	ErrInvalidDecision   = errors.New("decision must be approved or rejected")
	ErrInvalidTransition = errors.New("video has already been reviewed")
	ErrVideoNotFound     = errors.New("video not found")
	// ErrConcurrentReview 表示审核期间状态被其他审核人修改。
	ErrConcurrentReview = errors.New("video status changed during review")
)

// ParseDecision normalizes a reviewer decision.
func ParseDecision(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if s != StatusApproved && s != StatusRejected {
		return "", ErrInvalidDecision
	}
	return s, nil
}

// IsTerminal reports whether a status is a review outcome.
func IsTerminal(s Status) bool {
	return s == StatusApproved || s == StatusRejected
}

// Transition 校验状态迁移：pending 只能进入 approved/rejected；
// 已审核的视频仅在允许复审时可以改判。
func Transition(current, next Status, allowReReview bool) error {
	if !IsTerminal(next) {
		return ErrInvalidDecision
	}
	switch current {
	case StatusPending:
		return nil
	case StatusApproved, StatusRejected:
		if allowReReview {
			return nil
		}
		return ErrInvalidTransition
	default:
		return fmt.Errorf("unknown video status %q", current)
	}
}

// Decision is one reviewer action.
type Decision struct {
	VideoID    uint
	ReviewerID uint
	Status     Status
	Notes      string
}

// Service 持久化审核结果。
type Service struct {
	db            *gorm.DB
	allowReReview bool
	now           func() time.Time
}

// NewService constructs a Service.
func NewService(db *gorm.DB, allowReReview bool) *Service {
	return &Service{db: db, allowReReview: allowReReview, now: time.Now}
}

// Review 写入状态、备注、审核人与审核时间，返回更新后的视频。
// 更新以读取时的状态为条件，避免两个审核人互相覆盖。
func (s *Service) Review(ctx context.Context, d Decision) (database.Video, error) {
	var video database.Video
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&video, d.VideoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVideoNotFound
			}
			return fmt.Errorf("load video: %w", err)
		}
		if err := Transition(Status(video.Status), d.Status, s.allowReReview); err != nil {
			return err
		}

		reviewedAt := s.now().UTC()
		reviewerID := d.ReviewerID
		var notes *string
		if trimmed := strings.TrimSpace(d.Notes); trimmed != "" {
			notes = &trimmed
		}

		res := tx.Model(&database.Video{}).
			Where("id = ? AND status = ?", video.ID, video.Status).
			Updates(map[string]any{
				"status":       string(d.Status),
				"review_notes": notes,
				"reviewed_by":  reviewerID,
				"reviewed_at":  reviewedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update video review: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentReview
		}

		video.Status = string(d.Status)
		video.ReviewNotes = notes
		video.ReviewedBy = &reviewerID
		video.ReviewedAt = &reviewedAt
		return nil
	})
	if err != nil {
		return database.Video{}, err
	}
	return video, nil
}

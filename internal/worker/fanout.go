package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"placementPortal/internal/audience"
	"placementPortal/internal/database"
	"placementPortal/internal/metrics"
	"placementPortal/internal/notify"
	"placementPortal/internal/tasks"
)

// FanoutHandler 为已提交的公告/招聘/审核结果计算接收人，
// 写入站内通知并为每个接收人排队一封邮件。
type FanoutHandler struct {
	db              *gorm.DB
	store           *notify.Store
	enqueuer        Enqueuer
	frontendBaseURL string
	emailMaxRetry   int
	logger          *slog.Logger
}

// NewFanoutHandler constructs a FanoutHandler.
func NewFanoutHandler(db *gorm.DB, store *notify.Store, enqueuer Enqueuer, frontendBaseURL string, emailMaxRetry int, logger *slog.Logger) *FanoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanoutHandler{
		db:              db,
		store:           store,
		enqueuer:        enqueuer,
		frontendBaseURL: strings.TrimRight(strings.TrimSpace(frontendBaseURL), "/"),
		emailMaxRetry:   emailMaxRetry,
		logger:          logger,
	}
}

// message 是一次扇出的内容模板，对每个接收人套用。
type message struct {
	target   audience.Target
	only     uint
	title    string
	body     string
	noteType string
	path     string
	email    notify.Email
}

// ProcessTask 实现 asynq.Handler。
func (h *FanoutHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.NotifyFanoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal fanout payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal fanout payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("kind", string(payload.Kind)),
		slog.Uint64("ref_id", uint64(payload.RefID)),
	)

	msg, err := h.build(ctx, payload)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("fanout source no longer exists, skipping")
			return nil
		}
		log.Error("build fanout message failed", slog.Any("error", err))
		return err
	}

	recipients, err := h.recipients(ctx, msg)
	if err != nil {
		log.Error("resolve recipients failed", slog.Any("error", err))
		return err
	}
	if len(recipients) == 0 {
		log.Info("no recipients for fanout")
		return nil
	}

	var link *string
	if msg.path != "" {
		l := msg.path
		link = &l
	}
	rows := make([]database.Notification, 0, len(recipients))
	for _, r := range recipients {
		rows = append(rows, database.Notification{
			UserID:  r.UserID,
			Title:   msg.title,
			Message: msg.body,
			Type:    msg.noteType,
			Link:    link,
		})
	}
	if _, err := h.store.Create(ctx, rows...); err != nil {
		log.Error("insert notifications failed", slog.Any("error", err))
		return err
	}
	metrics.ObserveFanout(string(payload.Kind), len(recipients))

	queued := 0
	for _, r := range recipients {
		if strings.TrimSpace(r.Email) == "" {
			continue
		}
		email := msg.email
		email.To = r.Email
		email.Data.UserName = r.FullName
		if msg.path != "" && h.frontendBaseURL != "" {
			email.Data.Link = h.frontendBaseURL + msg.path
		}
		task, err := tasks.NewEmailSendTask(email, payload.CorrelationID)
		if err != nil {
			log.Error("build email task failed", slog.Any("error", err))
			continue
		}
		if _, err := h.enqueuer.EnqueueContext(ctx, task, asynq.MaxRetry(h.emailMaxRetry)); err != nil {
			log.Warn("enqueue email failed", slog.String("to", r.Email), slog.Any("error", err))
			continue
		}
		queued++
	}

	log.Info("fanout completed",
		slog.Int("recipients", len(recipients)),
		slog.Int("emails_queued", queued),
	)
	return nil
}

func (h *FanoutHandler) build(ctx context.Context, p tasks.NotifyFanoutPayload) (message, error) {
	db := h.db.WithContext(ctx)
	switch p.Kind {
	case tasks.FanoutAnnouncement:
		var a database.Announcement
		if err := db.First(&a, p.RefID).Error; err != nil {
			return message{}, err
		}
		target := audience.Target{Year: a.TargetYear, ExcludeUserID: a.CreatedBy}
		if a.TargetBranch != nil && strings.TrimSpace(*a.TargetBranch) != "" {
			target.Branches = []string{*a.TargetBranch}
		}
		return message{
			target:   target,
			title:    "New Announcement",
			body:     a.Title,
			noteType: string(notify.KindAnnouncement),
			path:     "/announcements",
			email: notify.Email{
				Kind:    notify.KindAnnouncement,
				Subject: notify.AnnouncementSubject(a.Title),
				Data:    notify.EmailData{Title: a.Title, Content: a.Content},
			},
		}, nil

	case tasks.FanoutPlacement:
		var pl database.Placement
		if err := db.First(&pl, p.RefID).Error; err != nil {
			return message{}, err
		}
		return message{
			target:   audience.Target{Year: pl.TargetYear, Branches: pl.TargetBranches, ExcludeUserID: pl.CreatedBy},
			title:    "New Placement Opportunity",
			body:     fmt.Sprintf("%s is hiring for %s", pl.CompanyName, pl.Role),
			noteType: string(notify.KindPlacement),
			path:     "/placements",
			email: notify.Email{
				Kind:    notify.KindPlacement,
				Subject: notify.PlacementSubject(pl.CompanyName),
				Data:    notify.EmailData{Company: pl.CompanyName, Title: pl.Role, Content: pl.Description},
			},
		}, nil

	case tasks.FanoutVideoReview:
		var v database.Video
		if err := db.First(&v, p.RefID).Error; err != nil {
			return message{}, err
		}
		notes := ""
		if v.ReviewNotes != nil {
			notes = *v.ReviewNotes
		}
		body := fmt.Sprintf("Your video %q was %s", v.Title, v.Status)
		if notes != "" {
			body += ": " + notes
		}
		return message{
			only:     v.UserID,
			title:    "Video " + v.Status,
			body:     body,
			noteType: string(notify.KindVideoReview),
			path:     "/videos",
			email: notify.Email{
				Kind:    notify.KindVideoReview,
				Subject: notify.VideoReviewSubject(v.Status),
				Data:    notify.EmailData{Title: v.Title, Status: v.Status, ReviewNotes: notes},
			},
		}, nil

	default:
		return message{}, fmt.Errorf("unknown fanout kind %q: %w", p.Kind, asynq.SkipRetry)
	}
}

func (h *FanoutHandler) recipients(ctx context.Context, msg message) ([]audience.Recipient, error) {
	if msg.only == 0 {
		return audience.Recipients(ctx, h.db, msg.target)
	}
	var owner database.Profile
	err := h.db.WithContext(ctx).Select("id", "email", "full_name").First(&owner, msg.only).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load video owner: %w", err)
	}
	return []audience.Recipient{{UserID: owner.ID, Email: owner.Email, FullName: owner.FullName}}, nil
}

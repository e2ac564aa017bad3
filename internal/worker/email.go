package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"placementPortal/internal/metrics"
	"placementPortal/internal/notify"
	"placementPortal/internal/tasks"
)

// EmailHandler 发送单封通知邮件。失败交给 asynq 重试，
// 最后一次失败只记录日志，不影响原业务操作。
type EmailHandler struct {
	sender notify.Sender
	logger *slog.Logger
}

// NewEmailHandler constructs an EmailHandler.
func NewEmailHandler(sender notify.Sender, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{sender: sender, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.EmailSendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal email payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal email payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("kind", string(payload.Email.Kind)),
		slog.String("to", payload.Email.To),
	)
	if payload.Email.To == "" {
		log.Warn("email has no recipient, dropping")
		return nil
	}

	if err := h.sender.Send(ctx, payload.Email); err != nil {
		metrics.ObserveEmail(string(payload.Email.Kind), "failed")
		if isFinalAsynqAttempt(ctx) {
			log.Error("email delivery failed, giving up", slog.Any("error", err))
		} else {
			log.Warn("email delivery failed, will retry", slog.Any("error", err))
		}
		return err
	}
	metrics.ObserveEmail(string(payload.Email.Kind), "sent")
	log.Info("email sent")
	return nil
}

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

	"placementPortal/internal/ats"
	"placementPortal/internal/database"
	"placementPortal/internal/errcode"
	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
	"placementPortal/internal/tasks"
)

// ATSHandler 调用分析服务为简历打分，并把结果写回 resumes 表。
type ATSHandler struct {
	db        *gorm.DB
	analyzer  ats.Analyzer
	store     *notify.Store
	publisher notify.EventPublisher
	logger    *slog.Logger
}

// NewATSHandler constructs an ATSHandler.
func NewATSHandler(db *gorm.DB, analyzer ats.Analyzer, store *notify.Store, publisher notify.EventPublisher, logger *slog.Logger) *ATSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ATSHandler{db: db, analyzer: analyzer, store: store, publisher: publisher, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *ATSHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.ResumeAnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal analyze payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal analyze payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("resume_id", uint64(payload.ResumeID)),
		slog.Uint64("user_id", uint64(payload.UserID)),
	)

	var resume database.Resume
	if err := h.db.WithContext(ctx).Where("id = ? AND user_id = ?", payload.ResumeID, payload.UserID).
		First(&resume).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found, skipping analysis")
			return nil
		}
		log.Error("query resume failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		code := errcode.SystemError
		if errors.Is(retErr, ats.ErrNotConfigured) {
			code = errcode.NotConfigured
		} else if !isFinalAsynqAttempt(ctx) {
			return
		}
		result := AnalysisResult{
			Status:       statusError,
			ResumeID:     resume.ID,
			ErrorCode:    code,
			ErrorMessage: strings.TrimSpace(retErr.Error()),
		}
		if err := publishResult(ctx, h.publisher, resume.UserID, realtime.TypeResumeAnalysis, payload.CorrelationID, result); err != nil {
			log.Error("publish analysis error failed", slog.Any("error", err))
		}
	}()

	res, err := h.analyzer.Analyze(ctx, payload.ResumeText)
	if err != nil {
		if errors.Is(err, ats.ErrNotConfigured) {
			log.Warn("ats analyzer not configured")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("ats analysis failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).Model(&resume).Updates(map[string]any{
		"ats_score":    res.Score,
		"ats_feedback": res.Feedback,
	}).Error; err != nil {
		log.Error("update resume score failed", slog.Any("error", err))
		return err
	}

	link := "/resume"
	if _, err := h.store.Create(ctx, database.Notification{
		UserID:  resume.UserID,
		Title:   "Resume analysis complete",
		Message: fmt.Sprintf("%s scored %d/100", resume.FileName, res.Score),
		Type:    string(notify.KindGeneral),
		Link:    &link,
	}); err != nil {
		log.Warn("insert analysis notification failed", slog.Any("error", err))
	}

	result := AnalysisResult{
		Status:    statusCompleted,
		ResumeID:  resume.ID,
		Score:     res.Score,
		Feedback:  res.Feedback,
		ErrorCode: errcode.OK,
	}
	if res.Fallback {
		result.ErrorCode = errcode.AnalysisFallback
		result.ErrorMessage = "analyzer reply was not structured; score extracted from text"
	}
	if err := publishResult(ctx, h.publisher, resume.UserID, realtime.TypeResumeAnalysis, payload.CorrelationID, result); err != nil {
		log.Warn("publish analysis result failed", slog.Any("error", err))
	}

	log.Info("resume analysis completed", slog.Int("score", res.Score), slog.Bool("fallback", res.Fallback))
	return nil
}

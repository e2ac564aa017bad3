package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"placementPortal/internal/analytics"
	"placementPortal/internal/errcode"
	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
	"placementPortal/internal/tasks"
)

// reportLinkTTL 是报告下载链接的有效期。
const reportLinkTTL = 24 * time.Hour

// PDFRenderer 把 HTML 渲染为 PDF，生产环境由 pdf.Renderer 实现。
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ReportStorage 是报告上传所需的对象存储操作。
type ReportStorage interface {
	ResumesBucket() string
	UploadFile(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, bucket, objectKey string, duration time.Duration) (string, error)
}

// ReportHandler 负责消费统计报告生成任务。
type ReportHandler struct {
	db        *gorm.DB
	renderer  PDFRenderer
	storage   ReportStorage
	publisher notify.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewReportHandler 创建任务处理器。
func NewReportHandler(db *gorm.DB, renderer PDFRenderer, storage ReportStorage, publisher notify.EventPublisher, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{
		db:        db,
		renderer:  renderer,
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ReportHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.AnalyticsReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal report payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal report payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("user_id", uint64(payload.RequestedBy)),
	)
	log.Info("Starting analytics report generation...")

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		result := ReportResult{
			Status:       statusError,
			ErrorCode:    errcode.SystemError,
			ErrorMessage: strings.TrimSpace(retErr.Error()),
		}
		if err := publishResult(ctx, h.publisher, payload.RequestedBy, realtime.TypeAnalyticsReport, payload.CorrelationID, result); err != nil {
			log.Error("publish report error failed", slog.Any("error", err))
		}
	}()

	summary, err := analytics.Compute(ctx, h.db, h.now())
	if err != nil {
		log.Error("compute analytics failed", slog.Any("error", err))
		return err
	}
	html, err := renderReportHTML(summary)
	if err != nil {
		log.Error("render report html failed", slog.Any("error", err))
		return err
	}
	pdfBytes, err := h.renderer.RenderPDF(ctx, html)
	if err != nil {
		log.Error("render report pdf failed", slog.Any("error", err))
		return err
	}

	bucket := h.storage.ResumesBucket()
	objectName := fmt.Sprintf("reports/%d/%s.pdf", payload.RequestedBy, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, bucket, objectName, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload report failed", slog.Any("error", err))
		return err
	}
	url, err := h.storage.GeneratePresignedURL(ctx, bucket, objectName, reportLinkTTL)
	if err != nil {
		log.Error("presign report failed", slog.Any("error", err))
		return err
	}

	result := ReportResult{
		Status:    statusCompleted,
		URL:       url,
		ObjectKey: objectName,
		ErrorCode: errcode.OK,
	}
	if err := publishResult(ctx, h.publisher, payload.RequestedBy, realtime.TypeAnalyticsReport, payload.CorrelationID, result); err != nil {
		log.Error("publish report result failed", slog.Any("error", err))
		return err
	}

	log.Info("Analytics report generated.", slog.String("object", objectName), slog.Int("bytes", len(pdfBytes)))
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"placementPortal/internal/notify"
	"placementPortal/internal/realtime"
)

// Enqueuer 是 asynq.Client 的子集，便于测试替换。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AnalysisResult 是 resume_analysis 事件的 payload，字段名与前端解析保持一致。
type AnalysisResult struct {
	Status       string `json:"status"`
	ResumeID     uint   `json:"resume_id"`
	Score        int    `json:"score,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ReportResult 是 analytics_report 事件的 payload。
type ReportResult struct {
	Status       string `json:"status"`
	URL          string `json:"url,omitempty"`
	ObjectKey    string `json:"object_key,omitempty"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const (
	statusCompleted = "completed"
	statusError     = "error"
)

func publishResult(ctx context.Context, publisher notify.EventPublisher, userID uint, eventType, correlationID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return publisher.Publish(ctx, userID, realtime.Event{
		Type:          eventType,
		Payload:       data,
		CorrelationID: correlationID,
	})
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

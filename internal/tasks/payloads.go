package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"placementPortal/internal/notify"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNotifyFanout    = "notify:fanout"
	TypeEmailSend       = "email:send"
	TypeResumeAnalyze   = "resume:analyze"
	TypeAnalyticsReport = "analytics:report"
)

// FanoutKind 标识触发通知扇出的事件。
type FanoutKind string

const (
	FanoutAnnouncement FanoutKind = "announcement"
	FanoutPlacement    FanoutKind = "placement"
	FanoutVideoReview  FanoutKind = "video_review"
)

// NotifyFanoutPayload 引用已提交的业务记录，由 worker 计算接收人。
type NotifyFanoutPayload struct {
	Kind          FanoutKind `json:"kind"`
	RefID         uint       `json:"ref_id"`
	ActorID       uint       `json:"actor_id"`
	CorrelationID string     `json:"correlation_id"`
}

// NewNotifyFanoutTask builds a fan-out task.
func NewNotifyFanoutTask(kind FanoutKind, refID, actorID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotifyFanoutPayload{
		Kind:          kind,
		RefID:         refID,
		ActorID:       actorID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotifyFanout, payload), nil
}

// EmailSendPayload 是单封邮件的发送任务。
type EmailSendPayload struct {
	Email         notify.Email `json:"email"`
	CorrelationID string       `json:"correlation_id"`
}

// NewEmailSendTask builds an email task.
func NewEmailSendTask(email notify.Email, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailSendPayload{Email: email, CorrelationID: correlationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailSend, payload), nil
}

// ResumeAnalyzePayload 携带客户端提取的简历文本。
type ResumeAnalyzePayload struct {
	ResumeID      uint   `json:"resume_id"`
	UserID        uint   `json:"user_id"`
	ResumeText    string `json:"resume_text"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeAnalyzeTask builds an ATS analysis task.
func NewResumeAnalyzeTask(resumeID, userID uint, text, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeAnalyzePayload{
		ResumeID:      resumeID,
		UserID:        userID,
		ResumeText:    text,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeAnalyze, payload), nil
}

// AnalyticsReportPayload 请求生成一份 PDF 统计报告。
type AnalyticsReportPayload struct {
	RequestedBy   uint   `json:"requested_by"`
	CorrelationID string `json:"correlation_id"`
}

// NewAnalyticsReportTask builds a report task.
func NewAnalyticsReportTask(requestedBy uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalyticsReportPayload{RequestedBy: requestedBy, CorrelationID: correlationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAnalyticsReport, payload), nil
}

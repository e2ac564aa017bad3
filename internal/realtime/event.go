// Package realtime delivers per-user change events over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"placementPortal/internal/database"
)

// Op 是通知表的变更类型。
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event types carried on the user channel.
const (
	TypeNotification    = "notification"
	TypeResumeAnalysis  = "resume_analysis"
	TypeAnalyticsReport = "analytics_report"
)

// Event 是推送到前端的统一消息；字段名与前端解析保持一致。
type Event struct {
	Type          string          `json:"type"`
	Op            Op              `json:"event,omitempty"`
	Notification  *Notification   `json:"notification,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`

	raw []byte
}

// Raw returns the payload exactly as received from Redis.
func (e Event) Raw() []byte { return e.raw }

// Notification is the wire form of a notifications row.
type Notification struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Link      *string   `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// FromModel converts a notifications row.
func FromModel(n database.Notification) *Notification {
	return &Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

// NotificationEvent builds a change event for one row.
func NotificationEvent(op Op, n database.Notification) Event {
	return Event{Type: TypeNotification, Op: op, Notification: FromModel(n)}
}

// Channel 返回用户的 Redis 频道名。
func Channel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// Publisher 把事件发布到用户频道。
type Publisher struct {
	client redis.UniversalClient
}

// NewPublisher constructs a Publisher.
func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish 序列化事件并发布。
func (p *Publisher) Publish(ctx context.Context, userID uint, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	channel := Channel(userID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	return nil
}

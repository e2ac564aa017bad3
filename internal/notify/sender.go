package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Sender delivers one rendered email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// NewSender 在未配置 API Key 时退化为只记录日志的实现。
func NewSender(apiKey, fromName, fromAddress string, logger *slog.Logger) Sender {
	if apiKey == "" {
		return &LogSender{logger: logger}
	}
	return &SendGridSender{
		key:    apiKey,
		from:   sgmail.NewEmail(fromName, fromAddress),
		logger: logger,
	}
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	key    string
	from   *sgmail.Email
	logger *slog.Logger
}

func (s *SendGridSender) prepare(e Email, html string) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = e.Subject
	p.AddTos(sgmail.NewEmail(e.Data.UserName, e.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", html))
	return m
}

// Send 渲染并发送；HTTP 4xx/5xx 作为错误返回，由任务层决定是否重试。
func (s *SendGridSender) Send(_ context.Context, e Email) error {
	html, err := Render(e)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(e, html))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// LogSender renders the email and logs it instead of sending.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, e Email) error {
	html, err := Render(e)
	if err != nil {
		return err
	}
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email delivery disabled, logging message",
		slog.String("to", e.To),
		slog.String("kind", string(e.Kind)),
		slog.String("subject", e.Subject),
		slog.Int("html_bytes", len(html)),
	)
	return nil
}

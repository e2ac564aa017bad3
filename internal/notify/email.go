// Package notify renders and delivers notification emails and manages in-app notifications.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Kind 是邮件模板类型。
type Kind string

const (
	KindPlacement    Kind = "placement"
	KindAnnouncement Kind = "announcement"
	KindVideoReview  Kind = "video_review"
	KindGeneral      Kind = "general"
)

// Email 是一封待发送的通知邮件。
type Email struct {
	Kind    Kind      `json:"kind"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Data    EmailData `json:"data"`
}

// EmailData carries template fields; unused fields stay empty.
type EmailData struct {
	UserName    string `json:"user_name,omitempty"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Status      string `json:"status,omitempty"`
	ReviewNotes string `json:"review_notes,omitempty"`
	Content     string `json:"content,omitempty"`
	Link        string `json:"link,omitempty"`
}

// AnnouncementSubject etc. build the subject lines used for each trigger.
func AnnouncementSubject(title string) string { return "New Announcement: " + title }

func PlacementSubject(company string) string { return "New Placement Opportunity: " + company }

func VideoReviewSubject(status string) string {
	if status == "approved" {
		return "Your Video Has Been Approved"
	}
	return "Your Video Has Been Rejected"
}

const layoutHead = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`

const layoutFoot = `<p style="color: #6b7280; font-size: 14px; margin-top: 30px;">Best regards,<br>College Placement Portal Team</p></div>`

const buttonStyle = `background: #3b82f6; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;`

var templates = template.Must(template.New("email").Funcs(template.FuncMap{
	"statusColor": func(status string) string {
		if status == "approved" {
			return "#10b981"
		}
		return "#ef4444"
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).Parse(`
{{define "placement"}}` + layoutHead + `
<h1 style="color: #3b82f6;">New Placement Opportunity</h1>
<p>Hello {{.UserName}},</p>
<p>A new placement opportunity has been posted:</p>
<div style="background: #f3f4f6; padding: 20px; border-radius: 8px; margin: 20px 0;">
<h2 style="margin-top: 0;">{{.Company}}</h2>
<p><strong>Role:</strong> {{.Title}}</p>
</div>
{{if .Link}}<p><a href="{{.Link}}" style="` + buttonStyle + `">View Details</a></p>{{end}}
` + layoutFoot + `{{end}}
{{define "announcement"}}` + layoutHead + `
<h1 style="color: #3b82f6;">New Announcement</h1>
<p>Hello {{.UserName}},</p>
<p>A new announcement has been posted:</p>
<div style="background: #f3f4f6; padding: 20px; border-radius: 8px; margin: 20px 0;">
<h2 style="margin-top: 0;">{{.Title}}</h2>
<p>{{.Content}}</p>
</div>
{{if .Link}}<p><a href="{{.Link}}" style="` + buttonStyle + `">View Announcement</a></p>{{end}}
` + layoutFoot + `{{end}}
{{define "video_review"}}` + layoutHead + `
<h1 style="color: {{statusColor .Status}};">Video {{title .Status}}</h1>
<p>Hello {{.UserName}},</p>
<p>Your video submission "{{.Title}}" has been reviewed.</p>
<div style="background: #f3f4f6; padding: 20px; border-radius: 8px; margin: 20px 0;">
<p><strong>Status:</strong> <span style="color: {{statusColor .Status}};">{{.Status}}</span></p>
{{if .ReviewNotes}}<p><strong>Review Notes:</strong><br>{{.ReviewNotes}}</p>{{end}}
</div>
{{if .Link}}<p><a href="{{.Link}}" style="` + buttonStyle + `">View Your Videos</a></p>{{end}}
` + layoutFoot + `{{end}}
{{define "general"}}` + layoutHead + `
<h1 style="color: #3b82f6;">{{if .Title}}{{.Title}}{{else}}Notification{{end}}</h1>
<p>Hello {{.UserName}},</p>
<p>{{.Content}}</p>
{{if .Link}}<p><a href="{{.Link}}" style="` + buttonStyle + `">View Details</a></p>{{end}}
` + layoutFoot + `{{end}}
`))

// Render 渲染 HTML 正文；未知类型按 general 处理。
func Render(e Email) (string, error) {
	name := string(e.Kind)
	if templates.Lookup(name) == nil {
		name = string(KindGeneral)
	}
	data := e.Data
	if strings.TrimSpace(data.UserName) == "" {
		data.UserName = "there"
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

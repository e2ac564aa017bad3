// Package ats scores resumes through an OpenAI-compatible chat completions API.
package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = `You are an ATS (Applicant Tracking System) analyzer. Analyze resumes and provide:
1. A score from 0-100 based on ATS compatibility
2. Specific, actionable feedback on how to improve the resume

Consider:
- Use of keywords and industry-specific terms
- Clear formatting and structure
- Quantifiable achievements
- Action verbs
- Professional summary
- Skills section
- Education and experience relevance

Respond in JSON format with two fields: "score" (number) and "feedback" (string with detailed suggestions).`

// maxResumeChars 截断过长文本，避免超出模型上下文。
const maxResumeChars = 20000

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ats analyzer is not configured")

// Analyzer scores resume text.
type Analyzer interface {
	Analyze(ctx context.Context, resumeText string) (Result, error)
}

// Client 调用 chat/completions 接口。
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a Client. baseURL is e.g. https://api.openai.com/v1.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze 发送简历文本并解析回复。
func (c *Client) Analyze(ctx context.Context, resumeText string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	text := strings.TrimSpace(resumeText)
	if text == "" {
		return Result{}, errors.New("resume text is empty")
	}
	if len(text) > maxResumeChars {
		text = text[:maxResumeChars]
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Analyze this resume and provide ATS score and feedback:\n\n" + text},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call chat completions: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, errors.New("chat completions returned no choices")
	}
	return Parse(parsed.Choices[0].Message.Content), nil
}

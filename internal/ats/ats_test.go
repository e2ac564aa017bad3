package ats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name         string
		content      string
		wantScore    int
		wantFeedback string
		wantFallback bool
	}{
		{"json", `{"score": 82, "feedback": "Add metrics"}`, 82, "Add metrics", false},
		{"fenced json", "```json\n{\"score\": 64.6, \"feedback\": \"ok\"}\n```", 65, "ok", false},
		{"feedback list", `{"score": 70, "feedback": ["a", "b"]}`, 70, "- a\n- b", false},
		{"clamped", `{"score": 140, "feedback": "x"}`, 100, "x", false},
		{"regex", "Overall SCORE: 58. Improve formatting.", 58, "Overall SCORE: 58. Improve formatting.", true},
		{"quoted regex", `The "score": 91 looks great`, 91, `The "score": 91 looks great`, true},
		{"default", "Looks fine to me.", DefaultScore, "Looks fine to me.", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.content)
			if got.Score != tc.wantScore || got.Feedback != tc.wantFeedback || got.Fallback != tc.wantFallback {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestClientAnalyze(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"score\": 77, \"feedback\": \"Quantify impact\"}"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/", "secret", "test-model", time.Second)
	res, err := client.Analyze(context.Background(), "Jane Doe, Go developer")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Score != 77 || res.Feedback != "Quantify impact" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Model != "test-model" || len(gotReq.Messages) != 2 || !strings.Contains(gotReq.Messages[1].Content, "Jane Doe") {
		t.Fatalf("unexpected request %+v", gotReq)
	}
}

func TestClientAnalyzeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "k", "m", time.Second).Analyze(context.Background(), "text"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error got %v", err)
	}
	if _, err := NewClient(srv.URL, "", "m", time.Second).Analyze(context.Background(), "text"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured got %v", err)
	}
}

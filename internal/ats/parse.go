package ats

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// DefaultScore 在回复中找不到分数时使用。
const DefaultScore = 75

var scorePattern = regexp.MustCompile(`(?i)score["\s:]+(\d+)`)

// Result 是一次 ATS 分析的结果。
type Result struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	// Fallback 表示回复不是合法 JSON，分数由正则提取或取默认值。
	Fallback bool `json:"-"`
}

type structuredReply struct {
	Score    *json.Number `json:"score"`
	Feedback any          `json:"feedback"`
}

// Parse 优先按 JSON {score, feedback} 解析模型回复（允许 ``` 代码块包裹），
// 失败时用正则提取分数，整段回复作为反馈。
func Parse(content string) Result {
	trimmed := stripFence(strings.TrimSpace(content))

	var reply structuredReply
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&reply); err == nil && reply.Score != nil {
		if score, ok := numberToScore(*reply.Score); ok {
			return Result{Score: clamp(score), Feedback: feedbackText(reply.Feedback)}
		}
	}

	score := DefaultScore
	if m := scorePattern.FindStringSubmatch(content); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			score = v
		}
	}
	return Result{Score: clamp(score), Feedback: content, Fallback: true}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func numberToScore(n json.Number) (int, bool) {
	if v, err := n.Int64(); err == nil {
		return int(v), true
	}
	if f, err := n.Float64(); err == nil {
		return int(f + 0.5), true
	}
	return 0, false
}

// feedbackText 兼容模型把 feedback 返回为字符串数组的情况。
func feedbackText(v any) string {
	switch f := v.(type) {
	case string:
		return f
	case []any:
		parts := make([]string, 0, len(f))
		for _, item := range f {
			if s, ok := item.(string); ok {
				parts = append(parts, "- "+s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package worker

import (
	"bytes"
	"fmt"
	"html/template"

	"placementPortal/internal/analytics"
)

// reportTemplate 是统计报告的 HTML 模板，由 Chromium 打印为 A4 PDF。
var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(part, total int64) string {
		if total <= 0 {
			return "0%"
		}
		return fmt.Sprintf("%.0f%%", float64(part)/float64(total)*100)
	},
	"dict": func(kv ...any) (map[string]any, error) {
		if len(kv)%2 != 0 {
			return nil, fmt.Errorf("dict expects key/value pairs")
		}
		m := make(map[string]any, len(kv)/2)
		for i := 0; i < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				return nil, fmt.Errorf("dict key %v is not a string", kv[i])
			}
			m[key] = kv[i+1]
		}
		return m, nil
	},
	"sum": func(buckets []analytics.Bucket) int64 {
		var n int64
		for _, b := range buckets {
			n += b.Count
		}
		return n
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
  @page { size: A4; margin: 18mm; }
  body { font-family: Arial, sans-serif; color: #1f2937; font-size: 11pt; }
  h1 { font-size: 20pt; margin: 0 0 4px; }
  h2 { font-size: 13pt; margin: 22px 0 8px; border-bottom: 1px solid #e5e7eb; padding-bottom: 4px; }
  .muted { color: #6b7280; font-size: 9pt; }
  .cards { display: grid; grid-template-columns: repeat(4, 1fr); gap: 8px; margin-top: 14px; }
  .card { border: 1px solid #e5e7eb; border-radius: 6px; padding: 8px; }
  .card .value { font-size: 16pt; font-weight: bold; }
  table { width: 100%; border-collapse: collapse; }
  td, th { text-align: left; padding: 4px 6px; border-bottom: 1px solid #f3f4f6; }
  th { background: #f9fafb; }
  td.num { text-align: right; }
</style>
</head>
<body>
  <h1>Placement Analytics Report</h1>
  <div class="muted">Generated {{.GeneratedAt.Format "02 Jan 2006 15:04 MST"}}</div>

  <div class="cards">
    <div class="card"><div class="muted">Students</div><div class="value">{{.Totals.Students}}</div></div>
    <div class="card"><div class="muted">Placements</div><div class="value">{{.Totals.Placements}}</div></div>
    <div class="card"><div class="muted">Announcements</div><div class="value">{{.Totals.Announcements}}</div></div>
    <div class="card"><div class="muted">Placement rate</div><div class="value">{{.Totals.PlacementRate}}%</div></div>
    <div class="card"><div class="muted">Pending videos</div><div class="value">{{.Totals.PendingVideos}}</div></div>
    <div class="card"><div class="muted">Approved videos</div><div class="value">{{.Totals.ApprovedVideos}}</div></div>
    <div class="card"><div class="muted">Average ATS score</div><div class="value">{{.Totals.AvgATSScore}}</div></div>
  </div>

  {{template "buckets" dict "Title" "Top companies" "Header" "Company" "Rows" .PlacementsByCompany}}
  {{template "buckets" dict "Title" "Students by year" "Header" "Year" "Rows" .StudentsByYear}}
  {{template "buckets" dict "Title" "Students by branch" "Header" "Branch" "Rows" .StudentsByBranch}}
  {{template "buckets" dict "Title" "Video status" "Header" "Status" "Rows" .VideoStatus}}
</body>
</html>
{{define "buckets"}}
  <h2>{{.Title}}</h2>
  {{if .Rows}}
  <table>
    <tr><th>{{.Header}}</th><th>Count</th><th>Share</th></tr>
    {{$total := sum .Rows}}
    {{range .Rows}}<tr><td>{{.Name}}</td><td class="num">{{.Count}}</td><td class="num">{{pct .Count $total}}</td></tr>{{end}}
  </table>
  {{else}}
  <div class="muted">No data</div>
  {{end}}
{{end}}`))

// renderReportHTML 把统计结果渲染为报告 HTML。
func renderReportHTML(s analytics.Summary) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}

// Package analytics 汇总平台统计数据，供分析页、仪表盘和导出使用。
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"placementPortal/internal/database"
	"placementPortal/internal/review"
	"placementPortal/internal/roles"
)

const topCompanyLimit = 5

// Bucket 是一个分组计数。
type Bucket struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Totals 是分析页顶部的汇总数字。
type Totals struct {
	Students       int64 `json:"total_students"`
	Placements     int64 `json:"total_placements"`
	Announcements  int64 `json:"total_announcements"`
	PendingVideos  int64 `json:"pending_videos"`
	ApprovedVideos int64 `json:"approved_videos"`
	AvgATSScore    int   `json:"avg_ats_score"`
	PlacementRate  int   `json:"placement_rate"`
}

// Summary is the full analytics payload.
type Summary struct {
	Totals              Totals    `json:"totals"`
	PlacementsByCompany []Bucket  `json:"placements_by_company"`
	StudentsByYear      []Bucket  `json:"students_by_year"`
	StudentsByBranch    []Bucket  `json:"students_by_branch"`
	VideoStatus         []Bucket  `json:"video_status"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// Compute 从数据库计算完整的统计结果。学生指持有 student 角色的档案。
func Compute(ctx context.Context, db *gorm.DB, now time.Time) (Summary, error) {
	db = db.WithContext(ctx)
	var s Summary
	s.GeneratedAt = now.UTC()

	if err := db.Model(&database.Profile{}).Where("id IN (?)", studentIDs(db)).Count(&s.Totals.Students).Error; err != nil {
		return Summary{}, fmt.Errorf("count students: %w", err)
	}
	if err := db.Model(&database.Placement{}).Count(&s.Totals.Placements).Error; err != nil {
		return Summary{}, fmt.Errorf("count placements: %w", err)
	}
	if err := db.Model(&database.Announcement{}).Count(&s.Totals.Announcements).Error; err != nil {
		return Summary{}, fmt.Errorf("count announcements: %w", err)
	}

	videoStatus, err := videoStatusCounts(db)
	if err != nil {
		return Summary{}, err
	}
	s.Totals.PendingVideos = videoStatus[review.StatusPending]
	s.Totals.ApprovedVideos = videoStatus[review.StatusApproved]
	for _, status := range []review.Status{review.StatusPending, review.StatusApproved, review.StatusRejected} {
		if n := videoStatus[status]; n > 0 {
			s.VideoStatus = append(s.VideoStatus, Bucket{Name: statusLabel(status), Count: n})
		}
	}

	if s.Totals.AvgATSScore, err = averageATS(db); err != nil {
		return Summary{}, err
	}
	s.Totals.PlacementRate = PlacementRate(s.Totals.Placements, s.Totals.Students)

	if err := db.Model(&database.Placement{}).
		Select("company_name AS name, COUNT(*) AS count").
		Group("company_name").
		Order("count DESC, company_name").
		Limit(topCompanyLimit).
		Scan(&s.PlacementsByCompany).Error; err != nil {
		return Summary{}, fmt.Errorf("group placements by company: %w", err)
	}

	if s.StudentsByYear, err = studentsByYear(db); err != nil {
		return Summary{}, err
	}
	if s.StudentsByBranch, err = studentsByBranch(db); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// PlacementRate 返回 placements/students*100 四舍五入，学生为 0 时返回 0。
func PlacementRate(placements, students int64) int {
	if students <= 0 {
		return 0
	}
	return int(math.Round(float64(placements) / float64(students) * 100))
}

func studentIDs(db *gorm.DB) *gorm.DB {
	return db.Model(&database.UserRole{}).Select("user_id").Where("role = ?", string(roles.Student))
}

func videoStatusCounts(db *gorm.DB) (map[review.Status]int64, error) {
	var rows []Bucket
	if err := db.Model(&database.Video{}).
		Select("status AS name, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group videos by status: %w", err)
	}
	out := make(map[review.Status]int64, len(rows))
	for _, row := range rows {
		out[review.Status(row.Name)] = row.Count
	}
	return out, nil
}

// averageATS 未评分的简历按 0 计入平均值。
func averageATS(db *gorm.DB) (int, error) {
	var agg struct {
		Total    int64
		ScoreSum float64
	}
	if err := db.Model(&database.Resume{}).
		Select("COUNT(*) AS total, COALESCE(SUM(ats_score), 0) AS score_sum").
		Scan(&agg).Error; err != nil {
		return 0, fmt.Errorf("average ats score: %w", err)
	}
	if agg.Total == 0 {
		return 0, nil
	}
	return int(math.Round(agg.ScoreSum / float64(agg.Total))), nil
}

func studentsByYear(db *gorm.DB) ([]Bucket, error) {
	var rows []struct {
		Year  *int
		Count int64
	}
	if err := db.Model(&database.Profile{}).
		Select("year, COUNT(*) AS count").
		Where("id IN (?)", studentIDs(db)).
		Group("year").
		Order("year").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group students by year: %w", err)
	}
	out := make([]Bucket, 0, len(rows))
	var unknown int64
	for _, row := range rows {
		if row.Year == nil {
			unknown += row.Count
			continue
		}
		out = append(out, Bucket{Name: fmt.Sprintf("Year %d", *row.Year), Count: row.Count})
	}
	if unknown > 0 {
		out = append(out, Bucket{Name: "Year Unknown", Count: unknown})
	}
	return out, nil
}

func studentsByBranch(db *gorm.DB) ([]Bucket, error) {
	var rows []struct {
		Branch *string
		Count  int64
	}
	if err := db.Model(&database.Profile{}).
		Select("branch, COUNT(*) AS count").
		Where("id IN (?)", studentIDs(db)).
		Group("branch").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group students by branch: %w", err)
	}
	merged := make(map[string]int64, len(rows))
	for _, row := range rows {
		name := "Unknown"
		if row.Branch != nil && strings.TrimSpace(*row.Branch) != "" {
			name = strings.TrimSpace(*row.Branch)
		}
		merged[name] += row.Count
	}
	out := make([]Bucket, 0, len(merged))
	for name, count := range merged {
		out = append(out, Bucket{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func statusLabel(s review.Status) string {
	switch s {
	case review.StatusPending:
		return "Pending"
	case review.StatusApproved:
		return "Approved"
	case review.StatusRejected:
		return "Rejected"
	default:
		return string(s)
	}
}

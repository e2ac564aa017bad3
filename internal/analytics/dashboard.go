package analytics

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"placementPortal/internal/audience"
	"placementPortal/internal/database"
	"placementPortal/internal/review"
	"placementPortal/internal/roles"
)

const (
	recentLimit       = 3
	pendingVideoLimit = 5
)

// AnnouncementItem 是仪表盘上的公告摘要。
type AnnouncementItem struct {
	ID         uint      `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// PlacementItem 是仪表盘上的招聘摘要。
type PlacementItem struct {
	ID          uint       `json:"id"`
	CompanyName string     `json:"company_name"`
	Role        string     `json:"role"`
	Package     string     `json:"package"`
	Deadline    *time.Time `json:"deadline"`
	CreatedAt   time.Time  `json:"created_at"`
}

// VideoItem is a pending video awaiting review.
type VideoItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	OwnerName string    `json:"owner_name"`
	CreatedAt time.Time `json:"created_at"`
}

// StudentStats 学生仪表盘计数。
type StudentStats struct {
	Announcements       int64 `json:"announcements"`
	Placements          int64 `json:"placements"`
	Resumes             int64 `json:"resumes"`
	Videos              int64 `json:"videos"`
	UnreadNotifications int64 `json:"unread_notifications"`
}

// StudentDashboard is the dashboard for non-privileged users.
type StudentDashboard struct {
	Stats               StudentStats       `json:"stats"`
	RecentAnnouncements []AnnouncementItem `json:"recent_announcements"`
	RecentPlacements    []PlacementItem    `json:"recent_placements"`
}

// StaffStats 特权角色仪表盘计数。
type StaffStats struct {
	Users         int64 `json:"total_users"`
	Students      int64 `json:"total_students"`
	Announcements int64 `json:"announcements"`
	Placements    int64 `json:"placements"`
	Videos        int64 `json:"videos"`
	PendingVideos int64 `json:"pending_videos"`
}

// StaffDashboard is the dashboard for admin, placement head and training head.
type StaffDashboard struct {
	Stats               StaffStats         `json:"stats"`
	RecentAnnouncements []AnnouncementItem `json:"recent_announcements"`
	RecentPlacements    []PlacementItem    `json:"recent_placements"`
	PendingVideos       []VideoItem        `json:"pending_videos"`
}

// ForStudent 只统计该学生可见的公告与招聘。
func ForStudent(ctx context.Context, db *gorm.DB, v audience.Viewer) (StudentDashboard, error) {
	db = db.WithContext(ctx)
	var d StudentDashboard

	if err := db.Model(&database.Announcement{}).Scopes(audience.AnnouncementScope(v)).
		Count(&d.Stats.Announcements).Error; err != nil {
		return d, fmt.Errorf("count announcements: %w", err)
	}
	var placements []database.Placement
	if err := db.Order("created_at DESC").Order("id DESC").Find(&placements).Error; err != nil {
		return d, fmt.Errorf("load placements: %w", err)
	}
	visible := audience.FilterPlacements(v, placements)
	d.Stats.Placements = int64(len(visible))

	if err := db.Model(&database.Resume{}).Where("user_id = ?", v.UserID).Count(&d.Stats.Resumes).Error; err != nil {
		return d, fmt.Errorf("count resumes: %w", err)
	}
	if err := db.Model(&database.Video{}).Where("user_id = ?", v.UserID).Count(&d.Stats.Videos).Error; err != nil {
		return d, fmt.Errorf("count videos: %w", err)
	}
	if err := db.Model(&database.Notification{}).Where("user_id = ? AND is_read = ?", v.UserID, false).
		Count(&d.Stats.UnreadNotifications).Error; err != nil {
		return d, fmt.Errorf("count unread notifications: %w", err)
	}

	var err error
	if d.RecentAnnouncements, err = recentAnnouncements(db, audience.AnnouncementScope(v)); err != nil {
		return d, err
	}
	if len(visible) > recentLimit {
		visible = visible[:recentLimit]
	}
	d.RecentPlacements = placementItems(visible)
	return d, nil
}

// ForStaff 返回全局计数与待审核视频。
func ForStaff(ctx context.Context, db *gorm.DB) (StaffDashboard, error) {
	db = db.WithContext(ctx)
	var d StaffDashboard

	counts := []struct {
		name  string
		query *gorm.DB
		dest  *int64
	}{
		{"users", db.Model(&database.Profile{}), &d.Stats.Users},
		{"students", db.Model(&database.UserRole{}).Where("role = ?", string(roles.Student)), &d.Stats.Students},
		{"announcements", db.Model(&database.Announcement{}), &d.Stats.Announcements},
		{"placements", db.Model(&database.Placement{}), &d.Stats.Placements},
		{"videos", db.Model(&database.Video{}), &d.Stats.Videos},
		{"pending videos", db.Model(&database.Video{}).Where("status = ?", string(review.StatusPending)), &d.Stats.PendingVideos},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return d, fmt.Errorf("count %s: %w", c.name, err)
		}
	}

	var err error
	if d.RecentAnnouncements, err = recentAnnouncements(db, nil); err != nil {
		return d, err
	}
	var placements []database.Placement
	if err := db.Order("created_at DESC").Order("id DESC").Limit(recentLimit).Find(&placements).Error; err != nil {
		return d, fmt.Errorf("load recent placements: %w", err)
	}
	d.RecentPlacements = placementItems(placements)

	d.PendingVideos = []VideoItem{}
	if err := db.Table("videos").
		Select("videos.id, videos.title, COALESCE(profiles.full_name, '') AS owner_name, videos.created_at").
		Joins("LEFT JOIN profiles ON profiles.id = videos.user_id").
		Where("videos.status = ?", string(review.StatusPending)).
		Order("videos.created_at DESC").
		Limit(pendingVideoLimit).
		Scan(&d.PendingVideos).Error; err != nil {
		return d, fmt.Errorf("load pending videos: %w", err)
	}
	return d, nil
}

func recentAnnouncements(db *gorm.DB, scope func(*gorm.DB) *gorm.DB) ([]AnnouncementItem, error) {
	q := db.Table("announcements").
		Select("announcements.id, announcements.title, announcements.content, COALESCE(profiles.full_name, '') AS author_name, announcements.created_at").
		Joins("LEFT JOIN profiles ON profiles.id = announcements.created_by")
	if scope != nil {
		q = q.Scopes(scope)
	}
	items := []AnnouncementItem{}
	if err := q.Order("announcements.created_at DESC").Order("announcements.id DESC").
		Limit(recentLimit).Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("load recent announcements: %w", err)
	}
	return items, nil
}

func placementItems(placements []database.Placement) []PlacementItem {
	out := make([]PlacementItem, 0, len(placements))
	for _, p := range placements {
		out = append(out, PlacementItem{
			ID:          p.ID,
			CompanyName: p.CompanyName,
			Role:        p.Role,
			Package:     p.Package,
			Deadline:    p.Deadline,
			CreatedAt:   p.CreatedAt,
		})
	}
	return out
}

// Package audience decides which students an announcement or placement targets.
package audience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"placementPortal/internal/database"
	"placementPortal/internal/roles"
)

// Viewer 是做可见性判断所需的用户信息。
type Viewer struct {
	UserID uint
	Roles  roles.Set
	Year   *int
	Branch *string
}

// Sees 判断公告对用户是否可见。特权角色可见全部；
// 其他用户需满足 年级为空或相等 且 专业为空或相等。
func (v Viewer) Sees(a database.Announcement) bool {
	if v.Roles.IsPrivileged() {
		return true
	}
	if a.TargetYear != nil && (v.Year == nil || *v.Year != *a.TargetYear) {
		return false
	}
	if branch := deref(a.TargetBranch); branch != "" && !sameBranch(deref(v.Branch), branch) {
		return false
	}
	return true
}

// EligibleFor 判断学生是否在招聘的目标年级/专业范围内。
func (v Viewer) EligibleFor(p database.Placement) bool {
	if p.TargetYear != nil && (v.Year == nil || *v.Year != *p.TargetYear) {
		return false
	}
	if len(p.TargetBranches) == 0 {
		return true
	}
	branch := deref(v.Branch)
	for _, b := range p.TargetBranches {
		if sameBranch(branch, b) {
			return true
		}
	}
	return false
}

// SeesPlacement 特权角色可见全部招聘，学生仅可见符合条件的。
func (v Viewer) SeesPlacement(p database.Placement) bool {
	return v.Roles.IsPrivileged() || v.EligibleFor(p)
}

// CanApply reports whether the placement is still open at now.
func CanApply(p database.Placement, now time.Time) bool {
	return p.Deadline == nil || !now.After(*p.Deadline)
}

// AnnouncementScope 把公告可见性下推到 SQL。
func AnnouncementScope(v Viewer) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if v.Roles.IsPrivileged() {
			return db
		}
		if v.Year == nil {
			db = db.Where("target_year IS NULL")
		} else {
			db = db.Where("target_year IS NULL OR target_year = ?", *v.Year)
		}
		if branch := deref(v.Branch); branch == "" {
			db = db.Where("target_branch IS NULL OR target_branch = ''")
		} else {
			db = db.Where("target_branch IS NULL OR target_branch = '' OR LOWER(TRIM(target_branch)) = ?", strings.ToLower(branch))
		}
		return db
	}
}

// FilterPlacements keeps the placements visible to v.
func FilterPlacements(v Viewer, placements []database.Placement) []database.Placement {
	out := make([]database.Placement, 0, len(placements))
	for _, p := range placements {
		if v.SeesPlacement(p) {
			out = append(out, p)
		}
	}
	return out
}

// Recipient is one fan-out target.
type Recipient struct {
	UserID   uint
	Email    string
	FullName string
}

// Target 描述一次通知的目标人群，空值表示不限。
type Target struct {
	Year     *int
	Branches []string
	// ExcludeUserID 通常是作者本人。
	ExcludeUserID uint
}

// Recipients 按年级/专业筛选档案表，返回通知接收人。
func Recipients(ctx context.Context, db *gorm.DB, target Target) ([]Recipient, error) {
	q := db.WithContext(ctx).Model(&database.Profile{}).Select("id", "email", "full_name")
	if target.Year != nil {
		q = q.Where("year = ?", *target.Year)
	}
	branches := make([]string, 0, len(target.Branches))
	for _, b := range target.Branches {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			branches = append(branches, b)
		}
	}
	// 与 sameBranch 保持一致：忽略大小写与首尾空白。
	if len(branches) > 0 {
		q = q.Where("LOWER(TRIM(branch)) IN ?", branches)
	}
	if target.ExcludeUserID != 0 {
		q = q.Where("id <> ?", target.ExcludeUserID)
	}

	var profiles []database.Profile
	if err := q.Order("id").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	out := make([]Recipient, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Recipient{UserID: p.ID, Email: p.Email, FullName: p.FullName})
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func sameBranch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

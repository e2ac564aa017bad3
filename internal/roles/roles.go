package roles

import (
	"fmt"
	"sort"
	"strings"
)

// Role 是平台中的授权角色，角色之间没有继承关系。
type Role string

const (
	Admin         Role = "admin"
	PlacementHead Role = "placement_head"
	TrainingHead  Role = "training_head"
	Student       Role = "student"
)

// All lists every known role in display order.
var All = []Role{Admin, PlacementHead, TrainingHead, Student}

// Allow-lists used by route guards.
var (
	Privileged         = []Role{Admin, PlacementHead, TrainingHead}
	AnnouncementAuthor = []Role{Admin, PlacementHead, TrainingHead}
	PlacementManager   = []Role{Admin, PlacementHead}
	VideoReviewer      = []Role{Admin, TrainingHead}
	UserAdmin          = []Role{Admin}
	Applicant          = []Role{Student}
)

// Parse 校验角色名称。
func Parse(value string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range All {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Set 是用户持有的角色集合。零值为空集合，任何检查都返回 false。
type Set map[Role]struct{}

// NewSet builds a set from the given roles, dropping duplicates.
func NewSet(rs ...Role) Set {
	s := make(Set, len(rs))
	for _, r := range rs {
		s[r] = struct{}{}
	}
	return s
}

// Has reports membership of a single role.
func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether the set intersects the allow-list.
func (s Set) HasAny(rs ...Role) bool {
	for _, r := range rs {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// IsPrivileged 持有 admin/placement_head/training_head 任一角色。
func (s Set) IsPrivileged() bool {
	return s.HasAny(Privileged...)
}

// Slice returns the roles sorted in display order.
func (s Set) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// Strings is Slice rendered as plain strings for JSON responses.
func (s Set) Strings() []string {
	sorted := s.Slice()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = string(r)
	}
	return out
}

func rank(r Role) int {
	for i, known := range All {
		if r == known {
			return i
		}
	}
	return len(All)
}

// Diff 计算一次保存操作需要新增与移除的角色。
func Diff(current, desired Set) (add, remove []Role) {
	for r := range desired {
		if !current.Has(r) {
			add = append(add, r)
		}
	}
	for r := range current {
		if !desired.Has(r) {
			remove = append(remove, r)
		}
	}
	sort.Slice(add, func(i, j int) bool { return rank(add[i]) < rank(add[j]) })
	sort.Slice(remove, func(i, j int) bool { return rank(remove[i]) < rank(remove[j]) })
	return add, remove
}

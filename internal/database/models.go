package database

import (
	"time"

	"gorm.io/datatypes"
)

// Profile 表示账号与学生档案，一个用户对应一行。
type Profile struct {
	ID                    uint                        `gorm:"primaryKey"`
	Email                 string                      `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash          string                      `gorm:"size:255;not null"`
	FullName              string                      `gorm:"size:100;not null"`
	Phone                 string                      `gorm:"size:20"`
	RollNumber            string                      `gorm:"size:50"`
	Year                  *int                        `gorm:"index"`
	Branch                *string                     `gorm:"size:100;index"`
	CGPA                  *float64
	Skills                datatypes.JSONSlice[string]
	Achievements          string                      `gorm:"size:2000"`
	InternshipCompany     string                      `gorm:"size:200"`
	InternshipRole        string                      `gorm:"size:100"`
	InternshipDuration    string                      `gorm:"size:50"`
	InternshipDescription string                      `gorm:"size:1000"`
	// Version 用于档案编辑的乐观锁，RolesVersion 用于角色集合编辑。
	Version      int        `gorm:"not null;default:1"`
	RolesVersion int        `gorm:"not null;default:1"`
	Roles        []UserRole `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRole 是 (user, role) 关联行；同一用户可持有多个角色。
type UserRole struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_user_roles_user_role"`
	Role      string `gorm:"size:32;not null;uniqueIndex:idx_user_roles_user_role;index"`
	CreatedAt time.Time
}

// Announcement 公告，TargetYear/TargetBranch 为空表示面向全部学生。
type Announcement struct {
	ID             uint    `gorm:"primaryKey"`
	Title          string  `gorm:"size:200;not null"`
	Content        string  `gorm:"size:5000;not null"`
	TargetYear     *int    `gorm:"index"`
	TargetBranch   *string `gorm:"size:100;index"`
	AttachmentKey  string  `gorm:"size:512"`
	AttachmentURL  string  `gorm:"size:1024"`
	AttachmentName string  `gorm:"size:255"`
	CreatedBy      uint    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

// Placement 招聘机会。
type Placement struct {
	ID             uint   `gorm:"primaryKey"`
	CompanyName    string `gorm:"size:200;not null;index"`
	Role           string `gorm:"size:200;not null"`
	Package        string `gorm:"size:100"`
	Description    string `gorm:"size:5000"`
	Eligibility    string `gorm:"size:2000"`
	Deadline       *time.Time
	Roles          datatypes.JSONSlice[string]
	TargetYear     *int `gorm:"index"`
	TargetBranches datatypes.JSONSlice[string]
	CreatedBy      uint                   `gorm:"index;not null"`
	Applications   []PlacementApplication `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time              `gorm:"index"`
	UpdatedAt      time.Time
}

// PlacementApplication 学生投递记录，(placement_id, user_id) 唯一。
type PlacementApplication struct {
	ID           uint   `gorm:"primaryKey"`
	PlacementID  uint   `gorm:"not null;uniqueIndex:idx_applications_placement_user"`
	UserID       uint   `gorm:"not null;uniqueIndex:idx_applications_placement_user;index"`
	SelectedRole string `gorm:"size:100;not null"`
	ResumeShared bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

// Resume 用户上传的简历文件及 ATS 分析结果。
type Resume struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index;not null"`
	FileName    string `gorm:"size:255;not null"`
	ObjectKey   string `gorm:"size:512;not null"`
	ContentType string `gorm:"size:128"`
	Size        int64
	ATSScore    *int
	ATSFeedback *string
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

// Video 学生上传的展示视频，需要审核。
type Video struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index;not null"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"size:2000"`
	ObjectKey   string `gorm:"size:512;not null"`
	VideoURL    string `gorm:"size:1024"`
	ContentType string `gorm:"size:128"`
	Size        int64
	Status      string `gorm:"size:16;not null;default:pending;index"`
	ReviewNotes *string
	ReviewedBy  *uint
	ReviewedAt  *time.Time
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

// Notification 站内通知。
type Notification struct {
	ID        uint    `gorm:"primaryKey"`
	UserID    uint    `gorm:"index;not null"`
	Title     string  `gorm:"size:255;not null"`
	Message   string  `gorm:"size:2000;not null"`
	Type      string  `gorm:"size:32;not null"`
	Link      *string `gorm:"size:1024"`
	IsRead    bool    `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"index"`
}

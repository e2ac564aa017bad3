// Package dbtest opens isolated in-memory SQLite databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"placementPortal/internal/database"
)

// New 返回已完成迁移的独立内存库，测试结束后自动关闭。
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Student describes a seeded profile.
type Student struct {
	Email  string
	Name   string
	Year   *int
	Branch *string
	Roles  []string
}

// Seed inserts a profile with the given roles and returns it.
func Seed(t testing.TB, db *gorm.DB, s Student) database.Profile {
	t.Helper()
	name := s.Name
	if name == "" {
		name = s.Email
	}
	profile := database.Profile{
		Email:        s.Email,
		PasswordHash: "x",
		FullName:     name,
		Year:         s.Year,
		Branch:       s.Branch,
		Version:      1,
		RolesVersion: 1,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile %s: %v", s.Email, err)
	}
	for _, role := range s.Roles {
		if err := db.Create(&database.UserRole{UserID: profile.ID, Role: role}).Error; err != nil {
			t.Fatalf("seed role %s: %v", role, err)
		}
	}
	return profile
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Str returns a pointer to v.
func Str(v string) *string { return &v }

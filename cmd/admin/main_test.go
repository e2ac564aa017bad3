package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"placementPortal/internal/auth"
	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/roles"
)

func TestCreateAdmin(t *testing.T) {
	db := dbtest.New(t)
	var out bytes.Buffer

	if err := createAdmin(context.Background(), db, " Root@VVCE.ac.in ", "Root", &out); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	var profile database.Profile
	if err := db.Where("email = ?", "root@vvce.ac.in").First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	set, err := roles.NewResolver(db).Roles(context.Background(), profile.ID)
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if !set.Has(roles.Admin) || !set.Has(roles.Student) {
		t.Fatalf("expected admin and student roles got %v", set.Strings())
	}

	var password string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "初始密码: ") {
			password = strings.TrimPrefix(line, "初始密码: ")
		}
	}
	if password == "" || !auth.CheckPasswordHash(password, profile.PasswordHash) {
		t.Fatalf("printed password must match the stored hash")
	}

	if err := createAdmin(context.Background(), db, "root@vvce.ac.in", "Root", &out); err == nil {
		t.Fatalf("expected duplicate admin to fail")
	}
	if err := createAdmin(context.Background(), db, "  ", "Root", &out); err == nil {
		t.Fatalf("expected missing email to fail")
	}
}

func TestGrantAndRevokeRole(t *testing.T) {
	db := dbtest.New(t)
	profile := dbtest.Seed(t, db, dbtest.Student{Email: "s@vvce.ac.in", Roles: []string{"student"}})
	ctx := context.Background()

	set, err := grantRole(ctx, db, "S@vvce.ac.in", "placement_head")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !set.Has(roles.PlacementHead) || !set.Has(roles.Student) {
		t.Fatalf("unexpected roles %v", set.Strings())
	}

	// 重复授予不报错。
	if _, err := grantRole(ctx, db, "s@vvce.ac.in", "placement_head"); err != nil {
		t.Fatalf("grant twice: %v", err)
	}

	set, err = revokeRole(ctx, db, "s@vvce.ac.in", "student")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if set.Has(roles.Student) || !set.Has(roles.PlacementHead) {
		t.Fatalf("unexpected roles after revoke %v", set.Strings())
	}

	var reloaded database.Profile
	if err := db.First(&reloaded, profile.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RolesVersion <= profile.RolesVersion {
		t.Fatalf("roles version should advance, got %d", reloaded.RolesVersion)
	}

	if _, err := grantRole(ctx, db, "s@vvce.ac.in", "superuser"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
	if _, err := grantRole(ctx, db, "nobody@vvce.ac.in", "admin"); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestLoadDatabaseConfig(t *testing.T) {
	t.Setenv("DATABASE_HOST", "")
	t.Setenv("DATABASE_PORT", "")
	t.Setenv("POSTGRES_DB", "placement")
	t.Setenv("POSTGRES_USER", "placement")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("DATABASE_SSLMODE", "")

	cfg, err := loadDatabaseConfig("", 0, "", "", "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 5432 || cfg.SSLMode != "disable" || cfg.Password != "secret" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	cfg, err = loadDatabaseConfig("db", 6543, "", "", "", "require")
	if err != nil {
		t.Fatalf("load with flags: %v", err)
	}
	if cfg.Host != "db" || cfg.Port != 6543 || cfg.SSLMode != "require" {
		t.Fatalf("flags should win over env: %+v", cfg)
	}

	t.Setenv("DATABASE_PORT", "abc")
	if _, err := loadDatabaseConfig("", 0, "", "", "", ""); err == nil {
		t.Fatalf("expected invalid port to fail")
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"migrate": false, "create-admin": false, "grant-role": false, "revoke-role": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}

	root.SetArgs([]string{"grant-role", "only-email"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected argument validation error")
	}
}

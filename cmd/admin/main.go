package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"placementPortal/internal/auth"
	"placementPortal/internal/config"
	"placementPortal/internal/database"
	"placementPortal/internal/roles"
)

type dbFlags struct {
	host     string
	port     int
	name     string
	user     string
	password string
	sslmode  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags dbFlags

	root := &cobra.Command{
		Use:           "placement-admin",
		Short:         "Placement portal 运维工具",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.host, "db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
	root.PersistentFlags().IntVar(&flags.port, "db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
	root.PersistentFlags().StringVar(&flags.name, "db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
	root.PersistentFlags().StringVar(&flags.user, "db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
	root.PersistentFlags().StringVar(&flags.password, "db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
	root.PersistentFlags().StringVar(&flags.sslmode, "db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")

	open := func() (*gorm.DB, error) {
		cfg, err := loadDatabaseConfig(flags.host, flags.port, flags.name, flags.user, flags.password, flags.sslmode)
		if err != nil {
			return nil, fmt.Errorf("load database config: %w", err)
		}
		return database.InitDatabase(cfg)
	}

	root.AddCommand(
		newMigrateCmd(open),
		newCreateAdminCmd(open),
		newRoleCmd("grant-role", "授予用户一个角色", open, grantRole),
		newRoleCmd("revoke-role", "撤销用户的一个角色", open, revokeRole),
	)
	return root
}

func newMigrateCmd(open func() (*gorm.DB, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "创建或更新数据表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
			return nil
		},
	}
}

func newCreateAdminCmd(open func() (*gorm.DB, error)) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "创建初始管理员账号，随机密码仅显示一次",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			return createAdmin(cmd.Context(), db, email, name, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "管理员邮箱（必填）")
	cmd.Flags().StringVar(&name, "name", "Administrator", "显示名称")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRoleCmd(use, short string, open func() (*gorm.DB, error), apply func(context.Context, *gorm.DB, string, string) (roles.Set, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email> <role>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			set, err := apply(cmd.Context(), db, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s roles: %s\n", args[0], strings.Join(set.Strings(), ", "))
			return nil
		},
	}
}

func createAdmin(ctx context.Context, db *gorm.DB, email, name string, out io.Writer) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("missing required flag: --email")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Administrator"
	}

	var existing database.Profile
	switch err := db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; {
	case err == nil:
		return fmt.Errorf("user %q already exists", email)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("query user: %w", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile := database.Profile{
			Email:        email,
			PasswordHash: hashed,
			FullName:     name,
			Version:      1,
			RolesVersion: 1,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		rows := []database.UserRole{
			{UserID: profile.ID, Role: string(roles.Admin)},
			{UserID: profile.ID, Role: string(roles.Student)},
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("assign roles: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "已创建初始管理员账号：\n")
	fmt.Fprintf(out, "邮箱: %s\n", email)
	fmt.Fprintf(out, "初始密码: %s\n", password)
	fmt.Fprintf(out, "提示：请立即登录并修改密码（该密码仅显示一次）。\n")
	return nil
}

func grantRole(ctx context.Context, db *gorm.DB, email, roleName string) (roles.Set, error) {
	return changeRole(ctx, db, email, roleName, func(r *roles.Resolver, id uint, role roles.Role) error {
		return r.Grant(ctx, id, role)
	})
}

func revokeRole(ctx context.Context, db *gorm.DB, email, roleName string) (roles.Set, error) {
	return changeRole(ctx, db, email, roleName, func(r *roles.Resolver, id uint, role roles.Role) error {
		return r.Revoke(ctx, id, role)
	})
}

func changeRole(ctx context.Context, db *gorm.DB, email, roleName string, apply func(*roles.Resolver, uint, roles.Role) error) (roles.Set, error) {
	role, err := roles.Parse(roleName)
	if err != nil {
		return nil, err
	}
	var profile database.Profile
	err = db.WithContext(ctx).Select("id").
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %q not found", email)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	resolver := roles.NewResolver(db)
	if err := apply(resolver, profile.ID, role); err != nil {
		return nil, err
	}
	return resolver.Roles(ctx, profile.ID)
}

// loadDatabaseConfig 只解析数据库参数，运维命令不依赖 MinIO 等其他配置。
func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package roles

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"placementPortal/internal/database"
)

var (
	// ErrVersionConflict 表示角色集合已被其他管理员修改。
	ErrVersionConflict = errors.New("role set was modified concurrently")
	// ErrUserNotFound is returned when the target profile does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Resolver 从 user_roles 表读取用户角色。
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Roles 返回用户的角色集合。查询失败时返回空集合与错误，调用方据此拒绝访问。
func (r *Resolver) Roles(ctx context.Context, userID uint) (Set, error) {
	var rows []database.UserRole
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return Set{}, fmt.Errorf("load roles for user %d: %w", userID, err)
	}
	set := make(Set, len(rows))
	for _, row := range rows {
		role, err := Parse(row.Role)
		if err != nil {
			continue
		}
		set[role] = struct{}{}
	}
	return set, nil
}

// RolesFor loads role sets for many users in one query.
func (r *Resolver) RolesFor(ctx context.Context, userIDs []uint) (map[uint]Set, error) {
	out := make(map[uint]Set, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []database.UserRole
	if err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	for _, row := range rows {
		role, err := Parse(row.Role)
		if err != nil {
			continue
		}
		if out[row.UserID] == nil {
			out[row.UserID] = Set{}
		}
		out[row.UserID][role] = struct{}{}
	}
	return out, nil
}

// Replace 以 expectedVersion 为乐观锁，在单个事务内把用户角色替换为 desired。
// 成功时返回新的版本号。
func (r *Resolver) Replace(ctx context.Context, userID uint, desired Set, expectedVersion int) (int, error) {
	newVersion := expectedVersion + 1
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile database.Profile
		if err := tx.Select("id", "roles_version").First(&profile, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load profile: %w", err)
		}

		res := tx.Model(&database.Profile{}).
			Where("id = ? AND roles_version = ?", userID, expectedVersion).
			Update("roles_version", newVersion)
		if res.Error != nil {
			return fmt.Errorf("bump roles version: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		var rows []database.UserRole
		if err := tx.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
			return fmt.Errorf("load current roles: %w", err)
		}
		current := Set{}
		for _, row := range rows {
			current[Role(row.Role)] = struct{}{}
		}

		add, remove := Diff(current, desired)
		if len(remove) > 0 {
			names := make([]string, len(remove))
			for i, role := range remove {
				names[i] = string(role)
			}
			if err := tx.Where("user_id = ? AND role IN ?", userID, names).
				Delete(&database.UserRole{}).Error; err != nil {
				return fmt.Errorf("remove roles: %w", err)
			}
		}
		if len(add) > 0 {
			inserts := make([]database.UserRole, len(add))
			for i, role := range add {
				inserts[i] = database.UserRole{UserID: userID, Role: string(role)}
			}
			if err := tx.Create(&inserts).Error; err != nil {
				return fmt.Errorf("add roles: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Grant adds a single role without touching the others. Used by the admin CLI.
func (r *Resolver) Grant(ctx context.Context, userID uint, role Role) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&database.UserRole{UserID: userID, Role: string(role)}).Error; err != nil {
			return fmt.Errorf("grant role %s: %w", role, err)
		}
		return tx.Model(&database.Profile{}).Where("id = ?", userID).
			Update("roles_version", gorm.Expr("roles_version + 1")).Error
	})
}

// Revoke removes a single role.
func (r *Resolver) Revoke(ctx context.Context, userID uint, role Role) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND role = ?", userID, string(role)).
			Delete(&database.UserRole{}).Error; err != nil {
			return fmt.Errorf("revoke role %s: %w", role, err)
		}
		return tx.Model(&database.Profile{}).Where("id = ?", userID).
			Update("roles_version", gorm.Expr("roles_version + 1")).Error
	})
}

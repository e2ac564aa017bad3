package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"placementPortal/internal/database"
	"placementPortal/internal/roles"
)

// AdminHandler 管理用户与角色。
type AdminHandler struct {
	db       *gorm.DB
	resolver *roles.Resolver
}

// NewAdminHandler 构造管理处理器。
func NewAdminHandler(db *gorm.DB, resolver *roles.Resolver) *AdminHandler {
	return &AdminHandler{db: db, resolver: resolver}
}

type adminStats struct {
	Users          int `json:"users"`
	Admins         int `json:"admins"`
	PlacementHeads int `json:"placement_heads"`
	TrainingHeads  int `json:"training_heads"`
}

// ListUsers 返回全部用户档案、角色以及按角色统计的人数。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	logger := loggerFromContext(c)

	var profiles []database.Profile
	if err := h.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&profiles).Error; err != nil {
		logger.Error("list profiles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	ids := make([]uint, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	sets, err := h.resolver.RolesFor(ctx, ids)
	if err != nil {
		logger.Error("load roles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	stats := adminStats{Users: len(profiles)}
	users := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		set := sets[p.ID]
		if set.Has(roles.Admin) {
			stats.Admins++
		}
		if set.Has(roles.PlacementHead) {
			stats.PlacementHeads++
		}
		if set.Has(roles.TrainingHead) {
			stats.TrainingHeads++
		}
		users = append(users, newProfileResponse(p, set))
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "stats": stats})
}

type setRolesRequest struct {
	Roles   []string `json:"roles" binding:"max=4,dive,oneof=admin placement_head training_head student"`
	Version int      `json:"version" binding:"required,gte=1"`
}

// SetRoles 以 roles_version 为乐观锁，整体替换用户的角色集合。
func (h *AdminHandler) SetRoles(c *gin.Context) {
	targetID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}

	var req setRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	desired := roles.Set{}
	for _, name := range req.Roles {
		role, err := roles.Parse(name)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		desired[role] = struct{}{}
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("target_user_id", uint64(targetID)))

	version, err := h.resolver.Replace(ctx, targetID, desired, req.Version)
	switch {
	case errors.Is(err, roles.ErrUserNotFound):
		NotFound(c, "user not found")
		return
	case errors.Is(err, roles.ErrVersionConflict):
		Conflict(c, "roles were changed by someone else, reload and try again")
		return
	case err != nil:
		logger.Error("replace roles failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("roles updated", slog.Any("roles", desired.Strings()), slog.Int("roles_version", version))
	c.JSON(http.StatusOK, gin.H{"roles": desired.Strings(), "roles_version": version})
}

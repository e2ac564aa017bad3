package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"placementPortal/internal/database"
	"placementPortal/internal/roles"
)

var errProfileVersionConflict = errors.New("profile was modified concurrently")

// ProfileHandler 处理档案读取与编辑。
type ProfileHandler struct {
	db       *gorm.DB
	resolver *roles.Resolver
}

// NewProfileHandler 构造档案处理器。
func NewProfileHandler(db *gorm.DB, resolver *roles.Resolver) *ProfileHandler {
	return &ProfileHandler{db: db, resolver: resolver}
}

type profileResponse struct {
	ID                    uint      `json:"id"`
	Email                 string    `json:"email"`
	FullName              string    `json:"full_name"`
	Phone                 string    `json:"phone,omitempty"`
	RollNumber            string    `json:"roll_number,omitempty"`
	Year                  *int      `json:"year"`
	Branch                *string   `json:"branch"`
	CGPA                  *float64  `json:"cgpa"`
	Skills                []string  `json:"skills"`
	Achievements          string    `json:"achievements,omitempty"`
	InternshipCompany     string    `json:"internship_company,omitempty"`
	InternshipRole        string    `json:"internship_role,omitempty"`
	InternshipDuration    string    `json:"internship_duration,omitempty"`
	InternshipDescription string    `json:"internship_description,omitempty"`
	Roles                 []string  `json:"roles"`
	Version               int       `json:"version"`
	RolesVersion          int       `json:"roles_version"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newProfileResponse(p database.Profile, set roles.Set) profileResponse {
	skills := []string(p.Skills)
	if skills == nil {
		skills = []string{}
	}
	return profileResponse{
		ID:                    p.ID,
		Email:                 p.Email,
		FullName:              p.FullName,
		Phone:                 p.Phone,
		RollNumber:            p.RollNumber,
		Year:                  p.Year,
		Branch:                p.Branch,
		CGPA:                  p.CGPA,
		Skills:                skills,
		Achievements:          p.Achievements,
		InternshipCompany:     p.InternshipCompany,
		InternshipRole:        p.InternshipRole,
		InternshipDuration:    p.InternshipDuration,
		InternshipDescription: p.InternshipDescription,
		Roles:                 set.Strings(),
		Version:               p.Version,
		RolesVersion:          p.RolesVersion,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

type updateProfileRequest struct {
	FullName              string   `json:"full_name" binding:"required,notblank,max=100"`
	Phone                 string   `json:"phone" binding:"omitempty,max=20,phone"`
	RollNumber            string   `json:"roll_number" binding:"max=50"`
	Year                  *int     `json:"year" binding:"omitempty,gte=1,lte=4"`
	Branch                string   `json:"branch" binding:"max=100"`
	CGPA                  *float64 `json:"cgpa" binding:"omitempty,gte=0,lte=10"`
	Skills                []string `json:"skills" binding:"max=20,dive,notblank,max=50"`
	Achievements          string   `json:"achievements" binding:"max=2000"`
	InternshipCompany     string   `json:"internship_company" binding:"max=200"`
	InternshipRole        string   `json:"internship_role" binding:"max=100"`
	InternshipDuration    string   `json:"internship_duration" binding:"max=50"`
	InternshipDescription string   `json:"internship_description" binding:"max=1000"`
	Version               int      `json:"version" binding:"required,gte=1"`
}

// UpdateOwnProfile 编辑当前用户的档案。
func (h *ProfileHandler) UpdateOwnProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	h.update(c, userID)
}

// UpdateUserProfile 管理员编辑任意用户档案。
func (h *ProfileHandler) UpdateUserProfile(c *gin.Context) {
	targetID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}
	h.update(c, targetID)
}

func (h *ProfileHandler) update(c *gin.Context, userID uint) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("profile_id", uint64(userID)))

	profile, err := h.save(ctx, userID, req)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "profile not found")
		return
	case errors.Is(err, errProfileVersionConflict):
		Conflict(c, "profile was changed by someone else, reload and try again")
		return
	case err != nil:
		logger.Error("update profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	set, err := h.resolver.Roles(ctx, userID)
	if err != nil {
		logger.Error("load roles failed", slog.Any("error", err))
	}
	logger.Info("profile updated", slog.Int("version", profile.Version))
	c.JSON(http.StatusOK, newProfileResponse(profile, set))
}

// save 以 version 为条件更新，成功后 version 加一。
func (h *ProfileHandler) save(ctx context.Context, userID uint, req updateProfileRequest) (database.Profile, error) {
	skills := make([]string, 0, len(req.Skills))
	for _, s := range req.Skills {
		skills = append(skills, strings.TrimSpace(s))
	}

	res := h.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ? AND version = ?", userID, req.Version).
		Updates(map[string]any{
			"full_name":              strings.TrimSpace(req.FullName),
			"phone":                  strings.TrimSpace(req.Phone),
			"roll_number":            strings.TrimSpace(req.RollNumber),
			"year":                   req.Year,
			"branch":                 optionalString(req.Branch),
			"cgpa":                   req.CGPA,
			"skills":                 datatypes.JSONSlice[string](skills),
			"achievements":           strings.TrimSpace(req.Achievements),
			"internship_company":     strings.TrimSpace(req.InternshipCompany),
			"internship_role":        strings.TrimSpace(req.InternshipRole),
			"internship_duration":    strings.TrimSpace(req.InternshipDuration),
			"internship_description": strings.TrimSpace(req.InternshipDescription),
			"version":                req.Version + 1,
		})
	if res.Error != nil {
		return database.Profile{}, res.Error
	}

	var profile database.Profile
	if err := h.db.WithContext(ctx).First(&profile, userID).Error; err != nil {
		return database.Profile{}, err
	}
	if res.RowsAffected == 0 {
		return database.Profile{}, errProfileVersionConflict
	}
	return profile, nil
}

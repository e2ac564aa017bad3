package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"placementPortal/internal/audience"
	"placementPortal/internal/database"
	"placementPortal/internal/tasks"
)

const resumeLinkTTL = 5 * time.Minute

// PlacementHandler 处理招聘发布、投递与投递列表。
type PlacementHandler struct {
	db      *gorm.DB
	storage ObjectStore
	tasks   TaskEnqueuer
	now     func() time.Time
}

// NewPlacementHandler 构造招聘处理器。
func NewPlacementHandler(db *gorm.DB, store ObjectStore, enqueuer TaskEnqueuer) *PlacementHandler {
	return &PlacementHandler{db: db, storage: store, tasks: enqueuer, now: time.Now}
}

type placementResponse struct {
	ID               uint       `json:"id"`
	CompanyName      string     `json:"company_name"`
	Role             string     `json:"role"`
	Package          string     `json:"package,omitempty"`
	Description      string     `json:"description,omitempty"`
	Eligibility      string     `json:"eligibility,omitempty"`
	Deadline         *time.Time `json:"deadline"`
	Roles            []string   `json:"roles"`
	TargetYear       *int       `json:"target_year"`
	TargetBranches   []string   `json:"target_branches"`
	CreatedBy        uint       `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	Open             bool       `json:"is_open"`
	Applied          bool       `json:"applied"`
	ApplicationCount *int64     `json:"application_count,omitempty"`
}

func (h *PlacementHandler) newPlacementResponse(p database.Placement) placementResponse {
	return placementResponse{
		ID:             p.ID,
		CompanyName:    p.CompanyName,
		Role:           p.Role,
		Package:        p.Package,
		Description:    p.Description,
		Eligibility:    p.Eligibility,
		Deadline:       p.Deadline,
		Roles:          nonNil(p.Roles),
		TargetYear:     p.TargetYear,
		TargetBranches: nonNil(p.TargetBranches),
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
		Open:           audience.CanApply(p, h.now()),
	}
}

// ListPlacements 学生只看到符合年级/专业的招聘；特权角色额外看到投递人数。
func (h *PlacementHandler) ListPlacements(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)

	viewer, err := loadViewer(ctx, h.db, session)
	if err != nil {
		logger.Error("load viewer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var placements []database.Placement
	if err := h.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&placements).Error; err != nil {
		logger.Error("list placements failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	placements = audience.FilterPlacements(viewer, placements)

	var appliedIDs []uint
	if err := h.db.WithContext(ctx).Model(&database.PlacementApplication{}).
		Where("user_id = ?", session.UserID).Pluck("placement_id", &appliedIDs).Error; err != nil {
		logger.Error("load own applications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	applied := make(map[uint]bool, len(appliedIDs))
	for _, id := range appliedIDs {
		applied[id] = true
	}

	var counts map[uint]int64
	if session.Roles.IsPrivileged() {
		var rows []struct {
			PlacementID uint
			Count       int64
		}
		if err := h.db.WithContext(ctx).Model(&database.PlacementApplication{}).
			Select("placement_id, COUNT(*) AS count").Group("placement_id").Scan(&rows).Error; err != nil {
			logger.Error("count applications failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		counts = make(map[uint]int64, len(rows))
		for _, r := range rows {
			counts[r.PlacementID] = r.Count
		}
	}

	items := make([]placementResponse, 0, len(placements))
	for _, p := range placements {
		item := h.newPlacementResponse(p)
		item.Applied = applied[p.ID]
		if counts != nil {
			n := counts[p.ID]
			item.ApplicationCount = &n
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"placements": items})
}

type createPlacementRequest struct {
	CompanyName    string     `json:"company_name" binding:"required,notblank,max=200"`
	Role           string     `json:"role" binding:"required,notblank,max=200"`
	Package        string     `json:"package" binding:"max=100"`
	Description    string     `json:"description" binding:"max=5000"`
	Eligibility    string     `json:"eligibility" binding:"max=2000"`
	Deadline       string     `json:"deadline" binding:"max=64"`
	Roles          []string   `json:"roles" binding:"max=10,dive,notblank,max=100"`
	TargetYear     *int       `json:"target_year" binding:"omitempty,gte=1,lte=4"`
	TargetBranches []string   `json:"target_branches" binding:"max=20,dive,notblank,max=100"`
}

const deadlineDateLayout = "2006-01-02"

// parseDeadline 接受 RFC3339 时间或 YYYY-MM-DD 日期；只给日期时截止到当天最后一秒。
func parseDeadline(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(deadlineDateLayout, raw, loc)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q: %w", raw, err)
	}
	end := day.AddDate(0, 0, 1).Add(-time.Second)
	return &end, nil
}

// CreatePlacement 写入招聘并触发通知扇出。
func (h *PlacementHandler) CreatePlacement(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createPlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}
	deadline, err := parseDeadline(req.Deadline, time.Local)
	if err != nil {
		BadRequest(c, "deadline must be a date (YYYY-MM-DD) or an RFC3339 timestamp")
		return
	}

	placement := database.Placement{
		CompanyName:    strings.TrimSpace(req.CompanyName),
		Role:           strings.TrimSpace(req.Role),
		Package:        strings.TrimSpace(req.Package),
		Description:    strings.TrimSpace(req.Description),
		Eligibility:    strings.TrimSpace(req.Eligibility),
		Deadline:       deadline,
		Roles:          datatypes.JSONSlice[string](uniqueTrimmed(req.Roles)),
		TargetYear:     req.TargetYear,
		TargetBranches: datatypes.JSONSlice[string](uniqueTrimmed(req.TargetBranches)),
		CreatedBy:      session.UserID,
	}

	logger := loggerFromContext(c)
	if err := h.db.WithContext(c.Request.Context()).Create(&placement).Error; err != nil {
		logger.Error("create placement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("placement created", slog.Uint64("placement_id", uint64(placement.ID)))
	enqueueFanout(c, h.tasks, tasks.FanoutPlacement, placement.ID, session.UserID)

	c.JSON(http.StatusCreated, h.newPlacementResponse(placement))
}

// DeletePlacement 删除招聘及其全部投递记录。
func (h *PlacementHandler) DeletePlacement(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid placement id")
		return
	}

	logger := loggerFromContext(c).With(slog.Uint64("placement_id", uint64(id)))
	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("placement_id = ?", id).Delete(&database.PlacementApplication{}).Error; err != nil {
			return fmt.Errorf("delete applications: %w", err)
		}
		res := tx.Delete(&database.Placement{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete placement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		NotFound(c, "placement not found")
		return
	}
	if err != nil {
		logger.Error("delete placement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("placement deleted")
	c.Status(http.StatusNoContent)
}

type applyRequest struct {
	SelectedRole string `json:"selected_role" binding:"max=100"`
	ResumeShared bool   `json:"resume_shared"`
}

type applicationResponse struct {
	ID           uint      `json:"id"`
	PlacementID  uint      `json:"placement_id"`
	CompanyName  string    `json:"company_name,omitempty"`
	Role         string    `json:"role,omitempty"`
	SelectedRole string    `json:"selected_role"`
	ResumeShared bool      `json:"resume_shared"`
	CreatedAt    time.Time `json:"created_at"`
}

// Apply 为当前学生创建投递：同一招聘只能投递一次。
func (h *PlacementHandler) Apply(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	placementID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid placement id")
		return
	}

	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("placement_id", uint64(placementID)))

	var placement database.Placement
	if err := h.db.WithContext(ctx).First(&placement, placementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "placement not found")
			return
		}
		logger.Error("load placement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	viewer, err := loadViewer(ctx, h.db, session)
	if err != nil {
		logger.Error("load viewer failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !viewer.EligibleFor(placement) {
		Forbidden(c, "you are not eligible for this placement")
		return
	}
	if !audience.CanApply(placement, h.now()) {
		Conflict(c, "applications for this placement are closed")
		return
	}

	selectedRole, err := resolveSelectedRole(placement, req.SelectedRole)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	if req.ResumeShared {
		var resumes int64
		if err := h.db.WithContext(ctx).Model(&database.Resume{}).
			Where("user_id = ?", session.UserID).Count(&resumes).Error; err != nil {
			logger.Error("count resumes failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if resumes == 0 {
			BadRequest(c, "resume not shared: upload a resume first")
			return
		}
	}

	var existing int64
	if err := h.db.WithContext(ctx).Model(&database.PlacementApplication{}).
		Where("placement_id = ? AND user_id = ?", placementID, session.UserID).Count(&existing).Error; err != nil {
		logger.Error("check existing application failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if existing > 0 {
		Conflict(c, "you have already applied to this placement")
		return
	}

	application := database.PlacementApplication{
		PlacementID:  placementID,
		UserID:       session.UserID,
		SelectedRole: selectedRole,
		ResumeShared: req.ResumeShared,
	}
	// 唯一索引兜底并发的重复投递。
	if err := h.db.WithContext(ctx).Create(&application).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "you have already applied to this placement")
			return
		}
		logger.Error("create application failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("application submitted", slog.String("selected_role", selectedRole))
	c.JSON(http.StatusCreated, applicationResponse{
		ID:           application.ID,
		PlacementID:  placement.ID,
		CompanyName:  placement.CompanyName,
		Role:         placement.Role,
		SelectedRole: application.SelectedRole,
		ResumeShared: application.ResumeShared,
		CreatedAt:    application.CreatedAt,
	})
}

// resolveSelectedRole 有子岗位列表时必须从中选择；否则只能是招聘本身的岗位。
func resolveSelectedRole(p database.Placement, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if len(p.Roles) > 0 {
		if requested == "" {
			return "", errors.New("selected_role is required")
		}
		for _, r := range p.Roles {
			if strings.EqualFold(r, requested) {
				return r, nil
			}
		}
		return "", fmt.Errorf("selected_role must be one of: %s", strings.Join(p.Roles, ", "))
	}
	if requested == "" || strings.EqualFold(requested, p.Role) {
		return p.Role, nil
	}
	return "", fmt.Errorf("selected_role must be %s", p.Role)
}

// MyApplications 返回当前用户的投递记录。
func (h *PlacementHandler) MyApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	items := []applicationResponse{}
	if err := h.db.WithContext(c.Request.Context()).Table("placement_applications").
		Select("placement_applications.id, placement_applications.placement_id, placements.company_name, " +
			"placements.role, placement_applications.selected_role, placement_applications.resume_shared, " +
			"placement_applications.created_at").
		Joins("JOIN placements ON placements.id = placement_applications.placement_id").
		Where("placement_applications.user_id = ?", userID).
		Order("placement_applications.created_at DESC").
		Scan(&items).Error; err != nil {
		loggerFromContext(c).Error("list own applications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": items})
}

type applicantResponse struct {
	ID           uint      `json:"id"`
	UserID       uint      `json:"user_id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	RollNumber   string    `json:"roll_number"`
	Year         *int      `json:"year"`
	Branch       *string   `json:"branch"`
	CGPA         *float64  `json:"cgpa"`
	SelectedRole string    `json:"selected_role"`
	ResumeShared bool      `json:"resume_shared"`
	ResumeURL    string    `json:"resume_url,omitempty" gorm:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListApplications 返回某个招聘的投递人；共享简历的附带 5 分钟有效的下载链接。
func (h *PlacementHandler) ListApplications(c *gin.Context) {
	placementID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid placement id")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("placement_id", uint64(placementID)))

	var placement database.Placement
	if err := h.db.WithContext(ctx).Select("id").First(&placement, placementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "placement not found")
			return
		}
		logger.Error("load placement failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	items := []applicantResponse{}
	if err := h.db.WithContext(ctx).Table("placement_applications").
		Select("placement_applications.id, placement_applications.user_id, COALESCE(profiles.full_name, '') AS full_name, " +
			"COALESCE(profiles.email, '') AS email, COALESCE(profiles.roll_number, '') AS roll_number, profiles.year, " +
			"profiles.branch, profiles.cgpa, placement_applications.selected_role, " +
			"placement_applications.resume_shared, placement_applications.created_at").
		Joins("LEFT JOIN profiles ON profiles.id = placement_applications.user_id").
		Where("placement_applications.placement_id = ?", placementID).
		Order("placement_applications.created_at").
		Scan(&items).Error; err != nil {
		logger.Error("list applications failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var sharing []uint
	for _, it := range items {
		if it.ResumeShared {
			sharing = append(sharing, it.UserID)
		}
	}
	if len(sharing) > 0 {
		var resumes []database.Resume
		if err := h.db.WithContext(ctx).Where("user_id IN ?", sharing).
			Order("created_at DESC").Order("id DESC").Find(&resumes).Error; err != nil {
			logger.Error("load shared resumes failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		latest := make(map[uint]database.Resume, len(resumes))
		for _, r := range resumes {
			if _, seen := latest[r.UserID]; !seen {
				latest[r.UserID] = r
			}
		}
		for i := range items {
			r, found := latest[items[i].UserID]
			if !items[i].ResumeShared || !found {
				continue
			}
			url, err := h.storage.GeneratePresignedURL(ctx, h.storage.ResumesBucket(), r.ObjectKey, resumeLinkTTL)
			if err != nil {
				logger.Error("sign resume url failed", slog.Uint64("resume_id", uint64(r.ID)), slog.Any("error", err))
				continue
			}
			items[i].ResumeURL = url
		}
	}

	c.JSON(http.StatusOK, gin.H{"applications": items})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func uniqueTrimmed(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if _, dup := seen[key]; v == "" || dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"placementPortal/internal/auth"
	"placementPortal/internal/database"
	"placementPortal/internal/roles"
)

const refreshTokenCookieName = "refresh_token"

// AuthHandler 处理注册、登录、刷新与退出。
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	redis                 redis.UniversalClient
	emailDomain           string
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
	cookieDomain          string
}

// AuthSettings groups the login policy knobs.
type AuthSettings struct {
	EmailDomain           string
	LoginRateLimitPerHour int
	LoginLockThreshold    int
	LoginLockTTL          time.Duration
	CookieDomain          string
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient redis.UniversalClient, settings AuthSettings) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		redis:                 redisClient,
		emailDomain:           strings.ToLower(settings.EmailDomain),
		loginRateLimitPerHour: settings.LoginRateLimitPerHour,
		loginLockThreshold:    settings.LoginLockThreshold,
		loginLockTTL:          settings.LoginLockTTL,
		cookieDomain:          settings.CookieDomain,
	}
}

type registerRequest struct {
	Email      string `json:"email" binding:"required,email,max=255"`
	Password   string `json:"password" binding:"required,max=72,strongpassword"`
	FullName   string `json:"full_name" binding:"required,notblank,max=100"`
	Phone      string `json:"phone" binding:"omitempty,max=20,phone"`
	RollNumber string `json:"roll_number" binding:"omitempty,max=50"`
	Year       *int   `json:"year" binding:"omitempty,gte=1,lte=4"`
	Branch     string `json:"branch" binding:"omitempty,max=100"`
}

// Register 创建账号与档案，并授予 student 角色。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if h.emailDomain != "" && !strings.HasSuffix(email, h.emailDomain) {
		BadRequest(c, "email must end with "+h.emailDomain)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.String("email", email))

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	profile := database.Profile{
		Email:        email,
		PasswordHash: hashed,
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        strings.TrimSpace(req.Phone),
		RollNumber:   strings.TrimSpace(req.RollNumber),
		Year:         req.Year,
		Branch:       optionalString(req.Branch),
		Version:      1,
		RolesVersion: 1,
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}
		return tx.Create(&database.UserRole{UserID: profile.ID, Role: string(roles.Student)}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		logger.Info("register conflict: email already registered")
		Conflict(c, "email already registered")
		return
	}
	if err != nil {
		logger.Error("create profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(profile.ID)))
	c.JSON(http.StatusCreated, newProfileResponse(profile, roles.NewSet(roles.Student)))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login 校验口令并返回 Token。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := loggerFromContext(c).With(slog.String("email", email))

	count, err := incrWithTTL(ctx, h.redis, loginRateKey(c.ClientIP(), email, time.Now()), time.Hour)
	if err != nil {
		logger.Warn("login rate counter unavailable", slog.Any("error", err))
		count = 0
	}
	if count > int64(h.loginRateLimitPerHour) {
		Error(c, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if ttl, _ := h.redis.TTL(ctx, loginLockKey(email)).Result(); ttl > 0 {
		Error(c, http.StatusTooManyRequests, "account temporarily locked")
		return
	}

	var profile database.Profile
	err = h.db.WithContext(ctx).Where("email = ?", email).First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 用户不存在时同样执行一次哈希比较。
	if !auth.CheckPasswordHash(req.Password, profile.PasswordHash) {
		logger.Info("login failed", slog.Bool("user_found", err == nil))
		h.incrementLoginFail(ctx, email)
		Error(c, http.StatusUnauthorized, "invalid email or password")
		return
	}

	_ = h.redis.Del(ctx, loginFailKey(email)).Err()

	tokenPair, err := h.authService.GenerateTokenPair(profile.ID)
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user logged in", slog.Uint64("user_id", uint64(profile.ID)))
	h.replyWithTokenPair(c, tokenPair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，旧令牌随即失效。
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, ok := h.validRefreshClaims(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c).With(slog.Uint64("user_id", uint64(claims.UserID)))

	var profile database.Profile
	if err := h.db.WithContext(ctx).Select("id").First(&profile, claims.UserID).Error; err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(claims.UserID)
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.revokeRefreshToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair)
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := h.validRefreshClaims(c)
	if !ok {
		return
	}

	if err := h.revokeRefreshToken(c.Request.Context(), claims.ID, claims.ExpiresAt); err != nil {
		loggerFromContext(c).Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
	})
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,max=72,strongpassword"`
}

// ChangePassword 校验当前密码后更新，并让当前刷新令牌失效。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err)
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c)

	var profile database.Profile
	if err := h.db.WithContext(ctx).Select("id", "password_hash").First(&profile, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if !auth.CheckPasswordHash(req.CurrentPassword, profile.PasswordHash) {
		BadRequest(c, "current password is incorrect")
		return
	}
	if req.NewPassword == req.CurrentPassword {
		BadRequest(c, "new password must be different from current password")
		return
	}

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).Where("id = ?", userID).
		Update("password_hash", hashed).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		if claims, err := h.authService.ValidateRefreshToken(token); err == nil && claims.ID != "" {
			_ = h.revokeRefreshToken(ctx, claims.ID, claims.ExpiresAt)
		}
	}

	tokenPair, err := h.authService.GenerateTokenPair(userID)
	if err != nil {
		logger.Error("change password: generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.replyWithTokenPair(c, tokenPair)
}

// Me 返回当前用户档案与按请求解析的角色。
func (h *AuthHandler) Me(c *gin.Context) {
	session, ok := sessionFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var profile database.Profile
	if err := h.db.WithContext(c.Request.Context()).First(&profile, session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		loggerFromContext(c).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(profile, session.Roles))
}

// validRefreshClaims 读取并校验刷新令牌；失败时已写入响应。
func (h *AuthHandler) validRefreshClaims(c *gin.Context) (*auth.TokenClaims, bool) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return nil, false
	}

	logger := loggerFromContext(c)
	claims, err := h.authService.ValidateRefreshToken(refreshToken)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return nil, false
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		Unauthorized(c)
		return nil, false
	}

	err = h.redis.Get(c.Request.Context(), refreshTokenBlacklistKeyPrefix+claims.ID).Err()
	if err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return nil, false
	}
	if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, tokenPair auth.TokenPair) {
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: tokenPair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.authService.AccessTokenTTL().Seconds()),
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	ttl := h.authService.RefreshTokenTTL()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   int(ttl.Seconds()),
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
		Expires:  time.Now().Add(ttl),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, jti string, expiresAt *jwt.NumericDate) error {
	ttl := h.authService.RefreshTokenTTL()
	if expiresAt != nil {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, refreshTokenBlacklistKeyPrefix+jti, "revoked", ttl).Err()
}

func (h *AuthHandler) incrementLoginFail(ctx context.Context, email string) {
	count, err := incrWithTTL(ctx, h.redis, loginFailKey(email), h.loginLockTTL)
	if err != nil {
		return
	}
	if count >= int64(h.loginLockThreshold) {
		_ = h.redis.Set(ctx, loginLockKey(email), "1", h.loginLockTTL).Err()
	}
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

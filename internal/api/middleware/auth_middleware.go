package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"placementPortal/internal/auth"
	"placementPortal/internal/roles"
)

// TokenValidator 校验访问令牌。
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.TokenClaims, error)
}

// RoleResolver loads the caller's roles from storage.
type RoleResolver interface {
	Roles(ctx context.Context, userID uint) (roles.Set, error)
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware 校验访问令牌，按请求从数据库解析角色，并把会话注入上下文。
// 角色查询失败时按无角色处理。
func AuthMiddleware(tokens TokenValidator, resolver RoleResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := tokens.ValidateAccessToken(rawToken)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		logger := LoggerFromContext(c).With(slog.Uint64("user_id", uint64(claims.UserID)))
		set, err := resolver.Roles(c.Request.Context(), claims.UserID)
		if err != nil {
			logger.Error("resolve roles failed", slog.Any("error", err))
			set = roles.Set{}
		}

		session := auth.Session{UserID: claims.UserID, Roles: set}
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), session))
		c.Set("userID", claims.UserID)
		c.Set(slogLoggerKey, logger)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	if strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// SessionFromContext returns the session placed by AuthMiddleware.
func SessionFromContext(c *gin.Context) (auth.Session, bool) {
	return auth.FromContext(c.Request.Context())
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"placementPortal/internal/roles"
)

const insufficientRoleMessage = "you do not have permission to perform this action"

// RequireRoles 仅放行持有 allowed 中任一角色的会话。
func RequireRoles(allowed ...roles.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok {
			abortUnauthorized(c)
			return
		}
		if !session.Can(allowed...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": insufficientRoleMessage})
			return
		}
		c.Next()
	}
}

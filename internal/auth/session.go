package auth

import (
	"context"

	"placementPortal/internal/roles"
)

// Session 是单个请求（或 WebSocket 连接）内的认证结果。
type Session struct {
	UserID uint
	Roles  roles.Set
}

// Can reports whether the session holds any role of the allow-list.
func (s Session) Can(allowed ...roles.Role) bool {
	return s.Roles.HasAny(allowed...)
}

type sessionKey struct{}

// WithSession 把会话放入 context。
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext 取出会话；不存在时返回 false。
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || s.UserID == 0 {
		return Session{}, false
	}
	return s, true
}

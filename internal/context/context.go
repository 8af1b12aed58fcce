package context

import (
	"github.com/gin-gonic/gin"
	"github.com/taskmgr818/billpay/internal/session"
)

// Context key for the authenticated session.
const CtxKeySession = "auth_session"

// MustGetSession extracts the authenticated session from the Gin context.
// Panics if not present (should only be called after SessionAuth middleware).
func MustGetSession(c *gin.Context) *session.Session {
	v, exists := c.Get(CtxKeySession)
	if !exists {
		panic("MustGetSession called without SessionAuth middleware")
	}
	return v.(*session.Session)
}

// GetSessionID is a shorthand that returns the session's user id.
func GetSessionID(c *gin.Context) string {
	return MustGetSession(c).ID
}

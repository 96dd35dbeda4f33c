package api

import (
	"crypto/rand"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/skillforge/skillforge/pkg/httperr"
)

const (
	ctxUserID    = "skillforge.user_id"
	ctxIsAdmin   = "skillforge.is_admin"
	ctxRequestID = "skillforge.request_id"
)

// securityHeaders sets the standard response headers tarsy's Echo
// middleware sets, translated to gin's middleware shape.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestID assigns a time-sortable ULID to every request, echoed back on
// X-Request-Id and attached to every log line abortWithError emits for
// that request. Grounded on 2389-research-mammoth's core.NewULID (same
// crypto/rand entropy source).
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ulid.MustNew(ulid.Now(), rand.Reader).String()
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func requestIDFromContext(c *gin.Context) string {
	v, _ := c.Get(ctxRequestID)
	id, _ := v.(string)
	return id
}

// authMiddleware extracts and verifies the bearer token, storing the
// caller's user id and admin flag in the gin context for downstream
// handlers (spec.md §6: "auth: bearer token").
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			abortWithError(c, httperr.ErrAuthMissing)
			return
		}
		claims, err := s.tokens.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			abortWithError(c, httperr.ErrAuthInvalid)
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxIsAdmin, claims.IsAdmin)
		c.Next()
	}
}

// requireAdmin rejects non-admin callers. Must run after authMiddleware.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := c.Get(ctxIsAdmin)
		if admin, ok := isAdmin.(bool); !ok || !admin {
			abortWithError(c, httperr.ErrNotAdmin)
			return
		}
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) string {
	v, _ := c.Get(ctxUserID)
	userID, _ := v.(string)
	return userID
}

package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/httperr"
)

// abortWithError maps err to its HTTP status/message via pkg/httperr and
// aborts the gin context, mirroring tarsy's mapServiceError boundary.
func abortWithError(c *gin.Context, err error) {
	status := httperr.Status(err)
	if status >= 500 {
		slog.Error("unhandled api error", "path", c.Request.URL.Path, "request_id", requestIDFromContext(c), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": httperr.Message(err)})
}

// bindJSONOrAbort binds the request body into dst, aborting with a 400
// ValidationError on failure. Returns whether binding succeeded.
func bindJSONOrAbort(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, httperr.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/session"
)

type createSessionResponse struct {
	ThreadID string `json:"thread_id"`
}

// createSessionHandler handles POST /api/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	threadID, err := s.sessions.Create(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, createSessionResponse{ThreadID: threadID})
}

type listSessionsResponse struct {
	Threads []session.ThreadSummary `json:"threads"`
	Total   int                     `json:"total"`
}

// listSessionsHandler handles GET /api/sessions?page&page_size.
func (s *Server) listSessionsHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > session.MaxPageSize {
		pageSize = session.MaxPageSize
	}

	threads, total, err := s.sessions.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listSessionsResponse{Threads: threads, Total: total})
}

// destroySessionHandler handles DELETE /api/sessions/:thread_id.
func (s *Server) destroySessionHandler(c *gin.Context) {
	userID := userIDFromContext(c)
	threadID := c.Param("thread_id")

	if err := s.sessions.Destroy(c.Request.Context(), userID, threadID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "destroyed"})
}

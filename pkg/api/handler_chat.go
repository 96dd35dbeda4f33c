package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/interrupt"
)

// checkThreadOwnership is the sole authorization proof spec.md §6 grants
// chat/resume/status/history: threadID must carry "{userID}-" as its
// prefix. No store lookup is performed.
func checkThreadOwnership(c *gin.Context, threadID string) bool {
	userID := userIDFromContext(c)
	if !strings.HasPrefix(threadID, userID+"-") {
		abortWithError(c, httperr.ErrNotOwner)
		return false
	}
	return true
}

type chatRequest struct {
	Message string   `json:"message"`
	Files   []string `json:"files,omitempty"`
	Mode    string   `json:"mode,omitempty"`
}

func modeOf(raw string) agent.Mode {
	if raw == string(agent.ModePlan) {
		return agent.ModePlan
	}
	return agent.ModeBuild
}

// chatHandler handles POST /api/chat/:thread_id, streaming SSE frames.
func (s *Server) chatHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	if !checkThreadOwnership(c, threadID) {
		return
	}
	userID := userIDFromContext(c)

	var req chatRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}

	events := s.runner.RunTurn(c.Request.Context(), threadID, userID, req.Message, req.Files, modeOf(req.Mode))
	s.streamFrames(c, threadID, req.Message, events)
}

type resumeRequest struct {
	Action  string   `json:"action"`
	Answers []string `json:"answers,omitempty"`
	Mode    string   `json:"mode,omitempty"`
}

// resumeHandler handles POST /api/resume/:thread_id, streaming SSE frames.
func (s *Server) resumeHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	if !checkThreadOwnership(c, threadID) {
		return
	}
	userID := userIDFromContext(c)

	var req resumeRequest
	if !bindJSONOrAbort(c, &req) {
		return
	}

	events := s.interrupts.Resume(c.Request.Context(), threadID, userID, interrupt.Action(req.Action), req.Answers, modeOf(req.Mode))
	s.streamFrames(c, threadID, "", events)
}

// streamFrames multiplexes events into SSE frames and writes them onto the
// response as they arrive, using gin's Stream helper (spec.md §7: the
// stream ALWAYS terminates with exactly one "end" frame).
func (s *Server) streamFrames(c *gin.Context, threadID, userMessage string, events <-chan agent.InternalEvent) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if s.metrics != nil {
		s.metrics.SSEStreamsActive.Inc()
		defer s.metrics.SSEStreamsActive.Dec()
	}

	frames := s.multiplex.Stream(c.Request.Context(), threadID, userMessage, events)
	c.Stream(func(w io.Writer) bool {
		frame, ok := <-frames
		if !ok {
			return false
		}
		if s.metrics != nil {
			s.metrics.SSEFramesEmitted.WithLabelValues(frame.Event).Inc()
		}
		_, _ = w.Write([]byte("event: " + frame.Event + "\ndata: " + string(frame.Data) + "\n\n"))
		return frame.Event != "end"
	})
}

// statusHandler handles GET /api/status/:thread_id.
func (s *Server) statusHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	if !checkThreadOwnership(c, threadID) {
		return
	}
	st, err := s.sessions.GetStatus(c.Request.Context(), threadID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// historyHandler handles GET /api/history/:thread_id.
func (s *Server) historyHandler(c *gin.Context) {
	threadID := c.Param("thread_id")
	if !checkThreadOwnership(c, threadID) {
		return
	}
	messages, err := s.sessions.GetHistory(c.Request.Context(), threadID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

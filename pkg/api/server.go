// Package api wires every skillforge component onto the HTTP surface of
// spec.md §6. Grounded on tarsy's pkg/api/server.go: a Server struct built
// by a constructor taking the services available at startup, then widened
// by Set* methods for the components wired later in main, validated by a
// single ValidateWiring call before Start.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/authn"
	"github.com/skillforge/skillforge/pkg/interrupt"
	"github.com/skillforge/skillforge/pkg/sandbox"
	"github.com/skillforge/skillforge/pkg/session"
	"github.com/skillforge/skillforge/pkg/stream"
	"github.com/skillforge/skillforge/pkg/store"
	"github.com/skillforge/skillforge/pkg/telemetry"
	"github.com/skillforge/skillforge/pkg/upload"
	"github.com/skillforge/skillforge/pkg/validation"
	"github.com/skillforge/skillforge/pkg/webdav"
)

// Server is the HTTP API server for skillforge.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	users    store.UserStore
	skills   store.SkillStore
	versions store.ImageVersionStore
	tokens   *authn.TokenIssuer

	sessions   *session.Manager
	runner     *agent.Runner
	interrupts *interrupt.Handler
	multiplex  *stream.Multiplexer
	sandboxes  *sandbox.Manager

	uploads *upload.Manager
	dav     *webdav.Gateway

	validations      *validation.Orchestrator
	skillsPendingDir string

	metrics *telemetry.Metrics // nil if metrics disabled
}

// NewServer creates a Server with the components available at construction
// time and registers every route. Components wired later (validation
// orchestrator, image versions, skills pending dir, metrics) are attached
// via Set*; ValidateWiring checks all of them before Start except metrics,
// which may stay nil.
func NewServer(
	users store.UserStore,
	skills store.SkillStore,
	tokens *authn.TokenIssuer,
	sessions *session.Manager,
	runner *agent.Runner,
	interrupts *interrupt.Handler,
	multiplex *stream.Multiplexer,
	sandboxes *sandbox.Manager,
	uploads *upload.Manager,
	dav *webdav.Gateway,
	bodyLimitBytes int64,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(securityHeaders())
	if bodyLimitBytes > 0 {
		r.MaxMultipartMemory = bodyLimitBytes
	}

	s := &Server{
		router:     r,
		users:      users,
		skills:     skills,
		tokens:     tokens,
		sessions:   sessions,
		runner:     runner,
		interrupts: interrupts,
		multiplex:  multiplex,
		sandboxes:  sandboxes,
		uploads:    uploads,
		dav:        dav,
	}
	s.setupRoutes()
	return s
}

// SetValidationOrchestrator wires the Validation Orchestrator, used by the
// admin skill-lifecycle endpoints.
func (s *Server) SetValidationOrchestrator(o *validation.Orchestrator) {
	s.validations = o
}

// SetImageVersions wires the store used to record a new shared-skills image
// version every time a skill is approved, and to report the current one.
func (s *Server) SetImageVersions(v store.ImageVersionStore) {
	s.versions = v
}

// SetMetrics wires the Prometheus collectors recorded at the API boundary
// (spec.md's ambient observability; e.g. SSE stream/frame counters).
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// ValidateWiring checks that every required Set*-wired component has been
// attached; metrics is optional and not checked.
// Call after all Set* calls and before Start.
func (s *Server) ValidateWiring() error {
	var missing []string
	if s.validations == nil {
		missing = append(missing, "validations (call SetValidationOrchestrator)")
	}
	if s.skillsPendingDir == "" {
		missing = append(missing, "skillsPendingDir (call SetSkillsPendingDir)")
	}
	if s.versions == nil {
		missing = append(missing, "versions (call SetImageVersions)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("api server wiring incomplete: %v", missing)
	}
	return nil
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying router, e.g. for httptest.NewServer in
// tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api")

	api.POST("/auth/register", s.registerHandler)
	api.POST("/auth/login", s.loginHandler)

	authed := api.Group("")
	authed.Use(s.authMiddleware())

	authed.POST("/sessions", s.createSessionHandler)
	authed.GET("/sessions", s.listSessionsHandler)
	authed.DELETE("/sessions/:thread_id", s.destroySessionHandler)

	authed.POST("/chat/:thread_id", s.chatHandler)
	authed.POST("/resume/:thread_id", s.resumeHandler)
	authed.GET("/status/:thread_id", s.statusHandler)
	authed.GET("/history/:thread_id", s.historyHandler)

	authed.POST("/files/init-upload", s.initUploadHandler)
	authed.POST("/files/upload-chunk", s.uploadChunkHandler)
	authed.POST("/files/complete-upload", s.completeUploadHandler)
	authed.DELETE("/files/upload/:upload_id", s.cancelUploadHandler)
	authed.GET("/files/upload/:upload_id/progress", s.uploadProgressHandler)
	authed.POST("/files/upload-simple", s.uploadSimpleHandler)

	// gin's Any() only covers the standard net/http verb set, which leaves
	// out the WebDAV-specific PROPFIND/MKCOL/MOVE; each verb spec.md §4.9
	// names is registered individually via Handle.
	for _, method := range []string{"PROPFIND", http.MethodGet, http.MethodPut, "MKCOL", http.MethodDelete, "MOVE"} {
		authed.Handle(method, "/dav/*path", s.davHandler)
	}

	admin := api.Group("/admin")
	admin.Use(s.authMiddleware(), s.requireAdmin())
	admin.POST("/skills/upload", s.adminUploadSkillHandler)
	admin.GET("/skills", s.adminListSkillsHandler)
	admin.GET("/skills/:id", s.adminGetSkillHandler)
	admin.POST("/skills/:id/validate", s.adminValidateSkillHandler)
	admin.POST("/skills/:id/revalidate", s.adminRevalidateSkillHandler)
	admin.POST("/skills/:id/approve", s.adminApproveSkillHandler)
	admin.POST("/skills/:id/reject", s.adminRejectSkillHandler)
	admin.DELETE("/skills/:id", s.adminDeleteSkillHandler)
	admin.POST("/skills/full-test", s.adminFullTestHandler)
	admin.GET("/skills/:id/report", s.adminSkillReportHandler)
	admin.GET("/image-version", s.adminCurrentImageVersionHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	if s.sandboxes != nil {
		h := s.sandboxes.Health()
		c.JSON(http.StatusOK, gin.H{"status": status, "sandbox_pool": h})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

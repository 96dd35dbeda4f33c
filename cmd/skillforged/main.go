// Command skillforged is the skillforge server: it wires every package
// under pkg/ into a running HTTP API, following the bootstrap shape of
// codeready-toolchain-tarsy's cmd/tarsy/main.go (flag-parsed config
// directory, .env loading, config init, store connect, service
// construction, router start) generalized from tarsy's single ent-backed
// database to skillforge's full component graph.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/api"
	"github.com/skillforge/skillforge/pkg/authn"
	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/config"
	"github.com/skillforge/skillforge/pkg/interrupt"
	"github.com/skillforge/skillforge/pkg/llmclient"
	"github.com/skillforge/skillforge/pkg/sandbox"
	"github.com/skillforge/skillforge/pkg/session"
	"github.com/skillforge/skillforge/pkg/store/postgres"
	"github.com/skillforge/skillforge/pkg/store/sqlitecheckpoint"
	"github.com/skillforge/skillforge/pkg/stream"
	"github.com/skillforge/skillforge/pkg/telemetry"
	"github.com/skillforge/skillforge/pkg/upload"
	"github.com/skillforge/skillforge/pkg/validation"
	"github.com/skillforge/skillforge/pkg/webdav"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("could not load %s: %v (continuing with existing environment)", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.InitGlobalTracer(ctx, telemetry.TracerConfig{
		Enabled:     getEnv("OTEL_TRACES_ENABLED", "false") == "true",
		ServiceName: "skillforged",
	}); err != nil {
		log.Fatalf("initializing tracer: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	for _, dir := range []string{cfg.Storage.WorkspacesDir, cfg.Storage.UploadsScratchDir, cfg.Storage.SkillsPendingDir, cfg.Storage.SkillsApprovedDir, filepath.Dir(cfg.Checkpoint.Path)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("creating directory %s: %v", dir, err)
		}
	}

	db, err := postgres.Connect(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()
	slog.Info("connected to postgres relational store")

	kv, err := sqlitecheckpoint.Open(cfg.Checkpoint.Path)
	if err != nil {
		log.Fatalf("opening checkpoint store: %v", err)
	}
	defer kv.Close()
	checkpoints := checkpoint.New(kv)

	signingKey := os.Getenv(cfg.Auth.TokenSigningKeyEnv)
	if signingKey == "" {
		log.Fatalf("environment variable %s must hold the token signing key", cfg.Auth.TokenSigningKeyEnv)
	}
	tokens := authn.NewTokenIssuer([]byte(signingKey), cfg.Auth.TokenTTL)

	sandboxExecutorURL := getEnv("SKILLFORGE_SANDBOX_EXECUTOR_URL", "http://localhost:9000")
	sandboxes := sandbox.New(sandbox.NewHTTPExecutor(sandboxExecutorURL))

	llmBigURL := getEnv("SKILLFORGE_LLM_BIG_URL", "http://localhost:9100/generate")
	llmFlashURL := getEnv("SKILLFORGE_LLM_FLASH_URL", "http://localhost:9100/generate-flash")
	llm := llmclient.NewHTTPClient(llmBigURL, llmFlashURL, &http.Client{Timeout: 2 * time.Minute})

	tools := &sandbox.UserToolExecutor{Manager: sandboxes}
	runner := agent.New(checkpoints, llm, tools)
	interrupts := interrupt.New(checkpoints, runner)
	sessions := session.New(db.Threads, checkpoints, sandboxes)
	multiplex := stream.New(llm, session.Titler{Threads: db.Threads})

	uploads := upload.New(cfg.Storage.UploadsScratchDir, cfg.Storage.WorkspacesDir, cfg.Upload.ChunkSizeBytes, cfg.Upload.SimpleMaxBytes, cfg.Upload.StaleSessionTTL)
	dav := webdav.New(cfg.Storage.WorkspacesDir)

	orchestrator := validation.New(db.Skills, sandboxes, checkpoints, llm, validation.FileSkillMDReader{})

	if err := orchestrator.ResumeIncomplete(ctx, kv); err != nil {
		slog.Error("resuming incomplete validations at startup", "error", err)
	}
	if err := uploads.CleanupStale(ctx); err != nil {
		slog.Error("cleaning up stale uploads at startup", "error", err)
	}

	server := api.NewServer(db.Users, db.Skills, tokens, sessions, runner, interrupts, multiplex, sandboxes, uploads, dav, cfg.Server.BodyLimitBytes)
	server.SetValidationOrchestrator(orchestrator)
	server.SetMetrics(metrics)
	server.SetSkillsPendingDir(cfg.Storage.SkillsPendingDir)
	server.SetImageVersions(db.Versions)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("api server wiring: %v", err)
	}

	metricsRouter := gin.New()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	metricsAddr := getEnv("SKILLFORGE_METRICS_ADDR", ":9090")
	go func() {
		if err := http.ListenAndServe(metricsAddr, metricsRouter); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting skillforge server", "addr", cfg.Server.Addr)
		errCh <- server.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
	}
}

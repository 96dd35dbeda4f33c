// Package postgres is skillforge's relational store: a jackc/pgx/v5-backed
// implementation of every interface in pkg/store, grounded on
// codeready-toolchain-tarsy's pkg/database client (connection pooling,
// golang-migrate with embedded SQL) with ent removed in favor of pgx
// queries, since ent's generated client code cannot be produced without
// running `go generate` (see DESIGN.md).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql, used only to drive migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection-pool settings for the relational store.
type Config struct {
	DSN             string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// Client wraps a pgx connection pool and exposes the four per-entity stores.
type Client struct {
	Pool *pgxpool.Pool

	Users    *UserStore
	Threads  *ThreadStore
	Skills   *SkillStore
	Versions *ImageVersionStore
}

// Connect opens a pool, runs pending migrations, and returns a ready Client.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Client{
		Pool:     pool,
		Users:    &UserStore{pool: pool},
		Threads:  &ThreadStore{pool: pool},
		Skills:   &SkillStore{pool: pool},
		Versions: &ImageVersionStore{pool: pool},
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.Pool.Close()
}

// runMigrations applies every embedded migration using golang-migrate's
// database/sql-based postgres driver, which needs its own short-lived
// connection separate from the pgxpool used for runtime queries.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// HealthStatus reports relational-store connectivity and pool utilization.
type HealthStatus struct {
	Status          string `json:"status"`
	TotalConns      int32  `json:"total_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	IdleConns       int32  `json:"idle_conns"`
	MaxConns        int32  `json:"max_conns"`
}

// Health pings the pool and reports its current utilization.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	if err := c.Pool.Ping(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy"}, err
	}
	stat := c.Pool.Stat()
	return &HealthStatus{
		Status:        "healthy",
		TotalConns:    stat.TotalConns(),
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
	}, nil
}

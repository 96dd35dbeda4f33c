// Package sandbox is the Sandbox Manager of spec.md §4.1: a process-wide
// registry guaranteeing at most one live sandbox per ownerKey, with
// transparent recreation when the underlying runtime reports a sandbox
// missing. Grounded on codeready-toolchain-tarsy's pkg/queue.WorkerPool
// (mutex-protected registry, slog logging, typed health snapshot), with the
// worker-dispatch responsibility replaced by cache-with-single-flight
// semantics per golang.org/x/sync/singleflight.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// State is a Sandbox's runtime lifecycle state (spec.md §3).
type State string

const (
	StateAbsent  State = "absent"
	StateRunning State = "running"
	StateDead    State = "dead"
)

// Kind distinguishes the four ownerKey namespaces spec.md §4.1 defines.
type Kind string

const (
	KindAgent      Kind = "agent"
	KindFiles      Kind = "files"
	KindValidation Kind = "validation"
	KindOffline    Kind = "offline"
)

// Sandbox is runtime-only state; it is never persisted (spec.md §3).
type Sandbox struct {
	ID          string
	OwnerKey    string
	Kind        Kind
	BlockedNet  bool
	mu          sync.Mutex
	state       State
	handle      ExecutorHandle
}

// State reports the last-known lifecycle state under lock.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrSandboxUnavailable is the typed error spec.md §4.1/§7 requires when
// sandbox creation fails.
var ErrSandboxUnavailable = errors.New("sandbox: unavailable")

// ExecutorHandle is the opaque per-sandbox handle returned by the sandbox
// executor collaborator (spec.md §1): liveness, destroy, network control,
// execute and resource stats; it has no file upload or download
// operation. Defined here rather than in pkg/sandbox/executor
// to avoid an import cycle, since both Manager and Executor need it.
type ExecutorHandle interface {
	// Alive reports whether the underlying runtime still reports this
	// sandbox as running.
	Alive(ctx context.Context) bool
	// Destroy best-effort terminates the sandbox. Idempotent.
	Destroy(ctx context.Context) error
	// DisconnectNetwork and ReconnectNetwork toggle network access on a
	// running sandbox. Implementations that cannot toggle at runtime
	// should report an error. The validation flow does not toggle; it runs
	// its offline step in a separate block-all-network sandbox.
	DisconnectNetwork(ctx context.Context) error
	ReconnectNetwork(ctx context.Context) error
	// Execute runs cmd inside the sandbox and returns its captured stdout
	// and exit code.
	Execute(ctx context.Context, cmd []string) (*ExecResult, error)
	// Stats reports point-in-time resource usage.
	Stats(ctx context.Context) (*ResourceStats, error)
}

// Execute runs cmd inside the sandbox.
func (s *Sandbox) Execute(ctx context.Context, cmd []string) (*ExecResult, error) {
	return s.handle.Execute(ctx, cmd)
}

// Stats reports point-in-time resource usage for the sandbox.
func (s *Sandbox) Stats(ctx context.Context) (*ResourceStats, error) {
	return s.handle.Stats(ctx)
}

// Executor creates sandbox handles. Implemented by pkg/sandbox's reference
// HTTP-based implementation, grounded on the opaque executor contract
// spec.md §1 names.
type Executor interface {
	Create(ctx context.Context, ownerKey string, blockNetwork bool) (ExecutorHandle, error)
}

// Manager is the process-wide sandbox registry.
type Manager struct {
	exec Executor

	mu    sync.Mutex
	cache map[string]*Sandbox

	flight singleflight.Group
}

// New creates a Manager backed by exec.
func New(exec Executor) *Manager {
	return &Manager{
		exec:  exec,
		cache: make(map[string]*Sandbox),
	}
}

// GetAgentSandbox returns the agent/files sandbox for userID, keyed by
// userID (spec.md §4.1: all threads of one user share one sandbox).
func (m *Manager) GetAgentSandbox(ctx context.Context, userID string) (*Sandbox, error) {
	return m.getOrCreate(ctx, userID, KindAgent, false)
}

// GetFilesSandbox returns the WebDAV/upload sandbox for userID. This is
// the same cache key and sandbox as GetAgentSandbox: both are keyed by
// userID in the shared cache, matching the "one sandbox per user" design
// consequence of spec.md §4.1.
func (m *Manager) GetFilesSandbox(ctx context.Context, userID string) (*Sandbox, error) {
	return m.getOrCreate(ctx, userID, KindFiles, false)
}

// GetValidationSandbox returns the online-network validation sandbox for
// skillID.
func (m *Manager) GetValidationSandbox(ctx context.Context, skillID string) (*Sandbox, error) {
	return m.getOrCreate(ctx, "validation_"+skillID, KindValidation, false)
}

// GetOfflineSandbox returns the block-all-network offline sandbox for
// skillID. The network policy is fixed at creation and never toggled.
func (m *Manager) GetOfflineSandbox(ctx context.Context, skillID string) (*Sandbox, error) {
	return m.getOrCreate(ctx, "offline_"+skillID, KindOffline, true)
}

func (m *Manager) getOrCreate(ctx context.Context, ownerKey string, kind Kind, blockNetwork bool) (*Sandbox, error) {
	m.mu.Lock()
	existing, ok := m.cache[ownerKey]
	m.mu.Unlock()

	if ok {
		if existing.handle.Alive(ctx) {
			existing.mu.Lock()
			existing.state = StateRunning
			existing.mu.Unlock()
			return existing, nil
		}
		slog.Warn("sandbox reported missing, recreating", "owner_key", ownerKey)
		m.mu.Lock()
		delete(m.cache, ownerKey)
		m.mu.Unlock()
	}

	v, err, _ := m.flight.Do(ownerKey, func() (any, error) {
		m.mu.Lock()
		if sb, ok := m.cache[ownerKey]; ok {
			m.mu.Unlock()
			return sb, nil
		}
		m.mu.Unlock()

		handle, err := m.exec.Create(ctx, ownerKey, blockNetwork)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
		}
		sb := &Sandbox{
			ID:         ownerKey,
			OwnerKey:   ownerKey,
			Kind:       kind,
			BlockedNet: blockNetwork,
			state:      StateRunning,
			handle:     handle,
		}
		m.mu.Lock()
		m.cache[ownerKey] = sb
		m.mu.Unlock()
		slog.Info("sandbox created", "owner_key", ownerKey, "kind", kind)
		return sb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sandbox), nil
}

// Destroy removes ownerKey from the cache and best-effort terminates the
// sandbox. Reports whether ownerKey was actually live: the first Destroy
// on a given key returns true, every subsequent Destroy on the same
// (now-absent) key returns false.
func (m *Manager) Destroy(ctx context.Context, ownerKey string) bool {
	m.mu.Lock()
	sb, ok := m.cache[ownerKey]
	if ok {
		delete(m.cache, ownerKey)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	sb.mu.Lock()
	sb.state = StateDead
	sb.mu.Unlock()

	if err := sb.handle.Destroy(ctx); err != nil {
		slog.Error("sandbox destroy failed", "owner_key", ownerKey, "error", err)
	}
	return true
}

// DisconnectNetwork and ReconnectNetwork toggle network access on the
// running sandbox owned by ownerKey. No caller in this module uses them:
// the validation flow's offline step runs in GetOfflineSandbox's
// block-all-network sandbox instead.
func (m *Manager) DisconnectNetwork(ctx context.Context, ownerKey string) error {
	m.mu.Lock()
	sb, ok := m.cache[ownerKey]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no sandbox for %s", ErrSandboxUnavailable, ownerKey)
	}
	return sb.handle.DisconnectNetwork(ctx)
}

func (m *Manager) ReconnectNetwork(ctx context.Context, ownerKey string) error {
	m.mu.Lock()
	sb, ok := m.cache[ownerKey]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no sandbox for %s", ErrSandboxUnavailable, ownerKey)
	}
	return sb.handle.ReconnectNetwork(ctx)
}

// PoolHealth reports registry-wide sandbox counts, grounded on tarsy's
// queue.PoolHealth shape.
type PoolHealth struct {
	TotalSandboxes int            `json:"total_sandboxes"`
	ByKind         map[Kind]int   `json:"by_kind"`
}

// Health snapshots the current cache contents.
func (m *Manager) Health() PoolHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := PoolHealth{TotalSandboxes: len(m.cache), ByKind: make(map[Kind]int)}
	for _, sb := range m.cache {
		h.ByKind[sb.Kind]++
	}
	return h
}

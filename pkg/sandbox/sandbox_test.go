package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	alive atomic.Bool
}

func newFakeHandle() *fakeHandle {
	h := &fakeHandle{}
	h.alive.Store(true)
	return h
}

func (h *fakeHandle) Alive(ctx context.Context) bool { return h.alive.Load() }
func (h *fakeHandle) Destroy(ctx context.Context) error {
	h.alive.Store(false)
	return nil
}
func (h *fakeHandle) DisconnectNetwork(ctx context.Context) error { return nil }
func (h *fakeHandle) ReconnectNetwork(ctx context.Context) error  { return nil }
func (h *fakeHandle) Execute(ctx context.Context, cmd []string) (*ExecResult, error) {
	return &ExecResult{Stdout: "ok", ExitCode: 0}, nil
}
func (h *fakeHandle) Stats(ctx context.Context) (*ResourceStats, error) {
	return &ResourceStats{}, nil
}

type fakeExecutor struct {
	mu      sync.Mutex
	created int
	fail    bool
}

func (e *fakeExecutor) Create(ctx context.Context, ownerKey string, blockNetwork bool) (ExecutorHandle, error) {
	e.mu.Lock()
	e.created++
	e.mu.Unlock()
	if e.fail {
		return nil, fmt.Errorf("boom")
	}
	return newFakeHandle(), nil
}

func TestManager_GetAgentSandbox_CachesByUserID(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)
	ctx := context.Background()

	sb1, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)
	sb2, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)

	assert.Same(t, sb1, sb2)
	assert.Equal(t, 1, exec.created)
}

func TestManager_GetFilesSandbox_SharesAgentSandbox(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)
	ctx := context.Background()

	agentSB, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)
	filesSB, err := m.GetFilesSandbox(ctx, "u1")
	require.NoError(t, err)

	assert.Same(t, agentSB, filesSB)
	assert.Equal(t, 1, exec.created)
}

func TestManager_RecreatesDeadSandbox(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)
	ctx := context.Background()

	sb1, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)
	sb1.handle.(*fakeHandle).alive.Store(false)

	sb2, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)

	assert.NotSame(t, sb1, sb2)
	assert.Equal(t, 2, exec.created)
}

func TestManager_CreateFailureIsSandboxUnavailable(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	m := New(exec)

	_, err := m.GetAgentSandbox(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestManager_ConcurrentFirstCallersCreateOnce(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.GetAgentSandbox(ctx, "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exec.created)
}

func TestManager_Destroy_IsIdempotent(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)
	ctx := context.Background()

	_, err := m.GetAgentSandbox(ctx, "u1")
	require.NoError(t, err)

	assert.True(t, m.Destroy(ctx, "u1"))
	assert.False(t, m.Destroy(ctx, "u1"))
}

func TestManager_Destroy_AbsentKeyReturnsFalse(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)

	assert.False(t, m.Destroy(context.Background(), "never-created"))
}

func TestManager_GetOfflineSandbox_BlocksNetwork(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(exec)

	sb, err := m.GetOfflineSandbox(context.Background(), "skill1")
	require.NoError(t, err)
	assert.True(t, sb.BlockedNet)
	assert.Equal(t, KindOffline, sb.Kind)
}

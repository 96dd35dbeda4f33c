package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/httperr"
	memstore "github.com/skillforge/skillforge/pkg/store/memory"
	"github.com/skillforge/skillforge/pkg/sandbox"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string][]byte{}} }

func (f *fakeKV) Get(ctx context.Context, threadID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[threadID]
	if !ok {
		return nil, checkpoint.ErrKVNotFound
	}
	return v, nil
}

func (f *fakeKV) Put(ctx context.Context, threadID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[threadID] = payload
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, threadID)
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[threadID]
	return ok, nil
}

type fakeHandle struct{}

func (fakeHandle) Alive(ctx context.Context) bool             { return true }
func (fakeHandle) Destroy(ctx context.Context) error          { return nil }
func (fakeHandle) DisconnectNetwork(ctx context.Context) error { return nil }
func (fakeHandle) ReconnectNetwork(ctx context.Context) error  { return nil }
func (fakeHandle) Execute(ctx context.Context, cmd []string) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{}, nil
}
func (fakeHandle) Stats(ctx context.Context) (*sandbox.ResourceStats, error) {
	return &sandbox.ResourceStats{}, nil
}

type fakeExecutor struct {
	created atomic.Int32
}

func (e *fakeExecutor) Create(ctx context.Context, ownerKey string, blockNetwork bool) (sandbox.ExecutorHandle, error) {
	e.created.Add(1)
	return fakeHandle{}, nil
}

func newManager() (*Manager, *memstore.ThreadStore, *checkpoint.Adapter) {
	threads := memstore.NewThreadStore()
	cp := checkpoint.New(newFakeKV())
	sb := sandbox.New(&fakeExecutor{})
	return New(threads, cp, sb), threads, cp
}

func TestCreate_GeneratesPrefixedThreadIDAndPersists(t *testing.T) {
	m, threads, _ := newManager()

	threadID, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)
	assert.Contains(t, threadID, "alice-")

	// Give the fire-and-forget pre-warm goroutine a moment; Create itself
	// does not depend on it completing.
	time.Sleep(10 * time.Millisecond)

	th, err := threads.Get(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "alice", th.UserID)
}

func TestGetStatus_IdleWhenNoCheckpoint(t *testing.T) {
	m, _, _ := newManager()
	st, err := m.GetStatus(context.Background(), "alice-x")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st.Status)
	assert.False(t, st.HasPendingTasks)
}

func TestGetStatus_InterruptedWhenPendingTasksPresent(t *testing.T) {
	m, _, cp := newManager()
	state := &checkpoint.State{
		ThreadID: "alice-x",
		Messages: []checkpoint.Message{{Role: "user", Content: "hi"}},
		PendingTasks: []checkpoint.PendingTask{
			{Name: "ask_user"},
		},
	}
	require.NoError(t, cp.Put(context.Background(), state))

	st, err := m.GetStatus(context.Background(), "alice-x")
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, st.Status)
	assert.True(t, st.HasPendingTasks)
	require.NotNil(t, st.InterruptInfo)
	assert.Equal(t, "ask_user", st.InterruptInfo.Name)
	assert.Equal(t, 1, st.MessageCount)
}

func TestGetHistory_SuppressesSystemAndEmptyMessages(t *testing.T) {
	m, _, cp := newManager()
	state := &checkpoint.State{
		ThreadID: "alice-x",
		Messages: []checkpoint.Message{
			{Role: "system", Content: "you are an agent"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: ""},
			{Role: "assistant", Content: "hi there"},
			{Role: "tool", Content: "tool output"},
		},
	}
	require.NoError(t, cp.Put(context.Background(), state))

	history, err := m.GetHistory(context.Background(), "alice-x")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestDestroy_RejectsNonOwner(t *testing.T) {
	m, threads, _ := newManager()
	threadID, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_ = threads

	err = m.Destroy(context.Background(), "bob", threadID)
	assert.ErrorIs(t, err, httperr.ErrNotOwner)
}

func TestDestroy_RemovesThreadAndCheckpoint(t *testing.T) {
	m, threads, cp := newManager()
	threadID, err := m.Create(context.Background(), "alice")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cp.Put(context.Background(), &checkpoint.State{ThreadID: threadID}))

	require.NoError(t, m.Destroy(context.Background(), "alice", threadID))

	_, err = threads.Get(context.Background(), threadID)
	assert.Error(t, err)

	_, err = cp.Snapshot(context.Background(), threadID)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestList_PaginatesAndReportsStatus(t *testing.T) {
	m, _, _ := newManager()
	for i := 0; i < 3; i++ {
		_, err := m.Create(context.Background(), "alice")
		require.NoError(t, err)
	}
	time.Sleep(10 * time.Millisecond)

	summaries, total, err := m.List(context.Background(), "alice", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.Equal(t, StatusIdle, s.Status)
	}
}

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/llmclient"
)

// fakeKV is a minimal in-memory checkpoint.KVStore for agent tests.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}}
}

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

// scriptedLLM emits a fixed sequence of StreamUnits and ignores input.
type scriptedLLM struct {
	units []llmclient.StreamUnit
}

func (s *scriptedLLM) Generate(ctx context.Context, in llmclient.GenerateInput, ch chan<- llmclient.StreamUnit) error {
	for _, u := range s.units {
		select {
		case ch <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// queuedLLM returns a different scriptedLLM's units on each successive call,
// for tests where the loop re-invokes Generate after a whitelisted tool run.
type queuedLLM struct {
	mu      sync.Mutex
	scripts [][]llmclient.StreamUnit
	calls   int
}

func (q *queuedLLM) Generate(ctx context.Context, in llmclient.GenerateInput, ch chan<- llmclient.StreamUnit) error {
	q.mu.Lock()
	idx := q.calls
	q.calls++
	q.mu.Unlock()
	var units []llmclient.StreamUnit
	if idx < len(q.scripts) {
		units = q.scripts[idx]
	}
	for _, u := range units {
		select {
		case ch <- u:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type fakeTools struct {
	calls  []llmclient.ToolCall
	output string
	err    error
}

func (f *fakeTools) ExecuteTool(ctx context.Context, userID string, call llmclient.ToolCall) (string, error) {
	f.calls = append(f.calls, call)
	return f.output, f.err
}

func drain(t *testing.T, ch <-chan InternalEvent) []InternalEvent {
	t.Helper()
	var events []InternalEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestRunTurn_PlainTokenStreamToDone(t *testing.T) {
	llm := &scriptedLLM{units: []llmclient.StreamUnit{
		{Kind: llmclient.StreamUnitToken, Text: "hi"},
		{Kind: llmclient.StreamUnitToken, Text: " there"},
		{Kind: llmclient.StreamUnitDone},
	}}
	kv := newFakeKV()
	r := New(checkpoint.New(kv), llm, &fakeTools{})

	events := drain(t, r.RunTurn(context.Background(), "t1", "u1", "hello", nil, ModeBuild))

	require.Len(t, events, 3)
	assert.Equal(t, EventToken, events[0].Kind)
	assert.Equal(t, EventToken, events[1].Kind)
	assert.Equal(t, EventDone, events[2].Kind)

	state, err := checkpoint.New(kv).Snapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "user", state.Messages[0].Role)
	assert.Equal(t, "assistant", state.Messages[1].Role)
	assert.Equal(t, "hi there", state.Messages[1].Content)
}

func TestRunTurn_BuildMode_AutoApprovedToolContinuesLoop(t *testing.T) {
	llm := &queuedLLM{scripts: [][]llmclient.StreamUnit{
		{
			{Kind: llmclient.StreamUnitToolCall, ToolCall: &llmclient.ToolCall{Name: "write_file", Arguments: map[string]any{"path": "a.txt"}}},
		},
		{
			{Kind: llmclient.StreamUnitToken, Text: "done writing"},
			{Kind: llmclient.StreamUnitDone},
		},
	}}
	tools := &fakeTools{output: "wrote 10 bytes"}
	r := New(checkpoint.New(newFakeKV()), llm, tools)

	events := drain(t, r.RunTurn(context.Background(), "t1", "u1", "write a file", nil, ModeBuild))

	require.Len(t, tools.calls, 1)
	assert.Equal(t, "write_file", tools.calls[0].Name)

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventToolStart)
	assert.Contains(t, kinds, EventToolEnd)
	assert.Equal(t, EventDone, kinds[len(kinds)-1])
}

func TestRunTurn_PlanMode_WriteToolRejected(t *testing.T) {
	llm := &scriptedLLM{units: []llmclient.StreamUnit{
		{Kind: llmclient.StreamUnitToolCall, ToolCall: &llmclient.ToolCall{Name: "write_file"}},
	}}
	r := New(checkpoint.New(newFakeKV()), llm, &fakeTools{})

	events := drain(t, r.RunTurn(context.Background(), "t1", "u1", "edit it", nil, ModePlan))

	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, EventDone, events[1].Kind)
}

func TestRunTurn_NonWhitelistedTool_ProducesInterruptAndCheckpoints(t *testing.T) {
	llm := &scriptedLLM{units: []llmclient.StreamUnit{
		{Kind: llmclient.StreamUnitToken, Text: "let me ask"},
		{Kind: llmclient.StreamUnitToolCall, ToolCall: &llmclient.ToolCall{Name: "ask_user", Arguments: map[string]any{"question": "which env?"}}},
	}}
	kv := newFakeKV()
	r := New(checkpoint.New(kv), llm, &fakeTools{})

	events := drain(t, r.RunTurn(context.Background(), "t1", "u1", "deploy it", nil, ModeBuild))

	require.Len(t, events, 3)
	assert.Equal(t, EventToken, events[0].Kind)
	assert.Equal(t, EventInterrupt, events[1].Kind)
	assert.Equal(t, "ask_user", events[1].ToolName)
	assert.Equal(t, EventDone, events[2].Kind)

	state, err := checkpoint.New(kv).Snapshot(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, state.Suspended())
	require.Len(t, state.PendingTasks, 1)
	assert.Equal(t, "ask_user", state.PendingTasks[0].Name)
}

func TestLoadOrInitState_PropagatesNonNotFoundErrors(t *testing.T) {
	kv := &erroringKV{err: errors.New("boom")}
	r := New(checkpoint.New(kv), &scriptedLLM{}, &fakeTools{})

	_, err := r.loadOrInitState(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

type erroringKV struct {
	err error
}

func (e *erroringKV) Get(ctx context.Context, threadID string) ([]byte, error) { return nil, e.err }
func (e *erroringKV) Put(ctx context.Context, threadID string, payload []byte) error {
	return e.err
}
func (e *erroringKV) Delete(ctx context.Context, threadID string) error { return e.err }
func (e *erroringKV) Exists(ctx context.Context, threadID string) (bool, error) {
	return false, e.err
}

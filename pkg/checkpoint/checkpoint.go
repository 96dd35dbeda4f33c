// Package checkpoint is the thin adapter spec.md §4.2 describes around the
// durable checkpoint store: it exposes snapshot/put/delete/exists over
// thread ids and enforces the append-only invariant on the message log. The
// durable store itself is an opaque key/value collaborator (spec.md §1);
// pkg/store/sqlitecheckpoint supplies the concrete modernc.org/sqlite-backed
// implementation used in production.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Snapshot when no checkpoint exists for a
// thread id.
var ErrNotFound = errors.New("checkpoint: not found")

// Message is one entry of the append-only conversational log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ActionRequest is one tool call awaiting a human decision.
type ActionRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Interrupt bundles the action requests raised by one suspended tool call.
type Interrupt struct {
	ActionRequests []ActionRequest `json:"action_requests"`
}

// PendingTask is one suspended tool invocation blocking thread progress.
type PendingTask struct {
	Name       string      `json:"name"`
	Interrupts []Interrupt `json:"interrupts"`
}

// State is the opaque checkpoint payload (spec.md §3 CheckpointState).
type State struct {
	ThreadID     string        `json:"thread_id"`
	Messages     []Message     `json:"messages"`
	PendingTasks []PendingTask `json:"pending_tasks"`
}

// Suspended reports whether the thread is waiting on a resume command
// rather than a fresh user message.
func (s *State) Suspended() bool {
	return len(s.PendingTasks) > 0
}

// KVStore is the opaque durable key/value collaborator spec.md §1 names:
// get/put/delete semantics strong enough to survive process restart.
// Implemented by pkg/store/sqlitecheckpoint.
type KVStore interface {
	Get(ctx context.Context, threadID string) ([]byte, error)
	Put(ctx context.Context, threadID string, payload []byte) error
	Delete(ctx context.Context, threadID string) error
	Exists(ctx context.Context, threadID string) (bool, error)
}

// ErrKVNotFound is the sentinel a KVStore.Get implementation returns when
// the key is absent.
var ErrKVNotFound = errors.New("checkpoint: key not found")

// Adapter is the thin wrapper of spec.md §4.2.
type Adapter struct {
	kv KVStore
}

// New wraps a KVStore collaborator.
func New(kv KVStore) *Adapter {
	return &Adapter{kv: kv}
}

// Snapshot returns the current state for threadID.
func (a *Adapter) Snapshot(ctx context.Context, threadID string) (*State, error) {
	raw, err := a.kv.Get(ctx, threadID)
	if errors.Is(err, ErrKVNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &st, nil
}

// Exists reports whether a checkpoint exists for threadID, used by
// startup resume logic (spec.md §4.7).
func (a *Adapter) Exists(ctx context.Context, threadID string) (bool, error) {
	ok, err := a.kv.Exists(ctx, threadID)
	if err != nil {
		return false, fmt.Errorf("checking checkpoint existence: %w", err)
	}
	return ok, nil
}

// Put persists state for threadID. Only the agent loop calls this
// internally; it is never exposed directly to HTTP handlers.
//
// Callers MUST NOT issue two concurrent Put calls for the same thread id:
// the underlying store provides its own concurrency control only insofar
// as a single writer is assumed (spec.md §7).
func (a *Adapter) Put(ctx context.Context, state *State) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("checkpoint: state must carry a thread id")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := a.kv.Put(ctx, state.ThreadID, raw); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for threadID. Called on successful
// validation completion or terminal failure.
func (a *Adapter) Delete(ctx context.Context, threadID string) error {
	if err := a.kv.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// AppendMessage enforces the append-only invariant: no operation of this
// layer may rewrite past messages, so the only mutation primitive exposed
// beyond Put is appending to the existing log before a fresh Put.
func AppendMessage(state *State, msg Message) *State {
	next := &State{
		ThreadID:     state.ThreadID,
		Messages:     append(append([]Message(nil), state.Messages...), msg),
		PendingTasks: state.PendingTasks,
	}
	return next
}

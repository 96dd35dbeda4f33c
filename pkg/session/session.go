// Package session is the Session Manager of spec.md §4.6: creates and lists
// threads, reports a thread's interrupt/idle status and message history,
// and destroys a thread's owning sandbox. Grounded on
// codeready-toolchain-tarsy's pkg/services session-style CRUD-plus-status
// handlers (thin orchestration over a store plus a derived-state lookup),
// generalized here so the derived state comes from the checkpoint store
// rather than a database column.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/httperr"
	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/sandbox"
	"github.com/skillforge/skillforge/pkg/store"
)

// MaxPageSize caps the page size accepted by List (spec.md §4.6).
const MaxPageSize = 100

// Status is a thread's coarse-grained state as derived from its checkpoint.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusInterrupted Status = "interrupted"
)

// ThreadStatus is the result of GetStatus.
type ThreadStatus struct {
	Status          Status                  `json:"status"`
	HasPendingTasks bool                    `json:"has_pending_tasks"`
	InterruptInfo   *checkpoint.PendingTask `json:"interrupt_info,omitempty"`
	MessageCount    int                     `json:"message_count"`
}

// HistoryMessage is one entry of GetHistory's response; system and empty
// messages are never included (spec.md §4.6).
type HistoryMessage struct {
	Role      string                    `json:"role"`
	Content   string                    `json:"content"`
	ToolCalls []checkpoint.ActionRequest `json:"tool_calls,omitempty"`
}

// ThreadSummary is one entry of List's response.
type ThreadSummary struct {
	ThreadID     string  `json:"thread_id"`
	Title        *string `json:"title,omitempty"`
	Status       Status  `json:"status"`
	MessageCount int     `json:"message_count"`
}

// Manager implements the Session Manager operations.
type Manager struct {
	threads     store.ThreadStore
	checkpoints *checkpoint.Adapter
	sandboxes   *sandbox.Manager
}

// New creates a Manager.
func New(threads store.ThreadStore, checkpoints *checkpoint.Adapter, sandboxes *sandbox.Manager) *Manager {
	return &Manager{threads: threads, checkpoints: checkpoints, sandboxes: sandboxes}
}

// Create generates a fresh threadId of the form "{userId}-{uuid}", fire-
// and-forgets a sandbox pre-warm, and persists the Thread row.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	threadID := fmt.Sprintf("%s-%s", userID, uuid.NewString())

	go func() {
		// Best-effort pre-warm; failures surface on the first real tool
		// call instead of blocking thread creation.
		_, _ = m.sandboxes.GetAgentSandbox(context.Background(), userID)
	}()

	th := &models.Thread{ThreadID: threadID, UserID: userID, CreatedAt: time.Now()}
	if err := m.threads.Create(ctx, th); err != nil {
		return "", fmt.Errorf("persisting thread: %w", err)
	}
	return threadID, nil
}

// List returns a page of the user's threads, most recent first, with
// per-thread status/message_count derived from the checkpoint store.
func (m *Manager) List(ctx context.Context, userID string, page, pageSize int) ([]ThreadSummary, int, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, total, err := m.threads.ListByUser(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("listing threads: %w", err)
	}

	summaries := make([]ThreadSummary, 0, len(rows))
	for _, th := range rows {
		st, err := m.GetStatus(ctx, th.ThreadID)
		if err != nil {
			return nil, 0, fmt.Errorf("deriving status for thread %s: %w", th.ThreadID, err)
		}
		summaries = append(summaries, ThreadSummary{
			ThreadID:     th.ThreadID,
			Title:        th.Title,
			Status:       st.Status,
			MessageCount: st.MessageCount,
		})
	}
	return summaries, total, nil
}

// GetStatus reports whether threadID is idle or interrupted.
func (m *Manager) GetStatus(ctx context.Context, threadID string) (*ThreadStatus, error) {
	state, err := m.checkpoints.Snapshot(ctx, threadID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return &ThreadStatus{Status: StatusIdle}, nil
		}
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	st := &ThreadStatus{MessageCount: len(state.Messages)}
	if state.Suspended() {
		st.Status = StatusInterrupted
		st.HasPendingTasks = true
		last := state.PendingTasks[len(state.PendingTasks)-1]
		st.InterruptInfo = &last
	} else {
		st.Status = StatusIdle
	}
	return st, nil
}

// GetHistory returns threadID's conversational history, suppressing system
// and empty messages. ToolCalls is never populated: checkpoint messages
// record only a role and content, not tool-call metadata.
func (m *Manager) GetHistory(ctx context.Context, threadID string) ([]HistoryMessage, error) {
	state, err := m.checkpoints.Snapshot(ctx, threadID)
	if err != nil {
		if err == checkpoint.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	history := make([]HistoryMessage, 0, len(state.Messages))
	for _, msg := range state.Messages {
		if msg.Role == "system" || msg.Content == "" {
			continue
		}
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		history = append(history, HistoryMessage{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}

// Destroy verifies threadID is owned by userID (by the "{userId}-{uuid}"
// prefix) and destroys the user's shared sandbox. Per spec.md §4.6 this
// destroys ALL of the user's threads' sandbox-backed state, not just
// threadID's.
func (m *Manager) Destroy(ctx context.Context, userID, threadID string) error {
	if !strings.HasPrefix(threadID, userID+"-") {
		return httperr.ErrNotOwner
	}
	th, err := m.threads.Get(ctx, threadID)
	if err != nil {
		if err == store.ErrNotFound {
			return httperr.ErrNotFound
		}
		return fmt.Errorf("loading thread: %w", err)
	}
	if th.UserID != userID {
		return httperr.ErrNotOwner
	}

	m.sandboxes.Destroy(ctx, userID)

	if err := m.checkpoints.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	if err := m.threads.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	return nil
}

// Titler adapts a store.ThreadStore to pkg/stream's ThreadTitler, the
// narrow read/write view the title task needs.
type Titler struct {
	Threads store.ThreadStore
}

// GetTitle implements stream.ThreadTitler.
func (t Titler) GetTitle(ctx context.Context, threadID string) (*string, error) {
	th, err := t.Threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return th.Title, nil
}

// SetTitle implements stream.ThreadTitler.
func (t Titler) SetTitle(ctx context.Context, threadID, title string) error {
	return t.Threads.SetTitle(ctx, threadID, title)
}

// Package interrupt is the Interrupt Handler of spec.md §4.4: given a
// thread in suspended state and a client decision (continue/cancel/
// answer), it builds the correct resume command and re-drives the agent.
// Grounded on the resume-command-table shape of spec.md itself; there is
// no direct teacher analogue (tarsy's worker pool has no human-in-the-loop
// resume concept), so this package follows pkg/agent's idiom (typed event
// channel, checkpoint-backed state) rather than any single teacher file.
package interrupt

import (
	"context"
	"fmt"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/checkpoint"
)

// Action is the client's decision on a suspended interrupt.
type Action string

const (
	ActionContinue Action = "continue"
	ActionCancel   Action = "cancel"
	ActionAnswer   Action = "answer"
)

// ErrNotSuspended is returned when Resume is called on a thread with no
// pending interrupt.
var ErrNotSuspended = fmt.Errorf("interrupt: thread is not suspended")

// Handler resumes suspended threads.
type Handler struct {
	checkpoints *checkpoint.Adapter
	runner      *agent.Runner
}

// New creates a Handler.
func New(checkpoints *checkpoint.Adapter, runner *agent.Runner) *Handler {
	return &Handler{checkpoints: checkpoints, runner: runner}
}

// decision is the JSON-shaped resume payload recorded in the tool-result
// message handed back to the model (spec.md §4.4's resume command table).
type decision struct {
	Type         string        `json:"type"` // "approve", "reject", "edit"
	EditedAction *editedAction `json:"edited_action,omitempty"`
}

type editedAction struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Resume builds the resume command for threadID's current interrupt and
// re-drives the agent. userID routes tool calls to the right sandbox,
// exactly as in agent.Runner.RunTurn. mode controls write-tool gating for
// the remainder of the turn.
func (h *Handler) Resume(ctx context.Context, threadID, userID string, action Action, answers []string, mode agent.Mode) <-chan agent.InternalEvent {
	out := make(chan agent.InternalEvent, 16)
	go func() {
		defer close(out)
		if err := h.resume(ctx, threadID, userID, action, answers, mode, out); err != nil {
			out <- agent.InternalEvent{Kind: agent.EventError, Text: err.Error()}
			out <- agent.InternalEvent{Kind: agent.EventDone}
		}
	}()
	return out
}

func (h *Handler) resume(ctx context.Context, threadID, userID string, action Action, answers []string, mode agent.Mode, out chan<- agent.InternalEvent) error {
	state, err := h.checkpoints.Snapshot(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if !state.Suspended() {
		return ErrNotSuspended
	}

	pending := state.PendingTasks[len(state.PendingTasks)-1]
	toolName := pending.Name

	d, err := buildDecision(toolName, action, answers, pending)
	if err != nil {
		return err
	}

	// Pop the resolved pending task and record the decision as the tool's
	// result message so the next model turn sees it.
	state.PendingTasks = state.PendingTasks[:len(state.PendingTasks)-1]
	resultText := decisionSummary(d)
	state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "tool", Content: resultText})

	if action == ActionCancel {
		if err := h.checkpoints.Put(ctx, state); err != nil {
			return fmt.Errorf("committing checkpoint: %w", err)
		}
		return nil
	}

	events := h.runner.ContinueTurn(ctx, threadID, userID, state, mode)
	for ev := range events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func buildDecision(toolName string, action Action, answers []string, pending checkpoint.PendingTask) (*decision, error) {
	isAskUser := toolName == "ask_user"

	switch action {
	case ActionContinue:
		if isAskUser {
			return nil, fmt.Errorf("ask_user requires 'answer' or 'cancel'")
		}
		return &decision{Type: "approve"}, nil

	case ActionCancel:
		return &decision{Type: "reject"}, nil

	case ActionAnswer:
		if !isAskUser {
			return nil, fmt.Errorf("only ask_user accepts 'answer'")
		}
		if len(answers) == 0 {
			return nil, fmt.Errorf("answer requires non-empty 'answers'")
		}
		var original map[string]any
		if len(pending.Interrupts) > 0 && len(pending.Interrupts[0].ActionRequests) > 0 {
			original = pending.Interrupts[0].ActionRequests[0].Args
		}
		args := map[string]any{}
		for k, v := range original {
			args[k] = v
		}
		args["answers"] = answers
		return &decision{Type: "edit", EditedAction: &editedAction{Name: "ask_user", Args: args}}, nil

	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

func decisionSummary(d *decision) string {
	if d.Type == "edit" && d.EditedAction != nil {
		return fmt.Sprintf("decision=edit action=%s args=%v", d.EditedAction.Name, d.EditedAction.Args)
	}
	return fmt.Sprintf("decision=%s", d.Type)
}

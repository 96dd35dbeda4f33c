// Package agent is the Agent Runner of spec.md §4.3: drives one turn of the
// LLM agent over a thread, mediating tool-use interrupts and auto-approving
// a whitelisted tool set in "build" mode. Grounded on
// codeready-toolchain-tarsy's pkg/queue/executor.go (one-unit-of-work
// driver emitting typed lifecycle events) generalized from a single
// analysis pass to a resumable, tool-interrupting streaming loop, since
// tarsy's executor has no interrupt/resume concept of its own.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/llmclient"
)

// Mode selects build (tools may write) or plan (write tools rejected).
type Mode string

const (
	ModeBuild Mode = "build"
	ModePlan  Mode = "plan"
)

// autoApproveWhitelist is the build-mode tool set resumed without
// surfacing an interrupt to the client (spec.md §4.3 step 5).
var autoApproveWhitelist = map[string]bool{
	"execute":    true,
	"write_file": true,
	"edit_file":  true,
}

// EventKind discriminates InternalEvent.
type EventKind string

const (
	EventToken     EventKind = "token"
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
	EventInterrupt EventKind = "interrupt"
	EventError     EventKind = "error"
	EventDone      EventKind = "done"
)

// InternalEvent is one unit of the lazy sequence spec.md §4.3 describes.
type InternalEvent struct {
	Kind        EventKind      `json:"kind"`
	Text        string         `json:"text,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Questions   []string       `json:"questions,omitempty"`
}

// ToolExecutor runs one tool call inside the sandbox owned by the thread's
// user. It is a narrower view of pkg/sandbox.Manager, kept separate to
// avoid pkg/agent depending directly on pkg/sandbox's construction details.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, userID string, call llmclient.ToolCall) (output string, err error)
}

// Runner drives agent turns.
type Runner struct {
	checkpoints *checkpoint.Adapter
	llm         llmclient.Client
	tools       ToolExecutor
}

// New creates a Runner.
func New(checkpoints *checkpoint.Adapter, llm llmclient.Client, tools ToolExecutor) *Runner {
	return &Runner{checkpoints: checkpoints, llm: llm, tools: tools}
}

// writeTools is the set rejected outright in plan mode.
var writeTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
	"execute":    true,
}

// RunTurn drives one turn of the agent over threadId and returns a channel
// of InternalEvent, closed after the final Done (or Error+Done) is sent.
// userID is the owner of threadId, used to route tool calls to the right
// sandbox.
func (r *Runner) RunTurn(ctx context.Context, threadID, userID, userMessage string, attachedFiles []string, mode Mode) <-chan InternalEvent {
	out := make(chan InternalEvent, 16)
	go func() {
		defer close(out)
		if err := r.runTurn(ctx, threadID, userID, userMessage, attachedFiles, mode, out); err != nil {
			out <- InternalEvent{Kind: EventError, Text: err.Error()}
		}
		out <- InternalEvent{Kind: EventDone}
	}()
	return out
}

// ContinueTurn resumes the agent loop from state (no new user message
// appended), used by pkg/interrupt after a resume decision has been
// folded into state by the caller. mode is re-applied for write-tool
// gating exactly as in RunTurn.
func (r *Runner) ContinueTurn(ctx context.Context, threadID, userID string, state *checkpoint.State, mode Mode) <-chan InternalEvent {
	out := make(chan InternalEvent, 16)
	go func() {
		defer close(out)
		if err := r.continueFrom(ctx, threadID, userID, state, mode, out); err != nil {
			out <- InternalEvent{Kind: EventError, Text: err.Error()}
		}
		out <- InternalEvent{Kind: EventDone}
	}()
	return out
}

func (r *Runner) runTurn(ctx context.Context, threadID, userID, userMessage string, attachedFiles []string, mode Mode, out chan<- InternalEvent) error {
	state, err := r.loadOrInitState(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}

	composed := composeUserMessage(userMessage, attachedFiles, mode)
	state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "user", Content: composed})

	return r.continueFrom(ctx, threadID, userID, state, mode, out)
}

func (r *Runner) continueFrom(ctx context.Context, threadID, userID string, state *checkpoint.State, mode Mode, out chan<- InternalEvent) error {
	for {
		messages := toLLMMessages(state.Messages)
		units := make(chan llmclient.StreamUnit, 16)

		genErr := make(chan error, 1)
		go func() {
			genErr <- r.llm.Generate(ctx, llmclient.GenerateInput{
				Variant:  llmclient.VariantBig,
				Messages: messages,
			}, units)
		}()

		var assistantText string
		toolCallHandled := false
		interrupted := false

	drain:
		for unit := range units {
			switch unit.Kind {
			case llmclient.StreamUnitToken:
				assistantText += unit.Text
				select {
				case out <- InternalEvent{Kind: EventToken, Text: unit.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}

			case llmclient.StreamUnitToolCall:
				call := *unit.ToolCall
				toolCallHandled = true

				if mode == ModePlan && writeTools[call.Name] {
					select {
					case out <- InternalEvent{Kind: EventError, Text: fmt.Sprintf("tool %q is not permitted in plan mode", call.Name)}:
					case <-ctx.Done():
						return ctx.Err()
					}
					return nil
				}

				if mode == ModeBuild && autoApproveWhitelist[call.Name] {
					select {
					case out <- InternalEvent{Kind: EventToolStart, ToolName: call.Name}:
					case <-ctx.Done():
						return ctx.Err()
					}
					output, execErr := r.tools.ExecuteTool(ctx, userID, call)
					if execErr != nil {
						output = fmt.Sprintf("error: %v", execErr)
					}
					select {
					case out <- InternalEvent{Kind: EventToolEnd, ToolName: call.Name}:
					case <-ctx.Done():
						return ctx.Err()
					}
					state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "assistant", Content: assistantText})
					state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "tool", Content: output})
					break drain
				}

				// Non-whitelisted tool (notably ask_user): surface as
				// Interrupt and halt this turn (spec.md §4.3 step 5).
				interrupted = true
				state.PendingTasks = append(state.PendingTasks, checkpoint.PendingTask{
					Name: call.Name,
					Interrupts: []checkpoint.Interrupt{{
						ActionRequests: []checkpoint.ActionRequest{{Name: call.Name, Args: call.Arguments}},
					}},
				})
				state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "assistant", Content: assistantText})
				if err := r.checkpoints.Put(ctx, state); err != nil {
					slog.Error("failed to checkpoint before interrupt", "thread_id", threadID, "error", err)
				}
				select {
				case out <- InternalEvent{
					Kind:        EventInterrupt,
					ToolName:    call.Name,
					Description: fmt.Sprintf("tool %q requires approval", call.Name),
					Payload:     call.Arguments,
				}:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil

			case llmclient.StreamUnitDone:
				break drain
			}
		}

		if err := <-genErr; err != nil {
			return fmt.Errorf("llm generate: %w", err)
		}

		if interrupted {
			return nil
		}
		if !toolCallHandled {
			state = checkpoint.AppendMessage(state, checkpoint.Message{Role: "assistant", Content: assistantText})
			if err := r.checkpoints.Put(ctx, state); err != nil {
				return fmt.Errorf("committing checkpoint: %w", err)
			}
			return nil
		}
		// A whitelisted tool ran; loop again to let the model consume the
		// tool result and continue the turn.
		if err := r.checkpoints.Put(ctx, state); err != nil {
			return fmt.Errorf("committing checkpoint: %w", err)
		}
	}
}

func (r *Runner) loadOrInitState(ctx context.Context, threadID string) (*checkpoint.State, error) {
	state, err := r.checkpoints.Snapshot(ctx, threadID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, checkpoint.ErrNotFound) {
		return &checkpoint.State{ThreadID: threadID}, nil
	}
	return nil, err
}

func composeUserMessage(userMessage string, attachedFiles []string, mode Mode) string {
	msg := userMessage
	if len(attachedFiles) > 0 {
		msg = fmt.Sprintf("[files attached: %v]\n%s", attachedFiles, msg)
	}
	if mode == ModePlan {
		msg = "[plan mode: write tools are forbidden this turn]\n" + msg
	}
	return msg
}

func toLLMMessages(msgs []checkpoint.Message) []llmclient.Message {
	out := make([]llmclient.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llmclient.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Package llmclient is the opaque LLM collaborator spec.md §1 names: two
// variants ("big" reasoning model, "flash" short-task model), invoked by
// the Agent Runner as a streaming tool-calling chat API. Grounded on
// vanducng-goclaw's internal/providers.Provider interface (Chat/ChatStream
// over a shared Message/ToolCall/ToolDefinition vocabulary), generalized
// from a multi-vendor provider registry to the two named variants spec.md
// requires.
package llmclient

import "context"

// Variant selects which of the two named models handles a call.
type Variant string

const (
	VariantBig   Variant = "big"
	VariantFlash Variant = "flash"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation the model requested.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerateInput is the input to one streaming call.
type GenerateInput struct {
	Variant  Variant          `json:"variant"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// StreamUnitKind discriminates StreamUnit.
type StreamUnitKind string

const (
	StreamUnitToken    StreamUnitKind = "token"
	StreamUnitToolCall StreamUnitKind = "tool_call"
	StreamUnitDone     StreamUnitKind = "done"
)

// StreamUnit is one item of the model's streaming output. The Agent Runner
// (pkg/agent) maps each unit to one InternalEvent.
type StreamUnit struct {
	Kind     StreamUnitKind `json:"kind"`
	Text     string         `json:"text,omitempty"`
	ToolCall *ToolCall      `json:"tool_call,omitempty"`
}

// Client is the LLM collaborator contract. Implementations stream model
// output unit by unit over ch and close it when the call completes or
// ctx is cancelled.
type Client interface {
	Generate(ctx context.Context, in GenerateInput, ch chan<- StreamUnit) error
}

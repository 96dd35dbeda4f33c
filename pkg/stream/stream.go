// Package stream is the SSE Stream Multiplexer of spec.md §4.5: it turns an
// agent.InternalEvent sequence into a channel of formatted SSE frames while
// concurrently running a best-effort title-generation side task for threads
// whose title is still unset. The actual HTTP writing of those frames onto
// the wire belongs to pkg/api; this package only produces them, so it can be
// tested without an HTTP server.
//
// Grounded on 2389-research-mammoth's web/spec_adapter.go
// handleSpecEventStream (subscribe-to-channel, write-frames-until-closed SSE
// loop shape), adapted from an actor-broadcast subscription to multiplexing
// two independent producer goroutines (agent + title) that share one
// countdown and a single terminal frame guarantee, since tarsy carries no
// SSE handler of its own.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/llmclient"
)

// Frame is one formatted SSE event ready to be written to the wire.
type Frame struct {
	Event string
	Data  []byte
}

// eventNames maps InternalEvent.Kind to the SSE event: name (spec.md §4.5
// frame mapping table).
var eventNames = map[agent.EventKind]string{
	agent.EventToken:     "messages/partial",
	agent.EventToolStart: "tool/start",
	agent.EventToolEnd:   "tool/end",
	agent.EventInterrupt: "interrupt",
	agent.EventError:     "error",
	agent.EventDone:      "end",
}

const titleUpdatedEvent = "title_updated"

// titleUserMessagePreviewLen and titleMaxLen bound the title task's prompt
// input and output length (spec.md §4.5).
const (
	titleUserMessagePreviewLen = 100
	titleMaxLen                = 20
)

// ThreadTitler is the narrow persistence view the title task needs: read
// the thread's current title, and set it once if still unset. pkg/session's
// Titler adapts a store.ThreadStore to this interface (GetTitle reads the
// Thread row and returns its Title field; SetTitle delegates directly).
type ThreadTitler interface {
	GetTitle(ctx context.Context, threadID string) (title *string, err error)
	SetTitle(ctx context.Context, threadID, title string) error
}

// Multiplexer turns InternalEvent sequences into SSE frame sequences.
type Multiplexer struct {
	flash  llmclient.Client
	titles ThreadTitler
}

// New creates a Multiplexer. flash is used for the title side task.
func New(flash llmclient.Client, titles ThreadTitler) *Multiplexer {
	return &Multiplexer{flash: flash, titles: titles}
}

// Stream consumes events (an agent.RunTurn/ContinueTurn/interrupt.Resume
// output channel) and returns a channel of Frame. It runs the title task
// concurrently with the agent; exactly one "end" frame is emitted, held
// back until both the agent and title producers have finished so it is
// always the last frame on the wire even when the title call outlives the
// agent turn, and the returned channel is always closed. Cancelling ctx
// stops both producers; any conversational state already committed to the
// checkpoint store by the agent layer is unaffected.
func (m *Multiplexer) Stream(ctx context.Context, threadID, userMessage string, events <-chan agent.InternalEvent) <-chan Frame {
	out := make(chan Frame, 16)

	ctx, cancel := context.WithCancel(ctx)

	// countdown tracks the two producers (agent, title); each signals done
	// exactly once, after its own last frame send has already landed in
	// frames, so the consumer loop below can tell when both are finished.
	frames := make(chan Frame, 16)
	countdown := 2
	done := make(chan struct{})

	go m.runAgentProducer(ctx, events, frames, done)
	go m.runTitleProducer(ctx, threadID, userMessage, frames, done)

	go func() {
		defer close(out)
		defer cancel()

		var heldEnd *Frame
		forward := func(f Frame) bool {
			if f.Event == "end" {
				if heldEnd == nil {
					fr := f
					heldEnd = &fr
				}
				return true
			}
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

	loop:
		for countdown > 0 {
			select {
			case f := <-frames:
				if !forward(f) {
					break loop
				}
			case <-done:
				countdown--
			case <-ctx.Done():
				break loop
			}
		}

		// Both producers signal done only after their own final frame send
		// to frames has already completed, so anything still buffered here
		// is a frame that arrived concurrently with the other producer's
		// done signal (e.g. a late title_updated racing the agent's end).
		// Drain it before emitting the single trailing "end" frame.
	drain:
		for {
			select {
			case f := <-frames:
				if !forward(f) {
					break drain
				}
			default:
				break drain
			}
		}

		if heldEnd != nil {
			out <- *heldEnd
		} else {
			out <- endFrame()
		}
	}()

	return out
}

func endFrame() Frame {
	return Frame{Event: "end", Data: []byte(`{}`)}
}

func (m *Multiplexer) runAgentProducer(ctx context.Context, events <-chan agent.InternalEvent, frames chan<- Frame, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for ev := range events {
		name, ok := eventNames[ev.Kind]
		if !ok {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("failed to encode internal event", "kind", ev.Kind, "error", err)
			continue
		}
		select {
		case frames <- Frame{Event: name, Data: data}:
		case <-ctx.Done():
			return
		}
		if ev.Kind == agent.EventDone {
			return
		}
	}
}

func (m *Multiplexer) runTitleProducer(ctx context.Context, threadID, userMessage string, frames chan<- Frame, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	title, err := m.generateTitle(ctx, threadID, userMessage)
	if err != nil {
		slog.Warn("title generation failed, skipping", "thread_id", threadID, "error", err)
		return
	}
	if title == "" {
		return
	}

	data, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return
	}
	select {
	case frames <- Frame{Event: titleUpdatedEvent, Data: data}:
	case <-ctx.Done():
	}
}

// generateTitle returns "" (no error) when the thread already has a title,
// so the caller knows not to emit a frame.
func (m *Multiplexer) generateTitle(ctx context.Context, threadID, userMessage string) (string, error) {
	existing, err := m.titles.GetTitle(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("reading current title: %w", err)
	}
	if existing != nil {
		return "", nil
	}

	preview := userMessage
	if len(preview) > titleUserMessagePreviewLen {
		preview = preview[:titleUserMessagePreviewLen]
	}

	units := make(chan llmclient.StreamUnit, 16)
	genErr := make(chan error, 1)
	go func() {
		genErr <- m.flash.Generate(ctx, llmclient.GenerateInput{
			Variant: llmclient.VariantFlash,
			Messages: []llmclient.Message{
				{Role: "user", Content: fmt.Sprintf("Summarize this request in a short title:\n%s", preview)},
			},
		}, units)
	}()

	var text strings.Builder
	for unit := range units {
		if unit.Kind == llmclient.StreamUnitToken {
			text.WriteString(unit.Text)
		}
	}
	if err := <-genErr; err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}

	title := strings.TrimSpace(text.String())
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen]
	}
	if title == "" {
		return "", nil
	}

	if err := m.titles.SetTitle(ctx, threadID, title); err != nil {
		return "", fmt.Errorf("persisting title: %w", err)
	}
	return title, nil
}

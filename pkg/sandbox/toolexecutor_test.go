package sandbox

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/llmclient"
)

type recordingHandle struct {
	lastCmd []string
	result  *ExecResult
	err     error
}

func (h *recordingHandle) Alive(ctx context.Context) bool              { return true }
func (h *recordingHandle) Destroy(ctx context.Context) error           { return nil }
func (h *recordingHandle) DisconnectNetwork(ctx context.Context) error { return nil }
func (h *recordingHandle) ReconnectNetwork(ctx context.Context) error  { return nil }
func (h *recordingHandle) Execute(ctx context.Context, cmd []string) (*ExecResult, error) {
	h.lastCmd = cmd
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}
func (h *recordingHandle) Stats(ctx context.Context) (*ResourceStats, error) {
	return &ResourceStats{}, nil
}

func newBoundSandbox(h *recordingHandle) *Sandbox {
	return &Sandbox{ID: "sb1", OwnerKey: "u1", Kind: KindAgent, state: StateRunning, handle: h}
}

func TestDispatchTool_Execute(t *testing.T) {
	h := &recordingHandle{result: &ExecResult{Stdout: "hi", ExitCode: 0}}
	sb := newBoundSandbox(h)

	out, err := DispatchTool(context.Background(), sb, llmclient.ToolCall{
		Name:      "execute",
		Arguments: map[string]any{"command": "echo hi"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
	assert.Equal(t, []string{"sh", "-c", "echo hi"}, h.lastCmd)
}

func TestDispatchTool_WriteFile_EncodesContentAsBase64(t *testing.T) {
	h := &recordingHandle{result: &ExecResult{ExitCode: 0}}
	sb := newBoundSandbox(h)

	out, err := DispatchTool(context.Background(), sb, llmclient.ToolCall{
		Name:      "write_file",
		Arguments: map[string]any{"path": "/work/a.txt", "content": "hello"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 5 bytes")
	require.Len(t, h.lastCmd, 3)
	assert.Contains(t, h.lastCmd[2], "base64 -d")
	assert.True(t, strings.Contains(h.lastCmd[2], "/work/a.txt"))
}

func TestDispatchTool_WriteFile_NonZeroExitIsError(t *testing.T) {
	h := &recordingHandle{result: &ExecResult{ExitCode: 1, Stdout: "permission denied"}}
	sb := newBoundSandbox(h)

	_, err := DispatchTool(context.Background(), sb, llmclient.ToolCall{
		Name:      "edit_file",
		Arguments: map[string]any{"path": "/etc/shadow", "content": "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestDispatchTool_UnsupportedTool(t *testing.T) {
	sb := newBoundSandbox(&recordingHandle{})
	_, err := DispatchTool(context.Background(), sb, llmclient.ToolCall{Name: "ask_user"})
	assert.Error(t, err)
}

func TestBoundToolExecutor_DelegatesToDispatchTool(t *testing.T) {
	h := &recordingHandle{result: &ExecResult{Stdout: "ok"}}
	sb := newBoundSandbox(h)
	e := &BoundToolExecutor{SB: sb}

	out, err := e.ExecuteTool(context.Background(), "ignored", llmclient.ToolCall{
		Name:      "execute",
		Arguments: map[string]any{"command": "true"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

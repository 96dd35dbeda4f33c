package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"

	"github.com/skillforge/skillforge/pkg/llmclient"
)

// DispatchTool executes one agent tool call against sb. It implements the
// build-mode tool vocabulary pkg/agent's auto-approve whitelist names
// (execute/write_file/edit_file) plus ask_user's non-tool pass-through
// never reaches here, since ask_user is always surfaced as an interrupt.
// write_file/edit_file are both implemented as an overwrite: the sandbox
// executor contract spec.md §1 names has no native file-write primitive,
// so content is shipped as a base64 payload decoded by a shell one-liner.
func DispatchTool(ctx context.Context, sb *Sandbox, call llmclient.ToolCall) (string, error) {
	switch call.Name {
	case "execute":
		command, _ := call.Arguments["command"].(string)
		if command == "" {
			return "", fmt.Errorf("execute: missing 'command' argument")
		}
		res, err := sb.Execute(ctx, []string{"sh", "-c", command})
		if err != nil {
			return "", fmt.Errorf("execute: %w", err)
		}
		return fmt.Sprintf("exit_code=%d\n%s", res.ExitCode, res.Stdout), nil

	case "write_file", "edit_file":
		filePath, _ := call.Arguments["path"].(string)
		content, _ := call.Arguments["content"].(string)
		if filePath == "" {
			return "", fmt.Errorf("%s: missing 'path' argument", call.Name)
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(content))
		dir := path.Dir(filePath)
		cmd := fmt.Sprintf("mkdir -p %q && echo %s | base64 -d > %q", dir, encoded, filePath)
		res, err := sb.Execute(ctx, []string{"sh", "-c", cmd})
		if err != nil {
			return "", fmt.Errorf("%s: %w", call.Name, err)
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("%s: sandbox exited %d: %s", call.Name, res.ExitCode, res.Stdout)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), filePath), nil

	default:
		return "", fmt.Errorf("unsupported tool %q", call.Name)
	}
}

// UserToolExecutor implements agent.ToolExecutor by resolving the caller's
// shared agent sandbox from userID on every call.
type UserToolExecutor struct {
	Manager *Manager
}

// ExecuteTool satisfies agent.ToolExecutor.
func (e *UserToolExecutor) ExecuteTool(ctx context.Context, userID string, call llmclient.ToolCall) (string, error) {
	sb, err := e.Manager.GetAgentSandbox(ctx, userID)
	if err != nil {
		return "", err
	}
	return DispatchTool(ctx, sb, call)
}

// BoundToolExecutor implements agent.ToolExecutor against a single,
// already-resolved Sandbox, ignoring the userID parameter. Used by the
// validation orchestrator, whose sub-agents run inside a
// validation/offline sandbox keyed by skill id rather than by user id.
type BoundToolExecutor struct {
	SB *Sandbox
}

// ExecuteTool satisfies agent.ToolExecutor.
func (e *BoundToolExecutor) ExecuteTool(ctx context.Context, _ string, call llmclient.ToolCall) (string, error) {
	return DispatchTool(ctx, e.SB, call)
}

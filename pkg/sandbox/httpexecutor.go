package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExecutor is a reference Executor that drives a sidecar sandbox runtime
// over plain HTTP/JSON. spec.md §1 treats the sandbox executor as an opaque
// external collaborator named only by its contract
// (execute/upload/download/network toggling/resource stats); this binding
// covers execute, network toggling, resource stats, liveness and destroy,
// and has no upload or download call.
type HTTPExecutor struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPExecutor creates an Executor against baseURL with a bounded
// default timeout.
func NewHTTPExecutor(baseURL string) *HTTPExecutor {
	return &HTTPExecutor{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type createSandboxRequest struct {
	OwnerKey     string `json:"owner_key"`
	BlockNetwork bool   `json:"block_network"`
}

type createSandboxResponse struct {
	HandleID string `json:"handle_id"`
}

func (e *HTTPExecutor) Create(ctx context.Context, ownerKey string, blockNetwork bool) (ExecutorHandle, error) {
	var resp createSandboxResponse
	if err := e.doJSON(ctx, http.MethodPost, "/sandboxes", createSandboxRequest{
		OwnerKey:     ownerKey,
		BlockNetwork: blockNetwork,
	}, &resp); err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	return &httpHandle{exec: e, handleID: resp.HandleID}, nil
}

type httpHandle struct {
	exec     *HTTPExecutor
	handleID string
}

func (h *httpHandle) Alive(ctx context.Context) bool {
	var resp struct {
		Running bool `json:"running"`
	}
	if err := h.exec.doJSON(ctx, http.MethodGet, "/sandboxes/"+h.handleID, nil, &resp); err != nil {
		return false
	}
	return resp.Running
}

func (h *httpHandle) Destroy(ctx context.Context) error {
	return h.exec.doJSON(ctx, http.MethodDelete, "/sandboxes/"+h.handleID, nil, nil)
}

func (h *httpHandle) DisconnectNetwork(ctx context.Context) error {
	return h.exec.doJSON(ctx, http.MethodPost, "/sandboxes/"+h.handleID+"/network/disconnect", nil, nil)
}

func (h *httpHandle) ReconnectNetwork(ctx context.Context) error {
	return h.exec.doJSON(ctx, http.MethodPost, "/sandboxes/"+h.handleID+"/network/reconnect", nil, nil)
}

// ExecResult is the outcome of one command run inside a sandbox.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	ExitCode int    `json:"exit_code"`
}

// Execute runs cmd inside the sandbox identified by handle, returning its
// captured stdout and exit code.
func (h *httpHandle) Execute(ctx context.Context, cmd []string) (*ExecResult, error) {
	var resp ExecResult
	req := struct {
		Cmd []string `json:"cmd"`
	}{Cmd: cmd}
	if err := h.exec.doJSON(ctx, http.MethodPost, "/sandboxes/"+h.handleID+"/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("executing command: %w", err)
	}
	return &resp, nil
}

// ResourceStats reports point-in-time sandbox resource usage.
type ResourceStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

func (h *httpHandle) Stats(ctx context.Context) (*ResourceStats, error) {
	var resp ResourceStats
	if err := h.exec.doJSON(ctx, http.MethodGet, "/sandboxes/"+h.handleID+"/stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching sandbox stats: %w", err)
	}
	return &resp, nil
}

func (e *HTTPExecutor) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("calling sandbox executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sandbox executor returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPClient is a reference Client that drives a model endpoint over
// Server-Sent Events, one JSON-encoded StreamUnit per "data: " line.
// Grounded on vanducng-goclaw's AnthropicProvider.ChatStream (bufio.Scanner
// line-oriented SSE parsing), generalized from a single vendor's wire
// format to the plain StreamUnit vocabulary this package defines, since
// spec.md treats the LLM as a vendor-agnostic opaque collaborator.
type HTTPClient struct {
	BigURL   string
	FlashURL string
	Client   *http.Client
}

// NewHTTPClient creates a Client whose big/flash variants hit the given
// endpoints.
func NewHTTPClient(bigURL, flashURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{BigURL: bigURL, FlashURL: flashURL, Client: httpClient}
}

func (c *HTTPClient) Generate(ctx context.Context, in GenerateInput, ch chan<- StreamUnit) error {
	defer close(ch)

	url := c.BigURL
	if in.Variant == VariantFlash {
		url = c.FlashURL
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("calling llm endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("llm endpoint returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var unit StreamUnit
		if err := json.Unmarshal([]byte(data), &unit); err != nil {
			return fmt.Errorf("decoding stream unit: %w", err)
		}

		select {
		case ch <- unit:
		case <-ctx.Done():
			return ctx.Err()
		}

		if unit.Kind == StreamUnitDone {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading llm stream: %w", err)
	}
	return nil
}

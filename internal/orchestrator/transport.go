package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/simonyos/zcode-core/internal/llm"
)

// Transport opens the SSE body for one chat-completions round trip. The
// default implementation is httpTransport; tests substitute a fake that
// replays canned SSE bytes.
type Transport interface {
	OpenStream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
}

// httpTransport POSTs to {base_url}/chat/completions.
type httpTransport struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPTransport builds the default Transport.
func NewHTTPTransport(client *http.Client, baseURL, apiKey string) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (t *httpTransport) OpenStream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{StatusText: "request encoding failed", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{StatusText: "request construction failed", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Connection", "close")
	if strings.Contains(t.baseURL, "openrouter.ai") {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/simonyos/zcode-core")
		httpReq.Header.Set("X-Title", "zcode-core")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{StatusText: "connection failed", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &TransportError{StatusText: fmt.Sprintf("%s: %s", resp.Status, string(body))}
	}
	return resp.Body, nil
}

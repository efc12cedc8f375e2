package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 8 << 20 // 8MB

// HTTPInvoker posts the request payload to a fixed backend URL. Timeouts are
// imposed by the caller's context, never by the client itself: the resolution
// layer owns all deadlines.
type HTTPInvoker struct {
	url    string
	client *http.Client
}

// NewHTTPInvoker creates an invoker for one backend endpoint. client may be
// nil, in which case a default client without its own timeout is used.
func NewHTTPInvoker(url string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{url: url, client: client}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error) {
	body := payload
	if body == nil {
		body = json.RawMessage(`{}`)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", serviceType, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s backend: %w", serviceType, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", serviceType, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s backend returned status %d", serviceType, resp.StatusCode)
	}
	return data, nil
}

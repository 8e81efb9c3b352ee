package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

// Transport delivers envelopes to a worker.
type Transport interface {
	// SendSync blocks until the worker answers with its report.
	SendSync(ctx context.Context, worker domain.AgentRecord, env protocol.TaskEnvelope) (protocol.CompletionReport, error)
	// SendAsync returns once the worker has acknowledged the task.
	SendAsync(ctx context.Context, worker domain.AgentRecord, env protocol.TaskEnvelope) (protocol.Ack, error)
}

// maxBody bounds how much of a worker response is read.
const maxBody = 4 << 20

// HTTPTransport posts envelopes to {base_url}/task/sync and {base_url}/task.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client; nil uses a client without its own timeout,
// leaving deadlines to the caller's context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) SendSync(ctx context.Context, worker domain.AgentRecord, env protocol.TaskEnvelope) (protocol.CompletionReport, error) {
	body, err := t.post(ctx, worker.BaseURL, "/task/sync", env)
	if err != nil {
		return protocol.CompletionReport{}, err
	}
	report, err := protocol.DecodeReport(body)
	if err != nil {
		return protocol.CompletionReport{}, fmt.Errorf("%w: malformed report from %s: %v", domain.ErrTransport, worker.Name, err)
	}
	return report, nil
}

func (t *HTTPTransport) SendAsync(ctx context.Context, worker domain.AgentRecord, env protocol.TaskEnvelope) (protocol.Ack, error) {
	body, err := t.post(ctx, worker.BaseURL, "/task", env)
	if err != nil {
		return protocol.Ack{}, err
	}
	var ack protocol.Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return protocol.Ack{}, fmt.Errorf("%w: malformed ack from %s: %v", domain.ErrTransport, worker.Name, err)
	}
	return ack, nil
}

func (t *HTTPTransport) post(ctx context.Context, baseURL, path string, payload any) ([]byte, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: worker has no base url", domain.ErrTransport)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	url := strings.TrimRight(domain.NormalizeURL(baseURL), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", domain.ErrTransport, path, resp.StatusCode, errorText(body))
	}
	return body, nil
}

// errorText pulls the message out of a JSON error body, either
// {"error":"..."} or {"error":{"message":"..."}}.
func errorText(body []byte) string {
	var e struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && len(e.Error) > 0 {
		var msg string
		if json.Unmarshal(e.Error, &msg) == nil && msg != "" {
			return msg
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

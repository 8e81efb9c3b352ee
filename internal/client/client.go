// Package client is the HTTP client for both SCEMS roles. The CLI uses it
// against a supervisor or a worker, and workers use it to register and to
// deliver asynchronous completion reports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

// DefaultTimeout bounds a single request when the caller's context has none.
const DefaultTimeout = 30 * time.Second

const maxBody = 8 << 20

// APIError is a non-2xx answer carrying the server's structured error.
type APIError struct {
	Status      int
	Code        string
	Message     string
	Suggestions []string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// Unwrap maps the wire code back onto the domain sentinel.
func (e *APIError) Unwrap() error { return domain.CodeError(e.Code) }

// IsPermanent reports whether retrying err cannot help: the server
// understood the request and rejected it.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// Client talks to one SCEMS service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A nil httpClient gets DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(domain.NormalizeURL(baseURL), "/"),
		http:    httpClient,
	}
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ─── Supervisor API ─────────────────────────────────────────────────────────

// RegisterResponse is the answer to POST /register.
type RegisterResponse struct {
	Status string             `json:"status"`
	Agent  domain.AgentRecord `json:"agent"`
}

// Register advertises rec to the supervisor.
func (c *Client) Register(ctx context.Context, rec domain.AgentRecord) (RegisterResponse, error) {
	var out RegisterResponse
	err := c.do(ctx, http.MethodPost, "/register", rec, &out)
	return out, err
}

// RegistryResponse is the answer to GET /registry.
type RegistryResponse struct {
	Agents []domain.AgentRecord `json:"agents"`
	Total  int                  `json:"total"`
}

// Registry lists the supervisor's registered agents.
func (c *Client) Registry(ctx context.Context) (RegistryResponse, error) {
	var out RegistryResponse
	err := c.do(ctx, http.MethodGet, "/registry", nil, &out)
	return out, err
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

// QueryResponse is the answer to a synchronous query.
type QueryResponse struct {
	Agent      string                    `json:"agent"`
	Capability string                    `json:"capability"`
	Parameters map[string]any            `json:"parameters,omitempty"`
	Response   protocol.CompletionReport `json:"response"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// Query routes prompt through the supervisor and waits for the report.
// A prompt that cannot be routed yields a *domain.NoMatchError.
func (c *Client) Query(ctx context.Context, userID, prompt string) (QueryResponse, error) {
	var out QueryResponse
	err := c.do(ctx, http.MethodPost, "/query", QueryRequest{UserID: userID, Prompt: prompt}, &out)
	return out, noMatch(err)
}

// AsyncQueryResponse is the answer to POST /query?mode=async.
type AsyncQueryResponse struct {
	Agent      string         `json:"agent"`
	Capability string         `json:"capability"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Ack        protocol.Ack   `json:"ack"`
	Timestamp  time.Time      `json:"timestamp"`
}

// QueryAsync routes prompt and returns once the worker acknowledged it.
func (c *Client) QueryAsync(ctx context.Context, userID, prompt string) (AsyncQueryResponse, error) {
	var out AsyncQueryResponse
	err := c.do(ctx, http.MethodPost, "/query?mode=async", QueryRequest{UserID: userID, Prompt: prompt}, &out)
	return out, noMatch(err)
}

// Report fetches the completion report for an async task. It fails with
// domain.ErrReportPending until the worker has delivered.
func (c *Client) Report(ctx context.Context, messageID string) (protocol.CompletionReport, error) {
	var out protocol.CompletionReport
	err := c.do(ctx, http.MethodGet, "/reports/"+url.PathEscape(messageID), nil, &out)
	return out, err
}

// WaitReport polls Report every interval until it is available or ctx ends.
func (c *Client) WaitReport(ctx context.Context, messageID string, interval time.Duration) (protocol.CompletionReport, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := c.Report(ctx, messageID)
		if !errors.Is(err, domain.ErrReportPending) {
			return r, err
		}
		select {
		case <-ctx.Done():
			return protocol.CompletionReport{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AggregateHealth probes every registered agent through the supervisor.
func (c *Client) AggregateHealth(ctx context.Context) (domain.AggregateHealth, error) {
	var out domain.AggregateHealth
	err := c.do(ctx, http.MethodGet, "/health/aggregate", nil, &out)
	return out, err
}

// PostReport delivers an async completion report to replyTo, an absolute URL.
func (c *Client) PostReport(ctx context.Context, replyTo string, report protocol.CompletionReport) error {
	return c.doURL(ctx, http.MethodPost, domain.NormalizeURL(replyTo), report, nil)
}

// ─── Shared & Worker API ────────────────────────────────────────────────────

// Health returns the service's own /health body.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Capabilities lists what a worker implements.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	var out struct {
		Capabilities []string `json:"capabilities"`
	}
	err := c.do(ctx, http.MethodGet, "/capabilities", nil, &out)
	return out.Capabilities, err
}

// LTMEntry is one worker cache entry as served by GET /ltm.
type LTMEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// LTMResponse is the answer to GET /ltm.
type LTMResponse struct {
	Backend string     `json:"backend"`
	Prefix  string     `json:"prefix"`
	Entries []LTMEntry `json:"entries"`
	Total   int        `json:"total"`
}

// LTMQuery lists a worker's live cache entries under prefix.
func (c *Client) LTMQuery(ctx context.Context, prefix string) (LTMResponse, error) {
	var out LTMResponse
	err := c.do(ctx, http.MethodGet, "/ltm?prefix="+url.QueryEscape(prefix), nil, &out)
	return out, err
}

// LTMSweep asks a worker to drop expired cache entries.
func (c *Client) LTMSweep(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "/ltm/sweep", nil, &out)
	return out.Removed, err
}

// ─── Transport ──────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doURL(ctx, method, c.baseURL+path, in, out)
}

func (c *Client) doURL(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode == http.StatusAccepted && out != nil && isErrorBody(raw) {
		return decodeError(resp.StatusCode, raw)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorBody struct {
	Error *struct {
		Code        string   `json:"code"`
		Message     string   `json:"message"`
		Suggestions []string `json:"suggestions"`
	} `json:"error"`
}

func isErrorBody(raw []byte) bool {
	var b errorBody
	return json.Unmarshal(raw, &b) == nil && b.Error != nil
}

func decodeError(status int, raw []byte) error {
	e := &APIError{Status: status}
	var b errorBody
	if json.Unmarshal(raw, &b) == nil && b.Error != nil {
		e.Code = b.Error.Code
		e.Message = b.Error.Message
		e.Suggestions = b.Error.Suggestions
		return e
	}
	e.Message = strings.TrimSpace(string(raw))
	return e
}

// noMatch surfaces a routing miss as the domain's typed error.
func noMatch(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == domain.CodeNoMatch {
		return &domain.NoMatchError{Explanation: apiErr.Message, Suggestions: apiErr.Suggestions}
	}
	return err
}

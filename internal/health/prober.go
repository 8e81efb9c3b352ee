package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber implements domain.Prober with a GET against the health url.
// Any 2xx answer is healthy.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober whose requests give up after timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

// Probe performs one health request.
func (p *HTTPProber) Probe(ctx context.Context, healthURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/domain"
)

// RegisterWithRetry registers rec, backing off between failed attempts.
// Rejections (4xx) are not retried.
func (c *Client) RegisterWithRetry(ctx context.Context, rec domain.AgentRecord, cfg RetryConfig, log zerolog.Logger) (RegisterResponse, error) {
	var out RegisterResponse
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		var err error
		out, err = c.Register(ctx, rec)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Str("supervisor", c.baseURL).
			Msg("registration failed")
	})
	return out, err
}

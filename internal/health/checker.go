// Package health runs periodic self checks for both SCEMS roles and
// provides the HTTP prober the supervisor uses against worker endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/registry"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      zerolog.Logger
}

// NewChecker creates a checker that runs checks every interval (60s when zero).
func NewChecker(interval time.Duration, logger zerolog.Logger, checks ...Check) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Checker{
		interval: interval,
		checks:   checks,
		log:      logger.With().Str("component", "health").Logger(),
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			c.log.Warn().Err(err).Str("check", check.Name).Msg("health check failed")
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Error().Err(rerr).Str("check", check.Name).Msg("recovery failed")
				}
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is satisfied by *sqlite.DB.
type Pinger interface {
	Ping() error
}

// DatabaseCheck pings a database. SQLite recovers on its own via WAL, so
// there is no recovery step.
func DatabaseCheck(name string, db Pinger) Check {
	return Check{
		Name:    name,
		CheckFn: func(ctx context.Context) error { return db.Ping() },
	}
}

// AgentsCheck probes every registered worker. Unhealthy workers fail the
// check; recovery prunes those unseen for longer than pruneAfter.
func AgentsCheck(reg *registry.Registry, pruneAfter time.Duration) Check {
	return Check{
		Name: "agents",
		CheckFn: func(ctx context.Context) error {
			agg := reg.AggregateHealth(ctx)
			if agg.SupervisorStatus == "ok" {
				return nil
			}
			return fmt.Errorf("%d of %d agents unhealthy",
				agg.TotalAgents-agg.HealthyAgents, agg.TotalAgents)
		},
		RecoverFn: func(ctx context.Context) error {
			reg.Prune(pruneAfter)
			return nil
		},
	}
}

// DegradedReporter is satisfied by *ltm.Cache.
type DegradedReporter interface {
	Degraded() bool
	Backend() string
}

// LTMCheck fails while the cache runs on its fallback store.
func LTMCheck(cache DegradedReporter) Check {
	return Check{
		Name: "ltm",
		CheckFn: func(ctx context.Context) error {
			if cache.Degraded() {
				return errors.New("ltm serving from fallback backend " + cache.Backend())
			}
			return nil
		},
	}
}

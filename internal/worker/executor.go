// Package worker implements the worker role: the capability executor over
// the LTM cache, the six energy capabilities and the agent that accepts
// task envelopes synchronously or in the background.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
	"github.com/scems-network/scems/internal/ltm"
)

// ExecutorOptions wires the executor's collaborators.
type ExecutorOptions struct {
	// Source provides metered readings. Nil means synthetic data only.
	Source domain.ConsumptionSource
	// Forecaster defaults to HeuristicForecaster.
	Forecaster domain.Forecaster
	// DefaultTTL applies to capabilities without a dedicated TTL.
	DefaultTTL time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Result is the outcome of one capability execution.
type Result struct {
	Data           json.RawMessage
	Explainability []string
	LTMHit         bool
	Key            string
}

// Executor runs capabilities, memoizing results in the LTM by fingerprint.
type Executor struct {
	cache      *ltm.Cache
	collab     collaborators
	defaultTTL time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewExecutor creates an executor over cache.
func NewExecutor(cache *ltm.Cache, opts ExecutorOptions) *Executor {
	if opts.Forecaster == nil {
		opts.Forecaster = HeuristicForecaster{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 720 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger.With().Str("component", "executor").Logger()
	return &Executor{
		cache: cache,
		collab: collaborators{
			source:     opts.Source,
			forecaster: opts.Forecaster,
			logger:     log,
		},
		defaultTTL: opts.DefaultTTL,
		log:        log,
		now:        opts.Now,
	}
}

// Capabilities lists the implemented capability names in declared order.
func (x *Executor) Capabilities() []string {
	var out []string
	for _, c := range domain.AllCapabilities() {
		if _, ok := handlers[c]; ok {
			out = append(out, string(c))
		}
	}
	return out
}

// Supports reports whether name is an implemented capability.
func (x *Executor) Supports(name string) bool {
	_, ok := handlers[domain.Capability(name)]
	return ok
}

// Execute runs capability over params. A fresh LTM entry for the same
// fingerprint is reused; concurrent identical calls share one computation.
func (x *Executor) Execute(ctx context.Context, capability string, params map[string]any) (Result, error) {
	h, ok := handlers[domain.Capability(capability)]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedCapability, capability)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	resolved, run, err := h.prepare(params, x.now(), x.collab)
	if err != nil {
		return Result{}, err
	}
	key, err := ltm.Fingerprint(capability, resolved)
	if err != nil {
		return Result{}, err
	}
	ttl := domain.CapabilityTTL(domain.Capability(capability), x.defaultTTL)

	data, hit, err := x.cache.Remember(key, ttl, func() ([]byte, error) {
		metrics.LTMComputations.WithLabelValues(capability).Inc()
		return run()
	})
	if err != nil {
		return Result{}, fmt.Errorf("compute %s: %w", capability, err)
	}

	explain, err := h.explain(data)
	if err != nil {
		return Result{}, fmt.Errorf("explain %s: %w", capability, err)
	}
	if hit {
		explain = append([]string{"Result reused from long-term memory (" + key + ")"}, explain...)
	}

	x.log.Debug().
		Str("capability", capability).
		Str("key", key).
		Bool("ltm_hit", hit).
		Msg("executed")

	return Result{Data: data, Explainability: explain, LTMHit: hit, Key: key}, nil
}

// Memory returns the non-expired LTM entries under prefix.
func (x *Executor) Memory(prefix string) ([]ltm.Entry, error) {
	return x.cache.PrefixQuery(prefix)
}

// Sweep drops expired LTM entries.
func (x *Executor) Sweep() (int, error) {
	return x.cache.Sweep()
}

// CacheBackend names the store currently serving the LTM.
func (x *Executor) CacheBackend() string {
	return x.cache.Backend()
}


// Package registry is the supervisor's capability registry: the durable set
// of known workers, what they offer and whether they answered their last
// health probe.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
)

// Options configures a Registry. Store and Prober are optional.
type Options struct {
	Store        domain.AgentStore
	Prober       domain.Prober
	ProbeTimeout time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

type entry struct {
	rec     domain.AgentRecord
	latency *float64
	lastErr string
	// probedAt is the start time of the newest probe applied to rec.
	probedAt time.Time
}

// Registry holds AgentRecords keyed by name. Registrations are serialized;
// reads run concurrently with probes.
type Registry struct {
	writeMu sync.Mutex // serializes persisted mutations so memory and store agree

	mu     sync.RWMutex
	agents map[string]*entry

	store        domain.AgentStore
	prober       domain.Prober
	probeTimeout time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Registry{
		agents:       make(map[string]*entry),
		store:        opts.Store,
		prober:       opts.Prober,
		probeTimeout: opts.ProbeTimeout,
		log:          opts.Logger.With().Str("component", "registry").Logger(),
		now:          opts.Now,
	}
}

// Load restores the persisted snapshot. Records that no longer validate
// are skipped.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.ListAgents()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			r.log.Warn().Err(err).Str("agent", rec.Name).Msg("skipping persisted agent")
			continue
		}
		if rec.Status == "" {
			rec.Status = domain.HealthUnknown
		}
		r.agents[rec.Name] = &entry{rec: rec}
	}
	metrics.AgentsRegistered.Set(float64(len(r.agents)))
	r.log.Info().Int("agents", len(r.agents)).Msg("registry snapshot loaded")
	return nil
}

// Register inserts or atomically replaces the record for rec.Name.
// It fails only with a ValidationError; a persistence failure is logged.
func (r *Registry) Register(rec domain.AgentRecord) (domain.AgentRecord, error) {
	rec = rec.Clone()
	if err := rec.Validate(); err != nil {
		return domain.AgentRecord{}, err
	}
	rec.LastSeen = r.now().UTC()
	rec.Status = domain.HealthUnknown

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	_, replaced := r.agents[rec.Name]
	r.agents[rec.Name] = &entry{rec: rec, probedAt: rec.LastSeen}
	n := len(r.agents)
	r.mu.Unlock()

	metrics.AgentsRegistered.Set(float64(n))
	r.persist(rec)
	r.log.Info().
		Str("agent", rec.Name).
		Strs("capabilities", rec.Capabilities).
		Bool("replaced", replaced).
		Msg("agent registered")
	return rec.Clone(), nil
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (domain.AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[name]
	if !ok {
		return domain.AgentRecord{}, false
	}
	return e.rec.Clone(), true
}

// List returns every record ordered by name.
func (r *Registry) List() []domain.AgentRecord {
	r.mu.RLock()
	out := make([]domain.AgentRecord, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.rec.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len is the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// FindByCapability returns every record advertising c, ordered by name.
func (r *Registry) FindByCapability(c domain.Capability) []domain.AgentRecord {
	var out []domain.AgentRecord
	for _, rec := range r.List() {
		if rec.Offers(c) {
			out = append(out, rec)
		}
	}
	return out
}

// Select picks the worker to receive a task for c: agents not known to be
// unhealthy, most recently seen first, name as the final tie-break.
func (r *Registry) Select(c domain.Capability) (domain.AgentRecord, error) {
	var candidates []domain.AgentRecord
	for _, rec := range r.FindByCapability(c) {
		if rec.Status != domain.HealthUnhealthy {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return domain.AgentRecord{}, &domain.UnavailableError{Capability: c}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].LastSeen.Equal(candidates[j].LastSeen) {
			return candidates[i].LastSeen.After(candidates[j].LastSeen)
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], nil
}

// Touch advances last_seen to at, never backwards. Used after a
// successful dispatch.
func (r *Registry) Touch(name string, at time.Time) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	e, ok := r.agents[name]
	if !ok || !at.After(e.rec.LastSeen) {
		r.mu.Unlock()
		return
	}
	e.rec.LastSeen = at.UTC()
	rec := e.rec.Clone()
	r.mu.Unlock()

	r.persist(rec)
}

// ProbeHealth probes one agent and records the verdict. last_seen only
// moves forward and a probe that started before the newest applied one
// does not overwrite its verdict.
func (r *Registry) ProbeHealth(ctx context.Context, name string) (domain.AgentHealth, error) {
	r.mu.RLock()
	e, ok := r.agents[name]
	var healthURL string
	if ok {
		healthURL = e.rec.HealthURL
	}
	r.mu.RUnlock()
	if !ok {
		return domain.AgentHealth{}, domain.ErrAgentNotFound
	}

	started := r.now().UTC()
	probeErr := r.probe(ctx, healthURL)
	elapsed := r.now().Sub(started)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	e, ok = r.agents[name]
	if !ok {
		r.mu.Unlock()
		return domain.AgentHealth{}, domain.ErrAgentNotFound
	}
	if started.After(e.probedAt) || started.Equal(e.probedAt) {
		e.probedAt = started
		if probeErr != nil {
			e.rec.Status = domain.HealthUnhealthy
			e.latency = nil
			e.lastErr = probeErr.Error()
		} else {
			e.rec.Status = domain.HealthHealthy
			ms := float64(elapsed.Microseconds()) / 1000
			e.latency = &ms
			e.lastErr = ""
		}
	}
	if probeErr == nil && started.After(e.rec.LastSeen) {
		e.rec.LastSeen = started
	}
	rec := e.rec.Clone()
	h := healthOf(e)
	r.mu.Unlock()

	metrics.SetAgentHealth(name, rec.Status == domain.HealthHealthy)
	metrics.HealthProbeLatency.Observe(elapsed.Seconds())
	if probeErr != nil {
		r.log.Warn().Err(probeErr).Str("agent", name).Msg("health probe failed")
	}
	r.persist(rec)
	return h, nil
}

// AggregateHealth probes every agent concurrently and summarizes the result.
// The supervisor is "degraded" if any agent is unhealthy, else "ok".
func (r *Registry) AggregateHealth(ctx context.Context) domain.AggregateHealth {
	names := make([]string, 0)
	for _, rec := range r.List() {
		names = append(names, rec.Name)
	}

	rows := make([]domain.AgentHealth, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			h, err := r.ProbeHealth(gctx, name)
			if errors.Is(err, domain.ErrAgentNotFound) {
				h = domain.AgentHealth{Name: name, Status: domain.HealthUnknown, Error: err.Error()}
			}
			rows[i] = h
			return nil
		})
	}
	_ = g.Wait()

	agg := domain.AggregateHealth{SupervisorStatus: "ok", Agents: rows, TotalAgents: len(rows)}
	for _, h := range rows {
		switch h.Status {
		case domain.HealthHealthy:
			agg.HealthyAgents++
		case domain.HealthUnhealthy:
			agg.SupervisorStatus = "degraded"
		}
	}
	return agg
}

// Snapshot returns the last recorded verdicts without probing.
func (r *Registry) Snapshot() []domain.AgentHealth {
	r.mu.RLock()
	out := make([]domain.AgentHealth, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, healthOf(e))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Prune removes agents that are unhealthy and have not been seen for longer
// than after. A non-positive after disables pruning.
func (r *Registry) Prune(after time.Duration) []string {
	if after <= 0 {
		return nil
	}
	cutoff := r.now().Add(-after)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	var removed []string
	for name, e := range r.agents {
		if e.rec.Status == domain.HealthUnhealthy && e.rec.LastSeen.Before(cutoff) {
			delete(r.agents, name)
			removed = append(removed, name)
		}
	}
	n := len(r.agents)
	r.mu.Unlock()

	sort.Strings(removed)
	for _, name := range removed {
		metrics.AgentHealthy.DeleteLabelValues(name)
		if r.store != nil {
			if err := r.store.DeleteAgent(name); err != nil && !errors.Is(err, domain.ErrAgentNotFound) {
				r.log.Warn().Err(err).Str("agent", name).Msg("delete pruned agent")
			}
		}
		r.log.Info().Str("agent", name).Msg("agent pruned")
	}
	metrics.AgentsRegistered.Set(float64(n))
	return removed
}

func (r *Registry) probe(ctx context.Context, healthURL string) error {
	if r.prober == nil {
		return errors.New("no health prober configured")
	}
	if healthURL == "" {
		return errors.New("agent has no health url")
	}
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	return r.prober.Probe(ctx, healthURL)
}

func (r *Registry) persist(rec domain.AgentRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertAgent(rec); err != nil {
		r.log.Error().Err(err).Str("agent", rec.Name).Msg("persist registry snapshot")
	}
}

func healthOf(e *entry) domain.AgentHealth {
	h := domain.AgentHealth{
		Name:     e.rec.Name,
		Status:   e.rec.Status,
		LastSeen: e.rec.LastSeen,
		Error:    e.lastErr,
	}
	if e.latency != nil {
		ms := *e.latency
		h.ResponseTimeMS = &ms
	}
	return h
}

// Package supervisor ties the registry, the intent router and the
// dispatcher into the query operations the supervisor serves.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/dispatch"
	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/intent"
	"github.com/scems-network/scems/internal/protocol"
	"github.com/scems-network/scems/internal/registry"
)

// DefaultName is the sender name stamped on task envelopes.
const DefaultName = "SupervisorAgent_Main"

// Options configures a Supervisor.
type Options struct {
	Name     string
	Priority int
	Logger   zerolog.Logger
}

// Supervisor routes prompts to registered workers.
type Supervisor struct {
	name       string
	priority   int
	registry   *registry.Registry
	router     *intent.Router
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

// QueryResult is the outcome of a synchronous query.
type QueryResult struct {
	Agent      string                    `json:"agent"`
	Capability domain.Capability         `json:"capability"`
	Parameters map[string]any            `json:"parameters"`
	Response   protocol.CompletionReport `json:"response"`
}

// AsyncResult is the immediate answer to an asynchronous query.
type AsyncResult struct {
	Agent      string            `json:"agent"`
	Capability domain.Capability `json:"capability"`
	Parameters map[string]any    `json:"parameters"`
	Routing    []string          `json:"routing"`
	Ack        protocol.Ack      `json:"ack"`
}

// New creates a Supervisor.
func New(reg *registry.Registry, router *intent.Router, d *dispatch.Dispatcher, opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Priority == 0 {
		opts.Priority = protocol.DefaultPriority
	}
	return &Supervisor{
		name:       opts.Name,
		priority:   opts.Priority,
		registry:   reg,
		router:     router,
		dispatcher: d,
		log:        opts.Logger.With().Str("component", "supervisor").Logger(),
	}
}

// Name is the supervisor's sender identity.
func (s *Supervisor) Name() string { return s.name }

// Registry exposes the capability registry.
func (s *Supervisor) Registry() *registry.Registry { return s.registry }

// Register adds or replaces a worker.
func (s *Supervisor) Register(rec domain.AgentRecord) (domain.AgentRecord, error) {
	return s.registry.Register(rec)
}

// Query routes prompt, dispatches it and waits for the report. Routing
// failures come back as *domain.NoMatchError or *domain.UnavailableError;
// everything after routing is folded into the report.
func (s *Supervisor) Query(ctx context.Context, prompt, userID string) (QueryResult, error) {
	decision, worker, err := s.resolve(prompt)
	if err != nil {
		return QueryResult{}, err
	}

	env := protocol.MustNewTask(s.name, worker.Name, string(decision.Capability), decision.Parameters, s.priority)
	start := time.Now()
	report := s.dispatcher.Dispatch(ctx, env, worker)

	// Lead with the routing trail so every answer explains how it was chosen.
	explain := make([]string, 0, len(decision.Explanation)+len(report.Results.Explainability))
	explain = append(explain, decision.Explanation...)
	explain = append(explain, report.Results.Explainability...)
	report.Results.Explainability = explain

	s.log.Info().
		Str("user", userID).
		Str("capability", string(decision.Capability)).
		Str("agent", worker.Name).
		Str("message_id", env.MessageID).
		Str("status", report.Status).
		Bool("ltm_hit", report.Results.LTMHit).
		Dur("took", time.Since(start)).
		Msg("query routed")

	return QueryResult{
		Agent:      worker.Name,
		Capability: decision.Capability,
		Parameters: decision.Parameters,
		Response:   report,
	}, nil
}

// QueryAsync routes prompt and returns as soon as the worker acknowledged
// the task. The report is later available through Report.
func (s *Supervisor) QueryAsync(ctx context.Context, prompt, userID string) (AsyncResult, error) {
	decision, worker, err := s.resolve(prompt)
	if err != nil {
		return AsyncResult{}, err
	}

	env := protocol.MustNewTask(s.name, worker.Name, string(decision.Capability), decision.Parameters, s.priority)
	ack := s.dispatcher.DispatchAsync(ctx, env, worker)

	s.log.Info().
		Str("user", userID).
		Str("capability", string(decision.Capability)).
		Str("agent", worker.Name).
		Str("message_id", env.MessageID).
		Str("ack", ack.Status).
		Msg("query dispatched async")

	return AsyncResult{
		Agent:      worker.Name,
		Capability: decision.Capability,
		Parameters: decision.Parameters,
		Routing:    decision.Explanation,
		Ack:        ack,
	}, nil
}

// DeliverReport accepts a report POSTed back by a worker.
func (s *Supervisor) DeliverReport(r protocol.CompletionReport) error {
	return s.dispatcher.Inbox().Deliver(r)
}

// Report returns the report for an async dispatch.
func (s *Supervisor) Report(messageID string) (protocol.CompletionReport, error) {
	return s.dispatcher.Inbox().Result(messageID)
}

// WaitReport blocks until the async report for messageID is visible.
func (s *Supervisor) WaitReport(ctx context.Context, messageID string) (protocol.CompletionReport, error) {
	return s.dispatcher.Inbox().Wait(ctx, messageID)
}

// AggregateHealth probes every worker.
func (s *Supervisor) AggregateHealth(ctx context.Context) domain.AggregateHealth {
	return s.registry.AggregateHealth(ctx)
}

func (s *Supervisor) resolve(prompt string) (intent.Decision, domain.AgentRecord, error) {
	decision, err := s.router.Route(prompt)
	if err != nil {
		s.log.Debug().Err(err).Str("prompt", prompt).Msg("no route")
		return intent.Decision{}, domain.AgentRecord{}, err
	}
	worker, err := s.registry.Select(decision.Capability)
	if err != nil {
		s.log.Warn().Err(err).Str("capability", string(decision.Capability)).Msg("no worker available")
		return intent.Decision{}, domain.AgentRecord{}, err
	}
	return decision, worker, nil
}

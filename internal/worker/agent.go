package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/client"
	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

// DefaultAgentName is the worker's registry identity when none is configured.
const DefaultAgentName = "SmartCampusEnergyAgent"

// Reporter delivers an asynchronously produced report to the envelope's
// reply_to address. Implemented by client.Client.
type Reporter interface {
	PostReport(ctx context.Context, replyTo string, report protocol.CompletionReport) error
}

// AgentOptions configures an Agent.
type AgentOptions struct {
	Name string
	// MaxConcurrent bounds background executions. Defaults to 8.
	MaxConcurrent int
	// Reporter posts async reports. Nil drops them after logging.
	Reporter    Reporter
	ReportRetry client.RetryConfig
	// DuplicateWindow is how many recent message ids are remembered.
	DuplicateWindow int
	// TaskTimeout bounds one background execution. Zero means no limit.
	TaskTimeout time.Duration
	Logger      zerolog.Logger
}

// Agent is the worker's task endpoint. Every accepted envelope produces
// exactly one completion report: returned for sync tasks, posted to
// reply_to for async ones.
type Agent struct {
	name     string
	exec     *Executor
	window   *protocol.Window
	sem      chan struct{}
	reporter Reporter
	retry    client.RetryConfig
	timeout  time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
}

// NewAgent creates a worker agent over exec.
func NewAgent(exec *Executor, opts AgentOptions) *Agent {
	if opts.Name == "" {
		opts.Name = DefaultAgentName
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 1024
	}
	if opts.ReportRetry.MaxAttempts == 0 {
		opts.ReportRetry = client.DefaultRetryConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		name:     opts.Name,
		exec:     exec,
		window:   protocol.NewWindow(opts.DuplicateWindow),
		sem:      make(chan struct{}, opts.MaxConcurrent),
		reporter: opts.Reporter,
		retry:    opts.ReportRetry,
		timeout:  opts.TaskTimeout,
		log:      opts.Logger.With().Str("component", "agent").Str("agent", opts.Name).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name returns the agent's registry identity.
func (a *Agent) Name() string { return a.name }

// Capabilities lists what the agent advertises.
func (a *Agent) Capabilities() []string { return a.exec.Capabilities() }

// Executor exposes the capability executor (LTM admin endpoints use it).
func (a *Agent) Executor() *Executor { return a.exec }

// Supports reports whether the agent implements capability name.
func (a *Agent) Supports(name string) bool { return a.exec.Supports(name) }

// HandleTask executes env and returns its report. Capability failures come
// back as FAILURE reports; the error is reserved for envelopes the agent
// refuses outright (wrong recipient, replayed message_id).
func (a *Agent) HandleTask(ctx context.Context, env protocol.TaskEnvelope) (protocol.CompletionReport, error) {
	if err := a.admit(env); err != nil {
		return protocol.CompletionReport{}, err
	}
	return a.execute(ctx, env), nil
}

// Submit accepts env for background execution and acknowledges it at once.
// The report is posted to env.ReplyTo when done.
func (a *Agent) Submit(env protocol.TaskEnvelope) (protocol.Ack, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return protocol.Ack{}, errors.New("worker is shutting down")
	}
	if err := a.admit(env); err != nil {
		a.mu.Unlock()
		return protocol.Ack{}, err
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		select {
		case a.sem <- struct{}{}:
		case <-a.ctx.Done():
			a.deliver(env, protocol.NewFailureReport(env.MessageID, a.name, env.Sender,
				"worker shutting down", "task dropped before execution: worker shutting down"))
			return
		}
		defer func() { <-a.sem }()

		ctx := a.ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		a.deliver(env, a.execute(ctx, env))
	}()

	return protocol.Ack{Status: "accepted", MessageID: env.MessageID}, nil
}

// Close stops accepting background work and waits for in-flight tasks and
// their report deliveries, or for ctx to end.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

func (a *Agent) admit(env protocol.TaskEnvelope) error {
	if env.Recipient != a.name {
		return domain.InvalidField("recipient", fmt.Sprintf("addressed to %q, this is %q", env.Recipient, a.name))
	}
	return a.window.Admit(env)
}

func (a *Agent) execute(ctx context.Context, env protocol.TaskEnvelope) protocol.CompletionReport {
	start := time.Now()
	res, err := a.exec.Execute(ctx, env.Task.Name, env.Task.Parameters)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("message_id", env.MessageID).
			Str("capability", env.Task.Name).
			Msg("task failed")
		return protocol.NewFailureReport(env.MessageID, a.name, env.Sender, err.Error(), failureNote(env.Task.Name, err))
	}

	a.log.Info().
		Str("message_id", env.MessageID).
		Str("capability", env.Task.Name).
		Bool("ltm_hit", res.LTMHit).
		Dur("took", time.Since(start)).
		Msg("task completed")
	return protocol.NewSuccessReport(env, a.name, res.Data, res.Explainability, res.LTMHit)
}

func failureNote(capability string, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedCapability):
		return "capability not supported by this worker: " + capability
	case errors.Is(err, domain.ErrValidation):
		return "invalid task parameters: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "task abandoned: " + err.Error()
	default:
		return "capability execution failed: " + err.Error()
	}
}

// deliver posts report to env.ReplyTo, retrying transient failures.
func (a *Agent) deliver(env protocol.TaskEnvelope, report protocol.CompletionReport) {
	log := a.log.With().Str("message_id", env.MessageID).Str("status", report.Status).Logger()
	if env.ReplyTo == "" || a.reporter == nil {
		log.Info().Msg("async report has no reply_to, dropping")
		return
	}
	// Delivery outlives agent shutdown so an executed task still reports.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := client.Retry(ctx, a.retry, func(ctx context.Context) error {
		return a.reporter.PostReport(ctx, env.ReplyTo, report)
	}, func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("report delivery failed")
	})
	if err != nil {
		log.Error().Err(err).Str("reply_to", env.ReplyTo).Msg("report undeliverable")
		return
	}
	log.Debug().Str("reply_to", env.ReplyTo).Msg("report delivered")
}

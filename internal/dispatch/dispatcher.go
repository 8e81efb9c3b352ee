// Package dispatch sends task envelopes to workers and turns every outcome,
// including transport failures, into a well-formed completion report.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/infra/metrics"
	"github.com/scems-network/scems/internal/protocol"
)

// DefaultTimeout bounds a synchronous dispatch.
const DefaultTimeout = 10 * time.Second

// Toucher is told when a worker answered successfully. Implemented by
// *registry.Registry.
type Toucher interface {
	Touch(name string, at time.Time)
}

// Options configures a Dispatcher.
type Options struct {
	// Sender names the dispatcher in synthesized reports.
	Sender  string
	Timeout time.Duration
	// ReplyTo is stamped on async envelopes that carry none.
	ReplyTo string
	Inbox   *Inbox
	Toucher Toucher
	// Breaker fails dispatches fast to a worker whose transport keeps
	// failing. Disabled by default.
	Breaker BreakerConfig
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Dispatcher delivers envelopes. It never retries: one attempt, bounded wait.
type Dispatcher struct {
	transport Transport
	sender    string
	timeout   time.Duration
	replyTo   string
	inbox     *Inbox
	toucher   Toucher
	breakers  *breakers
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a dispatcher over transport.
func New(transport Transport, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Inbox == nil {
		opts.Inbox = NewInbox(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sender == "" {
		opts.Sender = "supervisor"
	}
	return &Dispatcher{
		transport: transport,
		sender:    opts.Sender,
		timeout:   opts.Timeout,
		replyTo:   opts.ReplyTo,
		inbox:     opts.Inbox,
		toucher:   opts.Toucher,
		breakers:  newBreakers(opts.Breaker, opts.Now),
		log:       opts.Logger.With().Str("component", "dispatch").Logger(),
		now:       opts.Now,
	}
}

// Inbox exposes the async report inbox.
func (d *Dispatcher) Inbox() *Inbox { return d.inbox }

// CircuitState returns "closed", "open" or "half_open" for worker.
func (d *Dispatcher) CircuitState(worker string) string { return d.breakers.state(worker) }

// Dispatch sends env to worker and waits for its report. Failures of any
// kind come back as a FAILURE report referencing env.MessageID.
func (d *Dispatcher) Dispatch(ctx context.Context, env protocol.TaskEnvelope, worker domain.AgentRecord) protocol.CompletionReport {
	if err := d.prepare(env, worker); err != nil {
		return d.fail(env, "invalid", err)
	}
	if err := d.breakers.allow(worker.Name); err != nil {
		return d.fail(env, "circuit_open", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	report, err := d.transport.SendSync(ctx, worker, env)
	metrics.DispatchLatency.WithLabelValues(env.Task.Name, "sync").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		d.tripped(worker.Name)
		return d.fail(env, reason(err), err)
	}
	d.breakers.success(worker.Name)
	if report.RelatedMessageID != env.MessageID {
		err := fmt.Errorf("%w: got related_message_id %q", domain.ErrUnexpectedReport, report.RelatedMessageID)
		return d.fail(env, "mismatch", err)
	}

	if report.Succeeded() && d.toucher != nil {
		d.toucher.Touch(worker.Name, d.now())
	}
	d.log.Debug().
		Str("message_id", env.MessageID).
		Str("worker", worker.Name).
		Str("status", report.Status).
		Bool("ltm_hit", report.Results.LTMHit).
		Msg("dispatch complete")
	return report
}

// DispatchAsync sends env and returns the worker's acknowledgement. The
// report arrives later through the inbox. A failed send is recorded as a
// FAILURE report so pollers still get an answer.
func (d *Dispatcher) DispatchAsync(ctx context.Context, env protocol.TaskEnvelope, worker domain.AgentRecord) protocol.Ack {
	if err := d.prepare(env, worker); err != nil {
		return d.failAsync(env, "invalid", err)
	}
	if env.ReplyTo == "" {
		env.ReplyTo = d.replyTo
	}

	if err := d.breakers.allow(worker.Name); err != nil {
		return d.failAsync(env, "circuit_open", err)
	}

	d.inbox.Expect(env.MessageID, worker.Name)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ack, err := d.transport.SendAsync(ctx, worker, env)
	metrics.DispatchLatency.WithLabelValues(env.Task.Name, "async").Observe(time.Since(start).Seconds())
	if err != nil {
		d.tripped(worker.Name)
		return d.failAsync(env, reason(err), err)
	}
	d.breakers.success(worker.Name)
	if ack.MessageID != "" && ack.MessageID != env.MessageID {
		err := fmt.Errorf("%w: ack for %q", domain.ErrUnexpectedReport, ack.MessageID)
		return d.failAsync(env, "mismatch", err)
	}

	if d.toucher != nil {
		d.toucher.Touch(worker.Name, d.now())
	}
	d.inbox.Acknowledge(env.MessageID)
	return protocol.Ack{Status: "accepted", MessageID: env.MessageID, Message: ack.Message}
}

// prepare holds the checks shared by both entry points.
func (d *Dispatcher) prepare(env protocol.TaskEnvelope, worker domain.AgentRecord) error {
	if err := protocol.ValidateTask(env, nil); err != nil {
		return err
	}
	if env.Recipient != worker.Name {
		return domain.InvalidField("recipient", fmt.Sprintf("envelope addressed to %q, worker is %q", env.Recipient, worker.Name))
	}
	if !worker.Offers(domain.Capability(env.Task.Name)) {
		return fmt.Errorf("%w: %s does not offer %s", domain.ErrUnsupportedCapability, worker.Name, env.Task.Name)
	}
	return nil
}

func (d *Dispatcher) fail(env protocol.TaskEnvelope, why string, err error) protocol.CompletionReport {
	metrics.DispatchFailures.WithLabelValues(why).Inc()
	d.log.Warn().Err(err).
		Str("message_id", env.MessageID).
		Str("recipient", env.Recipient).
		Str("reason", why).
		Msg("dispatch failed")
	prefix := "transport error"
	if why == "invalid" {
		prefix = "dispatch rejected"
	}
	return protocol.NewFailureReport(env.MessageID, d.sender, env.Sender, err.Error(),
		fmt.Sprintf("%s: %v", prefix, err))
}

func (d *Dispatcher) failAsync(env protocol.TaskEnvelope, why string, err error) protocol.Ack {
	report := d.fail(env, why, err)
	d.inbox.Expect(env.MessageID, env.Recipient)
	d.inbox.Acknowledge(env.MessageID)
	_ = d.inbox.Deliver(report)
	return protocol.Ack{Status: "failed", MessageID: env.MessageID, Message: err.Error()}
}

// tripped records a transport failure against worker's circuit.
func (d *Dispatcher) tripped(worker string) {
	if d.breakers.failure(worker) {
		d.log.Warn().Str("worker", worker).Msg("circuit opened, failing dispatches fast")
	}
}

func reason(err error) string {
	if errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport"
}

package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

// ErrCircuitOpen is returned while a worker's breaker refuses dispatches.
var ErrCircuitOpen = errors.New("circuit open")

// Circuit breaker states:
//   - closed: dispatches pass; transport failures count toward the threshold
//   - open: dispatches fail fast until ResetTimeout elapses
//   - half-open: at most HalfOpenMax dispatches pass as probes at a time;
//     HalfOpenMax successes close the circuit, one failure reopens it
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-worker circuit breakers. A zero
// FailureThreshold disables them.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration // default 30s
	HalfOpenMax      int           // default 1
}

type breaker struct {
	state     breakerState
	failures  int
	successes int
	probes    int // half-open dispatches in flight
	trippedAt time.Time
}

func (b *breaker) release() {
	if b.probes > 0 {
		b.probes--
	}
}

// breakers tracks one circuit per worker name.
type breakers struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time
	by  map[string]*breaker
}

// newBreakers returns nil when cfg disables breaking; every method is safe
// on a nil receiver.
func newBreakers(cfg BreakerConfig, now func() time.Time) *breakers {
	if cfg.FailureThreshold <= 0 {
		return nil
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &breakers{cfg: cfg, now: now, by: make(map[string]*breaker)}
}

func (bs *breakers) get(worker string) *breaker {
	b, ok := bs.by[worker]
	if !ok {
		b = &breaker{}
		bs.by[worker] = b
	}
	return b
}

// advance moves an expired open circuit to half-open. Caller holds mu.
func (bs *breakers) advance(b *breaker) {
	if b.state == breakerOpen && bs.now().Sub(b.trippedAt) >= bs.cfg.ResetTimeout {
		b.state = breakerHalfOpen
		b.successes = 0
		b.probes = 0
	}
}

// allow reports whether worker may be dispatched to.
func (bs *breakers) allow(worker string) error {
	if bs == nil {
		return nil
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b := bs.get(worker)
	bs.advance(b)
	switch b.state {
	case breakerOpen:
		retryIn := bs.cfg.ResetTimeout - bs.now().Sub(b.trippedAt)
		return fmt.Errorf("%w: %w for %s, retry in %s", domain.ErrTransport, ErrCircuitOpen, worker, retryIn.Round(time.Second))
	case breakerHalfOpen:
		if b.probes >= bs.cfg.HalfOpenMax {
			return fmt.Errorf("%w: %w for %s, probe in flight", domain.ErrTransport, ErrCircuitOpen, worker)
		}
		b.probes++
	}
	return nil
}

func (bs *breakers) success(worker string) {
	if bs == nil {
		return
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b := bs.get(worker)
	switch b.state {
	case breakerHalfOpen:
		b.release()
		b.successes++
		if b.successes >= bs.cfg.HalfOpenMax {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

// failure records a transport failure and reports whether it tripped the
// circuit.
func (bs *breakers) failure(worker string) bool {
	if bs == nil {
		return false
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()

	b := bs.get(worker)
	bs.advance(b)
	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= bs.cfg.FailureThreshold {
			b.state = breakerOpen
			b.trippedAt = bs.now()
			return true
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.probes = 0
		b.trippedAt = bs.now()
		return true
	}
	return false
}

// state returns worker's circuit state name.
func (bs *breakers) state(worker string) string {
	if bs == nil {
		return breakerClosed.String()
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b := bs.get(worker)
	bs.advance(b)
	return b.state.String()
}

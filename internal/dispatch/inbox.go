package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

type slot struct {
	worker  string
	created time.Time
	acked   bool
	report  *protocol.CompletionReport
	ready   chan struct{} // closed once acked and report are both set
}

func (s *slot) visible() bool { return s.acked && s.report != nil }

// Inbox correlates asynchronously delivered reports with the dispatches
// that caused them. A report becomes visible only after the dispatch was
// acknowledged, so a poller never sees a report before its ack.
type Inbox struct {
	mu        sync.Mutex
	slots     map[string]*slot
	retention time.Duration
	now       func() time.Time
}

// NewInbox keeps entries for retention (1h when zero).
func NewInbox(retention time.Duration) *Inbox {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Inbox{slots: make(map[string]*slot), retention: retention, now: time.Now}
}

// Expect registers an outstanding dispatch. Must be called before the
// envelope is sent.
func (in *Inbox) Expect(messageID, worker string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.slots[messageID]; ok {
		return
	}
	in.slots[messageID] = &slot{worker: worker, created: in.now(), ready: make(chan struct{})}
}

// Acknowledge records that the worker accepted messageID.
func (in *Inbox) Acknowledge(messageID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.slots[messageID]
	if !ok || s.acked {
		return
	}
	s.acked = true
	if s.visible() {
		close(s.ready)
	}
}

// Deliver stores a report for an outstanding dispatch. Only the first
// report per message is kept; later ones are ignored.
func (in *Inbox) Deliver(r protocol.CompletionReport) error {
	if err := protocol.ValidateReport(r); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.slots[r.RelatedMessageID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnexpectedReport, r.RelatedMessageID)
	}
	if s.report != nil {
		return nil
	}
	s.report = &r
	if s.visible() {
		close(s.ready)
	}
	return nil
}

// Result returns the report for messageID, ErrReportPending while it is not
// yet visible and ErrReportNotFound for unknown ids.
func (in *Inbox) Result(messageID string) (protocol.CompletionReport, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.slots[messageID]
	if !ok {
		return protocol.CompletionReport{}, domain.ErrReportNotFound
	}
	if !s.visible() {
		return protocol.CompletionReport{}, domain.ErrReportPending
	}
	return *s.report, nil
}

// Wait blocks until the report for messageID is visible or ctx ends.
func (in *Inbox) Wait(ctx context.Context, messageID string) (protocol.CompletionReport, error) {
	in.mu.Lock()
	s, ok := in.slots[messageID]
	in.mu.Unlock()
	if !ok {
		return protocol.CompletionReport{}, domain.ErrReportNotFound
	}

	select {
	case <-s.ready:
		return in.Result(messageID)
	case <-ctx.Done():
		return protocol.CompletionReport{}, ctx.Err()
	}
}

// Pending counts dispatches whose report is not yet visible.
func (in *Inbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, s := range in.slots {
		if !s.visible() {
			n++
		}
	}
	return n
}

// Purge drops entries older than the retention window.
func (in *Inbox) Purge() int {
	cutoff := in.now().Add(-in.retention)
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for id, s := range in.slots {
		if s.created.Before(cutoff) {
			delete(in.slots, id)
			n++
		}
	}
	return n
}

// Run purges expired entries every interval until ctx is done.
func (in *Inbox) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.Purge()
		}
	}
}

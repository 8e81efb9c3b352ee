package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

// DecodeTask parses and validates an inbound task_assignment.
// known reports whether a capability name is recognized; nil accepts the
// domain's declared capabilities. Unknown fields are ignored.
func DecodeTask(raw []byte, known func(string) bool) (TaskEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TaskEnvelope{}, domain.InvalidField("body", "not a JSON object")
	}
	for _, f := range []string{"message_id", "sender", "recipient", "type", "task"} {
		if isAbsent(fields[f]) {
			return TaskEnvelope{}, domain.MissingField(f)
		}
	}

	var task map[string]json.RawMessage
	if err := json.Unmarshal(fields["task"], &task); err != nil {
		return TaskEnvelope{}, domain.InvalidField("task", "not a JSON object")
	}
	if isAbsent(task["name"]) {
		return TaskEnvelope{}, domain.MissingField("task.name")
	}

	var env TaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TaskEnvelope{}, domain.InvalidField("body", err.Error())
	}
	if isAbsent(task["priority"]) {
		env.Task.Priority = DefaultPriority
	}
	if isAbsent(fields["timestamp"]) {
		env.Timestamp = time.Now().UTC()
	}
	if err := ValidateTask(env, known); err != nil {
		return TaskEnvelope{}, err
	}
	return env, nil
}

// ValidateTask checks an already decoded envelope. It is shared by the
// inbound decoder and the dispatcher before anything is sent.
func ValidateTask(env TaskEnvelope, known func(string) bool) error {
	if known == nil {
		known = domain.IsKnownCapability
	}
	switch {
	case env.MessageID == "":
		return domain.InvalidField("message_id", "must not be empty")
	case env.Sender == "":
		return domain.InvalidField("sender", "must not be empty")
	case env.Recipient == "":
		return domain.InvalidField("recipient", "must not be empty")
	case env.Type != TypeTaskAssignment:
		return domain.InvalidField("type", fmt.Sprintf("expected %q, got %q", TypeTaskAssignment, env.Type))
	case env.Task.Name == "":
		return domain.InvalidField("task.name", "must not be empty")
	case !known(env.Task.Name):
		return domain.InvalidField("task.name", fmt.Sprintf("unknown capability %q", env.Task.Name))
	case env.Task.Priority < MinPriority || env.Task.Priority > MaxPriority:
		return domain.InvalidField("task.priority", fmt.Sprintf("must be between %d and %d", MinPriority, MaxPriority))
	}
	return nil
}

// DecodeReport parses and validates an inbound completion_report.
// A missing explainability list is accepted and normalized to empty.
func DecodeReport(raw []byte) (CompletionReport, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return CompletionReport{}, domain.InvalidField("body", "not a JSON object")
	}
	for _, f := range []string{"type", "related_message_id", "status"} {
		if isAbsent(fields[f]) {
			return CompletionReport{}, domain.MissingField(f)
		}
	}

	var r CompletionReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return CompletionReport{}, domain.InvalidField("body", err.Error())
	}
	if err := ValidateReport(r); err != nil {
		return CompletionReport{}, err
	}
	r.Results.Explainability = nonNil(r.Results.Explainability)
	return r, nil
}

// ValidateReport checks the outbound report rules.
func ValidateReport(r CompletionReport) error {
	switch {
	case r.Type != TypeCompletionReport:
		return domain.InvalidField("type", fmt.Sprintf("expected %q, got %q", TypeCompletionReport, r.Type))
	case r.RelatedMessageID == "":
		return domain.InvalidField("related_message_id", "must not be empty")
	case r.Status != StatusSuccess && r.Status != StatusFailure:
		return domain.InvalidField("status", fmt.Sprintf("must be %s or %s", StatusSuccess, StatusFailure))
	}
	return nil
}

func isAbsent(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// ─── Duplicate Window ───────────────────────────────────────────────────────

// Window remembers the most recent (sender, message_id) pairs so a worker
// rejects replays and never emits two reports for one envelope.
type Window struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

// NewWindow creates a window remembering up to size messages.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 4096
	}
	return &Window{
		seen:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// Admit records the envelope and returns ErrDuplicateMessage if it was
// already admitted.
func (w *Window) Admit(env TaskEnvelope) error {
	key := env.Sender + "\x00" + env.MessageID

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.seen[key]; dup {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, env.MessageID)
	}
	if old := w.order[w.next]; old != "" {
		delete(w.seen, old)
	}
	w.order[w.next] = key
	w.next = (w.next + 1) % len(w.order)
	w.seen[key] = struct{}{}
	return nil
}

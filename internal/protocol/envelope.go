// Package protocol defines the JSON message contract between the supervisor and
// its workers: the task_assignment envelope sent to a worker and the
// completion_report it sends back.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types.
const (
	TypeTaskAssignment   = "task_assignment"
	TypeCompletionReport = "completion_report"
)

// Report statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Priority policy. Priority is informational only; there is no preemption.
const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 2
)

// Task is the unit of work inside a TaskEnvelope.
type Task struct {
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	Parameters map[string]any `json:"parameters"`
}

// TaskEnvelope is a task_assignment message.
type TaskEnvelope struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Type      string    `json:"type"`
	Task      Task      `json:"task"`
	Timestamp time.Time `json:"timestamp"`

	// ReplyTo is where an asynchronously executed report is POSTed. Optional.
	ReplyTo string `json:"reply_to,omitempty"`
}

// Results carries the capability output of a CompletionReport.
type Results struct {
	Data           json.RawMessage `json:"data,omitempty"`
	Explainability []string        `json:"explainability"`
	LTMHit         bool            `json:"ltm_hit"`
}

// CompletionReport is the reply to exactly one TaskEnvelope.
type CompletionReport struct {
	MessageID        string    `json:"message_id"`
	Sender           string    `json:"sender"`
	Recipient        string    `json:"recipient"`
	Type             string    `json:"type"`
	RelatedMessageID string    `json:"related_message_id"`
	Status           string    `json:"status"`
	Results          Results   `json:"results"`
	Timestamp        time.Time `json:"timestamp"`
	Error            string    `json:"error,omitempty"`
}

// Succeeded reports whether the report carries a SUCCESS status.
func (r CompletionReport) Succeeded() bool { return r.Status == StatusSuccess }

// Ack is the immediate acknowledgement of an asynchronous task.
type Ack struct {
	Status    string `json:"status"` // "accepted" or "failed"
	MessageID string `json:"message_id"`
	Message   string `json:"message,omitempty"`
}

// NewMessageID returns a fresh globally unique message identifier.
func NewMessageID() string { return uuid.NewString() }

// MustNewTask builds a task_assignment envelope with a fresh message_id.
// Empty sender, recipient or capability is a programmer error and panics.
func MustNewTask(sender, recipient, capability string, params map[string]any, priority int) TaskEnvelope {
	if sender == "" || recipient == "" || capability == "" {
		panic("protocol: task envelope requires sender, recipient and capability")
	}
	if params == nil {
		params = map[string]any{}
	}
	if priority == 0 {
		priority = DefaultPriority
	}
	return TaskEnvelope{
		MessageID: NewMessageID(),
		Sender:    sender,
		Recipient: recipient,
		Type:      TypeTaskAssignment,
		Task: Task{
			Name:       capability,
			Priority:   priority,
			Parameters: params,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewSuccessReport answers env with a SUCCESS report from sender.
func NewSuccessReport(env TaskEnvelope, sender string, data json.RawMessage, explain []string, ltmHit bool) CompletionReport {
	r := newReport(env.MessageID, sender, env.Sender, StatusSuccess)
	r.Results = Results{Data: data, Explainability: nonNil(explain), LTMHit: ltmHit}
	return r
}

// NewFailureReport answers the message relatedID with a FAILURE report.
// Data is always absent on failure.
func NewFailureReport(relatedID, sender, recipient, errMsg string, explain ...string) CompletionReport {
	r := newReport(relatedID, sender, recipient, StatusFailure)
	r.Error = errMsg
	r.Results = Results{Explainability: nonNil(explain)}
	return r
}

func newReport(relatedID, sender, recipient, status string) CompletionReport {
	if relatedID == "" {
		panic("protocol: completion report requires the originating message_id")
	}
	return CompletionReport{
		MessageID:        NewMessageID(),
		Sender:           sender,
		Recipient:        recipient,
		Type:             TypeCompletionReport,
		RelatedMessageID: relatedID,
		Status:           status,
		Timestamp:        time.Now().UTC(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

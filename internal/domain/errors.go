package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Input errors (rejected before any state mutation)
	ErrValidation = errors.New("validation failed")
	ErrProtocol   = errors.New("protocol violation")

	// Routing errors
	ErrNoMatch           = errors.New("no capability matches the request")
	ErrUnavailableWorker = errors.New("no healthy worker offers the capability")
	ErrAgentNotFound     = errors.New("agent not registered")

	// Worker errors
	ErrUnsupportedCapability = errors.New("capability not supported by this worker")
	ErrDuplicateMessage      = errors.New("message_id already processed")

	// Transport errors (converted into FAILURE reports by the dispatcher)
	ErrTransport = errors.New("transport failure")
	ErrTimeout   = errors.New("worker did not reply in time")

	// Async report inbox
	ErrReportNotFound   = errors.New("no dispatch recorded for message_id")
	ErrReportPending    = errors.New("completion report not yet available")
	ErrUnexpectedReport = errors.New("report does not match an outstanding dispatch")

	// LTM
	ErrBackendUnavailable = errors.New("ltm durable backend unavailable")
)

// FieldError names the offending field of a rejected registration or envelope.
// It matches ErrProtocol or ErrValidation through errors.Is depending on Kind.
type FieldError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.Kind }

// MissingField builds the ProtocolError raised for an absent required field.
func MissingField(field string) error {
	return &FieldError{Kind: ErrProtocol, Field: field, Reason: "required field missing"}
}

// InvalidField builds a ProtocolError for a present but unacceptable field.
func InvalidField(field, reason string) error {
	return &FieldError{Kind: ErrProtocol, Field: field, Reason: reason}
}

// Invalid builds a ValidationError for a registration field.
func Invalid(field, reason string) error {
	return &FieldError{Kind: ErrValidation, Field: field, Reason: reason}
}

// NoMatchError is returned by the intent router when a prompt cannot be routed.
// Explanation is always human readable; Suggestions lists prompts that would route.
type NoMatchError struct {
	Explanation string
	Suggestions []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNoMatch, e.Explanation)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// UnavailableError reports the capability that had no usable worker.
type UnavailableError struct {
	Capability Capability
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnavailableWorker, e.Capability)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailableWorker }

// ─── Wire Codes ─────────────────────────────────────────────────────────────
// Stable error codes carried in HTTP error bodies.

const (
	CodeValidation  = "validation_error"
	CodeProtocol    = "protocol_error"
	CodeNoMatch     = "no_match"
	CodeUnavailable = "unavailable_worker"
	CodeUnsupported = "unsupported_capability"
	CodeDuplicate   = "duplicate_message"
	CodeNotFound    = "not_found"
	CodePending     = "report_pending"
	CodeInternal    = "internal_error"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeValidation, ErrValidation},
	{CodeProtocol, ErrProtocol},
	{CodeNoMatch, ErrNoMatch},
	{CodeUnavailable, ErrUnavailableWorker},
	{CodeUnsupported, ErrUnsupportedCapability},
	{CodeDuplicate, ErrDuplicateMessage},
	{CodeNotFound, ErrReportNotFound},
	{CodeNotFound, ErrAgentNotFound},
	{CodeNotFound, ErrUnexpectedReport},
	{CodePending, ErrReportPending},
}

// ErrorCode returns the wire code for err, CodeInternal when unclassified.
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// CodeError returns the sentinel for a wire code, nil when unknown.
func CodeError(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}

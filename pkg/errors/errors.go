// Package errors defines the failure taxonomy returned by every layer of the
// SDK. Each failure carries a Code so callers can branch on the kind of error
// (retry, abort, log-and-continue) without matching on message text.
package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a kind of failure.
type Code string

// Severity describes how serious an error is for alerting and audit purposes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes are the default behaviours attached to a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeConfiguration    Code = "CONFIGURATION_ERROR"
	CodeTimeout          Code = "TIMEOUT"
	CodePollTimeout      Code = "POLL_TIMEOUT"
	CodeServiceExecution Code = "SERVICE_EXECUTION_ERROR"
	CodeEndpointNotFound Code = "ENDPOINT_NOT_FOUND"
	CodeServiceNotFound  Code = "SERVICE_NOT_FOUND"
	CodeClientClosed     Code = "CLIENT_CLOSED"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeRemoteNotFound   Code = "REMOTE_NOT_FOUND"
	CodeRemote           Code = "REMOTE_ERROR"
	CodeTransport        Code = "TRANSPORT_FAILURE"
	CodeDecode           Code = "DECODE_FAILURE"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodePublishFailure   Code = "PUBLISH_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeConfiguration: {
			Message:  "invalid client configuration",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeTimeout: {
			Message:   "request timed out",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodePollTimeout: {
			Message:  "job did not reach a terminal status in time",
			Severity: SeverityWarning,
			Alert:    true,
		},
		CodeServiceExecution: {
			Message:  "remote job failed",
			Severity: SeverityWarning,
		},
		CodeEndpointNotFound: {
			Message:  "endpoint not found",
			Severity: SeverityInfo,
		},
		CodeServiceNotFound: {
			Message:  "service not found",
			Severity: SeverityInfo,
		},
		CodeClientClosed: {
			Message:  "client is closed",
			Severity: SeverityCritical,
		},
		CodeUnauthorized: {
			Message:  "request was not authorised",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeRemoteNotFound: {
			Message:  "remote resource not found",
			Severity: SeverityInfo,
		},
		CodeRemote: {
			Message:  "remote platform returned an error",
			Severity: SeverityWarning,
		},
		CodeTransport: {
			Message:   "transport failure",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeDecode: {
			Message:  "could not decode response",
			Severity: SeverityWarning,
			Alert:    true,
		},
		CodeStorageFailure: {
			Message:   "journal storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodePublishFailure: {
			Message:   "event publish failure",
			Severity:  SeverityWarning,
			Retryable: true,
		},
	}
)

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrConfiguration    = New(CodeConfiguration, "")
	ErrTimeout          = New(CodeTimeout, "")
	ErrPollTimeout      = New(CodePollTimeout, "")
	ErrServiceExecution = New(CodeServiceExecution, "")
	ErrEndpointNotFound = New(CodeEndpointNotFound, "")
	ErrServiceNotFound  = New(CodeServiceNotFound, "")
	ErrClientClosed     = New(CodeClientClosed, "")
)

// Register lets other packages describe additional codes.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes registered for code, or those of
// CodeUnknown when code is not registered.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the single error type surfaced by the SDK.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option customises an Error.
type Option func(*Error)

// WithMetadata attaches a key/value pair, e.g. the HTTP status or process id.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable overrides the retryable attribute of the code.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity overrides the default severity.
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New creates an Error. An empty message falls back to the registered one.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error with cause as its underlying error.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without code or cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether retrying the failed operation may succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert reports whether the failure deserves operator attention.
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Alert
}

// Severity returns the effective severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From extracts an *Error from err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// RetryableError reports whether err is a retryable SDK error.
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf returns the severity of err.
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// Package domain provides the canonical error taxonomy and core record
// types shared across the assistant backend.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind is the closed set of error categories the API can surface.
// Every kind maps to exactly one HTTP status via HTTPStatus.
type ErrorKind string

const (
	KindUnauthorized     ErrorKind = "UNAUTHORIZED"
	KindSessionExpired   ErrorKind = "SESSION_EXPIRED"
	KindForbidden        ErrorKind = "FORBIDDEN"
	KindRecordNotFound   ErrorKind = "RECORD_NOT_FOUND"
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindInvalidInput     ErrorKind = "INVALID_INPUT"
	KindMissingField     ErrorKind = "MISSING_REQUIRED_FIELD"
	KindMethodNotAllowed ErrorKind = "METHOD_NOT_ALLOWED"
	KindDuplicateEntry   ErrorKind = "DUPLICATE_ENTRY"
	KindRateLimited      ErrorKind = "RATE_LIMITED"
	KindTimeout          ErrorKind = "TIMEOUT"
	KindAPIUnavailable   ErrorKind = "API_UNAVAILABLE"
	KindDatabase         ErrorKind = "DATABASE_ERROR"
	KindExternalAPI      ErrorKind = "EXTERNAL_API_ERROR"
	KindAI               ErrorKind = "AI_ERROR"
	KindToolExecution    ErrorKind = "TOOL_EXECUTION_ERROR"
	KindNetwork          ErrorKind = "NETWORK_ERROR"
	KindInternal         ErrorKind = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus returns the transport status for a kind. The mapping is a
// pure function; unknown kinds collapse to 500.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthorized, KindSessionExpired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRecordNotFound:
		return http.StatusNotFound
	case KindValidation, KindInvalidInput, KindMissingField:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindDuplicateEntry:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindAPIUnavailable:
		return http.StatusServiceUnavailable
	case KindDatabase, KindExternalAPI, KindAI, KindToolExecution, KindNetwork, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AppError is a typed application error. It is constructed at the point
// of failure detection and propagates unmodified to the handler wrapper,
// which is the only layer translating it to a transport response.
type AppError struct {
	Kind      ErrorKind      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"-"`
	RequestID string         `json:"-"`

	cause error
}

// NewError creates a typed error of the given kind.
func NewError(kind ErrorKind, message string) *AppError {
	return &AppError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Errorf creates a typed error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *AppError {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetail adds a single structured detail field.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges structured details into the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// WithCause attaches the underlying error for errors.Is/As chains.
// The cause is logged server-side but never serialized to clients.
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithUserID tags the error with the acting user for log correlation.
func (e *AppError) WithUserID(id string) *AppError {
	e.UserID = id
	return e
}

// WithRequestID tags the error with the request correlation id. The id is
// echoed in the response details so clients can reference server logs.
func (e *AppError) WithRequestID(id string) *AppError {
	e.RequestID = id
	return e
}

// Classify converts any error into an AppError. Typed errors pass through
// untouched. Untyped errors are classified by message substring as a
// best-effort fallback; lower layers should raise typed errors directly
// wherever possible, so this path is a last resort, not authoritative.
func Classify(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "database is locked"):
		return NewError(KindDatabase, "database operation failed").WithCause(err)
	case strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "duplicate"):
		return NewError(KindDuplicateEntry, "record already exists").WithCause(err)
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return NewError(KindTimeout, "operation timed out").WithCause(err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return NewError(KindNetwork, "upstream connection failed").WithCause(err)
	default:
		return NewError(KindInternal, "internal server error").WithCause(err)
	}
}

// Convenience constructors for the kinds raised throughout the codebase.

func ErrUnauthorized(message string) *AppError {
	return NewError(KindUnauthorized, message)
}

func ErrSessionExpired(message string) *AppError {
	return NewError(KindSessionExpired, message)
}

func ErrForbidden(message string) *AppError {
	return NewError(KindForbidden, message)
}

func ErrNotFound(message string) *AppError {
	return NewError(KindRecordNotFound, message)
}

func ErrValidation(field, constraint string) *AppError {
	return NewError(KindValidation, fmt.Sprintf("field %q %s", field, constraint)).
		WithDetail("field", field).
		WithDetail("constraint", constraint)
}

func ErrMissingField(field string) *AppError {
	return NewError(KindMissingField, fmt.Sprintf("field %q is required", field)).
		WithDetail("field", field)
}

func ErrRateLimited(message string) *AppError {
	return NewError(KindRateLimited, message)
}

func ErrDatabase(message string, cause error) *AppError {
	return NewError(KindDatabase, message).WithCause(cause)
}

func ErrExternalAPI(message string) *AppError {
	return NewError(KindExternalAPI, message)
}

func ErrAI(message string, cause error) *AppError {
	return NewError(KindAI, message).WithCause(cause)
}

func ErrToolExecution(tool, message string) *AppError {
	return NewError(KindToolExecution, message).WithDetail("tool", tool)
}

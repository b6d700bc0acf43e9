// Package errors provides the structured error type used across fieldcache, with error codes,
// categories and contextual details.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies a class of fieldcache failure.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Data availability. These never escape a read call; they are turned into missing samples.
	ErrCodeFetchUnavailable ErrorCode = "FETCH_UNAVAILABLE"
	ErrCodeCacheWriteFailed ErrorCode = "CACHE_WRITE_FAILED"
	ErrCodeCacheReadFailed  ErrorCode = "CACHE_READ_FAILED"
	ErrCodeDecodeFailed     ErrorCode = "DECODE_FAILED"

	// Caller errors
	ErrCodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"
	ErrCodeShapeMismatch   ErrorCode = "SHAPE_MISMATCH"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"

	// Sources
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeObjectNotFound    ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	ErrCodeBackendRead       ErrorCode = "BACKEND_READ"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryAvailability  ErrorCategory = "availability"
	CategoryCaller        ErrorCategory = "caller"
	CategorySource        ErrorCategory = "source"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is. Matching is by code, so any FieldCacheError carrying the same code
// matches regardless of message or context.
var (
	ErrFetchUnavailable = &FieldCacheError{Code: ErrCodeFetchUnavailable}
	ErrCacheWriteFailed = &FieldCacheError{Code: ErrCodeCacheWriteFailed}
	ErrCacheReadFailed  = &FieldCacheError{Code: ErrCodeCacheReadFailed}
	ErrIndexOutOfRange  = &FieldCacheError{Code: ErrCodeIndexOutOfRange}
	ErrShapeMismatch    = &FieldCacheError{Code: ErrCodeShapeMismatch}
	ErrObjectNotFound   = &FieldCacheError{Code: ErrCodeObjectNotFound}
	ErrCircuitOpen      = &FieldCacheError{Code: ErrCodeCircuitOpen}
)

// FieldCacheError is a structured error with context and metadata.
type FieldCacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *FieldCacheError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FieldCacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FieldCacheError with the same code.
func (e *FieldCacheError) Is(target error) bool {
	if t, ok := target.(*FieldCacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *FieldCacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("FieldCacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *FieldCacheError {
	return &FieldCacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *FieldCacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given cause.
func Wrap(code ErrorCode, cause error, message string) *FieldCacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	c := string(code)
	switch {
	case strings.HasPrefix(c, "INVALID_CONFIG") || strings.HasPrefix(c, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(c, "FETCH_") || strings.HasPrefix(c, "CACHE_") ||
		strings.HasPrefix(c, "DECODE_"):
		return CategoryAvailability
	case strings.HasPrefix(c, "INDEX_") || strings.HasPrefix(c, "SHAPE_") ||
		strings.HasPrefix(c, "INVALID_"):
		return CategoryCaller
	case strings.HasPrefix(c, "NETWORK_") || strings.HasPrefix(c, "CONNECTION_") ||
		strings.HasPrefix(c, "OBJECT_") || strings.HasPrefix(c, "ACCESS_") ||
		strings.HasPrefix(c, "BACKEND_") || strings.HasPrefix(c, "CIRCUIT_"):
		return CategorySource
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code is transient.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeConnectionTimeout, ErrCodeInternalError:
		return true
	}
	return false
}

// CaptureStack captures the current goroutine stack.
func CaptureStack(skip int) string {
	const maxFrames = 32
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// WithContext adds a context key-value pair.
func (e *FieldCacheError) WithContext(key, value string) *FieldCacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds a detail key-value pair.
func (e *FieldCacheError) WithDetail(key string, value interface{}) *FieldCacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component name.
func (e *FieldCacheError) WithComponent(component string) *FieldCacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation name.
func (e *FieldCacheError) WithOperation(operation string) *FieldCacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *FieldCacheError) WithCause(cause error) *FieldCacheError {
	e.Cause = cause
	return e
}

// WithStack captures the stack trace.
func (e *FieldCacheError) WithStack() *FieldCacheError {
	e.Stack = CaptureStack(1)
	return e
}

// CodeOf returns the code of the first FieldCacheError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if fe, ok := err.(*FieldCacheError); ok {
			return fe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

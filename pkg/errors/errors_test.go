package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details and Context maps should be initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeNetworkError, "reset").Retryable {
			t.Error("NetworkError should be retryable by default")
		}
		if NewError(ErrCodeDecodeFailed, "bad png").Retryable {
			t.Error("DecodeFailed should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeFetchUnavailable, CategoryAvailability},
		{ErrCodeCacheWriteFailed, CategoryAvailability},
		{ErrCodeCacheReadFailed, CategoryAvailability},
		{ErrCodeIndexOutOfRange, CategoryCaller},
		{ErrCodeShapeMismatch, CategoryCaller},
		{ErrCodeObjectNotFound, CategorySource},
		{ErrCodeCircuitOpen, CategorySource},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestFieldCacheError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *FieldCacheError
		want string
	}{
		{
			name: "with component and operation",
			err: &FieldCacheError{
				Code:      ErrCodeIndexOutOfRange,
				Component: "field",
				Operation: "get_element",
				Message:   "index 10 outside [0, 10)",
			},
			want: "[field:get_element] INDEX_OUT_OF_RANGE: index 10 outside [0, 10)",
		},
		{
			name: "with component only",
			err: &FieldCacheError{
				Code:      ErrCodeInvalidConfig,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "with cause",
			err: &FieldCacheError{
				Code:    ErrCodeCacheWriteFailed,
				Message: "spill failed",
				Cause:   errors.New("no space left on device"),
			},
			want: "CACHE_WRITE_FAILED: spill failed: no space left on device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFieldCacheError_Is(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeIndexOutOfRange, "index -1").WithComponent("field")
	wrapped := fmt.Errorf("read sample: %w", err)

	if !errors.Is(wrapped, ErrIndexOutOfRange) {
		t.Error("wrapped error should match sentinel with the same code")
	}
	if errors.Is(wrapped, ErrShapeMismatch) {
		t.Error("errors with different codes should not match")
	}
	if err.Is(errors.New("standard error")) {
		t.Error("FieldCacheError should not match a standard error")
	}
}

func TestFieldCacheError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying cause")
	err := Wrap(ErrCodeCacheReadFailed, cause, "checksum mismatch")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestFieldCacheError_String(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeNetworkError, "connection reset").
		WithComponent("image").
		WithOperation("load").
		WithDetail("attempt", 2).
		WithCause(errors.New("EOF"))

	s := err.String()
	for _, want := range []string{
		"Code=NETWORK_ERROR",
		"Category=source",
		"Component=image",
		"Operation=load",
		"Retryable=true",
		`Details={"attempt":2}`,
		`Cause="EOF"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", NewError(ErrCodeFetchUnavailable, "backend down"))
	if got := CodeOf(err); got != ErrCodeFetchUnavailable {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeFetchUnavailable)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %v, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %v, want empty", got)
	}
}

func TestWithStack(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeInternalError, "boom").WithStack()
	if !strings.Contains(err.Stack, "TestWithStack") {
		t.Errorf("stack should contain the calling test, got %q", err.Stack)
	}
}

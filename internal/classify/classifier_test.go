package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/resilient/internal/core/domain"
)

// =============================================================================
// Totality: any input, no panic, all fields populated
// =============================================================================

func TestClassify_AcceptsAnything(t *testing.T) {
	type weird struct {
		private int
		Ch      chan int
	}

	inputs := []any{
		nil,
		"",
		"hello",
		42,
		3.14,
		true,
		[]int{1, 2, 3},
		map[string]any{},
		map[int]int{1: 2},
		weird{},
		&weird{},
		(*weird)(nil),
		(error)(nil),
		struct{}{},
		func() {},
	}

	for _, in := range inputs {
		got := Classify(in)
		if got == nil {
			t.Fatalf("Classify(%#v) returned nil", in)
		}
		if got.Category == "" || got.Severity == "" {
			t.Errorf("Classify(%#v) left fields empty: %+v", in, got)
		}
	}
}

func TestClassify_NoSignalIsUnknown(t *testing.T) {
	for _, in := range []any{nil, "", struct{}{}} {
		got := Classify(in)
		if got.Category != domain.CategoryUnknown {
			t.Errorf("Classify(%#v) = %s, want unknown", in, got.Category)
		}
		if got.Retryable {
			t.Errorf("Classify(%#v) retryable, unknown must not be", in)
		}
	}
}

// =============================================================================
// Category mapping
// =============================================================================

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		category  domain.ErrorCategory
		severity  domain.Severity
		retryable bool
	}{
		{"conn refused message", errors.New("dial tcp 10.0.0.1:443: connection refused"), domain.CategoryNetwork, domain.SeverityWarning, true},
		{"conn refused errno", syscall.ECONNREFUSED, domain.CategoryNetwork, domain.SeverityWarning, true},
		{"failed to fetch", "Failed to fetch", domain.CategoryNetwork, domain.SeverityWarning, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, domain.CategoryNetwork, domain.SeverityWarning, true},
		{"grpc unavailable", status.Error(codes.Unavailable, "transport closing"), domain.CategoryNetwork, domain.SeverityWarning, true},

		{"deadline", context.DeadlineExceeded, domain.CategoryTimeout, domain.SeverityWarning, true},
		{"timed out message", "request timed out", domain.CategoryTimeout, domain.SeverityWarning, true},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "deadline"), domain.CategoryTimeout, domain.SeverityWarning, true},
		{"http 408", map[string]any{"status": 408}, domain.CategoryTimeout, domain.SeverityWarning, true},

		{"http 401", map[string]any{"status": 401, "message": "nope"}, domain.CategoryPermission, domain.SeverityFatal, false},
		{"http 403", map[string]any{"statusCode": 403}, domain.CategoryPermission, domain.SeverityFatal, false},
		{"forbidden message", errors.New("forbidden"), domain.CategoryPermission, domain.SeverityFatal, false},
		{"grpc permission", status.Error(codes.PermissionDenied, "denied"), domain.CategoryPermission, domain.SeverityFatal, false},

		{"http 422", map[string]any{"status": 422}, domain.CategoryValidation, domain.SeverityInfo, false},
		{"validation message", "validation failed: name required", domain.CategoryValidation, domain.SeverityInfo, false},
		{"grpc invalid arg", status.Error(codes.InvalidArgument, "bad field"), domain.CategoryValidation, domain.SeverityInfo, false},

		{"http 500", map[string]any{"status": 500}, domain.CategoryServer, domain.SeverityWarning, true},
		{"http 503", map[string]any{"code": 503}, domain.CategoryServer, domain.SeverityWarning, true},
		{"server message", "internal server error", domain.CategoryServer, domain.SeverityWarning, true},
		{"grpc internal", status.Error(codes.Internal, "boom"), domain.CategoryServer, domain.SeverityWarning, true},

		{"nil deref message", "runtime error: invalid memory address or nil pointer dereference", domain.CategoryClient, domain.SeverityFatal, false},
		{"index message", "index out of range [3] with length 2", domain.CategoryClient, domain.SeverityFatal, false},

		{"unmatched", errors.New("something odd happened"), domain.CategoryUnknown, domain.SeverityWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.input)
			if got.Category != tt.category {
				t.Errorf("category = %s, want %s", got.Category, tt.category)
			}
			if got.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", got.Severity, tt.severity)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

// =============================================================================
// Precedence: transport conditions win over misleading status codes
// =============================================================================

type statusErr struct {
	msg  string
	code int
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) StatusCode() int { return e.code }

func TestClassify_TransportBeatsStatusCode(t *testing.T) {
	// A 403 whose message reveals a transport failure must classify as
	// network, not permission.
	got := Classify(&statusErr{msg: "connection reset by peer", code: 403})
	if got.Category != domain.CategoryNetwork {
		t.Errorf("category = %s, want network", got.Category)
	}
	if !got.Retryable {
		t.Error("transport failure must stay retryable")
	}

	// A 500 whose message reveals a timeout must classify as timeout.
	got = Classify(&statusErr{msg: "upstream timed out", code: 500})
	if got.Category != domain.CategoryTimeout {
		t.Errorf("category = %s, want timeout", got.Category)
	}
}

func TestClassify_StatusCodeInterface(t *testing.T) {
	got := Classify(&statusErr{msg: "no access", code: 401})
	if got.Category != domain.CategoryPermission {
		t.Errorf("category = %s, want permission", got.Category)
	}
}

func TestClassify_WrappedStatusCode(t *testing.T) {
	// Wrapping with %w must not hide the status code from classification.
	wrapped := fmt.Errorf("calling submissions api: %w", &statusErr{msg: "no access", code: 403})
	got := Classify(wrapped)
	if got.Category != domain.CategoryPermission {
		t.Errorf("category = %s, want permission", got.Category)
	}

	// Same for a double wrap carrying a validation code.
	doubly := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", &statusErr{msg: "bad field", code: 422}))
	got = Classify(doubly)
	if got.Category != domain.CategoryValidation {
		t.Errorf("category = %s, want validation", got.Category)
	}
}

// =============================================================================
// Cause preservation
// =============================================================================

func TestClassify_PreservesCause(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := fmt.Errorf("calling events api: %w", base)

	got := Classify(wrapped)
	if !errors.Is(got, base) {
		t.Error("classified error must unwrap to the raw cause")
	}
	if got.Message == "" {
		t.Error("message should carry the original text")
	}
}

func TestClassify_StructFields(t *testing.T) {
	type apiError struct {
		Status  int
		Message string
	}
	got := Classify(apiError{Status: 401, Message: "token expired"})
	if got.Category != domain.CategoryPermission {
		t.Errorf("category = %s, want permission", got.Category)
	}
	if got.Message != "token expired" {
		t.Errorf("message = %q, want %q", got.Message, "token expired")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("connection refused")) {
		t.Error("network failures are retryable")
	}
	if Retryable(errors.New("forbidden")) {
		t.Error("permission failures are not retryable")
	}
}

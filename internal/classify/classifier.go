// Package classify maps arbitrary failure values to actionable categories.
//
// Classification runs an ordered rule table: the first matching rule wins.
// Transport-level conditions (network, timeout) are deliberately checked
// before permission/validation because transport failures can carry
// misleading status codes.
package classify

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/metrics"
)

// rule is one predicate in the classification chain.
type rule struct {
	name      string
	category  domain.ErrorCategory
	severity  domain.Severity
	retryable bool
	match     func(p probe) bool
}

// rules is evaluated in order; precedence matters.
var rules = []rule{
	{
		name:      "network",
		category:  domain.CategoryNetwork,
		severity:  domain.SeverityWarning,
		retryable: true,
		match:     matchNetwork,
	},
	{
		name:      "timeout",
		category:  domain.CategoryTimeout,
		severity:  domain.SeverityWarning,
		retryable: true,
		match:     matchTimeout,
	},
	{
		name:      "permission",
		category:  domain.CategoryPermission,
		severity:  domain.SeverityFatal,
		retryable: false,
		match:     matchPermission,
	},
	{
		name:      "validation",
		category:  domain.CategoryValidation,
		severity:  domain.SeverityInfo,
		retryable: false,
		match:     matchValidation,
	},
	{
		name:      "server",
		category:  domain.CategoryServer,
		severity:  domain.SeverityWarning,
		retryable: true,
		match:     matchServer,
	},
	{
		name:      "client",
		category:  domain.CategoryClient,
		severity:  domain.SeverityFatal,
		retryable: false,
		match:     matchClient,
	},
}

// Classify maps any failure value to a ClassifiedError. It never panics and
// always returns a fully populated result; inputs with neither a message nor
// a status code classify as unknown.
func Classify(v any) *domain.ClassifiedError {
	p := extract(v)

	out := &domain.ClassifiedError{
		Category:  domain.CategoryUnknown,
		Severity:  domain.SeverityWarning,
		Retryable: false,
		Message:   p.msg,
		Cause:     p.err,
	}

	if !p.empty {
		for _, r := range rules {
			if r.match(p) {
				out.Category = r.category
				out.Severity = r.severity
				out.Retryable = r.retryable
				break
			}
		}
	}

	metrics.ErrorsClassified.WithLabelValues(string(out.Category)).Inc()
	return out
}

// Retryable reports whether v classifies as a retryable failure.
func Retryable(v any) bool {
	return Classify(v).Retryable
}

func matchNetwork(p probe) bool {
	if p.hasGRPC && p.grpcCode == codes.Unavailable {
		return true
	}
	if p.err != nil {
		var dnsErr *net.DNSError
		if errors.As(p.err, &dnsErr) && !dnsErr.IsTimeout {
			return true
		}
		if errors.Is(p.err, syscall.ECONNREFUSED) ||
			errors.Is(p.err, syscall.ECONNRESET) ||
			errors.Is(p.err, syscall.EHOSTUNREACH) ||
			errors.Is(p.err, syscall.ENETUNREACH) ||
			errors.Is(p.err, syscall.EPIPE) {
			return true
		}
	}
	return containsAny(p.lower,
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"network unreachable",
		"failed to fetch",
		"broken pipe",
		"dns failure",
		"dial tcp",
	)
}

func matchTimeout(p probe) bool {
	if p.hasGRPC && p.grpcCode == codes.DeadlineExceeded {
		return true
	}
	if p.err != nil {
		if errors.Is(p.err, context.DeadlineExceeded) || os.IsTimeout(p.err) {
			return true
		}
		var netErr net.Error
		if errors.As(p.err, &netErr) && netErr.Timeout() {
			return true
		}
	}
	if p.hasCode && p.code == 408 {
		return true
	}
	return containsAny(p.lower, "timeout", "timed out", "deadline exceeded")
}

func matchPermission(p probe) bool {
	if p.hasGRPC && (p.grpcCode == codes.PermissionDenied || p.grpcCode == codes.Unauthenticated) {
		return true
	}
	if p.hasCode && (p.code == 401 || p.code == 403) {
		return true
	}
	return containsAny(p.lower,
		"unauthorized",
		"forbidden",
		"permission denied",
		"access denied",
		"insufficient rights",
		"not allowed",
	)
}

func matchValidation(p probe) bool {
	if p.hasGRPC && (p.grpcCode == codes.InvalidArgument ||
		p.grpcCode == codes.FailedPrecondition ||
		p.grpcCode == codes.OutOfRange) {
		return true
	}
	if p.hasCode && (p.code == 400 || p.code == 409 || p.code == 422) {
		return true
	}
	return containsAny(p.lower,
		"validation",
		"invalid input",
		"malformed",
		"bad request",
		"missing required",
		"constraint violation",
	)
}

func matchServer(p probe) bool {
	if p.hasGRPC && (p.grpcCode == codes.Internal ||
		p.grpcCode == codes.ResourceExhausted ||
		p.grpcCode == codes.Aborted) {
		return true
	}
	if p.hasCode && p.code >= 500 && p.code <= 599 {
		return true
	}
	return containsAny(p.lower,
		"internal server error",
		"service unavailable",
		"bad gateway",
		"too many requests",
		"rate limit",
	)
}

func matchClient(p probe) bool {
	if p.err != nil {
		var rtErr runtime.Error
		if errors.As(p.err, &rtErr) {
			return true
		}
	}
	return containsAny(p.lower,
		"nil pointer",
		"invalid memory address",
		"index out of range",
		"type assertion",
		"panic:",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, pat := range patterns {
		if strings.Contains(s, pat) {
			return true
		}
	}
	return false
}

// grpcStatus unwraps a grpc status code from an error, if there is one.
func grpcStatus(err error) (codes.Code, bool) {
	if err == nil {
		return codes.OK, false
	}
	type grpcstatus interface{ GRPCStatus() *status.Status }
	var gs grpcstatus
	if errors.As(err, &gs) {
		return gs.GRPCStatus().Code(), true
	}
	return codes.OK, false
}

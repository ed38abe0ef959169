package fetch

import (
	"errors"
	"math"
	"slices"
	"time"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Failure reasons attached to retry log lines and metrics.
const (
	ReasonTransient    = "transient"
	ReasonBlocked      = "blocked"
	ReasonNonTransient = "non-transient"
	ReasonNetwork      = "network"
	ReasonDecode       = "decode"
)

// DefaultTransientStatuses are the statuses labeled transient in logs.
var DefaultTransientStatuses = []int{429, 500, 502, 503, 504}

// ExponentialBackoff doubles the wait after every failed attempt.
type ExponentialBackoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewExponentialBackoff builds a policy whose wait after the k-th failure is base·2^k.
func NewExponentialBackoff(base time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = time.Second
	}
	return &ExponentialBackoff{baseDelay: base, maxDelay: 10 * time.Minute}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p *ExponentialBackoff) Backoff(failedAttempt int) time.Duration {
	if failedAttempt < 0 {
		failedAttempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(failedAttempt))
	if delay > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(delay)
}

// Classify labels a transport failure for diagnostics.
// It never changes whether the failure is retried.
func Classify(err error, transient []int) string {
	if err == nil {
		return ""
	}
	var decodeErr *procurement.DecodeError
	if errors.As(err, &decodeErr) {
		return ReasonDecode
	}
	var transportErr *procurement.TransportError
	if errors.As(err, &transportErr) {
		switch {
		case transportErr.Blocked:
			return ReasonBlocked
		case transportErr.Status == 0:
			return ReasonNetwork
		case slices.Contains(transient, transportErr.Status):
			return ReasonTransient
		default:
			return ReasonNonTransient
		}
	}
	return ReasonNetwork
}

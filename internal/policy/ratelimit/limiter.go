// Package ratelimit implements a token bucket rate limiter for per-domain request pacing.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/egp-watch/internal/metrics"
	"github.com/JakeFAU/egp-watch/internal/procurement"
	"github.com/JakeFAU/egp-watch/internal/transport"
)

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := metrics.SanitizeSite(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// Wrap paces every request issued through next.
func (l *Limiter) Wrap(next procurement.Transport) procurement.Transport {
	return &limitedTransport{next: next, limiter: l}
}

type limitedTransport struct {
	next    procurement.Transport
	limiter *Limiter
}

func (t *limitedTransport) Name() string { return t.next.Name() }

func (t *limitedTransport) Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error) {
	if err := t.limiter.Wait(ctx, req.URL); err != nil {
		return nil, transport.NetworkError(t.next.Name(), err)
	}
	return t.next.Fetch(ctx, req)
}

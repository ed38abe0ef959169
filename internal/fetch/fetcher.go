// Package fetch retries a primary transport with exponential backoff and then
// falls back to alternate transports, one attempt each.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/metrics"
	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Config tunes the retry loop.
type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	TransientStatuses []int
}

// Fetcher issues a request through the primary transport and its fallbacks.
type Fetcher struct {
	primary   procurement.Transport
	fallbacks []procurement.Transport
	cfg       Config
	backoff   *ExponentialBackoff
	clock     procurement.Clock
	logger    *zap.Logger
}

// New wires a Fetcher. Zero config values fall back to 3 attempts and a 1s base delay.
func New(
	primary procurement.Transport,
	fallbacks []procurement.Transport,
	cfg Config,
	clock procurement.Clock,
	logger *zap.Logger,
) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.TransientStatuses == nil {
		cfg.TransientStatuses = DefaultTransientStatuses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		primary:   primary,
		fallbacks: fallbacks,
		cfg:       cfg,
		backoff:   NewExponentialBackoff(cfg.BaseDelay),
		clock:     clock,
		logger:    logger,
	}
}

// Fetch returns the first successful JSON body. When every attempt fails it
// returns the last error wrapped with the total attempt count.
func (f *Fetcher) Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error) {
	log := f.logger.With(zap.String("url", req.URL), zap.String("method", req.MethodOrGet()))
	attempts := 0
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		attempts++
		body, err := f.try(ctx, f.primary, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch aborted after %d attempts: %w", attempts, errors.Join(ctxErr, lastErr))
		}
		if attempt == f.cfg.MaxAttempts {
			log.Warn("primary transport exhausted",
				zap.String("transport", f.primary.Name()),
				zap.Int("attempts", attempt),
				zap.String("reason", Classify(err, f.cfg.TransientStatuses)),
				zap.Error(err),
			)
			break
		}
		wait := f.backoff.Backoff(attempt)
		log.Warn("retrying request",
			zap.String("transport", f.primary.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("reason", Classify(err, f.cfg.TransientStatuses)),
			zap.Error(err),
		)
		if err := f.clock.Sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("fetch aborted after %d attempts: %w", attempts, errors.Join(err, lastErr))
		}
	}

	for _, fallback := range f.fallbacks {
		attempts++
		log.Info("switching transport",
			zap.String("from", f.primary.Name()),
			zap.String("to", fallback.Name()),
			zap.String("reason", Classify(lastErr, f.cfg.TransientStatuses)),
		)
		body, err := f.try(ctx, fallback, req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		log.Warn("fallback transport failed",
			zap.String("transport", fallback.Name()),
			zap.String("reason", Classify(err, f.cfg.TransientStatuses)),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch aborted after %d attempts: %w", attempts, errors.Join(ctxErr, lastErr))
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", attempts, lastErr)
}

func (f *Fetcher) try(ctx context.Context, t procurement.Transport, req procurement.Request) (json.RawMessage, error) {
	start := time.Now()
	body, err := t.Fetch(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = Classify(err, f.cfg.TransientStatuses)
	}
	metrics.ObserveFetchAttempt(t.Name(), outcome, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	return body, nil
}

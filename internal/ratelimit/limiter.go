// Package ratelimit implements sliding-window admission control over a
// pluggable store. The in-memory store serves single-instance deployments;
// the redis store shares one window across replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/agentforge/creditledger/internal/clock"
	"github.com/agentforge/creditledger/internal/metrics"
	"go.uber.org/zap"
)

// Limit is a window budget: at most Requests admissions per rolling Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the admission outcome plus what the caller needs for the
// X-RateLimit-* response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// StoreResult is the store's raw view of a key after an admit or inspect.
type StoreResult struct {
	Allowed  bool
	Count    int
	OldestAt time.Time
}

// Store tracks request timestamps per key inside a rolling window.
type Store interface {
	// Admit records the request when the key is under limit and reports the
	// window state either way.
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (StoreResult, error)

	// Inspect reports the window state without recording anything.
	Inspect(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (StoreResult, error)

	// Reset clears the key's window.
	Reset(ctx context.Context, key string) error
}

type Limiter struct {
	store   Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLimiter(store Store, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		clock:   clk,
		log:     log.Named("ratelimit"),
		metrics: m,
	}
}

// Allow admits or rejects one request for the key. A store failure fails
// open: throttling is protection, not a correctness guarantee, and an
// unavailable store must not take the API down with it.
func (l *Limiter) Allow(ctx context.Context, key string, limit Limit) Decision {
	now := l.clock.Now()

	res, err := l.store.Admit(ctx, key, limit.Requests, limit.Window, now)
	if err != nil {
		l.log.Warn("admission store unavailable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		l.metrics.RateLimitDecisions.WithLabelValues("error").Inc()
		return Decision{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests,
			ResetAt:   now.Add(limit.Window),
		}
	}

	decision := l.decide(res, limit, now)
	if decision.Allowed {
		l.metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		l.metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
	}
	return decision
}

// Inspect reports the current window state without consuming budget.
func (l *Limiter) Inspect(ctx context.Context, key string, limit Limit) (Decision, error) {
	now := l.clock.Now()
	res, err := l.store.Inspect(ctx, key, limit.Requests, limit.Window, now)
	if err != nil {
		return Decision{}, err
	}
	return l.decide(res, limit, now), nil
}

// Reset clears a key's window, e.g. after an operator unblocks a client.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

func (l *Limiter) decide(res StoreResult, limit Limit, now time.Time) Decision {
	remaining := limit.Requests - res.Count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(limit.Window)
	if !res.OldestAt.IsZero() {
		resetAt = res.OldestAt.Add(limit.Window)
	}

	d := Decision{
		Allowed:   res.Allowed,
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		retry := resetAt.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		d.RetryAfter = retry
	}
	return d
}

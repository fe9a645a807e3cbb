package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentforge/creditledger/internal/clock"
	"github.com/agentforge/creditledger/internal/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(store Store, clk clock.Clock) *Limiter {
	return NewLimiter(store, clk, zap.NewNop(), metrics.New())
}

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(NewMemoryStore(), clk)
	ctx := context.Background()
	limit := Limit{Requests: 10, Window: time.Minute}

	for i := 0; i < 10; i++ {
		d := limiter.Allow(ctx, "1.2.3.4", limit)
		require.True(t, d.Allowed, "request %d should be admitted", i)
		require.Equal(t, 10, d.Limit)
		require.Equal(t, 10-(i+1), d.Remaining)
		clk.Advance(time.Second)
	}

	d := limiter.Allow(ctx, "1.2.3.4", limit)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Positive(t, d.RetryAfter)
	require.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestSlidingWindowReadmitsAsRequestsAge(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(NewMemoryStore(), clk)
	ctx := context.Background()
	limit := Limit{Requests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow(ctx, "k", limit).Allowed)
	}
	require.False(t, limiter.Allow(ctx, "k", limit).Allowed)

	// The window slides; once the oldest request ages out one slot frees up.
	clk.Advance(61 * time.Second)
	d := limiter.Allow(ctx, "k", limit)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestKeysAreIndependent(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(NewMemoryStore(), clk)
	ctx := context.Background()
	limit := Limit{Requests: 1, Window: time.Minute}

	require.True(t, limiter.Allow(ctx, "a", limit).Allowed)
	require.False(t, limiter.Allow(ctx, "a", limit).Allowed)
	require.True(t, limiter.Allow(ctx, "b", limit).Allowed)
}

func TestResetClearsWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(NewMemoryStore(), clk)
	ctx := context.Background()
	limit := Limit{Requests: 1, Window: time.Minute}

	require.True(t, limiter.Allow(ctx, "k", limit).Allowed)
	require.False(t, limiter.Allow(ctx, "k", limit).Allowed)

	require.NoError(t, limiter.Reset(ctx, "k"))
	require.True(t, limiter.Allow(ctx, "k", limit).Allowed)
}

func TestInspectDoesNotConsumeBudget(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(NewMemoryStore(), clk)
	ctx := context.Background()
	limit := Limit{Requests: 2, Window: time.Minute}

	require.True(t, limiter.Allow(ctx, "k", limit).Allowed)

	for i := 0; i < 5; i++ {
		d, err := limiter.Inspect(ctx, "k", limit)
		require.NoError(t, err)
		require.Equal(t, 1, d.Remaining)
	}
	require.True(t, limiter.Allow(ctx, "k", limit).Allowed)
}

type failingStore struct{}

func (failingStore) Admit(context.Context, string, int, time.Duration, time.Time) (StoreResult, error) {
	return StoreResult{}, errors.New("store down")
}
func (failingStore) Inspect(context.Context, string, int, time.Duration, time.Time) (StoreResult, error) {
	return StoreResult{}, errors.New("store down")
}
func (failingStore) Reset(context.Context, string) error { return errors.New("store down") }

func TestStoreFailureFailsOpen(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(failingStore{}, clk)

	d := limiter.Allow(context.Background(), "k", Limit{Requests: 1, Window: time.Minute})
	require.True(t, d.Allowed)
}

func TestMemoryStoreSweepDropsIdleKeys(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Admit(ctx, "idle", 5, time.Minute, clk.Now())
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	store.Sweep(time.Minute, clk.Now())

	store.mu.Lock()
	_, present := store.entries["idle"]
	store.mu.Unlock()
	require.False(t, present)
}

func TestPresetsTightenBySensitivity(t *testing.T) {
	auth := ForClass(ClassAuth)
	payment := ForClass(ClassPayment)
	execution := ForClass(ClassExecution)
	general := ForClass(ClassGeneral)

	require.Less(t, auth.Requests, payment.Requests)
	require.Less(t, payment.Requests, execution.Requests)
	require.Less(t, execution.Requests, general.Requests)
	require.Equal(t, general, ForClass(Class("nope")))
}

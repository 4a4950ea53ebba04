// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/playd/internal/metrics"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errUpstream = errors.New("upstream 503")

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test_trip", 3, 30*time.Second, WithClock(clk))

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerTrips.WithLabelValues("test_trip", "threshold_exceeded")))
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test_reset", 2, time.Second)

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, ok)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	ctx := context.Background()
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test_half", 1, 10*time.Second, WithClock(clk))

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())

	clk.now = clk.now.Add(11 * time.Second)
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen, "only one probe at a time")

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	ctx := context.Background()
	clk := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test_reopen", 1, 10*time.Second, WithClock(clk))

	_ = cb.Execute(ctx, fail)
	clk.now = clk.now.Add(11 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerTrips.WithLabelValues("test_reopen", "half_open_failure")))
}

func TestCircuitBreaker_NeutralErrors(t *testing.T) {
	ctx := context.Background()
	errMissing := errors.New("no such track")
	cb := NewCircuitBreaker("test_neutral", 1, time.Second,
		WithFailurePredicate(func(err error) bool { return !errors.Is(err, errMissing) }))

	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return errMissing }), errMissing)
	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StateGauge(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("test_gauge", 1, time.Minute)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test_gauge", "closed")))

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test_gauge", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test_gauge", "closed")))
}

package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quotes/internal/resilience"
)

func TestBreakerPublishesWebhookMetrics(t *testing.T) {
	for _, vec := range []*prometheus.CounterVec{resilience.BreakerTransitions, resilience.BreakerOpenedTotal, resilience.BreakerRejectedTotal} {
		vec.Reset()
	}
	resilience.BreakerState.Reset()

	clock := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	b := resilience.NewBreaker(1, 0.5, time.Second).
		WithTarget("webhook").
		WithClock(func() time.Time { return clock })
	ctx := context.Background()
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("webhook")) }

	require.Zero(t, state())

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, float64(resilience.Open), state())
	require.False(t, b.Allow(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerRejectedTotal.WithLabelValues("webhook")))

	clock = clock.Add(time.Second)
	require.True(t, b.Allow(ctx))
	require.Equal(t, float64(resilience.HalfOpen), state())
	b.Report(ctx, true)
	require.Equal(t, float64(resilience.Closed), state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("webhook")))
	for _, hop := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("webhook", hop[0], hop[1])), "%s->%s", hop[0], hop[1])
	}
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, resilience.RegisterMetrics(reg))
	require.NoError(t, resilience.RegisterMetrics(reg))
}

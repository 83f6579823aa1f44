package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestReliableSink_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeSink{err: errors.New("broker down")}
	metrics := NewMetrics(prometheus.NewRegistry())
	sink := NewReliableSink(inner, ReliabilityOptions{
		Name:                "kafka",
		MaxRequests:         1,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
	}, metrics)

	for i := 0; i < 3; i++ {
		assert.Error(t, sink.Send(context.Background(), DefaultChannel, "k", nil))
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	err := sink.Send(context.Background(), DefaultChannel, "k", nil)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, inner.Sent(), 3, "open breaker does not reach the transport")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("kafka")))
}

func TestReliableSink_PassesThrough(t *testing.T) {
	inner := &fakeSink{}
	sink := NewReliableSink(inner, ReliabilityOptions{Name: "log"}, nil)

	assert.NoError(t, sink.Send(context.Background(), DefaultChannel, "k", []byte("x")))
	assert.Len(t, inner.Sent(), 1)
	assert.Equal(t, gobreaker.StateClosed, sink.State())
}

func TestReliableSink_RateLimit(t *testing.T) {
	inner := &fakeSink{}
	sink := NewReliableSink(inner, ReliabilityOptions{Name: "log", RateLimit: 0.001, Burst: 2}, nil)

	assert.NoError(t, sink.Send(context.Background(), DefaultChannel, "k", nil))
	assert.NoError(t, sink.Send(context.Background(), DefaultChannel, "k", nil))
	assert.ErrorIs(t, sink.Send(context.Background(), DefaultChannel, "k", nil), ErrRateLimited)
	assert.Len(t, inner.Sent(), 2)
}

package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueue_DrainsOnStop(t *testing.T) {
	sink := &fakeSink{}
	q := NewQueue(NewPublisher(sink, zap.NewNop(), nil), DefaultChannel, 100, time.Second, zap.NewNop(), nil)
	q.Start()

	for i := 0; i < 10; i++ {
		rec := sampleRecord()
		rec.RequestID = fmt.Sprintf("req-%d", i)
		q.Audit(context.Background(), rec)
	}

	require.NoError(t, q.Stop(context.Background()))

	sends := sink.Sent()
	require.Len(t, sends, 10)
	for i, s := range sends {
		assert.Equal(t, fmt.Sprintf("req-%d", i), s.key, "records keep arrival order")
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DropsAfterStop(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &fakeSink{}
	metrics := NewMetrics(prometheus.NewRegistry())
	q := NewQueue(NewPublisher(sink, zap.NewNop(), metrics), DefaultChannel, 10, time.Second, zap.New(core), metrics)
	q.Start()
	require.NoError(t, q.Stop(context.Background()))

	assert.NotPanics(t, func() { q.Audit(context.Background(), sampleRecord()) })

	assert.Empty(t, sink.Sent())
	assert.Equal(t, 1, logs.FilterMessage("audit record dropped: queue is stopping").Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Published.WithLabelValues("audit_logger", "dropped")))
}

func TestQueue_ShedsLoadWhenFull(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &fakeSink{}
	q := NewQueue(NewPublisher(sink, zap.NewNop(), nil), DefaultChannel, 2, time.Second, zap.New(core), nil)
	// worker not started: nothing drains the buffer

	for i := 0; i < 5; i++ {
		q.Audit(context.Background(), sampleRecord())
	}

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 3, logs.FilterMessage("audit_queue_overflow").Len())

	q.Start()
	require.NoError(t, q.Stop(context.Background()))
	assert.Len(t, sink.Sent(), 2)
}

func TestQueue_StopHonoursContext(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	q := NewQueue(NewPublisher(sink, zap.NewNop(), nil), DefaultChannel, 10, time.Minute, zap.NewNop(), nil)
	q.Start()
	q.Audit(context.Background(), sampleRecord())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)

	close(sink.block)
	require.NoError(t, q.Stop(context.Background()))
	assert.Len(t, sink.Sent(), 1)
}

func TestQueue_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &fakeSink{err: fmt.Errorf("broker down")}
	q := NewQueue(NewPublisher(sink, zap.NewNop(), nil), DefaultChannel, 10, time.Second, zap.New(core), nil)
	q.Start()

	q.Audit(context.Background(), sampleRecord())
	require.NoError(t, q.Stop(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("audit publish failed").Len())
}

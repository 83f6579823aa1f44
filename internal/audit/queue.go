package audit

/*
Queue is the non-blocking face of the publisher.

- Audit never blocks the request goroutine: records go into a bounded channel and
  are dropped (load shedding) when it is full or the queue is stopping.
- A single worker publishes records in arrival order, one send per record.
- Stop closes the input and waits until the worker has drained everything already
  accepted, so a graceful shutdown loses nothing that was enqueued.
*/

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type envelope struct {
	ctx context.Context
	rec Record
}

type Queue struct {
	ch      chan envelope
	pub     *Publisher
	channel Channel
	timeout time.Duration
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(pub *Publisher, ch Channel, size int, timeout time.Duration, logger *zap.Logger, metrics *Metrics) *Queue {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Queue{
		ch:      make(chan envelope, size),
		pub:     pub,
		channel: ch,
		timeout: timeout,
		logger:  logger.Named("audit-queue"),
		metrics: metrics,
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Audit enqueues rec without blocking.
func (q *Queue) Audit(ctx context.Context, rec Record) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(rec, "audit record dropped: queue is stopping")
		return
	}

	select {
	case q.ch <- envelope{ctx: context.WithoutCancel(ctx), rec: rec}:
		q.metrics.QueueFill.Set(float64(len(q.ch)))
	default:
		q.drop(rec, "audit_queue_overflow")
	}
}

func (q *Queue) drop(rec Record, msg string) {
	q.metrics.Published.WithLabelValues(string(q.channel), "dropped").Inc()
	q.logger.Error(msg,
		zap.String("request_id", rec.RequestID),
		zap.String("trace_id", rec.TraceID),
		zap.String("request_uri", rec.RequestURI),
	)
}

// Stop refuses new records and waits for the worker to publish what is left, or for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.logger.Info("stopping audit queue: closing channel and draining")
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("audit queue stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of records waiting to be published.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for env := range q.ch {
		q.metrics.QueueFill.Set(float64(len(q.ch)))
		q.publish(env)
	}
	q.logger.Info("audit worker finished")
}

func (q *Queue) publish(env envelope) {
	ctx := env.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if err := q.pub.Publish(ctx, q.channel, env.rec); err != nil {
		q.logger.Warn("audit publish failed",
			zap.String("request_id", env.rec.RequestID),
			zap.Error(err),
		)
	}
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sink delivers an already serialized record to a channel.
type Sink interface {
	Send(ctx context.Context, channel Channel, key string, payload []byte) error
}

// Auditor is what the interceptors see: hand over a record and move on.
// Implementations never report failures back to the caller.
type Auditor interface {
	Audit(ctx context.Context, rec Record)
}

type PublishError struct {
	Channel Channel
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("audit: publish to %q: %v", e.Channel, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type Publisher struct {
	sink    Sink
	logger  *zap.Logger
	metrics *Metrics
}

func NewPublisher(sink Sink, logger *zap.Logger, metrics *Metrics) *Publisher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Publisher{
		sink:    sink,
		logger:  logger.Named("publisher"),
		metrics: metrics,
	}
}

// Publish serializes rec as JSON and sends it to ch. It makes exactly one send attempt.
func (p *Publisher) Publish(ctx context.Context, ch Channel, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		p.metrics.Published.WithLabelValues(string(ch), "failed").Inc()
		return &PublishError{Channel: ch, Err: fmt.Errorf("encode record: %w", err)}
	}

	if err := p.sink.Send(ctx, ch, rec.RequestID, payload); err != nil {
		p.metrics.Published.WithLabelValues(string(ch), "failed").Inc()
		return &PublishError{Channel: ch, Err: err}
	}

	p.metrics.Published.WithLabelValues(string(ch), "ok").Inc()
	return nil
}

// Direct publishes on the caller's goroutine. Failures are logged and swallowed.
type Direct struct {
	pub     *Publisher
	channel Channel
	timeout time.Duration
	logger  *zap.Logger
}

func NewDirect(pub *Publisher, ch Channel, timeout time.Duration, logger *zap.Logger) *Direct {
	return &Direct{
		pub:     pub,
		channel: ch,
		timeout: timeout,
		logger:  logger.Named("audit-direct"),
	}
}

func (d *Direct) Audit(ctx context.Context, rec Record) {
	// the client may already be gone, the audit trail still has to be written
	ctx = context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.pub.Publish(ctx, d.channel, rec); err != nil {
		d.logger.Warn("audit publish failed",
			zap.String("request_id", rec.RequestID),
			zap.String("trace_id", rec.TraceID),
			zap.Error(err),
		)
	}
}

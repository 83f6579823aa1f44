package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the transport budget is spent. The record is lost.
var ErrRateLimited = errors.New("audit: transport rate limit exceeded")

type ReliabilityOptions struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration // time the breaker stays open before probing
	ConsecutiveFailures uint32
	RateLimit           float64 // records per second, 0 disables
	Burst               int
}

// ReliableSink keeps a failing transport off the request path: once the breaker
// opens, sends fail fast with gobreaker.ErrOpenState instead of waiting on the broker.
// Nothing is retried, so a record is sent at most once.
type ReliableSink struct {
	next    Sink
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableSink(next Sink, opts ReliabilityOptions, metrics *Metrics) *ReliableSink {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	threshold := opts.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(opts.Name).Set(0)

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &ReliableSink{next: next, cb: cb, limiter: limiter}
}

func (s *ReliableSink) Send(ctx context.Context, ch Channel, key string, payload []byte) error {
	// never wait for a token: shedding beats stalling the caller
	if s.limiter != nil && !s.limiter.Allow() {
		return ErrRateLimited
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, ch, key, payload)
	})
	return err
}

// State exposes the breaker state for health checks.
func (s *ReliableSink) State() gobreaker.State {
	return s.cb.State()
}

func breakerStateValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

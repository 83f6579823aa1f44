package starter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/audit-logger/internal/audit"
	"github.com/xela07ax/audit-logger/internal/infra"
	"github.com/xela07ax/audit-logger/internal/interceptor"
	"go.uber.org/zap"
)

// PublicKeyDataEnv carries the PEM public key inline, taking precedence over auth.public_key_path.
const PublicKeyDataEnv = "AUTH_PUBLIC_KEY_DATA"

// Starter wires both interceptors to the configured transport.
type Starter struct {
	logger *zap.Logger

	sink    *audit.ReliableSink
	closers []func() error
	queue   *audit.Queue

	dispatcher *interceptor.Dispatcher
	bodyLogger *interceptor.BodyLogger
	validator  interceptor.TokenValidator
}

// New builds the whole pipeline. Transports that can be reached at startup are checked before New returns.
func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger, reg prometheus.Registerer) (*Starter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.Named("audit")
	metrics := audit.NewMetrics(reg)

	s := &Starter{logger: logger}

	raw, err := s.newSink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.sink = audit.NewReliableSink(raw, audit.ReliabilityOptions{
		Name:                cfg.Audit.Transport,
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		RateLimit:           cfg.Breaker.RateLimit,
		Burst:               cfg.Breaker.Burst,
	}, metrics)

	pub := audit.NewPublisher(s.sink, logger, metrics)
	channel := audit.Channel(cfg.Audit.Channel)
	if channel == "" {
		channel = audit.DefaultChannel
	}

	// body records always go through the queue, error records only when async
	s.queue = audit.NewQueue(pub, channel, cfg.Audit.QueueSize, cfg.Audit.PublishTimeout, logger, metrics)
	s.queue.Start()
	var errorAuditor audit.Auditor = s.queue
	if !cfg.Audit.Async {
		errorAuditor = audit.NewDirect(pub, channel, cfg.Audit.PublishTimeout, logger)
	}

	builder := audit.NewBuilder(cfg.App.Name, time.Now)

	errorHandler := interceptor.NewErrorHandler("", builder, errorAuditor, logger, metrics)
	s.dispatcher = interceptor.NewDispatcher(errorHandler, logger)

	s.bodyLogger, err = interceptor.NewBodyLogger(interceptor.BodyLoggerOptions{
		LogHeaders:       cfg.Audit.LogHeaders,
		UseContentLength: cfg.Audit.UseContentLength,
		LogOnce:          cfg.Audit.LogOnce,
		IgnorePatterns:   cfg.Audit.IgnorePatternList(),
		RedactHeaders:    cfg.Audit.RedactHeaders,
		RedactedValue:    cfg.Audit.RedactedValue,
	}, builder, s.queue, logger, metrics)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	key, err := infra.LoadKeyResource(cfg.Auth.PublicKeyPath, PublicKeyDataEnv)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}
	if key != nil {
		v, err := interceptor.NewRSAValidator(key)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("auth: %w", err)
		}
		s.validator = v
	}

	logger.Info("audit starter ready",
		zap.String("transport", cfg.Audit.Transport),
		zap.String("channel", string(channel)),
		zap.Bool("async", cfg.Audit.Async),
		zap.Bool("principal_from_jwt", s.validator != nil),
	)
	return s, nil
}

func (s *Starter) newSink(ctx context.Context, cfg *infra.Config) (audit.Sink, error) {
	switch cfg.Audit.Transport {
	case "kafka":
		tlsCfg, err := infra.LoadTrustStore(cfg.Kafka.TrustStoreLocation, cfg.Kafka.TrustStorePassword)
		if err != nil {
			return nil, err
		}
		sink, err := audit.NewKafkaSink(ctx, audit.KafkaOptions{
			Brokers:         cfg.Kafka.Brokers,
			ClientID:        cfg.Kafka.ClientID,
			TLS:             tlsCfg,
			ConnectAttempts: cfg.Kafka.ConnectAttempts,
			ConnectTimeout:  cfg.Kafka.ConnectTimeout,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sink.Close)
		return sink, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		s.closers = append(s.closers, rdb.Close)
		return audit.NewRedisSink(rdb, infra.RedisChannel), nil

	case "postgres":
		sink, err := audit.NewPostgresSink(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sink.Close)
		return sink, nil

	case "http":
		return audit.NewHTTPSink(cfg.Audit.ServiceURL, &http.Client{Timeout: cfg.Audit.PublishTimeout}), nil

	case "log":
		return audit.NewLogSink(s.logger), nil
	}
	return nil, fmt.Errorf("unknown audit transport %q", cfg.Audit.Transport)
}

// Middleware installs the interceptors in front of next:
// correlation ids, principal, request body logging, then error dispatch.
func (s *Starter) Middleware(next http.Handler) http.Handler {
	h := s.dispatcher.Middleware(next)
	h = s.bodyLogger.Middleware(h)
	if s.validator != nil {
		h = interceptor.PrincipalMiddleware(s.validator, s.logger)(h)
	}
	return interceptor.Correlation(h)
}

func (s *Starter) Dispatcher() *interceptor.Dispatcher { return s.dispatcher }

// TransportOpen reports whether the circuit breaker currently refuses sends.
func (s *Starter) TransportOpen() bool {
	return s.sink.State() == gobreaker.StateOpen
}

// Close drains the queue, then closes transport clients.
func (s *Starter) Close(ctx context.Context) error {
	var errs []error
	if s.queue != nil {
		if err := s.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit queue: %w", err))
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package audit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type KafkaOptions struct {
	Brokers  []string
	ClientID string
	// TLS is nil for plaintext brokers.
	TLS             *tls.Config
	ConnectAttempts uint
	ConnectTimeout  time.Duration
}

// KafkaSink produces every record synchronously to the topic named by the channel.
type KafkaSink struct {
	client producer
	close  func()
}

// NewKafkaSink connects to the brokers and pings them with backoff before returning.
func NewKafkaSink(ctx context.Context, opts KafkaOptions, logger *zap.Logger) (*KafkaSink, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
	}
	if opts.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(opts.ClientID))
	}
	if opts.TLS != nil {
		kopts = append(kopts, kgo.DialTLSConfig(opts.TLS))
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}

	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	err = r.Do(func() error {
		pCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pCtx); err != nil {
			logger.Warn("kafka ping failed", zap.Strings("brokers", opts.Brokers), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka: brokers unreachable: %w", err)
	}

	logger.Info("kafka sink connected", zap.Strings("brokers", opts.Brokers), zap.Bool("tls", opts.TLS != nil))
	return &KafkaSink{client: client, close: client.Close}, nil
}

func (k *KafkaSink) Send(ctx context.Context, ch Channel, key string, payload []byte) error {
	rec := &kgo.Record{Topic: string(ch), Value: payload}
	if key != "" {
		rec.Key = []byte(key)
	}
	return k.client.ProduceSync(ctx, rec).FirstErr()
}

// Close flushes nothing: every Send already waited for its ack.
func (k *KafkaSink) Close() error {
	if k.close != nil {
		k.close()
	}
	return nil
}

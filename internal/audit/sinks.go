package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes records on redis pub/sub.
type RedisSink struct {
	rdb  redisPublisher
	name func(string) string
}

// NewRedisSink maps each channel through name (nil keeps it as is).
func NewRedisSink(rdb redisPublisher, name func(string) string) *RedisSink {
	if name == nil {
		name = func(s string) string { return s }
	}
	return &RedisSink{rdb: rdb, name: name}
}

func (s *RedisSink) Send(ctx context.Context, ch Channel, _ string, payload []byte) error {
	if err := s.rdb.Publish(ctx, s.name(string(ch)), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// HTTPSink posts records to the audit collector's response endpoint.
type HTTPSink struct {
	client *http.Client
	url    string
}

func NewHTTPSink(serviceURL string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{
		client: client,
		url:    strings.TrimRight(serviceURL, "/") + "/response",
	}
}

func (s *HTTPSink) Send(ctx context.Context, ch Channel, key string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("collector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Channel", string(ch))
	if key != "" {
		req.Header.Set("X-Request-ID", key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("collector: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes records to the logger instead of a broker. Handy for local runs.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit-sink")}
}

func (s *LogSink) Send(_ context.Context, ch Channel, key string, payload []byte) error {
	s.logger.Info("audit record",
		zap.String("channel", string(ch)),
		zap.String("key", key),
		zap.ByteString("record", payload),
	)
	return nil
}

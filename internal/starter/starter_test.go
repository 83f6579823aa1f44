package starter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/audit-logger/internal/audit"
	"github.com/xela07ax/audit-logger/internal/infra"
	"github.com/xela07ax/audit-logger/internal/interceptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *infra.Config {
	return &infra.Config{
		App: infra.AppConfig{Name: "orders"},
		Audit: infra.AuditConfig{
			Channel:          "audit_logger",
			Transport:        "log",
			UseContentLength: true,
			LogOnce:          true,
			IgnorePatterns:   "/health",
			QueueSize:        16,
			PublishTimeout:   time.Second,
			RedactedValue:    "[REDACTED]",
		},
		Breaker: infra.BreakerConfig{ConsecutiveFailures: 5, Timeout: time.Second},
	}
}

func testRouter(s *Starter) http.Handler {
	r := chi.NewRouter()
	r.Use(s.Middleware)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	r.Get("/v1/orders/{id}", func(http.ResponseWriter, *http.Request) {
		panic("order store offline")
	})
	r.Method(http.MethodDelete, "/v1/orders/{id}", s.Dispatcher().Func("orders.Delete",
		func(http.ResponseWriter, *http.Request) error {
			return &interceptor.StatusError{Code: http.StatusForbidden, Err: io.ErrUnexpectedEOF}
		}))
	return r
}

func publishedRecords(t *testing.T, logs *observer.ObservedLogs) []audit.Record {
	t.Helper()
	var out []audit.Record
	for _, e := range logs.FilterMessage("audit record").All() {
		var rec audit.Record
		require.NoError(t, json.Unmarshal([]byte(e.ContextMap()["record"].(string)), &rec))
		out = append(out, rec)
	}
	return out
}

func TestStarter_LogTransportEndToEnd(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig()
	cfg.Audit.Async = true
	s, err := New(context.Background(), cfg, zap.New(core), prometheus.NewRegistry())
	require.NoError(t, err)
	h := testRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/v1/echo", strings.NewReader(`{"hello":"world"}`))
	req.Header.Set("traceId", "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, `{"hello":"world"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(interceptor.RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/5", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "/v1/orders/{id}", decode(t, rec.Body.Bytes())["servletName"])

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NoError(t, s.Close(context.Background()))

	byKind := map[string]audit.Record{}
	for _, r := range publishedRecords(t, logs) {
		byKind[r.Kind] = r
	}
	require.Len(t, byKind, 2)

	body := byKind[audit.KindRequest]
	assert.Equal(t, `{"hello":"world"}`, body.Payload.Body)
	assert.Equal(t, "trace-1", body.TraceID)
	assert.Equal(t, "orders", body.Application)

	failure := byKind[audit.KindError]
	assert.Equal(t, "/v1/orders/5", failure.RequestURI)
	require.NotNil(t, failure.HTTPStatus)
	assert.Equal(t, 500, *failure.HTTPStatus)
	assert.Equal(t, "order store offline", failure.Payload.ExceptionMessage)
}

func TestStarter_FuncStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := testConfig()
	cfg.Audit.Async = false
	s, err := New(context.Background(), cfg, zap.New(core), nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	rec := httptest.NewRecorder()
	testRouter(s).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/orders/5", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec.Body.Bytes())
	assert.Equal(t, "orders.Delete", body["servletName"])
	assert.Equal(t, "unexpected EOF", body["exceptionMessage"])

	records := publishedRecords(t, logs)
	require.Len(t, records, 1, "direct publishing is synchronous")
	assert.Equal(t, 403, *records[0].HTTPStatus)
}

func TestStarter_HTTPTransport(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, r.URL.Path+" "+r.Header.Get("X-Audit-Channel")+" "+string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	cfg := testConfig()
	cfg.Audit.Transport = "http"
	cfg.Audit.ServiceURL = collector.URL
	cfg.Audit.Async = true

	s, err := New(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	testRouter(s).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil))
	require.NoError(t, s.Close(context.Background()))
	assert.False(t, s.TransportOpen())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.True(t, strings.HasPrefix(received[0], "/response audit_logger {"))
	assert.Contains(t, received[0], `"exceptionMessage":"order store offline"`)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *infra.Config)
	}{
		{name: "unknown transport", mutate: func(cfg *infra.Config) { cfg.Audit.Transport = "carrier-pigeon" }},
		{name: "bad ignore pattern", mutate: func(cfg *infra.Config) { cfg.Audit.IgnorePatterns = "/[a" }},
		{name: "kafka without brokers", mutate: func(cfg *infra.Config) { cfg.Audit.Transport = "kafka" }},
		{name: "postgres without dsn", mutate: func(cfg *infra.Config) { cfg.Audit.Transport = "postgres" }},
		{name: "missing trust store", mutate: func(cfg *infra.Config) {
			cfg.Audit.Transport = "kafka"
			cfg.Kafka.Brokers = []string{"localhost:1"}
			cfg.Kafka.TrustStoreLocation = "/nonexistent/truststore.p12"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, zap.NewNop(), nil)
			assert.Error(t, err)
		})
	}
}

func TestNew_MissingPublicKeyFile(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.PublicKeyPath = "/nonexistent/public.pem"

	_, err := New(context.Background(), cfg, zap.NewNop(), nil)

	assert.ErrorContains(t, err, "key resource")
}

func TestNew_InvalidPublicKey(t *testing.T) {
	t.Setenv(PublicKeyDataEnv, "not a pem")
	_, err := New(context.Background(), testConfig(), zap.NewNop(), nil)
	assert.Error(t, err)
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestStarter_BreakerOpensOnFailingCollector(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer collector.Close()

	cfg := testConfig()
	cfg.Audit.Transport = "http"
	cfg.Audit.ServiceURL = collector.URL
	cfg.Breaker.ConsecutiveFailures = 2

	s, err := New(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	h := testRouter(s)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, "audit failures never change the response")
	}

	assert.True(t, s.TransportOpen())
}

package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/gobwas/glob"
	"github.com/xela07ax/audit-logger/internal/audit"
	"go.uber.org/zap"
)

// maxPooledBuffer keeps one huge upload from pinning its buffer in the pool forever.
const maxPooledBuffer = 1 << 20

type BodyLoggerOptions struct {
	LogHeaders bool
	// UseContentLength trusts the declared Content-Length: empty bodies are skipped and a
	// body counts as complete once that many bytes were read, even if EOF is never seen.
	UseContentLength bool
	// LogOnce logs the body once when it is complete instead of on every chunk.
	LogOnce        bool
	IgnorePatterns []string
	RedactHeaders  []string
	RedactedValue  string
}

type bufferPool interface {
	Get() *bytes.Buffer
	Put(*bytes.Buffer)
}

type syncBufferPool struct {
	p sync.Pool
}

func newSyncBufferPool() *syncBufferPool {
	return &syncBufferPool{p: sync.Pool{New: func() any { return new(bytes.Buffer) }}}
}

func (s *syncBufferPool) Get() *bytes.Buffer {
	b := s.p.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func (s *syncBufferPool) Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	s.p.Put(b)
}

// BodyLogger logs request bodies as handlers read them and audits each fully read body once.
type BodyLogger struct {
	opts    BodyLoggerOptions
	ignore  []glob.Glob
	redact  map[string]struct{}
	builder *audit.Builder
	auditor audit.Auditor
	logger  *zap.Logger
	metrics *audit.Metrics
	pool    bufferPool
}

func NewBodyLogger(opts BodyLoggerOptions, builder *audit.Builder, auditor audit.Auditor, logger *zap.Logger, metrics *audit.Metrics) (*BodyLogger, error) {
	ignore := make([]glob.Glob, 0, len(opts.IgnorePatterns))
	for _, p := range opts.IgnorePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("body logger: invalid ignore pattern %q: %w", p, err)
		}
		ignore = append(ignore, g)
	}

	redact := make(map[string]struct{}, len(opts.RedactHeaders))
	for _, h := range opts.RedactHeaders {
		redact[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	if opts.RedactedValue == "" {
		opts.RedactedValue = "[REDACTED]"
	}
	if metrics == nil {
		metrics = audit.NewMetrics(nil)
	}

	return &BodyLogger{
		opts:    opts,
		ignore:  ignore,
		redact:  redact,
		builder: builder,
		auditor: auditor,
		logger:  logger.Named("body-logger"),
		metrics: metrics,
		pool:    newSyncBufferPool(),
	}, nil
}

func (b *BodyLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.shouldWrap(r) {
			next.ServeHTTP(w, r)
			return
		}

		body := b.wrap(r)
		defer body.release()

		r2 := r.WithContext(r.Context())
		r2.Body = body
		next.ServeHTTP(w, r2)
	})
}

func (b *BodyLogger) shouldWrap(r *http.Request) bool {
	if r.Body == nil || b.ignored(r.URL.Path) {
		return false
	}
	if b.opts.UseContentLength && r.ContentLength == 0 {
		return false
	}
	return true
}

func (b *BodyLogger) ignored(path string) bool {
	for _, g := range b.ignore {
		if g.Match(path) || g.Match(path+"/") {
			return true
		}
	}
	return false
}

func (b *BodyLogger) wrap(r *http.Request) *loggingBody {
	expected := int64(-1)
	if b.opts.UseContentLength && r.ContentLength > 0 {
		expected = r.ContentLength
	}

	var charset string
	if mt := r.Header.Get("Content-Type"); mt != "" {
		if _, params, err := mime.ParseMediaType(mt); err == nil {
			charset = params["charset"]
		}
	}

	return &loggingBody{
		rc:       r.Body,
		owner:    b,
		req:      r,
		buf:      b.pool.Get(),
		expected: expected,
		charset:  charset,
	}
}

func (b *BodyLogger) headers(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if _, ok := b.redact[http.CanonicalHeaderKey(k)]; ok {
			out[k] = []string{b.opts.RedactedValue}
			continue
		}
		out[k] = v
	}
	return out
}

// loggingBody observes a request body chunk by chunk. It is read by one goroutine at a time,
// like any request body.
type loggingBody struct {
	rc       io.ReadCloser
	owner    *BodyLogger
	req      *http.Request
	buf      *bytes.Buffer
	expected int64
	charset  string
	done     bool

	releaseOnce sync.Once
}

func (lb *loggingBody) Read(p []byte) (int, error) {
	n, err := lb.rc.Read(p)

	if n > 0 && lb.buf != nil && !lb.done {
		lb.buf.Write(p[:n])
		if !lb.owner.opts.LogOnce {
			lb.logLine()
		}
	}

	switch {
	case err == io.EOF:
		lb.finish()
	case err != nil:
		lb.owner.logger.Warn("request body read failed",
			zap.String("request_id", RequestIDFrom(lb.req.Context())),
			zap.Error(err),
		)
		lb.release()
	case lb.expected > 0 && lb.buf != nil && int64(lb.buf.Len()) >= lb.expected:
		lb.finish()
	}

	return n, err
}

// Close before completion counts as a cancelled body: the buffer goes back, nothing is audited.
func (lb *loggingBody) Close() error {
	lb.release()
	return lb.rc.Close()
}

func (lb *loggingBody) finish() {
	if lb.done || lb.buf == nil {
		return
	}
	lb.done = true

	if lb.owner.opts.LogOnce {
		lb.logLine()
	}

	ictx := Capture(lb.req)
	ictx.Body = append([]byte{}, lb.buf.Bytes()...)
	ictx.Charset = lb.charset
	lb.owner.auditor.Audit(lb.req.Context(), lb.owner.builder.Build(ictx, nil, nil))

	lb.release()
}

func (lb *loggingBody) logLine() {
	text, err := audit.DecodeBody(lb.buf.Bytes(), lb.charset)
	if err != nil {
		lb.owner.logger.Warn("request body decode failed",
			zap.String("charset", lb.charset),
			zap.Error(err),
		)
	}

	fields := []zap.Field{
		zap.String("method", lb.req.Method),
		zap.String("uri", lb.req.URL.Path),
	}
	if lb.owner.opts.LogHeaders {
		fields = append(fields, zap.Any("headers", lb.owner.headers(lb.req.Header)))
	}
	fields = append(fields,
		zap.String("payload", text),
		zap.String("request_id", RequestIDFrom(lb.req.Context())),
	)

	lb.owner.logger.Info("Request", fields...)
	lb.owner.metrics.BodyLines.Inc()
}

func (lb *loggingBody) release() {
	lb.releaseOnce.Do(func() {
		lb.owner.pool.Put(lb.buf)
		lb.buf = nil
	})
}

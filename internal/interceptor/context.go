package interceptor

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/xela07ax/audit-logger/internal/audit"
)

// ctxKey keeps our context values out of everyone else's way.
type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	requestIDKey ctxKey = "request_id"
	principalKey ctxKey = "principal"
	errorAttrKey ctxKey = "error_attributes"
)

const (
	// TraceIDHeader carries the caller supplied correlation id.
	TraceIDHeader = "traceId"
	// TraceIDAltHeader is accepted when TraceIDHeader is absent.
	TraceIDAltHeader = "X-Trace-ID"
	// RequestIDHeader carries the server assigned correlation id; it is echoed on the response.
	RequestIDHeader = "X-Request-ID"
)

// Correlation stores the caller's trace id and a server assigned request id in the request context.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = r.Header.Get(TraceIDAltHeader)
		}

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		if traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithPrincipal records the authenticated subject of the request.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey, name)
}

func PrincipalFrom(ctx context.Context) string {
	name, _ := ctx.Value(principalKey).(string)
	return name
}

// Capture snapshots what the audit builder needs from r. The query string is left out on purpose: it may carry credentials.
func Capture(r *http.Request) audit.InterceptionContext {
	ctx := r.Context()

	principal := PrincipalFrom(ctx)
	if principal == "" {
		if user, _, ok := r.BasicAuth(); ok {
			principal = user
		}
	}

	return audit.InterceptionContext{
		Method:     r.Method,
		RequestURI: r.URL.EscapedPath(),
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header.Clone(),
		Principal:  principal,
		TraceID:    TraceIDFrom(ctx),
		RequestID:  RequestIDFrom(ctx),
	}
}

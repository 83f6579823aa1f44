package interceptor

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/audit-logger/internal/audit"
	"go.uber.org/zap"
)

// StatusCoder lets an error choose the status of the error response.
type StatusCoder interface {
	StatusCode() int
}

// StatusError attaches an HTTP status to a failure.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string   { return e.Err.Error() }
func (e *StatusError) Unwrap() error   { return e.Err }
func (e *StatusError) StatusCode() int { return e.Code }

// Dispatcher routes handler failures to the ErrorHandler, the way a servlet container forwards to its error page.
type Dispatcher struct {
	handler *ErrorHandler
	logger  *zap.Logger
}

func NewDispatcher(handler *ErrorHandler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, logger: logger.Named("dispatcher")}
}

// Recover dispatches panics raised by next under the given component name.
func (d *Dispatcher) Recover(name string, next http.Handler) http.Handler {
	return d.recoverer(func(*http.Request) string { return name }, next)
}

// Middleware is Recover for a whole router; the component name is the matched chi route pattern.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return d.recoverer(routeName, next)
}

// Func adapts an error returning handler: a returned error is dispatched with the status found
// in its chain (see StatusCoder), 500 otherwise.
func (d *Dispatcher) Func(name string, fn func(http.ResponseWriter, *http.Request) error) http.Handler {
	return d.Recover(name, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			d.Dispatch(w, r, name, err, statusOf(err))
		}
	}))
}

// Dispatch hands one failure to the error handler.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, name string, failure error, status int) {
	attrs := ErrorAttributes{
		Failure:     failure,
		StatusCode:  &status,
		ServletName: name,
		RequestURI:  r.URL.EscapedPath(),
	}
	d.handler.ServeHTTP(w, r.WithContext(WithErrorAttributes(r.Context(), attrs)))
}

func (d *Dispatcher) recoverer(name func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := track(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				// the server knows how to abort silently
				panic(v)
			}
			failure := &audit.PanicError{Value: v, Stack: debug.Stack()}
			d.logger.Error("handler panicked", zap.String("component", name(r)), zap.Error(failure))
			d.Dispatch(tw, r, name(r), failure, http.StatusInternalServerError)
		}()

		next.ServeHTTP(tw, r)
	})
}

func statusOf(err error) (status int) {
	// errors.As calls Unwrap, which may panic on a typed nil error
	defer func() {
		if recover() != nil {
			status = http.StatusInternalServerError
		}
	}()

	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

func routeName(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return ""
}

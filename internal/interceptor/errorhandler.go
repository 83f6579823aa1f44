package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xela07ax/audit-logger/internal/audit"
	"go.uber.org/zap"
)

// DefaultHandlerName identifies the error handler in ErrorAttributes.ServletName.
const DefaultHandlerName = "audit.ErrorHandler"

const unknown = "Unknown"

var (
	// ErrMissingStatusCode: an error response had to be written but no status was captured. 500 is sent.
	ErrMissingStatusCode = errors.New("interceptor: error dispatched without a status code")
	// ErrInvalidStatusCode: the captured status cannot be sent on the wire. 500 is sent.
	ErrInvalidStatusCode = errors.New("interceptor: invalid status code")
)

// ResponseWriteError reports that the JSON error body could not be written.
type ResponseWriteError struct {
	Err error
}

func (e *ResponseWriteError) Error() string {
	return fmt.Sprintf("interceptor: write error response: %v", e.Err)
}

func (e *ResponseWriteError) Unwrap() error { return e.Err }

// ErrorAttributes is what the dispatcher knows about a failed request.
type ErrorAttributes struct {
	Failure    error
	StatusCode *int
	// ServletName names the component that failed.
	ServletName string
	RequestURI  string
}

func WithErrorAttributes(ctx context.Context, attrs ErrorAttributes) context.Context {
	return context.WithValue(ctx, errorAttrKey, attrs)
}

func ErrorAttributesFrom(ctx context.Context) (ErrorAttributes, bool) {
	attrs, ok := ctx.Value(errorAttrKey).(ErrorAttributes)
	return attrs, ok
}

type failureBody struct {
	ServletName      string `json:"servletName"`
	ExceptionType    string `json:"exceptionType"`
	ExceptionMessage string `json:"exceptionMessage"`
	RequestURI       string `json:"requestUri"`
	StatusCode       *int   `json:"statusCode,omitempty"`
}

type missingBody struct {
	Message string `json:"message"`
}

// ErrorHandler audits a failed request and answers it with a normalized JSON body.
type ErrorHandler struct {
	name    string
	builder *audit.Builder
	auditor audit.Auditor
	logger  *zap.Logger
	metrics *audit.Metrics
}

func NewErrorHandler(name string, builder *audit.Builder, auditor audit.Auditor, logger *zap.Logger, metrics *audit.Metrics) *ErrorHandler {
	if name == "" {
		name = DefaultHandlerName
	}
	if metrics == nil {
		metrics = audit.NewMetrics(nil)
	}
	return &ErrorHandler{
		name:    name,
		builder: builder,
		auditor: auditor,
		logger:  logger.Named("error-handler"),
		metrics: metrics,
	}
}

func (h *ErrorHandler) Name() string { return h.name }

// ServeHTTP handles a request carrying ErrorAttributes in its context.
func (h *ErrorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attrs, _ := ErrorAttributesFrom(r.Context())
	_ = h.HandleError(w, r, attrs)
}

// HandleError publishes exactly one audit record for the failure, then writes the error body
// unless the response is already committed. Errors are returned for the caller's information only;
// they are already logged.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, attrs ErrorAttributes) error {
	// a failure inside this handler must not be handled by it again
	if attrs.ServletName == h.name {
		return nil
	}

	committed := isCommitted(w)
	h.metrics.ErrorsIntercepted.WithLabelValues(strconv.FormatBool(committed)).Inc()

	h.audit(r, attrs)

	if committed {
		h.logger.Error("response already committed; cannot send error",
			zap.Intp("status", attrs.StatusCode),
			zap.String("request_uri", attrs.RequestURI),
			zap.Error(attrs.Failure),
		)
		return nil
	}

	servletName := attrs.ServletName
	if servletName == "" {
		servletName = unknown
	}
	requestURI := attrs.RequestURI
	if requestURI == "" {
		requestURI = unknown
	}

	var body any
	if attrs.Failure != nil {
		body = failureBody{
			ServletName:      servletName,
			ExceptionType:    audit.ExceptionType(attrs.Failure),
			ExceptionMessage: audit.SafeMessage(attrs.Failure),
			RequestURI:       requestURI,
			StatusCode:       attrs.StatusCode,
		}
	} else {
		body = missingBody{Message: audit.MissingInformation}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
		return &ResponseWriteError{Err: err}
	}

	status, statusErr := resolveStatus(attrs.StatusCode)
	if statusErr != nil {
		h.logger.Warn("error response status not usable, sending 500", zap.Error(statusErr))
	}

	// drop whatever the failed handler staged before sending anything
	header := w.Header()
	for k := range header {
		delete(header, k)
	}
	header.Set("Content-Type", "application/json")
	if id := RequestIDFrom(r.Context()); id != "" {
		header.Set(RequestIDHeader, id)
	}

	h.logger.Error("error response",
		zap.ByteString("body", payload),
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.Error(attrs.Failure),
	)

	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("failed to write error response", zap.Error(err))
		return &ResponseWriteError{Err: err}
	}

	return statusErr
}

// audit builds and hands over the record. A panic here skips the audit, never the response.
func (h *ErrorHandler) audit(r *http.Request, attrs ErrorAttributes) {
	defer func() {
		if v := recover(); v != nil {
			h.logger.Error("audit capture skipped", zap.Any("panic", v))
		}
	}()

	ictx := Capture(r)
	if attrs.RequestURI != "" {
		ictx.RequestURI = attrs.RequestURI
	}
	h.auditor.Audit(r.Context(), h.builder.Build(ictx, attrs.Failure, attrs.StatusCode))
}

func resolveStatus(code *int) (int, error) {
	if code == nil {
		return http.StatusInternalServerError, ErrMissingStatusCode
	}
	if *code < 100 || *code > 999 {
		return http.StatusInternalServerError, fmt.Errorf("%w: %d", ErrInvalidStatusCode, *code)
	}
	return *code, nil
}

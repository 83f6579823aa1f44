package audit

import (
	"net/http"
	"time"
)

// Channel names the destination of published records (a Kafka topic, a redis channel...).
type Channel string

const DefaultChannel Channel = "audit_logger"

// MissingInformation is recorded when the error path is reached without a failure object.
const MissingInformation = "Error information is missing"

const (
	KindError   = "error"
	KindRequest = "request"
)

// InterceptionContext is the read-only view of one request needed to build a Record.
type InterceptionContext struct {
	Method     string
	RequestURI string
	Path       string
	RemoteAddr string
	Header     http.Header
	Principal  string
	TraceID    string
	RequestID  string
	// Body is nil when no body was observed.
	Body []byte
	// Charset of Body; empty means utf-8.
	Charset string
}

// Payload describes either the failure or the observed request body.
type Payload struct {
	ExceptionType    string   `json:"exceptionType,omitempty"`
	ExceptionMessage string   `json:"exceptionMessage,omitempty"`
	Stack            []string `json:"stack,omitempty"`
	Body             string   `json:"body,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// Record is one audit trail entry. It is immutable once built.
type Record struct {
	Kind        string    `json:"kind"`
	Application string    `json:"application,omitempty"`
	Subject     string    `json:"subjectIdentity,omitempty"`
	TraceID     string    `json:"traceId,omitempty"`
	RequestID   string    `json:"requestId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	HTTPStatus  *int      `json:"httpStatus,omitempty"`
	Method      string    `json:"method,omitempty"`
	RequestURI  string    `json:"requestUri"`
	Payload     Payload   `json:"payload"`
}

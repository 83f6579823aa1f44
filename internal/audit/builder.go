package audit

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// ErrInvalidEncoding reports a body that is not valid text in its declared charset.
var ErrInvalidEncoding = errors.New("audit: body is not valid in its declared charset")

// Builder assembles audit records. It holds no per-request state and is safe for concurrent use.
type Builder struct {
	application string
	now         func() time.Time
}

func NewBuilder(application string, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{application: application, now: now}
}

// Build turns the interception context and an optional failure into a Record.
// Without a failure the payload is the observed body, or MissingInformation when no body was observed.
func (b *Builder) Build(ictx InterceptionContext, failure error, status *int) Record {
	rec := Record{
		Kind:        KindError,
		Application: b.application,
		Subject:     ictx.Principal,
		TraceID:     ictx.TraceID,
		RequestID:   ictx.RequestID,
		Timestamp:   b.now(),
		Method:      ictx.Method,
		RequestURI:  ictx.RequestURI,
	}
	if status != nil {
		s := *status
		rec.HTTPStatus = &s
	}

	switch {
	case failure != nil:
		rec.Payload = Payload{
			ExceptionType:    ExceptionType(failure),
			ExceptionMessage: SafeMessage(failure),
			Stack:            StackSummary(failure),
		}
	case ictx.Body != nil:
		rec.Kind = KindRequest
		text, _ := DecodeBody(ictx.Body, ictx.Charset)
		rec.Payload = Payload{Body: text}
	default:
		rec.Payload = Payload{Message: MissingInformation}
	}

	return rec
}

// DecodeBody renders body as text using charset (utf-8 when empty).
// On a decoding failure the returned text is the raw bytes made valid utf-8, alongside the error.
func DecodeBody(body []byte, charset string) (string, error) {
	cs := strings.ToLower(strings.TrimSpace(charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		if utf8.Valid(body) {
			return string(body), nil
		}
		return strings.ToValidUTF8(string(body), "�"), ErrInvalidEncoding
	}

	enc, err := htmlindex.Get(cs)
	if err != nil {
		return strings.ToValidUTF8(string(body), "�"), err
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "�"), err
	}
	return string(out), nil
}

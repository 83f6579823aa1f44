package interceptor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xela07ax/audit-logger/internal/audit"
)

type recordingAuditor struct {
	mu        sync.Mutex
	records   []audit.Record
	panicWith any
}

func (a *recordingAuditor) Audit(_ context.Context, rec audit.Record) {
	if a.panicWith != nil {
		panic(a.panicWith)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

func (a *recordingAuditor) Records() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Record(nil), a.records...)
}

type stateError struct{ msg string }

func (e *stateError) Error() string { return e.msg }

type wrappedError struct {
	msg   string
	cause error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.cause }

const stateErrorType = "*github.com/xela07ax/audit-logger/internal/interceptor.stateError"

func testBuilder() *audit.Builder {
	return audit.NewBuilder("orders", func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) })
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func intPtr(v int) *int { return &v }

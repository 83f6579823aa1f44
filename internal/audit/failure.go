package audit

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const maxStackFrames = 10

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// ExceptionType names the failure's wrapped cause when there is one, otherwise the failure itself.
// An Unwrap method that panics (typed nil receiver) falls back to the failure's own type.
func ExceptionType(failure error) (name string) {
	if failure == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			name = TypeName(failure)
		}
	}()
	if cause := errors.Unwrap(failure); cause != nil {
		return TypeName(cause)
	}
	return TypeName(failure)
}

// TypeName returns the fully qualified dynamic type of v, e.g. "*net/url.Error".
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	prefix := ""
	for t.Kind() == reflect.Pointer {
		prefix += "*"
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return reflect.TypeOf(v).String()
	}
	return prefix + t.PkgPath() + "." + t.Name()
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackSummary returns up to maxStackFrames frames describing where failure originated.
func StackSummary(failure error) (summary []string) {
	defer func() {
		if recover() != nil {
			summary = nil
		}
	}()

	var tracer stackTracer
	if errors.As(failure, &tracer) {
		frames := tracer.StackTrace()
		if len(frames) > maxStackFrames {
			frames = frames[:maxStackFrames]
		}
		out := make([]string, 0, len(frames))
		for _, f := range frames {
			out = append(out, fmt.Sprintf("%n (%s:%d)", f, f, f))
		}
		return out
	}

	var pe *PanicError
	if errors.As(failure, &pe) && len(pe.Stack) > 0 {
		return panicFrames(pe.Stack)
	}
	return nil
}

// panicFrames keeps the function lines of a runtime/debug.Stack dump.
func panicFrames(stack []byte) []string {
	var out []string
	for _, line := range strings.Split(string(stack), "\n") {
		if line == "" || strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		out = append(out, line)
		if len(out) == maxStackFrames {
			break
		}
	}
	return out
}

// SafeMessage survives error values whose Error method panics, e.g. typed nil pointers.
func SafeMessage(failure error) (msg string) {
	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	return failure.Error()
}

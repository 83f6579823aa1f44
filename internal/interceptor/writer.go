package interceptor

import "net/http"

// committer is implemented by writers that know whether the response has started.
type committer interface {
	Committed() bool
}

// trackingWriter records whether headers or body bytes have left for the client.
type trackingWriter struct {
	http.ResponseWriter
	committed bool
	status    int
}

func track(w http.ResponseWriter) *trackingWriter {
	if tw, ok := w.(*trackingWriter); ok {
		return tw
	}
	return &trackingWriter{ResponseWriter: w}
}

func (w *trackingWriter) WriteHeader(code int) {
	// informational responses do not commit the final status
	if code >= 200 && !w.committed {
		w.committed = true
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	if !w.committed {
		w.committed = true
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.committed = true
		if w.status == 0 {
			w.status = http.StatusOK
		}
		f.Flush()
	}
}

func (w *trackingWriter) Committed() bool { return w.committed }

func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// isCommitted walks the Unwrap chain looking for a writer that knows. Unknown writers count as uncommitted.
func isCommitted(w http.ResponseWriter) bool {
	for w != nil {
		if c, ok := w.(committer); ok {
			return c.Committed()
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
	return false
}

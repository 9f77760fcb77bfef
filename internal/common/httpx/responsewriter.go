package httpx

import (
	"bufio"
	"net"
	"net/http"
	"sync"
)

// ResponseWriter wraps http.ResponseWriter, records whether anything was written
// and lets a timeout claim the response before the handler does.
type ResponseWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	written  bool
	timedOut bool
	status   int
}

// NewResponseWriter creates a new ResponseWriter wrapping w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader is a no-op after the first call or after a timeout.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.writeHeaderLocked(code)
}

func (rw *ResponseWriter) writeHeaderLocked(code int) {
	if rw.written || rw.timedOut {
		return
	}
	rw.status = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write writes b, sending a 200 header first if none was sent.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !rw.written {
		rw.writeHeaderLocked(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// MarkTimedOut claims the response for a timeout. It returns true when nothing
// had been written yet, in which case the caller owns the underlying writer.
func (rw *ResponseWriter) MarkTimedOut() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.timedOut = true
	return !rw.written
}

// Written reports whether headers or body were written.
func (rw *ResponseWriter) Written() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.written
}

// Status returns the status code, http.StatusOK if none was set.
func (rw *ResponseWriter) Status() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Flush implements http.Flusher if the underlying writer supports it.
func (rw *ResponseWriter) Flush() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timedOut {
		return
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker if the underlying writer supports it.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrHijacked
	}
	return hj.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

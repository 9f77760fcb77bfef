package httpx

import (
	"errors"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by Send once a previous write failed or the
// stream was closed. Callers treat it as "client gone".
var ErrStreamClosed = errors.New("event stream closed")

// EventStream writes Server-Sent Event frames and flushes each one.
type EventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	frames  int
}

// NewEventStream sends the event-stream headers with a 200 status. It fails
// before writing anything if w cannot flush.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported()
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &EventStream{w: w, flusher: flusher}, nil
}

// Send writes data as one "data:" frame and flushes it. data must not contain
// newlines; compact JSON satisfies that.
func (es *EventStream) Send(data []byte) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return ErrStreamClosed
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	if _, err := es.w.Write(buf); err != nil {
		es.closed = true
		return errors.Join(ErrStreamClosed, err)
	}
	es.flusher.Flush()
	es.frames++
	return nil
}

// Close marks the stream closed; later sends are no-ops returning ErrStreamClosed.
func (es *EventStream) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed = true
}

// Frames returns the number of frames written successfully.
func (es *EventStream) Frames() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.frames
}

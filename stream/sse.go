// ABOUTME: Server-Sent Events framing and an http.ResponseWriter sink that flushes per event.
// ABOUTME: Safe for concurrent producers such as an agent turn and a progress watcher.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Sink receives events in order.
type Sink interface {
	Send(Event) error
}

// Format renders e as one SSE message: "event: <type>\ndata: <json>\n\n".
func Format(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal stream event: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data), nil
}

// SSEWriter writes events to an HTTP response as they are sent.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers and returns a writer. It fails
// when w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send implements Sink.
func (s *SSEWriter) Send(e Event) error {
	msg, err := Format(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, msg); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

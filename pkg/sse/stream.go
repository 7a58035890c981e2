package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Stream writes events to one client. It is not safe for concurrent use;
// the handler goroutine owns it.
type Stream struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	closed       bool
}

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentTypeEventStream)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// NewStream sets the headers, sends them with a 200 and returns a Stream.
// It fails with ErrFlusherNotSupported, before anything is written, when w
// cannot flush; the caller may still send an error response then. Any other
// error means the headers are already out. A positive writeTimeout bounds
// every subsequent write.
func NewStream(w http.ResponseWriter, writeTimeout time.Duration) (*Stream, error) {
	if !CanFlush(w) {
		return nil, ErrFlusherNotSupported
	}

	rc := http.NewResponseController(w)
	SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("sse: flush headers: %w", err)
	}
	return &Stream{w: w, rc: rc, writeTimeout: writeTimeout}, nil
}

// CanFlush reports whether w, or a writer reachable through Unwrap, can
// flush. It looks up the same methods as http.ResponseController.
func CanFlush(w http.ResponseWriter) bool {
	for w != nil {
		switch t := w.(type) {
		case interface{ FlushError() error }, http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
	return false
}

// Send writes a preformatted frame and flushes it.
func (s *Stream) Send(frame string) error {
	if s.closed {
		return ErrStreamClosed
	}
	if s.writeTimeout > 0 {
		// Writers without deadline support (httptest) simply run unbounded.
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.closed = true
		return fmt.Errorf("sse: write: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
		return fmt.Errorf("sse: flush: %w", err)
	}
	return nil
}

// SendJSON marshals v and sends it as a data-only event.
func (s *Stream) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	return s.Send(FormatData(string(b)))
}

// SendEvent formats and sends ev.
func (s *Stream) SendEvent(ev Event) error {
	frame, err := FormatEvent(ev)
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// Keepalive sends a comment frame.
func (s *Stream) Keepalive() error {
	return s.Send(FormatComment("keepalive"))
}

// Close marks the stream finished and clears the write deadline.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.writeTimeout > 0 {
		_ = s.rc.SetWriteDeadline(time.Time{})
	}
}

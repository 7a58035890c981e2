// Package sse implements the text/event-stream framing used by the live
// traffic tail, and a Stream writer that flushes every event and bounds each
// write with a deadline.
package sse

import (
	"errors"
	"time"
)

const (
	// ContentTypeEventStream is the MIME type for SSE responses
	ContentTypeEventStream = "text/event-stream"

	// DefaultKeepaliveInterval is how often an idle stream sends a comment.
	DefaultKeepaliveInterval = 15 * time.Second

	// DefaultWriteTimeout bounds a single event write to a slow client.
	DefaultWriteTimeout = 10 * time.Second

	// MaxEventDataSize is the maximum size of event data in bytes
	MaxEventDataSize = 4 << 20
)

// field prefixes per the WHATWG event-stream format
const (
	fieldEvent   = "event:"
	fieldData    = "data:"
	fieldID      = "id:"
	fieldRetry   = "retry:"
	fieldComment = ":"
)

var (
	// ErrFlusherNotSupported indicates the response writer doesn't support flushing
	ErrFlusherNotSupported = errors.New("sse: flusher not supported")

	// ErrEventTooLarge indicates the event data exceeds MaxEventDataSize
	ErrEventTooLarge = errors.New("sse: event data too large")

	// ErrInvalidField indicates an event name or id containing a line break
	ErrInvalidField = errors.New("sse: invalid event field")

	// ErrStreamClosed is returned by writes after Close
	ErrStreamClosed = errors.New("sse: stream closed")
)

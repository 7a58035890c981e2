package requestlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Placeholders stored in an entry when a body cannot be materialized.
const (
	RequestBodyUnavailable  = "[unable to read request body]"
	ResponseBodyUnavailable = "[unable to read response body]"
)

// ErrUnknownCharset is returned when a body declares a charset that has no decoder.
var ErrUnknownCharset = errors.New("unknown charset")

// CaptureStream wraps the real http.ResponseWriter. Every Write is forwarded
// to the client and the forwarded bytes are appended to an internal buffer,
// so the handler's output reaches the client unchanged.
//
// A CaptureStream serves a single response and assumes a single writer,
// which is how net/http drives a handler.
type CaptureStream struct {
	http.ResponseWriter

	buf       bytes.Buffer
	limit     int // 0 = unbounded
	truncated bool
	capturing bool
	decided   bool

	status      int
	wroteHeader bool
	written     int64
}

// NewCaptureStream wraps w. At most limit bytes are retained for
// inspection; limit <= 0 retains everything.
func NewCaptureStream(w http.ResponseWriter, limit int) *CaptureStream {
	if limit < 0 {
		limit = 0
	}
	return &CaptureStream{ResponseWriter: w, limit: limit, capturing: true}
}

// WriteHeader records the first status code and forwards it.
func (c *CaptureStream) WriteHeader(code int) {
	if !c.wroteHeader {
		// 1xx informational responses may precede the final header.
		if code >= 200 || code == http.StatusSwitchingProtocols {
			c.decide()
			c.status = code
			c.wroteHeader = true
		}
	}
	c.ResponseWriter.WriteHeader(code)
}

// Write forwards p to the client and retains the bytes the client accepted.
func (c *CaptureStream) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.decide()
		c.status = http.StatusOK
		c.wroteHeader = true
	}

	n, err := c.ResponseWriter.Write(p)
	c.written += int64(n)
	if n > 0 && c.capturing {
		c.retain(p[:n])
	}
	return n, err
}

// decide switches accumulation off for responses that declare a
// non-textual content type before their first byte is sent.
func (c *CaptureStream) decide() {
	if c.decided {
		return
	}
	c.decided = true
	if ct := c.Header().Get("Content-Type"); ct != "" && !IsTextContentType(ct) {
		c.capturing = false
	}
}

func (c *CaptureStream) retain(p []byte) {
	if c.limit == 0 {
		c.buf.Write(p)
		return
	}
	remaining := c.limit - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return
	}
	if len(p) > remaining {
		p = p[:remaining]
		c.truncated = true
	}
	c.buf.Write(p)
}

// Status returns the status code sent to the client, or 0 if none was sent yet.
func (c *CaptureStream) Status() int { return c.status }

// Written returns the number of body bytes forwarded to the client.
func (c *CaptureStream) Written() int64 { return c.written }

// Truncated reports whether retained bytes were cut at the limit.
func (c *CaptureStream) Truncated() bool { return c.truncated }

// Captured returns the retained bytes. The slice aliases the internal buffer.
func (c *CaptureStream) Captured() []byte { return c.buf.Bytes() }

// ContentType returns the response content type as the client sees it: the
// declared header, or the type net/http sniffs from the first bytes when the
// handler did not declare one.
func (c *CaptureStream) ContentType() string {
	if ct := c.Header().Get("Content-Type"); ct != "" {
		return ct
	}
	if c.buf.Len() == 0 {
		return ""
	}
	return http.DetectContentType(c.buf.Bytes())
}

// CapturedContent decodes the retained bytes as text using the charset of
// the response content type (UTF-8 when none is declared). It must be called
// after the handler has returned.
func (c *CaptureStream) CapturedContent() (string, error) {
	return DecodeText(c.buf.Bytes(), c.ContentType())
}

// Flush implements http.Flusher if the underlying writer supports it.
func (c *CaptureStream) Flush() {
	if !c.wroteHeader {
		c.decide()
		c.status = http.StatusOK
		c.wroteHeader = true
	}
	if flusher, ok := c.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack preserves connection hijacking (websocket upgrades) when available.
// Bytes written on a hijacked connection are not captured.
func (c *CaptureStream) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := c.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	c.capturing = false
	if !c.wroteHeader {
		c.status = http.StatusSwitchingProtocols
		c.wroteHeader = true
	}
	return hijacker.Hijack()
}

// Push forwards HTTP/2 server push to the underlying writer.
func (c *CaptureStream) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := c.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (c *CaptureStream) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// DecodeText converts body to a string using the charset parameter of
// contentType. Invalid UTF-8 sequences are replaced rather than rejected;
// an unrecognised charset is an error.
func DecodeText(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	enc, err := charsetEncoding(contentType)
	if err != nil {
		return "", err
	}

	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(out), nil
}

func charsetEncoding(contentType string) (encoding.Encoding, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Malformed parameters: fall back to UTF-8 like a browser would.
		return unicode.UTF8, nil
	}
	name := strings.TrimSpace(params["charset"])
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, name)
	}
	return enc, nil
}

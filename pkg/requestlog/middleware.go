package requestlog

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kothbackend/kothd/internal/id"
	"github.com/kothbackend/kothd/pkg/logging"
	"github.com/kothbackend/kothd/pkg/metrics"
)

// DefaultMaxBodyBytes bounds the body text kept per entry.
const DefaultMaxBodyBytes = 1 << 20

// Redacted replaces the value of headers listed in Options.RedactHeaders.
const Redacted = "[REDACTED]"

// Publisher receives committed entries for live fan-out.
type Publisher interface {
	Publish(entry *Entry)
}

// Options configures a Middleware.
type Options struct {
	// ExcludePrefixes lists path prefixes (case-insensitive) that bypass
	// capture entirely, e.g. the log viewer's own routes and static assets.
	ExcludePrefixes []string

	// ExcludePatterns lists doublestar glob patterns matched against the
	// lower-cased path, e.g. "/static/**/*.js".
	ExcludePatterns []string

	// MaxBodyBytes bounds the request and response text kept per entry.
	// 0 keeps whole bodies.
	MaxBodyBytes int

	// RedactHeaders lists header names whose values are replaced by
	// Redacted in entries. The wire traffic is not modified.
	RedactHeaders []string

	// Logger receives capture warnings. Defaults to logging.Nop().
	Logger *slog.Logger
}

// DefaultOptions returns the options used by kothd serve.
func DefaultOptions() Options {
	return Options{
		ExcludePrefixes: []string{"/logs", "/healthz", "/metrics", "/favicon.ico", "/css/", "/js/", "/lib/"},
		MaxBodyBytes:    DefaultMaxBodyBytes,
		RedactHeaders:   []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key"},
	}
}

// Middleware records every request passing through it as an Entry, commits
// it to a Logger and publishes it after the downstream handler finishes.
type Middleware struct {
	next     http.Handler
	store    Logger
	hub      Publisher
	prefixes []string
	patterns []string
	maxBody  int
	redact   map[string]struct{}
	log      *slog.Logger
}

// NewMiddleware wraps next. store and hub may be nil, in which case the
// corresponding commit step is skipped. Invalid exclusion patterns are
// logged and ignored.
func NewMiddleware(next http.Handler, store Logger, hub Publisher, opts Options) *Middleware {
	m := &Middleware{
		next:    next,
		store:   store,
		hub:     hub,
		maxBody: opts.MaxBodyBytes,
		redact:  make(map[string]struct{}, len(opts.RedactHeaders)),
		log:     logging.WithComponent(opts.Logger, "requestlog"),
	}
	if m.maxBody < 0 {
		m.maxBody = 0
	}

	for _, p := range opts.ExcludePrefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			m.prefixes = append(m.prefixes, p)
		}
	}
	for _, p := range opts.ExcludePatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if !doublestar.ValidatePattern(p) {
			m.log.Warn("ignoring invalid exclude pattern", "pattern", p)
			continue
		}
		m.patterns = append(m.patterns, p)
	}
	for _, h := range opts.RedactHeaders {
		m.redact[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	return m
}

// Excluded reports whether path bypasses capture.
func (m *Middleware) Excluded(path string) bool {
	if len(m.prefixes) == 0 && len(m.patterns) == 0 {
		return false
	}
	lower := strings.ToLower(path)
	for _, p := range m.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Excluded(r.URL.Path) {
		if metrics.SkippedTotal != nil {
			_ = metrics.SkippedTotal.Inc()
		}
		m.next.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	entry := m.captureRequest(r, start)
	capture := NewCaptureStream(w, m.maxBody)

	completed := false
	defer func() {
		if completed {
			return
		}
		// The handler panicked or called runtime.Goexit. Commit what is
		// observable, then let the failure continue unchanged.
		p := recover()
		if p != nil {
			entry.Error = fmt.Sprint(p)
		}
		m.captureResponse(entry, capture, false)
		m.commit(entry, start)
		if p != nil {
			panic(p)
		}
	}()

	m.next.ServeHTTP(capture, r)
	completed = true

	m.captureResponse(entry, capture, true)
	m.commit(entry, start)
}

func (m *Middleware) captureRequest(r *http.Request, start time.Time) *Entry {
	entry := &Entry{
		ID:             id.New(),
		Timestamp:      start.UTC(),
		Method:         r.Method,
		Path:           r.URL.Path,
		RemoteAddr:     r.RemoteAddr,
		RequestHeaders: m.headers(r.Header),
	}
	if r.URL.RawQuery != "" {
		entry.QueryString = "?" + r.URL.RawQuery
	}
	// net/http moves Host out of the header map.
	if _, ok := entry.RequestHeaders["Host"]; !ok && r.Host != "" {
		entry.RequestHeaders["Host"] = r.Host
	}
	if r.ContentLength > 0 {
		entry.RequestBodySize = r.ContentLength
	}

	contentType := r.Header.Get("Content-Type")
	if r.ContentLength <= 0 || r.Body == nil || !IsTextContentType(contentType) {
		return entry
	}

	body, truncated, err := m.peekBody(r)
	if err == nil {
		var text string
		text, err = DecodeText(body, contentType)
		if err == nil {
			entry.RequestBody = stringPtr(text)
			entry.RequestBodyTruncated = truncated
			return entry
		}
	}

	m.captureFailed("request", entry, err)
	entry.RequestBody = stringPtr(RequestBodyUnavailable)
	return entry
}

// peekBody reads the body prefix kept for the entry and puts it back in
// front of the unread remainder, so the handler reads the full body.
func (m *Middleware) peekBody(r *http.Request) ([]byte, bool, error) {
	reader := io.Reader(r.Body)
	if m.maxBody > 0 {
		reader = io.LimitReader(r.Body, int64(m.maxBody)+1)
	}

	read, err := io.ReadAll(reader)
	r.Body = &replayBody{
		Reader: io.MultiReader(bytes.NewReader(read), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		return nil, false, err
	}

	if m.maxBody > 0 && len(read) > m.maxBody {
		return read[:m.maxBody], true, nil
	}
	return read, false, nil
}

type replayBody struct {
	io.Reader
	io.Closer
}

func (m *Middleware) captureResponse(entry *Entry, c *CaptureStream, completed bool) {
	status := c.Status()
	if status == 0 && completed {
		// The handler returned without writing; net/http sends 200.
		status = http.StatusOK
	}
	entry.ResponseStatusCode = status
	entry.ResponseHeaders = m.headers(c.Header())
	entry.ResponseBodySize = c.Written()

	contentType := c.ContentType()
	if _, ok := entry.ResponseHeaders["Content-Type"]; !ok && contentType != "" {
		entry.ResponseHeaders["Content-Type"] = contentType
	}
	if !IsTextContentType(contentType) {
		return
	}

	text, err := c.CapturedContent()
	if err != nil {
		m.captureFailed("response", entry, err)
		entry.ResponseBody = stringPtr(ResponseBodyUnavailable)
		return
	}
	entry.ResponseBody = stringPtr(text)
	entry.ResponseBodyTruncated = c.Truncated()
}

func (m *Middleware) commit(entry *Entry, start time.Time) {
	entry.Duration = time.Since(start)
	entry.DurationMs = float64(entry.Duration) / float64(time.Millisecond)

	defer func() {
		// A faulty Logger or Publisher must not take the request down with it.
		if p := recover(); p != nil {
			m.log.Error("commit failed", "id", entry.ID, "panic", p)
		}
	}()

	if m.store != nil {
		m.store.Add(entry)
	}
	if m.hub != nil {
		m.hub.Publish(entry)
	}

	if metrics.EntriesTotal != nil {
		if vec, err := metrics.EntriesTotal.WithLabels(entry.Method, strconv.Itoa(entry.ResponseStatusCode)); err == nil {
			_ = vec.Inc()
		}
	}
	if metrics.RequestDuration != nil {
		if vec, err := metrics.RequestDuration.WithLabels(entry.Method); err == nil {
			vec.Observe(entry.Duration.Seconds())
		}
	}
}

func (m *Middleware) headers(h http.Header) map[string]string {
	out := JoinHeaders(h)
	for name := range out {
		if _, ok := m.redact[http.CanonicalHeaderKey(name)]; ok {
			out[name] = Redacted
		}
	}
	return out
}

// captureFailed records a body that could not be materialized. The entry
// keeps a placeholder instead; the request itself is unaffected.
func (m *Middleware) captureFailed(stage string, entry *Entry, err error) {
	m.log.Warn("body capture failed", "stage", stage, "method", entry.Method, "path", entry.Path, "error", err)
	if metrics.CaptureFailuresTotal != nil {
		if vec, verr := metrics.CaptureFailuresTotal.WithLabels(stage); verr == nil {
			_ = vec.Inc()
		}
	}
}

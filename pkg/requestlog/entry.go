package requestlog

import (
	"net/http"
	"strings"
	"time"
)

// Entry captures one request/response exchange. It is never mutated after it
// has been handed to a Store or Broadcaster, so it can be shared freely
// between viewers without copying.
type Entry struct {
	// ID is a unique, time-ordered identifier for the entry.
	ID string `json:"id"`

	// Timestamp is when the request was received (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Method is the HTTP method.
	Method string `json:"method"`

	// Path is the request URL path.
	Path string `json:"path"`

	// QueryString is the raw query string including the leading "?", or
	// empty when the URL has no query.
	QueryString string `json:"queryString"`

	// RemoteAddr is the client address as seen by the server.
	RemoteAddr string `json:"remoteAddr,omitempty"`

	// RequestHeaders maps header name to its values joined with ", ".
	RequestHeaders map[string]string `json:"requestHeaders"`

	// RequestBody is set only for textual bodies with a positive length.
	RequestBody *string `json:"requestBody,omitempty"`

	// RequestBodySize is the declared content length of the request.
	RequestBodySize int64 `json:"requestBodySize"`

	// RequestBodyTruncated reports that RequestBody was cut at the capture limit.
	RequestBodyTruncated bool `json:"requestBodyTruncated,omitempty"`

	// ResponseStatusCode is the status sent to the client; 0 if the handler
	// panicked before writing a status.
	ResponseStatusCode int `json:"responseStatusCode"`

	// ResponseHeaders has the same shape as RequestHeaders.
	ResponseHeaders map[string]string `json:"responseHeaders"`

	// ResponseBody is set only for textual responses.
	ResponseBody *string `json:"responseBody,omitempty"`

	// ResponseBodySize is the number of body bytes forwarded to the client.
	ResponseBodySize int64 `json:"responseBodySize"`

	// ResponseBodyTruncated reports that ResponseBody was cut at the capture limit.
	ResponseBodyTruncated bool `json:"responseBodyTruncated,omitempty"`

	// Duration is the elapsed time from entry creation to commit.
	Duration time.Duration `json:"duration"`

	// DurationMs is Duration in fractional milliseconds.
	DurationMs float64 `json:"durationMs"`

	// Error holds the panic value when the downstream handler panicked.
	Error string `json:"error,omitempty"`
}

// JoinHeaders flattens h into name → values joined with ", ".
func JoinHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// IsTextContentType reports whether a content type carries text worth
// capturing: json, xml, text, form-data or form-urlencoded, matched
// case-insensitively anywhere in the value.
func IsTextContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(contentType)
	for _, marker := range textMarkers {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

var textMarkers = []string{"json", "xml", "text", "form-data", "form-urlencoded"}

func stringPtr(s string) *string { return &s }

package requestlog

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureStream_Tee(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewCaptureStream(rec, 0)

	c.Header().Set("Content-Type", "application/json")
	c.WriteHeader(http.StatusCreated)
	_, _ = c.Write([]byte(`{"a":`))
	_, _ = c.Write([]byte(`1}`))

	assert.Equal(t, `{"a":1}`, rec.Body.String())
	assert.Equal(t, `{"a":1}`, string(c.Captured()))
	assert.Equal(t, http.StatusCreated, c.Status())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(7), c.Written())

	text, err := c.CapturedContent()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestCaptureStream_ImplicitOK(t *testing.T) {
	c := NewCaptureStream(httptest.NewRecorder(), 0)
	assert.Equal(t, 0, c.Status())

	_, _ = c.Write([]byte("hi"))
	c.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, c.Status(), "first status wins")
}

func TestCaptureStream_InformationalIgnored(t *testing.T) {
	c := NewCaptureStream(httptest.NewRecorder(), 0)
	c.WriteHeader(http.StatusEarlyHints)
	c.WriteHeader(http.StatusAccepted)

	assert.Equal(t, http.StatusAccepted, c.Status())
}

func TestCaptureStream_Limit(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewCaptureStream(rec, 4)
	c.Header().Set("Content-Type", "text/plain")

	_, _ = c.Write([]byte("hello "))
	_, _ = c.Write([]byte("world"))

	assert.Equal(t, "hello world", rec.Body.String(), "client output is never truncated")
	assert.Equal(t, "hell", string(c.Captured()))
	assert.True(t, c.Truncated())
	assert.Equal(t, int64(11), c.Written())
}

func TestCaptureStream_BinarySkipsBuffering(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewCaptureStream(rec, 0)
	c.Header().Set("Content-Type", "image/png")

	_, _ = c.Write([]byte{0x89, 'P', 'N', 'G'})

	assert.Empty(t, c.Captured())
	assert.Equal(t, 4, rec.Body.Len())
	assert.Equal(t, int64(4), c.Written())
}

func TestCaptureStream_SniffsContentType(t *testing.T) {
	c := NewCaptureStream(httptest.NewRecorder(), 0)
	_, _ = c.Write([]byte("<html><body>ok</body></html>"))

	assert.Equal(t, "text/html; charset=utf-8", c.ContentType())
	assert.Empty(t, NewCaptureStream(httptest.NewRecorder(), 0).ContentType())
}

func TestCaptureStream_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewCaptureStream(rec, 0)

	c.Flush()

	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, c.Status())
}

func TestCaptureStream_ResponseController(t *testing.T) {
	rec := httptest.NewRecorder()
	c := NewCaptureStream(rec, 0)

	require.NoError(t, http.NewResponseController(c).Flush())
	assert.True(t, rec.Flushed)
	assert.Same(t, http.ResponseWriter(rec), c.Unwrap())
}

func TestCaptureStream_HijackUnsupported(t *testing.T) {
	c := NewCaptureStream(httptest.NewRecorder(), 0)
	_, _, err := c.Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		contentType string
		want        string
		wantErr     error
	}{
		{name: "empty", body: nil, contentType: "text/plain", want: ""},
		{name: "utf8 default", body: []byte("héllo"), contentType: "text/plain", want: "héllo"},
		{name: "latin1", body: []byte{'c', 'a', 'f', 0xE9}, contentType: "text/plain; charset=ISO-8859-1", want: "café"},
		{name: "invalid utf8 replaced", body: []byte{'a', 0xFF, 'b'}, contentType: "application/json", want: "a�b"},
		{name: "malformed params", body: []byte("x"), contentType: "text/plain; ;;", want: "x"},
		{name: "unknown charset", body: []byte("x"), contentType: "text/plain; charset=klingon", wantErr: ErrUnknownCharset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.body, tt.contentType)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTextContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/json":                  true,
		"APPLICATION/JSON; charset=utf-8":   true,
		"application/xml":                   true,
		"text/html":                         true,
		"multipart/form-data; boundary=x":   true,
		"application/x-www-form-urlencoded": true,
		"application/octet-stream":          false,
		"image/png":                         false,
		"":                                  false,
	} {
		assert.Equal(t, want, IsTextContentType(ct), ct)
	}
}

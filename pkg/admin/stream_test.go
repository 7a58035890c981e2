package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kothbackend/kothd/pkg/requestlog"
	"github.com/kothbackend/kothd/pkg/sse"
)

// sseClient reads frames from a live tail.
type sseClient struct {
	t      *testing.T
	resp   *http.Response
	frames chan string
}

func openStream(t *testing.T, srv *httptest.Server, query string) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/stream"+query, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	c := &sseClient{t: t, resp: resp, frames: make(chan string, 64)}
	go func() {
		defer close(c.frames)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var frame strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				c.frames <- frame.String()
				frame.Reset()
				continue
			}
			frame.WriteString(line)
			frame.WriteByte('\n')
		}
	}()
	return c
}

// skipped reports frames that carry no entry: comments and the
// snapshot-end marker.
func skipped(frame string) bool {
	return strings.HasPrefix(frame, ":") || strings.HasPrefix(frame, "event:"+EventSnapshotEnd+"\n")
}

// nextFrame returns the next frame that is not a comment.
func (c *sseClient) nextFrame() string {
	c.t.Helper()
	for {
		select {
		case f, ok := <-c.frames:
			require.True(c.t, ok, "stream closed")
			if strings.HasPrefix(f, ":") {
				continue
			}
			return f
		case <-time.After(2 * time.Second):
			c.t.Fatal("timed out waiting for event")
			return ""
		}
	}
}

// next returns the next frame that is neither a comment nor the
// snapshot-end marker.
func (c *sseClient) next() string {
	c.t.Helper()
	for {
		select {
		case f, ok := <-c.frames:
			require.True(c.t, ok, "stream closed")
			if skipped(f) {
				continue
			}
			return f
		case <-time.After(2 * time.Second):
			c.t.Fatal("timed out waiting for event")
			return ""
		}
	}
}

func (c *sseClient) nextEntry() *requestlog.Entry {
	c.t.Helper()
	frame := c.next()
	require.True(c.t, strings.HasPrefix(frame, "data: "), frame)
	var e requestlog.Entry
	require.NoError(c.t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(frame, "data: "))), &e))
	return &e
}

func (c *sseClient) expectNothing(d time.Duration) {
	c.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			if skipped(f) {
				continue
			}
			c.t.Fatalf("unexpected frame %q", f)
		case <-deadline:
			return
		}
	}
}

func waitSubscribers(t *testing.T, hub Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestStream_SnapshotThenLive(t *testing.T) {
	f := newFixture()
	f.commit(entry("a", "GET", 200))
	f.commit(entry("b", "GET", 200))

	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "")
	assert.Equal(t, sse.ContentTypeEventStream, c.resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", c.resp.Header.Get("Cache-Control"))

	assert.Equal(t, "b", c.nextEntry().ID, "snapshot is most recent first")
	assert.Equal(t, "a", c.nextEntry().ID)

	waitSubscribers(t, f.hub, 1)
	f.commit(entry("c", "POST", 201))
	assert.Equal(t, "c", c.nextEntry().ID)
}

func TestStream_SnapshotEndMarker(t *testing.T) {
	f := newFixture()
	f.commit(entry("ok", "GET", 200))
	f.commit(entry("bad", "GET", 500))
	f.commit(entry("worse", "GET", 503))

	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "?filter=status+%3E%3D+500")
	assert.True(t, strings.HasPrefix(c.nextFrame(), "data: "))
	assert.True(t, strings.HasPrefix(c.nextFrame(), "data: "))
	assert.Equal(t, "event:"+EventSnapshotEnd+"\ndata: 2\n", c.nextFrame(), "marker counts entries sent")

	waitSubscribers(t, f.hub, 1)
	f.commit(entry("live", "GET", 500))
	assert.Equal(t, "live", c.nextEntry().ID)
}

func TestStream_EmptySnapshotStillMarked(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "")
	assert.Equal(t, "event:"+EventSnapshotEnd+"\ndata: 0\n", c.nextFrame())
}

// plainWriter is a ResponseWriter without Flush that counts status lines.
type plainWriter struct {
	header      http.Header
	body        strings.Builder
	code        int
	writeHeader int
}

func (w *plainWriter) Header() http.Header { return w.header }

func (w *plainWriter) Write(p []byte) (int, error) {
	if w.writeHeader == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

func (w *plainWriter) WriteHeader(code int) {
	w.writeHeader++
	w.code = code
}

func TestStream_NoFlusherAnswersJSONError(t *testing.T) {
	f := newFixture()
	w := &plainWriter{header: http.Header{}}

	f.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs/stream", nil))

	assert.Equal(t, 1, w.writeHeader, "exactly one status line")
	assert.Equal(t, http.StatusInternalServerError, w.code)
	assert.Contains(t, w.header.Get("Content-Type"), "application/json")
	assert.Contains(t, w.body.String(), "sse_error")
	assert.Equal(t, 0, f.hub.Len())
}

func TestStream_TwoViewersOneLeaves(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	v1 := openStream(t, srv, "")
	v2 := openStream(t, srv, "")
	waitSubscribers(t, f.hub, 2)

	f.commit(entry("third", "GET", 200))
	assert.Equal(t, "third", v1.nextEntry().ID)
	assert.Equal(t, "third", v2.nextEntry().ID)

	_ = v1.resp.Body.Close()
	waitSubscribers(t, f.hub, 1)

	f.commit(entry("fourth", "GET", 200))
	assert.Equal(t, "fourth", v2.nextEntry().ID)
}

func TestStream_Filter(t *testing.T) {
	f := newFixture()
	f.commit(entry("ok", "GET", 200))
	f.commit(entry("bad", "GET", 500))

	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "?filter=status+%3E%3D+500")
	assert.Equal(t, "bad", c.nextEntry().ID)

	waitSubscribers(t, f.hub, 1)
	f.commit(entry("fine", "GET", 204))
	f.commit(entry("worse", "GET", 502))
	assert.Equal(t, "worse", c.nextEntry().ID)
}

func TestStream_InvalidFilter(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/logs/stream?filter=%3D%3D")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.hub.Len())
}

func TestStream_Keepalive(t *testing.T) {
	f := newFixture(WithKeepalive(20 * time.Millisecond))
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.frames:
			if frame == ": keepalive\n" {
				return
			}
			assert.True(t, skipped(frame), "unexpected frame %q", frame)
		case <-deadline:
			t.Fatal("no keepalive received")
		}
	}
}

func TestStream_CloseEndsTails(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	c := openStream(t, srv, "")
	waitSubscribers(t, f.hub, 1)

	f.api.Close()
	f.api.Close()
	waitSubscribers(t, f.hub, 0)

	c.expectNothing(100 * time.Millisecond)
}

// blockingSink holds every send until release is closed.
type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) send(*requestlog.Entry) error {
	<-s.release
	return nil
}

func (s blockingSink) snapshotEnd(int) error { return nil }

func (s blockingSink) keepalive() error { return nil }

func TestTail_SlowViewerDropped(t *testing.T) {
	store := requestlog.NewStore(10)
	hub := requestlog.NewBroadcaster(1)
	api := NewAPI(store, hub)
	store.Add(entry("snap", "GET", 200))

	sub := hub.Subscribe()
	sink := blockingSink{release: make(chan struct{})}

	result := make(chan error, 1)
	go func() { result <- api.tail(context.Background(), sub, nil, 0, sink) }()

	// The viewer is stuck sending the snapshot; the second publish overflows.
	hub.Publish(entry("live1", "GET", 200))
	hub.Publish(entry("live2", "GET", 200))
	assert.Equal(t, 0, hub.Len(), "publish drops the stuck viewer")

	close(sink.release)
	select {
	case err := <-result:
		assert.ErrorIs(t, err, requestlog.ErrSlowSubscriber)
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not return after drop")
	}
}

func TestWebsocket_Tail(t *testing.T) {
	f := newFixture()
	f.commit(entry("old", "GET", 200))

	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/logs/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	var got requestlog.Entry
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "old", got.ID)

	waitSubscribers(t, f.hub, 1)
	f.commit(entry("new", "PUT", 204))
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "new", got.ID)
	assert.Equal(t, "PUT", got.Method)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	waitSubscribers(t, f.hub, 0)
}

func TestWebsocket_ServerClose(t *testing.T) {
	f := newFixture()
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/logs/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()
	waitSubscribers(t, f.hub, 1)

	f.api.Close()

	var got requestlog.Entry
	err = wsjson.Read(ctx, conn, &got)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

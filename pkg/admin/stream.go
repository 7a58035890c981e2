package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kothbackend/kothd/pkg/httputil"
	"github.com/kothbackend/kothd/pkg/requestlog"
	"github.com/kothbackend/kothd/pkg/sse"
)

// errServerClosing ends live tails when the API is closed.
var errServerClosing = errors.New("server shutting down")

// EventSnapshotEnd is the SSE event type sent once the backlog snapshot has
// been written. Its data is the number of snapshot entries sent.
const EventSnapshotEnd = "snapshot-end"

// EventDropped is the final SSE event sent to a viewer that fell behind.
const EventDropped = "dropped"

// tailSink is one live tail transport.
type tailSink interface {
	send(entry *requestlog.Entry) error
	snapshotEnd(n int) error
	keepalive() error
}

// tail streams the snapshot, then live entries, to sink until the client
// goes away, the subscription is dropped, or the API closes. The
// subscription is taken before the snapshot so no entry committed in
// between is lost; entries already in the snapshot are not repeated.
func (a *API) tail(ctx context.Context, sub *requestlog.Subscription, filter *requestlog.Filter, limit int, sink tailSink) error {
	snapshot := a.store.Recent(limit)
	sent := make(map[string]struct{}, len(snapshot))
	n := 0
	for _, e := range snapshot {
		sent[e.ID] = struct{}{}
		if !filter.Match(e) {
			continue
		}
		if err := sink.send(e); err != nil {
			return err
		}
		n++
	}
	if err := sink.snapshotEnd(n); err != nil {
		return err
	}

	ticker := time.NewTicker(a.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.done:
			return errServerClosing
		case <-sub.Done():
			return sub.Err()
		case e := <-sub.C():
			if _, dup := sent[e.ID]; dup {
				delete(sent, e.ID)
				continue
			}
			if !filter.Match(e) {
				continue
			}
			if err := sink.send(e); err != nil {
				return err
			}
			ticker.Reset(a.keepalive)
		case <-ticker.C:
			if err := sink.keepalive(); err != nil {
				return err
			}
		}
	}
}

type sseSink struct {
	stream *sse.Stream
}

func (s sseSink) send(e *requestlog.Entry) error { return s.stream.SendJSON(e) }

func (s sseSink) snapshotEnd(n int) error {
	return s.stream.SendEvent(sse.Event{Type: EventSnapshotEnd, Data: strconv.Itoa(n)})
}

func (s sseSink) keepalive() error { return s.stream.Keepalive() }

// handleStream handles GET {prefix}/stream.
//
// Each entry is one "data: <json>" event. A "snapshot-end" event separates
// the backlog from live entries. When the client falls behind and its
// subscription is dropped, a final "dropped" event is sent so it can
// reconnect.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	filter, ok := compileFilter(w, r)
	if !ok {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_limit", err.Error())
		return
	}

	stream, err := sse.NewStream(w, a.writeTimeout)
	if errors.Is(err, sse.ErrFlusherNotSupported) {
		httputil.WriteError(w, http.StatusInternalServerError, "sse_error", "streaming not supported")
		return
	}
	if err != nil {
		// The event-stream headers are already out.
		a.log.Debug("live tail open failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer stream.Close()

	sub := a.hub.Subscribe()
	defer sub.Close()

	a.log.Debug("live tail opened", "transport", "sse", "remote", r.RemoteAddr, "filter", filter.String())
	err = a.tail(r.Context(), sub, filter, limit, sseSink{stream: stream})
	if errors.Is(err, requestlog.ErrSlowSubscriber) {
		_ = stream.SendEvent(sse.Event{Type: EventDropped, Data: err.Error()})
	}
	a.tailClosed("sse", r, err)
}

type wsSink struct {
	ctx     context.Context
	conn    *websocket.Conn
	timeout time.Duration
}

func (s wsSink) send(e *requestlog.Entry) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, e)
}

// snapshotEnd is a no-op: websocket messages carry entries only.
func (s wsSink) snapshotEnd(int) error { return nil }

func (s wsSink) keepalive() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return s.conn.Ping(ctx)
}

// handleWebsocket handles GET {prefix}/ws. Messages from the client are
// discarded; each entry is sent as one JSON text message.
func (a *API) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	filter, ok := compileFilter(w, r)
	if !ok {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_limit", err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		// Accept has already written the HTTP error.
		a.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// CloseRead keeps reading control frames so Ping gets its pong, and
	// cancels ctx when the client closes.
	ctx := conn.CloseRead(r.Context())

	sub := a.hub.Subscribe()
	defer sub.Close()

	a.log.Debug("live tail opened", "transport", "websocket", "remote", r.RemoteAddr, "filter", filter.String())
	err = a.tail(ctx, sub, filter, limit, wsSink{ctx: ctx, conn: conn, timeout: a.writeTimeout})

	switch {
	case errors.Is(err, requestlog.ErrSlowSubscriber):
		_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
	case errors.Is(err, errServerClosing):
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case err == nil:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	a.tailClosed("websocket", r, err)
}

func (a *API) tailClosed(transport string, r *http.Request, err error) {
	if err == nil || errors.Is(err, errServerClosing) {
		a.log.Debug("live tail closed", "transport", transport, "remote", r.RemoteAddr)
		return
	}
	a.log.Info("live tail ended", "transport", transport, "remote", r.RemoteAddr, "reason", fmt.Sprint(err))
}

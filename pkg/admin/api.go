package admin

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kothbackend/kothd/pkg/logging"
	"github.com/kothbackend/kothd/pkg/metrics"
	"github.com/kothbackend/kothd/pkg/requestlog"
	"github.com/kothbackend/kothd/pkg/sse"
)

// DefaultPrefix is where the viewer routes are mounted.
const DefaultPrefix = "/logs"

// Store is the request log as seen by the viewer.
type Store interface {
	requestlog.Reader
	Clear() int
}

// Hub hands out live subscriptions.
type Hub interface {
	Subscribe() *requestlog.Subscription
	Len() int
}

// API serves the viewer endpoints.
type API struct {
	store    Store
	hub      Hub
	registry *metrics.Registry
	log      *slog.Logger

	prefix       string
	keepalive    time.Duration
	writeTimeout time.Duration
	startTime    time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures an API.
type Option func(*API)

// WithPrefix mounts the viewer routes under prefix instead of DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(a *API) {
		if prefix = strings.TrimRight(prefix, "/"); prefix != "" {
			if !strings.HasPrefix(prefix, "/") {
				prefix = "/" + prefix
			}
			a.prefix = prefix
		}
	}
}

// WithKeepalive sets the idle interval after which live tails send a keepalive.
func WithKeepalive(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.keepalive = d
		}
	}
}

// WithWriteTimeout bounds each write to a live tail client.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// WithMetrics exposes registry on GET /metrics.
func WithMetrics(registry *metrics.Registry) Option {
	return func(a *API) {
		a.registry = registry
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *API) {
		a.log = logging.WithComponent(log, "admin")
	}
}

// NewAPI creates the viewer API over store and hub.
func NewAPI(store Store, hub Hub, opts ...Option) *API {
	a := &API{
		store:        store,
		hub:          hub,
		log:          logging.Nop(),
		prefix:       DefaultPrefix,
		keepalive:    sse.DefaultKeepaliveInterval,
		writeTimeout: sse.DefaultWriteTimeout,
		startTime:    time.Now(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prefix returns the path the viewer routes are mounted under.
func (a *API) Prefix() string { return a.prefix }

// Register adds the viewer routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	p := a.prefix

	mux.HandleFunc("GET "+p, a.handleList)
	mux.HandleFunc("DELETE "+p, a.handleClear)
	mux.HandleFunc("POST "+p+"/clear", a.handleClear)
	mux.HandleFunc("GET "+p+"/stream", a.handleStream)
	mux.HandleFunc("GET "+p+"/ws", a.handleWebsocket)
	mux.HandleFunc("GET "+p+"/{id}", a.handleGet)

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.registry != nil {
		mux.Handle("GET /metrics", a.registry.Handler())
	}
}

// Handler returns a mux serving only the viewer routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

// Close ends every open live tail. http.Server.Shutdown does not interrupt
// streaming responses, so serve registers this with RegisterOnShutdown.
func (a *API) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

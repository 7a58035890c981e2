// Package proxy forwards instrumented traffic to the upstream game backend.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"time"

	"github.com/kothbackend/kothd/pkg/httputil"
	"github.com/kothbackend/kothd/pkg/logging"
)

// ErrInvalidUpstream is returned for an upstream that is not an absolute http(s) URL.
var ErrInvalidUpstream = errors.New("invalid upstream URL")

// Options configures a Proxy.
type Options struct {
	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
	// Logger for upstream failures (nil = no logging)
	Logger *slog.Logger
}

// Proxy is a reverse proxy to a single upstream.
type Proxy struct {
	target *url.URL
	rp     *stdhttputil.ReverseProxy
	log    *slog.Logger
}

// New creates a Proxy forwarding to upstream.
func New(upstream string, opts Options) (*Proxy, error) {
	target, err := url.Parse(upstream)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, upstream)
	}

	p := &Proxy{
		target: target,
		log:    logging.WithComponent(opts.Logger, "proxy"),
	}
	p.rp = &stdhttputil.ReverseProxy{
		Rewrite: func(pr *stdhttputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// Keep the client's Host so virtual-hosted backends route correctly.
			pr.Out.Host = pr.In.Host
		},
		Transport: opts.Transport,
		// Flush immediately so streamed upstream responses stay live.
		FlushInterval: -1,
		ErrorHandler:  p.handleError,
	}
	return p, nil
}

// Target returns the upstream URL.
func (p *Proxy) Target() *url.URL { return p.target }

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) {
		// Client went away; nothing useful can be written.
		return
	}
	p.log.Warn("upstream request failed", "method", r.Method, "path", r.URL.Path, "upstream", p.target.Host, "error", err)
	httputil.WriteError(w, http.StatusBadGateway, "upstream_unavailable", "upstream request failed")
}

// NotFound answers every request with a JSON 404. serve uses it when no
// upstream is configured.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "not_found", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
}

// DefaultTransport returns a transport with the timeouts serve uses for the upstream.
func DefaultTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = 60 * time.Second
	t.MaxIdleConnsPerHost = 32
	return t
}

package admin

import (
	"net/http"
	"time"

	"github.com/kothbackend/kothd/pkg/httputil"
	"github.com/kothbackend/kothd/pkg/requestlog"
)

// ListResponse is the body of GET {prefix}.
type ListResponse struct {
	Entries  []*requestlog.Entry `json:"entries"`
	Count    int                 `json:"count"`
	Total    int                 `json:"total"`
	Capacity int                 `json:"capacity"`
}

// ClearResponse is the body of a clear request.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptimeSeconds"`
	Entries     int     `json:"entries"`
	Subscribers int     `json:"subscribers"`
}

// handleList handles GET {prefix}.
//
// Query Parameters:
//   - limit: maximum number of entries (0 or absent = everything held)
//   - filter: boolean expression evaluated per entry
//
// The limit applies before filtering, so it bounds the scanned window.
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_limit", err.Error())
		return
	}
	filter, ok := compileFilter(w, r)
	if !ok {
		return
	}

	entries := filter.Apply(a.store.Recent(limit))
	httputil.WriteOK(w, ListResponse{
		Entries:  entries,
		Count:    len(entries),
		Total:    a.store.Len(),
		Capacity: a.store.Capacity(),
	})
}

// handleGet handles GET {prefix}/{id}.
func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	entry := a.store.Get(r.PathValue("id"))
	if entry == nil {
		httputil.WriteNotFound(w, "not_found", "no entry with that id")
		return
	}
	httputil.WriteOK(w, entry)
}

// handleClear handles DELETE {prefix} and POST {prefix}/clear.
func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	n := a.store.Clear()
	a.log.Info("request log cleared", "cleared", n, "remote", r.RemoteAddr)
	httputil.WriteOK(w, ClearResponse{Cleared: n})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(a.startTime).Seconds(),
		Entries:     a.store.Len(),
		Subscribers: a.hub.Len(),
	})
}

// compileFilter writes a 400 and reports false for an invalid ?filter=.
func compileFilter(w http.ResponseWriter, r *http.Request) (*requestlog.Filter, bool) {
	filter, err := requestlog.CompileFilter(r.URL.Query().Get("filter"))
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_filter", err.Error())
		return nil, false
	}
	return filter, true
}

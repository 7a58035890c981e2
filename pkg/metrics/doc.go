// Package metrics exposes the traffic subsystem's counters in the Prometheus
// text exposition format (text/plain; version=0.0.4).
//
// Supported metric types:
//   - Counter: monotonically increasing value
//   - Gauge: value that can go up or down
//   - Histogram: distribution of observed values over fixed buckets
//
// All metrics are safe for concurrent use.
//
// # Default Metrics
//
//   - kothd_traffic_entries_total: committed entries (labels: method, status)
//   - kothd_traffic_skipped_total: requests bypassing capture (excluded paths)
//   - kothd_traffic_capture_failures_total: bodies replaced by a placeholder (labels: stage)
//   - kothd_request_duration_seconds: instrumented request latency (labels: method)
//   - kothd_viewer_subscribers: live viewer subscriptions
//   - kothd_viewer_dropped_total: subscribers dropped for falling behind
//   - kothd_store_entries: entries currently held by the store
//
// The package-level variables are nil until Init is called, and every call
// site checks for nil, so libraries embedding package requestlog work
// without metrics.
//
//	registry := metrics.Init()
//	mux.Handle("GET /metrics", registry.Handler())
package metrics

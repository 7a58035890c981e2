package metrics

import "sync"

// Default metrics for the traffic subsystem.
// These are initialized by calling Init().
//
// # Label Conventions
//
//   - method: uppercase HTTP methods (GET, POST, ...)
//   - status: numeric status codes; 0 means the handler panicked before writing
//   - stage: request or response
var (
	// EntriesTotal counts entries committed to the store.
	// Labels: method, status
	EntriesTotal *Counter

	// SkippedTotal counts requests that matched an exclusion and bypassed capture.
	SkippedTotal *Counter

	// CaptureFailuresTotal counts bodies replaced by a placeholder.
	// Labels: stage (request, response)
	CaptureFailuresTotal *Counter

	// RequestDuration tracks instrumented request latency in seconds.
	// Labels: method
	RequestDuration *Histogram

	// Subscribers is the number of live viewer subscriptions.
	Subscribers *Gauge

	// SubscribersDroppedTotal counts subscribers dropped for a full mailbox.
	SubscribersDroppedTotal *Counter

	// StoreEntries is the number of entries currently held by the store.
	StoreEntries *Gauge

	defaultRegistry *Registry
	initOnce        sync.Once
)

// Init initializes the default metrics and returns the registry.
// It is idempotent.
func Init() *Registry {
	initOnce.Do(func() {
		defaultRegistry = NewRegistry()

		EntriesTotal = defaultRegistry.NewCounter(
			"kothd_traffic_entries_total",
			"Total number of captured traffic entries",
			"method", "status",
		)
		SkippedTotal = defaultRegistry.NewCounter(
			"kothd_traffic_skipped_total",
			"Requests excluded from capture",
		)
		CaptureFailuresTotal = defaultRegistry.NewCounter(
			"kothd_traffic_capture_failures_total",
			"Bodies that could not be captured",
			"stage",
		)
		RequestDuration = defaultRegistry.NewHistogram(
			"kothd_request_duration_seconds",
			"Duration of captured requests in seconds",
			DefaultBuckets,
			"method",
		)
		Subscribers = defaultRegistry.NewGauge(
			"kothd_viewer_subscribers",
			"Number of live viewer subscriptions",
		)
		SubscribersDroppedTotal = defaultRegistry.NewCounter(
			"kothd_viewer_dropped_total",
			"Viewer subscriptions dropped for falling behind",
		)
		StoreEntries = defaultRegistry.NewGauge(
			"kothd_store_entries",
			"Entries currently held by the traffic store",
		)

		// Unlabelled series are exposed as 0 from the first scrape.
		_ = SkippedTotal.Add(0)
		_ = Subscribers.Set(0)
		_ = SubscribersDroppedTotal.Add(0)
		_ = StoreEntries.Set(0)
	})

	return defaultRegistry
}

// DefaultRegistry returns the default registry, or nil before Init.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Reset clears the default metrics so Init can run again. Tests only.
func Reset() {
	initOnce = sync.Once{}
	defaultRegistry = nil
	EntriesTotal = nil
	SkippedTotal = nil
	CaptureFailuresTotal = nil
	RequestDuration = nil
	Subscribers = nil
	SubscribersDroppedTotal = nil
	StoreEntries = nil
}

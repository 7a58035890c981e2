// Package requestlog captures HTTP request/response envelopes for live
// inspection of the traffic reaching the game backend.
//
// It is distinct from operational logging (which uses log/slog through
// package logging): entries here are data that viewers read back.
//
// # Components
//
//   - CaptureStream tees every response write to the client and to a
//     bounded buffer, so the handler's output is inspected without being
//     altered.
//   - Store is a fixed-capacity history with FIFO eviction.
//   - Broadcaster fans committed entries out to live subscribers. Each
//     subscriber owns a bounded mailbox; Publish never waits on it, and a
//     subscriber whose mailbox is full is dropped.
//   - Middleware orchestrates one request: exclusion check, request
//     capture, handler invocation through a CaptureStream, response
//     capture, then commit to the Store and the Broadcaster.
//
// # Usage
//
//	store := requestlog.NewStore(1000)
//	hub := requestlog.NewBroadcaster(256)
//	handler := requestlog.NewMiddleware(api, store, hub, requestlog.DefaultOptions())
//	http.ListenAndServe(":8000", handler)
//
// # Ordering
//
// Entries are stored in commit order. Under concurrency a request that
// started earlier may commit later, so iteration order is insertion order
// and is not guaranteed to be sorted by Timestamp.
//
// Besides its library dependencies, this package imports only the kothd
// packages internal/id, pkg/logging and pkg/metrics, so it can be wrapped
// around any handler.
package requestlog

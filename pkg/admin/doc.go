// Package admin serves the traffic viewer API: snapshot reads of the
// request log, live tails over SSE and websocket, lookup by id, and clear.
//
// Endpoints (prefix defaults to /logs):
//
//	GET    /logs            - Snapshot, most recent first (?limit=, ?filter=)
//	GET    /logs/stream     - SSE live tail: snapshot, then live entries
//	GET    /logs/ws         - Websocket live tail, one JSON message per entry
//	GET    /logs/{id}       - A single entry
//	DELETE /logs            - Clear the log
//	POST   /logs/clear      - Clear the log
//	GET    /healthz         - Liveness
//	GET    /metrics         - Prometheus text exposition
//
// The filter parameter is an expression evaluated against each entry:
//
//	curl 'http://localhost:8000/logs?filter=status%20%3E%3D%20500'
//	curl -N 'http://localhost:8000/logs/stream?filter=method%20%3D%3D%20%22POST%22'
package admin

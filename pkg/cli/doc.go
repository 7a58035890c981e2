// Package cli implements the kothd command line: serve runs the
// instrumented front, logs reads and tails the request log of a running
// server, version prints build information.
package cli

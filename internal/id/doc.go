// Package id provides unique identifier generation for traffic log entries.
//
// Entry IDs are UUIDv7 strings: they embed a millisecond timestamp so that
// IDs generated later sort after IDs generated earlier, which keeps the
// log viewer's ordering readable without consulting the timestamp field.
// If the v7 generator fails (entropy source unavailable) a random v4 UUID
// is returned instead, so callers never receive an empty ID.
package id

// Package logging provides structured logging configuration for kothd.
//
// This package wraps log/slog so every component logs the same way. It is
// operational logging only; captured HTTP traffic lives in package traffic.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("server started", "addr", ":8000")
//	logger.Warn("capture failed", "error", err)
//
// Components accept a *slog.Logger in their constructor and tag it with
// WithComponent. If no logger is provided, use logging.Nop().
package logging

// Package logging provides the structured logger used across the service.
//
// It wraps log/slog with JSON or text output, a configurable level, the
// service/version attributes on every record, and redaction of attributes
// named after secrets (password, token, secret, authorization).
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("listening", "addr", addr)
package logging

// Package logging provides structured logging for embedded-vault.
//
// It wraps log/slog with the service defaults used across the tool:
// JSON or text output, level filtering and service/version attributes on
// every record. Core packages take a narrow Logger interface; *Logger
// satisfies all of them.
//
// Configuration comes from the logging section of the config file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	sup.SetLogger(logger.With("component", "supervisor"))
//
// Never log root tokens or unseal keys; log whether they are present.
package logging

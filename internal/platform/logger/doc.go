// Package logger configures the process-wide structured logger.
//
// It builds a log/slog JSON handler at the level named in the server
// configuration and installs it as the slog default.
package logger

// Package main implements the entry point for the vectorize API server,
// which converts raster images to vector graphics through external tools
// behind an asynchronous job API.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/okuzmin/vectorize-api/internal/config"
	"github.com/okuzmin/vectorize-api/internal/platform/logger"
)

// main initializes configuration, logging, error reporting, and the
// application's components, then runs the HTTP server until shutdown.
func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.startHTTPServer(context.Background(), app.setupRouter()); err != nil {
		app.logger.Error("server exited with error", "error", err)
		app.cleanup()
		log.Fatalf("Server error: %v", err)
	}
}

// initializeApp loads configuration and sets up application components.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_backend", cfg.Storage.Backend)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		slog.Info("Error reporting enabled", "environment", cfg.Sentry.Environment)
	}

	return newApplication(cfg, l)
}

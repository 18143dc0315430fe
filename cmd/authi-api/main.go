package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"salulink/authi/internal/app"
	"salulink/authi/internal/config"
	"salulink/authi/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	a, err := app.NewApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		slog.Error("Application error", "error", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging configures slog with the specified log level
func setupLogging(level string) {
	logLevel, ok := observability.ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(observability.NewRequestContextHandler(handler)))
	if !ok {
		slog.Warn("Unknown log level, using info", "level", level)
	}
}

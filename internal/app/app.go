// Package app wires the engine, the HTTP API and the startup loading sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"salulink/authi/authi"
	"salulink/authi/internal/api/handlers"
	"salulink/authi/internal/api/middleware"
	"salulink/authi/internal/config"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// EncoderFactory builds the encoder described by cfg.
type EncoderFactory func(cfg authi.EmbedderConfig) (authi.Encoder, error)

func newOrtEncoder(cfg authi.EmbedderConfig) (authi.Encoder, error) {
	return authi.NewOrtEncoder(cfg, authi.WithEncoderLogger(slog.Default()))
}

// App is the API process: engine service, HTTP server and loader.
type App struct {
	cfg       *config.Config
	engineCfg authi.Config
	service   *authi.Service
	server    *http.Server

	newEncoder EncoderFactory
	cache      *authi.BadgerVectorCache
	loaded     chan struct{}
}

// Option configures an App.
type Option func(*App)

// WithEncoderFactory replaces the ONNX encoder constructor.
func WithEncoderFactory(factory EncoderFactory) Option {
	return func(a *App) {
		if factory != nil {
			a.newEncoder = factory
		}
	}
}

// NewApp reads the engine config and builds the HTTP server. Nothing heavy is
// loaded until Run.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	engineCfg, err := authi.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	if cfg.ConditionsPath != "" {
		engineCfg.ConditionsPath = cfg.ConditionsPath
	}

	a := &App{
		cfg:        cfg,
		engineCfg:  engineCfg,
		service:    authi.NewService(engineCfg, authi.WithLogger(slog.Default())),
		newEncoder: newOrtEncoder,
		loaded:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return a, nil
}

// Service returns the engine service.
func (a *App) Service() *authi.Service {
	return a.service
}

// Loaded is closed once the startup load has finished, successfully or not.
func (a *App) Loaded() <-chan struct{} {
	return a.loaded
}

// Handler builds the routed handler chain:
// RequestID -> Logging -> CORS -> MaxBody -> mux.
func (a *App) Handler() http.Handler {
	health := handlers.NewHealthHandler(a.service)
	analyze := handlers.NewAnalyzeHandler(a.service)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", health.Root)
	mux.HandleFunc("GET /health", health.Check)
	mux.HandleFunc("POST /analyze", analyze.Analyze)

	var handler http.Handler = mux
	handler = middleware.MaxBody(a.cfg.MaxRequestBodyBytes)(handler)
	handler = cors.AllowAll().Handler(handler)
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// Run serves HTTP and loads the model and conditions in the background, then
// blocks until ctx is cancelled or the server fails. The server is shut down
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	loadCtx, cancelLoad := context.WithCancel(ctx)
	defer cancelLoad()

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("server: %w", err)
		}
	}()

	go a.load(loadCtx)

	var err error
	select {
	case err = <-runErr:
	case <-ctx.Done():
	}
	cancelLoad()
	<-a.loaded

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("Server forced to shutdown", "error", shutdownErr)
	}
	a.close()
	slog.Info("Server exited")
	return err
}

// load publishes the encoder, then the reference table. Failures are logged
// and leave the service reporting not loaded; requests get 503 until then.
func (a *App) load(ctx context.Context) {
	defer close(a.loaded)
	start := time.Now()

	enc, err := a.newEncoder(a.engineCfg.Embedder)
	if err != nil {
		slog.Error("Failed to load encoder", "model", a.engineCfg.Embedder.ModelPath, "error", err)
		return
	}
	a.service.PublishEncoder(enc)

	rows, err := authi.ParseConditionFile(a.engineCfg.ConditionsPath, a.engineCfg.Columns)
	if err != nil {
		slog.Error("Failed to read conditions", "path", a.engineCfg.ConditionsPath, "error", err)
		return
	}

	var opts []authi.LoadOption
	if dir := a.engineCfg.Embedder.CacheDir; dir != "" {
		cache, err := authi.OpenVectorCache(dir, false, slog.Default())
		if err != nil {
			slog.Warn("Vector cache unavailable", "dir", dir, "error", err)
		} else {
			a.cache = cache
			opts = append(opts, authi.WithVectorCache(cache))
		}
	}

	if err := a.service.LoadConditions(ctx, rows, opts...); err != nil {
		slog.Error("Failed to build reference table", "error", err)
		return
	}
	slog.Info("Startup load complete", "conditions", len(rows), "duration", time.Since(start))
}

func (a *App) close() {
	if err := a.service.Close(); err != nil {
		slog.Error("Failed to close encoder", "error", err)
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("Failed to close vector cache", "error", err)
		}
	}
}

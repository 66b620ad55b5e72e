// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/segmark/internal/api"
	"github.com/starford/segmark/internal/catalog"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/mcpserver"
	"github.com/starford/segmark/internal/session"
	"github.com/starford/segmark/internal/sse"
	"github.com/starford/segmark/internal/storage"
)

// runtime holds the components shared by the HTTP and MCP entry points.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *catalog.DB
	broker *sse.Broker
	svc    *session.Service
}

func (r *runtime) close() {
	r.broker.Close()
	if err := r.db.Close(); err != nil {
		r.logger.Warn("close catalog", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option, defaultLog io.Writer) (*application, error) {
	app := &application{version: "dev", logOutput: defaultLog}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func setup(app *application) (*runtime, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("images_path", cfg.Images.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("palette", cfg.Palette.Name),
		slog.Int("classes", cfg.Palette.Classes),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Images.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Images.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	codec, err := cfg.Palette.Codec()
	if err != nil {
		return nil, fmt.Errorf("init palette: %w", err)
	}

	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	// Run initial sync.
	if err := catalog.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(2 * time.Second)

	svc, err := session.New(store, db, session.Options{
		Codec:         codec,
		Engine:        engine.New(cfg.Segmentation.Engine(), logger),
		CacheCapacity: cfg.Cache.Capacity,
		Render:        cfg.Render.Options(),
		Axis:          cfg.Annotation.Axis,
		StrokeWidth:   cfg.Annotation.StrokeWidth(),
		Logger:        logger,
		Notifier:      broker,
	})
	if err != nil {
		broker.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init session: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, store: store, db: db, broker: broker, svc: svc}, nil
}

// watch keeps the catalog and the session in step with the images directory.
func (r *runtime) watch(ctx context.Context) error {
	return catalog.Watch(ctx, r.db, r.store, r.cfg.Images.Path, r.logger, func(kind, path string) {
		r.svc.HandleImageEvent(kind, path)
		r.broker.PublishImageEvent(kind, path)
	})
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stdout)
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.watch(gCtx); err != nil {
			logger.Error("catalog watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the annotation tools over MCP stdio. The catalog watcher
// runs alongside until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts, os.Stderr)
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.close()

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := rt.watch(watchCtx); err != nil {
			rt.logger.Error("catalog watcher stopped", slog.String("error", err.Error()))
		}
	}()

	rt.logger.Info("MCP server starting on stdio", slog.String("version", app.version))
	err = mcpserver.New(rt.svc, app.version).ServeStdio()
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

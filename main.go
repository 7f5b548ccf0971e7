// @title        Todo API
// @version      1.0
// @description  CRUD API for todo records.
// @BasePath     /
package main

//go:generate swag init -g main.go -o docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"golang.org/x/sync/errgroup"

	_ "github.com/s1natex/todo-api-GO/docs"
	"github.com/s1natex/todo-api-GO/internal/config"
	"github.com/s1natex/todo-api-GO/internal/middleware"
	"github.com/s1natex/todo-api-GO/internal/telemetry"
	"github.com/s1natex/todo-api-GO/internal/todos"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config_error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger) // for third-party packages that use slog

	if err := run(cfg, logger); err != nil {
		logger.Error("server_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing_shutdown_error", slog.String("error", err.Error()))
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Warn("db_close_error", slog.String("error", err.Error()))
		}
	}()
	logger.Info("store_ready", slog.String("driver", cfg.Database.Driver))

	return serve(ctx, cfg, newRouter(cfg, repo, logger), logger)
}

// openRepository builds the store handle named by database.driver. The
// returned close func releases the connection pool.
func openRepository(ctx context.Context, cfg config.Config) (todos.Repository, func() error, error) {
	if cfg.Database.Driver == "memory" {
		return todos.NewInMemoryRepo(), func() error { return nil }, nil
	}

	dsn := cfg.ConnectionStrings.TodoDb
	if cfg.Database.Driver == todos.DriverSQLite && !strings.HasPrefix(dsn, "file:") {
		var err error
		if dsn, err = todos.SQLiteFileDSN(dsn); err != nil {
			return nil, nil, fmt.Errorf("preparing sqlite path: %w", err)
		}
	}

	store, err := todos.NewSQLStore(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newRouter wires the health endpoint, docs, todo routes, and middleware stack
func newRouter(cfg config.Config, repo todos.Repository, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// ---- Middleware stack (order matters a bit) ----
	// RequestID first so downstream can include it (logger, errors, etc.)
	r.Use(chimw.RequestID)

	// Panic recovery: never crash the server; returns 500 on panics
	r.Use(chimw.Recoverer)

	// Timeouts: cancel handlers that exceed this duration
	r.Use(chimw.Timeout(cfg.HTTP.RequestTimeout))

	// Plain HTTP goes to the TLS listener when one is configured
	httpsAddr := ""
	if cfg.TLSEnabled() {
		httpsAddr = cfg.HTTP.HTTPSAddr
	}
	r.Use(middleware.HTTPSRedirect(httpsAddr))

	// CORS for the known frontend origins, cookies allowed
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Location", "ETag", "X-Request-ID", "Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Use(middleware.RateLimitMiddleware(middleware.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)))
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.MetricsMiddleware)

	// Our structured request logger (now includes req_id).
	r.Use(middleware.RequestLogger(logger))

	// ---- Routes ----

	r.Get("/health", healthHandler(repo))
	r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	if !cfg.IsProduction() {
		r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/swagger/index.html", http.StatusFound)
		})
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	}

	todos.RegisterRoutes(r, repo, logger)

	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(repo todos.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := repo.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "database unavailable"})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// serve runs the HTTP listener, plus the HTTPS one when TLS is configured,
// until ctx is cancelled, then drains both.
func serve(ctx context.Context, cfg config.Config, h http.Handler, logger *slog.Logger) error {
	plain := newServer(cfg.HTTP.Addr, h)
	servers := []*http.Server{plain}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server_listen", slog.String("addr", plain.Addr), slog.String("scheme", "http"))
		return ignoreClosed(plain.ListenAndServe())
	})

	if cfg.TLSEnabled() {
		secure := newServer(cfg.HTTP.HTTPSAddr, h)
		servers = append(servers, secure)
		g.Go(func() error {
			logger.Info("server_listen", slog.String("addr", secure.Addr), slog.String("scheme", "https"))
			return ignoreClosed(secure.ListenAndServeTLS(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			errs = append(errs, s.Shutdown(sctx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/balance-engine/internal/api"
	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/config"
	"github.com/atmx/balance-engine/internal/economy"
	"github.com/atmx/balance-engine/internal/engine"
	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/notify"
	"github.com/atmx/balance-engine/internal/registry"
	"github.com/atmx/balance-engine/internal/scheduler"
	"github.com/atmx/balance-engine/internal/snapshot"
	"github.com/atmx/balance-engine/internal/store"
	"github.com/atmx/balance-engine/internal/tracing"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("CONFIG_PATH", ""), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Tracing ---
	if cfg.Tracing.OTLPEndpoint != "" {
		shutdown, err := tracing.Init(context.Background(), cfg.Tracing.OTLPEndpoint)
		if err != nil {
			slog.Error("tracing init failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, shutdown)
		slog.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	// --- Catalog ---
	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			slog.Error("catalog load failed", "path", cfg.Catalog.Path, "err", err)
			os.Exit(1)
		}
	}
	slog.Info("catalog loaded", "classes", cat.Len())

	// --- Store and faction registry ---
	st, reg, closers, err := openStorage(context.Background(), cfg.Storage)
	if err != nil {
		slog.Error("storage init failed", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closers...)

	codec, err := snapshot.NewCodec(cfg.Storage.Compress)
	if err != nil {
		slog.Error("codec init failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, codec.Close)

	// --- Notifications ---
	hub := notify.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	cleanup = append(cleanup, stopHub)

	sinks := notify.Multi{
		notify.Counted("log", notify.Log{Logger: slog.Default()}),
		notify.Counted("websocket", hub),
	}
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewThrottled(notify.NewWebhook(cfg.Notify.WebhookURL), cfg.Notify.RatePerSecond, cfg.Notify.Burst)
		sinks = append(sinks, notify.Counted("webhook", webhook))
		slog.Info("webhook notifications enabled")
	}

	// --- Engine ---
	eng := engine.New(engine.Options{
		Balance:  cfg.Balance,
		Market:   cfg.Market,
		Economy:  cfg.Economy,
		Catalog:  cat,
		Registry: reg,
		Sink:     sinks,
		Store:    st,
		Codec:    codec,
	})
	if st != nil {
		if err := eng.Load(context.Background()); err != nil {
			slog.Warn("engine state partially loaded", "err", err)
		}
	}

	// --- Scheduler ---
	sched := scheduler.New(eng.Jobs(cfg.Passes)...)
	schedCtx, stopSched := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(schedCtx)
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"balance-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc := api.NewService(eng)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for faction notifications, outside the timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("balance-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	slog.Info("shutting down balance-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopSched()
	<-schedDone
	if err := eng.Flush(cfg.Server.ShutdownTimeout.Duration); err != nil && !errors.Is(err, engine.ErrNoStore) {
		slog.Error("final save failed", "err", err)
	}
	fmt.Println("balance-engine stopped")
}

func newLogger(c config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level, AddSource: c.AddSource}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// openStorage selects the persistence backend. The memory driver returns a
// nil store: nothing would survive a restart, so persistence is disabled.
func openStorage(ctx context.Context, c config.StorageConfig) (store.Store, economy.FactionRegistry, []func(), error) {
	var (
		st      store.Store
		reg     economy.FactionRegistry = registry.NewMemory()
		closers []func()
	)

	switch c.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, c.DSN)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("database connection failed: %w", err)
		}
		closers = append(closers, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, nil, closers, fmt.Errorf("migrate: %w", err)
		}
		st = pg
		reg = store.NewPostgresRegistry(pool)
		slog.Info("connected to PostgreSQL")
	case "sqlite":
		lite, err := store.OpenSQLite(c.DSN)
		if err != nil {
			return nil, nil, closers, err
		}
		closers = append(closers, func() { lite.Close() })
		st = lite
		slog.Info("opened SQLite store", "path", c.DSN)
	default:
		slog.Warn("storage driver is memory, engine state will not persist")
		return nil, reg, closers, nil
	}

	// Wrap with Redis read-through cache if configured.
	if c.RedisURL != "" {
		opt, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, nil, closers, errors.Join(errors.New("invalid REDIS_URL"), err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, c.CacheTTL.Duration)
		slog.Info("Redis cache enabled")
	}
	return st, reg, closers, nil
}

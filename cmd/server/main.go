package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/sabr-engine/internal/calibrate"
	"github.com/atmx/sabr-engine/internal/config"
	"github.com/atmx/sabr-engine/internal/engine"
	"github.com/atmx/sabr-engine/internal/metrics"
	"github.com/atmx/sabr-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadWithEnv()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Database.Migrate {
			if err := pg.Migrate(context.Background()); err != nil {
				slog.Error("database migration failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Calibrator ---
	calOpts := []calibrate.Option{calibrate.WithSettings(cfg.Calibration.Solver)}
	if cfg.Calibration.Workers > 0 {
		calOpts = append(calOpts, calibrate.WithWorkers(cfg.Calibration.Workers))
	}
	cal, err := calibrate.New(cfg.Model.Beta, calOpts...)
	if err != nil {
		slog.Error("invalid calibration settings", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := engine.NewWSHub()
	go wsHub.Run(hubCtx)

	// --- Engine service ---
	cf, sf := cfg.Model.CapFallback, cfg.Model.SurfaceFallback
	svc := engine.NewService(st, cal, engine.Options{
		DefaultBeta:     cfg.Model.Beta,
		DefaultRate:     cfg.Model.DefaultRate,
		CapFallback:     [3]float64{cf.Alpha, cf.Rho, cf.Nu},
		SurfaceFallback: [3]float64{sf.Alpha, sf.Rho, sf.Nu},
	}, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"sabr-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for calibration and pricing events. Registered
	// outside the timeout group so long-lived connections are not cut.
	r.Get("/ws", wsHub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("sabr-engine listening",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"beta", cfg.Model.Beta,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down sabr-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopHub()
	fmt.Println("sabr-engine stopped")
}

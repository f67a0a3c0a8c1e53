package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"github.com/iwadha/solana-dashboard/internal/aggregator"
	"github.com/iwadha/solana-dashboard/internal/api"
	"github.com/iwadha/solana-dashboard/internal/config"
	"github.com/iwadha/solana-dashboard/internal/database"
	"github.com/iwadha/solana-dashboard/internal/metrics"
	"github.com/iwadha/solana-dashboard/internal/query"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func main() {
	app := &cli.App{
		Name:  "solana-dashboard",
		Usage: "Meteora DLMM wallet dashboard backend",
		Before: func(c *cli.Context) error {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
			return nil
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:      "sync",
				Usage:     "sync one wallet and print the result",
				ArgsUsage: "<wallet>",
				Action:    syncOnce,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations and exit",
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	agg := aggregator.New(deps.provider, deps.store, deps.locker, aggregator.Options{
		CategoryTimeout:   cfg.Sync.CategoryTimeout,
		DeriveUnavailable: cfg.Sync.DeriveUnavailable,
	})
	agg.SetNotifier(wsHub)

	h := api.NewHandler(query.New(deps.store), agg)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"solana-dashboard"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for sync notifications; kept out of the
		// timeout group so connections outlive a request deadline.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(90 * time.Second))
			h.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("solana-dashboard listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down solana-dashboard...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("solana-dashboard stopped")
	return nil
}

func syncOnce(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: solana-dashboard sync <wallet>", 2)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	agg := aggregator.New(deps.provider, deps.store, deps.locker, aggregator.Options{
		CategoryTimeout:   cfg.Sync.CategoryTimeout,
		DeriveUnavailable: cfg.Sync.DeriveUnavailable,
	})
	res, err := agg.SyncWallet(ctx, c.Args().First())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return cli.Exit("DATABASE_URL is required for migrate", 2)
	}
	pool, err := database.Connect(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return database.RunMigrations(c.Context, pool, migrations())
}

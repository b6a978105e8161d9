package main

import (
	"context"
	"errors"
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
	"github.com/shopspring/decimal"

	"github.com/cashoutai/tradedesk/internal/chat"
	"github.com/cashoutai/tradedesk/internal/config"
	"github.com/cashoutai/tradedesk/internal/limits"
	"github.com/cashoutai/tradedesk/internal/metrics"
	"github.com/cashoutai/tradedesk/internal/pricefeed"
	"github.com/cashoutai/tradedesk/internal/store"
	"github.com/cashoutai/tradedesk/internal/trade"
	"github.com/cashoutai/tradedesk/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(config.NewLogger(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Price oracle ---
	prices, fallback := pricefeed.DefaultPrices(), decimal.NewFromInt(100)
	if cfg.PriceTable != "" {
		prices, fallback, err = pricefeed.LoadTable(cfg.PriceTable)
		if err != nil {
			slog.Error("price table load failed", "path", cfg.PriceTable, "err", err)
			os.Exit(1)
		}
		slog.Info("price table loaded", "path", cfg.PriceTable, "symbols", len(prices))
	}
	var oracle pricefeed.Oracle = pricefeed.NewMockOracle(prices, fallback, cfg.PriceJitterPct, time.Now().UnixNano())
	oracle = pricefeed.RateLimited(oracle, cfg.OracleRPS, cfg.OracleBurst)
	oracle = pricefeed.WithTimeout(oracle, cfg.OracleTimeout)

	// --- Users ---
	userSvc := users.NewService(st)
	if cfg.AdminPassword != "" {
		if _, err := userSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword, cfg.AdminEmail); err != nil {
			slog.Error("admin seed failed", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("ADMIN_PASSWORD not set, no admin account seeded")
	}

	// --- WebSocket hub and chat ---
	hub := chat.NewHub(userSvc)
	go hub.Run(ctx)
	chatSvc := chat.NewService(st, hub, cfg.ChatHistoryLimit)

	// --- Trade service ---
	limiter := limits.NewExposureLimiter(cfg.MaxSharesPerSymbol, cfg.MaxGrossExposure)
	tradeSvc := trade.NewService(st, oracle, limiter, hub, cfg.RefreshConcurrency)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tradedesk"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	chatHandler := chat.NewHandler(chatSvc, hub)
	r.Route("/api", func(r chi.Router) {
		chatHandler.WSRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			users.NewHandler(userSvc).Routes(r)
			chatHandler.Routes(r)
			trade.NewHandler(tradeSvc).Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("tradedesk listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down tradedesk...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("tradedesk stopped")
}

// openStore picks PostgreSQL (optionally behind Redis), then SQLite, then
// the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
		return st, closeAll, nil

	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
		return lite, func() { lite.Close() }, nil

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}
}

package main

import (
	"context"
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

	"github.com/attnx/tournament-engine/internal/account"
	"github.com/attnx/tournament-engine/internal/archive"
	"github.com/attnx/tournament-engine/internal/catalog"
	"github.com/attnx/tournament-engine/internal/config"
	"github.com/attnx/tournament-engine/internal/metrics"
	"github.com/attnx/tournament-engine/internal/scheduler"
	"github.com/attnx/tournament-engine/internal/score"
	"github.com/attnx/tournament-engine/internal/settlement"
	"github.com/attnx/tournament-engine/internal/store"
	"github.com/attnx/tournament-engine/internal/tournament"
	"github.com/attnx/tournament-engine/internal/trade"
	"github.com/attnx/tournament-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and optionally live scores) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Scores ---
	var provider score.Provider
	switch cfg.ScoreSource {
	case config.ScoreSourceHTTP:
		provider = score.NewHTTPProvider(cfg.ScoreAPIURL, &http.Client{Timeout: cfg.ScoreTimeout})
		slog.Info("score source: HTTP", "url", cfg.ScoreAPIURL)
	case config.ScoreSourceRedis:
		provider = score.NewRedisProvider(rdb)
		slog.Info("score source: Redis")
	default:
		slog.Warn("score source: in-memory (no live scores)")
		provider = score.NewMemoryProvider()
	}
	scores := score.NewFetcher(provider, cfg.ScoreTimeout, cfg.ScoreAttempts)

	var history score.History = score.NewMemoryHistory()
	if cfg.ClickHouseURL != "" {
		conn, err := score.OpenClickHouse(ctx, cfg.ClickHouseURL)
		if err != nil {
			slog.Error("clickhouse connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { conn.Close() })
		ch := score.NewClickHouseHistory(conn)
		if err := ch.EnsureSchema(ctx); err != nil {
			slog.Error("clickhouse schema failed", "err", err)
			os.Exit(1)
		}
		history = ch
		slog.Info("score history: ClickHouse")
	}

	// --- Wallet ---
	var w wallet.Wallet
	if cfg.WalletAPIURL != "" {
		w = wallet.NewHTTPWallet(cfg.WalletAPIURL, cfg.WalletAPIToken)
		slog.Info("wallet: HTTP", "url", cfg.WalletAPIURL)
	} else {
		slog.Warn("WALLET_API_URL not set, using in-memory wallet")
		w = wallet.NewMemoryWallet()
	}

	// --- Settlement archive ---
	var archiver settlement.Archiver
	if cfg.Archive.Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			slog.Error("archive setup failed", "err", err)
			os.Exit(1)
		}
		archiver = a
		slog.Info("settlement archive enabled", "bucket", cfg.Archive.Bucket)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Services ---
	cat := catalog.New(st)
	accounts := account.NewManager(st, w, nil)
	trades := trade.NewService(st, cat, scores, wsHub, nil)
	tournaments := tournament.NewManager(st, cfg.Defaults, nil, wsHub, nil)
	engine := settlement.NewEngine(st, scores, w, archiver, wsHub, nil)

	sched, err := scheduler.New(st, tournaments, engine, cfg.SweepInterval, nil)
	if err != nil {
		slog.Error("scheduler setup failed", "err", err)
		os.Exit(1)
	}
	tournaments.SetPlanner(sched)
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, func() {
		if err := sched.Shutdown(); err != nil {
			slog.Error("scheduler shutdown error", "err", err)
		}
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tournament-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		catalog.NewHandler(cat, scores, history).Routes(r)
		tournaments.Routes(r)
		accounts.Routes(r)
		trades.Routes(r)
		engine.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("tournament-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down tournament-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("tournament-engine stopped")
}

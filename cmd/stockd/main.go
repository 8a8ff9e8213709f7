package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spok95/stock-ledger/internal/cache"
	"github.com/Spok95/stock-ledger/internal/calendar"
	"github.com/Spok95/stock-ledger/internal/config"
	"github.com/Spok95/stock-ledger/internal/domain/audit"
	"github.com/Spok95/stock-ledger/internal/domain/ledger"
	"github.com/Spok95/stock-ledger/internal/domain/materials"
	"github.com/Spok95/stock-ledger/internal/domain/settings"
	"github.com/Spok95/stock-ledger/internal/infra/db"
	httpx "github.com/Spok95/stock-ledger/internal/infra/http"
	"github.com/Spok95/stock-ledger/internal/infra/logger"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/subosito/gotenv"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

// connectRedis не блокирует старт: без Redis работаем на одном процессном тире.
func connectRedis(ctx context.Context, cfg config.Config, log *slog.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, remote cache tier disabled", "addr", cfg.Redis.Addr, "err", err)
		return nil
	}
	log.Info("redis connected", "addr", cfg.Redis.Addr)
	return rdb
}

func main() {
	_ = gotenv.Load()

	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	cal, err := calendar.NewBusiness(cfg.App.Timezone)
	if err != nil {
		log.Error("calendar init failed", "err", err)
		return
	}

	mem := cache.NewMemory(nil)
	mem.StartSweep(cfg.Cache.SweepInterval)
	defer mem.StopSweep()

	remote := cache.NewRemote(connectRedis(ctx, cfg, log), cfg.Redis.MinTTL, log)
	tiered := cache.NewTiered(mem, remote)
	inv := cache.NewInvalidator(mem, remote, log)

	settingsSvc := settings.NewService(settings.NewRepo(pool), tiered, inv, cfg.Cache.CatalogTTL, cfg.Stock.LowThreshold)
	auditSvc := audit.NewService(audit.NewRepo(pool), tiered, inv, cfg.Cache.QueryTTL)
	ledgerSvc := ledger.NewService(
		materials.NewRepo(pool),
		ledger.NewRepo(pool),
		settingsSvc,
		auditSvc,
		tiered,
		inv,
		cal,
		ledger.TTL{Catalog: cfg.Cache.CatalogTTL, Listing: cfg.Cache.ListingTTL},
		log,
	)

	// ленивый перенос остатков: доводим сегодняшний день при старте
	if inserted, err := ledgerSvc.InitializeDate(ctx, ""); err != nil {
		log.Error("day initialization failed", "err", err)
	} else if inserted > 0 {
		log.Info("day initialized", "day", cal.Today(), "inserted", inserted)
	}

	api := &httpx.API{Ledger: ledgerSvc, Settings: settingsSvc, Audit: auditSvc, Log: log}
	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, api)
	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}

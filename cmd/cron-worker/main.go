package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrilink/agrilink-backend/internal/cron"
	"github.com/agrilink/agrilink-backend/internal/inventory"
	"github.com/agrilink/agrilink-backend/internal/listings"
	"github.com/agrilink/agrilink-backend/internal/purchases"
	"github.com/agrilink/agrilink-backend/internal/ratelimit"
	"github.com/agrilink/agrilink-backend/internal/settings"
	"github.com/agrilink/agrilink-backend/internal/users"
	"github.com/agrilink/agrilink-backend/internal/wallet"
	"github.com/agrilink/agrilink-backend/pkg/auth/session"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db"
	"github.com/agrilink/agrilink-backend/pkg/logger"
	"github.com/agrilink/agrilink-backend/pkg/metrics"
	"github.com/agrilink/agrilink-backend/pkg/migrate"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/redis"
)

const lockKeyFormat = "agrilink:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, dbClient, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire cron jobs", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	go serveMetrics(ctx, cfg.Cron.MetricsPort, logg)

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client, logg *logger.Logger) (*cron.Registry, error) {
	conn := dbClient.DB()
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)
	userRepo := users.NewRepository(conn)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return nil, err
	}
	userSvc, err := users.NewService(users.ServiceParams{
		Repo:           userRepo,
		Tx:             dbClient,
		SessionManager: sessionManager,
		Outbox:         publisher,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		return nil, err
	}
	settingsSvc, err := settings.NewService(dbClient, settings.NewRepository(conn), userSvc, publisher)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewService(ratelimit.NewRepository(conn), cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Tx:      dbClient,
		Repo:    wallet.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Outbox:  publisher,
	})
	if err != nil {
		return nil, err
	}
	listingSvc, err := listings.NewService(listings.ServiceParams{
		Tx:      dbClient,
		Repo:    listings.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Users:   userRepo,
	})
	if err != nil {
		return nil, err
	}
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Tx:       dbClient,
		Repo:     inventory.NewRepository(conn),
		Gate:     settingsSvc,
		Wallet:   walletSvc,
		Listings: listingSvc,
		Admins:   userSvc,
		Outbox:   publisher,
	})
	if err != nil {
		return nil, err
	}
	purchaseSvc, err := purchases.NewService(purchases.ServiceParams{
		Tx:      dbClient,
		Repo:    purchases.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Wallet:  walletSvc,
		Outbox:  publisher,
	})
	if err != nil {
		return nil, err
	}

	lateDeliveries, err := cron.NewLateDeliveryJob(logg, inventorySvc.MarkLateDeliveries)
	if err != nil {
		return nil, err
	}
	overduePickups, err := cron.NewOverduePickupJob(logg, purchaseSvc.MarkOverduePickups)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(lateDeliveries, overduePickups, retention), nil
}

func serveMetrics(ctx context.Context, port string, logg *logger.Logger) {
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

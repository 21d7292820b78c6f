package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/agrilink/agrilink-backend/api/routes"
	"github.com/agrilink/agrilink-backend/internal/exposure"
	"github.com/agrilink/agrilink-backend/internal/gateway"
	"github.com/agrilink/agrilink-backend/internal/inventory"
	"github.com/agrilink/agrilink-backend/internal/listings"
	"github.com/agrilink/agrilink-backend/internal/negotiations"
	"github.com/agrilink/agrilink-backend/internal/purchases"
	"github.com/agrilink/agrilink-backend/internal/ratelimit"
	"github.com/agrilink/agrilink-backend/internal/settings"
	"github.com/agrilink/agrilink-backend/internal/trading"
	"github.com/agrilink/agrilink-backend/internal/users"
	"github.com/agrilink/agrilink-backend/internal/wallet"
	"github.com/agrilink/agrilink-backend/pkg/auth/session"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db"
	"github.com/agrilink/agrilink-backend/pkg/logger"
	"github.com/agrilink/agrilink-backend/pkg/migrate"
	"github.com/agrilink/agrilink-backend/pkg/outbox"
	"github.com/agrilink/agrilink-backend/pkg/redis"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// gatewayDedupeTTL covers the payment gateway's retry horizon. The ledger's
// unique external_ref index is the durable backstop behind it.
const gatewayDedupeTTL = 7 * 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	svcs, err := buildServices(cfg, dbClient, redisClient, sessionManager, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, sessionManager, svcs),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildServices(
	cfg *config.Config,
	dbClient *db.Client,
	redisClient *redis.Client,
	sessionManager *session.Manager,
	logg *logger.Logger,
) (routes.Services, error) {
	conn := dbClient.DB()
	publisher := outbox.NewService(outbox.NewRepository(conn), logg)
	userRepo := users.NewRepository(conn)

	userSvc, err := users.NewService(users.ServiceParams{
		Repo:           userRepo,
		Tx:             dbClient,
		SessionManager: sessionManager,
		Outbox:         publisher,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		return routes.Services{}, err
	}

	registerSvc, err := users.NewRegisterService(users.RegisterServiceParams{
		TxRunner:       dbClient,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return routes.Services{}, err
	}

	settingsSvc, err := settings.NewService(dbClient, settings.NewRepository(conn), userSvc, publisher)
	if err != nil {
		return routes.Services{}, err
	}

	limiter, err := ratelimit.NewService(ratelimit.NewRepository(conn), cfg.RateLimit)
	if err != nil {
		return routes.Services{}, err
	}

	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Tx:      dbClient,
		Repo:    wallet.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Outbox:  publisher,
	})
	if err != nil {
		return routes.Services{}, err
	}

	listingSvc, err := listings.NewService(listings.ServiceParams{
		Tx:      dbClient,
		Repo:    listings.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Users:   userRepo,
	})
	if err != nil {
		return routes.Services{}, err
	}

	negotiationSvc, err := negotiations.NewService(negotiations.ServiceParams{
		Tx:      dbClient,
		Repo:    negotiations.NewRepository(conn),
		Gate:    settingsSvc,
		Limiter: limiter,
		Users:   userRepo,
	})
	if err != nil {
		return routes.Services{}, err
	}

	calculator, err := exposure.NewCalculator(conn, settingsSvc)
	if err != nil {
		return routes.Services{}, err
	}

	tradingSvc, err := trading.NewService(trading.ServiceParams{
		Tx:       dbClient,
		Repo:     trading.NewRepository(conn),
		Gate:     settingsSvc,
		Limiter:  limiter,
		Wallet:   walletSvc,
		Exposure: calculator,
		Listings: listingSvc,
		Outbox:   publisher,
	})
	if err != nil {
		return routes.Services{}, err
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
		return routes.Services{}, err
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
		return routes.Services{}, err
	}

	gatewaySvc, err := gateway.NewService(func(ctx context.Context, userID uuid.UUID, amountCents int64, externalRef string) error {
		_, err := walletSvc.Deposit(ctx, userID, amountCents, externalRef)
		return err
	})
	if err != nil {
		return routes.Services{}, err
	}

	guard, err := gateway.NewIdempotencyGuard(redisClient, gatewayDedupeTTL, "gateway")
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Users:        userSvc,
		Register:     registerSvc,
		Wallet:       walletSvc,
		Listings:     listingSvc,
		Negotiations: negotiationSvc,
		Trading:      tradingSvc,
		Inventory:    inventorySvc,
		Purchases:    purchaseSvc,
		Settings:     settingsSvc,
		RateLimits:   limiter,
		Exposure:     calculator,
		Gateway:      gatewaySvc,
		GatewayGuard: guard,
	}, nil
}

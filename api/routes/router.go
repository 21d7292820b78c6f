package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrilink/agrilink-backend/api/controllers"
	webhookcontrollers "github.com/agrilink/agrilink-backend/api/controllers/webhooks"
	"github.com/agrilink/agrilink-backend/api/middleware"
	"github.com/agrilink/agrilink-backend/internal/exposure"
	"github.com/agrilink/agrilink-backend/internal/gateway"
	inventorysvc "github.com/agrilink/agrilink-backend/internal/inventory"
	listingsvc "github.com/agrilink/agrilink-backend/internal/listings"
	negotiationsvc "github.com/agrilink/agrilink-backend/internal/negotiations"
	purchasesvc "github.com/agrilink/agrilink-backend/internal/purchases"
	ratelimitsvc "github.com/agrilink/agrilink-backend/internal/ratelimit"
	settingsvc "github.com/agrilink/agrilink-backend/internal/settings"
	tradingsvc "github.com/agrilink/agrilink-backend/internal/trading"
	"github.com/agrilink/agrilink-backend/internal/users"
	walletsvc "github.com/agrilink/agrilink-backend/internal/wallet"
	"github.com/agrilink/agrilink-backend/pkg/auth/session"
	"github.com/agrilink/agrilink-backend/pkg/config"
	"github.com/agrilink/agrilink-backend/pkg/db"
	"github.com/agrilink/agrilink-backend/pkg/enums"
	"github.com/agrilink/agrilink-backend/pkg/logger"
	"github.com/agrilink/agrilink-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

// Services bundles the domain services the router exposes.
type Services struct {
	Users        users.Service
	Register     users.RegisterService
	Wallet       walletsvc.Service
	Listings     listingsvc.Service
	Negotiations negotiationsvc.Service
	Trading      tradingsvc.Service
	Inventory    inventorysvc.Service
	Purchases    purchasesvc.Service
	Settings     settingsvc.Service
	RateLimits   ratelimitsvc.Service
	Exposure     exposure.Calculator
	Gateway      *gateway.Service
	GatewayGuard *gateway.IdempotencyGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessions sessionManager,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.Burst.Window,
		cfg.Burst.LoginLimit,
		cfg.Burst.LoginLimit,
	)
	webhookPolicy := middleware.NewAuthRateLimitPolicy(
		"webhook",
		cfg.Burst.Window,
		cfg.Burst.WebhookLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/login", controllers.AuthLogin(svcs.Users, logg))
		r.With(middleware.AuthRateLimit(loginPolicy, redisClient, logg)).Post("/register", controllers.AuthRegister(svcs.Register, logg))
		r.Post("/logout", controllers.AuthLogout(sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(sessions, cfg.JWT, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(webhookPolicy, redisClient, logg)).
			Post("/payments", webhookcontrollers.PaymentWebhook(svcs.Gateway, svcs.GatewayGuard, cfg.Gateway.WebhookSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/me", controllers.AuthMe(svcs.Users, logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", controllers.WalletBalance(svcs.Wallet, logg))
			r.Get("/statement", controllers.WalletStatement(svcs.Wallet, logg))
			r.Post("/withdraw", controllers.WalletWithdraw(svcs.Wallet, logg))
		})

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", controllers.ListingIndex(svcs.Listings, logg))
			r.Post("/", controllers.ListingCreate(svcs.Listings, logg))
			r.Get("/{listingID}", controllers.ListingShow(svcs.Listings, logg))
		})

		r.Route("/negotiations", func(r chi.Router) {
			r.Post("/offers", controllers.NegotiationOffer(svcs.Negotiations, logg))
			r.Get("/{negotiationID}", controllers.NegotiationShow(svcs.Negotiations, logg))
			r.Get("/{negotiationID}/history", controllers.NegotiationHistory(svcs.Negotiations, logg))
			r.Post("/{negotiationID}/counter", controllers.NegotiationCounter(svcs.Negotiations, logg))
			r.Post("/{negotiationID}/accept", controllers.NegotiationAccept(svcs.Negotiations, logg))
			r.Post("/{negotiationID}/reject", controllers.NegotiationReject(svcs.Negotiations, logg))
		})

		r.Post("/trading/units/{unitID}/lock", controllers.TradingLockUnit(svcs.Trading, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/mine", controllers.InventoryMine(svcs.Inventory, logg))
			r.Get("/blocks", controllers.InventoryBlocks(svcs.Inventory, logg))
			r.Post("/units/{unitID}/confirm-delivery", controllers.InventoryConfirmDelivery(svcs.Inventory, logg))
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", controllers.PurchaseIndex(svcs.Purchases, logg))
			r.Post("/", controllers.PurchaseCreate(svcs.Purchases, logg))
			r.Post("/{purchaseID}/pickup", controllers.PurchaseConfirmPickup(svcs.Purchases, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
			r.Get("/settings", controllers.AdminSettings(svcs.Settings, logg))
			r.Post("/settings/pilot-mode", controllers.AdminSetPilotMode(svcs.Settings, logg))
			r.Post("/settings/purchase-window", controllers.AdminSetPurchaseWindow(svcs.Settings, logg))
			r.Put("/traders/{traderID}/spend-cap", controllers.AdminSetSpendCap(svcs.Users, logg))
			r.Get("/traders/{traderID}/exposure", controllers.AdminTraderExposure(svcs.Users, svcs.Exposure, logg))
			r.Get("/rate-limit-hits", controllers.AdminRateLimitHits(svcs.RateLimits, logg))
			r.Post("/units/{unitID}/cancel-lock", controllers.AdminCancelLock(svcs.Inventory, logg))
		})
	})

	return r
}

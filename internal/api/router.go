package api

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sewapay/paycore/internal/api/handler"
	"github.com/sewapay/paycore/internal/api/middleware"
	"github.com/sewapay/paycore/internal/api/spec"
	"github.com/sewapay/paycore/internal/config"
	"github.com/sewapay/paycore/internal/domain"
	"github.com/sewapay/paycore/internal/idempotency"
	"github.com/sewapay/paycore/internal/service"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the service layer handed to the router.
type Services struct {
	Wallets  *service.WalletService
	Exchange *service.ExchangeService
	Refunds  *service.RefundService
	Cards    *service.CardService
	Intents  *service.IntentService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redis redis.Cmdable, idemStore *idempotency.Store, services Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redis,
		idemStore: idemStore,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chiMiddleware.RealIP)

	idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	walletHandler := handler.NewWalletHandler(api.services.Wallets)
	exchangeHandler := handler.NewExchangeHandler(api.services.Exchange)
	refundHandler := handler.NewRefundHandler(api.services.Refunds)
	cardHandler := handler.NewCardHandler(api.services.Cards)
	intentHandler := handler.NewIntentHandler(api.services.Intents)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/healthz", healthHandler.Live)
		r.Get("/readyz", healthHandler.Ready)
		r.Get("/docs/openapi.yaml", spec.OpenAPIHandler())
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/openapi.yaml")))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Wallets
		r.Post("/v1/wallets", walletHandler.EnsureWallet)
		r.Get("/v1/wallets", walletHandler.ListWallets)
		r.Get("/v1/wallets/{id}/balance", walletHandler.GetBalance)
		r.Get("/v1/wallets/{id}/statement", walletHandler.GetStatement)

		// Exchange
		r.Get("/v1/exchange/quote", exchangeHandler.GetQuote)
		r.Get("/v1/exchange/usage", exchangeHandler.GetUsage)
		r.With(idem).Post("/v1/exchange", exchangeHandler.Execute)
		r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/v1/exchange/rates", exchangeHandler.SetRate)

		// Refund escrow
		r.With(idem).Post("/v1/refunds", refundHandler.Create)
		r.Get("/v1/refunds/{id}", refundHandler.Get)
		r.Post("/v1/refunds/{id}/cancel", refundHandler.Cancel)
		r.With(middleware.RequireRole(domain.RoleService, domain.RoleAdmin)).
			Post("/v1/refunds/sweep", refundHandler.Sweep)

		// Cards
		r.Post("/v1/cards", cardHandler.Request)
		r.Get("/v1/cards", cardHandler.List)
		r.Get("/v1/cards/{id}", cardHandler.Get)
		r.Get("/v1/cards/{id}/transactions", cardHandler.Transactions)
		r.Post("/v1/cards/{id}/activate", cardHandler.Activate)
		r.Post("/v1/cards/{id}/freeze", cardHandler.Freeze)
		r.Post("/v1/cards/{id}/unfreeze", cardHandler.Unfreeze)
		r.Post("/v1/cards/{id}/block", cardHandler.Block)
		r.Post("/v1/cards/{id}/cancel", cardHandler.Cancel)
		r.Put("/v1/cards/{id}/limits", cardHandler.UpdateLimits)
		r.With(middleware.RequireRole(domain.RoleService, domain.RoleAdmin)).
			Post("/v1/cards/authorize", cardHandler.Authorize)
		r.Post("/v1/cards/lookup", cardHandler.Lookup)
		r.With(middleware.RequireRole(domain.RoleAdmin)).
			Post("/v1/merchants", cardHandler.RegisterMerchant)

		// Payment intents
		r.With(idem).Post("/v1/payment-intents", intentHandler.Create)
		r.Get("/v1/payment-intents/{id}", intentHandler.Get)
		r.Get("/v1/payment-intents/{id}/events", intentHandler.Events)
		r.Get("/v1/payment-intents/qr/{qr}", intentHandler.GetByQR)
		r.Post("/v1/payment-intents/confirm", intentHandler.Confirm)
		r.Post("/v1/payment-intents/{id}/capture", intentHandler.Capture)
		r.Post("/v1/payment-intents/{id}/cancel", intentHandler.Cancel)
		r.With(middleware.RequireRole(domain.RoleService, domain.RoleAdmin)).
			Post("/v1/payment-intents/{id}/complete", intentHandler.Complete)
	})

	return r
}

package handlers

import (
	"net/http"

	"stocksim/internal/config"
	"stocksim/internal/db"
	"stocksim/internal/metrics"
	"stocksim/internal/middleware"
	"stocksim/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	txRunner    db.TxRunner
	cfg         config.Config
	users       UserStore
	wallets     WalletStore
	stocks      StockCatalog
	purchases   PurchaseLog
	events      EventLog
	market      MarketService
	purchaseSvc PurchaseService
	auctions    AuctionService
	estimations EstimationQueue
	hub         *websocket.Hub
}

func New(txRunner db.TxRunner, cfg config.Config, users UserStore, wallets WalletStore, stocks StockCatalog, purchases PurchaseLog, events EventLog, market MarketService, purchaseSvc PurchaseService, auctions AuctionService, estimations EstimationQueue, hub *websocket.Hub) *Handler {
	return &Handler{
		txRunner:    txRunner,
		cfg:         cfg,
		users:       users,
		wallets:     wallets,
		stocks:      stocks,
		purchases:   purchases,
		events:      events,
		market:      market,
		purchaseSvc: purchaseSvc,
		auctions:    auctions,
		estimations: estimations,
		hub:         hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(metrics.Middleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	router.Get("/stocks", h.ListStocks)
	router.Get("/stocks/{symbol}", h.GetStock)
	router.Get("/stocks/{symbol}/history", h.StockHistory)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/stocks/buy", h.BuyStock)

	// The gateway redirects the buyer's browser here; no session survives
	// the round trip, so the route stays public.
	router.Get("/webpay/return", h.WebpayReturn)
	router.Post("/webpay/return", h.WebpayReturn)

	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/purchases", h.ListPurchases)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/purchases/{requestID}", h.GetPurchase)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/wallet", h.GetWallet)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/wallet/deposit", h.Deposit)

	router.Route("/auctions", func(r chi.Router) {
		r.Get("/", h.ListAuctions)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.cfg.JWTSecret), middleware.RequireAdmin)
			r.Post("/", h.CreateAuction)
			r.Post("/{auctionID}/proposals", h.ProposeExchange)
			r.Post("/{auctionID}/proposals/{proposalID}/response", h.RespondProposal)
		})
	})

	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/estimations", h.CreateEstimation)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/estimations/{jobID}", h.GetEstimation)

	router.Get("/ws/stocks", h.WSStocks)

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret), middleware.RequireAdmin)
		r.Post("/stocks", h.IngestMarketEvent)
		r.Post("/stocks/{symbol}/resale", h.CreateResale)
		r.Post("/purchase-validation", h.PurchaseValidation)
		r.Post("/external-purchase", h.ExternalPurchase)
		r.Get("/purchases", h.AdminListPurchases)
		r.Get("/events", h.ListEvents)
		r.Post("/users/{userID}/promote", h.PromoteAdmin)
	})

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"stocksim/internal/bus"
	"stocksim/internal/jobs"
	"stocksim/internal/models"
	"stocksim/internal/services"
	"stocksim/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
	SetAdmin(ctx context.Context, tx store.Execer, userID string, isAdmin bool) error
	HasAnyAdmin(ctx context.Context) (bool, error)
}

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, userID string, balance int64) error
	Get(ctx context.Context, userID string) (models.Wallet, error)
	Credit(ctx context.Context, tx store.Tx, userID string, amount int64) error
}

type StockCatalog interface {
	List(ctx context.Context, filters store.StockFilters) ([]store.StockListing, error)
	Latest(ctx context.Context, symbol string) (models.Stock, error)
	History(ctx context.Context, symbol string, limit int) ([]models.Stock, error)
	GetResaleDiscount(ctx context.Context, symbol string) (models.ResaleDiscount, error)
}

type PurchaseLog interface {
	GetByRequestID(ctx context.Context, requestID string) (models.PurchaseRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PurchaseRequest, error)
	ListAll(ctx context.Context, limit, offset int) ([]models.PurchaseRequest, error)
}

type EventLog interface {
	List(ctx context.Context, eventType string, limit, offset int) ([]models.ExternalEvent, error)
}

type MarketService interface {
	ApplyMarketEvent(ctx context.Context, ev bus.MarketEvent) error
	CreateResale(ctx context.Context, symbol string, quantity int64, discountPct decimal.Decimal) (services.ResaleResult, error)
}

type PurchaseService interface {
	CreatePurchase(ctx context.Context, userID, symbol string, quantity int64) (services.CreatePurchaseResult, error)
	ConfirmPayment(ctx context.Context, token string) (string, error)
	ApplyValidation(ctx context.Context, v bus.Validation) (string, error)
	ExternalPurchase(ctx context.Context, requestID, groupID, symbol string, quantity int64) error
}

type AuctionService interface {
	CreateOffer(ctx context.Context, symbol string, quantity int64) (string, error)
	Propose(ctx context.Context, auctionID, symbol string, quantity int64) (string, error)
	Respond(ctx context.Context, auctionID, proposalID string, accept bool) error
	ListOffers(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error)
}

type EstimationQueue interface {
	Enqueue(ctx context.Context, symbol string) (string, error)
	Get(ctx context.Context, jobID string) (jobs.Job, error)
}

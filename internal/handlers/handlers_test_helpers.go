package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stocksim/internal/auth"
	"stocksim/internal/bus"
	"stocksim/internal/config"
	"stocksim/internal/jobs"
	"stocksim/internal/middleware"
	"stocksim/internal/models"
	"stocksim/internal/services"
	"stocksim/internal/store"
	"stocksim/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn      func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn  func(ctx context.Context, email string) (models.User, error)
	getByIDFn     func(ctx context.Context, userID string) (models.User, error)
	setAdminFn    func(ctx context.Context, tx store.Execer, userID string, isAdmin bool) error
	hasAnyAdminFn func(ctx context.Context) (bool, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) SetAdmin(ctx context.Context, tx store.Execer, userID string, isAdmin bool) error {
	if s.setAdminFn == nil {
		return nil
	}
	return s.setAdminFn(ctx, tx, userID, isAdmin)
}

func (s stubUserStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

type stubWalletStore struct {
	createFn func(ctx context.Context, tx store.Execer, userID string, balance int64) error
	getFn    func(ctx context.Context, userID string) (models.Wallet, error)
	creditFn func(ctx context.Context, tx store.Tx, userID string, amount int64) error
}

func (s stubWalletStore) Create(ctx context.Context, tx store.Execer, userID string, balance int64) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, userID, balance)
}

func (s stubWalletStore) Get(ctx context.Context, userID string) (models.Wallet, error) {
	if s.getFn == nil {
		return models.Wallet{UserID: userID}, nil
	}
	return s.getFn(ctx, userID)
}

func (s stubWalletStore) Credit(ctx context.Context, tx store.Tx, userID string, amount int64) error {
	if s.creditFn == nil {
		return nil
	}
	return s.creditFn(ctx, tx, userID, amount)
}

type stubStockCatalog struct {
	listFn     func(ctx context.Context, filters store.StockFilters) ([]store.StockListing, error)
	latestFn   func(ctx context.Context, symbol string) (models.Stock, error)
	historyFn  func(ctx context.Context, symbol string, limit int) ([]models.Stock, error)
	discountFn func(ctx context.Context, symbol string) (models.ResaleDiscount, error)
}

func (s stubStockCatalog) List(ctx context.Context, filters store.StockFilters) ([]store.StockListing, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filters)
}

func (s stubStockCatalog) Latest(ctx context.Context, symbol string) (models.Stock, error) {
	if s.latestFn == nil {
		return models.Stock{}, store.ErrSymbolNotFound
	}
	return s.latestFn(ctx, symbol)
}

func (s stubStockCatalog) History(ctx context.Context, symbol string, limit int) ([]models.Stock, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, symbol, limit)
}

func (s stubStockCatalog) GetResaleDiscount(ctx context.Context, symbol string) (models.ResaleDiscount, error) {
	if s.discountFn == nil {
		return models.ResaleDiscount{}, store.ErrSymbolNotFound
	}
	return s.discountFn(ctx, symbol)
}

type stubPurchaseLog struct {
	getFn        func(ctx context.Context, requestID string) (models.PurchaseRequest, error)
	listByUserFn func(ctx context.Context, userID string, limit, offset int) ([]models.PurchaseRequest, error)
	listAllFn    func(ctx context.Context, limit, offset int) ([]models.PurchaseRequest, error)
}

func (s stubPurchaseLog) GetByRequestID(ctx context.Context, requestID string) (models.PurchaseRequest, error) {
	if s.getFn == nil {
		return models.PurchaseRequest{}, store.ErrPurchaseNotFound
	}
	return s.getFn(ctx, requestID)
}

func (s stubPurchaseLog) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PurchaseRequest, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

func (s stubPurchaseLog) ListAll(ctx context.Context, limit, offset int) ([]models.PurchaseRequest, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, limit, offset)
}

type stubEventLog struct {
	listFn func(ctx context.Context, eventType string, limit, offset int) ([]models.ExternalEvent, error)
}

func (s stubEventLog) List(ctx context.Context, eventType string, limit, offset int) ([]models.ExternalEvent, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, eventType, limit, offset)
}

type stubMarketService struct {
	applyFn  func(ctx context.Context, ev bus.MarketEvent) error
	resaleFn func(ctx context.Context, symbol string, quantity int64, discountPct decimal.Decimal) (services.ResaleResult, error)
}

func (s stubMarketService) ApplyMarketEvent(ctx context.Context, ev bus.MarketEvent) error {
	if s.applyFn == nil {
		return nil
	}
	return s.applyFn(ctx, ev)
}

func (s stubMarketService) CreateResale(ctx context.Context, symbol string, quantity int64, discountPct decimal.Decimal) (services.ResaleResult, error) {
	if s.resaleFn == nil {
		return services.ResaleResult{}, nil
	}
	return s.resaleFn(ctx, symbol, quantity, discountPct)
}

type stubPurchaseService struct {
	createFn   func(ctx context.Context, userID, symbol string, quantity int64) (services.CreatePurchaseResult, error)
	confirmFn  func(ctx context.Context, token string) (string, error)
	validateFn func(ctx context.Context, v bus.Validation) (string, error)
	externalFn func(ctx context.Context, requestID, groupID, symbol string, quantity int64) error
}

func (s stubPurchaseService) CreatePurchase(ctx context.Context, userID, symbol string, quantity int64) (services.CreatePurchaseResult, error) {
	if s.createFn == nil {
		return services.CreatePurchaseResult{}, nil
	}
	return s.createFn(ctx, userID, symbol, quantity)
}

func (s stubPurchaseService) ConfirmPayment(ctx context.Context, token string) (string, error) {
	if s.confirmFn == nil {
		return models.PurchaseAccepted, nil
	}
	return s.confirmFn(ctx, token)
}

func (s stubPurchaseService) ApplyValidation(ctx context.Context, v bus.Validation) (string, error) {
	if s.validateFn == nil {
		return services.OutcomeApplied, nil
	}
	return s.validateFn(ctx, v)
}

func (s stubPurchaseService) ExternalPurchase(ctx context.Context, requestID, groupID, symbol string, quantity int64) error {
	if s.externalFn == nil {
		return nil
	}
	return s.externalFn(ctx, requestID, groupID, symbol, quantity)
}

type stubAuctionService struct {
	createFn  func(ctx context.Context, symbol string, quantity int64) (string, error)
	proposeFn func(ctx context.Context, auctionID, symbol string, quantity int64) (string, error)
	respondFn func(ctx context.Context, auctionID, proposalID string, accept bool) error
	listFn    func(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error)
}

func (s stubAuctionService) CreateOffer(ctx context.Context, symbol string, quantity int64) (string, error) {
	if s.createFn == nil {
		return "auction-1", nil
	}
	return s.createFn(ctx, symbol, quantity)
}

func (s stubAuctionService) Propose(ctx context.Context, auctionID, symbol string, quantity int64) (string, error) {
	if s.proposeFn == nil {
		return "proposal-1", nil
	}
	return s.proposeFn(ctx, auctionID, symbol, quantity)
}

func (s stubAuctionService) Respond(ctx context.Context, auctionID, proposalID string, accept bool) error {
	if s.respondFn == nil {
		return nil
	}
	return s.respondFn(ctx, auctionID, proposalID, accept)
}

func (s stubAuctionService) ListOffers(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubEstimationQueue struct {
	enqueueFn func(ctx context.Context, symbol string) (string, error)
	getFn     func(ctx context.Context, jobID string) (jobs.Job, error)
}

func (s stubEstimationQueue) Enqueue(ctx context.Context, symbol string) (string, error) {
	if s.enqueueFn == nil {
		return "job-1", nil
	}
	return s.enqueueFn(ctx, symbol)
}

func (s stubEstimationQueue) Get(ctx context.Context, jobID string) (jobs.Job, error) {
	if s.getFn == nil {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return s.getFn(ctx, jobID)
}

type handlerStubs struct {
	users       stubUserStore
	wallets     stubWalletStore
	stocks      stubStockCatalog
	purchases   stubPurchaseLog
	events      stubEventLog
	market      stubMarketService
	purchaseSvc stubPurchaseService
	auctions    stubAuctionService
	estimations stubEstimationQueue
}

func newTestHandler(runner fakeTxRunner, stubs handlerStubs) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		GroupID:        "11",
		FrontendURL:    "https://frontend.example",
	}
	return New(runner, cfg, stubs.users, stubs.wallets, stubs.stocks, stubs.purchases, stubs.events, stubs.market, stubs.purchaseSvc, stubs.auctions, stubs.estimations, websocket.NewHub())
}

func withAuthContext(t *testing.T, req *http.Request, userID string, isAdmin bool) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, isAdmin, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serveAuthed(handler http.HandlerFunc, rr *httptest.ResponseRecorder, req *http.Request) {
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
}

func stringPtr(value string) *string {
	return &value
}

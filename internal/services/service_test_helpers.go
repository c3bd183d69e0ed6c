package services

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"stocksim/internal/models"
	"stocksim/internal/payments"
	"stocksim/internal/store"
	"stocksim/internal/websocket"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// fakeInventory keeps stock state in memory with the same semantics the real
// store enforces: latest row per symbol, reserve fails before mutating.
type fakeInventory struct {
	mu       sync.Mutex
	latest   map[string]models.Stock
	resales  map[string]models.ResaleDiscount
	inserted []models.Stock
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		latest:  make(map[string]models.Stock),
		resales: make(map[string]models.ResaleDiscount),
	}
}

func (f *fakeInventory) Latest(_ context.Context, symbol string) (models.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.latest[symbol]
	if !ok {
		return models.Stock{}, store.ErrSymbolNotFound
	}
	return row, nil
}

func (f *fakeInventory) Insert(_ context.Context, _ store.Execer, symbol, price, longName string, quantity int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := models.Stock{Symbol: symbol, Price: price, LongName: longName, Quantity: quantity, Timestamp: ts}
	f.latest[symbol] = row
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeInventory) Reserve(_ context.Context, _ store.Tx, symbol string, quantity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.latest[symbol]
	if !ok {
		return store.ErrSymbolNotFound
	}
	if quantity > row.Quantity {
		return store.ErrInsufficientInventory
	}
	row.Quantity -= quantity
	f.latest[symbol] = row
	return nil
}

func (f *fakeInventory) Release(_ context.Context, _ store.Tx, symbol string, quantity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.latest[symbol]
	if !ok {
		return store.ErrSymbolNotFound
	}
	row.Quantity += quantity
	f.latest[symbol] = row
	return nil
}

func (f *fakeInventory) InsertResaleDiscount(_ context.Context, _ store.Execer, symbol, originalSymbol, discountPct, originalPrice string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resales[symbol] = models.ResaleDiscount{
		Symbol:         symbol,
		OriginalSymbol: originalSymbol,
		DiscountPct:    discountPct,
		OriginalPrice:  originalPrice,
	}
	return nil
}

func (f *fakeInventory) GetResaleDiscount(_ context.Context, symbol string) (models.ResaleDiscount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.resales[symbol]
	if !ok {
		return models.ResaleDiscount{}, store.ErrSymbolNotFound
	}
	return row, nil
}

func (f *fakeInventory) quantity(symbol string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[symbol].Quantity
}

type fakeAudit struct {
	mu     sync.Mutex
	events []store.EventInput
	seen   bool
}

func (f *fakeAudit) Append(_ context.Context, _ store.Execer, input store.EventInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, input)
	return nil
}

func (f *fakeAudit) SeenRecently(_ context.Context, _, _, _ string, _ int64, _ time.Duration) (bool, error) {
	return f.seen, nil
}

func (f *fakeAudit) countByType(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ev := range f.events {
		if ev.Type == eventType {
			count++
		}
	}
	return count
}

type publishedMessage struct {
	topic   string
	payload any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (f *fakePublisher) Publish(topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}

type fakeHub struct {
	mu        sync.Mutex
	stocks    []websocket.StockUpdate
	purchases []websocket.PurchaseUpdate
}

func (f *fakeHub) BroadcastStock(update websocket.StockUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stocks = append(f.stocks, update)
}

func (f *fakeHub) BroadcastPurchase(_ string, update websocket.PurchaseUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchases = append(f.purchases, update)
}

type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: make(map[string]int64)}
}

func (f *fakeWallet) Credit(_ context.Context, _ store.Tx, userID string, amount int64) error {
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += amount
	return nil
}

func (f *fakeWallet) Debit(_ context.Context, _ store.Tx, userID string, amount int64, enforceFunds bool) error {
	if amount <= 0 {
		return store.ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if enforceFunds && f.balances[userID] < amount {
		return store.ErrInsufficientFunds
	}
	f.balances[userID] -= amount
	return nil
}

type fakePurchases struct {
	mu   sync.Mutex
	rows map[string]*models.PurchaseRequest
}

func newFakePurchases() *fakePurchases {
	return &fakePurchases{rows: make(map[string]*models.PurchaseRequest)}
}

func (f *fakePurchases) Create(_ context.Context, _ store.Execer, input store.PurchaseInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[input.RequestID]; exists {
		return duplicateKeyError()
	}
	f.rows[input.RequestID] = &models.PurchaseRequest{
		RequestID:  input.RequestID,
		UserID:     input.UserID,
		GroupID:    input.GroupID,
		Symbol:     input.Symbol,
		Quantity:   input.Quantity,
		Price:      input.Price,
		Status:     models.PurchasePending,
		IsResale:   input.IsResale,
		ViaGateway: input.ViaGateway,
	}
	return nil
}

func (f *fakePurchases) GetByRequestID(_ context.Context, requestID string) (models.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[requestID]
	if !ok {
		return models.PurchaseRequest{}, store.ErrPurchaseNotFound
	}
	return *row, nil
}

func (f *fakePurchases) GetForUpdate(ctx context.Context, _ store.Getter, requestID string) (models.PurchaseRequest, error) {
	return f.GetByRequestID(ctx, requestID)
}

func (f *fakePurchases) SetStatus(_ context.Context, _ store.Execer, requestID, status, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[requestID]
	if !ok || row.Status != models.PurchasePending {
		return 0, nil
	}
	row.Status = status
	row.Reason = reason
	return 1, nil
}

type fakePayments struct {
	mu       sync.Mutex
	byToken  map[string]*models.PaymentTransaction
	byReqID  map[string]string
	recorded int
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		byToken: make(map[string]*models.PaymentTransaction),
		byReqID: make(map[string]string),
	}
}

func (f *fakePayments) Create(_ context.Context, _ store.Execer, token, requestID, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byToken[token] = &models.PaymentTransaction{Token: token, RequestID: requestID, UserID: userID, Amount: amount, Status: "CREATED"}
	f.byReqID[requestID] = token
	return nil
}

func (f *fakePayments) GetByToken(_ context.Context, token string) (models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byToken[token]
	if !ok {
		return models.PaymentTransaction{}, store.ErrPaymentNotFound
	}
	return *row, nil
}

func (f *fakePayments) ExistsForRequest(_ context.Context, requestID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byReqID[requestID]
	return ok, nil
}

func (f *fakePayments) RecordResult(_ context.Context, _ store.Execer, token, status string, responseCode int, authorizationCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.byToken[token]; ok {
		row.Status = status
		row.ResponseCode = &responseCode
		row.AuthorizationCode = authorizationCode
	}
	f.recorded++
	return nil
}

type fakeGateway struct {
	tx           payments.Transaction
	confirmation payments.Confirmation
	createErr    error
	commitErr    error
	commits      int
}

func (f *fakeGateway) CreateTransaction(_ context.Context, _ string, _ int64, _ string) (payments.Transaction, error) {
	if f.createErr != nil {
		return payments.Transaction{}, f.createErr
	}
	return f.tx, nil
}

func (f *fakeGateway) CommitTransaction(_ context.Context, _ string) (payments.Confirmation, error) {
	f.commits++
	if f.commitErr != nil {
		return payments.Confirmation{}, f.commitErr
	}
	return f.confirmation, nil
}

type fakeAuctions struct {
	mu        sync.Mutex
	offers    map[string]models.AuctionOffer
	proposals map[string]models.AuctionProposal
	responded map[string]string
}

func newFakeAuctions() *fakeAuctions {
	return &fakeAuctions{
		offers:    make(map[string]models.AuctionOffer),
		proposals: make(map[string]models.AuctionProposal),
		responded: make(map[string]string),
	}
}

func (f *fakeAuctions) CreateOffer(_ context.Context, _ store.Execer, auctionID, groupID, symbol string, quantity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.offers[auctionID]; ok {
		return nil
	}
	f.offers[auctionID] = models.AuctionOffer{AuctionID: auctionID, GroupID: groupID, Symbol: symbol, Quantity: quantity}
	return nil
}

func (f *fakeAuctions) GetOffer(_ context.Context, auctionID string) (models.AuctionOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.offers[auctionID]
	if !ok {
		return models.AuctionOffer{}, store.ErrOfferNotFound
	}
	return row, nil
}

func (f *fakeAuctions) ListOffers(_ context.Context, _, _ int) ([]models.AuctionOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []models.AuctionOffer
	for _, row := range f.offers {
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeAuctions) CreateProposal(_ context.Context, _ store.Execer, proposalID, auctionID, groupID, symbol string, quantity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.proposals[proposalID]; ok {
		return nil
	}
	f.proposals[proposalID] = models.AuctionProposal{ProposalID: proposalID, AuctionID: auctionID, GroupID: groupID, Symbol: symbol, Quantity: quantity}
	return nil
}

func (f *fakeAuctions) GetProposal(_ context.Context, proposalID string) (models.AuctionProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.proposals[proposalID]
	if !ok {
		return models.AuctionProposal{}, store.ErrProposalNotFound
	}
	return row, nil
}

func (f *fakeAuctions) MarkResponded(_ context.Context, _ store.Execer, auctionID, proposalID, responseType string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := auctionID + "/" + proposalID
	if _, ok := f.responded[key]; ok {
		return 0, nil
	}
	f.responded[key] = responseType
	return 1, nil
}

func duplicateKeyError() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocksim/internal/bus"
	"stocksim/internal/db"
	"stocksim/internal/metrics"
	"stocksim/internal/models"
	"stocksim/internal/payments"
	"stocksim/internal/store"
	"stocksim/internal/websocket"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrInvalidStatus    = errors.New("invalid validation status")
)

// Validation outcomes reported to the caller of the bus path.
const (
	OutcomeApplied = "success"
	OutcomeIgnored = "ignored"
)

type WalletLedger interface {
	Credit(ctx context.Context, tx store.Tx, userID string, amount int64) error
	Debit(ctx context.Context, tx store.Tx, userID string, amount int64, enforceFunds bool) error
}

type PurchaseRegistry interface {
	Create(ctx context.Context, tx store.Execer, input store.PurchaseInput) error
	GetByRequestID(ctx context.Context, requestID string) (models.PurchaseRequest, error)
	GetForUpdate(ctx context.Context, tx store.Getter, requestID string) (models.PurchaseRequest, error)
	SetStatus(ctx context.Context, tx store.Execer, requestID, status, reason string) (int64, error)
}

type PaymentRegistry interface {
	Create(ctx context.Context, tx store.Execer, token, requestID, userID string, amount int64) error
	GetByToken(ctx context.Context, token string) (models.PaymentTransaction, error)
	ExistsForRequest(ctx context.Context, requestID string) (bool, error)
	RecordResult(ctx context.Context, tx store.Execer, token, status string, responseCode int, authorizationCode string) error
}

type PurchaseHub interface {
	BroadcastPurchase(userID string, update websocket.PurchaseUpdate)
}

// PurchaseService is the reconciliation engine. A purchase request reaches a
// terminal state through exactly one of two racing paths: the payment
// gateway callback or a bus-delivered validation. Both paths serialize on
// the purchase row lock; whichever acquires it first applies the single
// ledger/inventory mutation and the loser observes terminal state.
type PurchaseService struct {
	txRunner     db.TxRunner
	stocks       StockInventory
	wallets      WalletLedger
	purchases    PurchaseRegistry
	paymentsRepo PaymentRegistry
	events       AuditLog
	gateway      payments.Gateway
	publisher    bus.Publisher
	hub          PurchaseHub
	groupID      string
	returnURL    string
}

func NewPurchaseService(
	txRunner db.TxRunner,
	stocks StockInventory,
	wallets WalletLedger,
	purchases PurchaseRegistry,
	paymentsRepo PaymentRegistry,
	events AuditLog,
	gateway payments.Gateway,
	publisher bus.Publisher,
	hub PurchaseHub,
	groupID string,
	returnURL string,
) *PurchaseService {
	return &PurchaseService{
		txRunner:     txRunner,
		stocks:       stocks,
		wallets:      wallets,
		purchases:    purchases,
		paymentsRepo: paymentsRepo,
		events:       events,
		gateway:      gateway,
		publisher:    publisher,
		hub:          hub,
		groupID:      groupID,
		returnURL:    returnURL,
	}
}

type CreatePurchaseResult struct {
	RequestID       string `json:"request_id"`
	RequiresPayment bool   `json:"requiresPayment"`
	WebpayToken     string `json:"webpayToken"`
	WebpayURL       string `json:"webpayUrl"`
	AmountMinor     int64  `json:"amount_minor"`
	Symbol          string `json:"symbol"`
	Quantity        int64  `json:"quantity"`
	Price           string `json:"price"`
}

// CreatePurchase opens a gateway-funded buy intent. Availability is checked
// here but reserved only at confirmation; nothing is mutated before the
// gateway transaction exists, so a failed creation is safe to retry.
func (s *PurchaseService) CreatePurchase(ctx context.Context, userID, symbol string, quantity int64) (CreatePurchaseResult, error) {
	if quantity <= 0 {
		return CreatePurchaseResult{}, ErrInvalidQuantity
	}
	latest, err := s.stocks.Latest(ctx, symbol)
	if err != nil {
		return CreatePurchaseResult{}, err
	}
	if quantity > latest.Quantity {
		return CreatePurchaseResult{}, store.ErrInsufficientInventory
	}
	price, err := decimal.NewFromString(latest.Price)
	if err != nil {
		return CreatePurchaseResult{}, err
	}
	amountMinor := price.Mul(decimal.NewFromInt(quantity)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	requestID := uuid.NewString()
	gatewayTx, err := s.gateway.CreateTransaction(ctx, requestID, amountMinor, s.returnURL)
	if err != nil {
		return CreatePurchaseResult{}, err
	}

	isResale := false
	if _, err := s.stocks.GetResaleDiscount(ctx, symbol); err == nil {
		isResale = true
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.purchases.Create(ctx, tx, store.PurchaseInput{
			RequestID:  requestID,
			UserID:     &userID,
			GroupID:    s.groupID,
			Symbol:     symbol,
			Quantity:   quantity,
			Price:      latest.Price,
			IsResale:   isResale,
			ViaGateway: true,
		}); err != nil {
			return err
		}
		return s.paymentsRepo.Create(ctx, tx, gatewayTx.Token, requestID, userID, amountMinor)
	})
	if err != nil {
		return CreatePurchaseResult{}, err
	}

	if err := s.publisher.Publish(bus.TopicRequests, bus.PurchaseRequest{
		RequestID: requestID,
		GroupID:   s.groupID,
		Symbol:    symbol,
		Quantity:  quantity,
		IsResale:  isResale,
	}); err != nil {
		zap.L().Warn("purchase request broadcast failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return CreatePurchaseResult{
		RequestID:       requestID,
		RequiresPayment: true,
		WebpayToken:     gatewayTx.Token,
		WebpayURL:       gatewayTx.URL,
		AmountMinor:     amountMinor,
		Symbol:          symbol,
		Quantity:        quantity,
		Price:           latest.Price,
	}, nil
}

// ConfirmPayment settles a purchase after the gateway calls back with a
// token. Called any number of times per token: the first call that finds the
// purchase PENDING applies the whole settlement in one transaction; later
// calls observe terminal state and return it unchanged.
func (s *PurchaseService) ConfirmPayment(ctx context.Context, token string) (string, error) {
	payment, err := s.paymentsRepo.GetByToken(ctx, token)
	if err != nil {
		return "", err
	}
	current, err := s.purchases.GetByRequestID(ctx, payment.RequestID)
	if err != nil {
		return "", err
	}
	if current.Status != models.PurchasePending {
		return current.Status, nil
	}

	confirmation, err := s.gateway.CommitTransaction(ctx, token)
	if err != nil {
		return "", err
	}

	var finalStatus string
	var finalReason string
	applied := false
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		purchase, err := s.purchases.GetForUpdate(ctx, tx, payment.RequestID)
		if err != nil {
			return err
		}
		if purchase.Status != models.PurchasePending {
			// The bus-validation path won the race; nothing left to do.
			finalStatus = purchase.Status
			finalReason = purchase.Reason
			return nil
		}
		applied = true

		if err := s.paymentsRepo.RecordResult(ctx, tx, token, confirmation.Status, confirmation.ResponseCode, confirmation.AuthorizationCode); err != nil {
			return err
		}

		if !confirmation.Approved() {
			finalStatus = models.PurchaseRejected
			finalReason = "payment not authorized"
			return s.finalize(ctx, tx, purchase, finalStatus, finalReason)
		}

		// Availability was only checked at creation; reserve now and
		// reject on shortfall rather than overselling.
		if err := s.stocks.Reserve(ctx, tx, purchase.Symbol, purchase.Quantity); err != nil {
			if err == store.ErrInsufficientInventory {
				finalStatus = models.PurchaseRejected
				finalReason = "insufficient inventory at confirmation"
				return s.finalize(ctx, tx, purchase, finalStatus, finalReason)
			}
			return err
		}
		// Gateway-funded: the gateway already validated affordability.
		if err := s.wallets.Debit(ctx, tx, payment.UserID, payment.Amount, false); err != nil {
			return err
		}
		finalStatus = models.PurchaseAccepted
		return s.finalize(ctx, tx, purchase, finalStatus, "")
	})
	if err != nil {
		return "", err
	}

	if applied {
		s.announce(payment.RequestID, current, finalStatus, finalReason)
	}
	return finalStatus, nil
}

// ApplyValidation handles a validation message for requests funded without
// the gateway. Gateway-funded requests are provenance-shadowed: their
// payment callback is authoritative and the message is ignored.
func (s *PurchaseService) ApplyValidation(ctx context.Context, v bus.Validation) (string, error) {
	if v.Status != models.PurchaseAccepted && v.Status != models.PurchaseRejected {
		return "", ErrInvalidStatus
	}
	gatewayFunded, err := s.paymentsRepo.ExistsForRequest(ctx, v.RequestID)
	if err != nil {
		return "", err
	}
	if gatewayFunded {
		return OutcomeIgnored, nil
	}

	var outcome string
	var finalStatus, finalReason string
	var purchase models.PurchaseRequest
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		purchase, err = s.purchases.GetForUpdate(ctx, tx, v.RequestID)
		if err != nil {
			return err
		}
		if purchase.Status != models.PurchasePending {
			outcome = OutcomeIgnored
			return nil
		}

		finalStatus = v.Status
		finalReason = v.Reason
		if v.Status == models.PurchaseAccepted {
			if err := s.settleWalletFunded(ctx, tx, purchase, &finalStatus, &finalReason); err != nil {
				return err
			}
		}
		outcome = OutcomeApplied
		return s.finalize(ctx, tx, purchase, finalStatus, finalReason)
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeApplied {
		s.announce(v.RequestID, purchase, finalStatus, finalReason)
	}
	return outcome, nil
}

// settleWalletFunded applies the wallet-only settlement: enforced debit plus
// reservation. Shortfalls downgrade the acceptance to a rejection instead of
// failing the transaction.
func (s *PurchaseService) settleWalletFunded(ctx context.Context, tx *sqlx.Tx, purchase models.PurchaseRequest, status, reason *string) error {
	if err := s.stocks.Reserve(ctx, tx, purchase.Symbol, purchase.Quantity); err != nil {
		if err == store.ErrInsufficientInventory {
			*status = models.PurchaseRejected
			*reason = "insufficient inventory"
			return nil
		}
		return err
	}
	if purchase.UserID == nil {
		return nil
	}
	price, err := decimal.NewFromString(purchase.Price)
	if err != nil {
		return err
	}
	amountMinor := price.Mul(decimal.NewFromInt(purchase.Quantity)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if err := s.wallets.Debit(ctx, tx, *purchase.UserID, amountMinor, true); err != nil {
		if err == store.ErrInsufficientFunds {
			if rollbackErr := s.stocks.Release(ctx, tx, purchase.Symbol, purchase.Quantity); rollbackErr != nil {
				return rollbackErr
			}
			*status = models.PurchaseRejected
			*reason = "insufficient funds"
			return nil
		}
		return err
	}
	return nil
}

// finalize flips the request out of PENDING and appends the audit event, all
// inside the caller's transaction. The conditional SetStatus is the last
// defense against double application.
func (s *PurchaseService) finalize(ctx context.Context, tx *sqlx.Tx, purchase models.PurchaseRequest, status, reason string) error {
	affected, err := s.purchases.SetStatus(ctx, tx, purchase.RequestID, status, reason)
	if err != nil {
		return err
	}
	if affected == 0 {
		// Terminal already; treated as resolved, never as an error.
		return nil
	}
	details, _ := json.Marshal(map[string]any{
		"request_id": purchase.RequestID,
		"symbol":     purchase.Symbol,
		"quantity":   purchase.Quantity,
		"status":     status,
		"reason":     reason,
	})
	return s.events.Append(ctx, tx, store.EventInput{
		ID:      uuid.NewString(),
		Type:    "PURCHASE_VALIDATION",
		Details: string(details),
	})
}

func (s *PurchaseService) announce(requestID string, purchase models.PurchaseRequest, status, reason string) {
	metrics.PurchasesTotal.WithLabelValues(status).Inc()
	if err := s.publisher.Publish(bus.TopicValidation, bus.Validation{
		RequestID: requestID,
		GroupID:   s.groupID,
		Status:    status,
		Reason:    reason,
	}); err != nil {
		zap.L().Warn("validation broadcast failed", zap.String("request_id", requestID), zap.Error(err))
	}
	if purchase.UserID != nil {
		s.hub.BroadcastPurchase(*purchase.UserID, websocket.PurchaseUpdate{
			RequestID: requestID,
			Symbol:    purchase.Symbol,
			Status:    status,
			Reason:    reason,
		})
	}
}

// ExternalPurchase records a peer group buying from our inventory: validate
// availability, decrement once, mark the request accepted. Redelivery of the
// same request id is a no-op.
func (s *PurchaseService) ExternalPurchase(ctx context.Context, requestID, groupID, symbol string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.stocks.Reserve(ctx, tx, symbol, quantity); err != nil {
			return err
		}
		latest, err := s.stocks.Latest(ctx, symbol)
		if err != nil {
			return err
		}
		if err := s.purchases.Create(ctx, tx, store.PurchaseInput{
			RequestID: requestID,
			GroupID:   groupID,
			Symbol:    symbol,
			Quantity:  quantity,
			Price:     latest.Price,
		}); err != nil {
			return err
		}
		if _, err := s.purchases.SetStatus(ctx, tx, requestID, models.PurchaseAccepted, ""); err != nil {
			return err
		}
		details, _ := json.Marshal(map[string]any{
			"request_id": requestID,
			"group_id":   groupID,
			"symbol":     symbol,
			"quantity":   quantity,
		})
		return s.events.Append(ctx, tx, store.EventInput{
			ID:      uuid.NewString(),
			Type:    "EXTERNAL_PURCHASE",
			Details: string(details),
		})
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateRequest
		}
		return err
	}

	if err := s.publisher.Publish(bus.TopicValidation, bus.Validation{
		RequestID: requestID,
		GroupID:   s.groupID,
		Status:    models.PurchaseAccepted,
	}); err != nil {
		zap.L().Warn("external purchase validation broadcast failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return nil
}

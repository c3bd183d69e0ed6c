package store

import (
	"context"
	"database/sql"
	"errors"

	"stocksim/internal/models"
)

var ErrPurchaseNotFound = errors.New("purchase request not found")

type PurchaseStore struct {
	db DB
}

func NewPurchaseStore(db DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

type PurchaseInput struct {
	RequestID  string
	UserID     *string
	GroupID    string
	Symbol     string
	Quantity   int64
	Price      string
	IsResale   bool
	ViaGateway bool
}

func (s *PurchaseStore) Create(ctx context.Context, tx Execer, input PurchaseInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_requests (request_id, user_id, group_id, symbol, quantity, price, status, is_resale, via_gateway)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, input.RequestID, input.UserID, input.GroupID, input.Symbol, input.Quantity, input.Price,
		models.PurchasePending, input.IsResale, input.ViaGateway)
	return err
}

func (s *PurchaseStore) GetByRequestID(ctx context.Context, requestID string) (models.PurchaseRequest, error) {
	var row models.PurchaseRequest
	err := s.db.GetContext(ctx, &row, `
		SELECT request_id, user_id, group_id, symbol, quantity, price, status, reason, is_resale, via_gateway, created_at, updated_at
		FROM purchase_requests
		WHERE request_id = $1
	`, requestID)
	if err == sql.ErrNoRows {
		return models.PurchaseRequest{}, ErrPurchaseNotFound
	}
	if err != nil {
		return models.PurchaseRequest{}, err
	}
	return row, nil
}

// GetForUpdate locks the purchase row. The payment-callback and bus-validation
// paths race for this lock; whoever wins applies the terminal transition and
// the loser observes terminal state.
func (s *PurchaseStore) GetForUpdate(ctx context.Context, tx Getter, requestID string) (models.PurchaseRequest, error) {
	var row models.PurchaseRequest
	err := tx.GetContext(ctx, &row, `
		SELECT request_id, user_id, group_id, symbol, quantity, price, status, reason, is_resale, via_gateway, created_at, updated_at
		FROM purchase_requests
		WHERE request_id = $1
		FOR UPDATE
	`, requestID)
	if err == sql.ErrNoRows {
		return models.PurchaseRequest{}, ErrPurchaseNotFound
	}
	if err != nil {
		return models.PurchaseRequest{}, err
	}
	return row, nil
}

// SetStatus transitions a request out of PENDING. The WHERE clause refuses to
// touch terminal rows, so the returned count doubles as the already-resolved
// signal.
func (s *PurchaseStore) SetStatus(ctx context.Context, tx Execer, requestID, status, reason string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_requests
		SET status = $1, reason = $2, updated_at = NOW()
		WHERE request_id = $3 AND status = $4
	`, status, reason, requestID, models.PurchasePending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PurchaseStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PurchaseRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var rows []models.PurchaseRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT request_id, user_id, group_id, symbol, quantity, price, status, reason, is_resale, via_gateway, created_at, updated_at
		FROM purchase_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PurchaseStore) ListAll(ctx context.Context, limit, offset int) ([]models.PurchaseRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.PurchaseRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT request_id, user_id, group_id, symbol, quantity, price, status, reason, is_resale, via_gateway, created_at, updated_at
		FROM purchase_requests
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

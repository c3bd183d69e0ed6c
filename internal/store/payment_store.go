package store

import (
	"context"
	"database/sql"
	"errors"

	"stocksim/internal/models"
)

var ErrPaymentNotFound = errors.New("payment transaction not found")

type PaymentStore struct {
	db DB
}

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) Create(ctx context.Context, tx Execer, token, requestID, userID string, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_transactions (token, request_id, user_id, amount, status)
		VALUES ($1, $2, $3, $4, 'CREATED')
	`, token, requestID, userID, amount)
	return err
}

func (s *PaymentStore) GetByToken(ctx context.Context, token string) (models.PaymentTransaction, error) {
	var row models.PaymentTransaction
	err := s.db.GetContext(ctx, &row, `
		SELECT token, request_id, user_id, amount, status, response_code, authorization_code, created_at, updated_at
		FROM payment_transactions
		WHERE token = $1
	`, token)
	if err == sql.ErrNoRows {
		return models.PaymentTransaction{}, ErrPaymentNotFound
	}
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	return row, nil
}

// ExistsForRequest reports whether a request is gateway-funded. Bus
// validations for such requests are provenance-shadowed: the payment callback
// is authoritative for them.
func (s *PaymentStore) ExistsForRequest(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM payment_transactions WHERE request_id = $1)
	`, requestID)
	return exists, err
}

func (s *PaymentStore) RecordResult(ctx context.Context, tx Execer, token, status string, responseCode int, authorizationCode string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, response_code = $2, authorization_code = $3, updated_at = NOW()
		WHERE token = $4
	`, status, responseCode, authorizationCode, token)
	return err
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"stocksim/internal/models"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
)

type WalletStore struct {
	db DB
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Create(ctx context.Context, tx Execer, userID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, $2)
	`, userID, balance)
	return err
}

func (s *WalletStore) Get(ctx context.Context, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, balance, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err == sql.ErrNoRows {
		return models.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) getForUpdate(ctx context.Context, tx Getter, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, balance, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err == sql.ErrNoRows {
		return models.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) Credit(ctx context.Context, tx Tx, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if _, err := s.getForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2
	`, amount, userID)
	return err
}

// Debit subtracts from a wallet under a row lock. enforceFunds guards the
// wallet-only funded path; the gateway-funded path passes false because the
// gateway already validated affordability and is the source of truth there.
func (s *WalletStore) Debit(ctx context.Context, tx Tx, userID string, amount int64, enforceFunds bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	wallet, err := s.getForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if enforceFunds && wallet.Balance < amount {
		return ErrInsufficientFunds
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE user_id = $2
	`, amount, userID)
	return err
}

package store

import (
	"context"
	"time"

	"stocksim/internal/models"
)

// EventStore is the append-only audit log of everything that crossed a system
// boundary: market events, purchase validations, auction traffic.
type EventStore struct {
	db DB
}

func NewEventStore(db DB) *EventStore {
	return &EventStore{db: db}
}

type EventInput struct {
	ID      string
	Type    string
	Details string

	// Denormalized dedup columns, only set for market events.
	Symbol   string
	Price    *string
	Quantity *int64
}

func (s *EventStore) Append(ctx context.Context, tx Execer, input EventInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO external_events (id, type, details, symbol, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, input.ID, input.Type, input.Details, input.Symbol, input.Price, input.Quantity)
	return err
}

// SeenRecently implements the approximate duplicate suppression for
// naturally-repeating broadcast types (IPO, EMIT): same type, symbol, price
// and quantity within the trailing window counts as a duplicate.
func (s *EventStore) SeenRecently(ctx context.Context, eventType, symbol, price string, quantity int64, window time.Duration) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM external_events
			WHERE type = $1 AND symbol = $2 AND price = $3 AND quantity = $4
			  AND created_at > NOW() - $5::interval
		)
	`, eventType, symbol, price, quantity, window.String())
	return exists, err
}

func (s *EventStore) List(ctx context.Context, eventType string, limit, offset int) ([]models.ExternalEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, type, details, created_at
		FROM external_events
	`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, eventType, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	var rows []models.ExternalEvent
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stocksim/internal/models"
)

var (
	ErrSymbolNotFound        = errors.New("symbol not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

type StockStore struct {
	db DB
}

func NewStockStore(db DB) *StockStore {
	return &StockStore{db: db}
}

// Latest returns the current row for a symbol: greatest ts, ties broken by
// greatest id so two rows sharing a timestamp resolve by insertion order.
func (s *StockStore) Latest(ctx context.Context, symbol string) (models.Stock, error) {
	var row models.Stock
	err := s.db.GetContext(ctx, &row, `
		SELECT id, symbol, price, long_name, quantity, ts
		FROM stocks
		WHERE symbol = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`, symbol)
	if err == sql.ErrNoRows {
		return models.Stock{}, ErrSymbolNotFound
	}
	if err != nil {
		return models.Stock{}, err
	}
	return row, nil
}

// LatestForUpdate locks the current row of a symbol so concurrent
// reservations against it serialize.
func (s *StockStore) LatestForUpdate(ctx context.Context, tx Getter, symbol string) (models.Stock, error) {
	var row models.Stock
	err := tx.GetContext(ctx, &row, `
		SELECT id, symbol, price, long_name, quantity, ts
		FROM stocks
		WHERE symbol = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, symbol)
	if err == sql.ErrNoRows {
		return models.Stock{}, ErrSymbolNotFound
	}
	if err != nil {
		return models.Stock{}, err
	}
	return row, nil
}

// Insert appends a new ledger row for a symbol. History is never mutated;
// revaluations always land as new rows.
func (s *StockStore) Insert(ctx context.Context, tx Execer, symbol, price, longName string, quantity int64, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stocks (symbol, price, long_name, quantity, ts)
		VALUES ($1, $2, $3, $4, $5)
	`, symbol, price, longName, quantity, ts)
	return err
}

// Reserve decrements the current row's quantity within the caller's
// transaction. Fails with ErrInsufficientInventory before touching anything
// when the hold cannot be covered.
func (s *StockStore) Reserve(ctx context.Context, tx Tx, symbol string, quantity int64) error {
	row, err := s.LatestForUpdate(ctx, tx, symbol)
	if err != nil {
		return err
	}
	if quantity > row.Quantity {
		return ErrInsufficientInventory
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE stocks SET quantity = quantity - $1 WHERE id = $2
	`, quantity, row.ID)
	return err
}

// Release returns a previously reserved quantity to the current row. Used on
// rollback of holds (rejected proposals, failed trades).
func (s *StockStore) Release(ctx context.Context, tx Tx, symbol string, quantity int64) error {
	row, err := s.LatestForUpdate(ctx, tx, symbol)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE stocks SET quantity = quantity + $1 WHERE id = $2
	`, quantity, row.ID)
	return err
}

type StockFilters struct {
	Symbol   string
	Name     string
	MinPrice string
	MaxPrice string
	MinQty   *int64
	MaxQty   *int64
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

type StockListing struct {
	Symbol         string    `db:"symbol" json:"symbol"`
	Price          string    `db:"price" json:"price"`
	LongName       string    `db:"long_name" json:"longName"`
	Quantity       int64     `db:"quantity" json:"quantity"`
	Timestamp      time.Time `db:"ts" json:"timestamp"`
	OriginalSymbol *string   `db:"original_symbol" json:"original_symbol,omitempty"`
	DiscountPct    *string   `db:"discount_pct" json:"discount_percentage,omitempty"`
}

// List returns the latest row per symbol joined with resale metadata.
func (s *StockStore) List(ctx context.Context, filters StockFilters) ([]StockListing, error) {
	query := `
		SELECT st.symbol, st.price, st.long_name, st.quantity, st.ts,
		       rd.original_symbol, rd.discount_pct
		FROM (
			SELECT DISTINCT ON (symbol) symbol, price, long_name, quantity, ts
			FROM stocks
			ORDER BY symbol, ts DESC, id DESC
		) st
		LEFT JOIN resale_discounts rd ON rd.symbol = st.symbol
		WHERE TRUE
	`
	var args []any
	param := 1
	next := func(clause string, value any) {
		query += fmt.Sprintf(" AND %s $%d", clause, param)
		args = append(args, value)
		param++
	}
	if filters.Symbol != "" {
		next("st.symbol =", filters.Symbol)
	}
	if filters.Name != "" {
		next("st.long_name ILIKE", "%"+filters.Name+"%")
	}
	if filters.MinPrice != "" {
		next("st.price >=", filters.MinPrice)
	}
	if filters.MaxPrice != "" {
		next("st.price <=", filters.MaxPrice)
	}
	if filters.MinQty != nil {
		next("st.quantity >=", *filters.MinQty)
	}
	if filters.MaxQty != nil {
		next("st.quantity <=", *filters.MaxQty)
	}
	if filters.Since != nil {
		next("st.ts >=", *filters.Since)
	}
	if filters.Until != nil {
		next("st.ts <=", *filters.Until)
	}
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	query += fmt.Sprintf(" ORDER BY st.symbol LIMIT $%d OFFSET $%d", param, param+1)
	args = append(args, limit, filters.Offset)

	var rows []StockListing
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// History returns every ledger row for a symbol, oldest first.
func (s *StockStore) History(ctx context.Context, symbol string, limit int) ([]models.Stock, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.Stock
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, symbol, price, long_name, quantity, ts
		FROM stocks
		WHERE symbol = $1
		ORDER BY ts ASC, id ASC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *StockStore) InsertResaleDiscount(ctx context.Context, tx Execer, symbol, originalSymbol, discountPct, originalPrice string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO resale_discounts (symbol, original_symbol, discount_pct, original_price)
		VALUES ($1, $2, $3, $4)
	`, symbol, originalSymbol, discountPct, originalPrice)
	return err
}

func (s *StockStore) GetResaleDiscount(ctx context.Context, symbol string) (models.ResaleDiscount, error) {
	var row models.ResaleDiscount
	err := s.db.GetContext(ctx, &row, `
		SELECT symbol, original_symbol, discount_pct, original_price, created_at
		FROM resale_discounts
		WHERE symbol = $1
	`, symbol)
	if err == sql.ErrNoRows {
		return models.ResaleDiscount{}, ErrSymbolNotFound
	}
	if err != nil {
		return models.ResaleDiscount{}, err
	}
	return row, nil
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stocksim/internal/bus"
	"stocksim/internal/db"
	"stocksim/internal/metrics"
	"stocksim/internal/models"
	"stocksim/internal/store"
	"stocksim/internal/websocket"
)

var (
	ErrUnknownEventKind = errors.New("unknown market event kind")
	ErrDuplicateEvent   = errors.New("duplicate market event")
	ErrInvalidDiscount  = errors.New("discount must be between 0 and 10 percent")
	ErrResaleExists     = errors.New("resale already exists for symbol")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
)

// dedupWindow is the trailing window for approximate duplicate suppression
// of naturally-repeating broadcast kinds (IPO, EMIT).
const dedupWindow = 5 * time.Minute

const resaleSuffix = "_r"

type StockInventory interface {
	Latest(ctx context.Context, symbol string) (models.Stock, error)
	Insert(ctx context.Context, tx store.Execer, symbol, price, longName string, quantity int64, ts time.Time) error
	Reserve(ctx context.Context, tx store.Tx, symbol string, quantity int64) error
	Release(ctx context.Context, tx store.Tx, symbol string, quantity int64) error
	InsertResaleDiscount(ctx context.Context, tx store.Execer, symbol, originalSymbol, discountPct, originalPrice string) error
	GetResaleDiscount(ctx context.Context, symbol string) (models.ResaleDiscount, error)
}

type AuditLog interface {
	Append(ctx context.Context, tx store.Execer, input store.EventInput) error
	SeenRecently(ctx context.Context, eventType, symbol, price string, quantity int64, window time.Duration) (bool, error)
}

type StockHub interface {
	BroadcastStock(update websocket.StockUpdate)
}

// MarketService applies inbound market events to the stock ledger and
// creates local resale listings.
type MarketService struct {
	txRunner  db.TxRunner
	stocks    StockInventory
	events    AuditLog
	publisher bus.Publisher
	hub       StockHub
}

func NewMarketService(txRunner db.TxRunner, stocks StockInventory, events AuditLog, publisher bus.Publisher, hub StockHub) *MarketService {
	return &MarketService{
		txRunner:  txRunner,
		stocks:    stocks,
		events:    events,
		publisher: publisher,
		hub:       hub,
	}
}

// ApplyMarketEvent folds one IPO/EMIT/UPDATE event into the ledger:
//   - IPO inserts a fresh row.
//   - EMIT adds the incoming quantity to the latest quantity (unknown symbol
//     degrades to IPO).
//   - UPDATE revalues the symbol carrying quantity and name forward; an
//     unknown symbol is reported as not found, no row is written.
//
// IPO and EMIT repeat naturally on the shared bus, so exact repeats within
// the dedup window are dropped before touching the ledger.
func (s *MarketService) ApplyMarketEvent(ctx context.Context, ev bus.MarketEvent) error {
	switch ev.Kind {
	case "IPO", "EMIT", "UPDATE":
	default:
		return ErrUnknownEventKind
	}
	price := decimal.NewFromFloat(ev.Price).StringFixed(4)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if ev.Kind == "IPO" || ev.Kind == "EMIT" {
		seen, err := s.events.SeenRecently(ctx, ev.Kind, ev.Symbol, price, ev.Quantity, dedupWindow)
		if err != nil {
			return err
		}
		if seen {
			return ErrDuplicateEvent
		}
	}

	var applied models.Stock
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		quantity := ev.Quantity
		longName := ev.LongName
		switch ev.Kind {
		case "EMIT":
			latest, err := s.stocks.Latest(ctx, ev.Symbol)
			if err == nil {
				quantity = latest.Quantity + ev.Quantity
				if longName == "" {
					longName = latest.LongName
				}
			} else if err != store.ErrSymbolNotFound {
				return err
			}
		case "UPDATE":
			latest, err := s.stocks.Latest(ctx, ev.Symbol)
			if err != nil {
				return err
			}
			quantity = latest.Quantity
			longName = latest.LongName
		}
		if err := s.stocks.Insert(ctx, tx, ev.Symbol, price, longName, quantity, ts); err != nil {
			return err
		}
		applied = models.Stock{Symbol: ev.Symbol, Price: price, LongName: longName, Quantity: quantity, Timestamp: ts}

		details, _ := json.Marshal(ev)
		return s.events.Append(ctx, tx, store.EventInput{
			ID:       uuid.NewString(),
			Type:     ev.Kind,
			Details:  string(details),
			Symbol:   ev.Symbol,
			Price:    &price,
			Quantity: &ev.Quantity,
		})
	})
	if err != nil {
		return err
	}

	metrics.MarketEventsTotal.WithLabelValues(ev.Kind).Inc()
	s.hub.BroadcastStock(websocket.StockUpdate{
		Kind:     ev.Kind,
		Symbol:   applied.Symbol,
		Price:    applied.Price,
		Quantity: applied.Quantity,
	})
	return nil
}

type ResaleResult struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Quantity    int64  `json:"quantity"`
	DiscountPct string `json:"discount_percentage"`
}

// CreateResale lists previously purchased shares under the derived resale
// symbol at a discounted price, and announces the listing on the bus.
func (s *MarketService) CreateResale(ctx context.Context, symbol string, quantity int64, discountPct decimal.Decimal) (ResaleResult, error) {
	if quantity <= 0 {
		return ResaleResult{}, ErrInvalidQuantity
	}
	if discountPct.IsNegative() || discountPct.GreaterThan(decimal.NewFromInt(10)) {
		return ResaleResult{}, ErrInvalidDiscount
	}
	resaleSymbol := symbol + resaleSuffix
	if _, err := s.stocks.GetResaleDiscount(ctx, resaleSymbol); err == nil {
		return ResaleResult{}, ErrResaleExists
	} else if err != store.ErrSymbolNotFound {
		return ResaleResult{}, err
	}

	var result ResaleResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		original, err := s.stocks.Latest(ctx, symbol)
		if err != nil {
			return err
		}
		originalPrice, err := decimal.NewFromString(original.Price)
		if err != nil {
			return err
		}
		factor := decimal.NewFromInt(1).Sub(discountPct.Div(decimal.NewFromInt(100)))
		discounted := originalPrice.Mul(factor).Round(2)
		resalePrice := discounted.StringFixed(2)

		now := time.Now().UTC()
		if err := s.stocks.Insert(ctx, tx, resaleSymbol, resalePrice, original.LongName, quantity, now); err != nil {
			return err
		}
		if err := s.stocks.InsertResaleDiscount(ctx, tx, resaleSymbol, symbol, discountPct.StringFixed(2), original.Price); err != nil {
			return err
		}
		result = ResaleResult{
			Symbol:      resaleSymbol,
			Price:       resalePrice,
			Quantity:    quantity,
			DiscountPct: discountPct.StringFixed(2),
		}
		details, _ := json.Marshal(result)
		if err := s.events.Append(ctx, tx, store.EventInput{
			ID:      uuid.NewString(),
			Type:    "RESALE",
			Details: string(details),
			Symbol:  resaleSymbol,
		}); err != nil {
			return err
		}
		// Recorded as an IPO too so the bus echo of our own announcement
		// lands inside the dedup window instead of re-listing the symbol.
		dedupPrice := discounted.StringFixed(4)
		return s.events.Append(ctx, tx, store.EventInput{
			ID:       uuid.NewString(),
			Type:     "IPO",
			Details:  string(details),
			Symbol:   resaleSymbol,
			Price:    &dedupPrice,
			Quantity: &quantity,
		})
	})
	if err != nil {
		return ResaleResult{}, err
	}

	price, _ := decimal.NewFromString(result.Price)
	priceValue, _ := price.Float64()
	if err := s.publisher.Publish(bus.TopicUpdates, bus.MarketEvent{
		Kind:      "IPO",
		Symbol:    result.Symbol,
		Price:     priceValue,
		LongName:  result.Symbol,
		Quantity:  result.Quantity,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		zap.L().Warn("resale announcement failed", zap.String("symbol", result.Symbol), zap.Error(err))
	}
	s.hub.BroadcastStock(websocket.StockUpdate{
		Kind:     "IPO",
		Symbol:   result.Symbol,
		Price:    result.Price,
		Quantity: result.Quantity,
	})
	return result, nil
}

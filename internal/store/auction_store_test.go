package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestAuctionMarkRespondedIsInsertOnce(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT (auction_id, proposal_id) DO NOTHING") {
				t.Fatalf("responded set must be insert-once: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewAuctionStore(stubDB{})
	affected, err := store.MarkResponded(ctx, execer, "a1", "p1", "rejection")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("duplicate response must report zero affected, got %d", affected)
	}
}

func TestAuctionGetOfferNotFound(t *testing.T) {
	store := NewAuctionStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			return sql.ErrNoRows
		},
	})
	if _, err := store.GetOffer(context.Background(), "missing"); err != ErrOfferNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEventSeenRecentlyWindowBound(t *testing.T) {
	store := NewEventStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "created_at > NOW() - $5::interval") {
				t.Fatalf("dedup must be window-bounded: %s", query)
			}
			if args[0] != "IPO" || args[1] != "ABC" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*bool) = true
			return nil
		},
	})
	seen, err := store.SeenRecently(context.Background(), "IPO", "ABC", "10", 100, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("expected duplicate hit")
	}
}

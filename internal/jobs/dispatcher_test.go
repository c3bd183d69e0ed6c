package jobs

import (
	"context"
	"testing"
	"time"

	"stocksim/internal/models"
)

type stubHistory struct {
	rows []models.Stock
	err  error
}

func (s stubHistory) History(_ context.Context, symbol string, limit int) ([]models.Stock, error) {
	return s.rows, s.err
}

func TestEstimateLinearTrend(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Price climbs 1.0/day; the projection must continue the trend.
	rows := []models.Stock{
		{Symbol: "ABC", Price: "10", Timestamp: origin},
		{Symbol: "ABC", Price: "11", Timestamp: origin.Add(24 * time.Hour)},
		{Symbol: "ABC", Price: "12", Timestamp: origin.Add(48 * time.Hour)},
	}
	d := NewDispatcher(nil, stubHistory{rows: rows})
	estimate, err := d.estimate(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if estimate.CurrentPrice != 12 {
		t.Fatalf("unexpected current price: %v", estimate.CurrentPrice)
	}
	if estimate.ProjectedPrice <= estimate.CurrentPrice {
		t.Fatalf("rising trend must project a gain, got %v", estimate.ProjectedPrice)
	}
	if estimate.SampleSize != 3 {
		t.Fatalf("unexpected sample size: %d", estimate.SampleSize)
	}
}

func TestEstimateSinglePointIsFlat(t *testing.T) {
	rows := []models.Stock{{Symbol: "ABC", Price: "42.5", Timestamp: time.Now()}}
	d := NewDispatcher(nil, stubHistory{rows: rows})
	estimate, err := d.estimate(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if estimate.ProjectedPrice != 42.5 || estimate.ExpectedGain != 0 {
		t.Fatalf("unexpected estimate: %+v", estimate)
	}
}

func TestEstimateNoHistory(t *testing.T) {
	d := NewDispatcher(nil, stubHistory{})
	if _, err := d.estimate(context.Background(), "ABC"); err == nil {
		t.Fatal("expected error for empty history")
	}
}

func TestEstimateNeverNegative(t *testing.T) {
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Stock{
		{Symbol: "ABC", Price: "3", Timestamp: origin},
		{Symbol: "ABC", Price: "2", Timestamp: origin.Add(24 * time.Hour)},
		{Symbol: "ABC", Price: "1", Timestamp: origin.Add(48 * time.Hour)},
	}
	d := NewDispatcher(nil, stubHistory{rows: rows})
	estimate, err := d.estimate(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if estimate.ProjectedPrice < 0 {
		t.Fatalf("projection must clamp at zero, got %v", estimate.ProjectedPrice)
	}
}

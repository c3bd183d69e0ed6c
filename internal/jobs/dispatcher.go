// Package jobs implements the asynchronous estimation subsystem: a
// Redis-backed queue, a worker computing price projections, and polling of
// job results.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stocksim/internal/metrics"
	"stocksim/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

const (
	queueKey  = "estimations"
	jobPrefix = "estimation:"
	jobTTL    = time.Hour

	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

type Job struct {
	ID     string `json:"job_id"`
	Symbol string `json:"symbol"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Estimate is the worker's output: a least-squares projection of the price
// thirty days out, with the expected gain per share at today's price.
type Estimate struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	ProjectedPrice float64 `json:"projected_price"`
	ExpectedGain   float64 `json:"expected_gain"`
	SampleSize     int     `json:"sample_size"`
}

type PriceHistory interface {
	History(ctx context.Context, symbol string, limit int) ([]models.Stock, error)
}

type Dispatcher struct {
	rdb     *redis.Client
	history PriceHistory
}

func NewDispatcher(rdb *redis.Client, history PriceHistory) *Dispatcher {
	return &Dispatcher{rdb: rdb, history: history}
}

func (d *Dispatcher) Enqueue(ctx context.Context, symbol string) (string, error) {
	jobID := uuid.NewString()
	key := jobPrefix + jobID
	if err := d.rdb.HSet(ctx, key, "symbol", symbol, "status", StatusQueued).Err(); err != nil {
		return "", err
	}
	d.rdb.Expire(ctx, key, jobTTL)
	if err := d.rdb.LPush(ctx, queueKey, jobID).Err(); err != nil {
		return "", err
	}
	d.reportDepth(ctx)
	return jobID, nil
}

func (d *Dispatcher) Get(ctx context.Context, jobID string) (Job, error) {
	fields, err := d.rdb.HGetAll(ctx, jobPrefix+jobID).Result()
	if err != nil {
		return Job{}, err
	}
	if len(fields) == 0 {
		return Job{}, ErrJobNotFound
	}
	return Job{
		ID:     jobID,
		Symbol: fields["symbol"],
		Status: fields["status"],
		Result: fields["result"],
		Error:  fields["error"],
	}, nil
}

// Run blocks consuming the queue until the context is cancelled. Safe to run
// in several replicas; BRPOP hands each job to exactly one worker.
func (d *Dispatcher) Run(ctx context.Context) {
	zap.L().Info("estimation worker started")
	for {
		values, err := d.rdb.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Info("estimation worker stopped")
				return
			}
			zap.L().Warn("estimation queue read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(values) != 2 {
			continue
		}
		d.process(ctx, values[1])
		d.reportDepth(ctx)
	}
}

func (d *Dispatcher) process(ctx context.Context, jobID string) {
	key := jobPrefix + jobID
	symbol, err := d.rdb.HGet(ctx, key, "symbol").Result()
	if err != nil {
		zap.L().Warn("estimation job vanished", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	d.rdb.HSet(ctx, key, "status", StatusRunning)

	estimate, err := d.estimate(ctx, symbol)
	if err != nil {
		d.rdb.HSet(ctx, key, "status", StatusFailed, "error", err.Error())
		zap.L().Warn("estimation failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	result, _ := json.Marshal(estimate)
	d.rdb.HSet(ctx, key, "status", StatusDone, "result", string(result))
	zap.L().Info("estimation done",
		zap.String("symbol", symbol),
		zap.Float64("projected_price", estimate.ProjectedPrice))
}

// estimate fits price = a + b*t by least squares over the symbol's history
// and projects thirty days forward.
func (d *Dispatcher) estimate(ctx context.Context, symbol string) (Estimate, error) {
	rows, err := d.history.History(ctx, symbol, 200)
	if err != nil {
		return Estimate{}, err
	}
	if len(rows) == 0 {
		return Estimate{}, fmt.Errorf("no price history for %s", symbol)
	}

	origin := rows[0].Timestamp
	var sumT, sumP, sumTT, sumTP float64
	n := float64(len(rows))
	for _, row := range rows {
		t := row.Timestamp.Sub(origin).Hours() / 24
		p, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			return Estimate{}, fmt.Errorf("bad price %q for %s", row.Price, symbol)
		}
		sumT += t
		sumP += p
		sumTT += t * t
		sumTP += t * p
	}
	current, _ := strconv.ParseFloat(rows[len(rows)-1].Price, 64)

	var projected float64
	denominator := n*sumTT - sumT*sumT
	if len(rows) < 2 || math.Abs(denominator) < 1e-9 {
		// Flat or single-point history projects no movement.
		projected = current
	} else {
		slope := (n*sumTP - sumT*sumP) / denominator
		intercept := (sumP - slope*sumT) / n
		horizon := time.Now().Sub(origin).Hours()/24 + 30
		projected = intercept + slope*horizon
	}
	if projected < 0 {
		projected = 0
	}
	return Estimate{
		Symbol:         symbol,
		CurrentPrice:   current,
		ProjectedPrice: round2(projected),
		ExpectedGain:   round2(projected - current),
		SampleSize:     len(rows),
	}, nil
}

func (d *Dispatcher) reportDepth(ctx context.Context) {
	if depth, err := d.rdb.LLen(ctx, queueKey).Result(); err == nil {
		metrics.EstimationQueueDepth.Set(float64(depth))
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

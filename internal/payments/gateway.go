package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Transaction is the gateway's handle for a pending payment: the token
// identifies it on the callback, the URL is where the buyer's browser goes.
type Transaction struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Confirmation is the gateway's verdict for a committed payment. The core
// only inspects Status == "AUTHORIZED" && ResponseCode == 0.
type Confirmation struct {
	Status            string `json:"status"`
	ResponseCode      int    `json:"response_code"`
	AuthorizationCode string `json:"authorization_code"`
	Amount            int64  `json:"amount"`
}

func (c Confirmation) Approved() bool {
	return c.Status == "AUTHORIZED" && c.ResponseCode == 0
}

type Gateway interface {
	CreateTransaction(ctx context.Context, buyOrder string, amount int64, returnURL string) (Transaction, error)
	CommitTransaction(ctx context.Context, token string) (Confirmation, error)
}

// HTTPGateway talks to a Webpay-style REST gateway. The wire protocol is
// deliberately out of scope here; this client is the narrowest wrapper that
// yields the two calls the reconciliation engine needs.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) CreateTransaction(ctx context.Context, buyOrder string, amount int64, returnURL string) (Transaction, error) {
	body, _ := json.Marshal(map[string]any{
		"buy_order":  buyOrder,
		"amount":     amount,
		"return_url": returnURL,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return Transaction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		zap.L().Warn("gateway create failed", zap.String("buy_order", buyOrder), zap.Error(err))
		return Transaction{}, ErrGatewayUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Transaction{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return tx, nil
}

func (g *HTTPGateway) CommitTransaction(ctx context.Context, token string) (Confirmation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.baseURL+"/transactions/"+token, nil)
	if err != nil {
		return Confirmation{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		zap.L().Warn("gateway commit failed", zap.String("token", token), zap.Error(err))
		return Confirmation{}, ErrGatewayUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Confirmation{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var confirmation Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&confirmation); err != nil {
		return Confirmation{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return confirmation, nil
}

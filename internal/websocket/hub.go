package websocket

import (
	"encoding/json"
	"sync"
)

// StockUpdate is pushed to every connected client when a market event lands.
type StockUpdate struct {
	Kind     string `json:"kind"`
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

// PurchaseUpdate is pushed to the buyer when their request resolves.
type PurchaseUpdate struct {
	RequestID string `json:"request_id"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// BroadcastStock fans a market tick out to every connected client. Slow
// clients are skipped rather than blocking the caller.
func (h *Hub) BroadcastStock(update StockUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.clients {
		for client := range clients {
			select {
			case client.send <- payload:
			default:
			}
		}
	}
}

// BroadcastPurchase notifies one user's connections of a status change.
func (h *Hub) BroadcastPurchase(userID string, update PurchaseUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}

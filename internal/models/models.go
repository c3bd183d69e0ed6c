package models

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsAdmin      bool      `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Wallet struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Stock is one row of the append-only stock ledger. The current state of a
// symbol is its most recent row.
type Stock struct {
	ID        int64     `db:"id" json:"-"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Price     string    `db:"price" json:"price"`
	LongName  string    `db:"long_name" json:"longName"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	Timestamp time.Time `db:"ts" json:"timestamp"`
}

type ResaleDiscount struct {
	Symbol         string    `db:"symbol" json:"symbol"`
	OriginalSymbol string    `db:"original_symbol" json:"original_symbol"`
	DiscountPct    string    `db:"discount_pct" json:"discount_percentage"`
	OriginalPrice  string    `db:"original_price" json:"original_price"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Purchase request lifecycle. Terminal states never transition again.
const (
	PurchasePending  = "PENDING"
	PurchaseAccepted = "ACCEPTED"
	PurchaseRejected = "REJECTED"
)

// PurchaseRequest records one buy intent. RequestID is the caller-generated
// idempotency key deduplicating the HTTP, payment-callback and bus paths.
type PurchaseRequest struct {
	RequestID  string    `db:"request_id" json:"request_id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	GroupID    string    `db:"group_id" json:"group_id"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Quantity   int64     `db:"quantity" json:"quantity"`
	Price      string    `db:"price" json:"price"`
	Status     string    `db:"status" json:"status"`
	Reason     string    `db:"reason" json:"reason"`
	IsResale   bool      `db:"is_resale" json:"is_resale"`
	ViaGateway bool      `db:"via_gateway" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type PaymentTransaction struct {
	Token             string    `db:"token" json:"token"`
	RequestID         string    `db:"request_id" json:"request_id"`
	UserID            string    `db:"user_id" json:"user_id"`
	Amount            int64     `db:"amount" json:"amount"`
	Status            string    `db:"status" json:"status"`
	ResponseCode      *int      `db:"response_code" json:"response_code,omitempty"`
	AuthorizationCode string    `db:"authorization_code" json:"authorization_code"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// ExternalEvent is one row of the append-only audit log.
type ExternalEvent struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	Details   string    `db:"details" json:"details"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AuctionOffer struct {
	AuctionID string    `db:"auction_id" json:"auction_id"`
	GroupID   string    `db:"group_id" json:"group_id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AuctionProposal struct {
	ProposalID string    `db:"proposal_id" json:"proposal_id"`
	AuctionID  string    `db:"auction_id" json:"auction_id"`
	GroupID    string    `db:"group_id" json:"group_id"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Quantity   int64     `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

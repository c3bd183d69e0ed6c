package bus

import "time"

// Topics shared with the other trading groups. Every group publishes and
// subscribes on the same set; payloads carry the originating group id.
const (
	TopicUpdates    = "stocks/updates"
	TopicRequests   = "stocks/requests"
	TopicValidation = "stocks/validation"
	TopicAuctions   = "stocks/auctions"
)

// MarketEvent announces an IPO, emission or revaluation of a symbol.
type MarketEvent struct {
	Kind      string    `json:"kind"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	LongName  string    `json:"longName"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// PurchaseRequest broadcasts a buy intent so the owning group can validate it.
type PurchaseRequest struct {
	RequestID string `json:"request_id"`
	GroupID   string `json:"group_id"`
	Symbol    string `json:"symbol"`
	Quantity  int64  `json:"quantity"`
	IsResale  bool   `json:"is_resale,omitempty"`
}

// Validation resolves a previously broadcast purchase request.
type Validation struct {
	RequestID string `json:"request_id"`
	GroupID   string `json:"group_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Auction message kinds.
const (
	AuctionOffer      = "offer"
	AuctionProposal   = "proposal"
	AuctionAcceptance = "acceptance"
	AuctionRejection  = "rejection"
)

// Auction carries the whole offer/proposal/response lifecycle on one topic,
// discriminated by Type. Offers travel with an empty ProposalID.
type Auction struct {
	Type       string `json:"operation"`
	AuctionID  string `json:"auction_id"`
	ProposalID string `json:"proposal_id"`
	GroupID    string `json:"group_id"`
	Symbol     string `json:"symbol"`
	Quantity   int64  `json:"quantity"`
}

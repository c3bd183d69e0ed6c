package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"stocksim/internal/bus"
	"stocksim/internal/db"
	"stocksim/internal/models"
	"stocksim/internal/store"
)

var ErrAlreadyResponded = errors.New("auction already resolved")

type AuctionBook interface {
	CreateOffer(ctx context.Context, tx store.Execer, auctionID, groupID, symbol string, quantity int64) error
	GetOffer(ctx context.Context, auctionID string) (models.AuctionOffer, error)
	ListOffers(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error)
	CreateProposal(ctx context.Context, tx store.Execer, proposalID, auctionID, groupID, symbol string, quantity int64) error
	GetProposal(ctx context.Context, proposalID string) (models.AuctionProposal, error)
	MarkResponded(ctx context.Context, tx store.Execer, auctionID, proposalID, responseType string) (int64, error)
}

// AuctionService runs the group-to-group exchange protocol. Stock a party
// puts on the table is reserved the moment the offer or counter-proposal is
// published, so concurrent proposals can never spend the same shares;
// rejection is the only path that gives a hold back, and the durable
// responded set makes that happen exactly once however often the bus
// redelivers.
type AuctionService struct {
	txRunner  db.TxRunner
	stocks    StockInventory
	auctions  AuctionBook
	events    AuditLog
	publisher bus.Publisher
	groupID   string
}

func NewAuctionService(txRunner db.TxRunner, stocks StockInventory, auctions AuctionBook, events AuditLog, publisher bus.Publisher, groupID string) *AuctionService {
	return &AuctionService{
		txRunner:  txRunner,
		stocks:    stocks,
		auctions:  auctions,
		events:    events,
		publisher: publisher,
		groupID:   groupID,
	}
}

// CreateOffer reserves the offered shares and announces the auction.
func (s *AuctionService) CreateOffer(ctx context.Context, symbol string, quantity int64) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	auctionID := uuid.NewString()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.stocks.Reserve(ctx, tx, symbol, quantity); err != nil {
			return err
		}
		if err := s.auctions.CreateOffer(ctx, tx, auctionID, s.groupID, symbol, quantity); err != nil {
			return err
		}
		return s.appendAuctionEvent(ctx, tx, "AUCTION_OFFER", auctionID, "", symbol, quantity)
	})
	if err != nil {
		return "", err
	}
	s.publish(bus.Auction{
		Type:      bus.AuctionOffer,
		AuctionID: auctionID,
		GroupID:   s.groupID,
		Symbol:    symbol,
		Quantity:  quantity,
	})
	return auctionID, nil
}

// Propose reserves our side of a counter-proposal against a peer's offer.
func (s *AuctionService) Propose(ctx context.Context, auctionID, symbol string, quantity int64) (string, error) {
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if _, err := s.auctions.GetOffer(ctx, auctionID); err != nil {
		return "", err
	}
	proposalID := uuid.NewString()
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.stocks.Reserve(ctx, tx, symbol, quantity); err != nil {
			return err
		}
		if err := s.auctions.CreateProposal(ctx, tx, proposalID, auctionID, s.groupID, symbol, quantity); err != nil {
			return err
		}
		return s.appendAuctionEvent(ctx, tx, "AUCTION_PROPOSAL", auctionID, proposalID, symbol, quantity)
	})
	if err != nil {
		return "", err
	}
	s.publish(bus.Auction{
		Type:       bus.AuctionProposal,
		AuctionID:  auctionID,
		ProposalID: proposalID,
		GroupID:    s.groupID,
		Symbol:     symbol,
		Quantity:   quantity,
	})
	return proposalID, nil
}

// Respond resolves a peer proposal against our own offer. Acceptance credits
// the proposed shares (our offered side left the inventory at offer time);
// rejection only records the verdict — the proposer restores their own hold
// when the rejection reaches them. Either way the verdict lands in the
// responded set first, so a second response attempt is a no-op.
func (s *AuctionService) Respond(ctx context.Context, auctionID, proposalID string, accept bool) error {
	proposal, err := s.auctions.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	responseType := bus.AuctionRejection
	if accept {
		responseType = bus.AuctionAcceptance
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.auctions.MarkResponded(ctx, tx, auctionID, proposalID, responseType)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyResponded
		}
		if accept {
			if err := s.credit(ctx, tx, proposal.Symbol, proposal.Quantity); err != nil {
				return err
			}
		}
		return s.appendAuctionEvent(ctx, tx, "AUCTION_"+responseType, auctionID, proposalID, proposal.Symbol, proposal.Quantity)
	})
	if err != nil {
		return err
	}
	s.publish(bus.Auction{
		Type:       responseType,
		AuctionID:  auctionID,
		ProposalID: proposalID,
		GroupID:    s.groupID,
		Symbol:     proposal.Symbol,
		Quantity:   proposal.Quantity,
	})
	return nil
}

// HandleOffer records a peer group's offer so local users can bid on it.
func (s *AuctionService) HandleOffer(ctx context.Context, msg bus.Auction) error {
	if msg.GroupID == s.groupID {
		return nil
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.auctions.CreateOffer(ctx, tx, msg.AuctionID, msg.GroupID, msg.Symbol, msg.Quantity)
	})
}

// HandleProposal records a peer group's counter-proposal against an offer.
func (s *AuctionService) HandleProposal(ctx context.Context, msg bus.Auction) error {
	if msg.GroupID == s.groupID {
		return nil
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.auctions.CreateProposal(ctx, tx, msg.ProposalID, msg.AuctionID, msg.GroupID, msg.Symbol, msg.Quantity)
	})
}

// HandleResponse settles a bus-delivered acceptance or rejection of one of
// our proposals. Rejection restores the hold we took at proposal time;
// acceptance credits the offered side we won. The responded set absorbs
// duplicate deliveries.
func (s *AuctionService) HandleResponse(ctx context.Context, msg bus.Auction) error {
	proposal, err := s.auctions.GetProposal(ctx, msg.ProposalID)
	if err != nil {
		if err == store.ErrProposalNotFound {
			// Response to somebody else's proposal; not ours to settle.
			return nil
		}
		return err
	}
	if proposal.GroupID != s.groupID {
		return nil
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		affected, err := s.auctions.MarkResponded(ctx, tx, msg.AuctionID, msg.ProposalID, msg.Type)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrAlreadyResponded
		}
		switch msg.Type {
		case bus.AuctionRejection:
			if err := s.stocks.Release(ctx, tx, proposal.Symbol, proposal.Quantity); err != nil {
				return err
			}
		case bus.AuctionAcceptance:
			offer, err := s.auctions.GetOffer(ctx, msg.AuctionID)
			if err != nil {
				return err
			}
			if err := s.credit(ctx, tx, offer.Symbol, offer.Quantity); err != nil {
				return err
			}
		default:
			return ErrInvalidStatus
		}
		return s.appendAuctionEvent(ctx, tx, "AUCTION_"+msg.Type, msg.AuctionID, msg.ProposalID, proposal.Symbol, proposal.Quantity)
	})
	if err == ErrAlreadyResponded {
		return nil
	}
	return err
}

// credit adds traded shares to our inventory. A symbol we have never held
// enters the ledger fresh; its price stays unknown until a market event
// revalues it.
func (s *AuctionService) credit(ctx context.Context, tx *sqlx.Tx, symbol string, quantity int64) error {
	err := s.stocks.Release(ctx, tx, symbol, quantity)
	if err == store.ErrSymbolNotFound {
		return s.stocks.Insert(ctx, tx, symbol, "0.0000", symbol, quantity, time.Now().UTC())
	}
	return err
}

func (s *AuctionService) appendAuctionEvent(ctx context.Context, tx store.Execer, eventType, auctionID, proposalID, symbol string, quantity int64) error {
	details, _ := json.Marshal(map[string]any{
		"auction_id":  auctionID,
		"proposal_id": proposalID,
		"symbol":      symbol,
		"quantity":    quantity,
	})
	return s.events.Append(ctx, tx, store.EventInput{
		ID:      uuid.NewString(),
		Type:    eventType,
		Details: string(details),
	})
}

func (s *AuctionService) publish(msg bus.Auction) {
	if err := s.publisher.Publish(bus.TopicAuctions, msg); err != nil {
		zap.L().Warn("auction broadcast failed",
			zap.String("auction_id", msg.AuctionID),
			zap.String("operation", msg.Type),
			zap.Error(err))
	}
}

func (s *AuctionService) ListOffers(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error) {
	return s.auctions.ListOffers(ctx, limit, offset)
}

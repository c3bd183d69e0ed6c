package store

import (
	"context"
	"database/sql"
	"errors"

	"stocksim/internal/models"
)

var (
	ErrOfferNotFound    = errors.New("auction offer not found")
	ErrProposalNotFound = errors.New("auction proposal not found")
)

// AuctionStore keeps the offer/proposal/response lifecycle durable. Multiple
// instances may process the same bus traffic, so none of this bookkeeping can
// live in process memory.
type AuctionStore struct {
	db DB
}

func NewAuctionStore(db DB) *AuctionStore {
	return &AuctionStore{db: db}
}

func (s *AuctionStore) CreateOffer(ctx context.Context, tx Execer, auctionID, groupID, symbol string, quantity int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO auction_offers (auction_id, group_id, symbol, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auction_id) DO NOTHING
	`, auctionID, groupID, symbol, quantity)
	return err
}

func (s *AuctionStore) GetOffer(ctx context.Context, auctionID string) (models.AuctionOffer, error) {
	var row models.AuctionOffer
	err := s.db.GetContext(ctx, &row, `
		SELECT auction_id, group_id, symbol, quantity, created_at
		FROM auction_offers
		WHERE auction_id = $1
	`, auctionID)
	if err == sql.ErrNoRows {
		return models.AuctionOffer{}, ErrOfferNotFound
	}
	if err != nil {
		return models.AuctionOffer{}, err
	}
	return row, nil
}

func (s *AuctionStore) ListOffers(ctx context.Context, limit, offset int) ([]models.AuctionOffer, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var rows []models.AuctionOffer
	err := s.db.SelectContext(ctx, &rows, `
		SELECT auction_id, group_id, symbol, quantity, created_at
		FROM auction_offers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *AuctionStore) CreateProposal(ctx context.Context, tx Execer, proposalID, auctionID, groupID, symbol string, quantity int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO auction_proposals (proposal_id, auction_id, group_id, symbol, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id) DO NOTHING
	`, proposalID, auctionID, groupID, symbol, quantity)
	return err
}

func (s *AuctionStore) GetProposal(ctx context.Context, proposalID string) (models.AuctionProposal, error) {
	var row models.AuctionProposal
	err := s.db.GetContext(ctx, &row, `
		SELECT proposal_id, auction_id, group_id, symbol, quantity, created_at
		FROM auction_proposals
		WHERE proposal_id = $1
	`, proposalID)
	if err == sql.ErrNoRows {
		return models.AuctionProposal{}, ErrProposalNotFound
	}
	if err != nil {
		return models.AuctionProposal{}, err
	}
	return row, nil
}

// MarkResponded records that a (auction_id, proposal_id) pair has been
// resolved. Returns the number of rows inserted: 0 means some path already
// responded and the caller must not re-apply inventory effects.
func (s *AuctionStore) MarkResponded(ctx context.Context, tx Execer, auctionID, proposalID, responseType string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO auction_responses (auction_id, proposal_id, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (auction_id, proposal_id) DO NOTHING
	`, auctionID, proposalID, responseType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

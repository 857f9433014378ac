package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/auctiond/internal/auction"
)

// BidRepo implements auction.Ledger with sqlx. The ledger is append-only;
// there are no update or delete paths.
type BidRepo struct {
	db *sqlx.DB
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB) *BidRepo {
	return &BidRepo{db: db}
}

// Append inserts the bid at its caller-assigned sequence position. The
// arbitration commit assigns Seq from the committed bid count, so positions
// are unique per auction without re-deriving them here; the UNIQUE
// constraint backstops that invariant.
func (r *BidRepo) Append(ctx context.Context, b *auction.Bid) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, seq, submitted_at, leading_at_submission)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.Seq, b.SubmittedAt, b.LeadingAtSubmission,
	)
	if err != nil {
		return fmt.Errorf("appending bid (auction=%s, seq=%d): %w", b.AuctionID, b.Seq, err)
	}
	return nil
}

func (r *BidRepo) History(ctx context.Context, auctionID string) ([]auction.Bid, error) {
	var bids []auction.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT id, auction_id, bidder_id, amount, seq, submitted_at, leading_at_submission
		 FROM bids WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading bid history: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) Count(ctx context.Context, auctionID string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID)
	if err != nil {
		return 0, fmt.Errorf("counting bids: %w", err)
	}
	return n, nil
}

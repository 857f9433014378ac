package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/clock"
)

// AuctionRepo implements auction.RecordStore with sqlx.
type AuctionRepo struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clk: clk}
}

const auctionColumns = `id, listing_id, status, mode, start_time, end_time,
	reserve_price, min_increment, current_bid, leader_id, bid_count,
	extension_window, extension_count, deposit_required, version,
	created_at, updated_at`

func (r *AuctionRepo) Create(ctx context.Context, a *auction.Auction) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := r.clk.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions (id, listing_id, status, mode, start_time, end_time,
		   reserve_price, min_increment, current_bid, leader_id, bid_count,
		   extension_window, extension_count, deposit_required, version,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.ListingID, a.Status, a.Mode, a.StartTime, a.EndTime,
		a.ReservePrice, a.MinIncrement, a.CurrentBid, a.LeaderID, a.BidCount,
		a.ExtensionWindow, a.ExtensionCount, a.DepositRequired, a.Version,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) Get(ctx context.Context, id string) (*auction.Auction, error) {
	var a auction.Auction
	err := r.db.GetContext(ctx, &a,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

// CompareAndCommit applies the mutation only if the stored version still
// equals expectedVersion. Zero rows affected means either the record is
// gone or another commit won the race; the two are distinguished by a
// follow-up read.
func (r *AuctionRepo) CompareAndCommit(ctx context.Context, id string, expectedVersion int64, m auction.Mutation) (*auction.Auction, error) {
	now := r.clk.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions
		 SET status = $1, current_bid = $2, leader_id = $3, bid_count = $4,
		     end_time = $5, extension_count = $6, version = version + 1,
		     updated_at = $7
		 WHERE id = $8 AND version = $9`,
		m.Status, m.CurrentBid, m.LeaderID, m.BidCount,
		m.EndTime, m.ExtensionCount, now,
		id, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("committing auction mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, auction.ErrVersionConflict
	}
	return r.Get(ctx, id)
}

func (r *AuctionRepo) ListStartDue(ctx context.Context, now time.Time) ([]auction.Auction, error) {
	var auctions []auction.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE status = $1 AND start_time <= $2 ORDER BY start_time ASC`,
		auction.StatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("listing start-due auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) ListEndDue(ctx context.Context, now time.Time) ([]auction.Auction, error) {
	var auctions []auction.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE status = $1 AND end_time <= $2 ORDER BY end_time ASC`,
		auction.StatusLive, now)
	if err != nil {
		return nil, fmt.Errorf("listing end-due auctions: %w", err)
	}
	return auctions, nil
}

package auction

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mutation is the post-image of an auction's mutable fields, applied
// atomically by CompareAndCommit. The engine always writes the full set so
// a price update and an anti-snipe extension land in one commit.
type Mutation struct {
	Status         Status
	CurrentBid     decimal.Decimal
	LeaderID       *string
	BidCount       int64
	EndTime        time.Time
	ExtensionCount int
}

// MutationOf captures a's current mutable fields, for callers that change
// only some of them.
func MutationOf(a *Auction) Mutation {
	return Mutation{
		Status:         a.Status,
		CurrentBid:     a.CurrentBid,
		LeaderID:       a.LeaderID,
		BidCount:       a.BidCount,
		EndTime:        a.EndTime,
		ExtensionCount: a.ExtensionCount,
	}
}

// RecordStore is the durable store for auction records. CompareAndCommit
// succeeds only if the stored version still equals expectedVersion; a lost
// race returns ErrVersionConflict and the caller re-evaluates against
// fresh state. Contention is scoped per auction: commits against
// different auctions never interfere.
type RecordStore interface {
	Create(ctx context.Context, a *Auction) error
	Get(ctx context.Context, id string) (*Auction, error)
	CompareAndCommit(ctx context.Context, id string, expectedVersion int64, m Mutation) (*Auction, error)

	// ListStartDue returns scheduled auctions whose start time has passed.
	ListStartDue(ctx context.Context, now time.Time) ([]Auction, error)
	// ListEndDue returns live auctions whose end time has passed.
	ListEndDue(ctx context.Context, now time.Time) ([]Auction, error)
}

// Ledger is the append-only bid history. Callers assign Seq before
// appending; the arbitration commit derives it from the committed bid
// count so positions stay unique and gap-free per auction. History returns
// bids in ascending Seq order. Reads need no locking; committed bids are
// immutable.
type Ledger interface {
	Append(ctx context.Context, b *Bid) error
	History(ctx context.Context, auctionID string) ([]Bid, error)
	Count(ctx context.Context, auctionID string) (int64, error)
}

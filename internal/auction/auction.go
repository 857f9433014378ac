package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction. Transitions are strictly
// scheduled -> live -> ended; the engine never moves backwards.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
)

// Mode selects how much of the bidding state other participants may see.
type Mode string

const (
	// ModeOpen exposes the full price history to every viewer.
	ModeOpen Mode = "open"
	// ModeSealed exposes only a running bid count to non-owning viewers
	// until the auction ends.
	ModeSealed Mode = "sealed"
)

// Auction is the durable record for one listing's auction. The mutable
// fields (CurrentBid, LeaderID, BidCount, EndTime, ExtensionCount, Status)
// change only through a versioned compare-and-commit; everything else is
// immutable once the auction is live.
type Auction struct {
	ID        string `db:"id"`
	ListingID string `db:"listing_id"`
	Status    Status `db:"status"`
	Mode      Mode   `db:"mode"`

	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`

	ReservePrice decimal.Decimal `db:"reserve_price"`
	MinIncrement decimal.Decimal `db:"min_increment"`

	CurrentBid decimal.Decimal `db:"current_bid"`
	LeaderID   *string         `db:"leader_id"`
	BidCount   int64           `db:"bid_count"`

	// ExtensionWindow is the trailing anti-snipe window W. A bid accepted
	// with less than W remaining pushes EndTime out to now+W.
	ExtensionWindow time.Duration `db:"extension_window"`
	ExtensionCount  int           `db:"extension_count"`

	DepositRequired bool `db:"deposit_required"`

	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// MinimumAcceptable returns the lowest amount a new bid must meet: the
// reserve price until it has been met, then current bid plus increment.
func (a *Auction) MinimumAcceptable() decimal.Decimal {
	if a.CurrentBid.GreaterThanOrEqual(a.ReservePrice) {
		return a.CurrentBid.Add(a.MinIncrement)
	}
	return a.ReservePrice
}

// InExtensionWindow reports whether a bid accepted at now would leave less
// than ExtensionWindow on the clock.
func (a *Auction) InExtensionWindow(now time.Time) bool {
	return a.EndTime.Sub(now) <= a.ExtensionWindow
}

// StartDue reports whether a scheduled auction should go live at now.
func (a *Auction) StartDue(now time.Time) bool {
	return a.Status == StatusScheduled && !now.Before(a.StartTime)
}

// EndDue reports whether a live auction should end at now.
func (a *Auction) EndDue(now time.Time) bool {
	return a.Status == StatusLive && !now.Before(a.EndTime)
}

// Bid is one accepted bid. Rejected submissions are never recorded, so the
// ledger's sequence per auction is exactly its price history.
type Bid struct {
	ID        string          `db:"id"`
	AuctionID string          `db:"auction_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`

	// Seq is server-assigned and totally orders bids within one auction,
	// consistent with commit order.
	Seq         int64     `db:"seq"`
	SubmittedAt time.Time `db:"submitted_at"`

	// LeadingAtSubmission records whether this bid led when it committed.
	// A historical fact, never updated afterwards.
	LeadingAtSubmission bool `db:"leading_at_submission"`
}

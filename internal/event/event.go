package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	AuctionWentLive    Type = "auction.went_live"
	AuctionBidAccepted Type = "auction.bid_accepted"
	AuctionEnded       Type = "auction.ended"
)

// Event is one committed state change on an auction channel. Payloads are
// already mode-projected when the event is built; subscribers never filter.
type Event struct {
	AuctionID string          `json:"auction_id"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	At        time.Time       `json:"at"`
}

// WentLiveData is the payload for AuctionWentLive events.
type WentLiveData struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// BidAcceptedData is the payload for AuctionBidAccepted events. In sealed
// mode CurrentBid and LeaderID are nil and viewers see the count and clock
// only; EndTime/ExtensionCount carry any anti-snipe extension.
type BidAcceptedData struct {
	CurrentBid     *decimal.Decimal `json:"current_bid,omitempty"`
	LeaderID       *string          `json:"leader_id,omitempty"`
	BidCount       int64            `json:"bid_count"`
	EndTime        time.Time        `json:"end_time"`
	ExtensionCount int              `json:"extension_count"`
}

// EndedData is the terminal payload. It names the winner and final amount
// in both modes: once the auction ends, sealed bids are unsealed for
// settlement.
type EndedData struct {
	WinnerID    *string         `json:"winner_id,omitempty"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// Publisher delivers committed events to observers. Delivery is at-most-once
// best effort: implementations must not block the commit path, and clients
// that miss an event reconcile by re-reading the auction snapshot.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Nop is a Publisher that discards everything. Used in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

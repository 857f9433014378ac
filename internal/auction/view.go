package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the externally visible state of an auction. In sealed mode
// the price and leader are withheld; viewers get the bid count and clock
// only. The projection happens here, at the read boundary, so the engine
// runs a single arbitration path for both modes.
type Snapshot struct {
	AuctionID      string           `json:"auction_id"`
	Status         Status           `json:"status"`
	Mode           Mode             `json:"mode"`
	CurrentBid     *decimal.Decimal `json:"current_bid,omitempty"`
	LeaderID       *string          `json:"leader_id,omitempty"`
	BidCount       int64            `json:"bid_count"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	ExtensionCount int              `json:"extension_count"`
}

// Project returns the mode-shaped snapshot of a.
func Project(a *Auction) Snapshot {
	s := Snapshot{
		AuctionID:      a.ID,
		Status:         a.Status,
		Mode:           a.Mode,
		BidCount:       a.BidCount,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		ExtensionCount: a.ExtensionCount,
	}
	if a.Mode == ModeOpen {
		bid := a.CurrentBid
		s.CurrentBid = &bid
		s.LeaderID = a.LeaderID
	}
	return s
}

// BidView is one entry of a viewer-shaped bid history. Leading marks the
// bid currently holding the price; in sealed mode it is how a bidder
// learns they have been outbid without ever seeing who outbid them.
type BidView struct {
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Own         bool            `json:"own"`
	Leading     bool            `json:"leading"`
}

// HistoryView is the ledger as one viewer may see it. In open mode Bids
// holds every accepted bid; in sealed mode it holds only the viewer's own
// bids and OthersCount aggregates the rest.
type HistoryView struct {
	AuctionID   string    `json:"auction_id"`
	Mode        Mode      `json:"mode"`
	Bids        []BidView `json:"bids"`
	OthersCount int64     `json:"others_count,omitempty"`
}

// ProjectHistory filters bids (seq ascending) for viewerID under a's mode.
func ProjectHistory(a *Auction, bids []Bid, viewerID string) HistoryView {
	v := HistoryView{AuctionID: a.ID, Mode: a.Mode, Bids: []BidView{}}
	for _, b := range bids {
		own := b.BidderID == viewerID
		if a.Mode == ModeSealed && !own {
			v.OthersCount++
			continue
		}
		leading := a.LeaderID != nil && b.BidderID == *a.LeaderID && b.Amount.Equal(a.CurrentBid)
		v.Bids = append(v.Bids, BidView{
			BidderID:    b.BidderID,
			Amount:      b.Amount,
			SubmittedAt: b.SubmittedAt,
			Own:         own,
			Leading:     leading,
		})
	}
	return v
}

// Rank returns bidderID's 1-based position among all bidders' best
// accepted amounts, or 0 if the bidder has no accepted bid. Only
// meaningful in open mode; sealed mode never exposes ranks.
func Rank(bids []Bid, bidderID string) int {
	best := make(map[string]decimal.Decimal)
	for _, b := range bids {
		if cur, ok := best[b.BidderID]; !ok || b.Amount.GreaterThan(cur) {
			best[b.BidderID] = b.Amount
		}
	}
	mine, ok := best[bidderID]
	if !ok {
		return 0
	}
	rank := 1
	for id, amt := range best {
		if id != bidderID && amt.GreaterThan(mine) {
			rank++
		}
	}
	return rank
}

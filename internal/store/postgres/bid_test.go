package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/clock"
	"github.com/mkrogh/auctiond/internal/store/postgres"
)

func TestBidRepo_AppendAndHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	auctions := postgres.NewAuctionRepo(db, clock.Real{})
	a := newLiveAuction()
	if err := auctions.Create(ctx, a); err != nil {
		t.Fatalf("creating auction: %v", err)
	}

	bids := postgres.NewBidRepo(db)
	amounts := []int64{100000, 105000, 112000}
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	// Out-of-order appends: seq is assigned at commit time, the insert
	// order does not matter.
	for _, i := range []int{1, 2, 0} {
		b := &auction.Bid{
			ID:                  uuid.New().String(),
			AuctionID:           a.ID,
			BidderID:            "u1",
			Amount:              decimal.NewFromInt(amounts[i]),
			Seq:                 int64(i) + 1,
			SubmittedAt:         base.Add(time.Duration(i) * time.Minute),
			LeadingAtSubmission: true,
		}
		if err := bids.Append(ctx, b); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	history, err := bids.History(ctx, a.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != len(amounts) {
		t.Fatalf("history length = %d, want %d", len(history), len(amounts))
	}
	for i, b := range history {
		if !b.Amount.Equal(decimal.NewFromInt(amounts[i])) {
			t.Errorf("history[%d].Amount = %s, want %d", i, b.Amount, amounts[i])
		}
		if b.Seq != int64(i)+1 {
			t.Errorf("history[%d].Seq = %d, want %d", i, b.Seq, i+1)
		}
	}

	n, err := bids.Count(ctx, a.ID)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != int64(len(amounts)) {
		t.Errorf("count = %d, want %d", n, len(amounts))
	}
}

func TestBidRepo_AppendDuplicateSeq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	auctions := postgres.NewAuctionRepo(db, clock.Real{})
	a := newLiveAuction()
	if err := auctions.Create(ctx, a); err != nil {
		t.Fatalf("creating auction: %v", err)
	}

	bids := postgres.NewBidRepo(db)
	b := &auction.Bid{
		ID:          uuid.New().String(),
		AuctionID:   a.ID,
		BidderID:    "u1",
		Amount:      decimal.NewFromInt(100000),
		Seq:         1,
		SubmittedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := bids.Append(ctx, b); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	dup := *b
	dup.ID = uuid.New().String()
	if err := bids.Append(ctx, &dup); err == nil {
		t.Fatal("appending a duplicate seq succeeded, want unique violation")
	}
}

func TestBidRepo_HistoryEmpty(t *testing.T) {
	db := newTestDB(t)
	bids := postgres.NewBidRepo(db)

	history, err := bids.History(context.Background(), "no-such-auction")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history length = %d, want 0", len(history))
	}
}

// Package arbiter serializes concurrent bids into one authoritative
// outcome per auction.
//
// The engine is optimistic: it reads the auction record, decides the
// outcome against that snapshot, and commits through a versioned
// compare-and-commit. A lost race re-reads and re-decides; after a
// bounded number of attempts the bid fails with ErrTryAgain rather than
// queueing. Contention is per auction, so bids on different auctions
// never slow each other down.
package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/clock"
	"github.com/mkrogh/auctiond/internal/eligibility"
	"github.com/mkrogh/auctiond/internal/event"
)

// Engine arbitrates bids for every auction in the store.
type Engine struct {
	records auction.RecordStore
	ledger  auction.Ledger
	gate    *eligibility.Gate
	events  event.Publisher

	clk        clock.Clock
	maxRetries int
	defaultWin time.Duration

	logger *slog.Logger
	tracer trace.Tracer
}

// Options tunes the engine.
type Options struct {
	// MaxCommitRetries bounds attempts per bid before ErrTryAgain.
	MaxCommitRetries int
	// DefaultExtensionWindow is used for auctions created without one.
	DefaultExtensionWindow time.Duration
}

// NewEngine returns an Engine. events receives every committed state
// change; compose publishers with event.Multi to fan out to more than one
// sink.
func NewEngine(records auction.RecordStore, ledger auction.Ledger, gate *eligibility.Gate,
	events event.Publisher, clk clock.Clock, opts Options,
	logger *slog.Logger, tp trace.TracerProvider) *Engine {
	if opts.MaxCommitRetries < 1 {
		opts.MaxCommitRetries = 5
	}
	if opts.DefaultExtensionWindow <= 0 {
		opts.DefaultExtensionWindow = 2 * time.Minute
	}
	return &Engine{
		records:    records,
		ledger:     ledger,
		gate:       gate,
		events:     events,
		clk:        clk,
		maxRetries: opts.MaxCommitRetries,
		defaultWin: opts.DefaultExtensionWindow,
		logger:     logger,
		tracer:     tp.Tracer("github.com/mkrogh/auctiond/internal/arbiter"),
	}
}

// CreateParams describes a new auction.
type CreateParams struct {
	ListingID       string          `json:"listing_id"`
	Mode            auction.Mode    `json:"mode"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	ReservePrice    decimal.Decimal `json:"reserve_price"`
	MinIncrement    decimal.Decimal `json:"min_increment"`
	ExtensionWindow time.Duration   `json:"extension_window"`
	DepositRequired bool            `json:"deposit_required"`
}

func (p CreateParams) validate() error {
	if p.ListingID == "" {
		return fmt.Errorf("listing_id is required")
	}
	switch p.Mode {
	case auction.ModeOpen, auction.ModeSealed:
	default:
		return fmt.Errorf("invalid mode %q", p.Mode)
	}
	if !p.StartTime.Before(p.EndTime) {
		return fmt.Errorf("start_time must precede end_time")
	}
	if p.ReservePrice.IsNegative() {
		return fmt.Errorf("reserve_price must not be negative")
	}
	if !p.MinIncrement.IsPositive() {
		return fmt.Errorf("min_increment must be positive")
	}
	if p.ExtensionWindow < 0 {
		return fmt.Errorf("extension_window must not be negative")
	}
	return nil
}

// CreateAuction records a new scheduled auction. It always starts in the
// scheduled state; the lifecycle sweeper (or the first bid attempt) moves
// it to live once StartTime passes.
func (e *Engine) CreateAuction(ctx context.Context, p CreateParams) (*auction.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateAuction",
		trace.WithAttributes(attribute.String("listing_id", p.ListingID)),
	)
	defer span.End()

	if err := p.validate(); err != nil {
		return nil, err
	}

	win := p.ExtensionWindow
	if win == 0 {
		win = e.defaultWin
	}
	a := &auction.Auction{
		ID:              uuid.New().String(),
		ListingID:       p.ListingID,
		Status:          auction.StatusScheduled,
		Mode:            p.Mode,
		StartTime:       p.StartTime.UTC(),
		EndTime:         p.EndTime.UTC(),
		ReservePrice:    p.ReservePrice,
		MinIncrement:    p.MinIncrement,
		ExtensionWindow: win,
		DepositRequired: p.DepositRequired,
	}
	if err := e.records.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	e.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("listing_id", a.ListingID),
		slog.String("mode", string(a.Mode)),
		slog.Time("start_time", a.StartTime),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// Outcome is the authoritative result of one accepted bid submission.
type Outcome struct {
	Accepted bool
	// DryRun marks an admin pre-start submission: validated end to end but
	// never committed, so it moves no state and emits no events.
	DryRun  bool
	Bid     *auction.Bid
	Auction auction.Snapshot
	// Leading and Rank describe the bidder's standing after the commit.
	// Rank is only populated in open mode.
	Leading bool
	Rank    int
}

// SubmitBid arbitrates one bid. On acceptance the record, the ledger and
// the event stream all reflect the bid before it returns. Rejections are
// returned as errors and leave no trace: *eligibility.DeniedError for
// admission failures, ErrBidTooLow for price failures, ErrTryAgain when
// contention exhausted the retry budget.
func (e *Engine) SubmitBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SubmitBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, auction.ErrInvalidAmount
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		a, err := e.resolve(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		now := e.clk.Now()

		d, err := e.gate.Check(ctx, bidderID, a, now)
		if err != nil {
			return nil, fmt.Errorf("checking eligibility: %w", err)
		}
		if !d.Eligible {
			return nil, &eligibility.DeniedError{Reason: d.Reason}
		}

		if amount.LessThan(a.MinimumAcceptable()) {
			return nil, fmt.Errorf("%w: minimum acceptable is %s", auction.ErrBidTooLow, a.MinimumAcceptable())
		}

		if d.PreStart {
			// Admin pre-start bids validate the full path but commit
			// nothing, so a rehearsal can never move the price.
			e.logger.InfoContext(ctx, "admin pre-start bid dry run",
				slog.String("auction_id", a.ID),
				slog.String("bidder_id", bidderID),
				slog.String("amount", amount.String()),
			)
			return &Outcome{Accepted: true, DryRun: true, Auction: auction.Project(a)}, nil
		}

		m := auction.MutationOf(a)
		m.CurrentBid = amount
		m.LeaderID = &bidderID
		m.BidCount++
		if a.InExtensionWindow(now) {
			m.EndTime = now.Add(a.ExtensionWindow)
			m.ExtensionCount++
		}

		updated, err := e.records.CompareAndCommit(ctx, a.ID, a.Version, m)
		if errors.Is(err, auction.ErrVersionConflict) {
			span.AddEvent("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("committing bid: %w", err)
		}

		// The committed bid count is this bid's ledger position: the
		// compare-and-commit serializes increments per auction, so it is
		// unique and gap-free even when appends land out of order.
		bid := &auction.Bid{
			ID:                  uuid.New().String(),
			AuctionID:           a.ID,
			BidderID:            bidderID,
			Amount:              amount,
			Seq:                 updated.BidCount,
			SubmittedAt:         now,
			LeadingAtSubmission: true,
		}
		if err := e.ledger.Append(ctx, bid); err != nil {
			// The record is authoritative; a ledger gap costs history, not
			// correctness.
			e.logger.ErrorContext(ctx, "failed to append bid to ledger",
				slog.String("auction_id", a.ID), slog.Any("error", err))
		}

		e.publishBidAccepted(ctx, updated)
		e.logger.InfoContext(ctx, "bid accepted",
			slog.String("auction_id", a.ID),
			slog.String("bidder_id", bidderID),
			slog.String("amount", amount.String()),
			slog.Int64("bid_count", updated.BidCount),
			slog.Int("extension_count", updated.ExtensionCount),
		)

		out := &Outcome{Accepted: true, Bid: bid, Auction: auction.Project(updated), Leading: true}
		if updated.Mode == auction.ModeOpen {
			if history, err := e.ledger.History(ctx, a.ID); err == nil {
				out.Rank = auction.Rank(history, bidderID)
			}
		}
		return out, nil
	}

	return nil, auction.ErrTryAgain
}

// Snapshot returns the mode-shaped view of an auction, applying any due
// lifecycle transition first so a reader never sees a live auction past
// its end time.
func (e *Engine) Snapshot(ctx context.Context, auctionID string) (auction.Snapshot, error) {
	a, err := e.resolve(ctx, auctionID)
	if err != nil {
		return auction.Snapshot{}, err
	}
	return auction.Project(a), nil
}

// History returns the bid history as viewerID may see it under the
// auction's visibility mode.
func (e *Engine) History(ctx context.Context, auctionID, viewerID string) (auction.HistoryView, error) {
	a, err := e.resolve(ctx, auctionID)
	if err != nil {
		return auction.HistoryView{}, err
	}
	bids, err := e.ledger.History(ctx, auctionID)
	if err != nil {
		return auction.HistoryView{}, fmt.Errorf("reading bid history: %w", err)
	}
	return auction.ProjectHistory(a, bids, viewerID), nil
}

// resolve loads an auction and applies any overdue lifecycle transition,
// so callers always decide against the auction's true current state even
// if the sweeper is behind.
func (e *Engine) resolve(ctx context.Context, auctionID string) (*auction.Auction, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		a, err := e.records.Get(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		now := e.clk.Now()

		switch {
		case a.StartDue(now):
			updated, err := e.goLive(ctx, a)
			if errors.Is(err, auction.ErrVersionConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			a = updated
		case a.EndDue(now):
			updated, err := e.end(ctx, a)
			if errors.Is(err, auction.ErrVersionConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			a = updated
		}
		return a, nil
	}
	return nil, auction.ErrTryAgain
}

// goLive commits scheduled -> live and announces it.
func (e *Engine) goLive(ctx context.Context, a *auction.Auction) (*auction.Auction, error) {
	m := auction.MutationOf(a)
	m.Status = auction.StatusLive
	updated, err := e.records.CompareAndCommit(ctx, a.ID, a.Version, m)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(event.WentLiveData{
		StartTime: updated.StartTime,
		EndTime:   updated.EndTime,
	})
	e.events.Publish(ctx, event.Event{
		AuctionID: updated.ID,
		Type:      event.AuctionWentLive,
		Data:      data,
		At:        e.clk.Now(),
	})

	e.logger.InfoContext(ctx, "auction went live", slog.String("auction_id", updated.ID))
	return updated, nil
}

// end commits live -> ended and announces the result. The terminal event
// names the winner and final amount in both modes: sealed auctions unseal
// at the end for settlement.
func (e *Engine) end(ctx context.Context, a *auction.Auction) (*auction.Auction, error) {
	m := auction.MutationOf(a)
	m.Status = auction.StatusEnded
	updated, err := e.records.CompareAndCommit(ctx, a.ID, a.Version, m)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(event.EndedData{
		WinnerID:    updated.LeaderID,
		FinalAmount: updated.CurrentBid,
	})
	e.events.Publish(ctx, event.Event{
		AuctionID: updated.ID,
		Type:      event.AuctionEnded,
		Data:      data,
		At:        e.clk.Now(),
	})

	winner := "none"
	if updated.LeaderID != nil {
		winner = *updated.LeaderID
	}
	e.logger.InfoContext(ctx, "auction ended",
		slog.String("auction_id", updated.ID),
		slog.String("winner_id", winner),
		slog.String("final_amount", updated.CurrentBid.String()),
		slog.Int64("bid_count", updated.BidCount),
	)
	return updated, nil
}

// publishBidAccepted emits the mode-shaped bid event: open auctions carry
// the new price and leader, sealed auctions only the count and clock.
func (e *Engine) publishBidAccepted(ctx context.Context, a *auction.Auction) {
	d := event.BidAcceptedData{
		BidCount:       a.BidCount,
		EndTime:        a.EndTime,
		ExtensionCount: a.ExtensionCount,
	}
	if a.Mode == auction.ModeOpen {
		bid := a.CurrentBid
		d.CurrentBid = &bid
		d.LeaderID = a.LeaderID
	}
	data, _ := json.Marshal(d)
	e.events.Publish(ctx, event.Event{
		AuctionID: a.ID,
		Type:      event.AuctionBidAccepted,
		Data:      data,
		At:        e.clk.Now(),
	})
}

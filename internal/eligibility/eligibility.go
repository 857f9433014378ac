// Package eligibility decides whether a user may bid on an auction right
// now. The gate is a pure predicate over external collaborator state
// (membership, deposits, terms acceptance) evaluated fresh on every
// attempt; nothing is cached between bids because membership or deposit
// status can change between two attempts seconds apart.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkrogh/auctiond/internal/auction"
)

var tracer = otel.Tracer("github.com/mkrogh/auctiond/internal/eligibility")

// Reason explains why a bid attempt was refused admission.
type Reason string

const (
	ReasonNotLive       Reason = "auction_not_live"
	ReasonEnded         Reason = "auction_ended"
	ReasonNoMembership  Reason = "membership_inactive"
	ReasonDepositUnpaid Reason = "deposit_unpaid"
	ReasonTermsStale    Reason = "terms_not_accepted_today"
)

// DeniedError is the terminal, user-facing refusal for one attempt.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("not eligible to bid: %s", e.Reason)
}

// Membership is a user's standing with the membership service.
type Membership struct {
	Active bool
	Admin  bool
}

// MembershipLookup reads membership status from the membership service.
type MembershipLookup interface {
	Membership(ctx context.Context, userID string) (Membership, error)
}

// DepositLookup reads refundable-deposit (EMD) payment state.
type DepositLookup interface {
	DepositPaid(ctx context.Context, userID, auctionID string) (bool, error)
}

// TermsLookup reads when the user last accepted the participation terms.
// A zero time means never.
type TermsLookup interface {
	TermsAcceptedOn(ctx context.Context, userID string) (time.Time, error)
}

// Directory bundles the three collaborator lookups; the store layer
// implements it against the surrounding marketplace's tables.
type Directory interface {
	MembershipLookup
	DepositLookup
	TermsLookup
}

// Decision is the gate's verdict for one (user, auction, now) triple.
type Decision struct {
	Eligible bool
	Reason   Reason
	// Admin marks an admin-override admission. Admins may be admitted
	// before start time; the engine routes such bids to a dry run.
	Admin    bool
	PreStart bool
}

// Gate evaluates the admission checks in order, short-circuiting on the
// first failure.
type Gate struct {
	dir Directory
}

// NewGate returns a Gate reading collaborator state from dir.
func NewGate(dir Directory) *Gate {
	return &Gate{dir: dir}
}

// Check runs the admission checks for userID against a at time now.
// Check order: auction not ended, membership (admins may bid pre-start),
// deposit, terms accepted on today's UTC date. The ended check precedes
// the membership lookup: it is terminal regardless of who asks, so a
// collaborator outage never masks it. Lookup failures are returned as
// errors, not refusals.
func (g *Gate) Check(ctx context.Context, userID string, a *auction.Auction, now time.Time) (Decision, error) {
	ctx, span := tracer.Start(ctx, "Gate.Check",
		trace.WithAttributes(
			attribute.String("auction.id", a.ID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if a.Status == auction.StatusEnded || !now.Before(a.EndTime) {
		return Decision{Reason: ReasonEnded}, nil
	}

	m, err := g.dir.Membership(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up membership: %w", err)
	}
	d := Decision{Admin: m.Admin}

	if now.Before(a.StartTime) {
		if !m.Admin {
			d.Reason = ReasonNotLive
			return d, nil
		}
		d.PreStart = true
	}

	if !m.Active && !m.Admin {
		d.Reason = ReasonNoMembership
		return d, nil
	}

	if a.DepositRequired {
		paid, err := g.dir.DepositPaid(ctx, userID, a.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("looking up deposit: %w", err)
		}
		if !paid {
			d.Reason = ReasonDepositUnpaid
			return d, nil
		}
	}

	accepted, err := g.dir.TermsAcceptedOn(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up terms acceptance: %w", err)
	}
	if !sameUTCDay(accepted, now) {
		d.Reason = ReasonTermsStale
		return d, nil
	}

	d.Eligible = true
	return d, nil
}

// sameUTCDay reports whether a and b fall on the same UTC calendar day.
// Terms acceptance is date-scoped: a fresh day requires re-acceptance.
func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

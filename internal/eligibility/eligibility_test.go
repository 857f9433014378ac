package eligibility_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/eligibility"
)

// fakeDirectory is an in-memory eligibility.Directory.
type fakeDirectory struct {
	memberships map[string]eligibility.Membership
	deposits    map[string]bool // userID -> paid
	terms       map[string]time.Time
	err         error
}

func (f *fakeDirectory) Membership(_ context.Context, userID string) (eligibility.Membership, error) {
	if f.err != nil {
		return eligibility.Membership{}, f.err
	}
	return f.memberships[userID], nil
}

func (f *fakeDirectory) DepositPaid(_ context.Context, userID, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.deposits[userID], nil
}

func (f *fakeDirectory) TermsAcceptedOn(_ context.Context, userID string) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.terms[userID], nil
}

func testAuction(status auction.Status, depositRequired bool, start, end time.Time) *auction.Auction {
	return &auction.Auction{
		ID:              "auc-1",
		Status:          status,
		Mode:            auction.ModeOpen,
		StartTime:       start,
		EndTime:         end,
		ReservePrice:    decimal.NewFromInt(100000),
		MinIncrement:    decimal.NewFromInt(5000),
		DepositRequired: depositRequired,
	}
}

func TestGate_Check(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	member := eligibility.Membership{Active: true}
	admin := eligibility.Membership{Admin: true}

	tests := []struct {
		name       string
		auction    *auction.Auction
		membership eligibility.Membership
		depositOK  bool
		acceptedOn time.Time
		wantOK     bool
		wantReason eligibility.Reason
		wantPre    bool
	}{
		{
			name:       "active member on live auction",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: member,
			acceptedOn: now,
			wantOK:     true,
		},
		{
			name:       "auction already ended",
			auction:    testAuction(auction.StatusEnded, false, start, now.Add(-time.Minute)),
			membership: member,
			acceptedOn: now,
			wantReason: eligibility.ReasonEnded,
		},
		{
			name:       "end time passed but status not yet swept",
			auction:    testAuction(auction.StatusLive, false, start, now.Add(-time.Second)),
			membership: member,
			acceptedOn: now,
			wantReason: eligibility.ReasonEnded,
		},
		{
			name:       "not started, regular member",
			auction:    testAuction(auction.StatusScheduled, false, now.Add(time.Hour), now.Add(2*time.Hour)),
			membership: member,
			acceptedOn: now,
			wantReason: eligibility.ReasonNotLive,
		},
		{
			name:       "not started, admin override",
			auction:    testAuction(auction.StatusScheduled, false, now.Add(time.Hour), now.Add(2*time.Hour)),
			membership: admin,
			acceptedOn: now,
			wantOK:     true,
			wantPre:    true,
		},
		{
			name:       "expired membership",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: eligibility.Membership{},
			acceptedOn: now,
			wantReason: eligibility.ReasonNoMembership,
		},
		{
			name:       "admin without membership",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: admin,
			acceptedOn: now,
			wantOK:     true,
		},
		{
			name:       "deposit required and unpaid",
			auction:    testAuction(auction.StatusLive, true, start, end),
			membership: member,
			acceptedOn: now,
			wantReason: eligibility.ReasonDepositUnpaid,
		},
		{
			name:       "deposit required and paid",
			auction:    testAuction(auction.StatusLive, true, start, end),
			membership: member,
			depositOK:  true,
			acceptedOn: now,
			wantOK:     true,
		},
		{
			name:       "terms accepted yesterday",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: member,
			acceptedOn: now.AddDate(0, 0, -1),
			wantReason: eligibility.ReasonTermsStale,
		},
		{
			name:       "terms never accepted",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: member,
			wantReason: eligibility.ReasonTermsStale,
		},
		{
			name:       "terms accepted earlier the same UTC day",
			auction:    testAuction(auction.StatusLive, false, start, end),
			membership: member,
			acceptedOn: time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
			wantOK:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{
				memberships: map[string]eligibility.Membership{"u1": tt.membership},
				deposits:    map[string]bool{"u1": tt.depositOK},
				terms:       map[string]time.Time{"u1": tt.acceptedOn},
			}
			gate := eligibility.NewGate(dir)

			d, err := gate.Check(context.Background(), "u1", tt.auction, now)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if d.Eligible != tt.wantOK {
				t.Errorf("Eligible = %v, want %v (reason %q)", d.Eligible, tt.wantOK, d.Reason)
			}
			if !tt.wantOK && d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if d.PreStart != tt.wantPre {
				t.Errorf("PreStart = %v, want %v", d.PreStart, tt.wantPre)
			}
		})
	}
}

func TestGate_Check_LookupError(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("membership service down")}
	gate := eligibility.NewGate(dir)

	now := time.Now().UTC()
	a := testAuction(auction.StatusLive, false, now.Add(-time.Hour), now.Add(time.Hour))

	if _, err := gate.Check(context.Background(), "u1", a, now); err == nil {
		t.Fatal("expected lookup error, got nil")
	}
}

func TestGate_Check_EndedBeforeLookups(t *testing.T) {
	// An ended auction is a terminal refusal; the collaborator services
	// must not even be consulted, so their outages cannot mask it.
	dir := &fakeDirectory{err: errors.New("membership service down")}
	gate := eligibility.NewGate(dir)

	now := time.Now().UTC()
	a := testAuction(auction.StatusEnded, false, now.Add(-2*time.Hour), now.Add(-time.Hour))

	d, err := gate.Check(context.Background(), "u1", a, now)
	if err != nil {
		t.Fatalf("Check() error = %v, want ended refusal despite lookup outage", err)
	}
	if d.Eligible || d.Reason != eligibility.ReasonEnded {
		t.Errorf("Decision = %+v, want ReasonEnded", d)
	}
}

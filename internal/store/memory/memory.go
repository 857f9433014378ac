// Package memory provides a store.Driver backed by in-process maps. It
// implements the same compare-and-commit semantics as the Postgres driver
// and backs unit tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkrogh/auctiond/internal/auction"
	"github.com/mkrogh/auctiond/internal/clock"
	"github.com/mkrogh/auctiond/internal/config"
	"github.com/mkrogh/auctiond/internal/eligibility"
	"github.com/mkrogh/auctiond/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return Open(clk), nil
	})
}

// Open returns Repositories backed by a fresh in-memory store.
func Open(clk clock.Clock) *store.Repositories {
	s := NewStore(clk)
	return &store.Repositories{
		Auctions:     s,
		Bids:         s,
		Participants: s,
		Closer:       closerFunc(func() error { return nil }),
		Ping:         func(context.Context) error { return nil },
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type participant struct {
	membership eligibility.Membership
	deposits   map[string]bool // auctionID -> paid
	termsOn    time.Time
}

// Store holds all state behind one mutex. Per-auction contention is what
// the engine cares about; a single lock is fine at test/dev scale.
type Store struct {
	mu           sync.RWMutex
	clk          clock.Clock
	auctions     map[string]*auction.Auction
	bids         map[string][]auction.Bid
	participants map[string]*participant
}

// NewStore returns an empty Store.
func NewStore(clk clock.Clock) *Store {
	return &Store{
		clk:          clk,
		auctions:     make(map[string]*auction.Auction),
		bids:         make(map[string][]auction.Bid),
		participants: make(map[string]*participant),
	}
}

// Create stores a new auction record at version 1.
func (s *Store) Create(_ context.Context, a *auction.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	s.auctions[a.ID] = &cp
	return nil
}

// Get returns a copy of the auction record.
func (s *Store) Get(_ context.Context, id string) (*auction.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, auction.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// CompareAndCommit applies m only if the stored version still equals
// expectedVersion, bumping the version on success.
func (s *Store) CompareAndCommit(_ context.Context, id string, expectedVersion int64, m auction.Mutation) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, auction.ErrNotFound
	}
	if a.Version != expectedVersion {
		return nil, auction.ErrVersionConflict
	}

	a.Status = m.Status
	a.CurrentBid = m.CurrentBid
	a.LeaderID = m.LeaderID
	a.BidCount = m.BidCount
	a.EndTime = m.EndTime
	a.ExtensionCount = m.ExtensionCount
	a.Version++
	a.UpdatedAt = s.clk.Now().UTC()

	cp := *a
	return &cp, nil
}

// ListStartDue returns scheduled auctions whose start time has passed.
func (s *Store) ListStartDue(_ context.Context, now time.Time) ([]auction.Auction, error) {
	return s.list(func(a *auction.Auction) bool { return a.StartDue(now) }), nil
}

// ListEndDue returns live auctions whose end time has passed.
func (s *Store) ListEndDue(_ context.Context, now time.Time) ([]auction.Auction, error) {
	return s.list(func(a *auction.Auction) bool { return a.EndDue(now) }), nil
}

func (s *Store) list(match func(*auction.Auction) bool) []auction.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []auction.Auction
	for _, a := range s.auctions {
		if match(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Append adds a bid to the ledger at its caller-assigned sequence
// position. Concurrent appends may arrive out of seq order; History sorts.
func (s *Store) Append(_ context.Context, b *auction.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], *b)
	return nil
}

// History returns all bids for an auction in sequence order.
func (s *Store) History(_ context.Context, auctionID string) ([]auction.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]auction.Bid, len(s.bids[auctionID]))
	copy(out, s.bids[auctionID])
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Count returns the number of bids recorded for an auction.
func (s *Store) Count(_ context.Context, auctionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.bids[auctionID])), nil
}

// Membership implements eligibility.MembershipLookup. Unknown users have
// no membership.
func (s *Store) Membership(_ context.Context, userID string) (eligibility.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[userID]
	if !ok {
		return eligibility.Membership{}, nil
	}
	return p.membership, nil
}

// DepositPaid implements eligibility.DepositLookup.
func (s *Store) DepositPaid(_ context.Context, userID, auctionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[userID]
	if !ok {
		return false, nil
	}
	return p.deposits[auctionID], nil
}

// TermsAcceptedOn implements eligibility.TermsLookup.
func (s *Store) TermsAcceptedOn(_ context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[userID]
	if !ok {
		return time.Time{}, nil
	}
	return p.termsOn, nil
}

// SetMembership seeds membership state for a user.
func (s *Store) SetMembership(userID string, m eligibility.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParticipant(userID).membership = m
}

// SetDepositPaid seeds deposit state for a (user, auction) pair.
func (s *Store) SetDepositPaid(userID, auctionID string, paid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParticipant(userID).deposits[auctionID] = paid
}

// SetTermsAcceptedOn seeds the user's last terms acceptance.
func (s *Store) SetTermsAcceptedOn(userID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureParticipant(userID).termsOn = t
}

func (s *Store) ensureParticipant(userID string) *participant {
	p, ok := s.participants[userID]
	if !ok {
		p = &participant{deposits: make(map[string]bool)}
		s.participants[userID] = p
	}
	return p
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/auctiond/internal/eligibility"
)

// ParticipantRepo implements eligibility.Directory against the
// marketplace's membership, deposit and terms-acceptance tables. These
// tables are written by the surrounding system; the engine only reads.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo returns a new ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// Membership returns the user's membership standing. A missing row means
// no membership, not an error: state is read fresh per bid attempt.
func (r *ParticipantRepo) Membership(ctx context.Context, userID string) (eligibility.Membership, error) {
	var row struct {
		Active bool `db:"active"`
		Admin  bool `db:"is_admin"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT active, is_admin FROM memberships WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.Membership{}, nil
	}
	if err != nil {
		return eligibility.Membership{}, fmt.Errorf("reading membership: %w", err)
	}
	return eligibility.Membership{Active: row.Active, Admin: row.Admin}, nil
}

// DepositPaid reports whether the user's refundable deposit for this
// auction has cleared.
func (r *ParticipantRepo) DepositPaid(ctx context.Context, userID, auctionID string) (bool, error) {
	var paid bool
	err := r.db.GetContext(ctx, &paid,
		`SELECT paid FROM deposits WHERE user_id = $1 AND auction_id = $2`, userID, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading deposit: %w", err)
	}
	return paid, nil
}

// TermsAcceptedOn returns the most recent terms acceptance, or the zero
// time if the user never accepted.
func (r *ParticipantRepo) TermsAcceptedOn(ctx context.Context, userID string) (time.Time, error) {
	var at sql.NullTime
	err := r.db.GetContext(ctx, &at,
		`SELECT MAX(accepted_at) FROM terms_acceptances WHERE user_id = $1`, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading terms acceptance: %w", err)
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

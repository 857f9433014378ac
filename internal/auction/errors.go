package auction

import "errors"

// Errors returned by bid arbitration. All of these are terminal for the
// attempt except ErrTryAgain, which signals the caller to resubmit.
var (
	ErrNotFound      = errors.New("auction not found")
	ErrBidTooLow     = errors.New("bid is below the minimum acceptable amount")
	ErrInvalidAmount = errors.New("bid amount must be positive")

	// ErrTryAgain is surfaced when the commit retry budget is exhausted
	// under contention. The bid was not accepted; resubmitting is safe.
	ErrTryAgain = errors.New("auction is busy, try again")

	// ErrVersionConflict is returned by RecordStore.CompareAndCommit when
	// the expected version is stale. It is retried inside the engine and
	// never reaches callers.
	ErrVersionConflict = errors.New("auction version conflict")
)

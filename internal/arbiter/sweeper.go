package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mkrogh/auctiond/internal/auction"
)

// ActivateDue moves every overdue scheduled auction to live and returns
// how many transitions were committed. A version conflict means another
// instance already did the work and is not an error.
func (e *Engine) ActivateDue(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ActivateDue")
	defer span.End()

	due, err := e.records.ListStartDue(ctx, e.clk.Now())
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range due {
		if _, err := e.goLive(ctx, &due[i]); err != nil {
			if errors.Is(err, auction.ErrVersionConflict) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// CloseDue moves every overdue live auction to ended and returns how many
// transitions were committed.
func (e *Engine) CloseDue(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CloseDue")
	defer span.End()

	due, err := e.records.ListEndDue(ctx, e.clk.Now())
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range due {
		if _, err := e.end(ctx, &due[i]); err != nil {
			if errors.Is(err, auction.ErrVersionConflict) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Sweep runs one activation and close pass.
func (e *Engine) Sweep(ctx context.Context) error {
	if _, err := e.ActivateDue(ctx); err != nil {
		return err
	}
	_, err := e.CloseDue(ctx)
	return err
}

// RunSweeper sweeps on the given interval until ctx is cancelled. Bids
// also apply overdue transitions lazily, so the sweeper only bounds how
// long an idle auction's terminal event can lag its end time.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "lifecycle sweeper started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "lifecycle sweeper stopped")
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.logger.ErrorContext(ctx, "lifecycle sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Package services holds the consistency engine: the balance aggregator, the
// recurring-transaction materializer, the transaction service and the
// analytics rollup. All of them are written against the ledger ports.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/ledger"
)

// Aggregator keeps monthly balance snapshots consistent with the transaction
// log: for every snapshot, closing == opening + income - expenses, and a
// month's opening equals the previous month's closing unless pinned by an
// override.
type Aggregator struct {
	store ledger.Store
}

func NewAggregator(store ledger.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Recompute rebuilds the month's snapshot from its transactions and cascades
// the new closing forward through every later snapshot until an overridden
// month or the end of recorded history. Each month commits in its own unit of
// work, so a reader never observes a month violating the ledger invariant.
func (a *Aggregator) Recompute(ctx context.Context, userID int64, month core.Month) (core.MonthlyBalance, error) {
	if userID == 0 {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, core.ErrMissingUser)
	}
	if err := month.Validate(); err != nil {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	var out core.MonthlyBalance
	err := a.store.WithTx(ctx, func(st ledger.Store) error {
		var err error
		out, err = a.computeMonth(ctx, st, userID, month)
		return err
	})
	if err != nil {
		return core.MonthlyBalance{}, err
	}

	if err := a.cascade(ctx, userID, month); err != nil {
		return core.MonthlyBalance{}, err
	}

	slog.DebugContext(ctx, "Monthly balance recomputed",
		"user_id", userID,
		"year", month.Year,
		"month", month.Month,
		"closing_cents", out.Closing.Cents)
	return out, nil
}

// Balance returns the month's snapshot, computing and persisting it first if
// none exists yet.
func (a *Aggregator) Balance(ctx context.Context, userID int64, month core.Month) (core.MonthlyBalance, error) {
	if userID == 0 {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, core.ErrMissingUser)
	}
	if err := month.Validate(); err != nil {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	existing, err := a.store.MonthlyBalance(ctx, userID, month)
	if err != nil {
		return core.MonthlyBalance{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return a.Recompute(ctx, userID, month)
}

// SetOpeningOverride pins the month's opening balance to the given amount.
// The pinned opening survives any later recompute until cleared, and the new
// closing cascades forward like any other balance change.
func (a *Aggregator) SetOpeningOverride(ctx context.Context, userID int64, month core.Month, opening core.Money) (core.MonthlyBalance, error) {
	return a.setOverride(ctx, userID, month, &opening)
}

// ClearOpeningOverride unpins the month; its opening reverts to the previous
// month's closing on the recompute that follows.
func (a *Aggregator) ClearOpeningOverride(ctx context.Context, userID int64, month core.Month) (core.MonthlyBalance, error) {
	return a.setOverride(ctx, userID, month, nil)
}

func (a *Aggregator) setOverride(ctx context.Context, userID int64, month core.Month, opening *core.Money) (core.MonthlyBalance, error) {
	if userID == 0 {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, core.ErrMissingUser)
	}
	if err := month.Validate(); err != nil {
		return core.MonthlyBalance{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	var out core.MonthlyBalance
	err := a.store.WithTx(ctx, func(st ledger.Store) error {
		row, err := st.MonthlyBalance(ctx, userID, month)
		if err != nil {
			return err
		}
		var b core.MonthlyBalance
		if row != nil {
			b = *row
		} else {
			b = core.MonthlyBalance{UserID: userID, Year: month.Year, Month: month.Month}
		}
		if opening != nil {
			b.Opening = *opening
			b.OpeningIsOverride = true
		} else {
			b.OpeningIsOverride = false
		}
		if _, err := st.UpsertMonthlyBalance(ctx, b); err != nil {
			return err
		}
		out, err = a.computeMonth(ctx, st, userID, month)
		return err
	})
	if err != nil {
		return core.MonthlyBalance{}, err
	}

	if err := a.cascade(ctx, userID, month); err != nil {
		return core.MonthlyBalance{}, err
	}

	slog.InfoContext(ctx, "Opening balance override changed",
		"user_id", userID,
		"year", month.Year,
		"month", month.Month,
		"pinned", opening != nil)
	return out, nil
}

// computeMonth rebuilds one month's snapshot inside the caller's unit of
// work and returns the stored row. The opening comes from the override if
// pinned, otherwise from the previous month's closing, lazily backfilling
// older months the first time a gap in recorded history is touched.
func (a *Aggregator) computeMonth(ctx context.Context, st ledger.Store, userID int64, month core.Month) (core.MonthlyBalance, error) {
	existing, err := st.MonthlyBalance(ctx, userID, month)
	if err != nil {
		return core.MonthlyBalance{}, err
	}

	var opening core.Money
	override := existing != nil && existing.OpeningIsOverride
	if override {
		opening = existing.Opening
	} else {
		opening, err = a.openingFor(ctx, st, userID, month)
		if err != nil {
			return core.MonthlyBalance{}, err
		}
	}

	txs, err := st.TransactionsByMonth(ctx, userID, month)
	if err != nil {
		return core.MonthlyBalance{}, err
	}
	var income, expenses int64
	for _, t := range txs {
		if t.Type == core.Income {
			income += t.Amount.Cents
		} else {
			expenses += t.Amount.Cents
		}
	}

	b := core.MonthlyBalance{
		UserID:            userID,
		Year:              month.Year,
		Month:             month.Month,
		Opening:           opening,
		Income:            core.Money{Cents: income},
		Expenses:          core.Money{Cents: expenses},
		Closing:           core.Money{Cents: opening.Cents + income - expenses},
		OpeningIsOverride: override,
	}
	return st.UpsertMonthlyBalance(ctx, b)
}

// openingFor derives the opening balance for a month with no pinned override.
// When the previous month has no snapshot but older activity exists, it walks
// back to the most recent snapshot (or the start of history) and fills the
// gap forward, so every derived opening is anchored in real transactions.
func (a *Aggregator) openingFor(ctx context.Context, st ledger.Store, userID int64, month core.Month) (core.Money, error) {
	prev := month.Prev()
	pb, err := st.MonthlyBalance(ctx, userID, prev)
	if err != nil {
		return core.Money{}, err
	}
	if pb != nil {
		return pb.Closing, nil
	}

	earlier, err := st.HasTransactionsBefore(ctx, userID, month)
	if err != nil {
		return core.Money{}, err
	}
	if !earlier {
		// Recorded history starts at this month.
		return core.Money{}, nil
	}

	start := prev
	for {
		before, err := st.HasTransactionsBefore(ctx, userID, start)
		if err != nil {
			return core.Money{}, err
		}
		if !before {
			break
		}
		row, err := st.MonthlyBalance(ctx, userID, start.Prev())
		if err != nil {
			return core.Money{}, err
		}
		if row != nil {
			break
		}
		start = start.Prev()
	}

	var filled core.MonthlyBalance
	for cur := start; ; cur = cur.Next() {
		filled, err = a.computeMonth(ctx, st, userID, cur)
		if err != nil {
			return core.Money{}, err
		}
		if cur == prev {
			break
		}
	}
	return filled.Closing, nil
}

// cascade pushes a changed closing through the following months. It stops at
// the first overridden month, at the first month whose snapshot did not
// change, or when no later snapshot exists.
func (a *Aggregator) cascade(ctx context.Context, userID int64, from core.Month) error {
	for cur := from.Next(); ; cur = cur.Next() {
		var stop bool
		err := a.store.WithTx(ctx, func(st ledger.Store) error {
			row, err := st.MonthlyBalance(ctx, userID, cur)
			if err != nil {
				return err
			}
			if row == nil || row.OpeningIsOverride {
				stop = true
				return nil
			}
			updated, err := a.computeMonth(ctx, st, userID, cur)
			if err != nil {
				return err
			}
			if updated.Opening == row.Opening && updated.Closing == row.Closing {
				stop = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

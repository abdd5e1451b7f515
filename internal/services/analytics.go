package services

import (
	"context"
	"fmt"
	"sort"

	"tally/internal/core"
	"tally/internal/ledger"
)

// Analytics is the read-only rollup over a date range. It never writes: the
// numbers come straight from the transaction log, not from the monthly
// snapshots.
type Analytics struct {
	store ledger.Store
}

func NewAnalytics(store ledger.Store) *Analytics {
	return &Analytics{store: store}
}

// Summarize totals income and expenses over [from, to] and breaks both down
// by category. Transactions without a category land in the Uncategorized
// bucket.
func (a *Analytics) Summarize(ctx context.Context, userID int64, from, to core.Date) (core.RangeSummary, error) {
	if userID == 0 {
		return core.RangeSummary{}, fmt.Errorf("%w: %v", core.ErrValidation, core.ErrMissingUser)
	}
	if err := from.Validate(); err != nil {
		return core.RangeSummary{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	if err := to.Validate(); err != nil {
		return core.RangeSummary{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	if to.Before(from.Time) {
		return core.RangeSummary{}, fmt.Errorf("%w: range end before start", core.ErrValidation)
	}

	txs, err := a.store.TransactionsInRange(ctx, userID, from, to)
	if err != nil {
		return core.RangeSummary{}, err
	}
	cats, err := a.store.CategoriesByUser(ctx, userID)
	if err != nil {
		return core.RangeSummary{}, err
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	type bucket struct {
		name string
		typ  core.TransactionType
	}
	sums := map[bucket]int64{}
	out := core.RangeSummary{From: from, To: to}
	for _, t := range txs {
		if t.Type == core.Income {
			out.Income.Cents += t.Amount.Cents
		} else {
			out.Expenses.Cents += t.Amount.Cents
		}
		name := core.UncategorizedBucket
		if t.CategoryID != nil {
			if n, ok := names[*t.CategoryID]; ok {
				name = n
			}
		}
		sums[bucket{name, t.Type}] += t.Amount.Cents
	}
	out.Net = core.Money{Cents: out.Income.Cents - out.Expenses.Cents}

	for b, cents := range sums {
		out.ByCategory = append(out.ByCategory, core.CategoryAmount{
			Name:   b.name,
			Type:   b.typ,
			Amount: core.Money{Cents: cents},
		})
	}
	sort.Slice(out.ByCategory, func(i, j int) bool {
		a, b := out.ByCategory[i], out.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Type < b.Type
	})
	return out, nil
}

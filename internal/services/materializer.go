package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/ledger"
)

// Per-rule safety cap on occurrences generated in one run. A rule further
// behind than this catches up over consecutive runs.
const maxOccurrencesPerRun = 400

// Materializer turns due recurring rules into real transactions. A run may be
// triggered more than once for the same instant; the cursor is re-read inside
// each occurrence's unit of work, so duplicate triggers find nothing due and
// create nothing.
type Materializer struct {
	store    ledger.Store
	agg      *Aggregator
	maxUsers int              // concurrent users per batch run
	now      func() time.Time // injectable for tests
}

// Report summarizes one materialization run.
type Report struct {
	RunID               string
	TransactionsCreated int
	RulesProcessed      int
	ProcessedAt         time.Time
}

func NewMaterializer(store ledger.Store, agg *Aggregator) *Materializer {
	return &Materializer{
		store:    store,
		agg:      agg,
		maxUsers: 4,
		now:      time.Now,
	}
}

// Run materializes every due occurrence of every active rule in scope, up to
// the current date. Users are processed concurrently, a user's rules
// sequentially. Per-rule failures are logged and skipped; the run keeps going
// and reports what it actually created.
func (m *Materializer) Run(ctx context.Context, scope ledger.Scope) (Report, error) {
	report := Report{
		RunID:       uuid.NewString(),
		ProcessedAt: m.now().UTC(),
	}
	asOf := core.DateOf(report.ProcessedAt)

	due, err := m.store.DueRules(ctx, scope, asOf)
	if err != nil {
		return report, err
	}
	report.RulesProcessed = len(due)
	if len(due) == 0 {
		return report, nil
	}

	byUser := map[int64][]core.RecurringRule{}
	for _, r := range due {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	slog.InfoContext(ctx, "Materialization run started",
		"run_id", report.RunID,
		"scope_user_id", scope.UserID,
		"due_rules", len(due),
		"as_of", asOf.String())

	var (
		mu    sync.Mutex
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxUsers)
	for userID, rules := range byUser {
		g.Go(func() error {
			created := 0
			for _, r := range rules {
				n, err := m.materializeRule(gctx, r.ID, asOf)
				if err != nil {
					slog.ErrorContext(gctx, "Failed to materialize rule",
						"run_id", report.RunID,
						"rule_id", r.ID,
						"user_id", userID,
						"error", err)
					continue
				}
				created += n
			}
			mu.Lock()
			total += created
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.TransactionsCreated = total

	slog.InfoContext(ctx, "Materialization run finished",
		"run_id", report.RunID,
		"created", report.TransactionsCreated,
		"rules", report.RulesProcessed)
	return report, nil
}

var errNothingDue = errors.New("nothing due")

// materializeRule catches one rule up to asOf, oldest occurrence first. Each
// occurrence commits atomically: transaction row, cursor advance and the
// month's snapshot together. A crash between occurrences loses nothing; the
// next run resumes from the committed cursor.
func (m *Materializer) materializeRule(ctx context.Context, ruleID int64, asOf core.Date) (int, error) {
	created := 0
	var userID int64
	touched := map[core.Month]bool{}

	for created < maxOccurrencesPerRun {
		var month core.Month
		err := m.store.WithTx(ctx, func(st ledger.Store) error {
			r, err := st.RuleForUpdate(ctx, ruleID)
			if err != nil {
				return err
			}
			occ := core.DueOccurrences(r, asOf, 1)
			if !r.Active || len(occ) == 0 {
				return errNothingDue
			}
			userID = r.UserID

			due := occ[0]
			t := core.Transaction{
				UserID:     r.UserID,
				Type:       r.Type,
				Amount:     r.Amount,
				Date:       due,
				Note:       r.Note,
				CategoryID: r.CategoryID,
				RuleID:     &r.ID,
			}
			if _, err := st.CreateTransaction(ctx, t); err != nil {
				return err
			}
			if err := st.AdvanceRuleCursor(ctx, r.ID, core.NextOccurrence(r), due); err != nil {
				return err
			}
			month = due.MonthOf()
			_, err = m.agg.computeMonth(ctx, st, r.UserID, month)
			return err
		})
		if errors.Is(err, errNothingDue) {
			break
		}
		if err != nil {
			return created, fmt.Errorf("materialize rule %d: %w", ruleID, err)
		}
		created++
		touched[month] = true
	}

	// Push the changed closings through later snapshots, oldest month first.
	months := make([]core.Month, 0, len(touched))
	for mo := range touched {
		months = append(months, mo)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	for _, mo := range months {
		if err := m.agg.cascade(ctx, userID, mo); err != nil {
			return created, err
		}
	}

	return created, nil
}

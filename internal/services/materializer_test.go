package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

func newMaterializer(store ledger.Store, agg *Aggregator, now time.Time) *Materializer {
	m := NewMaterializer(store, agg)
	m.now = func() time.Time { return now }
	return m
}

func seedRule(t *testing.T, ctx context.Context, store ledger.Store, userID int64, freq core.Frequency, interval int, anchor core.Date, cents int64) core.RecurringRule {
	t.Helper()
	r, err := store.CreateRule(ctx, core.RecurringRule{
		UserID:     userID,
		Type:       core.Expense,
		Amount:     core.Money{Cents: cents},
		Note:       "rent",
		Frequency:  freq,
		Interval:   interval,
		AnchorDate: anchor,
		NextDue:    anchor,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return r
}

func TestMaterializer_CatchesUpThreeMonths(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	rule := seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 1, 15), 5000)

	m := newMaterializer(store, agg, time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC))
	report, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TransactionsCreated != 3 {
		t.Fatalf("created = %d, want 3", report.TransactionsCreated)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}

	wantDates := []core.Date{
		core.NewDate(2024, 1, 15),
		core.NewDate(2024, 2, 15),
		core.NewDate(2024, 3, 15),
	}
	var got []core.Transaction
	for _, d := range wantDates {
		txs, err := store.TransactionsByMonth(ctx, userID, d.MonthOf())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		got = append(got, txs...)
	}
	if len(got) != 3 {
		t.Fatalf("found %d transactions, want 3", len(got))
	}
	for i, tx := range got {
		if tx.Date != wantDates[i] {
			t.Errorf("transaction %d on %s, want %s", i, tx.Date, wantDates[i])
		}
		if tx.RuleID == nil || *tx.RuleID != rule.ID {
			t.Errorf("transaction %d not linked to rule", i)
		}
	}

	r, err := store.Rule(ctx, userID, rule.ID)
	if err != nil {
		t.Fatalf("reload rule: %v", err)
	}
	if want := core.NewDate(2024, 4, 15); r.NextDue != want {
		t.Errorf("cursor = %s, want %s", r.NextDue, want)
	}
	if r.LastMaterialized == nil || *r.LastMaterialized != core.NewDate(2024, 3, 15) {
		t.Errorf("last materialized = %v, want 2024-03-15", r.LastMaterialized)
	}

	// Balances reflect the generated expenses month over month.
	mar := balanceAt(t, ctx, agg, userID, core.Month{Year: 2024, Month: 3})
	if mar.Closing.Cents != -15000 {
		t.Errorf("march closing = %d, want -15000", mar.Closing.Cents)
	}
}

func TestMaterializer_RepeatedRunsCreateNothing(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 1, 15), 5000)

	m := newMaterializer(store, agg, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	first, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.TransactionsCreated != 3 || second.TransactionsCreated != 0 {
		t.Errorf("created = %d then %d, want 3 then 0",
			first.TransactionsCreated, second.TransactionsCreated)
	}
}

func TestMaterializer_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 1, 15), 5000)

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newMaterializer(store, agg, now)
			report, err := m.Run(ctx, ledger.Scope{UserID: userID})
			if err != nil {
				t.Errorf("concurrent run: %v", err)
				return
			}
			mu.Lock()
			total += report.TransactionsCreated
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 3 {
		t.Errorf("runs created %d transactions in total, want 3", total)
	}
	txs, err := store.TransactionsInRange(ctx, userID,
		core.NewDate(2024, 1, 1), core.NewDate(2024, 12, 31))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Errorf("store holds %d transactions, want 3", len(txs))
	}
}

func TestMaterializer_NothingDueBeforeAnchor(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 5, 1), 5000)

	m := newMaterializer(store, agg, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC))
	report, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TransactionsCreated != 0 {
		t.Errorf("created = %d, want 0", report.TransactionsCreated)
	}
}

func TestMaterializer_SkipsInactiveRules(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	r := seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 1, 15), 5000)
	if err := store.DeactivateRule(ctx, userID, r.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	m := newMaterializer(store, agg, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	report, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TransactionsCreated != 0 {
		t.Errorf("created = %d, want 0", report.TransactionsCreated)
	}
}

func TestMaterializer_ScopeLimitsToOneUser(t *testing.T) {
	ctx, store, agg, _, alice := setup(t)
	bob, err := store.CreateUser(ctx, core.User{Username: "bob", Currency: "EUR"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	seedRule(t, ctx, store, alice, core.Monthly, 1, core.NewDate(2024, 1, 15), 5000)
	seedRule(t, ctx, store, bob.ID, core.Monthly, 1, core.NewDate(2024, 1, 15), 7000)

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	m := newMaterializer(store, agg, now)
	report, err := m.Run(ctx, ledger.Scope{UserID: alice})
	if err != nil {
		t.Fatalf("scoped run: %v", err)
	}
	if report.TransactionsCreated != 1 {
		t.Errorf("scoped run created %d, want 1", report.TransactionsCreated)
	}

	bobTxs, err := store.TransactionsByMonth(ctx, bob.ID, core.Month{Year: 2024, Month: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bobTxs) != 0 {
		t.Errorf("scoped run touched another user's ledger")
	}

	// The batch scope picks up the remaining user.
	report, err = m.Run(ctx, ledger.Scope{})
	if err != nil {
		t.Fatalf("batch run: %v", err)
	}
	if report.TransactionsCreated != 1 {
		t.Errorf("batch run created %d, want 1", report.TransactionsCreated)
	}
}

func TestMaterializer_ClampedMonthEnds(t *testing.T) {
	ctx, store, agg, _, userID := setup(t)
	seedRule(t, ctx, store, userID, core.Monthly, 1, core.NewDate(2024, 1, 31), 100)

	m := newMaterializer(store, agg, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	report, err := m.Run(ctx, ledger.Scope{UserID: userID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.TransactionsCreated != 3 {
		t.Fatalf("created = %d, want 3", report.TransactionsCreated)
	}

	txs, err := store.TransactionsInRange(ctx, userID,
		core.NewDate(2024, 1, 1), core.NewDate(2024, 3, 31))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []core.Date{
		core.NewDate(2024, 1, 31),
		core.NewDate(2024, 2, 29),
		core.NewDate(2024, 3, 31),
	}
	for i, tx := range txs {
		if tx.Date != want[i] {
			t.Errorf("occurrence %d on %s, want %s", i, tx.Date, want[i])
		}
	}
}

package services

import (
	"testing"

	"tally/internal/core"
)

func TestAnalytics_Summarize(t *testing.T) {
	ctx, store, _, svc, userID := setup(t)
	an := NewAnalytics(store)

	groceries, err := store.CreateCategory(ctx, core.Category{
		UserID: userID, Name: "Groceries", Type: core.Expense,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	salary, err := store.CreateCategory(ctx, core.Category{
		UserID: userID, Name: "Salary", Type: core.Income,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}

	create := func(typ core.TransactionType, cents int64, date core.Date, catID *int64) {
		t.Helper()
		if _, err := svc.Create(ctx, core.Transaction{
			UserID:     userID,
			Type:       typ,
			Amount:     core.Money{Cents: cents},
			Date:       date,
			CategoryID: catID,
		}); err != nil {
			t.Fatalf("create transaction: %v", err)
		}
	}

	create(core.Income, 300000, core.NewDate(2024, 1, 1), &salary.ID)
	create(core.Expense, 12000, core.NewDate(2024, 1, 10), &groceries.ID)
	create(core.Expense, 8000, core.NewDate(2024, 1, 20), &groceries.ID)
	create(core.Expense, 4500, core.NewDate(2024, 1, 25), nil)
	create(core.Expense, 99999, core.NewDate(2024, 2, 5), &groceries.ID) // outside range

	sum, err := an.Summarize(ctx, userID, core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if sum.Income.Cents != 300000 {
		t.Errorf("income = %d, want 300000", sum.Income.Cents)
	}
	if sum.Expenses.Cents != 24500 {
		t.Errorf("expenses = %d, want 24500", sum.Expenses.Cents)
	}
	if sum.Net.Cents != 275500 {
		t.Errorf("net = %d, want 275500", sum.Net.Cents)
	}

	byName := map[string]core.CategoryAmount{}
	for _, c := range sum.ByCategory {
		byName[c.Name] = c
	}
	if got := byName["Salary"]; got.Amount.Cents != 300000 || got.Type != core.Income {
		t.Errorf("salary bucket = %+v", got)
	}
	if got := byName["Groceries"]; got.Amount.Cents != 20000 {
		t.Errorf("groceries bucket = %d, want 20000", got.Amount.Cents)
	}
	if got := byName[core.UncategorizedBucket]; got.Amount.Cents != 4500 || got.Type != core.Expense {
		t.Errorf("uncategorized bucket = %+v", got)
	}
}

func TestAnalytics_EmptyRange(t *testing.T) {
	ctx, store, _, _, userID := setup(t)
	an := NewAnalytics(store)

	sum, err := an.Summarize(ctx, userID, core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Income.Cents != 0 || sum.Expenses.Cents != 0 || sum.Net.Cents != 0 || len(sum.ByCategory) != 0 {
		t.Errorf("unexpected summary for empty range: %+v", sum)
	}
}

func TestAnalytics_RejectsInvertedRange(t *testing.T) {
	ctx, store, _, _, userID := setup(t)
	an := NewAnalytics(store)

	_, err := an.Summarize(ctx, userID, core.NewDate(2024, 2, 1), core.NewDate(2024, 1, 1))
	if !core.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

package services

import (
	"testing"

	"tally/internal/core"
)

func TestRuleService_CreateStartsCursorAtAnchor(t *testing.T) {
	ctx, store, _, _, userID := setup(t)
	rules := NewRuleService(store)

	r, err := rules.Create(ctx, core.RecurringRule{
		UserID:     userID,
		Type:       core.Expense,
		Amount:     core.Money{Cents: 80000},
		Note:       "rent",
		Frequency:  core.Monthly,
		Interval:   1,
		AnchorDate: core.NewDate(2024, 2, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.NextDue != r.AnchorDate {
		t.Errorf("cursor = %s, want anchor %s", r.NextDue, r.AnchorDate)
	}
	if !r.Active || r.LastMaterialized != nil {
		t.Errorf("unexpected initial state: %+v", r)
	}
}

func TestRuleService_UpdateKeepsCursor(t *testing.T) {
	ctx, store, _, _, userID := setup(t)
	rules := NewRuleService(store)

	r, err := rules.Create(ctx, core.RecurringRule{
		UserID:     userID,
		Type:       core.Expense,
		Amount:     core.Money{Cents: 80000},
		Frequency:  core.Monthly,
		Interval:   1,
		AnchorDate: core.NewDate(2024, 2, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AdvanceRuleCursor(ctx, r.ID, core.NewDate(2024, 3, 1), core.NewDate(2024, 2, 1)); err != nil {
		t.Fatalf("advance: %v", err)
	}

	r.Amount = core.Money{Cents: 85000}
	updated, err := rules.Update(ctx, r)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Amount.Cents != 85000 {
		t.Errorf("amount = %d, want 85000", updated.Amount.Cents)
	}
	if updated.NextDue != core.NewDate(2024, 3, 1) {
		t.Errorf("cursor moved to %s", updated.NextDue)
	}
}

func TestRuleService_RejectsInvalidRule(t *testing.T) {
	ctx, store, _, _, userID := setup(t)
	rules := NewRuleService(store)

	tests := []struct {
		name string
		rule core.RecurringRule
	}{
		{
			name: "bad frequency",
			rule: core.RecurringRule{
				UserID: userID, Type: core.Expense, Amount: core.Money{Cents: 100},
				Frequency: "fortnightly", Interval: 1, AnchorDate: core.NewDate(2024, 1, 1),
			},
		},
		{
			name: "zero interval",
			rule: core.RecurringRule{
				UserID: userID, Type: core.Expense, Amount: core.Money{Cents: 100},
				Frequency: core.Monthly, Interval: 0, AnchorDate: core.NewDate(2024, 1, 1),
			},
		},
		{
			name: "missing anchor",
			rule: core.RecurringRule{
				UserID: userID, Type: core.Expense, Amount: core.Money{Cents: 100},
				Frequency: core.Monthly, Interval: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rules.Create(ctx, tt.rule); !core.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

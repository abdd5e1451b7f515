package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
	"tally/internal/ledger"
)

// RuleService owns recurring-rule definitions. It never creates transactions
// itself; that is the materializer's job.
type RuleService struct {
	store ledger.Store
}

func NewRuleService(store ledger.Store) *RuleService {
	return &RuleService{store: store}
}

// Create stores a new rule. The cursor starts at the anchor date, so the
// anchor itself is the first occurrence the materializer will generate.
func (s *RuleService) Create(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	if err := r.Validate(); err != nil {
		return core.RecurringRule{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	r.NextDue = r.AnchorDate
	r.LastMaterialized = nil
	r.Active = true

	var created core.RecurringRule
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		if r.CategoryID != nil {
			if _, err := st.Category(ctx, r.UserID, *r.CategoryID); err != nil {
				return err
			}
		}
		var err error
		created, err = st.CreateRule(ctx, r)
		return err
	})
	if err != nil {
		return core.RecurringRule{}, err
	}

	slog.InfoContext(ctx, "Recurring rule created",
		"rule_id", created.ID,
		"user_id", created.UserID,
		"frequency", created.Frequency,
		"interval", created.Interval,
		"anchor", created.AnchorDate.String())
	return created, nil
}

// Update changes a rule's template fields. The cursor is untouched: already
// materialized occurrences stay as they are, future ones pick up the change.
func (s *RuleService) Update(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	if err := r.Validate(); err != nil {
		return core.RecurringRule{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	var updated core.RecurringRule
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		old, err := st.Rule(ctx, r.UserID, r.ID)
		if err != nil {
			return err
		}
		if r.CategoryID != nil {
			if _, err := st.Category(ctx, r.UserID, *r.CategoryID); err != nil {
				return err
			}
		}
		r.NextDue = old.NextDue
		r.LastMaterialized = old.LastMaterialized
		r.Active = old.Active
		if err := st.UpdateRule(ctx, r); err != nil {
			return err
		}
		updated, err = st.Rule(ctx, r.UserID, r.ID)
		return err
	})
	if err != nil {
		return core.RecurringRule{}, err
	}

	slog.InfoContext(ctx, "Recurring rule updated", "rule_id", r.ID, "user_id", r.UserID)
	return updated, nil
}

// Deactivate stops future materialization. Existing transactions are kept.
func (s *RuleService) Deactivate(ctx context.Context, userID, id int64) error {
	if err := s.store.DeactivateRule(ctx, userID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring rule deactivated", "rule_id", id, "user_id", userID)
	return nil
}

func (s *RuleService) Get(ctx context.Context, userID, id int64) (core.RecurringRule, error) {
	return s.store.Rule(ctx, userID, id)
}

func (s *RuleService) List(ctx context.Context, userID int64) ([]core.RecurringRule, error) {
	return s.store.RulesByUser(ctx, userID)
}

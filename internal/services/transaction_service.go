package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/ledger"
)

// EventPublisher publishes transaction events after a write commits.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, ev *amqp.TransactionEvent) error
}

// TransactionService owns transaction writes. Every write commits together
// with the recompute of the affected month's snapshot, then cascades the new
// closing forward and publishes an event best effort.
type TransactionService struct {
	store  ledger.Store
	agg    *Aggregator
	events EventPublisher // nil disables publishing
}

func NewTransactionService(store ledger.Store, agg *Aggregator, events EventPublisher) *TransactionService {
	return &TransactionService{store: store, agg: agg, events: events}
}

func (s *TransactionService) Create(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	month := t.Date.MonthOf()
	var created core.Transaction
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		if err := s.checkCategory(ctx, st, t.UserID, t.CategoryID); err != nil {
			return err
		}
		var err error
		if created, err = st.CreateTransaction(ctx, t); err != nil {
			return err
		}
		_, err = s.agg.computeMonth(ctx, st, t.UserID, month)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	if err := s.agg.cascade(ctx, t.UserID, month); err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", created.ID,
		"user_id", created.UserID,
		"type", created.Type,
		"amount_cents", created.Amount.Cents,
		"date", created.Date.String())

	s.publish(ctx, amqp.OpCreated, created)
	return created, nil
}

// Update rewrites a transaction. When the date crosses a month boundary both
// the old and the new month are recomputed in the same unit of work.
func (s *TransactionService) Update(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	var oldMonth core.Month
	newMonth := t.Date.MonthOf()
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		old, err := st.Transaction(ctx, t.UserID, t.ID)
		if err != nil {
			return err
		}
		if err := s.checkCategory(ctx, st, t.UserID, t.CategoryID); err != nil {
			return err
		}
		oldMonth = old.Date.MonthOf()
		t.RuleID = old.RuleID
		if err := st.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if oldMonth != newMonth {
			if _, err := s.agg.computeMonth(ctx, st, t.UserID, oldMonth); err != nil {
				return err
			}
		}
		_, err = s.agg.computeMonth(ctx, st, t.UserID, newMonth)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	first := oldMonth
	if newMonth.Before(first) {
		first = newMonth
	}
	if err := s.agg.cascade(ctx, t.UserID, first); err != nil {
		return core.Transaction{}, err
	}
	if oldMonth != newMonth {
		second := newMonth
		if first == newMonth {
			second = oldMonth
		}
		if err := s.agg.cascade(ctx, t.UserID, second); err != nil {
			return core.Transaction{}, err
		}
	}

	slog.InfoContext(ctx, "Transaction updated",
		"transaction_id", t.ID,
		"user_id", t.UserID,
		"date", t.Date.String())

	s.publish(ctx, amqp.OpUpdated, t)
	return t, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID, id int64) error {
	var deleted core.Transaction
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		old, err := st.Transaction(ctx, userID, id)
		if err != nil {
			return err
		}
		deleted = old
		if err := st.DeleteTransaction(ctx, userID, id); err != nil {
			return err
		}
		_, err = s.agg.computeMonth(ctx, st, userID, old.Date.MonthOf())
		return err
	})
	if err != nil {
		return err
	}

	if err := s.agg.cascade(ctx, userID, deleted.Date.MonthOf()); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", id,
		"user_id", userID)

	s.publish(ctx, amqp.OpDeleted, deleted)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, userID, id int64) (core.Transaction, error) {
	return s.store.Transaction(ctx, userID, id)
}

func (s *TransactionService) ListByMonth(ctx context.Context, userID int64, month core.Month) ([]core.Transaction, error) {
	if err := month.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return s.store.TransactionsByMonth(ctx, userID, month)
}

// checkCategory rejects references to categories that do not exist or belong
// to another user.
func (s *TransactionService) checkCategory(ctx context.Context, st ledger.Store, userID int64, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	_, err := st.Category(ctx, userID, *categoryID)
	return err
}

// publish is best effort: the write has committed, a lost event only delays
// downstream mirroring.
func (s *TransactionService) publish(ctx context.Context, op string, t core.Transaction) {
	if s.events == nil {
		return
	}
	m := t.Date.MonthOf()
	ev := amqp.NewTransactionEvent(op, t.ID, t.UserID, m.Year, m.Month)
	if err := s.events.PublishTransactionEvent(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish transaction event",
			"op", op,
			"transaction_id", t.ID,
			"error", err)
	}
}

// Package ledger defines the persistence ports the consistency engine is
// written against. The SQLite store is the production implementation; the
// memory store backs tests and the dev backend.
package ledger

import (
	"context"
	"time"

	"tally/internal/core"
)

// Scope selects whose rules a materialization run covers: one user, or all
// active users when UserID is zero (the batch path).
type Scope struct {
	UserID int64
}

func (s Scope) All() bool { return s.UserID == 0 }

// Ports for the ledger store.
type (
	UserStore interface {
		User(ctx context.Context, id int64) (core.User, error)
		CreateUser(ctx context.Context, u core.User) (core.User, error)
	}

	CategoryStore interface {
		Category(ctx context.Context, userID, id int64) (core.Category, error)
		CategoriesByUser(ctx context.Context, userID int64) ([]core.Category, error)
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	}

	TransactionStore interface {
		CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		Transaction(ctx context.Context, userID, id int64) (core.Transaction, error)
		UpdateTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, userID, id int64) error
		// TransactionsByMonth returns the month's transactions ordered by date.
		TransactionsByMonth(ctx context.Context, userID int64, month core.Month) ([]core.Transaction, error)
		TransactionsInRange(ctx context.Context, userID int64, from, to core.Date) ([]core.Transaction, error)
		// HasTransactionsBefore reports whether the user has any transaction
		// dated before the first day of the given month.
		HasTransactionsBefore(ctx context.Context, userID int64, month core.Month) (bool, error)
	}

	BalanceStore interface {
		// MonthlyBalance returns nil when no row exists for the month yet.
		MonthlyBalance(ctx context.Context, userID int64, month core.Month) (*core.MonthlyBalance, error)
		// UpsertMonthlyBalance atomically creates or replaces the month's row.
		UpsertMonthlyBalance(ctx context.Context, b core.MonthlyBalance) (core.MonthlyBalance, error)
	}

	RuleStore interface {
		CreateRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error)
		Rule(ctx context.Context, userID, id int64) (core.RecurringRule, error)
		RulesByUser(ctx context.Context, userID int64) ([]core.RecurringRule, error)
		UpdateRule(ctx context.Context, r core.RecurringRule) error
		DeactivateRule(ctx context.Context, userID, id int64) error
		// DueRules lists active rules in scope with NextDue <= asOf.
		DueRules(ctx context.Context, scope Scope, asOf core.Date) ([]core.RecurringRule, error)
		// RuleForUpdate re-reads a rule inside the caller's unit of work,
		// acquiring exclusive access to it for the rest of the unit.
		RuleForUpdate(ctx context.Context, id int64) (core.RecurringRule, error)
		// AdvanceRuleCursor moves NextDue forward and records the occurrence
		// just materialized. Cursors only move forward.
		AdvanceRuleCursor(ctx context.Context, id int64, next, last core.Date) error
	}

	// MirrorQueue tracks which transactions have been mirrored downstream.
	MirrorQueue interface {
		UnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error)
		MarkMirrored(ctx context.Context, id int64, at time.Time) error
	}
)

// Store is the full port. WithTx runs fn inside one atomic unit of work: all
// writes made through the passed Store commit together or not at all, and
// writers are serialized for its duration.
type Store interface {
	UserStore
	CategoryStore
	TransactionStore
	BalanceStore
	RuleStore
	MirrorQueue

	WithTx(ctx context.Context, fn func(Store) error) error
}

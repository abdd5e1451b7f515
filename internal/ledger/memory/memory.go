// Package memory is an in-memory ledger.Store used by tests and the dev
// backend. A single mutex serializes units of work; WithTx does not roll
// back on error, which the SQLite store is responsible for in production.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

type balanceKey struct {
	userID int64
	month  core.Month
}

type Store struct {
	mu sync.Mutex
	v  view
}

func New() *Store {
	return &Store{v: view{
		users:        map[int64]core.User{},
		categories:   map[int64]core.Category{},
		transactions: map[int64]core.Transaction{},
		balances:     map[balanceKey]core.MonthlyBalance{},
		rules:        map[int64]core.RecurringRule{},
	}}
}

var _ ledger.Store = (*Store)(nil)

// WithTx serializes the unit of work on the store mutex and hands fn a view
// whose operations skip locking.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.v)
}

func (s *Store) User(ctx context.Context, id int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.User(ctx, id)
}

func (s *Store) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.CreateUser(ctx, u)
}

func (s *Store) Category(ctx context.Context, userID, id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Category(ctx, userID, id)
}

func (s *Store) CategoriesByUser(ctx context.Context, userID int64) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.CategoriesByUser(ctx, userID)
}

func (s *Store) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.CreateCategory(ctx, c)
}

func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.CreateTransaction(ctx, t)
}

func (s *Store) Transaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Transaction(ctx, userID, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.UpdateTransaction(ctx, t)
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.DeleteTransaction(ctx, userID, id)
}

func (s *Store) TransactionsByMonth(ctx context.Context, userID int64, month core.Month) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.TransactionsByMonth(ctx, userID, month)
}

func (s *Store) TransactionsInRange(ctx context.Context, userID int64, from, to core.Date) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.TransactionsInRange(ctx, userID, from, to)
}

func (s *Store) HasTransactionsBefore(ctx context.Context, userID int64, month core.Month) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.HasTransactionsBefore(ctx, userID, month)
}

func (s *Store) MonthlyBalance(ctx context.Context, userID int64, month core.Month) (*core.MonthlyBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.MonthlyBalance(ctx, userID, month)
}

func (s *Store) UpsertMonthlyBalance(ctx context.Context, b core.MonthlyBalance) (core.MonthlyBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.UpsertMonthlyBalance(ctx, b)
}

func (s *Store) CreateRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.CreateRule(ctx, r)
}

func (s *Store) Rule(ctx context.Context, userID, id int64) (core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Rule(ctx, userID, id)
}

func (s *Store) RulesByUser(ctx context.Context, userID int64) ([]core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.RulesByUser(ctx, userID)
}

func (s *Store) UpdateRule(ctx context.Context, r core.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.UpdateRule(ctx, r)
}

func (s *Store) DeactivateRule(ctx context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.DeactivateRule(ctx, userID, id)
}

func (s *Store) DueRules(ctx context.Context, scope ledger.Scope, asOf core.Date) ([]core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.DueRules(ctx, scope, asOf)
}

func (s *Store) RuleForUpdate(ctx context.Context, id int64) (core.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.RuleForUpdate(ctx, id)
}

func (s *Store) AdvanceRuleCursor(ctx context.Context, id int64, next, last core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.AdvanceRuleCursor(ctx, id, next, last)
}

func (s *Store) UnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.UnmirroredTransactions(ctx, limit)
}

func (s *Store) MarkMirrored(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.MarkMirrored(ctx, id, at)
}

// view holds the data and implements the unlocked operations. It is only
// reachable while the store mutex is held.
type view struct {
	users        map[int64]core.User
	categories   map[int64]core.Category
	transactions map[int64]core.Transaction
	balances     map[balanceKey]core.MonthlyBalance
	rules        map[int64]core.RecurringRule
	mirrored     map[int64]time.Time

	nextUserID int64
	nextCatID  int64
	nextTxID   int64
	nextRuleID int64
}

var _ ledger.Store = (*view)(nil)

// WithTx on the view is a passthrough: the caller is already inside the unit.
func (v *view) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}

func (v *view) User(_ context.Context, id int64) (core.User, error) {
	u, ok := v.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %d: %w", id, core.ErrNotFound)
	}
	return u, nil
}

func (v *view) CreateUser(_ context.Context, u core.User) (core.User, error) {
	v.nextUserID++
	u.ID = v.nextUserID
	v.users[u.ID] = u
	return u, nil
}

func (v *view) Category(_ context.Context, userID, id int64) (core.Category, error) {
	c, ok := v.categories[id]
	if !ok || c.UserID != userID {
		return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (v *view) CategoriesByUser(_ context.Context, userID int64) ([]core.Category, error) {
	var out []core.Category
	for _, c := range v.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	v.nextCatID++
	c.ID = v.nextCatID
	v.categories[c.ID] = c
	return c, nil
}

func (v *view) CreateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	v.nextTxID++
	t.ID = v.nextTxID
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	v.transactions[t.ID] = t
	return t, nil
}

func (v *view) Transaction(_ context.Context, userID, id int64) (core.Transaction, error) {
	t, ok := v.transactions[id]
	if !ok || t.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (v *view) UpdateTransaction(_ context.Context, t core.Transaction) error {
	old, ok := v.transactions[t.ID]
	if !ok || old.UserID != t.UserID {
		return fmt.Errorf("transaction %d: %w", t.ID, core.ErrNotFound)
	}
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	v.transactions[t.ID] = t
	return nil
}

func (v *view) DeleteTransaction(_ context.Context, userID, id int64) error {
	t, ok := v.transactions[id]
	if !ok || t.UserID != userID {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	delete(v.transactions, id)
	return nil
}

func (v *view) TransactionsByMonth(_ context.Context, userID int64, month core.Month) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range v.transactions {
		if t.UserID == userID && t.Date.MonthOf() == month {
			out = append(out, t)
		}
	}
	sortByDate(out)
	return out, nil
}

func (v *view) TransactionsInRange(_ context.Context, userID int64, from, to core.Date) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range v.transactions {
		if t.UserID != userID {
			continue
		}
		if t.Date.Before(from.Time) || t.Date.After(to.Time) {
			continue
		}
		out = append(out, t)
	}
	sortByDate(out)
	return out, nil
}

func (v *view) HasTransactionsBefore(_ context.Context, userID int64, month core.Month) (bool, error) {
	first := month.FirstDay()
	for _, t := range v.transactions {
		if t.UserID == userID && t.Date.Before(first.Time) {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) MonthlyBalance(_ context.Context, userID int64, month core.Month) (*core.MonthlyBalance, error) {
	b, ok := v.balances[balanceKey{userID, month}]
	if !ok {
		return nil, nil
	}
	copy := b
	return &copy, nil
}

func (v *view) UpsertMonthlyBalance(_ context.Context, b core.MonthlyBalance) (core.MonthlyBalance, error) {
	b.UpdatedAt = time.Now().UTC()
	v.balances[balanceKey{b.UserID, core.Month{Year: b.Year, Month: b.Month}}] = b
	return b, nil
}

func (v *view) CreateRule(_ context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	v.nextRuleID++
	r.ID = v.nextRuleID
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	v.rules[r.ID] = r
	return r, nil
}

func (v *view) Rule(_ context.Context, userID, id int64) (core.RecurringRule, error) {
	r, ok := v.rules[id]
	if !ok || r.UserID != userID {
		return core.RecurringRule{}, fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func (v *view) RulesByUser(_ context.Context, userID int64) ([]core.RecurringRule, error) {
	var out []core.RecurringRule
	for _, r := range v.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) UpdateRule(_ context.Context, r core.RecurringRule) error {
	old, ok := v.rules[r.ID]
	if !ok || old.UserID != r.UserID {
		return fmt.Errorf("rule %d: %w", r.ID, core.ErrNotFound)
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	v.rules[r.ID] = r
	return nil
}

func (v *view) DeactivateRule(_ context.Context, userID, id int64) error {
	r, ok := v.rules[id]
	if !ok || r.UserID != userID {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	r.Active = false
	r.UpdatedAt = time.Now().UTC()
	v.rules[id] = r
	return nil
}

func (v *view) DueRules(_ context.Context, scope ledger.Scope, asOf core.Date) ([]core.RecurringRule, error) {
	var out []core.RecurringRule
	for _, r := range v.rules {
		if !r.Active {
			continue
		}
		if !scope.All() && r.UserID != scope.UserID {
			continue
		}
		if r.NextDue.After(asOf.Time) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) RuleForUpdate(_ context.Context, id int64) (core.RecurringRule, error) {
	r, ok := v.rules[id]
	if !ok {
		return core.RecurringRule{}, fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func (v *view) AdvanceRuleCursor(_ context.Context, id int64, next, last core.Date) error {
	r, ok := v.rules[id]
	if !ok {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	r.NextDue = next
	r.LastMaterialized = &last
	r.UpdatedAt = time.Now().UTC()
	v.rules[id] = r
	return nil
}

func (v *view) UnmirroredTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	if v.mirrored == nil {
		v.mirrored = map[int64]time.Time{}
	}
	var out []core.Transaction
	for id, t := range v.transactions {
		if _, ok := v.mirrored[id]; ok {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *view) MarkMirrored(_ context.Context, id int64, at time.Time) error {
	if _, ok := v.transactions[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if v.mirrored == nil {
		v.mirrored = map[int64]time.Time{}
	}
	v.mirrored[id] = at
	return nil
}

func sortByDate(ts []core.Transaction) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].Date.Equal(ts[j].Date.Time) {
			return ts[i].Date.Before(ts[j].Date.Time)
		}
		return ts[i].ID < ts[j].ID
	})
}

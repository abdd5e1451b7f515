// Package storage is the SQLite implementation of the ledger store.
//
// The connection is opened with _txlock=immediate so every transaction takes
// the write lock up front: a WithTx unit of work is an exclusive critical
// section against all other writers, which is what the materializer and the
// aggregator rely on.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	tsLayout   = time.RFC3339
)

type SQLiteStore struct {
	db *sql.DB
	q  querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ ledger.Store = (*SQLiteStore)(nil)

func New(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteStore{db: db, q: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithTx runs fn inside a single immediate transaction. Nested calls reuse
// the transaction already in progress.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(&SQLiteStore{db: s.db, q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// classify wraps a driver error with the error kind callers dispatch on.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	case isBusy(err):
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrConflict)
	default:
		return fmt.Errorf("%s: %v: %w", op, err, core.ErrStorage)
	}
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// users

func (s *SQLiteStore) User(ctx context.Context, id int64) (core.User, error) {
	var u core.User
	err := s.q.QueryRowContext(ctx,
		`SELECT id, username, currency FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Currency)
	if err != nil {
		return core.User{}, classify(fmt.Sprintf("get user %d", id), err)
	}
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (username, currency) VALUES (?, ?)`,
		u.Username, u.Currency)
	if err != nil {
		return core.User{}, classify("create user", err)
	}
	u.ID, _ = res.LastInsertId()
	return u, nil
}

// categories

func (s *SQLiteStore) Category(ctx context.Context, userID, id int64) (core.Category, error) {
	var c core.Category
	err := s.q.QueryRowContext(ctx,
		`SELECT id, user_id, name, color, type, is_default
		 FROM categories WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.Type, &c.IsDefault)
	if err != nil {
		return core.Category{}, classify(fmt.Sprintf("get category %d", id), err)
	}
	return c, nil
}

func (s *SQLiteStore) CategoriesByUser(ctx context.Context, userID int64) ([]core.Category, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, name, color, type, is_default
		 FROM categories WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, classify("list categories", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Color, &c.Type, &c.IsDefault); err != nil {
			return nil, classify("scan category", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list categories", err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, color, type, is_default)
		 VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Color, c.Type, c.IsDefault)
	if err != nil {
		return core.Category{}, classify("create category", err)
	}
	c.ID, _ = res.LastInsertId()
	return c, nil
}

// transactions

const transactionCols = `id, user_id, type, amount_cents, date, note, category_id, rule_id, created_at, updated_at`

func (s *SQLiteStore) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (user_id, type, amount_cents, date, note, category_id, rule_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Type, t.Amount.Cents, t.Date.String(), t.Note,
		t.CategoryID, t.RuleID, now.Format(tsLayout), now.Format(tsLayout))
	if err != nil {
		return core.Transaction{}, classify("create transaction", err)
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	t.UpdatedAt = now
	return t, nil
}

func (s *SQLiteStore) Transaction(ctx context.Context, userID, id int64) (core.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE id = ? AND user_id = ?`,
		id, userID)
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, classify(fmt.Sprintf("get transaction %d", id), err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions
		 SET type = ?, amount_cents = ?, date = ?, note = ?, category_id = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		t.Type, t.Amount.Cents, t.Date.String(), t.Note, t.CategoryID,
		time.Now().UTC().Format(tsLayout), t.ID, t.UserID)
	if err != nil {
		return classify("update transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, userID, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return classify("delete transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) TransactionsByMonth(ctx context.Context, userID int64, month core.Month) ([]core.Transaction, error) {
	from := month.FirstDay()
	to := month.Next().FirstDay()
	return s.listTransactions(ctx,
		`SELECT `+transactionCols+` FROM transactions
		 WHERE user_id = ? AND date >= ? AND date < ?
		 ORDER BY date, id`,
		userID, from.String(), to.String())
}

func (s *SQLiteStore) TransactionsInRange(ctx context.Context, userID int64, from, to core.Date) ([]core.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionCols+` FROM transactions
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 ORDER BY date, id`,
		userID, from.String(), to.String())
}

func (s *SQLiteStore) HasTransactionsBefore(ctx context.Context, userID int64, month core.Month) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id = ? AND date < ?)`,
		userID, month.FirstDay().String()).Scan(&n)
	if err != nil {
		return false, classify("check earlier transactions", err)
	}
	return n != 0, nil
}

func (s *SQLiteStore) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list transactions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                    core.Transaction
		date, created, updat string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount.Cents, &date,
		&t.Note, &t.CategoryID, &t.RuleID, &created, &updat); err != nil {
		return core.Transaction{}, err
	}
	var err error
	if t.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	t.CreatedAt, _ = time.Parse(tsLayout, created)
	t.UpdatedAt, _ = time.Parse(tsLayout, updat)
	return t, nil
}

// monthly balances

func (s *SQLiteStore) MonthlyBalance(ctx context.Context, userID int64, month core.Month) (*core.MonthlyBalance, error) {
	var (
		b   core.MonthlyBalance
		ts  string
		err = s.q.QueryRowContext(ctx,
			`SELECT user_id, year, month, opening_cents, income_cents, expenses_cents,
			        closing_cents, opening_is_override, updated_at
			 FROM monthly_balances WHERE user_id = ? AND year = ? AND month = ?`,
			userID, month.Year, month.Month).
			Scan(&b.UserID, &b.Year, &b.Month, &b.Opening.Cents, &b.Income.Cents,
				&b.Expenses.Cents, &b.Closing.Cents, &b.OpeningIsOverride, &ts)
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get monthly balance", err)
	}
	b.UpdatedAt, _ = time.Parse(tsLayout, ts)
	return &b, nil
}

func (s *SQLiteStore) UpsertMonthlyBalance(ctx context.Context, b core.MonthlyBalance) (core.MonthlyBalance, error) {
	b.UpdatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO monthly_balances
		   (user_id, year, month, opening_cents, income_cents, expenses_cents,
		    closing_cents, opening_is_override, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, year, month) DO UPDATE SET
		   opening_cents = excluded.opening_cents,
		   income_cents = excluded.income_cents,
		   expenses_cents = excluded.expenses_cents,
		   closing_cents = excluded.closing_cents,
		   opening_is_override = excluded.opening_is_override,
		   updated_at = excluded.updated_at`,
		b.UserID, b.Year, b.Month, b.Opening.Cents, b.Income.Cents,
		b.Expenses.Cents, b.Closing.Cents, b.OpeningIsOverride,
		b.UpdatedAt.Format(tsLayout))
	if err != nil {
		return core.MonthlyBalance{}, classify("upsert monthly balance", err)
	}
	return b, nil
}

// recurring rules

const ruleCols = `id, user_id, type, amount_cents, category_id, note, frequency,
	frequency_interval, anchor_date, next_due_date, last_materialized_date,
	active, created_at, updated_at`

func (s *SQLiteStore) CreateRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	now := time.Now().UTC()
	var last any
	if r.LastMaterialized != nil {
		last = r.LastMaterialized.String()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO recurring_rules
		   (user_id, type, amount_cents, category_id, note, frequency,
		    frequency_interval, anchor_date, next_due_date, last_materialized_date,
		    active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Type, r.Amount.Cents, r.CategoryID, r.Note, r.Frequency,
		r.Interval, r.AnchorDate.String(), r.NextDue.String(), last,
		r.Active, now.Format(tsLayout), now.Format(tsLayout))
	if err != nil {
		return core.RecurringRule{}, classify("create rule", err)
	}
	r.ID, _ = res.LastInsertId()
	r.CreatedAt = now
	r.UpdatedAt = now
	return r, nil
}

func (s *SQLiteStore) Rule(ctx context.Context, userID, id int64) (core.RecurringRule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE id = ? AND user_id = ?`,
		id, userID)
	r, err := scanRule(row)
	if err != nil {
		return core.RecurringRule{}, classify(fmt.Sprintf("get rule %d", id), err)
	}
	return r, nil
}

func (s *SQLiteStore) RulesByUser(ctx context.Context, userID int64) ([]core.RecurringRule, error) {
	return s.listRules(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE user_id = ? ORDER BY id`,
		userID)
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r core.RecurringRule) error {
	var last any
	if r.LastMaterialized != nil {
		last = r.LastMaterialized.String()
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE recurring_rules
		 SET type = ?, amount_cents = ?, category_id = ?, note = ?, frequency = ?,
		     frequency_interval = ?, anchor_date = ?, next_due_date = ?,
		     last_materialized_date = ?, active = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		r.Type, r.Amount.Cents, r.CategoryID, r.Note, r.Frequency,
		r.Interval, r.AnchorDate.String(), r.NextDue.String(), last,
		r.Active, time.Now().UTC().Format(tsLayout), r.ID, r.UserID)
	if err != nil {
		return classify("update rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", r.ID, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeactivateRule(ctx context.Context, userID, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE recurring_rules SET active = 0, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		time.Now().UTC().Format(tsLayout), id, userID)
	if err != nil {
		return classify("deactivate rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DueRules(ctx context.Context, scope ledger.Scope, asOf core.Date) ([]core.RecurringRule, error) {
	if scope.All() {
		return s.listRules(ctx,
			`SELECT `+ruleCols+` FROM recurring_rules
			 WHERE active = 1 AND next_due_date <= ? ORDER BY id`,
			asOf.String())
	}
	return s.listRules(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules
		 WHERE active = 1 AND next_due_date <= ? AND user_id = ? ORDER BY id`,
		asOf.String(), scope.UserID)
}

// RuleForUpdate re-reads the rule inside the caller's immediate transaction.
// The transaction already holds the write lock, so the returned cursor cannot
// be advanced concurrently before this unit commits.
func (s *SQLiteStore) RuleForUpdate(ctx context.Context, id int64) (core.RecurringRule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+ruleCols+` FROM recurring_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		return core.RecurringRule{}, classify(fmt.Sprintf("get rule %d for update", id), err)
	}
	return r, nil
}

func (s *SQLiteStore) AdvanceRuleCursor(ctx context.Context, id int64, next, last core.Date) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE recurring_rules
		 SET next_due_date = ?, last_materialized_date = ?, updated_at = ?
		 WHERE id = ?`,
		next.String(), last.String(), time.Now().UTC().Format(tsLayout), id)
	if err != nil {
		return classify("advance rule cursor", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) listRules(ctx context.Context, query string, args ...any) ([]core.RecurringRule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list rules", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, classify("scan rule", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list rules", err)
	}
	return out, nil
}

func scanRule(row rowScanner) (core.RecurringRule, error) {
	var (
		r                            core.RecurringRule
		anchor, next                 string
		last                         sql.NullString
		created, updat               string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Type, &r.Amount.Cents, &r.CategoryID,
		&r.Note, &r.Frequency, &r.Interval, &anchor, &next, &last,
		&r.Active, &created, &updat); err != nil {
		return core.RecurringRule{}, err
	}
	var err error
	if r.AnchorDate, err = core.ParseDate(anchor); err != nil {
		return core.RecurringRule{}, fmt.Errorf("parse anchor date %q: %w", anchor, err)
	}
	if r.NextDue, err = core.ParseDate(next); err != nil {
		return core.RecurringRule{}, fmt.Errorf("parse next due date %q: %w", next, err)
	}
	if last.Valid {
		d, err := core.ParseDate(last.String)
		if err != nil {
			return core.RecurringRule{}, fmt.Errorf("parse last materialized date %q: %w", last.String, err)
		}
		r.LastMaterialized = &d
	}
	r.CreatedAt, _ = time.Parse(tsLayout, created)
	r.UpdatedAt, _ = time.Parse(tsLayout, updat)
	return r, nil
}

// mirror queue

func (s *SQLiteStore) UnmirroredTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	return s.listTransactions(ctx,
		`SELECT `+transactionCols+` FROM transactions
		 WHERE mirrored_at IS NULL ORDER BY id LIMIT ?`, limit)
}

func (s *SQLiteStore) MarkMirrored(ctx context.Context, id int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET mirrored_at = ? WHERE id = ?`,
		at.UTC().Format(tsLayout), id)
	if err != nil {
		return classify("mark transaction mirrored", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

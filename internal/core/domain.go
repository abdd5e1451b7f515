package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Currencies the tracker accepts for a user preference.
var Currencies = []string{"EUR", "USD", "GBP", "CHF"}

type (
	TransactionType string

	Frequency string

	Date struct {
		time.Time
	}

	// Month identifies one calendar month of one user's ledger.
	Month struct {
		Year  int
		Month int // 1-12
	}

	User struct {
		ID       int64
		Username string
		Currency string
	}

	Category struct {
		ID        int64
		UserID    int64
		Name      string
		Color     string
		Type      TransactionType
		IsDefault bool
	}

	Transaction struct {
		ID         int64
		UserID     int64
		Type       TransactionType
		Amount     Money
		Date       Date
		Note       string
		CategoryID *int64
		RuleID     *int64 // set when created by the materializer
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// MonthlyBalance is the per-month snapshot kept consistent by the
	// aggregator: Closing == Opening + Income - Expenses, always.
	MonthlyBalance struct {
		UserID            int64
		Year              int
		Month             int
		Opening           Money
		Income            Money
		Expenses          Money
		Closing           Money
		OpeningIsOverride bool
		UpdatedAt         time.Time
	}

	// RecurringRule is a template for periodic transaction generation.
	// NextDue is the cursor: the earliest occurrence not yet materialized.
	RecurringRule struct {
		ID               int64
		UserID           int64
		Type             TransactionType
		Amount           Money
		CategoryID       *int64
		Note             string
		Frequency        Frequency
		Interval         int
		AnchorDate       Date
		NextDue          Date
		LastMaterialized *Date
		Active           bool
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrMissingUser      = errors.New("missing user id")
	ErrNoteTooLong      = errors.New("note too long (max 200 characters)")
)

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MonthOf returns the calendar month the date falls in.
func (d Date) MonthOf() Month {
	return Month{Year: d.Time.Year(), Month: int(d.Time.Month())}
}

func (m Month) Validate() error {
	if m.Month < 1 || m.Month > 12 || m.Year < 1 {
		return ErrInvalidMonth
	}
	return nil
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Month == 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Prev returns the preceding calendar month.
func (m Month) Prev() Month {
	if m.Month == 1 {
		return Month{Year: m.Year - 1, Month: 12}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

// Before reports whether m is chronologically before other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// FirstDay returns the first calendar day of the month.
func (m Month) FirstDay() Date {
	return NewDate(m.Year, m.Month, 1)
}

func (t TransactionType) Validate() error {
	switch t {
	case Income, Expense:
		return nil
	}
	return ErrInvalidType
}

// Sign is the type's contribution to a balance: +1 for income, -1 for expense.
func (t TransactionType) Sign() int64 {
	if t == Expense {
		return -1
	}
	return 1
}

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	}
	return ErrInvalidFrequency
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("empty username")
	}
	for _, c := range Currencies {
		if u.Currency == c {
			return nil
		}
	}
	return ErrInvalidCurrency
}

func (t Transaction) Validate() error {
	if t.UserID == 0 {
		return ErrMissingUser
	}
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(t.Note) > 200 {
		return ErrNoteTooLong
	}
	return nil
}

func (r RecurringRule) Validate() error {
	if r.UserID == 0 {
		return ErrMissingUser
	}
	if err := r.Type.Validate(); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if err := r.Frequency.Validate(); err != nil {
		return err
	}
	if r.Interval < 1 {
		return ErrInvalidInterval
	}
	if err := r.AnchorDate.Validate(); err != nil {
		return err
	}
	if len(r.Note) > 200 {
		return ErrNoteTooLong
	}
	return nil
}

// Invariant reports whether the snapshot satisfies the ledger invariant.
func (b MonthlyBalance) Invariant() bool {
	return b.Closing.Cents == b.Opening.Cents+b.Income.Cents-b.Expenses.Cents
}

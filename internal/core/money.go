// Package core holds the ledger domain: transactions, monthly balances,
// recurring rules and the arithmetic they share.
//
// Money is stored as integer cents; decimal strings are converted at the
// edges so no floating binary rounding ever reaches a balance.
package core

import (
	"github.com/shopspring/decimal"
)

// Money is an amount in integer cents at currency scale.
type Money struct {
	Cents int64
}

var hundred = decimal.NewFromInt(100)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseAmount converts a decimal string ("12.34", "12,34") to Money with
// half-up rounding on the third decimal place. Zero and negative amounts are
// rejected; a transaction's sign comes from its type, not its amount.
func ParseAmount(s string) (Money, error) {
	d, err := decimal.NewFromString(normalizeAmount(s))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.Sign() <= 0 {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0).IntPart()
	if cents <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents}, nil
}

// ParseSignedAmount converts a decimal string to Money, accepting zero and
// negative values. Opening balances go through here; an overdrawn account is
// a legitimate starting point, unlike a transaction amount.
func ParseSignedAmount(s string) (Money, error) {
	d, err := decimal.NewFromString(normalizeAmount(s))
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Mul(hundred).Round(0).IntPart()}, nil
}

// String formats the amount as a plain decimal with two fraction digits.
func (m Money) String() string {
	return decimal.NewFromInt(m.Cents).Div(hundred).StringFixed(2)
}

func normalizeAmount(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t':
			continue
		case ',':
			out = append(out, '.')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// Package money implements the fixed-point monetary value used by every ledger
// component. Amounts are held as decimals rounded to two places, half away from zero.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount.
const Scale = 2

// ErrInvalidAmount is returned when a textual amount cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// Money is an immutable amount rounded to two decimal places.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{d: decimal.Zero}

func wrap(d decimal.Decimal) Money {
	return Money{d: d.Round(Scale)}
}

// New builds an amount from a decimal value.
func New(d decimal.Decimal) Money { return wrap(d) }

// FromFloat builds an amount from a float. Intended for literals and tests.
func FromFloat(f float64) Money { return wrap(decimal.NewFromFloat(f)) }

// FromInt builds a whole amount.
func FromInt(i int64) Money { return wrap(decimal.NewFromInt(i)) }

// FromCents builds an amount from minor units.
func FromCents(c int64) Money { return wrap(decimal.New(c, -Scale)) }

// Parse reads an amount such as "1250.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return wrap(d), nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying decimal.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return wrap(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money { return wrap(m.d.Sub(o.d)) }
func (m Money) Neg() Money        { return wrap(m.d.Neg()) }
func (m Money) Abs() Money        { return wrap(m.d.Abs()) }

// Mul multiplies by an arbitrary factor and rounds the product.
func (m Money) Mul(f decimal.Decimal) Money { return wrap(m.d.Mul(f)) }

// Percent returns m * rate / 100, rounded.
func (m Money) Percent(rate decimal.Decimal) Money {
	return wrap(m.d.Mul(rate).Div(decimal.NewFromInt(100)))
}

func (m Money) Cmp(o Money) int              { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool           { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool     { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool        { return m.d.LessThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }
func (m Money) IsZero() bool                 { return m.d.IsZero() }
func (m Money) IsPositive() bool             { return m.d.IsPositive() }
func (m Money) IsNegative() bool             { return m.d.IsNegative() }

// String renders the amount with exactly two decimals.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.StringFixed(Scale)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	*m = wrap(d)
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("money: scan: %w", err)
	}
	*m = wrap(d)
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(Scale), nil
}

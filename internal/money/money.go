// Package money implements the fixed-point monetary amount used throughout
// the ledger kernel: a 19-digit scale with 4 fractional digits, never a
// floating point type.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every Amount.
const Scale = 4

// MaxDigits is the total number of significant digits an Amount may carry,
// integer part plus fractional part.
const MaxDigits = 19

// Amount is a single-currency monetary value rounded to Scale fractional
// digits on construction and after every arithmetic operation.
type Amount struct {
	v decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{v: decimal.Zero}

// New builds an Amount from a decimal, rounding to Scale.
func New(d decimal.Decimal) Amount {
	return Amount{v: d.Round(Scale)}
}

// NewFromString parses a decimal string (e.g. "25.0000") into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// NewFromInt builds an Amount from a whole-unit integer (no fractional part).
func NewFromInt(i int64) Amount {
	return New(decimal.NewFromInt(i))
}

func (a Amount) Decimal() decimal.Decimal { return a.v }

func (a Amount) Add(b Amount) Amount { return New(a.v.Add(b.v)) }
func (a Amount) Sub(b Amount) Amount { return New(a.v.Sub(b.v)) }
func (a Amount) Neg() Amount         { return New(a.v.Neg()) }
func (a Amount) Abs() Amount         { return New(a.v.Abs()) }

func (a Amount) IsZero() bool     { return a.v.IsZero() }
func (a Amount) IsPositive() bool { return a.v.IsPositive() }
func (a Amount) IsNegative() bool { return a.v.IsNegative() }

func (a Amount) GreaterThan(b Amount) bool         { return a.v.GreaterThan(b.v) }
func (a Amount) GreaterThanOrEqual(b Amount) bool   { return a.v.GreaterThanOrEqual(b.v) }
func (a Amount) LessThan(b Amount) bool             { return a.v.LessThan(b.v) }
func (a Amount) LessThanOrEqual(b Amount) bool       { return a.v.LessThanOrEqual(b.v) }
func (a Amount) Equal(b Amount) bool                { return a.v.Equal(b.v) }

// Cmp returns -1, 0 or 1 the way sort.Interface comparators expect.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(b.v) }

// WithinScale reports whether the amount fits the 19-digit/4-fractional-digit
// budget without losing precision — the accumulation overflow boundary named
// in the spec's Boundary Behaviours.
func (a Amount) WithinScale() bool {
	digits := a.v.NumDigits()
	return digits <= MaxDigits
}

func (a Amount) String() string { return a.v.StringFixed(Scale) }

// Value implements driver.Valuer so an Amount can be written directly by pgx.
func (a Amount) Value() (driver.Value, error) {
	return a.v.StringFixed(Scale), nil
}

// Scan implements sql.Scanner so an Amount can be read directly by pgx.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Zero
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*a = New(d)
		return nil
	case float64:
		*a = New(decimal.NewFromFloat(v))
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*a = New(d)
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Amount", src)
	}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	*a = New(d)
	return nil
}

// Sum adds a slice of Amounts; the batch service uses it to total a
// netting report's instruction amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

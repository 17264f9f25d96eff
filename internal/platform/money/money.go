// Package money provides the exact-decimal amount type used for all
// quote and claim arithmetic. Rounding for display happens outside the
// engine; nothing here ever touches binary floating point.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is an exact decimal monetary value.
type Amount struct {
	d decimal.Decimal
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromString parses a decimal string such as "1500.00".
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustParse parses s and panics on failure. Test helper.
func MustParse(s string) Amount {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt returns an amount of n whole units.
func FromInt(n int64) Amount { return Amount{d: decimal.NewFromInt(n)} }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// MulInt multiplies by an integer quantity.
func (a Amount) MulInt(n int) Amount { return Amount{d: a.d.Mul(decimal.NewFromInt(int64(n)))} }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

func (a Amount) Cmp(b Amount) int          { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool       { return a.d.Equal(b.d) }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }
func (a Amount) IsZero() bool              { return a.d.IsZero() }
func (a Amount) IsNegative() bool          { return a.d.IsNegative() }
func (a Amount) IsPositive() bool          { return a.d.IsPositive() }

func (a Amount) String() string { return a.d.String() }

// MarshalJSON encodes the amount as a JSON string to avoid any float
// round-trip on the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	a.d = d
	return nil
}

// Value implements driver.Valuer; amounts are stored as NUMERIC.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	a.d = d
	return nil
}

/*
Package engine provides the core financial engine primitives.

PURPOSE:
  This package contains domain-agnostic types and algorithms for exact
  monetary accounting: money values, month arithmetic, the append-only
  transaction ledger, and the store interfaces behind it. The building
  package layers the common-expense domain on top of these primitives.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: An exact decimal currency amount (never binary floating point)
  - RoundCents: Half-up rounding to 2 decimal places
  - Cent-level comparison with an explicit epsilon for reconciliation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Immutability: Money values are copied, never mutated in place
  3. Auditability: Every derived figure is reproducible from the ledger

USAGE:
  total := engine.NewMoney(300)
  share := total.Div(engine.NewMoneyFromInt(3)).RoundCents() // 100.00

SEE ALSO:
  - month.go: Month keys and month-end date arithmetic
  - ledger.go: Transaction model and ledger interface
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal currency amount
// =============================================================================

// Money is a signed currency amount backed by exact decimal arithmetic.
// Positive values are credits (payments received), negative values are
// debits (charges) throughout the engine.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// ParseMoney parses a decimal string like "123.45".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney parses a decimal string, returning zero on failure.
// Intended for constants and store deserialization where the input is trusted.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(o Money) Money          { return Money{Value: m.Value.Div(o.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) Abs() Money                 { return Money{Value: m.Value.Abs()} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }

// RoundCents rounds half-up to 2 decimal places. Every figure that leaves
// the engine (shares, balances, carry-forwards) is rounded through here.
func (m Money) RoundCents() Money {
	return Money{Value: m.Value.Round(2)}
}

// WithinEpsilon reports whether two amounts differ by at most eps.
// The chain verifier compares consecutive months with eps = 0.01.
func (m Money) WithinEpsilon(o Money, eps Money) bool {
	return m.Value.Sub(o.Value).Abs().LessThanOrEqual(eps.Value)
}

func (m Money) String() string {
	return m.Value.StringFixed(2)
}

// Floor clamps the amount at zero when policy forbids propagating credit.
func (m Money) FloorAtZero() Money {
	if m.IsNegative() {
		return ZeroMoney()
	}
	return m
}

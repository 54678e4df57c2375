package model

import "github.com/shopspring/decimal"

// Epsilon is the reconciliation tolerance: two amounts closer than this are equal.
var Epsilon = decimal.New(1, -2)

// Money rounds d to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ParseMoney parses a decimal string and rounds it to cents.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return Money(d), nil
}

// WithinEpsilon reports whether |a-b| < Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

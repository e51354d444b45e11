// Package money provides an integer minor-unit monetary value type.
// All escrow amounts flow through Money to keep arithmetic exact;
// float64 never touches a balance.
package money

import (
	"fmt"
)

// Money represents a monetary value in a specific currency.
// It uses integer math (minor units) to avoid floating point errors.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
	Scale       int    `json:"scale"`    // e.g. 2 for USD/EUR
}

// New creates a new Money instance in minor units.
func New(amountMinor int64, currency string) Money {
	return Money{
		AmountMinor: amountMinor,
		Currency:    currency,
		Scale:       2,
	}
}

// FromMajor creates Money from whole currency units (e.g. dollars).
func FromMajor(amountMajor int64, currency string) Money {
	return New(amountMajor*100, currency)
}

// Add adds two Money amounts. Returns error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	if m.Scale != other.Scale {
		return Money{}, fmt.Errorf("scale mismatch: %d vs %d", m.Scale, other.Scale)
	}
	return Money{
		AmountMinor: m.AmountMinor + other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// Sub subtracts other Money from m. Returns error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{
		AmountMinor: m.AmountMinor - other.AmountMinor,
		Currency:    m.Currency,
		Scale:       m.Scale,
	}, nil
}

// Cmp compares m to other: -1 if m < other, 0 if equal, +1 if m > other.
// Comparing across currencies is a programming error and panics.
func (m Money) Cmp(other Money) int {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: comparing %s to %s", m.Currency, other.Currency))
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1
	case m.AmountMinor > other.AmountMinor:
		return 1
	default:
		return 0
	}
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// String renders the amount as "1234.56 USD".
func (m Money) String() string {
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	major := m.AmountMinor / div
	minor := m.AmountMinor % div
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%d.%0*d %s", major, m.Scale, minor, m.Currency)
}

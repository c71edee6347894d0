// Package contract converts scoring output into the arguments the lending
// contract expects: native value units, basis-point rates and durations in
// seconds. Transactions are submitted by the borrower's or investor's
// wallet; nothing here talks to a chain.
package contract

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	secondsPerDay = 86400
	daysPerMonth  = 30
)

// Units describes how fiat-denominated amounts map onto the contract's
// native value unit
type Units struct {
	// FiatPerNative is how many fiat units one whole native token is worth
	FiatPerNative decimal.Decimal
	// Decimals is the number of base units per whole token, as a power of 10
	Decimals int32
}

// NewUnits validates and builds a Units value.
func NewUnits(fiatPerNative decimal.Decimal, decimals int32) (Units, error) {
	if !fiatPerNative.IsPositive() {
		return Units{}, fmt.Errorf("fiat per native unit must be positive, got %s", fiatPerNative)
	}
	if decimals < 0 || decimals > 36 {
		return Units{}, fmt.Errorf("native decimals must be within [0,36], got %d", decimals)
	}
	return Units{FiatPerNative: fiatPerNative, Decimals: decimals}, nil
}

// ToNative converts a fiat amount to native base units:
// amount / FiatPerNative * 10^Decimals, truncated toward zero so a
// conversion never sends more than the fiat amount is worth.
func (u Units) ToNative(amount float64) (*big.Int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("amount must be a finite number")
	}
	if amount < 0 {
		return nil, fmt.Errorf("amount must not be negative, got %v", amount)
	}
	if !u.FiatPerNative.IsPositive() {
		return nil, fmt.Errorf("conversion rate is not configured")
	}
	whole := decimal.NewFromFloat(amount).Div(u.FiatPerNative)
	return whole.Shift(u.Decimals).Truncate(0).BigInt(), nil
}

// FromNative converts native base units back to a fiat amount.
func (u Units) FromNative(value *big.Int) decimal.Decimal {
	if value == nil || !u.FiatPerNative.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -u.Decimals).Mul(u.FiatPerNative)
}

// RateBasisPoints converts an annual percentage (57.2) to basis points (5720).
func RateBasisPoints(percent float64) int64 {
	return int64(math.Round(percent * 100))
}

// TermSeconds converts a loan term in months to seconds using 30-day months.
func TermSeconds(months int) int64 {
	return int64(months) * daysPerMonth * secondsPerDay
}

var requestRefPattern = regexp.MustCompile(`^request_(\d+)$`)

// RequestRef formats a contract request id the way loan records store it.
func RequestRef(id uint64) string {
	return "request_" + strconv.FormatUint(id, 10)
}

// ParseRequestRef recovers the numeric id from a "request_<id>" reference.
func ParseRequestRef(ref string) (uint64, error) {
	m := requestRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, fmt.Errorf("invalid contract request reference %q", ref)
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid contract request id: %w", err)
	}
	return id, nil
}

// Converter holds the current Units and lets the exchange-rate feed swap
// the rate while requests are being served.
type Converter struct {
	mu    sync.RWMutex
	units Units
}

// NewConverter creates a converter with initial units.
func NewConverter(u Units) *Converter {
	return &Converter{units: u}
}

// Units returns the units in effect.
func (c *Converter) Units() Units {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.units
}

// SetFiatPerNative replaces the exchange rate, keeping the decimals.
func (c *Converter) SetFiatPerNative(rate decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, err := NewUnits(rate, c.units.Decimals)
	if err != nil {
		return err
	}
	c.units = u
	return nil
}

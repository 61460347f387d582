// Package money converts display-decimal bounty amounts into integer minor
// units of the ledger token and computes the platform fee split. All
// arithmetic after the boundary conversion is int64: floating point never
// touches an amount that reaches the ledger.
package money

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/shopspring/decimal"
)

var ErrNotRepresentable = errors.New("amount not representable in ledger minor units")

// ToMinor converts a display-decimal amount into minor units using the
// ledger's declared precision. Rounding rule: round half down — a fractional
// minor unit strictly greater than 0.5 rounds up, everything else truncates.
// The rule is deterministic and shared with Fee so that fee+net always equals
// the converted total.
func ToMinor(amount decimal.Decimal, decimals int) (int64, error) {
	if decimals < 0 {
		return 0, fmt.Errorf("invalid ledger decimals %d", decimals)
	}
	shifted := amount.Shift(int32(decimals))
	floor := shifted.Floor()
	frac := shifted.Sub(floor)
	if frac.GreaterThan(decimal.NewFromFloat(0.5)) {
		floor = floor.Add(decimal.NewFromInt(1))
	}
	if !floor.IsInteger() {
		return 0, ErrNotRepresentable
	}
	if floor.Cmp(decimal.NewFromInt(maxInt64)) > 0 || floor.IsNegative() {
		return 0, ErrNotRepresentable
	}
	return floor.IntPart(), nil
}

const maxInt64 = int64(^uint64(0) >> 1)

// FromMinor renders minor units back into a display decimal. Boundary only:
// used by HTTP responses and the CLI, never by settlement arithmetic.
func FromMinor(minor int64, decimals int) decimal.Decimal {
	return decimal.New(minor, -int32(decimals))
}

// Fee returns the platform fee for total minor units at the given rate in
// basis points, rounded half down. Net is always total-fee, so the split is
// exact by construction. The product totalMinor*rateBps can exceed int64 for
// totals near the int64 ceiling, so it is computed in 128 bits.
func Fee(totalMinor int64, rateBps int64) int64 {
	if totalMinor <= 0 || rateBps <= 0 {
		return 0
	}
	if rateBps > 10000 {
		rateBps = 10000
	}
	hi, lo := bits.Mul64(uint64(totalMinor), uint64(rateBps))
	// hi < 10000 because totalMinor < 2^63 and rateBps <= 10^4.
	q, r := bits.Div64(hi, lo, 10000)
	if r*2 > 10000 {
		q++
	}
	return int64(q)
}

// Split returns (fee, net) minor units for a bounty at rateBps.
func Split(totalMinor int64, rateBps int64) (fee int64, net int64) {
	fee = Fee(totalMinor, rateBps)
	return fee, totalMinor - fee
}

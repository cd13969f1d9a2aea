// Package fixedpoint provides shared amount parsing, formatting, and
// basis-point arithmetic.
//
// Amounts use 6 decimal places and are stored as big.Int in the smallest
// unit (1.000000 = 1,000,000 units). Multipliers are integer basis points
// (10000 = 100%). Multi-factor computations multiply all factors first and
// divide once by the combined scale, flooring the result.
package fixedpoint

import (
	"math/big"
	"strings"
)

const Decimals = 6

// OneBps is the basis-point scale: 10000 bps = 100%.
const OneBps = 10_000

var bpsScale = big.NewInt(OneBps)

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// ApplyBps returns amount * bps / 10000, floored. Nil amounts and
// non-positive inputs yield zero.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsScale)
}

// CombineBps multiplies a chain of basis-point factors and rescales back
// to a single basis-point value with one final division: for factors
// f1..fn the result is (f1 * f2 * ... * fn) / 10000^(n-1), floored.
func CombineBps(factors ...uint64) uint64 {
	if len(factors) == 0 {
		return OneBps
	}
	combined := new(big.Int).SetUint64(factors[0])
	for _, f := range factors[1:] {
		combined.Mul(combined, new(big.Int).SetUint64(f))
	}
	for i := 0; i < len(factors)-1; i++ {
		combined.Quo(combined, bpsScale)
	}
	if !combined.IsUint64() {
		return 0
	}
	return combined.Uint64()
}

// ClampBps bounds a basis-point value to [min, max].
func ClampBps(bps, min, max uint64) uint64 {
	if bps < min {
		return min
	}
	if bps > max {
		return max
	}
	return bps
}

// ClampScore bounds a 0-1000 score, used for risk, consistency, and
// confidence values.
func ClampScore(v int64) uint64 {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return uint64(v)
}

// Package xferval provides the 256-bit unsigned arithmetic used for
// transfer values and holder balances, backed by holiman/uint256 so
// balances never round-trip through a slower arbitrary-precision type.
package xferval

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Zero is the additive identity, useful as the default balance for a
// holder that has never been seen.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// ParseDecimal parses a base-10 string (as persisted in the `holders`
// table, and as returned by explorer APIs) into a value. It
// rejects anything that isn't a plain decimal number.
func ParseDecimal(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("xferval: parse %q: %w", s, err)
	}
	return v, nil
}

// Decimal renders v as a decimal string with no leading zeros, which is
// required for the length-then-lex top-N ordering trick in store.TopN.
func Decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// ApplyDelta adds a signed delta to balance and clamps the result at zero.
// clamped reports whether the raw result would have gone negative — callers
// use this to drive a "negative-balance clamp" warning counter, which should
// never fire under a correct, complete scan.
func ApplyDelta(balance *uint256.Int, delta *uint256.Int, negative bool) (result *uint256.Int, clamped bool) {
	if negative {
		sum := new(uint256.Int)
		_, underflow := sum.SubOverflow(balance, delta)
		if underflow {
			return Zero(), true
		}
		return sum, false
	}
	sum := new(uint256.Int).Add(balance, delta)
	return sum, false
}

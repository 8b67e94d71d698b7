// Package chainaddr canonicalizes EVM addresses for storage and comparison.
package chainaddr

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Zero is the mint/burn sentinel address. It is never materialized as a
// holder row.
var Zero = common.Address{}

// Parse validates a hex address string and returns the parsed address;
// Checksum renders it in the canonical form holders are written under.
func Parse(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("chainaddr: %q is not a valid address", addr)
	}
	return common.HexToAddress(addr), nil
}

// Checksum returns the EIP-55 mixed-case checksum form of addr.
func Checksum(addr common.Address) string {
	return addr.Hex()
}

// IsZero reports whether addr is the mint/burn sentinel address.
func IsZero(addr common.Address) bool {
	return addr == Zero
}

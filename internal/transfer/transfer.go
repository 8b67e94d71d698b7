// Package transfer defines the normalized Transfer record both scan
// sources emit, so the ledger applier stays source-agnostic.
package transfer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer is a normalized ERC-20 Transfer log, decoded from either the
// node's eth_getLogs or a block explorer's tokentx rows.
type Transfer struct {
	From     common.Address
	To       common.Address
	Value    *uint256.Int
	Block    uint64
	Ts       uint64
	TxHash   common.Hash
	LogIndex uint32

	// SyntheticLogIndex is true when LogIndex was not the log's real
	// position within the block but a transactionIndex fallback (the
	// explorer scanner, when a row omits logIndex). EventID namespaces
	// these so they can never collide with a real log's event id.
	SyntheticLogIndex bool
}

// EventID is the globally unique id under which this transfer is recorded
// in the events table, namespaced when the log index is a synthetic
// transactionIndex fallback rather than a real per-log index so the two
// can never collide.
func (t Transfer) EventID() string {
	if t.SyntheticLogIndex {
		return t.TxHash.Hex() + ":ti" + itoa(t.LogIndex)
	}
	return t.TxHash.Hex() + ":" + itoa(t.LogIndex)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

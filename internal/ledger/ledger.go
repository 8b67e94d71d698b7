// Package ledger is the Ledger Applier (LDG): a pure function over the
// Event Store that applies a single Transfer idempotently, enforcing the
// zero-address sink/source rule and the double-entry balance invariant.
package ledger

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/example/erc20-holder-indexer/internal/chainaddr"
	"github.com/example/erc20-holder-indexer/internal/store"
	"github.com/example/erc20-holder-indexer/internal/transfer"
	"github.com/example/erc20-holder-indexer/internal/xferval"
)

// Outcome reports what Apply did with a single Transfer.
type Outcome int

const (
	// Applied means the transfer was new and its mutations were written.
	Applied Outcome = iota
	// AlreadySeen means event_id was already recorded; no side effects.
	AlreadySeen
)

// ClampCounter tracks how many times a balance mutation underflowed and
// was clamped to zero. Safe for concurrent use; the facade exposes its
// value for observability.
type ClampCounter struct {
	n atomic.Int64
}

func (c *ClampCounter) inc() { c.n.Add(1) }

// Value returns the current count.
func (c *ClampCounter) Value() int64 { return c.n.Load() }

// Ledger applies Transfers to a Store. It holds no business state of its
// own; all durable state lives in the Store.
type Ledger struct {
	st      *store.Store
	clamped *ClampCounter
}

// New builds a Ledger over st. counter may be nil, in which case the
// Ledger counts clamp events on a private counter of its own.
func New(st *store.Store, counter *ClampCounter) *Ledger {
	if counter == nil {
		counter = &ClampCounter{}
	}
	return &Ledger{st: st, clamped: counter}
}

// ClampedCount returns how many times the negative-balance clamp has
// fired since process start.
func (l *Ledger) ClampedCount() int64 {
	return l.clamped.Value()
}

// Apply applies one Transfer within its own transaction and returns
// whether it was newly applied or already seen.
func (l *Ledger) Apply(ctx context.Context, t transfer.Transfer) (Outcome, error) {
	outcome := Applied
	err := l.st.WithTx(ctx, func(tx *sql.Tx) error {
		exists, err := store.EventExists(tx, t.EventID())
		if err != nil {
			return err
		}
		if exists {
			outcome = AlreadySeen
			return nil
		}
		return l.applyWithinTx(tx, t)
	})
	if err != nil {
		return Applied, err
	}
	return outcome, nil
}

// ApplyBatch applies transfers in order within a single transaction so
// they commit or roll back together, keeping a whole scan window atomic.
func (l *Ledger) ApplyBatch(ctx context.Context, transfers []transfer.Transfer) error {
	return l.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range transfers {
			exists, err := store.EventExists(tx, t.EventID())
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := l.applyWithinTx(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyBatchAndAdvance applies transfers and advances last_scanned_block
// to newLastBlock in one transaction, so a scanner's progress checkpoint
// can never be committed without the transfers that produced it (and vice
// versa).
func (l *Ledger) ApplyBatchAndAdvance(ctx context.Context, transfers []transfer.Transfer, newLastBlock uint64) error {
	return l.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range transfers {
			exists, err := store.EventExists(tx, t.EventID())
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := l.applyWithinTx(tx, t); err != nil {
				return err
			}
		}
		return store.SetLastScannedBlock(tx, newLastBlock)
	})
}

// applyWithinTx mutates both endpoints and records the event. Caller must
// have already verified the event does not yet exist.
func (l *Ledger) applyWithinTx(tx *sql.Tx, t transfer.Transfer) error {
	if err := l.mutate(tx, t.From, t.Value, true, t.Block, t.Ts); err != nil {
		return err
	}
	if err := l.mutate(tx, t.To, t.Value, false, t.Block, t.Ts); err != nil {
		return err
	}
	return store.InsertEvent(tx, t.EventID(), t.Block, t.TxHash.Hex(), t.LogIndex, t.Ts)
}

// mutate applies one endpoint's signed balance delta. negative is true for
// the `from` endpoint (delta = -value) and false for `to` (delta = +value).
// The zero address is never materialized as a holder row.
func (l *Ledger) mutate(tx *sql.Tx, addr common.Address, value *uint256.Int, negative bool, block, ts uint64) error {
	if chainaddr.IsZero(addr) {
		return nil
	}
	addrStr := chainaddr.Checksum(addr)

	cur, _, err := store.GetHolderBalance(tx, addrStr)
	if err != nil {
		return err
	}
	old, err := xferval.ParseDecimal(cur)
	if err != nil {
		return err
	}

	next, clamped := xferval.ApplyDelta(old, value, negative)
	if clamped {
		l.clamped.inc()
		log.Warn().
			Str("address", addrStr).
			Str("old_balance", xferval.Decimal(old)).
			Uint64("block", block).
			Msg("balance mutation underflowed and was clamped to zero")
	}

	return store.UpsertHolder(tx, addrStr, xferval.Decimal(next), block, ts)
}

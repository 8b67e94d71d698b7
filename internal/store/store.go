// Package store is the Event Store (EVS): the durable surface over
// holders, events, and meta that the ledger applier mutates and the
// indexer facade queries. Backed by modernc.org/sqlite, a pure-Go
// database/sql driver, so the binary stays cross-compile friendly with
// no cgo sqlite3 dependency.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a durable key/relational surface with three logical tables:
// holders, events (dedup ledger), and meta (scalars). One Store owns one
// database file for the lifetime of the indexer process.
type Store struct {
	db *sql.DB
}

// Open opens (and, if necessary, creates) the sqlite database at path,
// enabling write-ahead journaling for crash safety and applying the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single sqlite connection per writer avoids "database is locked"
	// errors under modernc's driver; reads and the (rare) concurrent
	// writes are cheap enough at this scale to serialize.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HolderRow is one row of the holders table.
type HolderRow struct {
	Address     string
	Balance     string
	LastTxBlock uint64
	LastTxTs    uint64
}

// WithTx runs fn inside a single database transaction, committing on
// success and rolling back on error or panic. Every applied batch from
// the ledger applier goes through this so a batch's holder mutations and
// event insert commit atomically.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// EventExists reports whether event_id is already recorded, for the
// ledger applier's dedup check.
func EventExists(tx *sql.Tx, eventID string) (bool, error) {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: check event %s: %w", eventID, err)
	default:
		return true, nil
	}
}

// InsertEvent records event_id as applied. Callers must have already
// checked EventExists within the same transaction.
func InsertEvent(tx *sql.Tx, eventID string, block uint64, txHash string, logIndex uint32, ts uint64) error {
	_, err := tx.Exec(
		`INSERT INTO events(event_id, block_number, tx_hash, log_index, ts) VALUES (?, ?, ?, ?, ?)`,
		eventID, block, txHash, logIndex, ts,
	)
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", eventID, err)
	}
	return nil
}

// GetHolderBalance returns the current balance for addr, or ("0", false)
// if the address has never been seen.
func GetHolderBalance(tx *sql.Tx, addr string) (balance string, found bool, err error) {
	err = tx.QueryRow(`SELECT balance FROM holders WHERE address = ?`, addr).Scan(&balance)
	switch {
	case err == sql.ErrNoRows:
		return "0", false, nil
	case err != nil:
		return "0", false, fmt.Errorf("store: read holder %s: %w", addr, err)
	default:
		return balance, true, nil
	}
}

// UpsertHolder writes the new balance and last-tx metadata for addr,
// inserting the row if it does not already exist.
func UpsertHolder(tx *sql.Tx, addr, balance string, block, ts uint64) error {
	_, err := tx.Exec(`
		INSERT INTO holders(address, balance, last_tx_block, last_tx_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			balance = excluded.balance,
			last_tx_block = excluded.last_tx_block,
			last_tx_ts = excluded.last_tx_ts
	`, addr, balance, block, ts)
	if err != nil {
		return fmt.Errorf("store: upsert holder %s: %w", addr, err)
	}
	return nil
}

// GetMeta reads a scalar from the meta table.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("store: read meta %s: %w", key, err)
	default:
		return value, true, nil
	}
}

// SetMeta upserts a scalar into the meta table within tx.
func SetMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}

// LastScannedBlock returns the highest block number scanning has
// completed through, if any scan has ever committed.
func (s *Store) LastScannedBlock(ctx context.Context) (block uint64, found bool, err error) {
	v, found, err := s.GetMeta(ctx, metaLastScannedBlock)
	if err != nil || !found {
		return 0, found, err
	}
	if _, err := fmt.Sscanf(v, "%d", &block); err != nil {
		return 0, false, fmt.Errorf("store: parse last_scanned_block %q: %w", v, err)
	}
	return block, true, nil
}

// SetLastScannedBlock records the new high-water mark within tx. Callers
// are responsible for only ever advancing it; the store does not enforce
// monotonicity itself so that tests can exercise edge cases directly.
func SetLastScannedBlock(tx *sql.Tx, block uint64) error {
	return SetMeta(tx, metaLastScannedBlock, fmt.Sprintf("%d", block))
}

// TopN returns the n holders with the largest non-zero balance, ordered
// by numeric magnitude descending. Ordering exploits that decimal strings
// with no leading zeros sort correctly by (length DESC, lexicographic
// DESC).
func (s *Store) TopN(ctx context.Context, n int) ([]HolderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, last_tx_block, last_tx_ts
		FROM holders
		WHERE balance != '0'
		ORDER BY LENGTH(balance) DESC, balance DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("store: top %d: %w", n, err)
	}
	defer rows.Close()

	var out []HolderRow
	for rows.Next() {
		var h HolderRow
		if err := rows.Scan(&h.Address, &h.Balance, &h.LastTxBlock, &h.LastTxTs); err != nil {
			return nil, fmt.Errorf("store: scan holder row: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate holders: %w", err)
	}
	return out, nil
}

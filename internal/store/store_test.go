package store

import (
	"context"
	"database/sql"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndReadHolder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpsertHolder(tx, "0xA", "100", 10, 1000)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		bal, found, err := GetHolderBalance(tx, "0xA")
		if err != nil {
			return err
		}
		if !found || bal != "100" {
			t.Fatalf("expected balance 100, got %q found=%v", bal, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func TestEventDedup(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		exists, err := EventExists(tx, "0xabc:0")
		if err != nil {
			return err
		}
		if exists {
			t.Fatalf("event should not exist yet")
		}
		return InsertEvent(tx, "0xabc:0", 10, "0xabc", 0, 1000)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		exists, err := EventExists(tx, "0xabc:0")
		if err != nil {
			return err
		}
		if !exists {
			t.Fatalf("event should now exist")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func TestLastScannedBlockRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, found, err := s.LastScannedBlock(ctx); err != nil || found {
		t.Fatalf("expected no last_scanned_block yet, found=%v err=%v", found, err)
	}

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetLastScannedBlock(tx, 100)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	block, found, err := s.LastScannedBlock(ctx)
	if err != nil || !found || block != 100 {
		t.Fatalf("expected block=100 found=true, got block=%d found=%v err=%v", block, found, err)
	}
}

func TestTopNOrdersByNumericMagnitude(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	balances := map[string]string{
		"0xA": "9",
		"0xB": "10",
		"0xC": "100",
		"0xD": "0",
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for addr, bal := range balances {
			if err := UpsertHolder(tx, addr, bal, 1, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	top, err := s.TopN(ctx, 2)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(top))
	}
	if top[0].Address != "0xC" || top[0].Balance != "100" {
		t.Fatalf("expected 0xC first, got %+v", top[0])
	}
	if top[1].Address != "0xB" || top[1].Balance != "10" {
		t.Fatalf("expected 0xB second, got %+v", top[1])
	}
}

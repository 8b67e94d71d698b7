package rpcscan

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/store"
)

type rpcErr struct {
	code int
	msg  string
}

func (e *rpcErr) Error() string  { return e.msg }
func (e *rpcErr) ErrorCode() int { return e.code }

type mockClient struct {
	head           uint64
	maxSpan        uint64
	spansSeen      []uint64
	succeededSpans []uint64
	headerTime     uint64
}

func (m *mockClient) BlockNumber(ctx context.Context) (uint64, error) {
	return m.head, nil
}

func (m *mockClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	span := to - from + 1
	m.spansSeen = append(m.spansSeen, span)
	if span > m.maxSpan {
		return nil, &rpcErr{code: -32005, msg: "query returned more than 10000 results"}
	}
	m.succeededSpans = append(m.succeededSpans, span)
	return nil, nil
}

func (m *mockClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Time: m.headerTime}, nil
}

type fakeStore struct {
	last  uint64
	found bool
}

func (f *fakeStore) LastScannedBlock(ctx context.Context) (uint64, bool, error) {
	return f.last, f.found, nil
}

func newTestScanner(t *testing.T, client Client) (*Scanner, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ldg := ledger.New(st, nil)
	token := common.HexToAddress("0x000000000000000000000000000000000000aa")
	return New(client, ldg, token), st
}

// S5 — adaptive span: a mock RPC that rejects spans > 50 must never be
// asked for a span larger than 50 once bisection succeeds.
func TestS5AdaptiveBisection(t *testing.T) {
	orig := backoff
	backoff = time.Millisecond
	defer func() { backoff = orig }()

	client := &mockClient{head: 2020, maxSpan: 50}
	s, st := newTestScanner(t, client)

	fromBlock := uint64(0)
	err := s.Scan(context.Background(), st, &fromBlock, 2000, 20)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for _, span := range client.succeededSpans {
		if span > 50 {
			t.Fatalf("a successful fetch used span %d > 50", span)
		}
	}
	succeeded := false
	for _, span := range client.spansSeen {
		if span <= 50 {
			succeeded = true
			continue
		}
		if succeeded {
			t.Fatalf("span %d > 50 requested after bisection had succeeded", span)
		}
	}

	last, found, err := st.LastScannedBlock(context.Background())
	if err != nil || !found {
		t.Fatalf("expected last_scanned_block set, found=%v err=%v", found, err)
	}
	if last != 2000 { // head(2020) - confirmations(20)
		t.Fatalf("expected last_scanned_block=2000, got %d", last)
	}
}

func TestScanUpToDateReturnsImmediately(t *testing.T) {
	client := &mockClient{head: 100, maxSpan: 1000}
	s, st := newTestScanner(t, client)
	ctx := context.Background()

	// head=100, confirmations=20 -> safe_head=80; starting past it means
	// nothing to scan.
	fromBlock := uint64(81)
	if err := s.Scan(ctx, st, &fromBlock, 10, 20); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(client.spansSeen) != 0 {
		t.Fatalf("expected no FilterLogs calls when already up to date, got %d", len(client.spansSeen))
	}
}

func TestScanErrorsWithoutStartBlock(t *testing.T) {
	client := &mockClient{head: 100, maxSpan: 1000}
	s, st := newTestScanner(t, client)

	err := s.Scan(context.Background(), &fakeStore{found: false}, nil, 10, 20)
	if !errors.Is(err, ErrNoStartBlock) {
		t.Fatalf("expected ErrNoStartBlock, got %v", err)
	}
	_ = st
}

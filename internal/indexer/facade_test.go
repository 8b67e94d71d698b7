package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/rpcscan"
	"github.com/example/erc20-holder-indexer/internal/store"
	"github.com/example/erc20-holder-indexer/internal/tokenclient"
)

func TestToHumanTrimsTrailingZeros(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		want     string
	}{
		{"1500000", 6, "1.5"},
		{"1000000", 6, "1"},
		{"0", 6, "0"},
		{"42000000", 18, "0.000000000042"},
		{"100", 0, "100"},
	}
	for _, c := range cases {
		v, err := uint256.FromDecimal(c.raw)
		if err != nil {
			t.Fatalf("FromDecimal(%s): %v", c.raw, err)
		}
		got := ToHuman(v, c.decimals)
		if got != c.want {
			t.Fatalf("ToHuman(%s, %d) = %q, want %q", c.raw, c.decimals, got, c.want)
		}
	}
}

// emptyRPCClient never finds anything; only used to build a Facade whose
// Scan path is never actually exercised by these tests.
type emptyRPCClient struct{}

func (emptyRPCClient) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (emptyRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (emptyRPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{}, nil
}

type constantCallClient struct {
	responses map[string][]byte
}

func (c constantCallClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.responses[string(msg.Data[:4])], nil
}

func selector(sig string) []byte {
	hash := crypto.Keccak256([]byte(sig))
	return hash[:4]
}

func encodeReturnUint(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func encodeReturnString(s string) []byte {
	out := make([]byte, 32)
	big.NewInt(32).FillBytes(out)
	lenWord := make([]byte, 32)
	big.NewInt(int64(len(s))).FillBytes(lenWord)
	out = append(out, lenWord...)
	data := []byte(s)
	padded := (len(data) + 31) / 32 * 32
	buf := make([]byte, padded)
	copy(buf, data)
	return append(out, buf...)
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ldg := ledger.New(st, nil)

	token := common.HexToAddress("0x000000000000000000000000000000000000aa")
	rpc := rpcscan.New(emptyRPCClient{}, ldg, token)

	mockCall := constantCallClient{responses: map[string][]byte{
		string(selector("symbol()")):      encodeReturnString("TKN"),
		string(selector("decimals()")):    encodeReturnUint(18),
		string(selector("name()")):        encodeReturnString("Test Token"),
		string(selector("totalSupply()")): encodeReturnUint(0),
	}}
	tc, err := tokenclient.New(context.Background(), mockCall, token)
	if err != nil {
		t.Fatalf("tokenclient.New: %v", err)
	}

	return New(st, ldg, rpc, nil, tc, 2000, 20)
}

func TestRefreshExplorerWithoutPriorScanFails(t *testing.T) {
	f := newTestFacade(t)
	err := f.refresh(context.Background(), RefreshExplorer, "key")
	if !errors.Is(err, ErrNoResumePoint) {
		t.Fatalf("expected ErrNoResumePoint, got %v", err)
	}
}

func TestBootstrapWithoutExplorerConfigured(t *testing.T) {
	f := newTestFacade(t)
	err := f.Bootstrap(context.Background(), "key", nil, 2000, 0)
	if err == nil {
		t.Fatalf("expected error when no explorer scanner is configured")
	}
}

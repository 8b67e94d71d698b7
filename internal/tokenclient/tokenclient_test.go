package tokenclient

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// mockCallClient dispatches on the leading 4-byte selector, mimicking
// how a real node would route an eth_call to the matching function.
type mockCallClient struct {
	responses map[string][]byte
}

func (m *mockCallClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sel := string(msg.Data[:4])
	return m.responses[sel], nil
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

func encodeReturnUint(v int64) []byte {
	out := make([]byte, 32)
	big.NewInt(v).FillBytes(out)
	return out
}

func newMock(t *testing.T) (*mockCallClient, common.Address) {
	t.Helper()
	token := common.HexToAddress("0x000000000000000000000000000000000000aa")
	m := &mockCallClient{responses: map[string][]byte{
		string(selectorSymbol):      encodeReturnString("USDX"),
		string(selectorDecimals):    encodeReturnUint(6),
		string(selectorName):        encodeReturnString("USD Example"),
		string(selectorTotalSupply): encodeReturnUint(1_000_000_000),
		string(selectorBalanceOf):   encodeReturnUint(42_000),
	}}
	return m, token
}

func TestNewResolvesMetadata(t *testing.T) {
	m, token := newMock(t)
	c, err := New(context.Background(), m, token)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Symbol() != "USDX" {
		t.Fatalf("expected symbol USDX, got %q", c.Symbol())
	}
	if c.Decimals() != 6 {
		t.Fatalf("expected decimals 6, got %d", c.Decimals())
	}
}

func TestGetBalance(t *testing.T) {
	m, token := newMock(t)
	c, err := New(context.Background(), m, token)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	holder := common.HexToAddress("0x00000000000000000000000000000000001234")
	bal, err := c.GetBalance(context.Background(), holder, nil)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Dec() != "42000" {
		t.Fatalf("expected balance 42000, got %s", bal.Dec())
	}
}

func TestGetBalanceBatch(t *testing.T) {
	m, token := newMock(t)
	c, err := New(context.Background(), m, token)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	holders := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000aaaa"),
		common.HexToAddress("0x0000000000000000000000000000000000bbbb"),
	}
	balances, err := c.GetBalanceBatch(context.Background(), holders)
	if err != nil {
		t.Fatalf("GetBalanceBatch: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
}

func TestGetTokenInfo(t *testing.T) {
	m, token := newMock(t)
	c, err := New(context.Background(), m, token)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info, err := c.GetTokenInfo(context.Background())
	if err != nil {
		t.Fatalf("GetTokenInfo: %v", err)
	}
	if info.Name != "USD Example" || info.Symbol != "USDX" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.TotalSupply.Dec() != "1000000000" {
		t.Fatalf("expected total supply 1000000000, got %s", info.TotalSupply.Dec())
	}
}

func TestEncodeAddressPadsTo32Bytes(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000001234")
	word := encodeAddress(addr)
	if len(word) != 32 {
		t.Fatalf("expected 32-byte word, got %d", len(word))
	}
	if !bytes.Equal(word[12:], addr.Bytes()) {
		t.Fatalf("address not right-aligned in word")
	}
}

// Package tokenclient reads ERC-20 token metadata and balances directly
// off-chain via eth_call, without a generated ABI binding: function
// selectors are computed by hand from their Solidity signatures and
// return values are decoded from the raw ABI-encoded bytes. This keeps
// the dependency surface to go-ethereum's call primitives alone.
package tokenclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	selectorName        = selector("name()")
	selectorSymbol      = selector("symbol()")
	selectorDecimals    = selector("decimals()")
	selectorTotalSupply = selector("totalSupply()")
	selectorBalanceOf   = selector("balanceOf(address)")
)

// CallClient is the narrow go-ethereum surface tokenclient needs, so it
// can be unit tested without a live node.
type CallClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Info is a token's static metadata, cached for the lifetime of a Client.
type Info struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
}

// Client reads balances and metadata for one ERC-20 token contract.
type Client struct {
	rpc   CallClient
	token common.Address

	symbol   string
	decimals uint8
	name     string
	haveName bool
}

// New builds a Client and eagerly resolves symbol/decimals, since nearly
// every other operation (human-readable balances, /get_token_info) needs
// them and a bad token address should fail fast at startup.
func New(ctx context.Context, rpc CallClient, token common.Address) (*Client, error) {
	c := &Client{rpc: rpc, token: token}

	symBytes, err := c.call(ctx, selectorSymbol, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: call symbol(): %w", err)
	}
	symbol, err := decodeString(symBytes)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: decode symbol(): %w", err)
	}
	c.symbol = symbol

	decBytes, err := c.call(ctx, selectorDecimals, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: call decimals(): %w", err)
	}
	decimals, err := decodeUint8(decBytes)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: decode decimals(): %w", err)
	}
	c.decimals = decimals

	if nameBytes, err := c.call(ctx, selectorName, nil, nil); err == nil {
		if name, err := decodeString(nameBytes); err == nil {
			c.name = name
			c.haveName = true
		}
	}

	return c, nil
}

// Symbol returns the cached token symbol.
func (c *Client) Symbol() string { return c.symbol }

// Decimals returns the cached token decimals.
func (c *Client) Decimals() uint8 { return c.decimals }

// GetBalance returns holder's raw balanceOf at the given block (nil for
// latest).
func (c *Client) GetBalance(ctx context.Context, holder common.Address, blockNumber *big.Int) (*uint256.Int, error) {
	data, err := c.call(ctx, selectorBalanceOf, encodeAddress(holder), blockNumber)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: call balanceOf(%s): %w", holder.Hex(), err)
	}
	bal, err := decodeUint256(data)
	if err != nil {
		return nil, fmt.Errorf("tokenclient: decode balanceOf(%s): %w", holder.Hex(), err)
	}
	return bal, nil
}

// GetBalanceBatch resolves balances for several holders, stopping at the
// first failure — a partial result set would be misleading for a
// balance report.
func (c *Client) GetBalanceBatch(ctx context.Context, holders []common.Address) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(holders))
	for i, h := range holders {
		bal, err := c.GetBalance(ctx, h, nil)
		if err != nil {
			return nil, fmt.Errorf("tokenclient: batch index %d: %w", i, err)
		}
		out[i] = bal
	}
	return out, nil
}

// GetTokenInfo returns the token's full metadata, re-reading totalSupply
// each call since it can change (mint/burn) but symbol/decimals/name
// cannot.
func (c *Client) GetTokenInfo(ctx context.Context) (Info, error) {
	supplyBytes, err := c.call(ctx, selectorTotalSupply, nil, nil)
	if err != nil {
		return Info{}, fmt.Errorf("tokenclient: call totalSupply(): %w", err)
	}
	supply, err := decodeUint256(supplyBytes)
	if err != nil {
		return Info{}, fmt.Errorf("tokenclient: decode totalSupply(): %w", err)
	}

	name := c.name
	if !c.haveName {
		name = c.symbol
	}

	return Info{
		Address:     c.token,
		Name:        name,
		Symbol:      c.symbol,
		Decimals:    c.decimals,
		TotalSupply: supply,
	}, nil
}

func (c *Client) call(ctx context.Context, sel, args []byte, blockNumber *big.Int) ([]byte, error) {
	data := append(append([]byte{}, sel...), args...)
	msg := ethereum.CallMsg{To: &c.token, Data: data}
	return c.rpc.CallContract(ctx, msg, blockNumber)
}

func selector(sig string) []byte {
	hash := crypto.Keccak256([]byte(sig))
	return hash[:4]
}

// encodeAddress left-pads addr to a 32-byte ABI word.
func encodeAddress(addr common.Address) []byte {
	var word [32]byte
	copy(word[12:], addr.Bytes())
	return word[:]
}

func decodeString(data []byte) (string, error) {
	if len(data) < 64 {
		return "", errors.New("tokenclient: data too short for string")
	}
	offset := new(big.Int).SetBytes(data[:32]).Int64()
	if offset < 0 || offset+32 > int64(len(data)) {
		return "", errors.New("tokenclient: invalid string offset")
	}
	lengthStart := int(offset)
	lengthEnd := lengthStart + 32
	if lengthEnd > len(data) {
		return "", errors.New("tokenclient: invalid string length field")
	}
	length := new(big.Int).SetBytes(data[lengthStart:lengthEnd]).Int64()
	if length < 0 {
		return "", errors.New("tokenclient: negative string length")
	}
	dataStart := lengthEnd
	dataEnd := dataStart + int(length)
	if dataEnd > len(data) {
		return "", errors.New("tokenclient: string exceeds data bounds")
	}
	return string(data[dataStart:dataEnd]), nil
}

func decodeUint8(data []byte) (uint8, error) {
	if len(data) < 32 {
		return 0, errors.New("tokenclient: data too short for uint8")
	}
	return data[len(data)-1], nil
}

func decodeUint256(data []byte) (*uint256.Int, error) {
	if len(data) < 32 {
		return nil, errors.New("tokenclient: data too short for uint256")
	}
	return new(uint256.Int).SetBytes(data[len(data)-32:]), nil
}

// Package indexer is the Indexer Facade (IDX): the single entry point
// HTTP handlers (and any other caller) use to trigger a refresh and read
// back holder balances. It owns the only exclusive-write path into the
// Event Store: concurrent scan/bootstrap calls against the same store
// collapse into one in-flight call via singleflight rather than racing
// each other or requiring a bespoke lock type.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/example/erc20-holder-indexer/internal/explorerscan"
	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/rpcscan"
	"github.com/example/erc20-holder-indexer/internal/store"
	"github.com/example/erc20-holder-indexer/internal/tokenclient"
)

// refreshKey is the singleflight key every write path shares, so a scan
// and a bootstrap against the same store can never run concurrently.
const refreshKey = "refresh"

// RefreshKind selects which source TopN/TopNWithLastTx use to catch up
// before reading balances.
type RefreshKind int

const (
	RefreshRPC RefreshKind = iota
	RefreshExplorer
)

// ErrExplorerAPIKeyRequired is returned when an explorer refresh is
// requested without an API key.
var ErrExplorerAPIKeyRequired = errors.New("indexer: explorer refresh requires an api key")

// ErrNoResumePoint is returned when an explorer refresh is requested but
// the store has never been scanned, so there is no last_scanned_block to
// resume from.
var ErrNoResumePoint = errors.New("indexer: explorer refresh requires a prior scan to resume from")

// Holder is one row of a TopN result, with the balance already converted
// to a human-readable decimal using the token's decimals.
type Holder struct {
	Address string
	Balance string
}

// HolderWithLastTx is a Holder plus the token symbol and the holder's
// last transaction ISO-8601 UTC timestamp.
type HolderWithLastTx struct {
	Address string
	Balance string
	Symbol  string
	LastTx  string
}

// Facade wires together the store, ledger, both scan sources, and the
// token metadata client behind one serialized write path.
type Facade struct {
	st       *store.Store
	ldg      *ledger.Ledger
	rpc      *rpcscan.Scanner
	explorer *explorerscan.Scanner
	token    *tokenclient.Client

	batchSize     uint64
	confirmations uint64

	sf singleflight.Group
}

// New builds a Facade. explorer may be nil if no explorer API is
// configured; Explorer-refresh calls then fail with a plain error.
func New(st *store.Store, ldg *ledger.Ledger, rpc *rpcscan.Scanner, explorer *explorerscan.Scanner, token *tokenclient.Client, batchSize, confirmations uint64) *Facade {
	return &Facade{
		st:            st,
		ldg:           ldg,
		rpc:           rpc,
		explorer:      explorer,
		token:         token,
		batchSize:     batchSize,
		confirmations: confirmations,
	}
}

// ClampedCount returns how many times a balance mutation has underflowed
// and been clamped to zero since process start.
func (f *Facade) ClampedCount() int64 {
	return f.ldg.ClampedCount()
}

// LastScannedBlock passes through the store's high-water mark, so callers
// (HTTP handlers) can report progress after a scan or bootstrap.
func (f *Facade) LastScannedBlock(ctx context.Context) (uint64, bool, error) {
	return f.st.LastScannedBlock(ctx)
}

// Scan runs (or joins an in-flight) RPC scan up to the
// confirmations-adjusted chain head. It resumes from the store's last
// checkpoint when one exists; fromBlock is only used on an empty store.
func (f *Facade) Scan(ctx context.Context, fromBlock *uint64) error {
	_, err, _ := f.sf.Do(refreshKey, func() (any, error) {
		return nil, f.rpc.Scan(ctx, f.st, fromBlock, f.batchSize, f.confirmations)
	})
	return err
}

// Bootstrap runs (or joins an in-flight) explorer scan using apiKey. It
// resumes from the store's last checkpoint when one exists; fromBlock is
// only used on an empty store and is ignored otherwise.
func (f *Facade) Bootstrap(ctx context.Context, apiKey string, fromBlock *uint64, offset int, sleep time.Duration) error {
	if f.explorer == nil {
		return errors.New("indexer: no explorer scanner configured")
	}
	if apiKey == "" {
		return ErrExplorerAPIKeyRequired
	}
	_, err, _ := f.sf.Do(refreshKey, func() (any, error) {
		return nil, f.explorer.ScanWithAPIKey(ctx, f.st, fromBlock, apiKey, offset, f.confirmations, sleep)
	})
	return err
}

// TopN refreshes via kind, then returns the n largest non-zero holder
// balances as human-readable decimal strings.
func (f *Facade) TopN(ctx context.Context, n int, kind RefreshKind, apiKey string) ([]Holder, error) {
	if err := f.refresh(ctx, kind, apiKey); err != nil {
		return nil, err
	}
	rows, err := f.st.TopN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("indexer: top %d: %w", n, err)
	}

	decimals := f.token.Decimals()
	out := make([]Holder, 0, len(rows))
	for _, r := range rows {
		bal, err := parseDecimal(r.Balance)
		if err != nil {
			return nil, err
		}
		out = append(out, Holder{Address: r.Address, Balance: ToHuman(bal, decimals)})
	}
	return out, nil
}

// TopNWithLastTx is TopN plus the token symbol and each holder's last
// transaction ISO-8601 UTC timestamp.
func (f *Facade) TopNWithLastTx(ctx context.Context, n int, kind RefreshKind, apiKey string) ([]HolderWithLastTx, error) {
	if err := f.refresh(ctx, kind, apiKey); err != nil {
		return nil, err
	}
	rows, err := f.st.TopN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("indexer: top %d: %w", n, err)
	}

	decimals := f.token.Decimals()
	symbol := f.token.Symbol()
	out := make([]HolderWithLastTx, 0, len(rows))
	for _, r := range rows {
		bal, err := parseDecimal(r.Balance)
		if err != nil {
			return nil, err
		}
		out = append(out, HolderWithLastTx{
			Address: r.Address,
			Balance: ToHuman(bal, decimals),
			Symbol:  symbol,
			LastTx:  time.Unix(int64(r.LastTxTs), 0).UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (f *Facade) refresh(ctx context.Context, kind RefreshKind, apiKey string) error {
	switch kind {
	case RefreshRPC:
		return f.Scan(ctx, nil)
	case RefreshExplorer:
		last, found, err := f.st.LastScannedBlock(ctx)
		if err != nil {
			return fmt.Errorf("indexer: read last scanned block: %w", err)
		}
		if !found {
			return ErrNoResumePoint
		}
		from := last + 1
		return f.Bootstrap(ctx, apiKey, &from, 2000, 250*time.Millisecond)
	default:
		return fmt.Errorf("indexer: unknown refresh kind %d", kind)
	}
}

func parseDecimal(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("indexer: parse balance %q: %w", s, err)
	}
	return v, nil
}

// ToHuman renders balance divided by 10^decimals as a trimmed decimal
// string, e.g. 1_500_000 at 6 decimals -> "1.5".
func ToHuman(balance *uint256.Int, decimals uint8) string {
	if decimals == 0 {
		return balance.Dec()
	}
	divisor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))

	quotient, remainder := new(uint256.Int), new(uint256.Int)
	quotient.DivMod(balance, divisor, remainder)

	fracStr := remainder.Dec()
	fracStr = leftPad(fracStr, int(decimals))
	fracStr = trimTrailingZeros(fracStr)

	if fracStr == "" {
		return quotient.Dec()
	}
	return quotient.Dec() + "." + fracStr
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func trimTrailingZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	return s[:i]
}

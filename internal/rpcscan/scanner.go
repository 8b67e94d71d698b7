// Package rpcscan is the RPC Scanner (RPC): pulls Transfer logs in
// adaptive block windows via the node's eth_getLogs, bisecting the window
// on provider range/limit errors, up to a confirmation-adjusted safe
// head.
package rpcscan

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/example/erc20-holder-indexer/internal/errclass"
	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/transfer"
)

// transferSigHash is keccak256("Transfer(address,address,uint256)").
var transferSigHash = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// backoff is the pause between a bisection retry and the next attempt.
var backoff = 100 * time.Millisecond

// Client is the subset of ethclient.Client the scanner depends on, kept
// narrow so tests can supply a mock (grounded on geth/09-events's
// LogClient pattern).
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ErrNoStartBlock is returned when the store has no prior progress and
// the caller did not supply a genesis block to start from.
var ErrNoStartBlock = errors.New("rpcscan: no last_scanned_block recorded and no fromBlock given")

// Scanner runs RPC-based log scans for a single token contract.
type Scanner struct {
	client Client
	ledger *ledger.Ledger
	token  common.Address

	// blockTS memoizes block number -> timestamp for one Scan invocation.
	blockTS map[uint64]uint64
}

// New builds a Scanner for token, backed by client and writing through
// ledger.
func New(client Client, ldg *ledger.Ledger, token common.Address) *Scanner {
	return &Scanner{client: client, ledger: ldg, token: token}
}

// LastScanned is implemented by the store so the scanner can read the
// resume point without importing the store package directly.
type LastScanned interface {
	LastScannedBlock(ctx context.Context) (block uint64, found bool, err error)
}

// Scan advances last_scanned_block to the new safe head, pulling and
// applying Transfer logs in adaptive windows. fromBlock is only consulted
// when the store has no prior progress.
func (s *Scanner) Scan(ctx context.Context, store LastScanned, fromBlock *uint64, batch uint64, confirmations uint64) error {
	s.blockTS = make(map[uint64]uint64)

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("rpcscan: chain head: %w", err)
	}
	safeHead := saturatingSub(head, confirmations)

	last, found, err := store.LastScannedBlock(ctx)
	if err != nil {
		return fmt.Errorf("rpcscan: read last_scanned_block: %w", err)
	}

	var cur uint64
	switch {
	case found:
		cur = last + 1
	case fromBlock != nil:
		cur = *fromBlock
	default:
		return ErrNoStartBlock
	}

	if cur > safeHead {
		log.Debug().Uint64("cur", cur).Uint64("safe_head", safeHead).Msg("rpcscan: already up to date")
		return nil
	}

	log.Info().Uint64("from", cur).Uint64("to", safeHead).Uint64("batch", batch).Msg("rpcscan: starting scan")

	// providerSpan carries a bisected window size forward across windows:
	// once a provider has told us its real limit, there is no point
	// probing the full configured batch again on the next window. It is
	// only ever tightened by an actual bisection, never by a window
	// merely being clamped to the remaining tail.
	providerSpan := batch

	for cur <= safeHead {
		span := providerSpan
		if remaining := safeHead - cur + 1; span > remaining {
			span = remaining
		}
		requested := span

		logs, toBlock, usedSpan, err := s.fetchWithBisection(ctx, cur, span)
		if err != nil {
			return err
		}
		if usedSpan < requested {
			providerSpan = usedSpan
		}

		transfers := make([]transfer.Transfer, 0, len(logs))
		for _, lg := range logs {
			t, err := s.decode(ctx, lg)
			if err != nil {
				return fmt.Errorf("rpcscan: decode log %s:%d: %w", lg.TxHash.Hex(), lg.Index, err)
			}
			transfers = append(transfers, t)
		}

		if err := s.ledger.ApplyBatchAndAdvance(ctx, transfers, toBlock); err != nil {
			return fmt.Errorf("rpcscan: apply batch [%d..%d]: %w", cur, toBlock, err)
		}

		log.Info().Uint64("from", cur).Uint64("to", toBlock).Int("transfers", len(transfers)).Msg("rpcscan: batch committed")
		cur = toBlock + 1
	}

	return nil
}

// fetchWithBisection requests logs for [from, from+span-1], halving span
// on retryable provider errors until it either succeeds or span reaches 1
// and still fails.
func (s *Scanner) fetchWithBisection(ctx context.Context, from, span uint64) (logs []types.Log, to uint64, usedSpan uint64, err error) {
	for {
		to = from + span - 1
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{s.token},
			Topics:    [][]common.Hash{{transferSigHash}},
		}

		logs, err = s.client.FilterLogs(ctx, q)
		if err == nil {
			return logs, to, span, nil
		}

		if errclass.Classify(err) != errclass.Transient {
			return nil, 0, 0, fmt.Errorf("rpcscan: filter logs [%d..%d]: %w", from, to, err)
		}
		if span == 1 {
			return nil, 0, 0, fmt.Errorf("rpcscan: filter logs [%d..%d] still failing at span=1: %w", from, to, err)
		}

		newSpan := span / 2
		if newSpan < 1 {
			newSpan = 1
		}
		log.Warn().Uint64("from", from).Uint64("old_span", span).Uint64("new_span", newSpan).Err(err).Msg("rpcscan: bisecting window")
		span = newSpan

		select {
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// decode turns a raw log into a normalized Transfer, resolving its block
// timestamp via the scan-scoped memo cache.
func (s *Scanner) decode(ctx context.Context, lg types.Log) (transfer.Transfer, error) {
	if len(lg.Topics) < 3 {
		return transfer.Transfer{}, fmt.Errorf("log missing topics")
	}
	if lg.Topics[0] != transferSigHash {
		return transfer.Transfer{}, fmt.Errorf("unexpected topic %s", lg.Topics[0].Hex())
	}
	if len(lg.Data) < 32 {
		return transfer.Transfer{}, fmt.Errorf("log data too short")
	}

	from := common.BytesToAddress(lg.Topics[1].Bytes())
	to := common.BytesToAddress(lg.Topics[2].Bytes())
	value := new(uint256.Int).SetBytes(lg.Data[len(lg.Data)-32:])

	ts, err := s.blockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		return transfer.Transfer{}, err
	}

	return transfer.Transfer{
		From:     from,
		To:       to,
		Value:    value,
		Block:    lg.BlockNumber,
		Ts:       ts,
		TxHash:   lg.TxHash,
		LogIndex: uint32(lg.Index),
	}, nil
}

// blockTimestamp resolves a block's timestamp, memoized for the lifetime
// of one Scan call so repeated logs in the same block cost one header
// fetch.
func (s *Scanner) blockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	if ts, ok := s.blockTS[block]; ok {
		return ts, nil
	}
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, fmt.Errorf("rpcscan: header for block %d: %w", block, err)
	}
	s.blockTS[block] = header.Time
	return header.Time, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

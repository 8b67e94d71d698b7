// Package explorerscan is the Explorer Scanner (EXP): an alternative
// Transfer source that paginates a block-explorer-style REST API (an
// Etherscan/Polygonscan "tokentx" action) instead of talking to an RPC
// node directly. It is slower per-call than eth_getLogs and needs only the
// chain head from a node (see HeadSource), not its log queries, which makes
// it useful for a first bulk bootstrap of a large block range.
package explorerscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/transfer"
	"github.com/example/erc20-holder-indexer/internal/xferval"
)

// maxPagesPerWindow caps page*offset at 10000, the common explorer-API
// result-window ceiling; beyond it the window must shift forward instead
// of paging deeper.
const maxPagesPerWindow = 5

// ErrOffsetOutOfRange reports an offset outside the explorer API's
// allowed page-size range.
var ErrOffsetOutOfRange = errors.New("explorerscan: offset must be between 1 and 2000")

// HeadSource reports the current chain head, so the explorer scanner can
// compute the same confirmations-adjusted safe head the RPC scanner uses.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// LastScanned is the narrow read surface the scanner needs from the
// event store to resume a previous run.
type LastScanned interface {
	LastScannedBlock(ctx context.Context) (block uint64, found bool, err error)
}

// Scanner pulls Transfer rows from a tokentx-style explorer API and
// applies them through the ledger, just like the RPC scanner.
type Scanner struct {
	httpClient *http.Client
	baseURL    string
	chainID    int
	apiKey     string
	token      common.Address
	ledger     *ledger.Ledger
	headSource HeadSource
}

// New builds an explorer Scanner. baseURL is the explorer's API root
// (e.g. "https://api.etherscan.io/v2/api"); chainID selects the network
// via the API's chainid parameter.
func New(httpClient *http.Client, baseURL string, chainID int, apiKey string, token common.Address, ldg *ledger.Ledger, head HeadSource) *Scanner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scanner{
		httpClient: httpClient,
		baseURL:    baseURL,
		chainID:    chainID,
		apiKey:     apiKey,
		token:      token,
		ledger:     ldg,
		headSource: head,
	}
}

// tokentxResponse is the explorer API's envelope. result can be a bare
// array of rows or (on some explorer clones) an object wrapping the rows
// under "transactions"/"events"/"records" — tokentxRows below tolerates
// both shapes.
type tokentxResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokentxRow map[string]any

func tokentxRows(raw json.RawMessage) []tokentxRow {
	var rows []tokentxRow
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows
	}

	var wrapped struct {
		Transactions []tokentxRow `json:"transactions"`
		Events       []tokentxRow `json:"events"`
		Records      []tokentxRow `json:"records"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil
	}
	switch {
	case len(wrapped.Transactions) > 0:
		return wrapped.Transactions
	case len(wrapped.Events) > 0:
		return wrapped.Events
	default:
		return wrapped.Records
	}
}

// pick returns the first present, non-empty value among keys.
func pick(row tokentxRow, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if s == "" || s == "null" {
			continue
		}
		return s, true
	}
	return "", false
}

// Scan pages the explorer API forward from where st last left off (or
// fromBlock on an empty store) through the confirmations-adjusted chain
// head, applying every Transfer row it can parse and recording the new
// high-water mark when done.
func (s *Scanner) Scan(ctx context.Context, st LastScanned, fromBlock *uint64, offset int, confirmations uint64, sleep time.Duration) error {
	if offset < 1 || offset > 2000 {
		return ErrOffsetOutOfRange
	}

	head, err := s.headSource.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("explorerscan: read chain head: %w", err)
	}
	safeHead := saturatingSub(head, confirmations)

	last, found, err := st.LastScannedBlock(ctx)
	if err != nil {
		return fmt.Errorf("explorerscan: read last scanned block: %w", err)
	}
	var curStart uint64
	switch {
	case found:
		curStart = last + 1
	case fromBlock != nil:
		curStart = *fromBlock
	default:
		return errors.New("explorerscan: no starting block: store is empty and no fromBlock given")
	}

	log.Info().Uint64("from", curStart).Uint64("safe_head", safeHead).Msg("explorerscan: starting scan")

	for curStart <= safeHead {
		lastBlockInWindow, err := s.scanWindow(ctx, curStart, safeHead, offset, sleep)
		if err != nil {
			return err
		}
		if lastBlockInWindow >= curStart {
			curStart = lastBlockInWindow + 1
		} else {
			curStart++
		}
	}

	return s.ledger.ApplyBatchAndAdvance(ctx, nil, safeHead)
}

// ScanWithAPIKey is Scan using apiKey for this call only, overriding
// whatever key the Scanner was constructed with. Safe to call
// concurrently with itself only through a caller-provided serialization
// point (the indexer facade's singleflight group), since the override is
// not itself synchronized.
func (s *Scanner) ScanWithAPIKey(ctx context.Context, st LastScanned, fromBlock *uint64, apiKey string, offset int, confirmations uint64, sleep time.Duration) error {
	prev := s.apiKey
	s.apiKey = apiKey
	defer func() { s.apiKey = prev }()
	return s.Scan(ctx, st, fromBlock, offset, confirmations, sleep)
}

// scanWindow pages through one [windowStart, safeHead] window until the
// API signals the window is exhausted (explicit "no transactions" /
// window-limit message, empty rows, or a short page), returning the
// highest block number among the rows it accepted, or windowStart if it
// accepted none.
func (s *Scanner) scanWindow(ctx context.Context, windowStart, safeHead uint64, offset int, sleep time.Duration) (uint64, error) {
	lastBlockInWindow := windowStart

	for page := 1; page <= maxPagesPerWindow; page++ {
		rows, status, message, err := s.fetchPage(ctx, windowStart, safeHead, page, offset)
		if err != nil {
			return 0, err
		}

		if status == "0" && strings.HasPrefix(strings.ToLower(message), "no") {
			log.Debug().Int("page", page).Msg("explorerscan: window empty, stop window")
			break
		}
		if status == "0" && strings.Contains(strings.ToLower(message), "window") {
			log.Debug().Int("page", page).Msg("explorerscan: window limit hit, shift window")
			break
		}
		if len(rows) == 0 {
			break
		}

		var transfers []transfer.Transfer
		for _, row := range rows {
			t, blk, ok := decodeRow(row, safeHead)
			if !ok {
				continue
			}
			if blk > lastBlockInWindow {
				lastBlockInWindow = blk
			}
			transfers = append(transfers, t)
		}

		if err := s.ledger.ApplyBatch(ctx, transfers); err != nil {
			return 0, fmt.Errorf("explorerscan: apply page %d: %w", page, err)
		}
		log.Info().Int("page", page).Int("rows", len(rows)).Int("applied", len(transfers)).Msg("explorerscan: page applied")

		if len(rows) < offset {
			break
		}
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}

	return lastBlockInWindow, nil
}

func (s *Scanner) fetchPage(ctx context.Context, startBlock, endBlock uint64, page, offset int) (rows []tokentxRow, status, message string, err error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", s.token.Hex())
	q.Set("startblock", strconv.FormatUint(startBlock, 10))
	q.Set("endblock", strconv.FormatUint(endBlock, 10))
	q.Set("sort", "asc")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("apikey", s.apiKey)
	q.Set("chainid", strconv.Itoa(s.chainID))

	reqURL := s.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("explorerscan: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("explorerscan: request page %d: %w", page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("explorerscan: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("explorerscan: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload tokentxResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", "", fmt.Errorf("explorerscan: decode response: %w", err)
	}
	return tokentxRows(payload.Result), payload.Status, payload.Message, nil
}

// decodeRow normalizes one explorer row into a Transfer, tolerating the
// several field-name variants explorer clones use. Rows beyond safeHead
// or missing a required field are skipped rather than failing the whole
// page.
func decodeRow(row tokentxRow, safeHead uint64) (transfer.Transfer, uint64, bool) {
	blkStr, ok := pick(row, "blockNumber", "block_number", "block_num")
	if !ok {
		return transfer.Transfer{}, 0, false
	}
	blk, err := strconv.ParseUint(blkStr, 10, 64)
	if err != nil || blk > safeHead {
		return transfer.Transfer{}, 0, false
	}

	txh, ok := pick(row, "hash", "tx_hash", "transactionHash")
	if !ok {
		return transfer.Transfer{}, 0, false
	}
	if !strings.HasPrefix(txh, "0x") {
		txh = "0x" + strings.ToLower(txh)
	}

	fromStr, ok := pick(row, "from", "from_address")
	if !ok {
		return transfer.Transfer{}, 0, false
	}
	toStr, ok := pick(row, "to", "to_address")
	if !ok {
		return transfer.Transfer{}, 0, false
	}
	if !common.IsHexAddress(fromStr) || !common.IsHexAddress(toStr) {
		return transfer.Transfer{}, 0, false
	}

	valStr, _ := pick(row, "value", "token_value", "amount", "raw_amount")
	if valStr == "" {
		valStr = "0"
	}
	value, err := xferval.ParseDecimal(valStr)
	if err != nil {
		return transfer.Transfer{}, 0, false
	}

	tsStr, _ := pick(row, "timeStamp", "timestamp", "block_timestamp")
	ts, _ := strconv.ParseUint(tsStr, 10, 64)

	logIndex, synthetic := uint32(0), false
	if liStr, ok := pick(row, "logIndex", "log_index", "logindex"); ok {
		if v, err := strconv.ParseUint(liStr, 10, 32); err == nil {
			logIndex = uint32(v)
		}
	} else if tiStr, ok := pick(row, "transactionIndex", "transaction_index"); ok {
		if v, err := strconv.ParseUint(tiStr, 10, 32); err == nil {
			logIndex = uint32(v)
		}
		synthetic = true
	}

	t := transfer.Transfer{
		From:              common.HexToAddress(fromStr),
		To:                common.HexToAddress(toStr),
		Value:             value,
		Block:             blk,
		Ts:                ts,
		TxHash:            common.HexToHash(txh),
		LogIndex:          logIndex,
		SyntheticLogIndex: synthetic,
	}
	return t, blk, true
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Package httpapi exposes the indexer facade and token client over plain
// net/http and http.ServeMux, with no third-party web framework.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/example/erc20-holder-indexer/internal/indexer"
	"github.com/example/erc20-holder-indexer/internal/tokenclient"
)

// Server wires indexer.Facade and tokenclient.Client to HTTP routes.
type Server struct {
	idx           *indexer.Facade
	token         *tokenclient.Client
	defaultAPIKey string
}

// New builds a Server. defaultAPIKey is used by /bootstrap and
// /get_top(_with_transactions) when the caller does not supply api_key.
func New(idx *indexer.Facade, token *tokenclient.Client, defaultAPIKey string) *Server {
	return &Server{idx: idx, token: token, defaultAPIKey: defaultAPIKey}
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", logged(s.handleHealth))
	mux.HandleFunc("/get_balance", logged(s.handleGetBalance))
	mux.HandleFunc("/get_balance_batch", logged(s.handleGetBalanceBatch))
	mux.HandleFunc("/get_token_info", logged(s.handleGetTokenInfo))
	mux.HandleFunc("/bootstrap", logged(s.handleBootstrap))
	mux.HandleFunc("/index", logged(s.handleIndex))
	mux.HandleFunc("/get_top", logged(s.handleGetTop))
	mux.HandleFunc("/get_top_with_transactions", logged(s.handleGetTopWithTransactions))
}

func logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		log.Debug().Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("httpapi: request handled")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func boolArg(v string, def bool) bool {
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.token.GetTokenInfo(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addrStr := r.URL.Query().Get("address")
	if !common.IsHexAddress(addrStr) {
		writeError(w, http.StatusBadRequest, errors.New("address is required and must be a valid 0x address"))
		return
	}
	human := boolArg(r.URL.Query().Get("human"), true)

	bal, err := s.token.GetBalance(r.Context(), common.HexToAddress(addrStr), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !human {
		writeJSON(w, http.StatusOK, map[string]string{"balance": bal.Dec()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": indexer.ToHuman(bal, s.token.Decimals()) + " " + s.token.Symbol(),
	})
}

type balanceBatchRequest struct {
	Addresses []string `json:"addresses"`
	Human     bool     `json:"human"`
}

func (s *Server) handleGetBalanceBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	var req balanceBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("addresses must be non-empty"))
		return
	}

	out := make([]string, 0, len(req.Addresses))
	for _, a := range req.Addresses {
		if !common.IsHexAddress(a) {
			writeError(w, http.StatusBadRequest, errors.New("invalid address: "+a))
			return
		}
		bal, err := s.token.GetBalance(r.Context(), common.HexToAddress(a), nil)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Human {
			out = append(out, indexer.ToHuman(bal, s.token.Decimals())+" "+s.token.Symbol())
		} else {
			out = append(out, bal.Dec())
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"balances": out})
}

func (s *Server) handleGetTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.token.GetTokenInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":           info.Address.Hex(),
		"symbol":            info.Symbol,
		"decimals":          info.Decimals,
		"name":              info.Name,
		"totalSupply_raw":   info.TotalSupply.Dec(),
		"totalSupply_human": indexer.ToHuman(info.TotalSupply, info.Decimals),
	})
}

type bootstrapRequest struct {
	APIKey string  `json:"api_key"`
	Start  *uint64 `json:"start"`
	Offset int     `json:"offset"`
	Sleep  float64 `json:"sleep"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	var req bootstrapRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.defaultAPIKey
	}
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("api_key is required"))
		return
	}
	offset := req.Offset
	if offset == 0 {
		offset = 2000
	}
	sleep := req.Sleep
	if sleep == 0 {
		sleep = 0.25
	}

	if err := s.idx.Bootstrap(r.Context(), apiKey, req.Start, offset, time.Duration(sleep*float64(time.Second))); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondLastScanned(w, r)
}

type indexRequest struct {
	Start *uint64 `json:"start"`
	Batch uint64  `json:"batch"`
	Conf  uint64  `json:"conf"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	var req indexRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.idx.Scan(r.Context(), req.Start); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondLastScanned(w, r)
}

func (s *Server) respondLastScanned(w http.ResponseWriter, r *http.Request) {
	last, found, err := s.idx.LastScannedBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := map[string]any{"ok": true}
	if found {
		resp["last_scanned_block"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseRefreshKind(v string) (indexer.RefreshKind, error) {
	switch v {
	case "", "rpc":
		return indexer.RefreshRPC, nil
	case "scan":
		return indexer.RefreshExplorer, nil
	default:
		return 0, errors.New("update must be 'rpc' or 'scan'")
	}
}

func (s *Server) handleGetTop(w http.ResponseWriter, r *http.Request) {
	n, err := parseN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := parseRefreshKind(r.URL.Query().Get("update"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	apiKey := s.resolveAPIKey(r, kind)
	if kind == indexer.RefreshExplorer && apiKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("api_key required for update=scan"))
		return
	}

	top, err := s.idx.TopN(r.Context(), n, kind, apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]string, 0, len(top))
	for _, h := range top {
		out = append(out, map[string]string{"address": h.Address, "balance": h.Balance})
	}
	writeJSON(w, http.StatusOK, map[string]any{"top": out})
}

func (s *Server) handleGetTopWithTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := parseN(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := parseRefreshKind(r.URL.Query().Get("update"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	apiKey := s.resolveAPIKey(r, kind)
	if kind == indexer.RefreshExplorer && apiKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("api_key required for update=scan"))
		return
	}

	top, err := s.idx.TopNWithLastTx(r.Context(), n, kind, apiKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]string, 0, len(top))
	for _, h := range top {
		out = append(out, map[string]string{
			"address": h.Address, "balance": h.Balance, "symbol": h.Symbol, "last_tx": h.LastTx,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"top": out})
}

func (s *Server) resolveAPIKey(r *http.Request, kind indexer.RefreshKind) string {
	if kind != indexer.RefreshExplorer {
		return ""
	}
	if k := r.URL.Query().Get("api_key"); k != "" {
		return k
	}
	return s.defaultAPIKey
}

func parseN(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return 10, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("n must be a positive integer")
	}
	return n, nil
}

// NewServer builds an HTTP server bound to addr, ready for ListenAndServe
// in a goroutine.
func NewServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{Addr: addr, Handler: mux}
}

// GracefulShutdown drains in-flight requests and closes srv, bounded by
// ctx's deadline.
func GracefulShutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

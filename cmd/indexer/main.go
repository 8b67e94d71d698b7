// Command indexer runs the ERC-20 holder indexer: it scans Transfer
// events for one token contract, maintains a running balance ledger, and
// serves holder queries over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/erc20-holder-indexer/internal/config"
	"github.com/example/erc20-holder-indexer/internal/explorerscan"
	"github.com/example/erc20-holder-indexer/internal/httpapi"
	"github.com/example/erc20-holder-indexer/internal/indexer"
	"github.com/example/erc20-holder-indexer/internal/ledger"
	"github.com/example/erc20-holder-indexer/internal/rpcscan"
	"github.com/example/erc20-holder-indexer/internal/store"
	"github.com/example/erc20-holder-indexer/internal/tokenclient"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("indexer: load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		log.Fatal().Err(err).Str("rpc_url", cfg.RPCURL).Msg("indexer: dial RPC")
	}
	defer rpcClient.Close()

	token := common.HexToAddress(cfg.TokenAddress)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("indexer: open store")
	}
	defer st.Close()

	ldg := ledger.New(st, nil)
	rpc := rpcscan.New(rpcClient, ldg, token)

	explorer := explorerscan.New(nil, cfg.ExplorerURL, cfg.ChainID, cfg.ExplorerAPIKey, token, ldg, rpcClient)
	if cfg.ExplorerAPIKey == "" {
		log.Warn().Msg("indexer: no explorer API key configured, /bootstrap will be unavailable by default")
	}

	tc, err := tokenclient.New(ctx, rpcClient, token)
	if err != nil {
		log.Fatal().Err(err).Str("token", cfg.TokenAddress).Msg("indexer: resolve token metadata")
	}
	log.Info().Str("symbol", tc.Symbol()).Uint8("decimals", tc.Decimals()).Msg("indexer: token resolved")

	idx := indexer.New(st, ldg, rpc, explorer, tc, cfg.BatchSize, cfg.Confirmations)

	srv := httpapi.New(idx, tc, cfg.ExplorerAPIKey)
	mux := http.NewServeMux()
	srv.Routes(mux)
	httpServer := httpapi.NewServer(cfg.ListenAddr, mux)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("indexer: HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("indexer: HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("indexer: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpapi.GracefulShutdown(shutdownCtx, httpServer); err != nil {
		log.Error().Err(err).Msg("indexer: HTTP server shutdown error")
	}
	log.Info().Msg("indexer: stopped")
}

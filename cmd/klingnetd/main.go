// Klingnet node daemon.
//
// Usage:
//
//	klingnetd [--mine --mining-address=...] Run node
//	klingnetd --help                        Show help
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/node"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
)

func main() {
	// ── 1. Load config from flags ────────────────────────────────────
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ────────────────────────────────────────────────
	klog.Init(cfg.LogLevel, cfg.LogJSON)
	logger := klog.WithComponent("node")

	// ── 3. Create node (genesis is hardcoded, identical on every node) ──
	n := node.New(node.Config{
		Difficulty:     cfg.Difficulty,
		SelfURL:        cfg.SelfURL,
		Seeds:          cfg.Seeds,
		MiningEnabled:  cfg.MiningEnabled,
		MiningAddress:  cfg.MiningAddress,
		MinerTag:       cfg.MinerTag,
		MaxTxsPerBlock: cfg.MaxTxsPerBlock,
	})

	logger.Info().
		Str("self_url", cfg.SelfURL).
		Int("difficulty", cfg.Difficulty).
		Int("seeds", len(cfg.Seeds)).
		Msg("Starting Klingnet node")

	// ── 4. Join the network ─────────────────────────────────────────────
	// Node.RegisterPeers itself fetches and adopts each seed's chain if it
	// is ahead, so joining is a single call here.
	if len(cfg.Seeds) > 0 {
		peers := n.RegisterPeers(cfg.Seeds...)
		logger.Info().Strs("peers", peers).Msg("Registered with seed peers")
	}

	// ── 5. Start HTTP server ─────────────────────────────────────────────
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rpc.New(n),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server started")

	if cfg.MiningEnabled {
		logger.Info().Str("address", cfg.MiningAddress).Msg("Mining enabled")
	}

	// ── 6. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	n.StopMining()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	logger.Info().Msg("Goodbye!")
}

// Command dashboard is a read-only terminal viewer: it opens the same State
// Store the engine writes to and polls it on a ticker, rendering recent swap
// records and (when a wallet is configured) the live balance. Grounded on
// the teacher's cmd/bot/main.go runWithTUI entry point, shrunk to the single
// view internal/dashboard renders.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/blockchain"
	"copytrade-engine/internal/config"
	"copytrade-engine/internal/dashboard"
	"copytrade-engine/internal/store"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	configPath := "config/config.yaml"
	if v := os.Getenv("ENGINE_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := store.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer db.Close()

	var balance dashboard.BalanceSource
	if key := cfg.GetPrivateKey(); key != "" {
		if wallet, err := blockchain.NewWallet(key); err == nil {
			rpc := blockchain.NewRPCClient(cfg.GetShyftRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetShyftAPIKey())
			tracker := blockchain.NewBalanceTracker(wallet, rpc)
			if err := tracker.Refresh(context.Background()); err != nil {
				log.Warn().Err(err).Msg("initial balance refresh failed")
			}
			balance = tracker
		} else {
			log.Warn().Err(err).Msg("no wallet configured, balance panel disabled")
		}
	}

	dashCfg := cfg.Get().Dashboard
	refreshInterval := time.Duration(dashCfg.RefreshRateMs) * time.Millisecond
	model := dashboard.New(db, balance, refreshInterval, dashCfg.LogLines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := dashboard.Run(ctx, model); err != nil {
		log.Fatal().Err(err).Msg("dashboard exited with error")
	}
}

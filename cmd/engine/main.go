// Command engine wires the Leader Event Ingress, Admission Filter, Order
// Shaper, Route Registry, Executor, Settlement Processor, Position Ledger,
// and Notifier Dispatch into one running process. Grounded on the teacher's
// cmd/bot/main.go initComponents/runHeadless shape: load config, build the
// blockchain/jupiter collaborators, build the pipeline stages in dependency
// order, start the background loops, and block on an OS signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"copytrade-engine/internal/admission"
	"copytrade-engine/internal/blockchain"
	"copytrade-engine/internal/bus"
	"copytrade-engine/internal/config"
	"copytrade-engine/internal/engine"
	"copytrade-engine/internal/executor"
	"copytrade-engine/internal/httpapi"
	"copytrade-engine/internal/ingress"
	"copytrade-engine/internal/jupiter"
	"copytrade-engine/internal/ledger"
	"copytrade-engine/internal/lock"
	"copytrade-engine/internal/notifier"
	"copytrade-engine/internal/route"
	"copytrade-engine/internal/settlement"
	"copytrade-engine/internal/shaper"
	"copytrade-engine/internal/store"
	"copytrade-engine/internal/token"
)

func main() {
	setupLogger()
	log.Info().Msg("copytrade engine starting")

	configPath := "config/config.yaml"
	if v := os.Getenv("ENGINE_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	wallet, err := blockchain.NewWallet(cfg.GetPrivateKey())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load wallet")
	}

	rpc := blockchain.NewRPCClient(cfg.GetShyftRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetShyftAPIKey())

	blockhashCache := blockchain.NewBlockhashCache(rpc, cfg.GetBlockhashRefresh(), time.Duration(cfg.Get().Blockchain.BlockhashTTLSeconds)*time.Second)
	if err := blockhashCache.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start blockhash cache")
	}
	defer blockhashCache.Stop()

	priorityFeeLamports := uint64(cfg.Get().Fees.StaticPriorityFeeSol * 1e9)
	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, priorityFeeLamports)

	balanceTracker := blockchain.NewBalanceTracker(wallet, rpc)
	if err := balanceTracker.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	}
	printWalletBanner(wallet.Address(), balanceTracker.BalanceSOL())

	db, err := store.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer db.Close()

	eventBus := bus.New(db, cfg.Get().Bus.ChannelBufferSize)

	metadataClient := blockchain.NewMetadataClient(cfg.Get().Metadata.BaseURL, cfg.GetMetadataAPIKey(), time.Duration(cfg.Get().Metadata.TimeoutSeconds)*time.Second)
	tokenCache := token.NewCache(time.Duration(cfg.Get().Storage.TokenCacheTTLHr)*time.Hour, metadataClient, db)

	aggCfg := cfg.Get().Aggregator
	jupiterClient := jupiter.NewClientWithKeys(aggCfg.QuoteAPIURL, aggCfg.SlippageBps, time.Duration(aggCfg.TimeoutSeconds)*time.Second, aggCfg.APIKeys)
	routeAdapter := jupiter.NewRouteAdapter(jupiterClient)

	bcSource, err := blockchain.NewBondingCurveSource(rpc)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build bonding curve source")
	}
	cpSource := blockchain.NewConstantProductSource(rpc, db)

	routeCfg := cfg.Get().Route
	bcBuilder := route.NewBondingCurveBuilder(bcSource, blockhashCache, blockchain.PumpFunProgramID)
	cpBuilder := route.NewConstantProductBuilder(cpSource, blockhashCache, routeCfg.ConstantProductProgram)
	aggBuilder := route.NewAggregatorBuilder(routeAdapter, txBuilder)
	registry := route.NewRegistry(routeCfg.MaxBuildRetries, blockchain.PumpFunProgramID, routeCfg.ConstantProductProgram, bcBuilder, cpBuilder, aggBuilder)

	locks := lock.NewKeyedMutex()

	admissionFilter := admission.New(db, locks, func() int64 { return time.Now().Unix() })

	slippage := &slippageCombinator{cfg: cfg, adapter: routeAdapter}
	shaperStage := shaper.New(slippage)

	executorStage := executor.New(registry, wallet, rpc, routeCfg.MaxBuildRetries, true)

	settlementCfg := cfg.Get().Settlement
	txAnalyzer := settlement.NewTxAnalyzer(rpc)
	settlementStage := settlement.New(rpc, txAnalyzer, db, settlementCfg.MaxAttempts, settlementCfg.MaxWaitSeconds, settlementCfg.PollIntervalMs)

	ledgerStage := ledger.New(db, locks)

	notifierStage := notifier.New(eventBus).WithSymbolResolver(tokenCache)

	eng := engine.New(admissionFilter, shaperStage, executorStage, settlementStage, ledgerStage, notifierStage, db)

	ing := ingress.New(eventBus, db, cfg, db)

	webhookServer := httpapi.New(cfg.Get().Ingress.ListenHost, cfg.Get().Ingress.ListenPort, eventBus)
	wsCfg := cfg.Get().WebSocket
	wsFeed := ingress.NewWSFeed(eventBus, cfg.GetShyftWSURL(), wsCfg.ReconnectDelayMs, wsCfg.PingIntervalMs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := eng.Run(ctx, ing); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("ingress run loop exited")
		}
	}()

	go func() {
		if err := webhookServer.Start(); err != nil {
			log.Error().Err(err).Msg("webhook server exited")
		}
	}()

	go func() {
		if err := wsFeed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("websocket leader feed exited")
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.GetBalanceRefresh())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := balanceTracker.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("balance refresh failed")
				}
			}
		}
	}()

	log.Info().
		Str("wallet", wallet.Address()).
		Str("listen", fmt.Sprintf("%s:%d", cfg.Get().Ingress.ListenHost, cfg.Get().Ingress.ListenPort)).
		Msg("copytrade engine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("webhook server shutdown error")
	}
	eng.Wait()
	log.Info().Msg("shutdown complete")
}

// slippageCombinator glues shaper.SlippageSource's two halves to their
// respective collaborators: the sandwich-slippage side is a plain config
// read (the State Store carries no per-follower override of it), and the
// auto-slippage side delegates to the aggregator adapter's live quote.
type slippageCombinator struct {
	cfg     *config.Manager
	adapter *jupiter.RouteAdapter
}

func (s *slippageCombinator) SandwichSlippageBps(_ context.Context, _ string) (int, error) {
	return s.cfg.Get().Fees.SandwichSlippageBps, nil
}

func (s *slippageCombinator) AutoSlippageBps(ctx context.Context, inputMint, outputMint string, amount uint64) (int, error) {
	return s.adapter.AutoSlippageBps(ctx, inputMint, outputMint, amount)
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// printWalletBanner is the teacher's empty-wallet ANSI warning box, adapted
// to fatih/color instead of raw escape codes so the message degrades
// gracefully on a terminal without color support.
func printWalletBanner(address string, balanceSOL float64) {
	if balanceSOL > 0 {
		color.New(color.FgGreen).Printf("wallet %s funded with %.4f SOL\n", address, balanceSOL)
		return
	}
	warn := color.New(color.FgRed, color.Bold)
	warn.Println("================================================================")
	warn.Println(" WALLET HAS 0 SOL")
	warn.Printf(" address: %s\n", address)
	warn.Println(" send SOL to this address before the engine will submit trades")
	warn.Println("================================================================")
}

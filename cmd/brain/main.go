package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-brain/internal/blockchain"
	"solana-brain/internal/brain"
	"solana-brain/internal/commands"
	"solana-brain/internal/config"
	"solana-brain/internal/executor"
	"solana-brain/internal/httpserver"
	"solana-brain/internal/jupiter"
	"solana-brain/internal/market"
	"solana-brain/internal/metrics"
	"solana-brain/internal/store"
	"solana-brain/internal/websocket"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to brain config file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	wallet, err := blockchain.NewWallet(cfg.GetPrivateKey())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load wallet")
	}
	log.Info().Str("address", wallet.Address()).Msg("wallet loaded")

	var rpcConfigs []blockchain.EndpointConfig
	for _, ep := range cfg.RPCEndpoints() {
		rpcConfigs = append(rpcConfigs, blockchain.EndpointConfig{
			Name:     ep.Name,
			URL:      ep.URL,
			APIKey:   config.ResolveRPCAPIKey(ep),
			Priority: ep.Priority,
		})
	}
	rpcManager := blockchain.NewManager(rpcConfigs, cfg.GetHealthInterval())
	rpcManager.Start()
	defer rpcManager.Stop()

	blockhashSource := &blockchain.ManagerBlockhashSource{Manager: rpcManager}
	blockhashCache := blockchain.NewBlockhashCache(blockhashSource, cfg.GetBlockhashRefresh(), cfg.GetBlockhashTTL())
	if err := blockhashCache.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed initial blockhash fetch")
	}
	defer blockhashCache.Stop()

	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, cfg.Get().Executor.PriorityFeeLamports)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	balanceTracker := blockchain.NewBalanceTracker(wallet, rpcManager)
	if err := balanceTracker.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	}
	if balanceTracker.BalanceLamports() == 0 {
		log.Warn().Str("address", wallet.Address()).Msg("wallet balance is zero, trades will fail until it is funded")
	}

	st, err := store.New(cfg.Get().Store.SQLitePath, cfg.Get().Store.TablePrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open position store")
	}
	defer st.Close()

	commandBus := store.NewCommandBus(cfg.Get().Store.RedisAddr, cfg.Get().Store.RedisDB)
	defer commandBus.Close()
	if err := commandBus.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to reach redis command bus")
	}

	jupiterClient := jupiter.NewClient(cfg.Get().Jupiter.QuoteAPIURL, cfg.Get().Jupiter.SlippageBps, time.Duration(cfg.Get().Jupiter.TimeoutSeconds)*time.Second)
	if cfg.Get().Brain.DryRun {
		log.Warn().Msg("dry run enabled, swap quotes will be simulated rather than executed")
		jupiterClient.SetSimulation(true, 1.0)
	}

	wsClient := websocket.NewClient(cfg.GetShyftWSURL(), time.Duration(cfg.Get().WebSocket.ReconnectDelayMs)*time.Millisecond, time.Duration(cfg.Get().WebSocket.PingIntervalMs)*time.Millisecond)
	if err := wsClient.Connect(); err != nil {
		log.Error().Err(err).Msg("failed to connect price feed websocket, market data will fall back to Jupiter quotes")
	}
	priceFeed := websocket.NewPriceFeed(wsClient, wallet.Address())

	walletMonitor := websocket.NewWalletMonitor(wsClient, wallet.Address())
	walletMonitor.OnBalanceUpdate(func(update websocket.BalanceUpdate) {
		balanceTracker.SetBalance(update.Lamports)
	})
	if err := walletMonitor.StartWalletSubscription(); err != nil {
		log.Warn().Err(err).Msg("failed to subscribe to wallet balance updates, falling back to polled refresh only")
	}
	defer walletMonitor.Stop()

	balanceRefresh := time.NewTicker(cfg.GetBalanceRefresh())
	go func() {
		defer balanceRefresh.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-balanceRefresh.C:
				if err := balanceTracker.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("balance refresh failed")
				}
			}
		}
	}()

	maxDataAge := time.Duration(cfg.Get().Risk.MaxDataAgeSeconds) * time.Second
	marketProvider := market.NewProvider(jupiterClient, priceFeed, rpcManager, cfg.Get().Wallet.BaseMint, maxDataAge)

	commandsCfg := cfg.Get().Commands
	listener := commands.NewListener(commandBus, commandsCfg.AdvisorChannel, commandsCfg.GuardianChannel, time.Duration(commandsCfg.DedupWindowSeconds)*time.Second)

	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("command listener stopped unexpectedly")
		}
	}()

	blockEngineClient := executor.NewBlockEngineClient(cfg.Get().RPC.BlockEngineURL, cfg.GetBlockEngineAPIKey())
	exec := executor.NewExecutor(jupiterClient, wallet, txBuilder, rpcManager, blockEngineClient, tipAccount(), cfg.Get().Executor)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	httpSrv := httpserver.New(cfg.Get().HTTP.ListenAddr, reg)
	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	orchestrator := brain.New(st, marketProvider, listener, exec, cfg, m, cfg.Get().Wallet.BaseMint)

	runDone := make(chan error, 1)
	go func() {
		runDone <- orchestrator.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received, draining")
	case err := <-runDone:
		log.Error().Err(err).Msg("orchestrator exited unexpectedly")
	}

	cancel()

	drain := time.Duration(cfg.Get().Brain.DrainTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drain)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}

	select {
	case <-runDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("drain timeout exceeded, forcing exit")
	}

	log.Info().Msg("brain stopped")
}

// tipAccount is the block engine's designated tip-receiving account. Unlike
// the RPC endpoints and wallet key, it isn't a secret and the corpus has no
// config field reserved for it yet, so it's pinned here rather than adding a
// config knob for a single constant.
func tipAccount() string {
	return "96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZLj"
}

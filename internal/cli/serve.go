package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/api"
	"hammer-trader/internal/balance"
	"hammer-trader/internal/decision"
	"hammer-trader/internal/engine"
	"hammer-trader/internal/events"
	"hammer-trader/internal/gateway"
	"hammer-trader/internal/lock"
	"hammer-trader/internal/market"
	"hammer-trader/internal/monitor"
	"hammer-trader/internal/order"
	"hammer-trader/internal/persistence"
	"hammer-trader/internal/reconciliation"
	"hammer-trader/internal/state"
	"hammer-trader/internal/strategy"
	"hammer-trader/pkg/config"
	"hammer-trader/pkg/db"
	exfutusdt "hammer-trader/pkg/exchanges/binance/futures_usdt"
	exchange "hammer-trader/pkg/exchanges/common"
	stream "hammer-trader/pkg/market/binance"
)

// runServe runs the engine and the control API until ctx is done.
func runServe(parent context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	live := !cfg.DryRun
	if live && !cfg.EnableBinanceUSDTFutures {
		return errors.New("live trading requires ENABLE_BINANCE_USDT_FUTURES=true")
	}
	basis, err := decision.ParseTailBasis(cfg.TailBasis)
	if err != nil {
		return err
	}

	buildVersion := version()
	venue := "paper"
	if live {
		venue = "binance-usdtfut"
	}
	log.Info("starting",
		zap.String("version", buildVersion),
		zap.String("venue", venue),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("mock_feed", cfg.UseMockFeed),
		zap.String("db", cfg.ActiveDBPath()),
	)

	// Database
	database, err := db.New(cfg.ActiveDBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	queries := database.Queries()
	specRepo := persistence.NewStrategyRepository(queries)
	positionRepo := persistence.NewPositionRepository(queries)
	historyRepo := persistence.NewHistoryRepository(queries)
	orderRepo := persistence.NewOrderRepository(queries)
	historyWriter := persistence.NewHistoryWriter(historyRepo, 50, 500*time.Millisecond, log.Named("history"))
	defer historyWriter.Close()

	// Core services
	bus := events.NewBus(cfg.BusWorkers, cfg.BusQueueSize, log.Named("bus"))
	sysMetrics := monitor.NewSystemMetrics()
	sinks := []monitor.AlertSink{monitor.NewLogSink(log.Named("alerts"))}
	if cfg.TelegramEnabled() {
		tg, err := monitor.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, venue)
		if err != nil {
			log.Warn("telegram alerts disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	mon := monitor.New(sysMetrics, log.Named("monitor"), sinks...)
	mon.Attach(bus)

	prices := market.NewMarkPriceCache()
	candles := market.NewCandleCache()
	locks := lock.NewCoordinator()

	// Exchange connectivity. The REST client is needed for live trading
	// and for live market data in dry-run.
	var client *exfutusdt.Client
	if live || !cfg.UseMockFeed {
		client = gateway.NewFuturesClient(cfg.BinanceUSDTKey, cfg.BinanceUSDTSecret, cfg.BinanceTestnet, log.Named("binance"))
		client.StartTimeSync(ctx)
	}

	var binanceMarket *gateway.BinanceMarket
	var marketData gateway.MarketData
	if client != nil {
		binanceMarket = gateway.NewBinanceMarket(client, prices, 5*time.Second, log.Named("market"))
		marketData = binanceMarket
	} else {
		marketData = gateway.NewSimulatedMarket(prices, nil)
	}

	// Balances
	var ledger *balance.Ledger
	if live {
		ledger = balance.NewLedger(binanceMarket, cfg.BalanceSyncInterval, log.Named("ledger"), cfg.QuoteAsset)
		ledger.Start(ctx)
	} else {
		ledger = balance.NewLedger(nil, 0, log.Named("ledger"), cfg.QuoteAsset)
		ledger.SetInitial(cfg.QuoteAsset, cfg.DryRunInitialBalance)
		log.Info("dry-run balance initialized",
			zap.String("asset", cfg.QuoteAsset),
			zap.String("amount", cfg.DryRunInitialBalance.String()))
	}

	// Positions and strategies
	store := state.NewStore(log.Named("state"),
		state.WithRepository(positionRepo),
		state.WithHistory(historyWriter),
		state.WithSettler(ledger, cfg.TakerFeeRate),
	)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	registry := strategy.NewRegistry(specRepo, log.Named("strategy"))
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}

	// Order path
	var orderGateway exchange.Gateway
	if live {
		orderGateway = client
	} else {
		orderGateway = order.NewPaperGateway(prices, order.PaperConfig{
			SlippageBps: decimal.Zero,
			LatencyMin:  5 * time.Millisecond,
			LatencyMax:  20 * time.Millisecond,
		})
	}
	executor := order.NewExecutor(orderGateway, orderRepo, bus, log.Named("order"))
	venueExchange := gateway.New(executor, marketData)

	// Market feed
	var watcher engine.Watcher
	var startFeed func(context.Context)
	if cfg.UseMockFeed {
		mock := market.NewMockFeed(bus, prices, decimal.NewFromInt(100), 0.002, time.Second, log.Named("mockfeed"))
		watcher, startFeed = mock, mock.Start
	} else {
		feed := market.NewFeed(stream.NewStreamClient(cfg.BinanceTestnet, log.Named("stream")), bus, prices, log.Named("feed"))
		watcher, startFeed = feed, feed.Start
	}

	// Reconciliation compares against the venue only when trading live.
	var reconSource reconciliation.ExchangeClient
	if live {
		reconSource = binanceMarket
	}
	recon := reconciliation.NewService(reconSource, store, bus, cfg.ReconcileInterval, log.Named("reconciliation"))

	// The hub must subscribe before the engine starts the bus.
	hub := api.NewHub(log.Named("ws"))
	for _, kind := range []events.Kind{
		events.KindPositionSynced,
		events.KindMarkPrice,
		events.KindStartStrategy,
		events.KindUpdateStrategy,
		events.KindStopStrategy,
	} {
		if err := bus.Subscribe(kind, "ws.broadcast", hub.HandleEvent); err != nil {
			return fmt.Errorf("subscribe hub: %w", err)
		}
	}

	eng, err := engine.NewImpl(engine.Config{
		Registry:   registry,
		SpecRepo:   specRepo,
		Store:      store,
		Ledger:     ledger,
		Locks:      locks,
		Exchange:   venueExchange,
		Candles:    candles,
		Prices:     prices,
		Bus:        bus,
		Watcher:    watcher,
		Monitor:    mon,
		History:    historyRepo,
		Reconciler: recon,
		Writer:     historyWriter,
		Policies:   decision.DefaultPolicies(cfg.TakerFeeRate, cfg.FreshnessWindow, basis),
		Meta: engine.SystemStatus{
			DryRun:      cfg.DryRun,
			Venue:       venue,
			Testnet:     cfg.BinanceTestnet,
			UseMockFeed: cfg.UseMockFeed,
			QuoteAsset:  cfg.QuoteAsset,
			TailBasis:   cfg.TailBasis,
			Version:     buildVersion,
		},
	}, log.Named("engine"))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	startFeed(ctx)
	bus.Start(ctx)
	eng.Start(ctx, 5*time.Second)

	eng.Resume()
	if cfg.StrategyConfigPath != "" {
		configs, err := strategy.LoadConfig(cfg.StrategyConfigPath)
		if err != nil {
			return fmt.Errorf("load strategy config: %w", err)
		}
		if err := eng.Bootstrap(ctx, configs, cfg.QuoteAsset); err != nil {
			log.Warn("strategy bootstrap incomplete", zap.Error(err))
		}
	}
	log.Info("engine ready",
		zap.Int("strategies", len(registry.All())),
		zap.Int("positions", len(store.All())))

	if live {
		order.NewFuturesUserStream(client, orderRepo, bus, cfg.BinanceTestnet, log.Named("userstream")).Start(ctx)
	}
	recon.Start(ctx)

	// API
	server, err := api.NewServer(eng, hub, api.Options{
		JWTSecret:        cfg.JWTSecret,
		OperatorUser:     cfg.OperatorUser,
		OperatorPassword: cfg.OperatorPassword,
		RatePerSecond:    cfg.APIRatePerSecond,
		RateBurst:        cfg.APIRateBurst,
	}, log.Named("api"))
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}
	serveErr := server.Start(ctx, ":"+cfg.Port)

	log.Info("shutting down")
	cancel()
	bus.Wait()
	return serveErr
}

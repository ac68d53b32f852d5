package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	ossignal "os/signal"
	"syscall"

	"perpbot/config"
	"perpbot/internal/adapters/binanceclient"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/domain"
	"perpbot/internal/engine"
	"perpbot/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Trade Journal (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade journal")
		log.Fatalf("FATAL: Failed to initialize trade journal: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade journal")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		Symbol:               cfg.Symbol,
		Leverage:             cfg.Leverage,
		TakerFeeRate:         cfg.TakerFeeRate,
		QuantityStep:         cfg.QuantityStep,
		PriceStep:            cfg.PriceStep,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Signal Source
	crossover, err := signal.NewCrossover(signal.CrossoverConfig{
		ShortPeriod: cfg.ShortMAPeriod,
		LongPeriod:  cfg.LongMAPeriod,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}

	// 6. Initialize the Trading Engine
	eng, err := engine.New(engine.Config{
		Symbol:            cfg.Symbol,
		Asset:             cfg.Asset,
		Leverage:          cfg.Leverage,
		TakerFeeRate:      cfg.TakerFeeRate,
		Lock:              cfg.Lock,
		AllowReversal:     cfg.AllowReversal,
		Sizing:            cfg.Sizing,
		Modifiers:         cfg.Modifiers,
		OutageSettleDelay: cfg.OutageSettleDelay,
	}, appLogger, exchange, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading engine")
		log.Fatalf("FATAL: Failed to initialize trading engine: %v", err)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 7. Exchange-side session setup and strategy warmup.
	if err := exchange.SetServerTime(ctx); err != nil {
		appLogger.Warn(ctx, "Server time sync failed, continuing", map[string]interface{}{"error": err.Error()})
	}
	if err := exchange.SetLeverage(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to set leverage")
		log.Fatalf("FATAL: Failed to set leverage: %v", err)
	}
	warmup := cfg.WarmupBars
	if min := crossover.RequiredDataPoints(); warmup < min {
		warmup = min
	}
	history, err := exchange.GetKlines(ctx, cfg.KlineInterval, warmup)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to fetch warmup bars")
		log.Fatalf("FATAL: Failed to fetch warmup bars: %v", err)
	}

	// 8. Market data feed into the engine's trading-data cell.
	cells := eng.Cells()
	mdDoneCh, mdStopCh, err := exchange.StreamKlines(ctx, cfg.KlineInterval,
		func(bar *domain.Kline) { cells.MarketData.Publish(bar) },
		func(err error) { appLogger.Warn(ctx, "Market data stream error", map[string]interface{}{"error": err.Error()}) },
	)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start market data stream")
		log.Fatalf("FATAL: Failed to start market data stream: %v", err)
	}
	defer func() {
		select {
		case mdStopCh <- struct{}{}:
		default:
		}
		<-mdDoneCh
	}()

	// Warmup history primes the signal pump before live bars arrive.
	go eng.RunSignalPump(ctx, crossover)
	for _, bar := range history {
		cells.MarketData.Publish(bar)
	}

	// 9. Run until shutdown.
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		appLogger.Error(ctx, err, "Trading engine exited with error")
		log.Fatalf("FATAL: Trading engine exited with error: %v", err)
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}

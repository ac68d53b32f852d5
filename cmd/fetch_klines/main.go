// Command fetch_klines downloads recent bars for a symbol, annotates
// them with the crossover source's signals and writes the input CSV the
// backtest runner consumes.
package main

import (
	"context"
	"flag"
	"log"

	"perpbot/config"
	"perpbot/internal/adapters/binanceclient"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/backtest"
	"perpbot/internal/domain"
	"perpbot/internal/signal"
	"perpbot/internal/utils"
)

func main() {
	interval := flag.String("interval", "1h", "Kline interval (e.g., 1m, 15m, 1h)")
	limit := flag.Int("limit", 1000, "Number of bars to fetch (max 1500)")
	out := flag.String("out", "klines.csv", "Output CSV path")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		Logger:       appLogger,
		Symbol:       cfg.Symbol,
		Leverage:     cfg.Leverage,
		TakerFeeRate: cfg.TakerFeeRate,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	bars, err := client.GetKlines(ctx, *interval, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to fetch klines")
		log.Fatalf("FATAL: Failed to fetch klines: %v", err)
	}
	appLogger.Info(ctx, "Klines fetched", map[string]interface{}{
		"symbol": cfg.Symbol, "interval": *interval, "bars": len(bars),
	})

	src, err := signal.NewCrossover(signal.CrossoverConfig{
		ShortPeriod: cfg.ShortMAPeriod,
		LongPeriod:  cfg.LongMAPeriod,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal source")
		log.Fatalf("FATAL: Failed to initialize signal source: %v", err)
	}

	table := &backtest.Table{}
	for i, bar := range bars {
		sig := domain.KeepPosition
		if window := bars[:i+1]; len(window) >= src.RequiredDataPoints() {
			sig = src.Evaluate(ctx, window)
		}
		table.Times = append(table.Times, bar.CloseTime)
		table.Open = append(table.Open, bar.Open)
		table.High = append(table.High, bar.High)
		table.Low = append(table.Low, bar.Low)
		table.Close = append(table.Close, bar.Close)
		table.Signals = append(table.Signals, sig)
	}

	if err := utils.WriteInputCSV(table, *out); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to write CSV")
		log.Fatalf("FATAL: Failed to write CSV: %v", err)
	}
	appLogger.Info(ctx, "Input series written", map[string]interface{}{"file": *out, "bars": table.Len()})
}

// Command backtest_runner replays a signal-annotated price series
// through the position simulator and prints the resulting statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"perpbot/config"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/backtest"
	"perpbot/internal/utils"
)

func main() {
	configPath := flag.String("config", "backtest.yaml", "Path to the backtest YAML configuration")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.LoadBacktestConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load backtest configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(logger.ParseLevel(*logLevel))
	ctx := context.Background()

	table, err := utils.ReadTableFromCSV(cfg.InputCSV)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to read input series")
		log.Fatalf("FATAL: Failed to read input series: %v", err)
	}
	appLogger.Info(ctx, "Input series loaded", map[string]interface{}{
		"file": cfg.InputCSV, "bars": table.Len(),
	})

	sim, err := backtest.New(backtest.Config{
		Symbol:         cfg.Symbol,
		Leverage:       cfg.Leverage,
		TakerFeeRate:   cfg.TakerFeeRate,
		InitialBalance: cfg.InitialBalance,
		Sizing:         cfg.SizingConfig(),
		Modifiers:      cfg.Modifiers(),
		AllowReversal:  cfg.AllowReversal,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to create simulator")
		log.Fatalf("FATAL: Failed to create simulator: %v", err)
	}

	result, err := sim.Run(ctx, table)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Simulation failed")
		log.Fatalf("FATAL: Simulation failed: %v", err)
	}

	if cfg.OutputCSV != "" {
		if err := utils.WriteTableToCSV(result.Table, cfg.OutputCSV); err != nil {
			appLogger.Error(ctx, err, "Failed to write output snapshot")
			log.Fatalf("FATAL: Failed to write output snapshot: %v", err)
		}
		appLogger.Info(ctx, "Output snapshot written", map[string]interface{}{"file": cfg.OutputCSV})
	}

	fmt.Printf("\n===== Backtest Results: %s =====\n", cfg.Symbol)
	fmt.Printf("Bars:                 %d\n", result.Table.Len())
	fmt.Printf("Initial Balance:      %.2f\n", cfg.InitialBalance)
	fmt.Printf("Final Balance:        %.2f\n", result.FinalBalance)
	fmt.Printf("Total Profit:         %.2f\n", result.TotalProfit)
	fmt.Printf("Return on Investment: %.2f%%\n", result.ReturnOnInvestment*100)
	fmt.Printf("Max Drawdown:         %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("Total Trades:         %d\n", result.TotalTrades)
	fmt.Printf("Winning Trades:       %d\n", result.WinningTrades)
	fmt.Printf("Losing Trades:        %d\n", result.LosingTrades)
	fmt.Printf("Win Rate:             %.2f%%\n", result.WinRate*100)
}

// Command collect_bars records alternative bars from the live trade stream without trading.
package main

import (
	"context"
	"log"

	"altBarsBot/config"
	"altBarsBot/internal/app"
	"altBarsBot/internal/bootstrap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	cfg.TradingEnabled = false

	appLogger := bootstrap.NewLogger(cfg)
	defer func() { _ = appLogger.Sync() }()

	store, err := bootstrap.NewBarStore(cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bar store")
		log.Fatalf("FATAL: Failed to initialize bar store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing bar store")
		}
	}()

	market, err := bootstrap.NewMarket(cfg, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize broker client")
		log.Fatalf("FATAL: Failed to initialize broker client: %v", err)
	}

	collector, err := app.NewTradingService(cfg, appLogger, market.Broker, market.Data, market.Ticks, store)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize bar collector: %v", err)
	}
	appLogger.Info(context.Background(), "Collecting bars", map[string]interface{}{"symbols": cfg.Symbols(), "store": cfg.BarStore})

	if err := collector.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Bar collector exited with error")
		log.Fatalf("FATAL: Bar collector exited with error: %v", err)
	}
}

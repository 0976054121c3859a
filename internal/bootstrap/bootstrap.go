// Package bootstrap builds the adapters selected by configuration. It is shared by the
// trading binary and the operator commands.
package bootstrap

import (
	"fmt"

	"altBarsBot/config"
	"altBarsBot/internal/adapters/alpacaclient"
	"altBarsBot/internal/adapters/binanceclient"
	"altBarsBot/internal/adapters/csvstore"
	"altBarsBot/internal/adapters/logger"
	"altBarsBot/internal/adapters/sqlite"
	"altBarsBot/internal/ports"
)

// Market groups the broker-facing ports. Both adapters implement all three.
type Market struct {
	Broker ports.BrokerGateway
	Data   ports.MarketDataClient
	Ticks  ports.TickSource
}

// NewLogger builds the zap logger from the logging settings.
func NewLogger(cfg *config.Config) *logger.ZapLogger {
	return logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
}

// NewMarket connects the configured broker.
func NewMarket(cfg *config.Config, log ports.Logger) (*Market, error) {
	switch cfg.Broker {
	case config.BrokerAlpaca:
		c, err := alpacaclient.New(alpacaclient.Config{
			APIKey:               cfg.AlpacaAPIKey,
			SecretKey:            cfg.AlpacaSecretKey,
			BaseURL:              cfg.AlpacaBaseURL,
			Feed:                 cfg.AlpacaDataFeed,
			Logger:               log,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Alpaca client: %w", err)
		}
		return &Market{Broker: c, Data: c, Ticks: c}, nil
	case config.BrokerBinance:
		c, err := binanceclient.New(binanceclient.Config{
			APIKey:               cfg.APIKey,
			SecretKey:            cfg.SecretKey,
			UseTestnet:           cfg.IsTestnet,
			Logger:               log,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			LotSize:              cfg.BinanceLotSize,
			SessionOpen:          cfg.BinanceSessionOpen,
			SessionClose:         cfg.BinanceSessionClose,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
		}
		return &Market{Broker: c, Data: c, Ticks: c}, nil
	default:
		return nil, fmt.Errorf("%w: unknown broker %q", ports.ErrConfiguration, cfg.Broker)
	}
}

// NewBarStore opens the configured bar store.
func NewBarStore(cfg *config.Config, log ports.Logger) (ports.BarStore, error) {
	switch cfg.BarStore {
	case config.StoreCSV:
		store, err := csvstore.New(csvstore.Config{Dir: cfg.DataDir, Logger: log})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreSQLite:
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("%w: unknown bar store %q", ports.ErrConfiguration, cfg.BarStore)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"altBarsBot/internal/adapters/logger" // Import the logger package for LogLevel
	"altBarsBot/internal/domain"
)

// Supported brokers and bar stores.
const (
	BrokerAlpaca  = "alpaca"
	BrokerBinance = "binance"

	StoreCSV    = "csv"
	StoreSQLite = "sqlite"
)

// Per-instrument defaults used when the instruments file leaves a field out.
const (
	defaultWindowSize = 15
	defaultTakeProfit = 2.0
	defaultStopLoss   = 1.0
)

// Instrument is one entry of the instruments file.
type Instrument struct {
	Symbol     string         `yaml:"symbol"`
	BarType    domain.BarType `yaml:"bar_type"`
	Qty        int64          `yaml:"qty"`
	WindowSize int            `yaml:"window_size"`
	TakeProfit float64        `yaml:"take_profit"` // Take-profit multiplier of volatility
	StopLoss   float64        `yaml:"stop_loss"`   // Stop-loss multiplier of volatility
	Threshold  int64          `yaml:"threshold"`   // Fixed bar threshold; 0 computes it from daily history
}

type instrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Config holds all application configuration.
type Config struct {
	Broker string // alpaca or binance

	// Alpaca API
	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaBaseURL   string
	AlpacaDataFeed  string

	// Binance API
	APIKey              string
	SecretKey           string
	IsTestnet           bool
	BinanceLotSize      float64
	BinanceSessionOpen  time.Duration // Offset from UTC midnight
	BinanceSessionClose time.Duration

	// Instruments
	InstrumentsFile string
	Instruments     []Instrument

	// Bar storage
	BarStore string // csv or sqlite
	DataDir  string
	DBPath   string

	// Thresholds
	BarsPerDay        int
	ThresholdSpanDays int

	// Session handling
	TradingEnabled       bool
	EntryCutoff          time.Duration
	LiquidateBeforeClose time.Duration
	ClockPollInterval    time.Duration
	WindowCapacity       int

	// Logging
	LogLevel      logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Metrics
	MetricsAddr string // Empty disables the metrics endpoint

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file) and the instruments file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Broker = strings.ToLower(getEnv("BROKER", BrokerAlpaca))
	switch cfg.Broker {
	case BrokerAlpaca:
		cfg.AlpacaAPIKey = getEnv("ALPACA_API_KEY", "")
		cfg.AlpacaSecretKey = getEnv("ALPACA_API_SECRET", "")
		cfg.AlpacaBaseURL = getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets")
		cfg.AlpacaDataFeed = getEnv("ALPACA_DATA_FEED", "iex")
		if cfg.AlpacaAPIKey == "" {
			errs = append(errs, "ALPACA_API_KEY must be set")
		}
		if cfg.AlpacaSecretKey == "" {
			errs = append(errs, "ALPACA_API_SECRET must be set")
		}
	case BrokerBinance:
		cfg.APIKey = getEnv("BINANCE_API_KEY", "")
		cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
		cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}

		cfg.BinanceLotSize, err = getEnvAsFloatRequired("BINANCE_LOT_SIZE", 0.001)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid BINANCE_LOT_SIZE: %v", err))
		} else if cfg.BinanceLotSize <= 0 {
			errs = append(errs, "BINANCE_LOT_SIZE must be positive")
		}

		cfg.BinanceSessionOpen, err = parseTimeOfDay(getEnv("BINANCE_SESSION_OPEN", "00:00"))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid BINANCE_SESSION_OPEN: %v", err))
		}
		cfg.BinanceSessionClose, err = parseTimeOfDay(getEnv("BINANCE_SESSION_CLOSE", "00:00"))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid BINANCE_SESSION_CLOSE: %v", err))
		}
	default:
		errs = append(errs, fmt.Sprintf("BROKER must be %q or %q, got %q", BrokerAlpaca, BrokerBinance, cfg.Broker))
	}

	// Instruments
	cfg.InstrumentsFile = getEnv("INSTRUMENTS_FILE", "./instruments.yaml")
	cfg.Instruments, err = LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Bar storage
	cfg.BarStore = strings.ToLower(getEnv("BAR_STORE", StoreCSV))
	if cfg.BarStore != StoreCSV && cfg.BarStore != StoreSQLite {
		errs = append(errs, fmt.Sprintf("BAR_STORE must be %q or %q, got %q", StoreCSV, StoreSQLite, cfg.BarStore))
	}
	cfg.DataDir = getEnv("DATA_DIR", "./data")
	cfg.DBPath = getEnv("DB_PATH", "./data/bars.db")

	// Thresholds
	cfg.BarsPerDay, err = getEnvAsIntRequired("BARS_PER_DAY", 50)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BARS_PER_DAY: %v", err))
	} else if cfg.BarsPerDay <= 0 {
		errs = append(errs, "BARS_PER_DAY must be positive")
	}

	cfg.ThresholdSpanDays, err = getEnvAsIntRequired("THRESHOLD_SPAN_DAYS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid THRESHOLD_SPAN_DAYS: %v", err))
	} else if cfg.ThresholdSpanDays <= 0 {
		errs = append(errs, "THRESHOLD_SPAN_DAYS must be positive")
	}

	// Session handling
	cfg.TradingEnabled = getEnvAsBool("TRADING_ENABLED", true)

	entryCutoffMinutes := getEnvAsInt("ENTRY_CUTOFF_MINUTES", 30)
	if entryCutoffMinutes < 0 {
		errs = append(errs, "ENTRY_CUTOFF_MINUTES cannot be negative")
	}
	cfg.EntryCutoff = time.Duration(entryCutoffMinutes) * time.Minute

	liquidateMinutes := getEnvAsInt("LIQUIDATE_BEFORE_CLOSE_MINUTES", 10)
	if liquidateMinutes <= 0 {
		errs = append(errs, "LIQUIDATE_BEFORE_CLOSE_MINUTES must be positive")
	}
	cfg.LiquidateBeforeClose = time.Duration(liquidateMinutes) * time.Minute

	clockPollSeconds := getEnvAsInt("CLOCK_POLL_SECONDS", 30)
	if clockPollSeconds <= 0 {
		errs = append(errs, "CLOCK_POLL_SECONDS must be positive")
	}
	cfg.ClockPollInterval = time.Duration(clockPollSeconds) * time.Second

	cfg.WindowCapacity = getEnvAsInt("WINDOW_CAPACITY", 1000)
	if cfg.WindowCapacity <= 0 {
		errs = append(errs, "WINDOW_CAPACITY must be positive")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 100)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	if cfg.LogMaxSizeMB <= 0 || cfg.LogMaxBackups < 0 {
		errs = append(errs, "LOG_MAX_SIZE_MB must be positive and LOG_MAX_BACKUPS cannot be negative")
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Symbols returns the configured instrument symbols in file order.
func (c *Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		symbols = append(symbols, inst.Symbol)
	}
	return symbols
}

// LoadInstruments reads and validates the YAML instruments file.
func LoadInstruments(path string) ([]Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading INSTRUMENTS_FILE %s: %w", path, err)
	}
	return ParseInstruments(data)
}

// ParseInstruments decodes an instruments document, fills defaults and validates every entry.
func ParseInstruments(data []byte) ([]Instrument, error) {
	var file instrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing instruments: %w", err)
	}
	if len(file.Instruments) == 0 {
		return nil, fmt.Errorf("instruments: at least one instrument must be configured")
	}

	var errs []string
	seen := make(map[string]bool, len(file.Instruments))
	for i := range file.Instruments {
		inst := &file.Instruments[i]
		inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if inst.WindowSize == 0 {
			inst.WindowSize = defaultWindowSize
		}
		if inst.TakeProfit == 0 {
			inst.TakeProfit = defaultTakeProfit
		}
		if inst.StopLoss == 0 {
			inst.StopLoss = defaultStopLoss
		}

		prefix := fmt.Sprintf("instrument %d (%s)", i, inst.Symbol)
		if inst.Symbol == "" {
			errs = append(errs, fmt.Sprintf("instrument %d: symbol must be set", i))
		} else if seen[inst.Symbol] {
			errs = append(errs, fmt.Sprintf("%s: duplicate symbol", prefix))
		}
		seen[inst.Symbol] = true

		if _, err := domain.ParseBarType(string(inst.BarType)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
		}
		if inst.Qty <= 0 {
			errs = append(errs, fmt.Sprintf("%s: qty must be positive", prefix))
		}
		if inst.WindowSize < 2 {
			errs = append(errs, fmt.Sprintf("%s: window_size must be at least 2", prefix))
		}
		if inst.TakeProfit < 0 || inst.StopLoss < 0 {
			errs = append(errs, fmt.Sprintf("%s: take_profit and stop_loss must be positive", prefix))
		}
		if inst.Threshold < 0 {
			errs = append(errs, fmt.Sprintf("%s: threshold cannot be negative", prefix))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid instruments: %s", strings.Join(errs, "; "))
	}
	return file.Instruments, nil
}

// parseTimeOfDay turns "HH:MM" into an offset from midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds environment-driven settings for the trading engine.
type Config struct {
	Port string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // "json" (default) or "console"

	// Binance Futures (USDT-M)
	BinanceTestnet           bool
	EnableBinanceUSDTFutures bool
	BinanceUSDTKey           string
	BinanceUSDTSecret        string
	BinanceSymbols           []string
	UseMockFeed              bool

	// Execution
	DryRun               bool
	DryRunInitialBalance decimal.Decimal
	DryRunDBPath         string
	QuoteAsset           string
	TakerFeeRate         decimal.Decimal

	// Decision engines
	FreshnessWindow time.Duration
	TailBasis       string // "unscaled" (default) or "legacy_mixed"

	// Event bus
	BusWorkers   int
	BusQueueSize int

	// Background loops
	BalanceSyncInterval time.Duration
	ReconcileInterval   time.Duration

	// Database
	DBPath string

	// Strategy bootstrap file (YAML), optional
	StrategyConfigPath string

	// Control API
	JWTSecret        string
	OperatorUser     string
	OperatorPassword string
	APIRatePerSecond float64
	APIRateBurst     int

	// Alerts, optional. Both must be set to enable Telegram delivery.
	TelegramToken  string
	TelegramChatID int64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/hammer.db")
	}

	return &Config{
		Port:                     getEnv("PORT", "8080"),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "json")),
		BinanceTestnet:           getEnv("BINANCE_TESTNET", "false") == "true",
		EnableBinanceUSDTFutures: getEnv("ENABLE_BINANCE_USDT_FUTURES", "false") == "true",
		BinanceUSDTKey:           os.Getenv("BINANCE_USDT_KEY"),
		BinanceUSDTSecret:        os.Getenv("BINANCE_USDT_SECRET"),
		BinanceSymbols:           splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		UseMockFeed:              getEnv("USE_MOCK_FEED", "true") == "true",
		DryRun:                   getEnv("DRY_RUN", "true") == "true",
		DryRunInitialBalance:     getEnvDecimal("DRY_RUN_INITIAL_BALANCE", decimal.NewFromInt(10000)),
		DryRunDBPath:             getEnv("DRY_RUN_DB_PATH", "./data/hammer_dry.db"),
		QuoteAsset:               strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
		TakerFeeRate:             getEnvDecimal("TAKER_FEE_RATE", decimal.RequireFromString("0.0004")),
		FreshnessWindow:          getEnvDuration("CANDLE_FRESHNESS_WINDOW", time.Second),
		TailBasis:                strings.ToLower(getEnv("TAIL_BASIS", "unscaled")),
		BusWorkers:               getEnvInt("BUS_WORKERS", 8),
		BusQueueSize:             getEnvInt("BUS_QUEUE_SIZE", 1024),
		BalanceSyncInterval:      getEnvDuration("BALANCE_SYNC_INTERVAL", 30*time.Second),
		ReconcileInterval:        getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		DBPath:                   dbPath,
		StrategyConfigPath:       getEnv("STRATEGY_CONFIG_PATH", ""),
		JWTSecret:                getEnv("JWT_SECRET", "dev-secret"),
		OperatorUser:             getEnv("OPERATOR_USER", "admin"),
		OperatorPassword:         getEnv("OPERATOR_PASSWORD", ""),
		APIRatePerSecond:         getEnvFloat("API_RATE_PER_SECOND", 10),
		APIRateBurst:             getEnvInt("API_RATE_BURST", 20),
		TelegramToken:            os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:           getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}, nil
}

// ActiveDBPath returns the database used by the current execution mode.
func (c *Config) ActiveDBPath() string {
	if c.DryRun && c.DryRunDBPath != "" {
		return c.DryRunDBPath
	}
	return c.DBPath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

// TelegramEnabled reports whether alerts should be posted to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

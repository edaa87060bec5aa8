package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the strategy engine.
type Config struct {
	Port     string
	LogLevel string

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Market data
	Interval      string   // candle interval for monitoring streams
	Universe      []string // symbols eligible for monitoring
	BatchSize     int      // symbols multiplexed per websocket stream
	SeedLimit     int      // candles fetched to bootstrap a series
	SeriesWindow  int      // max candles retained per symbol
	RestRateLimit float64  // REST requests per second

	// Ledger
	WatchTTL time.Duration // monitored candidate time-to-live
	Cooldown time.Duration // re-entry suppression after a sell

	// Scheduling
	ResyncInterval     time.Duration // periodic resubscription refresh
	CheckpointInterval time.Duration // periodic state flush to the store

	// Coordinator (redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Persistence
	DBPath string

	// Strategy definitions
	StrategyConfigPath string

	// Operator API
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8090"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:     getEnv("BINANCE_TESTNET", "false") == "true",
		Interval:           getEnv("CANDLE_INTERVAL", "1m"),
		Universe:           splitAndTrim(getEnv("SYMBOL_UNIVERSE", "BTCUSDT,ETHUSDT")),
		BatchSize:          getEnvInt("STREAM_BATCH_SIZE", 25),
		SeedLimit:          getEnvInt("SERIES_SEED_LIMIT", 200),
		SeriesWindow:       getEnvInt("SERIES_WINDOW", 500),
		RestRateLimit:      getEnvFloat("REST_RATE_LIMIT", 10),
		WatchTTL:           getEnvDuration("WATCH_TTL", 15*time.Minute),
		Cooldown:           getEnvDuration("SELL_COOLDOWN", time.Hour),
		ResyncInterval:     getEnvDuration("RESYNC_INTERVAL", 10*time.Minute),
		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", time.Minute),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		DBPath:             getEnv("DB_PATH", "./data/strategy.db"),
		StrategyConfigPath: getEnv("STRATEGY_CONFIG", "./strategies.yaml"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
	}, nil
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

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

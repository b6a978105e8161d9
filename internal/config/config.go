// Package config loads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds environment-driven settings for the trade desk server.
type Config struct {
	Port     string
	LogLevel string

	// Storage: DATABASE_URL wins, then SQLITE_PATH, else in-memory.
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration

	// Price oracle
	PriceTable         string // optional YAML base price table
	PriceJitterPct     float64
	OracleTimeout      time.Duration
	OracleRPS          float64
	OracleBurst        int
	RefreshConcurrency int

	// Exposure limits, zero disables
	MaxSharesPerSymbol int64
	MaxGrossExposure   decimal.Decimal

	// Seeded admin account
	AdminUsername string
	AdminPassword string
	AdminEmail    string

	ChatHistoryLimit int
}

// Load reads environment variables (optionally via .env) into Config.
// Malformed values are collected and reported together.
func Load() (*Config, error) {
	// Ignore error so the server still starts when .env is missing.
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CacheTTL:           p.duration("CACHE_TTL", 30*time.Second),
		PriceTable:         os.Getenv("PRICE_TABLE"),
		PriceJitterPct:     p.float("PRICE_JITTER_PCT", 2.0),
		OracleTimeout:      p.duration("ORACLE_TIMEOUT", 2*time.Second),
		OracleRPS:          p.float("ORACLE_RPS", 0),
		OracleBurst:        p.int("ORACLE_BURST", 10),
		RefreshConcurrency: p.int("REFRESH_CONCURRENCY", 8),
		MaxSharesPerSymbol: int64(p.int("MAX_SHARES_PER_SYMBOL", 0)),
		MaxGrossExposure:   p.decimal("MAX_GROSS_EXPOSURE"),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
		AdminEmail:         getEnv("ADMIN_EMAIL", "admin@tradedesk.local"),
		ChatHistoryLimit:   p.int("CHAT_HISTORY_LIMIT", 100),
	}

	if cfg.PriceJitterPct < 0 || cfg.PriceJitterPct > 50 {
		p.errs = append(p.errs, fmt.Errorf("PRICE_JITTER_PCT must be within [0, 50], got %v", cfg.PriceJitterPct))
	}
	if cfg.OracleTimeout <= 0 {
		p.errs = append(p.errs, errors.New("ORACLE_TIMEOUT must be positive"))
	}
	if cfg.MaxSharesPerSymbol < 0 || cfg.MaxGrossExposure.IsNegative() {
		p.errs = append(p.errs, errors.New("exposure limits must not be negative"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// NewLogger creates a JSON slog logger on stdout at the given level.
// Supported levels: "debug", "info", "warn", "error"; anything else is info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser reads typed variables and remembers every failure.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return i
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (p *parser) decimal(key string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a decimal", key, v))
		return decimal.Zero
	}
	return d
}

package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want 8080", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second || cfg.OracleTimeout != 2*time.Second {
		t.Errorf("durations: ttl=%v timeout=%v", cfg.CacheTTL, cfg.OracleTimeout)
	}
	if cfg.PriceJitterPct != 2.0 || cfg.RefreshConcurrency != 8 || cfg.ChatHistoryLimit != 100 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.MaxGrossExposure.IsZero() || cfg.MaxSharesPerSymbol != 0 {
		t.Error("limits should default to disabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("SQLITE_PATH", "/tmp/desk.db")
	t.Setenv("ORACLE_TIMEOUT", "750ms")
	t.Setenv("MAX_SHARES_PER_SYMBOL", "500")
	t.Setenv("MAX_GROSS_EXPOSURE", "250000.50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.SQLitePath != "/tmp/desk.db" {
		t.Errorf("unexpected strings: %+v", cfg)
	}
	if cfg.OracleTimeout != 750*time.Millisecond {
		t.Errorf("OracleTimeout: got %v", cfg.OracleTimeout)
	}
	if cfg.MaxSharesPerSymbol != 500 || cfg.MaxGrossExposure.String() != "250000.5" {
		t.Errorf("limits: %d / %s", cfg.MaxSharesPerSymbol, cfg.MaxGrossExposure)
	}
}

func TestLoad_ReportsAllBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("REFRESH_CONCURRENCY", "many")
	t.Setenv("MAX_GROSS_EXPOSURE", "lots")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"CACHE_TTL", "REFRESH_CONCURRENCY", "MAX_GROSS_EXPOSURE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir+"/.env", "CHAT_HISTORY_LIMIT=25\n")
	// Register cleanup for the variable godotenv will set, then clear it.
	t.Setenv("CHAT_HISTORY_LIMIT", "")
	os.Unsetenv("CHAT_HISTORY_LIMIT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChatHistoryLimit != 25 {
		t.Errorf("ChatHistoryLimit: got %d, want 25 from .env", cfg.ChatHistoryLimit)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	if l := NewLogger("debug"); !l.Enabled(t.Context(), -4) {
		t.Error("debug logger should enable debug")
	}
	if l := NewLogger("bogus"); l.Enabled(t.Context(), -4) {
		t.Error("unknown level should fall back to info")
	}
}

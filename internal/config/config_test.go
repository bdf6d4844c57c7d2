package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":           func(c *Config) { c.Mode = "backtest" },
		"credentials":    func(c *Config) { c.Mode = ModePaper },
		"symbol":         func(c *Config) { c.Symbol = "BTCUSD" },
		"timeframe":      func(c *Config) { c.Timeframe = "1w" },
		"period":         func(c *Config) { c.RSIPeriod = 0 },
		"notional":       func(c *Config) { c.TradeNotional = 0 },
		"thresholds":     func(c *Config) { c.Oversold = 80 },
		"max positions":  func(c *Config) { c.MaxPositions = 0 },
		"journal":        func(c *Config) { c.Journal = "kafka" },
		"dashboard":      func(c *Config) { c.Dashboard = "web" },
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"order notional": func(c *Config) { c.MaxOrderNotional = -1 },
		"wilder period": func(c *Config) {
			c.IndicatorMethod = "wilder"
			c.RSIPeriod = 1
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}

	cfg := Default()
	cfg.Mode = ModeLive
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	if err := validate(cfg); err != nil {
		t.Fatalf("expected live config with credentials to be valid, got %v", err)
	}
	if cfg.BaseURL() != cfg.LiveBaseURL {
		t.Fatalf("expected live base url, got %q", cfg.BaseURL())
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	configContents := `
symbol: ETH/USD
rsi_period: 5
trade_notional: 2.5
interval: 30s
oversold: 20
`
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MICROGRID_RSI_PERIOD", "7")
	t.Setenv("MICROGRID_TRADE_NOTIONAL", "3")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	loader := NewLoader(fs)
	err := fs.Parse([]string{
		"--config", configPath,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--trade-notional", "4",
	})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Symbol != "ETH/USD" {
		t.Fatalf("expected symbol from file, got %q", cfg.Symbol)
	}
	if cfg.Interval != 30*time.Second {
		t.Fatalf("expected interval from file, got %s", cfg.Interval)
	}
	if cfg.RSIPeriod != 7 {
		t.Fatalf("expected rsi period from env, got %d", cfg.RSIPeriod)
	}
	if cfg.TradeNotional != 4 {
		t.Fatalf("expected trade notional from CLI, got %v", cfg.TradeNotional)
	}
	if cfg.Oversold != 20 || cfg.Overbought != 75 {
		t.Fatalf("expected file oversold and default overbought, got %v/%v", cfg.Oversold, cfg.Overbought)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected API key from env, got %q", cfg.APIKey)
	}
}

func TestLoadConfigRejectsBadEnvValue(t *testing.T) {
	t.Setenv("MICROGRID_MAX_POSITIONS", "lots")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	loader := NewLoader(fs)
	if err := fs.Parse([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loader.Load(); err == nil {
		t.Fatalf("expected error for non-numeric MICROGRID_MAX_POSITIONS")
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("max-order-notional"); got != "MICROGRID_MAX_ORDER_NOTIONAL" {
		t.Fatalf("unexpected env name %q", got)
	}
}

func TestPairFromSymbol(t *testing.T) {
	cfg := Default()
	pair := cfg.Pair()
	if pair.Base != "BTC" || pair.Quote != "USD" {
		t.Fatalf("unexpected pair %+v", pair)
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"microgrid/internal/broker"
	"microgrid/internal/logging"
	"microgrid/internal/md"
)

type Mode string

const (
	ModeSim   Mode = "sim"
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

const envPrefix = "MICROGRID_"

type Config struct {
	Mode            Mode          `yaml:"mode"`
	Symbol          string        `yaml:"symbol"`
	Timeframe       string        `yaml:"timeframe"`
	RSIPeriod       int           `yaml:"rsi_period"`
	IndicatorMethod string        `yaml:"indicator_method"`
	Interval        time.Duration `yaml:"interval"`

	TradeNotional    float64 `yaml:"trade_notional"`
	TakeProfitRatio  float64 `yaml:"take_profit_ratio"`
	MinProfit        float64 `yaml:"min_profit"`
	Oversold         float64 `yaml:"oversold"`
	Overbought       float64 `yaml:"overbought"`
	MaxPositions     int     `yaml:"max_positions"`
	DustThreshold    float64 `yaml:"dust_threshold"`
	MaxOrderNotional float64 `yaml:"max_order_notional"`
	KillSwitch       bool    `yaml:"kill_switch"`

	PositionsPath string `yaml:"positions_path"`
	TradeLogPath  string `yaml:"trade_log_path"`
	Journal       string `yaml:"journal"`
	JournalDBPath string `yaml:"journal_db_path"`
	DecisionsPath string `yaml:"decisions_path"`
	LockPath      string `yaml:"lock_path"`
	ReplayPnL     bool   `yaml:"replay_pnl"`

	Dashboard      string `yaml:"dashboard"`
	DashboardClear bool   `yaml:"dashboard_clear"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	LogCompress   bool   `yaml:"log_compress"`

	PaperBaseURL string        `yaml:"paper_base_url"`
	LiveBaseURL  string        `yaml:"live_base_url"`
	RetryLimit   int           `yaml:"retry_limit"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	SimStartPrice   float64 `yaml:"sim_start_price"`
	SimVolatility   float64 `yaml:"sim_volatility"`
	SimSeed         int64   `yaml:"sim_seed"`
	SimQuoteBalance float64 `yaml:"sim_quote_balance"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

func Default() Config {
	return Config{
		Mode:             ModeSim,
		Symbol:           "BTC/USD",
		Timeframe:        "1m",
		RSIPeriod:        3,
		IndicatorMethod:  string(md.MethodSimple),
		Interval:         60 * time.Second,
		TradeNotional:    1.0,
		TakeProfitRatio:  0.007,
		MinProfit:        0.01,
		Oversold:         25,
		Overbought:       75,
		MaxPositions:     50,
		DustThreshold:    0.00001,
		MaxOrderNotional: 0,
		PositionsPath:    "positions.json",
		TradeLogPath:     "trade_log.csv",
		Journal:          "csv",
		JournalDBPath:    "trades.db",
		DecisionsPath:    "decisions.ndjson",
		LockPath:         "bot.lock",
		Dashboard:        "console",
		DashboardClear:   true,
		LogLevel:         "info",
		LogMaxSizeMB:     20,
		LogMaxBackups:    5,
		LogMaxAgeDays:    30,
		PaperBaseURL:     "https://paper-api.alpaca.markets",
		LiveBaseURL:      "https://api.alpaca.markets",
		RetryLimit:       10,
		RetryDelay:       time.Second,
		SimStartPrice:    50000,
		SimVolatility:    0.002,
		SimSeed:          1,
		SimQuoteBalance:  100,
	}
}

// BaseURL is the trading endpoint for the configured mode.
func (c Config) BaseURL() string {
	if c.Mode == ModeLive {
		return c.LiveBaseURL
	}
	return c.PaperBaseURL
}

func (c Config) Pair() broker.Pair {
	pair, _ := broker.ParsePair(c.Symbol)
	return pair
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type binding struct {
	applyFlag func(*Config)
	applyEnv  func(*Config, string) error
}

// Loader resolves a Config from defaults, an optional YAML file, the
// environment and command-line flags, in increasing order of precedence.
type Loader struct {
	fs         *pflag.FlagSet
	flags      Config
	bindings   map[string]binding
	configPath string
	envFile    string
}

func NewLoader(fs *pflag.FlagSet) *Loader {
	l := &Loader{fs: fs, bindings: map[string]binding{}}
	fs.StringVar(&l.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&l.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	bind(l, "mode", func(c *Config) *string { return (*string)(&c.Mode) }, fs.StringVar, cast.ToStringE, "exchange mode: sim, paper or live")
	bind(l, "symbol", func(c *Config) *string { return &c.Symbol }, fs.StringVar, cast.ToStringE, "trading pair as BASE/QUOTE")
	bind(l, "timeframe", func(c *Config) *string { return &c.Timeframe }, fs.StringVar, cast.ToStringE, "candle timeframe (1m, 5m, 1h, 1d)")
	bind(l, "rsi-period", func(c *Config) *int { return &c.RSIPeriod }, fs.IntVar, cast.ToIntE, "momentum window length")
	bind(l, "indicator-method", func(c *Config) *string { return &c.IndicatorMethod }, fs.StringVar, cast.ToStringE, "indicator method: simple or wilder")
	bind(l, "interval", func(c *Config) *time.Duration { return &c.Interval }, fs.DurationVar, cast.ToDurationE, "sleep between iterations")

	bind(l, "trade-notional", func(c *Config) *float64 { return &c.TradeNotional }, fs.Float64Var, cast.ToFloat64E, "quote amount spent per entry")
	bind(l, "take-profit-ratio", func(c *Config) *float64 { return &c.TakeProfitRatio }, fs.Float64Var, cast.ToFloat64E, "fractional gain that triggers an exit")
	bind(l, "min-profit", func(c *Config) *float64 { return &c.MinProfit }, fs.Float64Var, cast.ToFloat64E, "minimum absolute profit for any exit")
	bind(l, "oversold", func(c *Config) *float64 { return &c.Oversold }, fs.Float64Var, cast.ToFloat64E, "indicator level below which the bot buys")
	bind(l, "overbought", func(c *Config) *float64 { return &c.Overbought }, fs.Float64Var, cast.ToFloat64E, "indicator level above which lots may exit early")
	bind(l, "max-positions", func(c *Config) *int { return &c.MaxPositions }, fs.IntVar, cast.ToIntE, "most recent positions kept in the positions file")
	bind(l, "dust-threshold", func(c *Config) *float64 { return &c.DustThreshold }, fs.Float64Var, cast.ToFloat64E, "base balance at or below which liquidation is skipped")
	bind(l, "max-order-notional", func(c *Config) *float64 { return &c.MaxOrderNotional }, fs.Float64Var, cast.ToFloat64E, "reject orders worth more than this (0 disables)")
	bind(l, "kill-switch", func(c *Config) *bool { return &c.KillSwitch }, fs.BoolVar, cast.ToBoolE, "if true, never place orders")

	bind(l, "positions-path", func(c *Config) *string { return &c.PositionsPath }, fs.StringVar, cast.ToStringE, "path to the positions file")
	bind(l, "trade-log-path", func(c *Config) *string { return &c.TradeLogPath }, fs.StringVar, cast.ToStringE, "path to the CSV trade log")
	bind(l, "journal", func(c *Config) *string { return &c.Journal }, fs.StringVar, cast.ToStringE, "trade journal: csv, sqlite or both")
	bind(l, "journal-db-path", func(c *Config) *string { return &c.JournalDBPath }, fs.StringVar, cast.ToStringE, "path to the SQLite trade journal")
	bind(l, "decisions-path", func(c *Config) *string { return &c.DecisionsPath }, fs.StringVar, cast.ToStringE, "path to the per-iteration decisions log (empty disables)")
	bind(l, "lock-path", func(c *Config) *string { return &c.LockPath }, fs.StringVar, cast.ToStringE, "path to the single-instance lock file")
	bind(l, "replay-pnl", func(c *Config) *bool { return &c.ReplayPnL }, fs.BoolVar, cast.ToBoolE, "seed the running P&L total from the trade log at startup")

	bind(l, "dashboard", func(c *Config) *string { return &c.Dashboard }, fs.StringVar, cast.ToStringE, "dashboard output: console, log or off")
	bind(l, "dashboard-clear", func(c *Config) *bool { return &c.DashboardClear }, fs.BoolVar, cast.ToBoolE, "clear the terminal before each console dashboard")

	bind(l, "log-level", func(c *Config) *string { return &c.LogLevel }, fs.StringVar, cast.ToStringE, "log level: debug, info, warn or error")
	bind(l, "log-file", func(c *Config) *string { return &c.LogFile }, fs.StringVar, cast.ToStringE, "rotating log file (empty logs to stderr only)")
	bind(l, "log-max-size-mb", func(c *Config) *int { return &c.LogMaxSizeMB }, fs.IntVar, cast.ToIntE, "log file size before rotation")
	bind(l, "log-max-backups", func(c *Config) *int { return &c.LogMaxBackups }, fs.IntVar, cast.ToIntE, "rotated log files to keep")
	bind(l, "log-max-age-days", func(c *Config) *int { return &c.LogMaxAgeDays }, fs.IntVar, cast.ToIntE, "days to keep rotated log files")
	bind(l, "log-compress", func(c *Config) *bool { return &c.LogCompress }, fs.BoolVar, cast.ToBoolE, "gzip rotated log files")

	bind(l, "paper-base-url", func(c *Config) *string { return &c.PaperBaseURL }, fs.StringVar, cast.ToStringE, "paper trading base URL")
	bind(l, "live-base-url", func(c *Config) *string { return &c.LiveBaseURL }, fs.StringVar, cast.ToStringE, "live trading base URL")
	bind(l, "retry-limit", func(c *Config) *int { return &c.RetryLimit }, fs.IntVar, cast.ToIntE, "exchange client retries on rate limits")
	bind(l, "retry-delay", func(c *Config) *time.Duration { return &c.RetryDelay }, fs.DurationVar, cast.ToDurationE, "delay between exchange client retries")

	bind(l, "sim-start-price", func(c *Config) *float64 { return &c.SimStartPrice }, fs.Float64Var, cast.ToFloat64E, "simulated exchange starting price")
	bind(l, "sim-volatility", func(c *Config) *float64 { return &c.SimVolatility }, fs.Float64Var, cast.ToFloat64E, "simulated exchange per-candle volatility")
	bind(l, "sim-seed", func(c *Config) *int64 { return &c.SimSeed }, fs.Int64Var, cast.ToInt64E, "simulated exchange random seed")
	bind(l, "sim-quote-balance", func(c *Config) *float64 { return &c.SimQuoteBalance }, fs.Float64Var, cast.ToFloat64E, "simulated exchange starting quote balance")
	return l
}

func bind[T any](
	l *Loader,
	name string,
	field func(*Config) *T,
	register func(p *T, name string, value T, usage string),
	parse func(any) (T, error),
	usage string,
) {
	defaults := Default()
	register(field(&l.flags), name, *field(&defaults), usage)
	l.bindings[name] = binding{
		applyFlag: func(c *Config) {
			*field(c) = *field(&l.flags)
		},
		applyEnv: func(c *Config, raw string) error {
			value, err := parse(raw)
			if err != nil {
				return err
			}
			*field(c) = value
			return nil
		},
	}
}

// EnvName is the environment variable that overrides a flag.
func EnvName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Load must be called after the flag set has been parsed.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if err := loadDotEnvIfPresent(l.envFile); err != nil {
		return cfg, fmt.Errorf("load %s: %w", l.envFile, err)
	}
	if l.configPath != "" {
		if err := LoadFile(l.configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := l.applyEnv(&cfg); err != nil {
		return cfg, err
	}
	l.fs.Visit(func(f *pflag.Flag) {
		if b, ok := l.bindings[f.Name]; ok {
			b.applyFlag(&cfg)
		}
	})

	cfg.APIKey = os.Getenv("APCA_API_KEY_ID")
	cfg.APISecret = os.Getenv("APCA_API_SECRET_KEY")

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	for name, b := range l.bindings {
		raw, ok := os.LookupEnv(EnvName(name))
		if !ok {
			continue
		}
		if err := b.applyEnv(cfg, raw); err != nil {
			return fmt.Errorf("parse %s: %w", EnvName(name), err)
		}
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Mode != ModeSim && cfg.Mode != ModePaper && cfg.Mode != ModeLive {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Mode != ModeSim && (cfg.APIKey == "" || cfg.APISecret == "") {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required in %s mode", cfg.Mode)
	}
	if _, err := broker.ParsePair(cfg.Symbol); err != nil {
		return err
	}
	if _, err := broker.ParseTimeframe(cfg.Timeframe); err != nil {
		return err
	}
	method, err := md.ParseMethod(cfg.IndicatorMethod)
	if err != nil {
		return err
	}
	if cfg.RSIPeriod < 1 || (method == md.MethodWilder && cfg.RSIPeriod < 2) {
		return fmt.Errorf("rsi-period must be >= 1 (>= 2 for wilder)")
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if cfg.TradeNotional <= 0 {
		return fmt.Errorf("trade-notional must be > 0")
	}
	if cfg.TakeProfitRatio <= 0 {
		return fmt.Errorf("take-profit-ratio must be > 0")
	}
	if cfg.MinProfit < 0 {
		return fmt.Errorf("min-profit must be >= 0")
	}
	if cfg.Oversold < 0 || cfg.Overbought > 100 || cfg.Oversold >= cfg.Overbought {
		return fmt.Errorf("need 0 <= oversold < overbought <= 100")
	}
	if cfg.MaxPositions <= 0 {
		return fmt.Errorf("max-positions must be > 0")
	}
	if cfg.DustThreshold < 0 {
		return fmt.Errorf("dust-threshold must be >= 0")
	}
	if cfg.MaxOrderNotional < 0 {
		return fmt.Errorf("max-order-notional must be >= 0")
	}
	switch cfg.Journal {
	case "csv", "both":
		if cfg.TradeLogPath == "" {
			return fmt.Errorf("trade-log-path is required for the csv journal")
		}
		if cfg.Journal == "both" && cfg.JournalDBPath == "" {
			return fmt.Errorf("journal-db-path is required for the sqlite journal")
		}
	case "sqlite":
		if cfg.JournalDBPath == "" {
			return fmt.Errorf("journal-db-path is required for the sqlite journal")
		}
	default:
		return fmt.Errorf("journal must be csv, sqlite or both")
	}
	if cfg.ReplayPnL && cfg.TradeLogPath == "" {
		return fmt.Errorf("replay-pnl needs trade-log-path")
	}
	if cfg.PositionsPath == "" || cfg.LockPath == "" {
		return fmt.Errorf("positions-path and lock-path are required")
	}
	switch cfg.Dashboard {
	case "console", "log", "off":
	default:
		return fmt.Errorf("dashboard must be console, log or off")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.RetryLimit < 0 || cfg.RetryDelay < 0 {
		return fmt.Errorf("retry-limit and retry-delay must be >= 0")
	}
	if cfg.Mode == ModeSim && cfg.SimStartPrice <= 0 {
		return fmt.Errorf("sim-start-price must be > 0")
	}
	return nil
}

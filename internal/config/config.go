// Package config handles application configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/your-org/dca-drawdown-sim/internal/simerr"
	"gopkg.in/yaml.v3"
)

// Sizing bases for the invested amount of a buy.
const (
	SizingFiat    = "fiat"
	SizingInitial = "initial"
)

// Tie-break policies applied when technical and advisory directions disagree.
const (
	TieBreakTechnical        = "technical"
	TieBreakHigherConfidence = "higher_confidence"
)

// Price store backends.
const (
	BackendRedis = "redis"
	BackendCSV   = "csv"
)

// Config defines the structure for all application configuration.
// It is immutable for the lifetime of a run.
type Config struct {
	LogLevel   string         `yaml:"log_level" env:"LOG_LEVEL, overwrite"`
	DataDir    string         `yaml:"data_dir" env:"SIM_DATA_DIR, overwrite"`
	Strategy   StrategyConf   `yaml:"strategy"`
	Decision   DecisionConf   `yaml:"decision"`
	Advisory   AdvisoryConf   `yaml:"advisory"`
	Store      StoreConf      `yaml:"store"`
	Checkpoint CheckpointConf `yaml:"checkpoint"`
	Database   DatabaseConf   `yaml:"database"`
	Status     StatusConf     `yaml:"status"`
	Discord    DiscordConfig  `yaml:"discord"`
}

// StrategyConf holds the DCA drawdown strategy parameters. Percentages are
// expressed in percent units (3 means 3%).
type StrategyConf struct {
	InitialBalance          float64 `yaml:"initial_balance" env:"SIM_INITIAL_BALANCE, overwrite"`
	TradePercentage         float64 `yaml:"trade_percentage" env:"SIM_TRADE_PERCENTAGE, overwrite"`
	SizingBasis             string  `yaml:"sizing_basis" env:"SIM_SIZING_BASIS, overwrite"`
	DropThresholdPct        float64 `yaml:"drop_threshold_pct" env:"SIM_DROP_THRESHOLD_PCT, overwrite"`
	DropsRequired           int     `yaml:"drops_required" env:"SIM_DROPS_REQUIRED, overwrite"`
	TakeProfitPct           float64 `yaml:"take_profit_pct" env:"SIM_TAKE_PROFIT_PCT, overwrite"`
	MaxAccumulatedOrders    int     `yaml:"max_accumulated_orders" env:"SIM_MAX_ACCUMULATED_ORDERS, overwrite"`
	MinAccumulatedProfitPct float64 `yaml:"min_accumulated_profit_pct" env:"SIM_MIN_ACCUMULATED_PROFIT_PCT, overwrite"`
	CapitalLimitPct         float64 `yaml:"capital_limit_pct" env:"SIM_CAPITAL_LIMIT_PCT, overwrite"`
}

// DecisionConf configures the hybrid decision combiner.
type DecisionConf struct {
	MinConfidence      float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE, overwrite"`
	TieBreak           string  `yaml:"tie_break" env:"SIM_TIE_BREAK, overwrite"`
	DisagreementMargin float64 `yaml:"disagreement_margin" env:"SIM_DISAGREEMENT_MARGIN, overwrite"`
	Window             int     `yaml:"window" env:"SIM_SIGNAL_WINDOW, overwrite"`
}

// AdvisoryConf configures the advisory oracle client.
type AdvisoryConf struct {
	Enabled     FlexBool `yaml:"enabled" env:"LLM_ENABLED, overwrite"`
	Endpoint    string   `yaml:"endpoint" env:"LLM_BASE_URL, overwrite"`
	Model       string   `yaml:"model" env:"LLM_MODEL, overwrite"`
	Timeout     Duration `yaml:"timeout" env:"LLM_TIMEOUT, overwrite"`
	MaxTokens   int      `yaml:"max_tokens" env:"LLM_MAX_TOKENS, overwrite"`
	Temperature float64  `yaml:"temperature" env:"LLM_TEMPERATURE, overwrite"`
	Weight      float64  `yaml:"weight" env:"LLM_WEIGHT, overwrite"`
}

// StoreConf configures the price store behind the cursor.
type StoreConf struct {
	Backend    string   `yaml:"backend" env:"SIM_STORE_BACKEND, overwrite"`
	RedisURL   string   `yaml:"redis_url" env:"REDIS_URL, overwrite"`
	KeyPrefix  string   `yaml:"key_prefix" env:"REDIS_KEY_PREFIX, overwrite"`
	CSVPath    string   `yaml:"csv_path" env:"SIM_CSV_PATH, overwrite"`
	Retries    int      `yaml:"retries" env:"REDIS_MAX_RETRIES, overwrite"`
	RetryDelay Duration `yaml:"retry_delay" env:"REDIS_RETRY_DELAY, overwrite"`
	Timeout    Duration `yaml:"timeout" env:"REDIS_TIMEOUT, overwrite"`
	MaxGap     int      `yaml:"max_gap" env:"SIM_MAX_GAP, overwrite"`
	MaxTicks   int      `yaml:"max_ticks" env:"SIM_MAX_TICKS, overwrite"`
}

// CheckpointConf configures snapshot persistence and the liveness marker.
type CheckpointConf struct {
	File       string   `yaml:"file" env:"SIM_CHECKPOINT_FILE, overwrite"`
	PIDFile    string   `yaml:"pid_file" env:"SIM_PID_FILE, overwrite"`
	Interval   Duration `yaml:"interval" env:"SIM_CHECKPOINT_INTERVAL, overwrite"`
	LedgerTail int      `yaml:"ledger_tail" env:"SIM_LEDGER_TAIL, overwrite"`
}

// DatabaseConf configures the optional Postgres ledger sink.
type DatabaseConf struct {
	URL           string   `yaml:"-" env:"DATABASE_URL, overwrite"`
	BatchSize     int      `yaml:"batch_size" env:"DB_BATCH_SIZE, overwrite"`
	WriteInterval Duration `yaml:"write_interval" env:"DB_WRITE_INTERVAL, overwrite"`
	Migrate       FlexBool `yaml:"migrate" env:"DB_MIGRATE, overwrite"`
}

// StatusConf configures the optional status HTTP server of a running instance.
type StatusConf struct {
	Addr           string   `yaml:"addr" env:"SIM_STATUS_ADDR, overwrite"`
	StreamInterval Duration `yaml:"stream_interval" env:"SIM_STREAM_INTERVAL, overwrite"`
}

// DiscordConfig holds the Discord alert settings. Credentials only come from env.
type DiscordConfig struct {
	BotToken       string   `yaml:"-" env:"DISCORD_BOT_TOKEN, overwrite"`
	UserID         string   `yaml:"-" env:"DISCORD_USER_ID, overwrite"`
	BufferInterval Duration `yaml:"buffer_interval" env:"DISCORD_BUFFER_INTERVAL, overwrite"`
}

// Default returns the configuration used when no file or env override is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  ".",
		Strategy: StrategyConf{
			InitialBalance:          100,
			TradePercentage:         5,
			SizingBasis:             SizingFiat,
			DropThresholdPct:        3,
			DropsRequired:           3,
			TakeProfitPct:           6,
			MaxAccumulatedOrders:    10,
			MinAccumulatedProfitPct: 1,
			CapitalLimitPct:         90,
		},
		Decision: DecisionConf{
			MinConfidence:      0.6,
			TieBreak:           TieBreakTechnical,
			DisagreementMargin: 0.1,
			Window:             50,
		},
		Advisory: AdvisoryConf{
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2",
			Timeout:     Duration(30 * time.Second),
			MaxTokens:   256,
			Temperature: 0.3,
			Weight:      0.7,
		},
		Store: StoreConf{
			Backend:    BackendRedis,
			RedisURL:   "redis://127.0.0.1:6379/0",
			KeyPrefix:  "btc_",
			Retries:    3,
			RetryDelay: Duration(time.Second),
			Timeout:    Duration(5 * time.Second),
			MaxGap:     1000,
		},
		Checkpoint: CheckpointConf{
			File:     "simulation_state.json",
			PIDFile:  "simulation.pid",
			Interval: Duration(30 * time.Second),
		},
		Database: DatabaseConf{
			BatchSize:     100,
			WriteInterval: Duration(5 * time.Second),
			Migrate:       true,
		},
		Status: StatusConf{
			StreamInterval: Duration(2 * time.Second),
		},
		Discord: DiscordConfig{
			BufferInterval: Duration(time.Minute),
		},
	}
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables. An empty path skips the file.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		file, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w: %v", simerr.ErrConfig, err)
		}
	}

	// A .env file in the working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w: %v", simerr.ErrConfig, err)
	}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w: %v", simerr.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range or inconsistent parameters. Every error wraps simerr.ErrConfig.
func (c *Config) Validate() error {
	s := c.Strategy
	checks := []struct {
		ok  bool
		msg string
	}{
		{s.InitialBalance > 0, "strategy.initial_balance must be positive"},
		{s.TradePercentage > 0 && s.TradePercentage <= 100, "strategy.trade_percentage must be in (0,100]"},
		{s.SizingBasis == SizingFiat || s.SizingBasis == SizingInitial, "strategy.sizing_basis must be fiat or initial"},
		{s.DropThresholdPct > 0 && s.DropThresholdPct < 50, "strategy.drop_threshold_pct must be in (0,50)"},
		{s.DropsRequired >= 1, "strategy.drops_required must be at least 1"},
		{s.TakeProfitPct > 0, "strategy.take_profit_pct must be positive"},
		{s.MaxAccumulatedOrders >= 1, "strategy.max_accumulated_orders must be at least 1"},
		{s.MinAccumulatedProfitPct > 0, "strategy.min_accumulated_profit_pct must be positive"},
		{s.MinAccumulatedProfitPct < s.TakeProfitPct, "strategy.min_accumulated_profit_pct must be below take_profit_pct"},
		{s.CapitalLimitPct > 0 && s.CapitalLimitPct <= 100, "strategy.capital_limit_pct must be in (0,100]"},
		{inUnit(c.Decision.MinConfidence), "decision.min_confidence must be in [0,1]"},
		{inUnit(c.Decision.DisagreementMargin), "decision.disagreement_margin must be in [0,1]"},
		{c.Decision.TieBreak == TieBreakTechnical || c.Decision.TieBreak == TieBreakHigherConfidence, "decision.tie_break must be technical or higher_confidence"},
		{c.Decision.Window >= 10, "decision.window must be at least 10"},
		{inUnit(c.Advisory.Weight), "advisory.weight must be in [0,1]"},
		{!bool(c.Advisory.Enabled) || c.Advisory.Timeout > 0, "advisory.timeout must be positive"},
		{c.Store.Backend == BackendRedis || c.Store.Backend == BackendCSV, "store.backend must be redis or csv"},
		{c.Store.Backend != BackendCSV || c.Store.CSVPath != "", "store.csv_path is required for the csv backend"},
		{c.Store.Retries >= 0, "store.retries must not be negative"},
		{c.Store.MaxGap >= 1, "store.max_gap must be at least 1"},
		{c.Store.MaxTicks >= 0, "store.max_ticks must not be negative"},
		{c.Checkpoint.Interval > 0, "checkpoint.interval must be positive"},
		{c.Checkpoint.LedgerTail >= 0, "checkpoint.ledger_tail must not be negative"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", simerr.ErrConfig, chk.msg)
		}
	}
	return nil
}

// CheckpointPath returns the checkpoint file location under DataDir.
func (c *Config) CheckpointPath() string {
	return c.resolve(c.Checkpoint.File)
}

// PIDPath returns the liveness marker location under DataDir.
func (c *Config) PIDPath() string {
	return c.resolve(c.Checkpoint.PIDFile)
}

// LogDir returns the directory holding the daily JSON logs.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Tinkoff   TinkoffConfig   `yaml:"tinkoff"`
	AI        AIConfig        `yaml:"ai"`
	Trading   TradingConfig   `yaml:"trading"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Debate    DebateConfig    `yaml:"debate"`
	Decision  DecisionConfig  `yaml:"decision"`
	Risk      RiskConfig      `yaml:"risk"`
	State     StateConfig     `yaml:"state"`
	Retry     RetryConfig     `yaml:"retry"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type TinkoffConfig struct {
	Token          string `yaml:"token"`
	Sandbox        bool   `yaml:"sandbox"`
	AccountID      string `yaml:"account_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AIConfig struct {
	Provider          string `yaml:"provider"` // openai, deepseek, ollama, rules
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	Model             string `yaml:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type TradingConfig struct {
	Symbols           []string `yaml:"symbols"`
	StartingCash      float64  `yaml:"starting_cash"`
	DryRun            bool     `yaml:"dry_run"`
	Broker            string   `yaml:"broker"`        // tinkoff or paper
	WatchlistTop      int      `yaml:"watchlist_top"` // add the N most traded MOEX shares
	MarketData        string   `yaml:"market_data"`   // tinkoff or moex
	CandleConcurrency int      `yaml:"candle_concurrency"`
}

type PipelineConfig struct {
	Analysts             []string `yaml:"analysts"`
	SymbolConcurrency    int      `yaml:"symbol_concurrency"`
	CycleTimeoutSeconds  int      `yaml:"cycle_timeout_seconds"`
	HoldOnAnalystFailure *bool    `yaml:"hold_on_analyst_failure"`
	CycleBucket          string   `yaml:"cycle_bucket"`
}

type DebateConfig struct {
	MaxRounds            int     `yaml:"max_rounds"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	TieEpsilon           float64 `yaml:"tie_epsilon"`
}

type DecisionConfig struct {
	MinConfidence  float64 `yaml:"min_confidence"`
	MinWeight      float64 `yaml:"min_weight"`
	MaxWeight      float64 `yaml:"max_weight"`
	MaxTurnover    float64 `yaml:"max_turnover"`
	UseTraderAgent bool    `yaml:"use_trader_agent"`
}

type RiskConfig struct {
	MaxPositionPct    float64           `yaml:"max_position_pct"`
	MaxSectorPct      float64           `yaml:"max_sector_pct"`
	MinCashReservePct float64           `yaml:"min_cash_reserve_pct"`
	MaxTradesPerCycle int               `yaml:"max_trades_per_cycle"`
	MinHoldingDays    int               `yaml:"min_holding_days"`
	StopLossPct       float64           `yaml:"stop_loss_pct"`
	TakeProfitPct     float64           `yaml:"take_profit_pct"`
	MinConviction     float64           `yaml:"min_conviction"`
	Sectors           map[string]string `yaml:"sectors"`
	UseRiskAgent      bool              `yaml:"use_risk_agent"`
}

type StateConfig struct {
	Backend                string `yaml:"backend"` // memory, sqlite, redis, s3
	SQLitePath             string `yaml:"sqlite_path"`
	RedisAddr              string `yaml:"redis_addr"`
	RedisPassword          string `yaml:"redis_password"`
	RedisDB                int    `yaml:"redis_db"`
	S3Bucket               string `yaml:"s3_bucket"`
	S3Region               string `yaml:"s3_region"`
	S3Endpoint             string `yaml:"s3_endpoint"`
	Prefix                 string `yaml:"prefix"`
	TimeoutSeconds         int    `yaml:"timeout_seconds"`
	CommitAttempts         int    `yaml:"commit_attempts"`
	AppliedRetentionCycles int    `yaml:"applied_retention_cycles"`
}

type RetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	MinBackoff string `yaml:"min_backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type SchedulerConfig struct {
	Interval     string `yaml:"interval"`
	Timezone     string `yaml:"timezone"`
	SessionStart string `yaml:"session_start"`
	SessionEnd   string `yaml:"session_end"`
	Weekends     bool   `yaml:"weekends"`
}

// Load reads the YAML file, applies .env and environment overrides, defaults and validation.
// An empty path yields a config built from defaults and environment only.
func Load(path string) (*Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with override applied after the environment and before defaults,
// so command-line flags win over both the file and the environment.
func LoadWith(path string, override func(*Config)) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)
	if override != nil {
		override(cfg)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TINKOFF_TOKEN"); v != "" {
		cfg.Tinkoff.Token = v
	}
	if v := os.Getenv("TINKOFF_ACCOUNT_ID"); v != "" {
		cfg.Tinkoff.AccountID = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.State.RedisPassword = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		cfg.State.S3Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.State.S3Region = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.DryRun = b
		}
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Trading.Symbols = SplitSymbols(v)
	}
}

func setDefaults(cfg *Config) {
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case "deepseek":
			cfg.AI.Model = "deepseek-chat"
		case "ollama":
			cfg.AI.Model = "llama3.1"
		default:
			cfg.AI.Model = "gpt-4o-mini"
		}
	}
	if cfg.AI.BaseURL == "" {
		switch cfg.AI.Provider {
		case "deepseek":
			cfg.AI.BaseURL = "https://api.deepseek.com/v1"
		case "ollama":
			cfg.AI.BaseURL = "http://localhost:11434/v1"
		}
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 120
	}
	if cfg.AI.RequestsPerMinute == 0 {
		cfg.AI.RequestsPerMinute = 60
	}
	if cfg.Tinkoff.TimeoutSeconds == 0 {
		cfg.Tinkoff.TimeoutSeconds = 30
	}
	if len(cfg.Trading.Symbols) == 0 {
		cfg.Trading.Symbols = []string{"SBER", "GAZP", "LKOH"}
	}
	if cfg.Trading.StartingCash == 0 {
		cfg.Trading.StartingCash = 100000
	}
	if cfg.Trading.Broker == "" {
		cfg.Trading.Broker = "tinkoff"
	}
	if cfg.Trading.MarketData == "" {
		cfg.Trading.MarketData = "moex"
	}
	if cfg.Trading.CandleConcurrency == 0 {
		cfg.Trading.CandleConcurrency = 10
	}
	if len(cfg.Pipeline.Analysts) == 0 {
		cfg.Pipeline.Analysts = []string{"market", "fundamental", "sentiment", "news"}
	}
	if cfg.Pipeline.SymbolConcurrency == 0 {
		cfg.Pipeline.SymbolConcurrency = 4
	}
	if cfg.Pipeline.CycleTimeoutSeconds == 0 {
		cfg.Pipeline.CycleTimeoutSeconds = 900
	}
	if cfg.Pipeline.HoldOnAnalystFailure == nil {
		hold := true
		cfg.Pipeline.HoldOnAnalystFailure = &hold
	}
	if cfg.Pipeline.CycleBucket == "" {
		cfg.Pipeline.CycleBucket = "1h"
	}
	if cfg.Debate.MaxRounds == 0 {
		cfg.Debate.MaxRounds = 2
	}
	if cfg.Debate.ConvergenceThreshold == 0 {
		cfg.Debate.ConvergenceThreshold = 0.05
	}
	if cfg.Debate.TieEpsilon == 0 {
		cfg.Debate.TieEpsilon = 0.1
	}
	if cfg.Decision.MinConfidence == 0 {
		cfg.Decision.MinConfidence = 0.55
	}
	if cfg.Decision.MinWeight == 0 {
		cfg.Decision.MinWeight = 0.02
	}
	if cfg.Decision.MaxWeight == 0 {
		cfg.Decision.MaxWeight = 0.10
	}
	if cfg.Decision.MaxTurnover == 0 {
		cfg.Decision.MaxTurnover = 0.15
	}
	if cfg.Risk.MaxPositionPct == 0 {
		cfg.Risk.MaxPositionPct = 10
	}
	if cfg.Risk.MaxSectorPct == 0 {
		cfg.Risk.MaxSectorPct = 30
	}
	if cfg.Risk.MinCashReservePct == 0 {
		cfg.Risk.MinCashReservePct = 5
	}
	if cfg.Risk.MaxTradesPerCycle == 0 {
		cfg.Risk.MaxTradesPerCycle = 10
	}
	if cfg.Risk.StopLossPct == 0 {
		cfg.Risk.StopLossPct = 15
	}
	if cfg.Risk.TakeProfitPct == 0 {
		cfg.Risk.TakeProfitPct = 30
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/mintrader.db"
	}
	if cfg.State.RedisAddr == "" {
		cfg.State.RedisAddr = "localhost:6379"
	}
	if cfg.State.S3Region == "" {
		cfg.State.S3Region = "us-east-1"
	}
	if cfg.State.TimeoutSeconds == 0 {
		cfg.State.TimeoutSeconds = 15
	}
	if cfg.State.CommitAttempts == 0 {
		cfg.State.CommitAttempts = 5
	}
	if cfg.State.AppliedRetentionCycles == 0 {
		cfg.State.AppliedRetentionCycles = 20
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.MinBackoff == "" {
		cfg.Retry.MinBackoff = "500ms"
	}
	if cfg.Retry.MaxBackoff == "" {
		cfg.Retry.MaxBackoff = "5s"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "1h"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Europe/Moscow"
	}
	if cfg.Scheduler.SessionStart == "" {
		cfg.Scheduler.SessionStart = "10:00"
	}
	if cfg.Scheduler.SessionEnd == "" {
		cfg.Scheduler.SessionEnd = "18:50"
	}
}

func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "openai", "deepseek":
		if c.AI.APIKey == "" {
			return fmt.Errorf("ai.api_key is required for provider %q", c.AI.Provider)
		}
	case "ollama", "rules":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	switch c.Trading.Broker {
	case "tinkoff":
		if !c.Trading.DryRun && c.Tinkoff.Token == "" {
			return fmt.Errorf("tinkoff.token is required for live trading")
		}
	case "paper":
	default:
		return fmt.Errorf("unknown trading.broker %q", c.Trading.Broker)
	}
	if c.Trading.MarketData == "tinkoff" && c.Tinkoff.Token == "" {
		return fmt.Errorf("tinkoff.token is required for tinkoff market data")
	}
	if c.Trading.StartingCash < 0 {
		return fmt.Errorf("trading.starting_cash must not be negative")
	}
	switch c.State.Backend {
	case "memory", "sqlite", "redis":
	case "s3":
		if c.State.S3Bucket == "" {
			return fmt.Errorf("state.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown state.backend %q", c.State.Backend)
	}
	if c.Decision.MinWeight > c.Decision.MaxWeight {
		return fmt.Errorf("decision.min_weight must not exceed decision.max_weight")
	}
	if c.Debate.MaxRounds < 0 {
		return fmt.Errorf("debate.max_rounds must not be negative")
	}
	bucket, err := time.ParseDuration(c.Pipeline.CycleBucket)
	if err != nil {
		return fmt.Errorf("invalid pipeline.cycle_bucket %q: %w", c.Pipeline.CycleBucket, err)
	}
	// cycle ids have minute resolution
	if bucket < time.Minute {
		return fmt.Errorf("pipeline.cycle_bucket must be at least 1m, got %s", bucket)
	}
	if c.Pipeline.CycleTimeoutSeconds < 0 {
		return fmt.Errorf("pipeline.cycle_timeout_seconds must not be negative")
	}
	if c.Risk.StopLossPct < 0 || c.Risk.TakeProfitPct < 0 {
		return fmt.Errorf("risk.stop_loss_pct and risk.take_profit_pct must not be negative")
	}
	if _, err := time.ParseDuration(c.Scheduler.Interval); err != nil {
		return fmt.Errorf("invalid scheduler.interval %q: %w", c.Scheduler.Interval, err)
	}
	for _, hhmm := range []string{c.Scheduler.SessionStart, c.Scheduler.SessionEnd} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid scheduler session time %q: %w", hhmm, err)
		}
	}
	if _, err := time.ParseDuration(c.Retry.MinBackoff); err != nil {
		return fmt.Errorf("invalid retry.min_backoff %q: %w", c.Retry.MinBackoff, err)
	}
	if _, err := time.ParseDuration(c.Retry.MaxBackoff); err != nil {
		return fmt.Errorf("invalid retry.max_backoff %q: %w", c.Retry.MaxBackoff, err)
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) IsSandbox() bool {
	return c.Tinkoff.Sandbox
}

func (c *Config) HoldOnAnalystFailure() bool {
	return c.Pipeline.HoldOnAnalystFailure == nil || *c.Pipeline.HoldOnAnalystFailure
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (c *Config) SchedulerInterval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.Interval)
	return d
}

func (c *Config) CycleBucket() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.CycleBucket)
	return d
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Tinkoff.TimeoutSeconds) * time.Second
}

func (c *Config) StateTimeout() time.Duration {
	return time.Duration(c.State.TimeoutSeconds) * time.Second
}

func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Pipeline.CycleTimeoutSeconds) * time.Second
}

func (c *Config) MinBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Retry.MinBackoff)
	return d
}

func (c *Config) MaxBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Retry.MaxBackoff)
	return d
}

// SplitSymbols parses a comma-separated symbol list, upper-casing and dropping blanks.
func SplitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

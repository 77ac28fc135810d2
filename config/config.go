package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tickreplay/internal/adapters/logger"
	"tickreplay/internal/engine"
)

// Tick source backends.
const (
	SourceSQLite     = "sqlite"
	SourceClickHouse = "clickhouse"
)

// Config holds the environment-level application configuration: where ticks
// live and how to talk to the backend. Run parameters live in the YAML run
// file (RunConfig).
type Config struct {
	TickSource string // "sqlite" or "clickhouse"

	// SQLite
	DBPath string

	// ClickHouse
	ClickHouseAddr     []string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string

	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.TickSource = strings.ToLower(getEnv("TICK_SOURCE", SourceSQLite))
	switch cfg.TickSource {
	case SourceSQLite, SourceClickHouse:
	default:
		errs = append(errs, fmt.Sprintf("TICK_SOURCE must be %q or %q, got %q", SourceSQLite, SourceClickHouse, cfg.TickSource))
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/ticks.db")
	if cfg.TickSource == SourceSQLite && cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set for the sqlite tick source")
	}

	addr := getEnv("CLICKHOUSE_ADDR", "localhost:9000")
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			cfg.ClickHouseAddr = append(cfg.ClickHouseAddr, a)
		}
	}
	cfg.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "ticks")
	cfg.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	cfg.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")
	if cfg.TickSource == SourceClickHouse && len(cfg.ClickHouseAddr) == 0 {
		errs = append(errs, "CLICKHOUSE_ADDR must be set for the clickhouse tick source")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// RunConfig is the YAML file describing one backtest run. Money and rate
// fields are strings so they parse as exact decimals, never binary floats.
type RunConfig struct {
	Symbols           []string       `yaml:"symbols"`
	StartDate         string         `yaml:"start_date"`
	EndDate           string         `yaml:"end_date"`
	InitialCapital    string         `yaml:"initial_capital"`
	PositionFraction  string         `yaml:"position_fraction"`
	StopLossPct       string         `yaml:"stop_loss_pct"`
	TakeProfitPct     string         `yaml:"take_profit_pct"`
	MaxHoldingMinutes int            `yaml:"max_holding_minutes"`
	LiquidateAtEnd    *bool          `yaml:"liquidate_at_end"` // default true
	Costs             CostsConfig    `yaml:"costs"`
	Strategy          StrategyConfig `yaml:"strategy"`
}

// CostsConfig mirrors engine.CostConfig in YAML-friendly string form.
// Empty fields fall back to the standard A-share retail schedule.
type CostsConfig struct {
	CommissionRate  string `yaml:"commission_rate"`
	MinCommission   string `yaml:"min_commission"`
	StampDutyRate   string `yaml:"stamp_duty_rate"`
	TransferFeeRate string `yaml:"transfer_fee_rate"`
	SlippageBps     string `yaml:"slippage_bps"`
}

// StrategyConfig names the signal generator and its parameters.
type StrategyConfig struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

// LoadRunConfig reads and decodes a YAML run file.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run config %s: %w", path, err)
	}
	var rc RunConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	return &rc, nil
}

// EngineConfig converts the run file into a validated engine configuration.
// All parse failures are collected and reported together.
func (rc *RunConfig) EngineConfig() (engine.Config, error) {
	var errs []string

	parse := func(field, value, def string) decimal.Decimal {
		if value == "" {
			value = def
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s %q", field, value))
		}
		return d
	}

	cfg := engine.Config{
		Symbols:          rc.Symbols,
		StartDate:        rc.StartDate,
		EndDate:          rc.EndDate,
		InitialCapital:   parse("initial_capital", rc.InitialCapital, "0"),
		PositionFraction: parse("position_fraction", rc.PositionFraction, "1"),
		StopLossPct:      parse("stop_loss_pct", rc.StopLossPct, "0.02"),
		TakeProfitPct:    parse("take_profit_pct", rc.TakeProfitPct, "0.05"),
		MaxHolding:       time.Duration(rc.MaxHoldingMinutes) * time.Minute,
		LiquidateAtEnd:   rc.LiquidateAtEnd == nil || *rc.LiquidateAtEnd,
	}
	if rc.MaxHoldingMinutes < 0 {
		errs = append(errs, "max_holding_minutes cannot be negative")
	}

	defaults := engine.DefaultCostConfig()
	cfg.Costs = engine.CostConfig{
		CommissionRate:  parse("costs.commission_rate", rc.Costs.CommissionRate, defaults.CommissionRate.String()),
		MinCommission:   parse("costs.min_commission", rc.Costs.MinCommission, defaults.MinCommission.String()),
		StampDutyRate:   parse("costs.stamp_duty_rate", rc.Costs.StampDutyRate, defaults.StampDutyRate.String()),
		TransferFeeRate: parse("costs.transfer_fee_rate", rc.Costs.TransferFeeRate, defaults.TransferFeeRate.String()),
		SlippageBps:     parse("costs.slippage_bps", rc.Costs.SlippageBps, defaults.SlippageBps.String()),
	}

	if rc.Strategy.Name == "" {
		errs = append(errs, "strategy.name must be set")
	}
	if len(errs) > 0 {
		return engine.Config{}, fmt.Errorf("run config validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

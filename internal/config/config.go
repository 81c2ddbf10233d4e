package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/usecase"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		Name              string  `yaml:"name"`
		APIKey            string  `yaml:"api_key"`
		APISecret         string  `yaml:"api_secret"`
		WSEndpoint        string  `yaml:"ws_endpoint"`
		RESTEndpoint      string  `yaml:"rest_endpoint"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"exchange"`

	Strategy struct {
		Symbol               string  `yaml:"symbol"`
		Interval             string  `yaml:"interval"`
		PositionLabel        string  `yaml:"position_label"`
		RiskPercentPerTrade  float64 `yaml:"risk_percent_per_trade"`
		StopLossUnit         string  `yaml:"stop_loss_unit"`
		StopLossDistance     float64 `yaml:"stop_loss_distance"`
		StopLossMultiplier   float64 `yaml:"stop_loss_multiplier"`
		TakeProfitMultiplier float64 `yaml:"take_profit_multiplier"`
		MaxAllowedSpread     float64 `yaml:"max_allowed_spread"`
		EntryRule            string  `yaml:"entry_rule"`
		SundayPolicy         string  `yaml:"sunday_policy"`
		SessionTimezone      string  `yaml:"session_timezone"`
		IncludesFormingBar   bool    `yaml:"includes_forming_bar"`
		HistoryBars          int     `yaml:"history_bars"`
		PositionPollSeconds  int     `yaml:"position_poll_seconds"`
	} `yaml:"strategy"`

	Paper struct {
		Enabled bool    `yaml:"enabled"`
		Balance float64 `yaml:"balance"`
	} `yaml:"paper"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	cfg := &Config{}
	cfg.Exchange.Name = "bybit"
	cfg.Exchange.RequestsPerSecond = 5

	cfg.Strategy.Interval = "D"
	cfg.Strategy.PositionLabel = "OUTSIDE_BAR"
	cfg.Strategy.RiskPercentPerTrade = 1
	cfg.Strategy.StopLossUnit = usecase.StopUnitPips
	cfg.Strategy.StopLossMultiplier = 1
	cfg.Strategy.TakeProfitMultiplier = 20
	cfg.Strategy.EntryRule = string(domain.EntryRuleStrict)
	cfg.Strategy.SundayPolicy = string(domain.SundayPolicyReopen)
	cfg.Strategy.SessionTimezone = "America/New_York"
	cfg.Strategy.HistoryBars = 3
	cfg.Strategy.PositionPollSeconds = 5

	cfg.Paper.Balance = 10000

	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	cfg.Storage.Path = "bot.db"
	return cfg
}

// Load reads path over the defaults, then applies the environment (including an optional
// .env file in the working directory) and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	s := c.Strategy
	switch {
	case s.Symbol == "":
		return errors.New("strategy.symbol is required")
	case s.Interval == "":
		return errors.New("strategy.interval is required")
	case s.PositionLabel == "":
		return errors.New("strategy.position_label is required")
	case s.RiskPercentPerTrade <= 0 || s.RiskPercentPerTrade > 100:
		return fmt.Errorf("strategy.risk_percent_per_trade %v not in (0,100]", s.RiskPercentPerTrade)
	case s.StopLossDistance <= 0:
		return fmt.Errorf("strategy.stop_loss_distance %v must be positive", s.StopLossDistance)
	case s.StopLossMultiplier <= 0:
		return fmt.Errorf("strategy.stop_loss_multiplier %v must be positive", s.StopLossMultiplier)
	case s.TakeProfitMultiplier < 0:
		return fmt.Errorf("strategy.take_profit_multiplier %v must not be negative", s.TakeProfitMultiplier)
	case s.StopLossUnit != usecase.StopUnitPips && s.StopLossUnit != usecase.StopUnitPrice:
		return fmt.Errorf("strategy.stop_loss_unit %q: want %q or %q", s.StopLossUnit, usecase.StopUnitPips, usecase.StopUnitPrice)
	case s.EntryRule != string(domain.EntryRuleStrict) && s.EntryRule != string(domain.EntryRuleLegacy):
		return fmt.Errorf("strategy.entry_rule %q: want strict or legacy", s.EntryRule)
	case s.SundayPolicy != string(domain.SundayPolicyReopen) && s.SundayPolicy != string(domain.SundayPolicyLegacy):
		return fmt.Errorf("strategy.sunday_policy %q: want reopen or legacy", s.SundayPolicy)
	}
	if _, err := time.LoadLocation(s.SessionTimezone); err != nil {
		return fmt.Errorf("strategy.session_timezone: %w", err)
	}
	if c.Paper.Enabled {
		if c.Paper.Balance <= 0 {
			return fmt.Errorf("paper.balance %v must be positive", c.Paper.Balance)
		}
	} else if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return errors.New("exchange api_key and api_secret are required unless paper.enabled")
	}
	return nil
}

// Location is the session timezone the calendar gate evaluates weekdays in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Strategy.SessionTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) EngineConfig() usecase.EngineConfig {
	s := c.Strategy
	return usecase.EngineConfig{
		Symbol:               s.Symbol,
		Label:                s.PositionLabel,
		RiskPercent:          decimal.NewFromFloat(s.RiskPercentPerTrade),
		StopLossUnit:         s.StopLossUnit,
		StopLossDistance:     decimal.NewFromFloat(s.StopLossDistance),
		StopLossMultiplier:   decimal.NewFromFloat(s.StopLossMultiplier),
		TakeProfitMultiplier: decimal.NewFromFloat(s.TakeProfitMultiplier),
		MaxAllowedSpread:     decimal.NewFromFloat(s.MaxAllowedSpread),
		EntryRule:            domain.EntryRule(s.EntryRule),
	}
}

func (c *Config) RunnerConfig() usecase.RunnerConfig {
	return usecase.RunnerConfig{
		Symbol:      c.Strategy.Symbol,
		Interval:    c.Strategy.Interval,
		HistoryBars: c.Strategy.HistoryBars,
	}
}

func (c *Config) PositionPollInterval() time.Duration {
	if c.Strategy.PositionPollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Strategy.PositionPollSeconds) * time.Second
}

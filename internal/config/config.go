package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
	"gopkg.in/yaml.v3"
)

type TakeProfitSeed struct {
	Percentage     float64 `yaml:"percentage"`
	InitialBalance float64 `yaml:"initial_balance"`
}

type RetrySeed struct {
	MaxRetry               int     `yaml:"max_retry"`
	VolumeReductionPercent float64 `yaml:"volume_reduction_percent"`
	Enabled                bool    `yaml:"enabled"`
}

type AccountConfig struct {
	UserID       string `yaml:"user_id"`
	Exchange     string `yaml:"exchange"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
	Testnet      bool   `yaml:"testnet"`
	ChatID       int64  `yaml:"chat_id"`

	// Written to the store on startup when the account has none yet.
	TakeProfit *TakeProfitSeed `yaml:"take_profit"`
	Retry      *RetrySeed      `yaml:"retry"`
}

type Config struct {
	DryRun   bool            `yaml:"dry_run"`
	Accounts []AccountConfig `yaml:"accounts"`

	Scheduler struct {
		TPScan      string `yaml:"tp_scan"`
		ReentryScan string `yaml:"reentry_scan"`
	} `yaml:"scheduler"`

	Gate usecase.GateConfig `yaml:"gate"`

	Evaluator struct {
		MinPositionProfitPct float64 `yaml:"min_position_profit_pct"`
	} `yaml:"evaluator"`

	Exchange struct {
		CallTimeout time.Duration `yaml:"call_timeout"`
	} `yaml:"exchange"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`

	Notify struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"notify"`
}

func Default() *Config {
	cfg := &Config{Gate: usecase.DefaultGateConfig()}
	cfg.Scheduler.TPScan = "@every 30s"
	cfg.Scheduler.ReentryScan = "@every 15s"
	cfg.Evaluator.MinPositionProfitPct = usecase.DefaultMinPositionProfitPct
	cfg.Exchange.CallTimeout = 5 * time.Second
	cfg.Storage.Path = "bot.db"
	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	cfg.Notify.Enabled = true
	return cfg
}

// Load reads the YAML file at path on top of the defaults. A .env file next to
// the binary, if present, is loaded first; ${VAR} references in the YAML are
// expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var supportedExchanges = map[string]bool{"binance": true, "bybit": true}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("config: no accounts configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.UserID == "" {
			return fmt.Errorf("config: accounts[%d]: user_id is required", i)
		}
		if !supportedExchanges[acc.Exchange] {
			return fmt.Errorf("config: accounts[%d]: unsupported exchange %q", i, acc.Exchange)
		}
		key := acc.UserID + "@" + acc.Exchange
		if seen[key] {
			return fmt.Errorf("config: accounts[%d]: duplicate account %s", i, key)
		}
		seen[key] = true
	}

	if c.Scheduler.TPScan == "" || c.Scheduler.ReentryScan == "" {
		return errors.New("config: scheduler.tp_scan and scheduler.reentry_scan are required")
	}

	g := c.Gate
	if g.MinPullbackPct < 0 || g.MinPullbackPct > g.MaxPullbackPct {
		return fmt.Errorf("config: gate pullback range [%v, %v] is invalid", g.MinPullbackPct, g.MaxPullbackPct)
	}
	if g.FastEMA <= 0 || g.FastEMA >= g.SlowEMA {
		return fmt.Errorf("config: gate fast_ema (%d) must be positive and below slow_ema (%d)", g.FastEMA, g.SlowEMA)
	}
	if g.MinCandles < g.SlowEMA {
		return fmt.Errorf("config: gate min_candles (%d) must cover slow_ema (%d)", g.MinCandles, g.SlowEMA)
	}
	if g.CandleLimit < g.MinCandles {
		return fmt.Errorf("config: gate candle_limit (%d) below min_candles (%d)", g.CandleLimit, g.MinCandles)
	}
	if g.CandleInterval == "" {
		return errors.New("config: gate candle_interval is required")
	}

	if c.Exchange.CallTimeout <= 0 {
		return errors.New("config: exchange.call_timeout must be positive")
	}
	return nil
}

// Seeds converts the account's optional settings into domain values.
func (a AccountConfig) Seeds() (*domain.TakeProfitConfig, *domain.RetryPolicy) {
	var tp *domain.TakeProfitConfig
	if a.TakeProfit != nil {
		tp = &domain.TakeProfitConfig{
			UserID:         a.UserID,
			Exchange:       a.Exchange,
			Percentage:     a.TakeProfit.Percentage,
			InitialBalance: a.TakeProfit.InitialBalance,
		}
	}
	var policy *domain.RetryPolicy
	if a.Retry != nil {
		policy = &domain.RetryPolicy{
			UserID:                 a.UserID,
			Exchange:               a.Exchange,
			MaxRetry:               a.Retry.MaxRetry,
			VolumeReductionPercent: a.Retry.VolumeReductionPercent,
			Enabled:                a.Retry.Enabled,
		}
	}
	return tp, policy
}

func (a AccountConfig) Account() domain.Account {
	return domain.Account{UserID: a.UserID, Exchange: a.Exchange}
}

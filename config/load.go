package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trade-exec-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string                 `yaml:"env"`
	Log       logger.Config          `yaml:"log"`
	Store     StoreConfig            `yaml:"store"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Monitor   MonitorConfig          `yaml:"monitor"`
	Execution ExecutionConfig        `yaml:"execution"`
	Bracket   BracketConfig          `yaml:"bracket"`
	Twap      TwapConfig             `yaml:"twap"`
	Venues    map[string]VenueConfig `yaml:"venues"`
}

// StoreConfig 持久化存储路径。
type StoreConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 空则不启 /metrics
}

type MonitorConfig struct {
	Addr string `yaml:"addr"` // 空则不启 WebSocket 事件推送
}

// ExecutionConfig 执行服务限额，支持热更新。
type ExecutionConfig struct {
	MaxOrderNotional   float64 `yaml:"maxOrderNotional"`   // 单笔名义上限
	DefaultMaxSlippage float64 `yaml:"defaultMaxSlippage"` // 保护单默认滑点阈值
	SlippageBuffer     float64 `yaml:"slippageBuffer"`     // 保护单转限价时的价格缓冲
	ConvertToLimit     bool    `yaml:"convertToLimit"`     // 保护单是否转限价而非市价
	DryRun             bool    `yaml:"dryRun"`             // 干跑模式，只验证不下单
}

// BracketConfig OCO bracket 默认参数。
type BracketConfig struct {
	PollIntervalMs   int `yaml:"pollIntervalMs"`
	MissingPollLimit int `yaml:"missingPollLimit"` // 连续整体失踪多少轮视为市场已结算
}

// TwapConfig TWAP 默认参数。
type TwapConfig struct {
	IntervalMs    int     `yaml:"intervalMs"`
	Jitter        float64 `yaml:"jitter"` // 间隔抖动比例 [0,1)
	MaxDurationMs int     `yaml:"maxDurationMs"`
}

// VenueConfig 交易场所接入凭据。
type VenueConfig struct {
	APIKey     string `yaml:"apiKey"`
	APISecret  string `yaml:"apiSecret"`
	Passphrase string `yaml:"passphrase"`
	BaseURL    string `yaml:"baseURL"`
	Paper      bool   `yaml:"paper"` // 纸面模式，走内存撮合不出网
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars if present. 形如 TE_POLYMARKET_API_KEY / TE_POLYMARKET_API_SECRET。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	for name, vc := range cfg.Venues {
		prefix := "TE_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			vc.APIKey = v
		}
		if v := os.Getenv(prefix + "API_SECRET"); v != "" {
			vc.APISecret = v
		}
		if v := os.Getenv(prefix + "PASSPHRASE"); v != "" {
			vc.Passphrase = v
		}
		cfg.Venues[name] = vc
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Execution.MaxOrderNotional <= 0 {
		return errors.New("execution.maxOrderNotional must be > 0")
	}
	if cfg.Execution.DefaultMaxSlippage <= 0 || cfg.Execution.DefaultMaxSlippage >= 1 {
		return errors.New("execution.defaultMaxSlippage must be in (0, 1)")
	}
	if cfg.Execution.SlippageBuffer < 0 {
		return errors.New("execution.slippageBuffer must be >= 0")
	}
	if len(cfg.Venues) == 0 {
		return errors.New("venues config is required")
	}
	for name, vc := range cfg.Venues {
		if vc.Paper {
			continue // 纸面场所无需凭据
		}
		if vc.APIKey == "" || vc.APISecret == "" {
			return fmt.Errorf("venue %s apiKey/apiSecret is required (or env overrides)", name)
		}
	}
	if cfg.Bracket.PollIntervalMs < 0 {
		return errors.New("bracket.pollIntervalMs must be >= 0")
	}
	if cfg.Bracket.MissingPollLimit < 0 {
		return errors.New("bracket.missingPollLimit must be >= 0")
	}
	if cfg.Twap.IntervalMs < 0 {
		return errors.New("twap.intervalMs must be >= 0")
	}
	if cfg.Twap.Jitter < 0 || cfg.Twap.Jitter >= 1 {
		return errors.New("twap.jitter must be in [0, 1)")
	}
	if cfg.Twap.MaxDurationMs < 0 {
		return errors.New("twap.maxDurationMs must be >= 0")
	}
	return nil
}

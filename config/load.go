package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"limit-engine-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Engine  EngineConfig  `yaml:"engine"`
	Feed    FeedConfig    `yaml:"feed"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging logger.Config `yaml:"logging"`
}

// EngineConfig 扫单引擎参数。Sweep/Cooldown/MaxPending 支持热更新。
type EngineConfig struct {
	DataDir             string `yaml:"dataDir"`             // 订单落盘目录
	SweepIntervalMs     int    `yaml:"sweepIntervalMs"`     // 扫单周期（毫秒）
	QuoteWindowMs       int64  `yaml:"quoteWindowMs"`       // 扫单取价窗口（毫秒）
	FillCooldownMs      int64  `yaml:"fillCooldownMs"`      // 同一 trader+instrument 两次成交的最小间隔
	MaxPendingPerTrader int    `yaml:"maxPendingPerTrader"` // 单个 trader 挂单上限
	ClosedCacheSize     int    `yaml:"closedCacheSize"`     // 每个 trader 内存保留的终态订单数
}

type FeedConfig struct {
	Endpoint    string         `yaml:"endpoint"`    // 行情 websocket 地址
	Instruments []string       `yaml:"instruments"` // 订阅的标的
	SourceRank  map[string]int `yaml:"sourceRank"`  // 来源优先级，数值越小越优先
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
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

// LoadWithEnvOverrides loads config then overrides deployment-specific fields
// from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("LE_DATA_DIR"); v != "" {
		cfg.Engine.DataDir = v
	}
	if v := os.Getenv("LE_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("LE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return cfg, Validate(cfg)
}

// Default returns the baseline config; Load overlays the YAML file on top.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Engine: EngineConfig{
			DataDir:             "data/orders",
			SweepIntervalMs:     5000,
			QuoteWindowMs:       10000,
			FillCooldownMs:      10000,
			MaxPendingPerTrader: 20,
			ClosedCacheSize:     100,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Logging: logger.DefaultConfig(),
	}
}

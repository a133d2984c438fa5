package config

import "fmt"

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.Engine.DataDir == "" {
		return ErrInvalid("engine.dataDir is required")
	}
	if cfg.Engine.SweepIntervalMs <= 0 {
		return ErrInvalid("engine.sweepIntervalMs must be > 0")
	}
	if cfg.Engine.QuoteWindowMs <= 0 {
		return ErrInvalid("engine.quoteWindowMs must be > 0")
	}
	if cfg.Engine.FillCooldownMs < 0 {
		return ErrInvalid("engine.fillCooldownMs must be >= 0")
	}
	if cfg.Engine.MaxPendingPerTrader <= 0 {
		return ErrInvalid("engine.maxPendingPerTrader must be > 0")
	}
	if cfg.Engine.ClosedCacheSize < 0 {
		return ErrInvalid("engine.closedCacheSize must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return ErrInvalid("metrics.addr is required when metrics.enabled")
	}
	for src, rank := range cfg.Feed.SourceRank {
		if rank < 0 {
			return ErrInvalid(fmt.Sprintf("feed.sourceRank[%s] must be >= 0", src))
		}
	}
	return nil
}

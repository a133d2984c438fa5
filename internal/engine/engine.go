package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"limit-engine-go/infrastructure/alert"
	"limit-engine-go/infrastructure/logger"
	"limit-engine-go/internal/persist"
	"limit-engine-go/internal/store"
	"limit-engine-go/ledger"
	"limit-engine-go/metrics"
	"limit-engine-go/order"
	"limit-engine-go/price"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置。Sweep/Cooldown/MaxPending 可通过 UpdateParams 热更新。
type Config struct {
	SweepInterval       time.Duration // 扫单周期
	QuoteWindowMs       int64         // 扫单取价窗口（毫秒）
	FillCooldownMs      int64         // 同一 trader+instrument 两次成交的最小间隔
	MaxPendingPerTrader int           // 单个 trader 挂单上限
}

// Components 引擎依赖组件
type Components struct {
	Store        *store.Store
	Locks        *store.LockManager
	Disk         *persist.FileStore
	Prices       price.Service
	Positions    ledger.PositionLedger
	AlertManager *alert.Manager
	Logger       *logger.Logger
}

// Engine 挂单撮合引擎：受理 LIMIT/BRACKET 订单，周期性对照行情扫单，
// 触发后恰好成交一次并落盘。
type Engine struct {
	// 核心组件
	store     *store.Store
	locks     *store.LockManager
	disk      *persist.FileStore
	prices    price.Service
	positions ledger.PositionLedger
	alertMgr  *alert.Manager
	logger    *logger.Logger

	// 可热更新参数
	paramMu       sync.RWMutex
	sweepInterval time.Duration
	quoteWindowMs int64
	cooldownMs    int64
	maxPending    int

	// 每个 (instrument, trader) 的最近成交时间，冷却期内不再成交
	lastFillMu sync.Mutex
	lastFill   map[store.PairKey]int64

	// 状态
	state EngineState
	mu    sync.RWMutex

	// 控制通道
	stopChan chan struct{}
	doneChan chan struct{}

	// 统计信息
	stats   Statistics
	statsMu sync.RWMutex
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime      time.Time
	TotalSweeps    int64
	TotalChecked   int64
	TotalFills     int64
	TotalImmediate int64
	TotalCancels   int64
	TotalErrors    int64
	LastSweepTime  time.Time
}

// SweepResult 单轮扫单的结果。
type SweepResult struct {
	Checked     int   // 参与判定的挂单数量
	Filled      int   // 本轮成交数量
	TimestampMs int64 // 本轮使用的判定时刻
}

// New 创建引擎
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}

	return &Engine{
		store:         components.Store,
		locks:         components.Locks,
		disk:          components.Disk,
		prices:        components.Prices,
		positions:     components.Positions,
		alertMgr:      components.AlertManager,
		logger:        components.Logger,
		sweepInterval: cfg.SweepInterval,
		quoteWindowMs: cfg.QuoteWindowMs,
		cooldownMs:    cfg.FillCooldownMs,
		maxPending:    cfg.MaxPendingPerTrader,
		lastFill:      make(map[store.PairKey]int64),
		state:         StateIdle,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}, nil
}

// Recover 从磁盘恢复挂单，启动前调用一次。
// 已淘汰 trader 的订单整体跳过并清理，单个损坏文件不中断恢复。
func (e *Engine) Recover() (int, error) {
	orders, err := e.disk.LoadAll(e.positions.IsEliminated)
	if err != nil {
		return 0, fmt.Errorf("recover orders: %w", err)
	}
	for _, o := range orders {
		e.store.Append(o)
		if o.Kind == order.KindBracket {
			e.positions.AttachBracket(o.TraderID, o.Instrument, o)
		}
	}
	// 恢复的订单按受理时间重新排序，保证扫单顺序与崩溃前一致
	e.store.SortPending()

	e.logger.Info("recovered pending orders",
		zap.Int("count", len(orders)),
		zap.Int("pairs", e.store.PairCount()))
	return len(orders), nil
}

// Start 启动引擎
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	// 从 StateStopped 复启需要重建通道
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = time.Now()
	e.statsMu.Unlock()

	e.logger.Info("order engine starting",
		zap.Duration("sweep_interval", e.sweepIntervalNow()),
		zap.Int64("quote_window_ms", e.quoteWindowNow()),
		zap.Int64("fill_cooldown_ms", e.cooldownNow()))

	go e.run(ctx)

	return nil
}

// Stop 停止引擎
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.mu.Unlock()

	e.logger.Info("order engine stopping...")

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.logger.Warn("timeout waiting for engine to stop")
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("order engine stopped")
	return nil
}

// run 主扫单循环
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.sweepIntervalNow())
	defer ticker.Stop()

	lastStatus := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("context done, stopping engine")
			return

		case <-e.stopChan:
			e.logger.Info("stop signal received")
			return

		case <-ticker.C:
			started := time.Now()
			result := e.SweepOnce(started.UnixMilli())
			metrics.SweepPasses.Inc()
			metrics.SweepDuration.Observe(time.Since(started).Seconds())
			e.logger.LogSweep(result.Checked, result.Filled, nil)

			// 每分钟输出一次运行状态
			if time.Since(lastStatus) >= time.Minute {
				stats := e.GetStatistics()
				e.logger.Info("engine status",
					zap.Int("pending_orders", e.store.TotalPending()),
					zap.Int("pair_count", e.store.PairCount()),
					zap.Int64("total_sweeps", stats.TotalSweeps),
					zap.Int64("total_fills", stats.TotalFills))
				lastStatus = time.Now()
			}

			// 热更新后的扫单周期在下一轮生效
			ticker.Reset(e.sweepIntervalNow())
		}
	}
}

// UpdateParams 热更新引擎参数，非法值保持原值。
func (e *Engine) UpdateParams(cfg Config) {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	if cfg.SweepInterval > 0 {
		e.sweepInterval = cfg.SweepInterval
	}
	if cfg.QuoteWindowMs > 0 {
		e.quoteWindowMs = cfg.QuoteWindowMs
	}
	if cfg.FillCooldownMs >= 0 {
		e.cooldownMs = cfg.FillCooldownMs
	}
	if cfg.MaxPendingPerTrader > 0 {
		e.maxPending = cfg.MaxPendingPerTrader
	}
	e.logger.Info("engine params updated",
		zap.Duration("sweep_interval", e.sweepInterval),
		zap.Int64("fill_cooldown_ms", e.cooldownMs),
		zap.Int("max_pending", e.maxPending))
}

func (e *Engine) sweepIntervalNow() time.Duration {
	e.paramMu.RLock()
	defer e.paramMu.RUnlock()
	return e.sweepInterval
}

func (e *Engine) quoteWindowNow() int64 {
	e.paramMu.RLock()
	defer e.paramMu.RUnlock()
	return e.quoteWindowMs
}

func (e *Engine) cooldownNow() int64 {
	e.paramMu.RLock()
	defer e.paramMu.RUnlock()
	return e.cooldownMs
}

func (e *Engine) maxPendingNow() int {
	e.paramMu.RLock()
	defer e.paramMu.RUnlock()
	return e.maxPending
}

// Health 健康检查快照。
type Health struct {
	State         string `json:"state"`
	PendingOrders int    `json:"pending_orders"`
	PairCount     int    `json:"pair_count"`
	LastSweepMs   int64  `json:"last_sweep_ms"`
	UptimeSec     int64  `json:"uptime_sec"`
}

// HealthCheck 返回当前健康状态。
func (e *Engine) HealthCheck() Health {
	stats := e.GetStatistics()
	var lastSweep int64
	if !stats.LastSweepTime.IsZero() {
		lastSweep = stats.LastSweepTime.UnixMilli()
	}
	var uptime int64
	if !stats.StartTime.IsZero() {
		uptime = int64(time.Since(stats.StartTime).Seconds())
	}
	return Health{
		State:         e.GetState().String(),
		PendingOrders: e.store.TotalPending(),
		PairCount:     e.store.PairCount(),
		LastSweepMs:   lastSweep,
		UptimeSec:     uptime,
	}
}

// GetState 获取引擎状态
func (e *Engine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetStatistics 获取统计信息
func (e *Engine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Engine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.SweepInterval <= 0 {
		return errors.New("sweep_interval must be > 0")
	}
	if cfg.QuoteWindowMs <= 0 {
		return errors.New("quote_window_ms must be > 0")
	}
	if cfg.FillCooldownMs < 0 {
		return errors.New("fill_cooldown_ms must be >= 0")
	}
	if cfg.MaxPendingPerTrader <= 0 {
		return errors.New("max_pending_per_trader must be > 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Store == nil {
		return errors.New("store is required")
	}
	if comp.Locks == nil {
		return errors.New("locks is required")
	}
	if comp.Disk == nil {
		return errors.New("disk store is required")
	}
	if comp.Prices == nil {
		return errors.New("price service is required")
	}
	if comp.Positions == nil {
		return errors.New("position ledger is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

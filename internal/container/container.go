package container

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"limit-engine-go/config"
	"limit-engine-go/gateway"
	"limit-engine-go/infrastructure/alert"
	"limit-engine-go/infrastructure/logger"
	"limit-engine-go/internal/engine"
	"limit-engine-go/internal/persist"
	"limit-engine-go/internal/store"
	"limit-engine-go/ledger"
	"limit-engine-go/price"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 新 trader 首次出现时的默认可用资金
const defaultBuyingPower = 100_000

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg     *config.AppConfig
	cfgPath string

	// 基础设施
	logger *logger.Logger
	alerts *alert.Manager

	// 行情
	feed    *price.Feed
	quoteWS *gateway.QuoteWS

	// 核心服务
	store     *store.Store
	locks     *store.LockManager
	disk      *persist.FileStore
	accounts  *ledger.MemoryAccounts
	positions *ledger.MemoryPositions
	engine    *engine.Engine

	// 配置热更新
	watcher *config.Watcher

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	return &Container{
		cfg:       &cfg,
		cfgPath:   configPath,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewLogChannel("engine", os.Stderr),
	}, time.Minute)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildCoreServices() error {
	c.feed = price.NewFeed(c.cfg.Feed.SourceRank)
	c.store = store.New(c.cfg.Engine.ClosedCacheSize)
	c.locks = store.NewLockManager()

	var err error
	c.disk, err = persist.NewFileStore(c.cfg.Engine.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir failed: %w", err)
	}

	c.accounts = ledger.NewMemoryAccounts(defaultBuyingPower)
	c.positions = ledger.NewMemoryPositions(c.accounts)

	c.engine, err = engine.New(engineConfig(c.cfg.Engine), engine.Components{
		Store:        c.store,
		Locks:        c.locks,
		Disk:         c.disk,
		Prices:       c.feed,
		Positions:    c.positions,
		AlertManager: c.alerts,
		Logger:       c.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}

	c.watcher, err = config.NewWatcher(c.cfgPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("watch config failed: %w", err)
	}

	c.logger.Info("core services built")
	return nil
}

func (c *Container) buildGateway() error {
	c.quoteWS = gateway.NewQuoteWS(c.cfg.Feed.Endpoint, c.feed, c.logger)
	for _, inst := range c.cfg.Feed.Instruments {
		if err := c.quoteWS.Subscribe(inst); err != nil {
			return fmt.Errorf("subscribe %s failed: %w", inst, err)
		}
	}

	c.logger.Info("gateway built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: promhttp.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	c.lifecycle.Register(&quoteFeedComponent{ws: c.quoteWS, logger: c.logger})
	c.lifecycle.Register(&engineComponent{engine: c.engine, logger: c.logger})
	c.lifecycle.Register(&watcherComponent{
		watcher: c.watcher,
		onUpdate: func(cfg config.AppConfig) {
			c.engine.UpdateParams(engineConfig(cfg.Engine))
			c.logger.Info("engine params reloaded")
		},
		onError: func(err error) {
			c.logger.LogError(err, map[string]interface{}{"action": "config_reload"})
		},
	})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	// 停机快照：记录尚未成交的挂单数量，便于核对重启后的恢复结果
	c.logger.Info(fmt.Sprintf("shutdown with %d pending orders on disk", c.store.TotalPending()))

	if c.logger != nil {
		c.logger.Close()
	}

	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 暴露引擎用于运维接口
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

func engineConfig(cfg config.EngineConfig) engine.Config {
	return engine.Config{
		SweepInterval:       time.Duration(cfg.SweepIntervalMs) * time.Millisecond,
		QuoteWindowMs:       cfg.QuoteWindowMs,
		FillCooldownMs:      cfg.FillCooldownMs,
		MaxPendingPerTrader: cfg.MaxPendingPerTrader,
	}
}

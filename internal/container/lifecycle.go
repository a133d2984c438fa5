package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"limit-engine-go/config"
	"limit-engine-go/gateway"
	"limit-engine-go/infrastructure/logger"
	"limit-engine-go/internal/engine"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				m.components[j].Stop()
			}
			return fmt.Errorf("start component %d failed: %w", i, err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	// 逆序停止
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %d unhealthy: %w", i, err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	srv := &http.Server{
		Addr:    h.addr,
		Handler: h.handler,
	}
	*h.server = srv

	// 在后台启动服务器
	go func() {
		h.logger.Info(fmt.Sprintf("%s listening on %s", h.name, h.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info(fmt.Sprintf("%s stopped", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// engineComponent 撮合引擎组件：启动前先从磁盘恢复挂单
type engineComponent struct {
	engine *engine.Engine
	logger *logger.Logger
}

func (e *engineComponent) Start(ctx context.Context) error {
	recovered, err := e.engine.Recover()
	if err != nil {
		return fmt.Errorf("recover failed: %w", err)
	}
	e.logger.Info(fmt.Sprintf("recovered %d pending orders", recovered))
	return e.engine.Start(ctx)
}

func (e *engineComponent) Stop() error {
	return e.engine.Stop()
}

func (e *engineComponent) Health() error {
	if state := e.engine.GetState(); state != engine.StateRunning {
		return fmt.Errorf("engine state %s", state)
	}
	return nil
}

// quoteFeedComponent 行情推送组件：Run 内部自带重连，这里只负责起停
type quoteFeedComponent struct {
	ws     *gateway.QuoteWS
	logger *logger.Logger
	cancel context.CancelFunc
	mu     sync.Mutex
}

func (q *quoteFeedComponent) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	go func() {
		if err := q.ws.Run(runCtx); err != nil && runCtx.Err() == nil {
			q.logger.LogError(err, map[string]interface{}{"component": "quote_feed"})
		}
	}()
	return nil
}

func (q *quoteFeedComponent) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	return nil
}

func (q *quoteFeedComponent) Health() error {
	return nil
}

// watcherComponent 配置热更新组件
type watcherComponent struct {
	watcher  *config.Watcher
	onUpdate func(config.AppConfig)
	onError  func(error)
}

func (w *watcherComponent) Start(ctx context.Context) error {
	return w.watcher.Start(ctx, w.onUpdate, w.onError)
}

func (w *watcherComponent) Stop() error {
	return w.watcher.Stop()
}

func (w *watcherComponent) Health() error {
	return nil
}

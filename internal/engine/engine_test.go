package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limit-engine-go/infrastructure/alert"
	"limit-engine-go/infrastructure/logger"
	"limit-engine-go/internal/persist"
	"limit-engine-go/internal/store"
	"limit-engine-go/ledger"
	"limit-engine-go/order"
	"limit-engine-go/price"
)

func defaultConfig() Config {
	return Config{
		SweepInterval:       time.Second,
		QuoteWindowMs:       60_000,
		FillCooldownMs:      0,
		MaxPendingPerTrader: 10,
	}
}

type testRig struct {
	engine    *Engine
	feed      *price.Feed
	positions *ledger.MemoryPositions
	disk      *persist.FileStore
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	feed := price.NewFeed(nil)
	accounts := ledger.NewMemoryAccounts(1_000_000)
	positions := ledger.NewMemoryPositions(accounts)
	disk, err := persist.NewFileStore(t.TempDir())
	require.NoError(t, err)

	eng, err := New(cfg, Components{
		Store:        store.New(100),
		Locks:        store.NewLockManager(),
		Disk:         disk,
		Prices:       feed,
		Positions:    positions,
		AlertManager: alert.NewManager(nil, time.Minute),
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	return &testRig{engine: eng, feed: feed, positions: positions, disk: disk}
}

func (r *testRig) pushQuote(instrument string, bid, ask float64, tsMs int64) {
	r.feed.Push(price.Quote{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Close:      (bid + ask) / 2,
		TsMs:       tsMs,
		Source:     "test",
	})
}

func limitLong(id, trader string, limitPrice float64) *order.Order {
	return &order.Order{
		ID:         id,
		TraderID:   trader,
		Instrument: "BTCUSD",
		Direction:  order.Long,
		Kind:       order.KindLimit,
		Leverage:   order.F(0.5),
		LimitPrice: limitPrice,
	}
}

func TestSubmitPendsWhenNotTriggered(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-100)

	accepted, err := rig.engine.Submit(limitLong("o-1", "t1", 50000))
	require.NoError(t, err)
	assert.Equal(t, order.StatusLimitUnfilled, accepted.Status)
	assert.Equal(t, 1, rig.engine.store.TotalPending())
}

func TestSweepFillsAtLimitPrice(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	// 提交时刻的报价放在扫单窗口之外，只用于判定非即时成交
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)

	_, err := rig.engine.Submit(limitLong("o-1", "t1", 50000))
	require.NoError(t, err)

	// 行情跌破限价后扫单成交，成交价是配置的限价而非市场价
	rig.pushQuote("BTCUSD", 49970, 49990, now-50)
	result := rig.engine.SweepOnce(now)
	assert.Equal(t, 1, result.Filled)
	assert.Equal(t, 0, rig.engine.store.TotalPending())

	closed := rig.engine.store.RecentClosed("t1")
	require.Len(t, closed, 1)
	assert.Equal(t, order.StatusLimitFilled, closed[0].Status)
	assert.Equal(t, 50000.0, closed[0].FillPrice)

	p, ok := rig.positions.OpenPosition("t1", "BTCUSD")
	require.True(t, ok)
	assert.Equal(t, order.Long, p.Direction)
}

func TestSweepIdempotentAfterFill(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)
	_, err := rig.engine.Submit(limitLong("o-1", "t1", 50000))
	require.NoError(t, err)

	rig.pushQuote("BTCUSD", 49970, 49990, now-50)
	first := rig.engine.SweepOnce(now)
	second := rig.engine.SweepOnce(now + 1)
	assert.Equal(t, 1, first.Filled)
	assert.Equal(t, 0, second.Filled)
	assert.Len(t, rig.engine.store.RecentClosed("t1"), 1)
}

func TestFillFailureCancelsOrder(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)

	// 名义远超账户购买力，台账在触发后拒绝成交
	o := limitLong("o-1", "t1", 50000)
	o.Leverage = nil
	o.Quantity = order.F(1000)
	require.NoError(t, submitOK(rig, o))

	rig.pushQuote("BTCUSD", 49970, 49990, now-50)
	result := rig.engine.SweepOnce(now)
	assert.Equal(t, 0, result.Filled)
	assert.Equal(t, 0, rig.engine.store.TotalPending())

	// 成交失败是终态：订单转入取消态并留下原因
	cancelled := rig.engine.QueryByTrader("t1", "CANCELLED")
	require.Len(t, cancelled, 1)
	assert.Equal(t, order.StatusLimitCancelled, cancelled[0].Status)
	assert.NotEmpty(t, cancelled[0].LastError)
	_, ok := rig.positions.OpenPosition("t1", "BTCUSD")
	assert.False(t, ok)

	// 不重试
	again := rig.engine.SweepOnce(now + 1000)
	assert.Equal(t, 0, again.Filled)
}

func TestImmediateFillSkipsQueue(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	// 提交时刻最优报价已满足触发条件
	rig.pushQuote("BTCUSD", 49970, 49990, now-100)

	accepted, err := rig.engine.Submit(limitLong("o-1", "t1", 50000))
	require.NoError(t, err)
	assert.Equal(t, order.StatusImmediate, accepted.Status)
	assert.Equal(t, 50000.0, accepted.FillPrice)
	assert.Equal(t, 0, rig.engine.store.TotalPending())

	_, ok := rig.positions.OpenPosition("t1", "BTCUSD")
	assert.True(t, ok)
}

func TestImmediateFillRespectsClosedMarket(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("EURUSD", 1.07, 1.075, now-100)
	rig.feed.SetMarketOpen("EURUSD", false)

	o := limitLong("o-1", "t1", 1.08)
	o.Instrument = "EURUSD"
	accepted, err := rig.engine.Submit(o)
	require.NoError(t, err)
	assert.Equal(t, order.StatusLimitUnfilled, accepted.Status)

	// 闭市期间扫单也不成交
	result := rig.engine.SweepOnce(now)
	assert.Equal(t, 0, result.Filled)
}

func TestParentFillSynthesizesBrackets(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-100)

	parent := limitLong("p-1", "t1", 50000)
	parent.Brackets = []order.BracketSpec{
		{StopLoss: order.F(48000), TakeProfit: order.F(53000), Leverage: order.F(0.5)},
	}
	accepted, err := rig.engine.Submit(parent)
	require.NoError(t, err)
	require.Equal(t, order.StatusImmediate, accepted.Status)

	pending := rig.engine.store.Pending("BTCUSD", "t1")
	require.Len(t, pending, 1)
	assert.Equal(t, "p-1-bracket-0", pending[0].ID)
	assert.Equal(t, order.KindBracket, pending[0].Kind)
	assert.Equal(t, order.Short, pending[0].Direction)
}

func TestBracketStopLossClosesPosition(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-120_000)

	parent := limitLong("p-1", "t1", 50000)
	parent.Brackets = []order.BracketSpec{
		{StopLoss: order.F(48000), Leverage: order.F(0.5)},
	}
	_, err := rig.engine.Submit(parent)
	require.NoError(t, err)
	_, ok := rig.positions.OpenPosition("t1", "BTCUSD")
	require.True(t, ok)

	// 多头仓位用 bid 判定：bid < stop_loss 触发，成交价是 stop_loss
	rig.pushQuote("BTCUSD", 47900, 47920, now-50)
	result := rig.engine.SweepOnce(now)
	require.Equal(t, 1, result.Filled)

	_, ok = rig.positions.OpenPosition("t1", "BTCUSD")
	assert.False(t, ok, "stop-loss fill should close the position")

	var bracketFill *order.Order
	for _, o := range rig.engine.store.RecentClosed("t1") {
		if o.Kind == order.KindBracket {
			bracketFill = o
		}
	}
	require.NotNil(t, bracketFill)
	assert.Equal(t, order.StatusBracketFilled, bracketFill.Status)
	assert.Equal(t, 48000.0, bracketFill.FillPrice)
}

func TestBracketAtExactBoundDoesNotTrigger(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-120_000)

	parent := limitLong("p-1", "t1", 50000)
	parent.Brackets = []order.BracketSpec{
		{StopLoss: order.F(48000), Leverage: order.F(0.5)},
	}
	_, err := rig.engine.Submit(parent)
	require.NoError(t, err)

	// bid == stop_loss 不触发（严格小于）
	rig.pushQuote("BTCUSD", 48000, 48020, now-50)
	result := rig.engine.SweepOnce(now)
	assert.Equal(t, 0, result.Filled)
	assert.Equal(t, 1, rig.engine.store.TotalPending())
}

func TestCancelByPrefixRemovesChildren(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-100)

	parent := limitLong("p-1", "t1", 50000)
	parent.Brackets = []order.BracketSpec{
		{StopLoss: order.F(48000), Leverage: order.F(0.5)},
		{TakeProfit: order.F(53000), Leverage: order.F(0.5)},
	}
	_, err := rig.engine.Submit(parent)
	require.NoError(t, err)
	require.Equal(t, 2, rig.engine.store.TotalPending())

	cancelled, err := rig.engine.Cancel("t1", "p-1")
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)
	assert.Equal(t, 0, rig.engine.store.TotalPending())
	for _, o := range cancelled {
		assert.Equal(t, order.StatusBracketCancelled, o.Status)
	}
}

func TestCancelCommaSeparatedIDs(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t1", 40000)))

	cancelled, err := rig.engine.Cancel("t1", "o-1, o-2")
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)
	assert.Equal(t, 0, rig.engine.store.TotalPending())
	for _, o := range cancelled {
		assert.Equal(t, order.StatusLimitCancelled, o.Status)
	}
}

func TestCancelSkipsUnknownIDsInList(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))

	// 列表里有未知 id 不影响其余订单的取消
	cancelled, err := rig.engine.Cancel("t1", "missing,o-1")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "o-1", cancelled[0].ID)
}

func TestCancelUnknownOrderReturnsNotFound(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	_, err := rig.engine.Cancel("t1", "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.OrderID)
}

func TestMaxPendingRejected(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPendingPerTrader = 2
	rig := newTestRig(t, cfg)

	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 100)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t1", 100)))

	_, err := rig.engine.Submit(limitLong("o-3", "t1", 100))
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)

	// 其他 trader 不受影响
	require.NoError(t, submitOK(rig, limitLong("o-4", "t2", 100)))
}

func TestDuplicateIDRejected(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 100)))
	_, err := rig.engine.Submit(limitLong("o-1", "t1", 100))
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestEliminatedTraderRejected(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	rig.positions.Eliminate("t1")
	_, err := rig.engine.Submit(limitLong("o-1", "t1", 100))
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestFillCooldownBlocksSecondFill(t *testing.T) {
	cfg := defaultConfig()
	cfg.FillCooldownMs = 60_000
	rig := newTestRig(t, cfg)
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)

	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t1", 50000)))

	rig.pushQuote("BTCUSD", 49970, 49990, now-50)
	first := rig.engine.SweepOnce(now)
	assert.Equal(t, 1, first.Filled, "one fill per pair per sweep")

	// 冷却期内第二笔不成交
	second := rig.engine.SweepOnce(now + 1000)
	assert.Equal(t, 0, second.Filled)

	// 冷却期过后成交
	rig.pushQuote("BTCUSD", 49970, 49990, now+60_900)
	third := rig.engine.SweepOnce(now + 61_000)
	assert.Equal(t, 1, third.Filled)
}

func TestOrphanBracketRejectedAtSubmit(t *testing.T) {
	rig := newTestRig(t, defaultConfig())

	// 没有仓位、没有未成交 LIMIT：受理时即拒绝
	bracket := &order.Order{
		ID:         "b-1",
		TraderID:   "t1",
		Instrument: "BTCUSD",
		Kind:       order.KindBracket,
		StopLoss:   order.F(48000),
	}
	_, err := rig.engine.Submit(bracket)
	var ve *order.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, rig.engine.store.TotalPending())
}

func TestSubmitAcceptsBracketWithPosition(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-100)

	// 即时成交建仓后 bracket 不是孤儿
	_, err := rig.engine.Submit(limitLong("o-1", "t1", 50000))
	require.NoError(t, err)

	bracket := &order.Order{
		ID:         "b-1",
		TraderID:   "t1",
		Instrument: "BTCUSD",
		Kind:       order.KindBracket,
		StopLoss:   order.F(48000),
	}
	accepted, err := rig.engine.Submit(bracket)
	require.NoError(t, err)
	assert.Equal(t, order.StatusBracketUnfilled, accepted.Status)
}

func TestOrphanedBracketCancelledBySweep(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)

	// bracket 依附于未成交 LIMIT；LIMIT 取消后它成为孤儿
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 49000)))
	time.Sleep(5 * time.Millisecond)
	bracket := &order.Order{
		ID:         "b-1",
		TraderID:   "t1",
		Instrument: "BTCUSD",
		Kind:       order.KindBracket,
		StopLoss:   order.F(48000),
	}
	_, err := rig.engine.Submit(bracket)
	require.NoError(t, err)

	_, err = rig.engine.Cancel("t1", "o-1")
	require.NoError(t, err)
	require.Equal(t, 1, rig.engine.store.TotalPending())

	rig.pushQuote("BTCUSD", 50000, 50020, now-50)
	rig.engine.SweepOnce(now)
	assert.Equal(t, 0, rig.engine.store.TotalPending())

	var orphan *order.Order
	for _, o := range rig.engine.store.RecentClosed("t1") {
		if o.ID == "b-1" {
			orphan = o
		}
	}
	require.NotNil(t, orphan)
	assert.Equal(t, order.StatusBracketCancelled, orphan.Status)
	assert.NotEmpty(t, orphan.LastError)
}

func TestBracketWaitsForEarlierLimit(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-300)

	// 先有未成交 LIMIT，再挂 bracket：不按孤儿处理
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 49000)))
	time.Sleep(5 * time.Millisecond) // bracket 的受理时间必须晚于 LIMIT
	bracket := &order.Order{
		ID:         "b-1",
		TraderID:   "t1",
		Instrument: "BTCUSD",
		Kind:       order.KindBracket,
		StopLoss:   order.F(48000),
	}
	_, err := rig.engine.Submit(bracket)
	require.NoError(t, err)

	rig.engine.SweepOnce(now)
	assert.Equal(t, 2, rig.engine.store.TotalPending())
}

func TestEditReplacesLimitPrice(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))

	updated, err := rig.engine.Edit("t1", "o-1", &order.Order{LimitPrice: 51000})
	require.NoError(t, err)
	assert.Equal(t, 51000.0, updated.LimitPrice)

	cur, ok := rig.engine.store.FindByID("t1", "o-1")
	require.True(t, ok)
	assert.Equal(t, 51000.0, cur.LimitPrice)
}

func TestEditIntoTriggerRangeFillsImmediately(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))

	// 限价改到当前卖价之上，改单路径直接成交，不等下一轮扫单
	rig.pushQuote("BTCUSD", 50090, 50110, now-100)
	updated, err := rig.engine.Edit("t1", "o-1", &order.Order{LimitPrice: 50200})
	require.NoError(t, err)
	assert.Equal(t, order.StatusLimitFilled, updated.Status)
	assert.Equal(t, 50200.0, updated.FillPrice)
	assert.Equal(t, 0, rig.engine.store.TotalPending())

	p, ok := rig.positions.OpenPosition("t1", "BTCUSD")
	require.True(t, ok)
	assert.Equal(t, order.Long, p.Direction)
}

func TestEditUnknownOrderReturnsNotFound(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	_, err := rig.engine.Edit("t1", "missing", &order.Order{LimitPrice: 1})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestEditBracketsBulk(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 49970, 49990, now-100)

	parent := limitLong("p-1", "t1", 50000)
	parent.Brackets = []order.BracketSpec{
		{StopLoss: order.F(48000), Leverage: order.F(0.5)},
	}
	_, err := rig.engine.Submit(parent)
	require.NoError(t, err)

	// 更新已有子单边界 + 新建一个 + 取消（空边界）
	out, err := rig.engine.EditBrackets("t1", "BTCUSD", []order.BracketSpec{
		{ID: "p-1-bracket-0", StopLoss: order.F(47000)},
		{TakeProfit: order.F(55000)},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	cur, ok := rig.engine.store.FindByID("t1", "p-1-bracket-0")
	require.True(t, ok)
	assert.Equal(t, 47000.0, *cur.StopLoss)
	assert.Equal(t, 2, rig.engine.store.TotalPending())

	// 清空边界表示取消
	_, err = rig.engine.EditBrackets("t1", "BTCUSD", []order.BracketSpec{
		{ID: "p-1-bracket-0"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rig.engine.store.TotalPending())
}

func TestRecoverRestoresPending(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t2", 40000)))

	// 新引擎复用同一数据目录，模拟重启
	feed := price.NewFeed(nil)
	positions := ledger.NewMemoryPositions(ledger.NewMemoryAccounts(1_000_000))
	restarted, err := New(defaultConfig(), Components{
		Store:        store.New(100),
		Locks:        store.NewLockManager(),
		Disk:         rig.disk,
		Prices:       feed,
		Positions:    positions,
		AlertManager: alert.NewManager(nil, time.Minute),
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)

	n, err := restarted.Recover()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, restarted.store.TotalPending())

	_, ok := restarted.store.FindByID("t1", "o-1")
	assert.True(t, ok)
}

func TestRecoverSkipsEliminatedTrader(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "gone", 40000)))

	positions := ledger.NewMemoryPositions(ledger.NewMemoryAccounts(1_000_000))
	positions.Eliminate("gone")
	restarted, err := New(defaultConfig(), Components{
		Store:        store.New(100),
		Locks:        store.NewLockManager(),
		Disk:         rig.disk,
		Prices:       price.NewFeed(nil),
		Positions:    positions,
		AlertManager: alert.NewManager(nil, time.Minute),
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)

	n, err := restarted.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := restarted.store.FindByID("gone", "o-2")
	assert.False(t, ok)
}

func TestPurgeTrader(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t1", 40000)))
	require.NoError(t, submitOK(rig, limitLong("o-3", "t2", 40000)))

	n := rig.engine.PurgeTrader("t1")
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, rig.engine.store.CountPending("t1"))
	assert.Equal(t, 1, rig.engine.store.CountPending("t2"))

	loaded, err := rig.disk.LoadAll(nil)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "t2", loaded[0].TraderID)

	// 订单文件和 trader 目录都不留
	_, err = os.Stat(filepath.Join(rig.disk.Root(), "t1"))
	assert.True(t, os.IsNotExist(err))
}

func TestConcurrentSubmitsStayConsistent(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	cfgMax := defaultConfig().MaxPendingPerTrader

	done := make(chan error, cfgMax)
	for i := 0; i < cfgMax; i++ {
		go func(i int) {
			o := limitLong("", "t1", 40000+float64(i))
			_, err := rig.engine.Submit(o)
			done <- err
		}(i)
	}
	for i := 0; i < cfgMax; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, cfgMax, rig.engine.store.TotalPending())
}

func TestQueryByTraderFiltersStatus(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	now := time.Now().UnixMilli()
	rig.pushQuote("BTCUSD", 50090, 50110, now-120_000)
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))
	require.NoError(t, submitOK(rig, limitLong("o-2", "t1", 30000)))

	rig.pushQuote("BTCUSD", 49970, 49990, now-50)
	rig.engine.SweepOnce(now)

	unfilled := rig.engine.QueryByTrader("t1", "UNFILLED")
	filled := rig.engine.QueryByTrader("t1", "FILLED")
	all := rig.engine.QueryByTrader("t1", "")
	assert.Len(t, unfilled, 1)
	assert.Len(t, filled, 1)
	assert.Len(t, all, 2)
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := defaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	rig := newTestRig(t, cfg)

	require.NoError(t, rig.engine.Start(context.Background()))
	assert.Equal(t, StateRunning, rig.engine.GetState())

	err := rig.engine.Start(context.Background())
	assert.Error(t, err, "double start must fail")

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, rig.engine.Stop())
	assert.Equal(t, StateStopped, rig.engine.GetState())

	stats := rig.engine.GetStatistics()
	assert.Greater(t, stats.TotalSweeps, int64(0))
}

func TestHealthCheck(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	require.NoError(t, submitOK(rig, limitLong("o-1", "t1", 50000)))

	h := rig.engine.HealthCheck()
	assert.Equal(t, "IDLE", h.State)
	assert.Equal(t, 1, h.PendingOrders)
	assert.Equal(t, 1, h.PairCount)
}

func TestUpdateParams(t *testing.T) {
	rig := newTestRig(t, defaultConfig())
	rig.engine.UpdateParams(Config{
		SweepInterval:       2 * time.Second,
		FillCooldownMs:      123,
		MaxPendingPerTrader: 3,
	})
	assert.Equal(t, 2*time.Second, rig.engine.sweepIntervalNow())
	assert.Equal(t, int64(123), rig.engine.cooldownNow())
	assert.Equal(t, 3, rig.engine.maxPendingNow())
	// 未提供的窗口参数保持原值
	assert.Equal(t, int64(60_000), rig.engine.quoteWindowNow())
}

func submitOK(rig *testRig, o *order.Order) error {
	_, err := rig.engine.Submit(o)
	return err
}

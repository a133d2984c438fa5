package engine

import (
	"fmt"
	"strings"
	"time"

	"limit-engine-go/internal/store"
	"limit-engine-go/metrics"
	"limit-engine-go/order"
	"limit-engine-go/price"
)

// Submit 受理一笔 LIMIT/BRACKET 订单。
// 校验通过后先尝试即时成交：提交时刻最优报价已满足触发条件的订单
// 直接按该报价成交（状态 IMMEDIATE），从不进入挂单队列；
// 否则落盘并进入内存表等待扫单。
func (e *Engine) Submit(o *order.Order) (*order.Order, error) {
	if o == nil {
		return nil, order.Invalidf("nil order")
	}
	if o.ID == "" {
		o.ID = order.NewID()
	}
	if err := order.ValidateSubmit(o); err != nil {
		metrics.OrdersRejected.Inc()
		return nil, err
	}
	if e.positions.IsEliminated(o.TraderID) {
		metrics.OrdersRejected.Inc()
		return nil, order.Invalidf("trader %s is eliminated", o.TraderID)
	}
	if _, exists := e.store.FindByID(o.TraderID, o.ID); exists {
		metrics.OrdersRejected.Inc()
		return nil, order.Invalidf("duplicate order id %s", o.ID)
	}
	if n := e.store.CountPending(o.TraderID); n >= e.maxPendingNow() {
		metrics.OrdersRejected.Inc()
		return nil, order.Invalidf("trader %s has %d pending orders (max %d)", o.TraderID, n, e.maxPendingNow())
	}

	nowMs := time.Now().UnixMilli()
	o = o.Clone()
	if o.SubmittedMs == 0 {
		o.SubmittedMs = nowMs
	}
	o.ProcessedMs = nowMs
	switch o.Kind {
	case order.KindLimit:
		o.Status = order.StatusLimitUnfilled
	case order.KindBracket:
		o.Status = order.StatusBracketUnfilled
	}

	metrics.RecordSubmit(string(o.Kind))

	// 即时成交路径：用提交时刻的最优报价判定，而不是扫单的中位价
	if filled, err := e.tryImmediateFill(o, nowMs); err != nil {
		return nil, err
	} else if filled {
		return o.Clone(), nil
	}

	mu := e.locks.Pair(o.Instrument, o.TraderID)
	mu.Lock()
	defer mu.Unlock()

	// 孤儿 bracket 在受理时就拒绝：既无仓位可保护，也没有
	// 可能建仓的未成交 LIMIT
	if o.Kind == order.KindBracket {
		_, hasPos := e.positions.OpenPosition(o.TraderID, o.Instrument)
		if !hasPos && len(e.store.UnfilledLimitsBefore(o.Instrument, o.TraderID, 0)) == 0 {
			metrics.OrdersRejected.Inc()
			return nil, order.Invalidf("bracket %s: no open position and no unfilled limit order on %s", o.ID, o.Instrument)
		}
	}

	if err := e.disk.Write(o); err != nil {
		e.persistFailed(o.ID, err)
	}
	e.store.Append(o)
	if o.Kind == order.KindBracket {
		e.positions.AttachBracket(o.TraderID, o.Instrument, o)
	}

	e.logger.LogOrder("accepted", o.ID, map[string]interface{}{
		"trader":     o.TraderID,
		"instrument": o.Instrument,
		"kind":       string(o.Kind),
	})
	return o.Clone(), nil
}

// bestQuote 返回即时判定用的最优报价。
// 市场闭市、无报价或冷却期内不提供。
func (e *Engine) bestQuote(instrument, trader string, nowMs int64) (price.Quote, bool) {
	if !e.prices.IsMarketOpen(instrument, nowMs) {
		return price.Quote{}, false
	}
	quotes := e.prices.SortedQuotes(instrument, nowMs)
	if len(quotes) == 0 {
		return price.Quote{}, false
	}
	if e.inCooldown(instrument, trader, nowMs) {
		return price.Quote{}, false
	}
	return quotes[0], true
}

// tryImmediateFill 检查提交时刻是否已满足触发条件。
func (e *Engine) tryImmediateFill(o *order.Order, nowMs int64) (bool, error) {
	q, ok := e.bestQuote(o.Instrument, o.TraderID, nowMs)
	if !ok {
		return false, nil
	}
	posDir, hasPos := e.positionDirection(o.TraderID, o.Instrument)
	triggerPrice, ok := order.TriggerPrice(o, posDir, hasPos, q)
	if !ok {
		return false, nil
	}

	fill := o
	fill.Status = order.StatusImmediate
	fill.FillPrice = triggerPrice
	fill.BidAtFill = q.EffectiveBid()
	fill.AskAtFill = q.EffectiveAsk()
	fill.PriceSources = []string{q.Source}
	fill.ProcessedMs = nowMs
	e.applyBracketReversal(fill, posDir)

	if _, err := e.positions.ApplyFill(fill); err != nil {
		metrics.FillFailures.Inc()
		e.recordError()
		if e.alertMgr != nil {
			_ = e.alertMgr.FillFailure(fill.ID, fill.TraderID, err)
		}
		return false, fmt.Errorf("immediate fill %s: %w", fill.ID, err)
	}

	e.recordFillTime(o.Instrument, o.TraderID, nowMs)
	e.store.AppendClosed(o.TraderID, fill)
	metrics.RecordFill(string(o.Kind), "immediate")
	e.statsMu.Lock()
	e.stats.TotalImmediate++
	e.stats.TotalFills++
	e.statsMu.Unlock()

	e.logger.LogFill(fill.ID, map[string]interface{}{
		"trader":     fill.TraderID,
		"instrument": fill.Instrument,
		"price":      fill.FillPrice,
		"path":       "immediate",
	})

	e.afterFill(fill, nowMs)
	return true, nil
}

// Edit 修改一笔未成交订单的价格/尺寸/边界。
// trader、instrument 和执行类别不可变；改动整体生效或整体拒绝。
// 改动让订单进入触发区间时按当前最优报价立即成交，不等下一轮扫单。
func (e *Engine) Edit(trader, orderID string, changes *order.Order) (*order.Order, error) {
	existing, ok := e.store.FindByID(trader, orderID)
	if !ok {
		return nil, &NotFoundError{TraderID: trader, OrderID: orderID}
	}

	mu := e.locks.Pair(existing.Instrument, trader)
	mu.Lock()
	updated, err := e.applyEditLocked(trader, orderID, changes)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	// 改单后复用提交时的即时判定
	nowMs := time.Now().UnixMilli()
	if q, ok := e.bestQuote(updated.Instrument, trader, nowMs); ok {
		posDir, hasPos := e.positionDirection(trader, updated.Instrument)
		if tp, hit := order.TriggerPrice(updated, posDir, hasPos, q); hit {
			if e.attemptFill(updated, tp, q, posDir, nowMs, "edit") {
				for _, c := range e.store.RecentClosed(trader) {
					if c.ID == updated.ID {
						return c.Clone(), nil
					}
				}
			}
		}
	}
	return updated.Clone(), nil
}

// applyEditLocked 校验并落盘改动，调用方持有 pair 锁。
func (e *Engine) applyEditLocked(trader, orderID string, changes *order.Order) (*order.Order, error) {
	// 锁内重查，防止与成交/取消并发
	existing, ok := e.store.FindByID(trader, orderID)
	if !ok || !existing.Status.Open() {
		return nil, &NotFoundError{TraderID: trader, OrderID: orderID}
	}

	updated := existing.Clone()
	if changes.LimitPrice > 0 {
		updated.LimitPrice = changes.LimitPrice
	}
	if changes.Direction != "" {
		updated.Direction = changes.Direction
	}
	if changes.SizeFieldCount() > 0 {
		updated.Leverage = changes.Leverage
		updated.Notional = changes.Notional
		updated.Quantity = changes.Quantity
	}
	if changes.StopLoss != nil || changes.TakeProfit != nil {
		updated.StopLoss = changes.StopLoss
		updated.TakeProfit = changes.TakeProfit
	}
	if changes.Brackets != nil {
		updated.Brackets = changes.Brackets
	}
	updated.ProcessedMs = time.Now().UnixMilli()

	if err := order.ValidateSubmit(updated); err != nil {
		return nil, err
	}

	if err := e.disk.Write(updated); err != nil {
		e.persistFailed(updated.ID, err)
	}
	e.store.Replace(updated)
	if updated.Kind == order.KindBracket {
		e.positions.AttachBracket(trader, updated.Instrument, updated)
	}

	e.logger.LogOrder("edited", updated.ID, map[string]interface{}{
		"trader":     trader,
		"instrument": updated.Instrument,
	})
	return updated.Clone(), nil
}

// EditBrackets 批量调整某 (trader, instrument) 的 BRACKET 挂单：
// 带已知 id 的 spec 更新边界，两侧边界都为空的 spec 取消该单，
// 新 id（或空 id）的 spec 创建新 BRACKET 订单。
func (e *Engine) EditBrackets(trader, instrument string, specs []order.BracketSpec) ([]*order.Order, error) {
	mu := e.locks.Pair(instrument, trader)
	mu.Lock()
	defer mu.Unlock()

	existing := make(map[string]*order.Order)
	for _, o := range e.store.Pending(instrument, trader) {
		if o.Kind == order.KindBracket && o.Status.Open() {
			existing[o.ID] = o
		}
	}

	nowMs := time.Now().UnixMilli()
	var out []*order.Order
	for _, spec := range specs {
		cur, known := existing[spec.ID]
		hasBounds := spec.StopLoss != nil || spec.TakeProfit != nil

		switch {
		case known && !hasBounds:
			// 边界清空表示取消
			e.closeCancelledLocked(cur, nowMs)
			out = append(out, cur.Clone())

		case known:
			upd := cur.Clone()
			upd.StopLoss = spec.StopLoss
			upd.TakeProfit = spec.TakeProfit
			if spec.Leverage != nil || spec.Notional != nil || spec.Quantity != nil {
				upd.Leverage = spec.Leverage
				upd.Notional = spec.Notional
				upd.Quantity = spec.Quantity
			}
			upd.ProcessedMs = nowMs
			if err := order.ValidateSubmit(upd); err != nil {
				return out, err
			}
			if err := e.disk.Write(upd); err != nil {
				e.persistFailed(upd.ID, err)
			}
			e.store.Replace(upd)
			e.positions.AttachBracket(trader, instrument, upd)
			out = append(out, upd.Clone())

		case hasBounds:
			nb := &order.Order{
				ID:          spec.ID,
				TraderID:    trader,
				Instrument:  instrument,
				Kind:        order.KindBracket,
				StopLoss:    spec.StopLoss,
				TakeProfit:  spec.TakeProfit,
				Leverage:    spec.Leverage,
				Notional:    spec.Notional,
				Quantity:    spec.Quantity,
				Status:      order.StatusBracketUnfilled,
				SubmittedMs: nowMs,
				ProcessedMs: nowMs,
			}
			if nb.ID == "" {
				nb.ID = order.NewID()
			}
			nb.Direction = e.bracketDirection(trader, instrument)
			if err := order.ValidateSubmit(nb); err != nil {
				return out, err
			}
			if err := e.disk.Write(nb); err != nil {
				e.persistFailed(nb.ID, err)
			}
			e.store.Append(nb)
			e.positions.AttachBracket(trader, instrument, nb)
			out = append(out, nb.Clone())
		}
	}
	return out, nil
}

// Cancel 取消订单。orderID 可以是逗号分隔的多个 id。LIMIT 按 id
// 精确匹配；以该 id 为前缀的 BRACKET 子单（父单成交后合成的
// {id}-bracket-N）一并取消。
func (e *Engine) Cancel(trader, orderID string) ([]*order.Order, error) {
	seen := make(map[string]bool)
	var targets []*order.Order
	for _, id := range strings.Split(orderID, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		for _, o := range e.store.FindOpenByPrefix(trader, id) {
			if seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			targets = append(targets, o)
		}
	}
	if len(targets) == 0 {
		return nil, &NotFoundError{TraderID: trader, OrderID: orderID}
	}

	nowMs := time.Now().UnixMilli()
	var cancelled []*order.Order
	for _, o := range targets {
		mu := e.locks.Pair(o.Instrument, trader)
		mu.Lock()
		// 锁内重查：扫单可能刚刚成交了它
		cur, ok := e.store.FindByID(trader, o.ID)
		if !ok || !cur.Status.Open() {
			mu.Unlock()
			continue
		}
		e.closeCancelledLocked(cur, nowMs)
		cancelled = append(cancelled, cur.Clone())
		mu.Unlock()
	}
	if len(cancelled) == 0 {
		return nil, &NotFoundError{TraderID: trader, OrderID: orderID}
	}
	return cancelled, nil
}

// closeCancelledLocked 把一笔挂单转入取消终态，调用方持有 pair 锁。
func (e *Engine) closeCancelledLocked(o *order.Order, nowMs int64) {
	target, ok := o.Status.CancelTarget()
	if !ok {
		return
	}
	o.Status = target
	o.ProcessedMs = nowMs

	if err := e.disk.Write(o); err != nil {
		e.persistFailed(o.ID, err)
	}
	e.store.Remove(o.ID)
	e.store.AppendClosed(o.TraderID, o)
	if o.Kind == order.KindBracket {
		e.positions.DetachBracket(o.TraderID, o.Instrument, o.ID)
	}

	metrics.RecordCancel(string(o.Kind))
	e.statsMu.Lock()
	e.stats.TotalCancels++
	e.statsMu.Unlock()

	e.logger.LogOrder("cancelled", o.ID, map[string]interface{}{
		"trader":     o.TraderID,
		"instrument": o.Instrument,
	})
}

// QueryByTrader 返回该 trader 的订单快照。statusGroup 为
// UNFILLED/FILLED/CANCELLED 之一，空串表示全部。
func (e *Engine) QueryByTrader(trader, statusGroup string) []*order.Order {
	var out []*order.Order
	for _, instrument := range e.store.Instruments() {
		for _, o := range e.store.Pending(instrument, trader) {
			if statusGroup == "" || o.Status.Group() == statusGroup {
				out = append(out, o.Clone())
			}
		}
	}
	for _, o := range e.store.RecentClosed(trader) {
		if statusGroup == "" || o.Status.Group() == statusGroup {
			out = append(out, o.Clone())
		}
	}
	return out
}

// QueryByInstrument 返回某标的的全部挂单快照。
func (e *Engine) QueryByInstrument(instrument string) []*order.Order {
	var out []*order.Order
	for _, trader := range e.store.TradersFor(instrument) {
		for _, o := range e.store.Pending(instrument, trader) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// PurgeTrader 移除该 trader 的全部挂单与磁盘记录（淘汰清理）。
// 先逐单删除已知订单文件，再整目录清掉闭单与残留文件。
func (e *Engine) PurgeTrader(trader string) int {
	purged := e.store.PurgeTrader(trader)
	for _, o := range purged {
		if err := e.disk.Delete(o); err != nil {
			e.logger.LogError(err, map[string]interface{}{"trader": trader, "order_id": o.ID})
			e.recordError()
		}
	}
	if err := e.disk.PurgeTrader(trader); err != nil {
		e.logger.LogError(err, map[string]interface{}{"trader": trader})
		e.recordError()
	}
	e.clearFillTimes(trader)
	if e.alertMgr != nil && len(purged) > 0 {
		_ = e.alertMgr.TraderPurged(trader, len(purged))
	}
	e.logger.LogOrder("purged", "", map[string]interface{}{
		"trader": trader,
		"count":  len(purged),
	})
	return len(purged)
}

// bracketDirection 返回 bracket 下单时的方向：与当前仓位相反。
// 无仓位时方向留待成交时由仓位方向决定。
func (e *Engine) bracketDirection(trader, instrument string) order.Direction {
	posDir, hasPos := e.positionDirection(trader, instrument)
	if !hasPos {
		return ""
	}
	if opp, ok := posDir.Opposite(); ok {
		return opp
	}
	return ""
}

func (e *Engine) positionDirection(trader, instrument string) (order.Direction, bool) {
	p, ok := e.positions.OpenPosition(trader, instrument)
	if !ok {
		return "", false
	}
	return p.Direction, true
}

func (e *Engine) persistFailed(orderID string, err error) {
	metrics.PersistErrors.Inc()
	e.recordError()
	e.logger.LogError(err, map[string]interface{}{"order_id": orderID})
	if e.alertMgr != nil {
		_ = e.alertMgr.PersistFailure(orderID, err)
	}
}

func (e *Engine) inCooldown(instrument, trader string, nowMs int64) bool {
	cooldown := e.cooldownNow()
	if cooldown <= 0 {
		return false
	}
	e.lastFillMu.Lock()
	defer e.lastFillMu.Unlock()
	last, ok := e.lastFill[store.PairKey{Instrument: instrument, Trader: trader}]
	return ok && nowMs-last < cooldown
}

func (e *Engine) recordFillTime(instrument, trader string, nowMs int64) {
	e.lastFillMu.Lock()
	defer e.lastFillMu.Unlock()
	e.lastFill[store.PairKey{Instrument: instrument, Trader: trader}] = nowMs
}

func (e *Engine) clearFillTimes(trader string) {
	e.lastFillMu.Lock()
	defer e.lastFillMu.Unlock()
	for key := range e.lastFill {
		if key.Trader == trader {
			delete(e.lastFill, key)
		}
	}
}

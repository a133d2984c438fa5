package engine

import (
	"time"

	"go.uber.org/zap"

	"limit-engine-go/metrics"
	"limit-engine-go/order"
	"limit-engine-go/price"
)

// SweepOnce 对所有 (instrument, trader) 对执行一轮触发判定。
// 判定用窗口内按 close 排序的中位报价，抵抗单一来源的坏点；
// 每对每轮至多成交一笔，订单间的错误互相隔离。
func (e *Engine) SweepOnce(nowMs int64) SweepResult {
	result := SweepResult{TimestampMs: nowMs}

	for _, instrument := range e.store.Instruments() {
		// 闭市标的整体跳过，挂单原样保留
		if !e.prices.IsMarketOpen(instrument, nowMs) {
			continue
		}
		window := e.prices.QuotesInWindow(instrument, nowMs-e.quoteWindowNow(), nowMs)
		median, haveQuote := price.MedianByClose(window)

		for _, trader := range e.store.TradersFor(instrument) {
			checked, filled := e.sweepPair(instrument, trader, median, haveQuote, nowMs)
			result.Checked += checked
			if filled {
				result.Filled++
			}
		}
	}

	e.statsMu.Lock()
	e.stats.TotalSweeps++
	e.stats.TotalChecked += int64(result.Checked)
	e.stats.LastSweepTime = time.Now()
	e.statsMu.Unlock()

	return result
}

// sweepPair 处理单个 (instrument, trader) 对。
// 触发判定在对锁内完成，成交在锁外执行后再回锁确认。
func (e *Engine) sweepPair(instrument, trader string, q price.Quote, haveQuote bool, nowMs int64) (int, bool) {
	mu := e.locks.Pair(instrument, trader)
	mu.Lock()

	// 无仓位且前面没有可能建仓的 LIMIT 的 bracket 是孤儿，直接取消
	e.cancelOrphanBracketsLocked(instrument, trader, nowMs)

	pending := e.store.Pending(instrument, trader)
	if len(pending) == 0 || !haveQuote {
		mu.Unlock()
		return 0, false
	}
	if e.inCooldown(instrument, trader, nowMs) {
		mu.Unlock()
		return 0, false
	}

	posDir, hasPos := e.positionDirection(trader, instrument)

	var candidate *order.Order
	var triggerPrice float64
	checked := 0
	for _, o := range pending {
		if !o.Status.Open() {
			continue
		}
		checked++
		if tp, ok := order.TriggerPrice(o, posDir, hasPos, q); ok {
			candidate = o
			triggerPrice = tp
			break // 每对每轮至多一笔
		}
	}
	mu.Unlock()

	if candidate == nil {
		return checked, false
	}
	return checked, e.attemptFill(candidate, triggerPrice, q, posDir, nowMs, "sweep")
}

// attemptFill 执行一笔触发确认后的成交，path 标记触发来源（sweep/edit）。
// 台账更新在锁外进行，回锁后确认订单仍在挂単表中才落终态，
// 保证恰好成交一次。
func (e *Engine) attemptFill(o *order.Order, triggerPrice float64, q price.Quote, posDir order.Direction, nowMs int64, path string) bool {
	fill := o.Clone()
	fill.FillPrice = triggerPrice
	fill.BidAtFill = q.EffectiveBid()
	fill.AskAtFill = q.EffectiveAsk()
	fill.PriceSources = []string{q.Source}
	fill.ProcessedMs = nowMs
	e.applyBracketReversal(fill, posDir)

	_, fillErr := e.positions.ApplyFill(fill)

	mu := e.locks.Pair(o.Instrument, o.TraderID)
	mu.Lock()
	cur, ok := e.store.FindByID(o.TraderID, o.ID)

	if fillErr != nil {
		// 成交失败是终态：订单转入取消态并记录原因，不无限重试
		if ok && cur.Status.Open() {
			cur.LastError = fillErr.Error()
			e.closeCancelledLocked(cur, nowMs)
		}
		mu.Unlock()
		metrics.FillFailures.Inc()
		e.recordError()
		if e.alertMgr != nil {
			_ = e.alertMgr.FillFailure(o.ID, o.TraderID, fillErr)
		}
		e.logger.LogError(fillErr, map[string]interface{}{
			"order_id": o.ID,
			"trader":   o.TraderID,
		})
		return false
	}

	if !ok || !cur.Status.Open() {
		// 台账已应用但订单在锁外窗口被并发取消，只记录不回滚
		mu.Unlock()
		e.recordError()
		e.logger.Warn("order vanished between trigger and commit",
			zap.String("order_id", o.ID),
			zap.String("trader", o.TraderID))
		return false
	}

	target, _ := cur.Status.FillTarget()
	cur.Status = target
	cur.FillPrice = fill.FillPrice
	cur.BidAtFill = fill.BidAtFill
	cur.AskAtFill = fill.AskAtFill
	cur.PriceSources = fill.PriceSources
	cur.Direction = fill.Direction
	cur.ProcessedMs = nowMs

	if err := e.disk.Write(cur); err != nil {
		e.persistFailed(cur.ID, err)
	}
	e.store.Remove(cur.ID)
	e.store.AppendClosed(cur.TraderID, cur)
	if cur.Kind == order.KindBracket {
		e.positions.DetachBracket(cur.TraderID, cur.Instrument, cur.ID)
	}
	e.recordFillTime(cur.Instrument, cur.TraderID, nowMs)
	mu.Unlock()

	metrics.RecordFill(string(cur.Kind), path)
	e.statsMu.Lock()
	e.stats.TotalFills++
	e.statsMu.Unlock()

	e.logger.LogFill(cur.ID, map[string]interface{}{
		"trader":     cur.TraderID,
		"instrument": cur.Instrument,
		"price":      cur.FillPrice,
		"path":       path,
	})

	e.afterFill(cur, nowMs)
	return true
}

// afterFill 成交后的派生动作：合成子 bracket、校正存量 bracket。
func (e *Engine) afterFill(fill *order.Order, nowMs int64) {
	mu := e.locks.Pair(fill.Instrument, fill.TraderID)
	mu.Lock()
	defer mu.Unlock()

	if fill.Kind == order.KindLimit && len(fill.Brackets) > 0 {
		e.synthesizeBracketsLocked(fill, nowMs)
	}
	e.syncBracketsLocked(fill.TraderID, fill.Instrument, nowMs)
}

// synthesizeBracketsLocked 把父 LIMIT 订单携带的 bracket 规格合成为
// 独立 BRACKET 订单。单个子单失败只丢弃该子单，父单成交不回滚。
func (e *Engine) synthesizeBracketsLocked(parent *order.Order, nowMs int64) {
	opp, _ := parent.Direction.Opposite()
	for i, spec := range parent.Brackets {
		id := order.BracketID(parent.ID, i)

		// 以实际成交价复核边界：限价预检通过但成交价越界的子单不合成
		if err := order.ValidateBounds(parent.Direction, spec.StopLoss, spec.TakeProfit, parent.FillPrice, id); err != nil {
			synthErr := &BracketSynthesisError{ParentID: parent.ID, BracketID: id, Err: err}
			e.recordError()
			e.logger.LogError(synthErr, map[string]interface{}{"parent_id": parent.ID})
			if e.alertMgr != nil {
				_ = e.alertMgr.FillFailure(id, parent.TraderID, synthErr)
			}
			continue
		}

		b := &order.Order{
			ID:          id,
			TraderID:    parent.TraderID,
			Instrument:  parent.Instrument,
			Direction:   opp,
			Kind:        order.KindBracket,
			Leverage:    spec.Leverage,
			Notional:    spec.Notional,
			Quantity:    spec.Quantity,
			StopLoss:    spec.StopLoss,
			TakeProfit:  spec.TakeProfit,
			Status:      order.StatusBracketUnfilled,
			SubmittedMs: parent.SubmittedMs,
			ProcessedMs: nowMs,
		}
		if err := e.disk.Write(b); err != nil {
			e.persistFailed(b.ID, err)
		}
		e.store.Append(b)
		e.positions.AttachBracket(b.TraderID, b.Instrument, b)

		e.logger.LogOrder("bracket_synthesized", b.ID, map[string]interface{}{
			"parent_id": parent.ID,
			"trader":    b.TraderID,
		})
	}
}

// syncBracketsLocked 校正成交后的存量 bracket：仓位已平时按孤儿规则
// 取消；仓位方向翻转后边界不再成立的 bracket 取消并记录原因。
func (e *Engine) syncBracketsLocked(trader, instrument string, nowMs int64) {
	p, ok := e.positions.OpenPosition(trader, instrument)
	if !ok {
		e.cancelOrphanBracketsLocked(instrument, trader, nowMs)
		return
	}
	opp, _ := p.Direction.Opposite()
	for _, o := range e.store.Pending(instrument, trader) {
		if o.Kind != order.KindBracket || !o.Status.Open() {
			continue
		}
		if err := order.ValidateBounds(p.Direction, o.StopLoss, o.TakeProfit, p.EntryPrice, o.ID); err != nil {
			o.LastError = err.Error()
			e.closeCancelledLocked(o, nowMs)
			continue
		}
		// 执行方向始终为仓位反向，翻转后更新
		if o.Direction != opp {
			o.Direction = opp
			if err := e.disk.Write(o); err != nil {
				e.persistFailed(o.ID, err)
			}
		}
	}
}

// cancelOrphanBracketsLocked 取消孤儿 bracket：无仓位可保护，
// 且它之前受理的 LIMIT 都已终结（不会再建仓）。
func (e *Engine) cancelOrphanBracketsLocked(instrument, trader string, nowMs int64) {
	if _, hasPos := e.positions.OpenPosition(trader, instrument); hasPos {
		return
	}
	for _, o := range e.store.Pending(instrument, trader) {
		if o.Kind != order.KindBracket || !o.Status.Open() {
			continue
		}
		if len(e.store.UnfilledLimitsBefore(instrument, trader, o.ProcessedMs)) > 0 {
			continue
		}
		o.LastError = "orphaned: no position and no pending limit order"
		e.closeCancelledLocked(o, nowMs)
	}
}

// applyBracketReversal 设置 bracket 成交的执行方向（仓位反向）。
func (e *Engine) applyBracketReversal(fill *order.Order, posDir order.Direction) {
	if fill.Kind != order.KindBracket {
		return
	}
	if opp, ok := posDir.Opposite(); ok {
		fill.Direction = opp
	}
}

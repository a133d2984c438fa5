package order

import "limit-engine-go/price"

// 触发判定是纯函数：给定订单与一条报价，返回触发价（配置的界限价，
// 而不是触发它的市场价）以及是否触发。无任何副作用。

// LimitTriggerPrice checks a LIMIT order against a quote.
// LONG triggers when ask <= limit_price; SHORT when bid >= limit_price.
// The trigger price is always the configured limit price.
func LimitTriggerPrice(dir Direction, q price.Quote, limitPrice float64) (float64, bool) {
	switch dir {
	case Long:
		if q.EffectiveAsk() <= limitPrice {
			return limitPrice, true
		}
	case Short:
		if q.EffectiveBid() >= limitPrice {
			return limitPrice, true
		}
	}
	return 0, false
}

// BracketTriggerPrice checks stop-loss/take-profit bounds against a quote.
// posDir is the direction of the live position the bracket protects; it is
// read at evaluation time, not fixed at submission. Stop-loss is checked
// first and wins when one quote satisfies both bounds.
func BracketTriggerPrice(stopLoss, takeProfit *float64, posDir Direction, q price.Quote) (float64, bool) {
	bid := q.EffectiveBid()
	ask := q.EffectiveAsk()

	switch posDir {
	case Long:
		// 多头用 bid（卖出价）判定两侧边界。
		if stopLoss != nil && bid < *stopLoss {
			return *stopLoss, true
		}
		if takeProfit != nil && bid > *takeProfit {
			return *takeProfit, true
		}
	case Short:
		// 空头用 ask（买入价）判定两侧边界。
		if stopLoss != nil && ask > *stopLoss {
			return *stopLoss, true
		}
		if takeProfit != nil && ask < *takeProfit {
			return *takeProfit, true
		}
	}
	return 0, false
}

// TriggerPrice 按执行类别分派触发判定。
// BRACKET 订单没有活跃仓位时不触发（hasPosition=false）。
func TriggerPrice(o *Order, posDir Direction, hasPosition bool, q price.Quote) (float64, bool) {
	switch o.Kind {
	case KindLimit:
		return LimitTriggerPrice(o.Direction, q, o.LimitPrice)
	case KindBracket:
		if !hasPosition {
			return 0, false
		}
		return BracketTriggerPrice(o.StopLoss, o.TakeProfit, posDir, q)
	default:
		return 0, false
	}
}

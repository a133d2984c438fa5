// Package ledger defines the position and account collaborators the order
// engine calls into. The engine depends only on these interfaces; the
// ledgers never hold references back into engine types.
package ledger

import "limit-engine-go/order"

// BracketRef 是挂在仓位上的 bracket 订单引用（只存边界，不存引擎内部状态）。
type BracketRef struct {
	OrderID    string
	StopLoss   *float64
	TakeProfit *float64
}

// Position 是某 (trader, instrument) 的净持仓快照。
type Position struct {
	TraderID   string
	Instrument string
	Direction  order.Direction
	Quantity   float64 // 绝对数量，方向由 Direction 表示
	EntryPrice float64 // 平均入场价
	OpenedMs   int64
	FillCount  int // 已应用的成交次数
	Brackets   []BracketRef
}

// PositionLedger 是订单引擎消费的仓位台账窄接口。
type PositionLedger interface {
	// OpenPosition returns the live position for the pair, if any.
	OpenPosition(trader, instrument string) (*Position, bool)
	// ApplyFill applies an executed order to the book and returns the
	// updated position. Sizing and margin formulas live behind this call.
	ApplyFill(o *order.Order) (*Position, error)
	// AttachBracket records a pending bracket order against the position.
	// Returns false when no position exists to attach to.
	AttachBracket(trader, instrument string, o *order.Order) bool
	// DetachBracket removes a bracket reference; unknown ids are a no-op.
	DetachBracket(trader, instrument, orderID string)
	// IsEliminated reports whether the trader has been removed from the
	// network; startup recovery skips such traders.
	IsEliminated(trader string) bool
}

// AccountLedger 校验并预留购买力。由 PositionLedger 的 ApplyFill 间接调用。
type AccountLedger interface {
	// CheckAndReserve reserves buying power for the notional value and
	// returns the borrowed amount (zero when fully covered by capital).
	CheckAndReserve(trader string, notional float64) (float64, error)
}

package order

// Direction 表示订单方向。FLAT 仅用于市价平仓类指令，LIMIT 订单不允许。
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Opposite 返回反向方向；FLAT 无反向。
func (d Direction) Opposite() (Direction, bool) {
	switch d {
	case Long:
		return Short, true
	case Short:
		return Long, true
	default:
		return "", false
	}
}

// ExecutionKind 表示订单的执行类别。
type ExecutionKind string

const (
	KindMarket  ExecutionKind = "MARKET"
	KindLimit   ExecutionKind = "LIMIT"
	KindBracket ExecutionKind = "BRACKET"
	KindCancel  ExecutionKind = "CANCEL"
	KindEdit    ExecutionKind = "EDIT"
	KindFlatAll ExecutionKind = "FLAT_ALL"
)

// BracketSpec is an embedded stop-loss/take-profit carried on a LIMIT order.
// When the parent fills, each spec becomes a standalone BRACKET order.
type BracketSpec struct {
	ID         string   `json:"order_id,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Leverage   *float64 `json:"leverage,omitempty"`
	Notional   *float64 `json:"notional,omitempty"`
	Quantity   *float64 `json:"quantity,omitempty"`
}

// Order 是引擎的核心实体，同时作为磁盘持久化的记录格式。
type Order struct {
	ID         string        `json:"order_id"`
	TraderID   string        `json:"trader_id"`
	Instrument string        `json:"instrument_id"`
	Direction  Direction     `json:"direction"`
	Kind       ExecutionKind `json:"execution_kind"`

	// 三个尺寸字段恰好设置一个；BRACKET 可以全空，成交时继承仓位数量。
	Leverage *float64 `json:"leverage,omitempty"`
	Notional *float64 `json:"notional,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`

	LimitPrice float64  `json:"limit_price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	// 父 LIMIT 订单携带的子 bracket 规格，成交后合成独立 BRACKET 订单。
	Brackets []BracketSpec `json:"brackets,omitempty"`

	Status      Status `json:"status"`
	SubmittedMs int64  `json:"submitted_ms"`
	ProcessedMs int64  `json:"processed_ms"`

	// 成交后回填。
	FillPrice    float64  `json:"fill_price,omitempty"`
	BidAtFill    float64  `json:"bid_at_fill,omitempty"`
	AskAtFill    float64  `json:"ask_at_fill,omitempty"`
	PriceSources []string `json:"price_sources,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// SizeFieldCount 返回已设置的尺寸字段数量。
func (o *Order) SizeFieldCount() int {
	n := 0
	if o.Leverage != nil {
		n++
	}
	if o.Notional != nil {
		n++
	}
	if o.Quantity != nil {
		n++
	}
	return n
}

// HasBounds 判断是否至少设置了 stop_loss/take_profit 之一。
func (o *Order) HasBounds() bool {
	return o.StopLoss != nil || o.TakeProfit != nil
}

// Clone 深拷贝订单，避免调用方修改引擎内部状态。
func (o *Order) Clone() *Order {
	c := *o
	c.Leverage = cloneF(o.Leverage)
	c.Notional = cloneF(o.Notional)
	c.Quantity = cloneF(o.Quantity)
	c.StopLoss = cloneF(o.StopLoss)
	c.TakeProfit = cloneF(o.TakeProfit)
	if o.Brackets != nil {
		c.Brackets = make([]BracketSpec, len(o.Brackets))
		for i, b := range o.Brackets {
			c.Brackets[i] = BracketSpec{
				ID:         b.ID,
				StopLoss:   cloneF(b.StopLoss),
				TakeProfit: cloneF(b.TakeProfit),
				Leverage:   cloneF(b.Leverage),
				Notional:   cloneF(b.Notional),
				Quantity:   cloneF(b.Quantity),
			}
		}
	}
	if o.PriceSources != nil {
		c.PriceSources = append([]string(nil), o.PriceSources...)
	}
	return &c
}

func cloneF(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// F is a convenience for building optional size/bound fields.
func F(v float64) *float64 { return &v }

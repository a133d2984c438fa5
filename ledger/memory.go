package ledger

import (
	"fmt"
	"sync"

	"limit-engine-go/order"
)

type pairKey struct {
	trader     string
	instrument string
}

// MemoryPositions 内存仓位台账。净持仓按方向符号合并：
// 反向成交先减仓，穿过零点后反转方向。
type MemoryPositions struct {
	mu         sync.Mutex
	positions  map[pairKey]*Position
	eliminated map[string]bool
	accounts   AccountLedger
}

func NewMemoryPositions(accounts AccountLedger) *MemoryPositions {
	return &MemoryPositions{
		positions:  make(map[pairKey]*Position),
		eliminated: make(map[string]bool),
		accounts:   accounts,
	}
}

func (m *MemoryPositions) OpenPosition(trader, instrument string) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[pairKey{trader, instrument}]
	if !ok {
		return nil, false
	}
	return p.snapshot(), true
}

// ApplyFill 将已执行订单记入台账。数量解析顺序：quantity → notional/价格 →
// leverage（杠杆名义按账户基准资金折算，公式细节只存在于本包）。
func (m *MemoryPositions) ApplyFill(o *order.Order) (*Position, error) {
	if o.FillPrice <= 0 {
		return nil, ErrZeroFillPrice
	}

	m.mu.Lock()
	key := pairKey{o.TraderID, o.Instrument}
	var existing *Position
	if p := m.positions[key]; p != nil {
		existing = p.snapshot()
	}
	m.mu.Unlock()

	qty, err := m.resolveQuantity(o, existing)
	if err != nil {
		return nil, err
	}

	// 新增敞口才消耗购买力；减仓/平仓不需要。
	signed := qty
	if o.Direction == order.Short {
		signed = -qty
	}
	var prevSigned float64
	if existing != nil {
		prevSigned = existing.Quantity
		if existing.Direction == order.Short {
			prevSigned = -prevSigned
		}
	}
	newSigned := prevSigned + signed
	if abs(newSigned) > abs(prevSigned) && m.accounts != nil {
		addedNotional := (abs(newSigned) - abs(prevSigned)) * o.FillPrice
		if _, err := m.accounts.CheckAndReserve(o.TraderID, addedNotional); err != nil {
			return nil, fmt.Errorf("reserve buying power: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.positions[key]
	if newSigned == 0 {
		// 仓位归零即关闭；挂在上面的 bracket 引用随之失效。
		delete(m.positions, key)
		closed := &Position{
			TraderID:   o.TraderID,
			Instrument: o.Instrument,
			Direction:  order.Flat,
			EntryPrice: o.FillPrice,
			FillCount:  fillCount(p) + 1,
		}
		return closed, nil
	}

	dir := order.Long
	if newSigned < 0 {
		dir = order.Short
	}
	if p == nil {
		p = &Position{
			TraderID:   o.TraderID,
			Instrument: o.Instrument,
			EntryPrice: o.FillPrice,
			OpenedMs:   o.ProcessedMs,
		}
		m.positions[key] = p
	} else if abs(newSigned) > abs(prevSigned) {
		// 加仓时按数量加权更新平均入场价。
		added := abs(newSigned) - abs(prevSigned)
		p.EntryPrice = (p.EntryPrice*abs(prevSigned) + o.FillPrice*added) / abs(newSigned)
	}
	p.Direction = dir
	p.Quantity = abs(newSigned)
	p.FillCount++
	return p.snapshot(), nil
}

func (m *MemoryPositions) AttachBracket(trader, instrument string, o *order.Order) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[pairKey{trader, instrument}]
	if !ok {
		return false
	}
	for i, b := range p.Brackets {
		if b.OrderID == o.ID {
			p.Brackets[i] = BracketRef{OrderID: o.ID, StopLoss: o.StopLoss, TakeProfit: o.TakeProfit}
			return true
		}
	}
	p.Brackets = append(p.Brackets, BracketRef{OrderID: o.ID, StopLoss: o.StopLoss, TakeProfit: o.TakeProfit})
	return true
}

func (m *MemoryPositions) DetachBracket(trader, instrument, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[pairKey{trader, instrument}]
	if !ok {
		return
	}
	out := p.Brackets[:0]
	for _, b := range p.Brackets {
		if b.OrderID != orderID {
			out = append(out, b)
		}
	}
	p.Brackets = out
}

func (m *MemoryPositions) IsEliminated(trader string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eliminated[trader]
}

// Eliminate 标记被淘汰的 trader；恢复时其订单会被跳过。
func (m *MemoryPositions) Eliminate(trader string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eliminated[trader] = true
}

func (m *MemoryPositions) resolveQuantity(o *order.Order, p *Position) (float64, error) {
	switch {
	case o.Quantity != nil:
		return abs(*o.Quantity), nil
	case o.Notional != nil:
		return abs(*o.Notional) / o.FillPrice, nil
	case o.Leverage != nil:
		return abs(*o.Leverage) * baseCapital / o.FillPrice, nil
	case o.Kind == order.KindBracket && p != nil:
		// BRACKET 未指定尺寸时继承仓位净数量。
		return p.Quantity, nil
	default:
		return 0, ErrNoSize
	}
}

// baseCapital 是杠杆折算名义的基准资金。
const baseCapital = 100_000.0

func (p *Position) snapshot() *Position {
	c := *p
	c.Brackets = append([]BracketRef(nil), p.Brackets...)
	return &c
}

func fillCount(p *Position) int {
	if p == nil {
		return 0
	}
	return p.FillCount
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// MemoryAccounts 内存账户台账：固定购买力上限 + 可选的保证金借贷额度。
type MemoryAccounts struct {
	mu        sync.Mutex
	available map[string]float64
	marginCap map[string]float64
	defBP     float64
}

// NewMemoryAccounts 创建账户台账；defaultBuyingPower 用于未显式注资的账户。
func NewMemoryAccounts(defaultBuyingPower float64) *MemoryAccounts {
	return &MemoryAccounts{
		available: make(map[string]float64),
		marginCap: make(map[string]float64),
		defBP:     defaultBuyingPower,
	}
}

// Fund 设置账户购买力与保证金额度。
func (a *MemoryAccounts) Fund(trader string, buyingPower, marginCap float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available[trader] = buyingPower
	a.marginCap[trader] = marginCap
}

func (a *MemoryAccounts) CheckAndReserve(trader string, notional float64) (float64, error) {
	if notional <= 0 {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	avail, ok := a.available[trader]
	if !ok {
		avail = a.defBP
	}
	if notional <= avail {
		a.available[trader] = avail - notional
		return 0, nil
	}
	borrowed := notional - avail
	if borrowed > a.marginCap[trader] {
		return 0, fmt.Errorf("%w: need %.2f, available %.2f (margin cap %.2f)",
			ErrInsufficientFunds, notional, avail, a.marginCap[trader])
	}
	a.available[trader] = 0
	a.marginCap[trader] -= borrowed
	return borrowed, nil
}

// Release 释放购买力（平仓时由台账调用方归还名义）。
func (a *MemoryAccounts) Release(trader string, notional float64) {
	if notional <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available[trader] += notional
}

package store

import (
	"sort"
	"strings"
	"sync"

	"limit-engine-go/metrics"
	"limit-engine-go/order"
)

// Store 维护内存中的挂单表：(instrument, trader) → 按时间排序的订单列表，
// 以及 order_id → PairKey 的辅助索引，保证按 id 查找 O(1) 定位到 pair。
// 另带每个 trader 的有界「最近已关闭订单」缓存，供查询使用。
//
// 逻辑原子性由调用方持有 LockManager 的 pair 锁保证；Store 自身的读写锁
// 只保护 map 结构完整性，使不同 pair 的操作可以并发。
type Store struct {
	mu        sync.RWMutex
	pending   map[PairKey][]*order.Order
	index     map[string]PairKey
	closed    map[string][]*order.Order
	closedCap int
}

// New 创建空表。closedCap 是每个 trader 保留的已关闭订单条数上限。
func New(closedCap int) *Store {
	if closedCap <= 0 {
		closedCap = 100
	}
	return &Store{
		pending:   make(map[PairKey][]*order.Order),
		index:     make(map[string]PairKey),
		closed:    make(map[string][]*order.Order),
		closedCap: closedCap,
	}
}

// Append 追加一个挂单。调用方必须持有该 pair 的锁。
func (s *Store) Append(o *order.Order) {
	key := PairKey{Instrument: o.Instrument, Trader: o.TraderID}
	s.mu.Lock()
	s.pending[key] = append(s.pending[key], o)
	s.index[o.ID] = key
	total := s.totalPendingLocked()
	s.mu.Unlock()
	metrics.PendingOrders.Set(float64(total))
}

// Remove 按 id 摘除挂单，保持剩余订单的时间顺序。返回被摘除的订单。
func (s *Store) Remove(orderID string) (*order.Order, bool) {
	s.mu.Lock()
	key, ok := s.index[orderID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.index, orderID)
	var removed *order.Order
	list := s.pending[key]
	out := list[:0]
	for _, o := range list {
		if o.ID == orderID {
			removed = o
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		delete(s.pending, key)
	} else {
		s.pending[key] = out
	}
	total := s.totalPendingLocked()
	s.mu.Unlock()
	metrics.PendingOrders.Set(float64(total))
	return removed, removed != nil
}

// Replace 用同 id 的新订单原子替换旧订单（编辑路径）。
func (s *Store) Replace(o *order.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index[o.ID]
	if !ok {
		return false
	}
	for i, cur := range s.pending[key] {
		if cur.ID == o.ID {
			s.pending[key][i] = o
			return true
		}
	}
	return false
}

// Pending 返回该 pair 挂单列表的快照切片（共享底层订单指针）。
func (s *Store) Pending(instrument, trader string) []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.pending[PairKey{Instrument: instrument, Trader: trader}]
	return append([]*order.Order(nil), list...)
}

// UnfilledLimitsBefore 返回 beforeMs 之前提交且仍未成交的 LIMIT 订单。
// beforeMs <= 0 表示不过滤时间。
func (s *Store) UnfilledLimitsBefore(instrument, trader string, beforeMs int64) []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*order.Order
	for _, o := range s.pending[PairKey{Instrument: instrument, Trader: trader}] {
		if o.Kind != order.KindLimit || o.Status != order.StatusLimitUnfilled {
			continue
		}
		if beforeMs > 0 && o.ProcessedMs >= beforeMs {
			continue
		}
		out = append(out, o)
	}
	return out
}

// FindByID 按 id 查找该 trader 的挂单。
func (s *Store) FindByID(trader, orderID string) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.index[orderID]
	if !ok || key.Trader != trader {
		return nil, false
	}
	for _, o := range s.pending[key] {
		if o.ID == orderID {
			return o, true
		}
	}
	return nil, false
}

// FindOpenByPrefix 返回 id 以 prefix 开头的未成交 BRACKET 订单，
// 以及 id 精确匹配的未成交 LIMIT 订单（父 id 取消合成 bracket 的约定）。
func (s *Store) FindOpenByPrefix(trader, prefix string) []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*order.Order
	for key, list := range s.pending {
		if key.Trader != trader {
			continue
		}
		for _, o := range list {
			switch {
			case o.ID == prefix && o.Status == order.StatusLimitUnfilled:
				out = append(out, o)
			case o.Status == order.StatusBracketUnfilled && strings.HasPrefix(o.ID, prefix):
				out = append(out, o)
			}
		}
	}
	return out
}

// CountPending 统计该 trader 在所有 instrument 上的挂单数量。
func (s *Store) CountPending(trader string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key, list := range s.pending {
		if key.Trader == trader {
			n += len(list)
		}
	}
	return n
}

// Instruments 返回当前有挂单的标的列表（去重、排序，保证扫单顺序稳定）。
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for key := range s.pending {
		seen[key.Instrument] = true
	}
	out := make([]string, 0, len(seen))
	for inst := range seen {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// TradersFor 返回该标的下有挂单的 trader 列表（排序）。
func (s *Store) TradersFor(instrument string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key := range s.pending {
		if key.Instrument == instrument {
			out = append(out, key.Trader)
		}
	}
	sort.Strings(out)
	return out
}

// AppendClosed 把已关闭订单放入 trader 的有界缓存，超限时淘汰最旧的。
func (s *Store) AppendClosed(trader string, o *order.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.closed[trader], o)
	if len(list) > s.closedCap {
		list = list[len(list)-s.closedCap:]
	}
	s.closed[trader] = list
}

// RecentClosed 返回 trader 最近关闭订单的快照。
func (s *Store) RecentClosed(trader string) []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*order.Order(nil), s.closed[trader]...)
}

// PurgeTrader 摘除该 trader 的全部挂单（淘汰清理路径），返回被摘除的订单。
func (s *Store) PurgeTrader(trader string) []*order.Order {
	s.mu.Lock()
	var purged []*order.Order
	for key, list := range s.pending {
		if key.Trader != trader {
			continue
		}
		for _, o := range list {
			delete(s.index, o.ID)
			purged = append(purged, o)
		}
		delete(s.pending, key)
	}
	delete(s.closed, trader)
	total := s.totalPendingLocked()
	s.mu.Unlock()
	metrics.PendingOrders.Set(float64(total))
	return purged
}

// TotalPending 返回全部挂单数量。
func (s *Store) TotalPending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPendingLocked()
}

// PairCount 返回当前存在挂单的 pair 数量。
func (s *Store) PairCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// SortPending 按 ProcessedMs 重排各列表；启动恢复后调用一次。
func (s *Store) SortPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.pending {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ProcessedMs < list[j].ProcessedMs })
		s.pending[key] = list
	}
}

func (s *Store) totalPendingLocked() int {
	n := 0
	for _, list := range s.pending {
		n += len(list)
	}
	return n
}

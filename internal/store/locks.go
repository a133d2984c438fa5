package store

import "sync"

// PairKey 是互斥与存储的最小单元：一个 (instrument, trader) 组合。
type PairKey struct {
	Instrument string
	Trader     string
}

// LockManager 按需创建并缓存每个 pair 的互斥锁。
// 锁不可重入：调用方遵循「锁内判定、锁外成交、复查状态」的模式，
// 不依赖重入语义。
type LockManager struct {
	mu    sync.Mutex
	locks map[PairKey]*sync.Mutex
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[PairKey]*sync.Mutex)}
}

// Pair 返回该组合的互斥锁，首次访问时惰性创建。
func (m *LockManager) Pair(instrument, trader string) *sync.Mutex {
	key := PairKey{Instrument: instrument, Trader: trader}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

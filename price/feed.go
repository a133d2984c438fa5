package price

import (
	"sort"
	"sync"
)

// Feed 维护每个标的的报价序列，并实现 Service 接口。
// gateway 的行情客户端通过 Push 写入；引擎只读。
type Feed struct {
	mu         sync.RWMutex
	quotes     map[string][]Quote
	marketOpen map[string]bool
	sourceRank map[string]int
	maxPerInst int
}

// NewFeed 创建报价缓存。sourceRank 决定 SortedQuotes 的优先级，
// 数值越小越优先；未知来源排在已知来源之后。
func NewFeed(sourceRank map[string]int) *Feed {
	if sourceRank == nil {
		sourceRank = map[string]int{}
	}
	return &Feed{
		quotes:     make(map[string][]Quote),
		marketOpen: make(map[string]bool),
		sourceRank: sourceRank,
		maxPerInst: 4096,
	}
}

// Push 记录一条报价。序列按到达顺序保存，超长时修剪最旧的部分。
func (f *Feed) Push(q Quote) {
	if q.Instrument == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := append(f.quotes[q.Instrument], q)
	if len(seq) > f.maxPerInst {
		seq = seq[len(seq)-f.maxPerInst:]
	}
	f.quotes[q.Instrument] = seq
}

// SetMarketOpen 设置标的市场开闭状态（由行情网关或日历喂入）。
func (f *Feed) SetMarketOpen(instrument string, open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketOpen[instrument] = open
}

// IsMarketOpen 未显式设置的标的视为开市（加密货币等 7x24 市场）。
func (f *Feed) IsMarketOpen(instrument string, nowMs int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	open, ok := f.marketOpen[instrument]
	if !ok {
		return true
	}
	return open
}

// QuotesInWindow 返回时间窗内的报价快照。
func (f *Feed) QuotesInWindow(instrument string, startMs, endMs int64) []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Quote
	for _, q := range f.quotes[instrument] {
		if q.TsMs >= startMs && q.TsMs <= endMs {
			out = append(out, q)
		}
	}
	return out
}

// SortedQuotes 返回不晚于 nowMs 的每个来源的最新报价，按来源优先级排序。
// 即时成交路径只取第一条。
func (f *Feed) SortedQuotes(instrument string, nowMs int64) []Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()

	latest := make(map[string]Quote)
	for _, q := range f.quotes[instrument] {
		if q.TsMs > nowMs {
			continue
		}
		if cur, ok := latest[q.Source]; !ok || q.TsMs > cur.TsMs {
			latest[q.Source] = q
		}
	}
	if len(latest) == 0 {
		return nil
	}
	out := make([]Quote, 0, len(latest))
	for _, q := range latest {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := f.rank(out[i].Source), f.rank(out[j].Source)
		if ri != rj {
			return ri < rj
		}
		return out[i].TsMs > out[j].TsMs
	})
	return out
}

func (f *Feed) rank(source string) int {
	if r, ok := f.sourceRank[source]; ok {
		return r
	}
	return len(f.sourceRank) + 1
}

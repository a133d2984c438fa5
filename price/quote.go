package price

import "sort"

// Quote is a single observation from one upstream price source.
type Quote struct {
	Instrument string  `json:"instrument"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Open       float64 `json:"open"`
	Close      float64 `json:"close"`
	TsMs       int64   `json:"ts_ms"`
	Source     string  `json:"source"`
}

// EffectiveBid 返回 bid，缺失时回退到 open。
func (q Quote) EffectiveBid() float64 {
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Open
}

// EffectiveAsk 返回 ask，缺失时回退到 open。
func (q Quote) EffectiveAsk() float64 {
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Open
}

// MedianByClose 按 close 排序后取中位报价，抵抗单一来源的异常值。
// 窗口为空时第二个返回值为 false。
func MedianByClose(quotes []Quote) (Quote, bool) {
	if len(quotes) == 0 {
		return Quote{}, false
	}
	sorted := make([]Quote, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Close < sorted[j].Close })
	return sorted[len(sorted)/2], true
}

// Service is the narrow contract the order engine consumes.
type Service interface {
	// IsMarketOpen reports whether the instrument's market trades at nowMs.
	IsMarketOpen(instrument string, nowMs int64) bool
	// QuotesInWindow returns quotes observed in [startMs, endMs].
	QuotesInWindow(instrument string, startMs, endMs int64) []Quote
	// SortedQuotes returns the freshest quotes ranked best-first, used by the
	// immediate-fill path at submission time.
	SortedQuotes(instrument string, nowMs int64) []Quote
}

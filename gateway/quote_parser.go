package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"limit-engine-go/price"
)

// 上游 combined stream 的两类消息。
const (
	StreamQuote        = "quote"
	StreamMarketStatus = "market_status"
)

// CombinedMessage 对应上游 combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// QuoteUpdate 单个来源的一次报价。
type QuoteUpdate struct {
	Instrument string      `json:"s"`
	Bid        json.Number `json:"b"`
	Ask        json.Number `json:"a"`
	Open       json.Number `json:"o"`
	Close      json.Number `json:"c"`
	TsMs       int64       `json:"t"`
	Source     string      `json:"src"`
}

// MarketStatusUpdate 市场开闭状态。
type MarketStatusUpdate struct {
	Instrument string `json:"s"`
	Open       bool   `json:"open"`
}

// StreamKind 返回消息所属的流类型（stream 名的后缀）。
func StreamKind(raw []byte) (string, error) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", err
	}
	idx := strings.LastIndex(msg.Stream, "@")
	if idx < 0 {
		return "", fmt.Errorf("malformed stream name %q", msg.Stream)
	}
	return msg.Stream[idx+1:], nil
}

// ParseCombinedQuote 解析 combined stream 的 quote 消息。
func ParseCombinedQuote(raw []byte) (price.Quote, error) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return price.Quote{}, err
	}
	var upd QuoteUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		return price.Quote{}, err
	}
	if upd.Instrument == "" {
		return price.Quote{}, fmt.Errorf("quote missing instrument")
	}
	q := price.Quote{
		Instrument: upd.Instrument,
		TsMs:       upd.TsMs,
		Source:     upd.Source,
	}
	// bid/ask 可以缺失，引擎侧回退到 open
	q.Bid, _ = upd.Bid.Float64()
	q.Ask, _ = upd.Ask.Float64()
	q.Open, _ = upd.Open.Float64()
	q.Close, _ = upd.Close.Float64()
	return q, nil
}

// ParseMarketStatus 解析市场开闭状态消息。
func ParseMarketStatus(raw []byte) (instrument string, open bool, err error) {
	var msg CombinedMessage
	if err = json.Unmarshal(raw, &msg); err != nil {
		return
	}
	var upd MarketStatusUpdate
	if err = json.Unmarshal(msg.Data, &upd); err != nil {
		return
	}
	if upd.Instrument == "" {
		err = fmt.Errorf("market status missing instrument")
		return
	}
	return upd.Instrument, upd.Open, nil
}

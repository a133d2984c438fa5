package engine

import "fmt"

// NotFoundError 表示 trader 名下不存在可操作的订单。
type NotFoundError struct {
	TraderID string
	OrderID  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found for trader %s", e.OrderID, e.TraderID)
}

// BracketSynthesisError 表示父订单成交后合成子 bracket 失败。
// 父订单的成交不回滚，失败的子单被丢弃并告警。
type BracketSynthesisError struct {
	ParentID  string
	BracketID string
	Err       error
}

func (e *BracketSynthesisError) Error() string {
	return fmt.Sprintf("synthesize bracket %s from parent %s: %v", e.BracketID, e.ParentID, e.Err)
}

func (e *BracketSynthesisError) Unwrap() error { return e.Err }

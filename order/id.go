package order

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates an order id when the caller did not supply one.
func NewID() string {
	return uuid.NewString()
}

// BracketID 由父订单 id 派生子 bracket 订单 id。
// 前缀匹配使调用方可以用父 id 取消合成出来的 bracket 订单。
func BracketID(parentID string, i int) string {
	return fmt.Sprintf("%s-bracket-%d", parentID, i)
}

package order

// Status represents order lifecycle. Pending orders carry an *_UNFILLED
// status; fills and cancels move them to the matching terminal status.
// Transitions are one-directional: terminal states never reopen.
type Status string

const (
	StatusLimitUnfilled    Status = "LIMIT_UNFILLED"
	StatusLimitFilled      Status = "LIMIT_FILLED"
	StatusLimitCancelled   Status = "LIMIT_CANCELLED"
	StatusBracketUnfilled  Status = "BRACKET_UNFILLED"
	StatusBracketFilled    Status = "BRACKET_FILLED"
	StatusBracketCancelled Status = "BRACKET_CANCELLED"

	// StatusImmediate marks an order whose trigger was already satisfied at
	// submission time; it executed as a market fill and was never pending.
	StatusImmediate Status = "IMMEDIATE"
)

// Open 判断订单是否仍在等待成交。
func (s Status) Open() bool {
	return s == StatusLimitUnfilled || s == StatusBracketUnfilled
}

// Terminal 判断是否为终态（FILLED/CANCELLED/IMMEDIATE），终态不可再转换。
func (s Status) Terminal() bool {
	switch s {
	case StatusLimitFilled, StatusLimitCancelled,
		StatusBracketFilled, StatusBracketCancelled, StatusImmediate:
		return true
	default:
		return false
	}
}

// Filled reports whether the order executed.
func (s Status) Filled() bool {
	return s == StatusLimitFilled || s == StatusBracketFilled || s == StatusImmediate
}

// Cancelled reports whether the order terminated without executing.
func (s Status) Cancelled() bool {
	return s == StatusLimitCancelled || s == StatusBracketCancelled
}

// FillTarget 返回成交后的目标状态；当前状态不可成交时第二个返回值为 false。
func (s Status) FillTarget() (Status, bool) {
	switch s {
	case StatusLimitUnfilled:
		return StatusLimitFilled, true
	case StatusBracketUnfilled:
		return StatusBracketFilled, true
	default:
		return "", false
	}
}

// CancelTarget 返回取消后的目标状态；终态取消返回 false。
func (s Status) CancelTarget() (Status, bool) {
	switch s {
	case StatusLimitUnfilled:
		return StatusLimitCancelled, true
	case StatusBracketUnfilled:
		return StatusBracketCancelled, true
	default:
		return "", false
	}
}

// Group collapses a status to its query bucket: UNFILLED, FILLED or CANCELLED.
func (s Status) Group() string {
	switch {
	case s.Open():
		return "UNFILLED"
	case s.Filled():
		return "FILLED"
	case s.Cancelled():
		return "CANCELLED"
	default:
		return string(s)
	}
}

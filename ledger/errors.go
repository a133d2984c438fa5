package ledger

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient buying power")
	ErrNoPosition        = errors.New("no open position")
	ErrZeroFillPrice     = errors.New("fill price must be > 0")
	ErrNoSize            = errors.New("order carries no resolvable size")
)

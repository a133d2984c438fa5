package order

// ValidateSubmit 对新提交（或编辑重校验）的订单做字段级校验。
// 业务规则校验（仓位存在性、参考价边界）由引擎在持有对锁时补充。
func ValidateSubmit(o *Order) error {
	if o.ID == "" {
		return Invalidf("order_id is required")
	}
	if o.TraderID == "" {
		return Invalidf("trader_id is required")
	}
	if o.Instrument == "" {
		return Invalidf("instrument_id is required")
	}

	switch o.Kind {
	case KindLimit:
		return validateLimit(o)
	case KindBracket:
		return validateBracket(o)
	default:
		return Invalidf("unsupported execution kind %q for pending order", o.Kind)
	}
}

func validateLimit(o *Order) error {
	if o.SizeFieldCount() != 1 {
		return Invalidf("exactly one of leverage/notional/quantity must be set, got %d", o.SizeFieldCount())
	}
	if o.LimitPrice <= 0 {
		return Invalidf("limit orders require limit_price > 0 (got %v)", o.LimitPrice)
	}
	if o.Direction != Long && o.Direction != Short {
		return Invalidf("limit orders require direction LONG or SHORT (got %q)", o.Direction)
	}
	for i, b := range o.Brackets {
		if err := validateBracketSpec(i, b); err != nil {
			return err
		}
		// 子 bracket 的边界以 limit_price 为参考价预检。
		if err := ValidateBounds(o.Direction, b.StopLoss, b.TakeProfit, o.LimitPrice, BracketID(o.ID, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateBracket(o *Order) error {
	if !o.HasBounds() {
		return Invalidf("bracket orders require at least one of stop_loss/take_profit")
	}
	if o.StopLoss != nil && *o.StopLoss <= 0 {
		return Invalidf("stop_loss must be > 0 (got %v)", *o.StopLoss)
	}
	if o.TakeProfit != nil && *o.TakeProfit <= 0 {
		return Invalidf("take_profit must be > 0 (got %v)", *o.TakeProfit)
	}
	// BRACKET 允许不带尺寸字段：成交时继承所挂仓位的净数量。
	if o.SizeFieldCount() > 1 {
		return Invalidf("at most one of leverage/notional/quantity may be set, got %d", o.SizeFieldCount())
	}
	return nil
}

func validateBracketSpec(i int, b BracketSpec) error {
	if b.StopLoss == nil && b.TakeProfit == nil {
		return Invalidf("brackets[%d]: at least one of stop_loss/take_profit required", i)
	}
	if b.StopLoss != nil && *b.StopLoss <= 0 {
		return Invalidf("brackets[%d]: stop_loss must be > 0", i)
	}
	if b.TakeProfit != nil && *b.TakeProfit <= 0 {
		return Invalidf("brackets[%d]: take_profit must be > 0", i)
	}
	sizes := 0
	for _, v := range []*float64{b.Leverage, b.Notional, b.Quantity} {
		if v != nil {
			sizes++
		}
	}
	if sizes != 1 {
		return Invalidf("brackets[%d]: exactly one of leverage/notional/quantity required", i)
	}
	return nil
}

// ValidateBounds 校验 SL/TP 相对参考价的位置。
// LONG 要求 stop_loss < ref < take_profit，SHORT 相反；两侧都严格排除相等。
func ValidateBounds(dir Direction, stopLoss, takeProfit *float64, ref float64, id string) error {
	switch dir {
	case Long:
		if stopLoss != nil && *stopLoss >= ref {
			return Invalidf("[%s] LONG bracket: stop_loss (%v) must be < reference price (%v)", id, *stopLoss, ref)
		}
		if takeProfit != nil && *takeProfit <= ref {
			return Invalidf("[%s] LONG bracket: take_profit (%v) must be > reference price (%v)", id, *takeProfit, ref)
		}
	case Short:
		if stopLoss != nil && *stopLoss <= ref {
			return Invalidf("[%s] SHORT bracket: stop_loss (%v) must be > reference price (%v)", id, *stopLoss, ref)
		}
		if takeProfit != nil && *takeProfit >= ref {
			return Invalidf("[%s] SHORT bracket: take_profit (%v) must be < reference price (%v)", id, *takeProfit, ref)
		}
	default:
		return Invalidf("[%s] bracket direction must be LONG or SHORT (got %q)", id, dir)
	}
	return nil
}

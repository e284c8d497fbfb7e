package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction 信号动作
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// TradingSignal 交易信号。信号源每个周期每个交易对产出一个，发出后不可修改（按值传递）。
type TradingSignal struct {
	Action    SignalAction
	Pair      Pair
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Strength  float64 // [0,1]
	Reason    string
	Timestamp time.Time
}

// Hold 构造一个观望信号
func Hold(pair Pair, reason string, ts time.Time) TradingSignal {
	return TradingSignal{Action: ActionHold, Pair: pair, Reason: reason, Timestamp: ts}
}

// IsHold 是否观望
func (s TradingSignal) IsHold() bool {
	return s.Action == ActionHold
}

// Notional 名义价值 quantity × price
func (s TradingSignal) Notional() decimal.Decimal {
	return s.Quantity.Mul(s.Price)
}

// Side 将信号动作映射为订单方向；Hold 没有方向
func (s TradingSignal) Side() (Side, bool) {
	switch s.Action {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}

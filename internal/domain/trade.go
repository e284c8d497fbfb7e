package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill 一次成交增量（由订单跟踪器根据 filled_quantity 的差值生成）
// Quantity 是增量而不是累计值，同一增量只会推送一次。
type Fill struct {
	ClientOrderID string
	Pair          Pair
	Side          Side
	Quantity      decimal.Decimal // 本次新增成交数量
	Price         decimal.Decimal // 成交均价
	Fee           decimal.Decimal // 本次新增手续费（计价币种）
	Time          time.Time
}

// Notional 成交额（不含手续费）
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

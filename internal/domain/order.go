package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"          // 已发出下单请求，交易所尚未确认
	OrderStatusOpen            OrderStatus = "open"             // 交易所已确认挂单
	OrderStatusPartiallyFilled OrderStatus = "partially_filled" // 部分成交
	OrderStatusFilled          OrderStatus = "filled"           // 全部成交
	OrderStatusCancelled       OrderStatus = "cancelled"        // 已取消（含交易所查无此单）
	OrderStatusRejected        OrderStatus = "rejected"         // 交易所拒单
	OrderStatusExpired         OrderStatus = "expired"          // 超时由清理器撤单
)

// IsTerminal 最终状态不会再发生任何迁移
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsActive pending/open/partially_filled 视为在途订单
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// OrderRecord 订单记录，以 ClientOrderID 为主键持久化。
// 只有下单器可以创建，跟踪器和清理器只能通过 order_state.go 中定义的迁移修改状态。
type OrderRecord struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Pair            Pair            `json:"pair"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Status          OrderStatus     `json:"status"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	Fee             decimal.Decimal `json:"fee"`
	CancelRequested bool            `json:"cancel_requested"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastCheckedAt   time.Time       `json:"last_checked_at"`
}

// Notional 订单名义价值
func (o *OrderRecord) Notional() decimal.Decimal {
	return o.Quantity.Mul(o.Price)
}

// Remaining 剩余未成交数量
func (o *OrderRecord) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// IsTerminal 是否已是最终状态
func (o *OrderRecord) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Clone 深拷贝（decimal 为值类型，结构体复制即可）
func (o *OrderRecord) Clone() *OrderRecord {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

// ExchangeOrder 交易所返回的权威订单状态
type ExchangeOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          OrderStatus
	FilledQuantity  decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal // 累计手续费（计价币种）
	UpdatedAt       time.Time
}

// OrderRequest 提交给交易所的下单参数
type OrderRequest struct {
	ClientOrderID string
	Pair          Pair
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

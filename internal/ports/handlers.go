package ports

import (
	"context"

	"github.com/betbot/spotguard/internal/domain"
)

// OrderUpdateHandler 订单状态变化回调（串行投递）。
//
// NOTE: defined in a neutral package to avoid circular dependencies between
// services, metrics and the status API.
type OrderUpdateHandler interface {
	OnOrderUpdate(ctx context.Context, prev domain.OrderStatus, rec *domain.OrderRecord)
}

// FillSink 接收成交增量（账户缓存实现）
type FillSink interface {
	ApplyFill(fill domain.Fill)
}

// SignalSource 信号源：每个周期被同步调用一次，为每个跟踪的交易对产出一个信号。
type SignalSource interface {
	Signals(ctx context.Context) ([]domain.TradingSignal, error)
}

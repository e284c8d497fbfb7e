package ports

import (
	"context"

	"github.com/betbot/spotguard/internal/domain"
)

// Exchange 交易所能力接口。错误必须是 *domain.ExchangeError 以便区分可重试/终态。
type Exchange interface {
	// SubmitOrder 下单。ClientOrderID 是幂等键：同一 id 重复提交最多只产生一笔交易所订单。
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error)
	// GetOrder 查询权威状态。orderID 可以是交易所订单号或客户端订单号。
	GetOrder(ctx context.Context, orderID string, pair domain.Pair) (*domain.ExchangeOrder, error)
	// CancelOrder 撤单请求，只是建议性的，最终结果以 GetOrder 为准。
	CancelOrder(ctx context.Context, orderID string, pair domain.Pair) error
	// ListBalances 全量余额
	ListBalances(ctx context.Context) (*domain.BalanceSnapshot, error)
}

// MarketData 行情能力（外部协作者）
type MarketData interface {
	GetTicker(ctx context.Context, pair domain.Pair) (*domain.Ticker, error)
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits 风控限额（外部配置加载，核心只读）
type RiskLimits struct {
	MaxPositionRatio  decimal.Decimal // 单交易对持仓名义价值 / 权益 上限
	MaxDailyLoss      decimal.Decimal // 当日已实现亏损 / 权益 上限
	MinOrderAmount    decimal.Decimal // 最小下单金额（计价币种）
	MaxPriceDeviation decimal.Decimal // 信号价格相对市价的最大偏离比例
	MaxOrderAge       time.Duration   // 挂单最长存活时间，超过由清理器撤单
	MaxSnapshotAge    time.Duration   // 账户快照允许的最大陈旧时间
}

// RejectReason 拒绝原因标签
type RejectReason string

const (
	ReasonNone                   RejectReason = ""
	ReasonStaleAccountState      RejectReason = "stale_account_state"
	ReasonDailyLossExceeded      RejectReason = "daily_loss_exceeded"
	ReasonMinNotional            RejectReason = "min_notional"
	ReasonInsufficientBalance    RejectReason = "insufficient_balance"
	ReasonPositionSizeExceeded   RejectReason = "position_size_exceeded"
	ReasonPriceDeviationExceeded RejectReason = "price_deviation_exceeded"
	ReasonInvalidSignal          RejectReason = "invalid_signal"
	ReasonCircuitOpen            RejectReason = "circuit_open"
)

// RiskDecision 风控结论，不落库
type RiskDecision struct {
	Accepted bool
	Reason   RejectReason // 仅拒绝时设置
}

// Accept 通过
func Accept() RiskDecision { return RiskDecision{Accepted: true} }

// Reject 拒绝并给出原因
func Reject(reason RejectReason) RiskDecision {
	return RiskDecision{Accepted: false, Reason: reason}
}

package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
)

var log = logrus.WithField("component", "risk_gate")

// Check 纯函数风控评估：无副作用、无网络调用。
//
// 检查顺序（首个失败即返回）：
//
//	Hold 直接通过；快照陈旧一律拒绝（fail closed）
//	1. 当日亏损  2. 最小下单额  3. 余额充足  4. 单对持仓上限  5. 价格偏离
//
// 约定：除最小下单额外，限额 <= 0 表示关闭对应检查。
func Check(limits domain.RiskLimits, now time.Time, sig domain.TradingSignal, snap domain.AccountSnapshot, marketPrice decimal.Decimal) domain.RiskDecision {
	if sig.IsHold() {
		return domain.Accept()
	}
	side, ok := sig.Side()
	if !ok {
		return domain.Reject(domain.ReasonInvalidSignal)
	}

	if isStale(limits, now, snap) {
		return domain.Reject(domain.ReasonStaleAccountState)
	}

	equity := snap.TotalEquity

	// 1. 当日已实现亏损
	// 权益 ≤ 0 时上限为 0，即便当日尚无亏损也拒绝
	if limits.MaxDailyLoss.IsPositive() {
		if snap.DailyRealizedLoss.GreaterThanOrEqual(limits.MaxDailyLoss.Mul(equity)) {
			return domain.Reject(domain.ReasonDailyLossExceeded)
		}
	}

	// 2. 最小下单额；数量或价格非正同样视为不足
	notional := sig.Notional()
	if !sig.Quantity.IsPositive() || !sig.Price.IsPositive() || notional.LessThan(limits.MinOrderAmount) {
		return domain.Reject(domain.ReasonMinNotional)
	}

	if !sig.Pair.IsValid() {
		return domain.Reject(domain.ReasonInvalidSignal)
	}
	base, quote := sig.Pair.Base(), sig.Pair.Quote()

	// 3. 余额
	switch side {
	case domain.SideBuy:
		if snap.Available(quote).LessThan(notional) {
			return domain.Reject(domain.ReasonInsufficientBalance)
		}
	case domain.SideSell:
		if snap.Available(base).LessThan(sig.Quantity) {
			return domain.Reject(domain.ReasonInsufficientBalance)
		}
	}

	if !marketPrice.IsPositive() {
		return domain.Reject(domain.ReasonInvalidSignal)
	}

	// 4. 单对持仓上限（只约束买入）
	if side == domain.SideBuy && limits.MaxPositionRatio.IsPositive() {
		exposure := snap.Holding(base).Mul(marketPrice)
		if exposure.Add(notional).GreaterThan(limits.MaxPositionRatio.Mul(equity)) {
			return domain.Reject(domain.ReasonPositionSizeExceeded)
		}
	}

	// 5. 价格偏离
	if limits.MaxPriceDeviation.IsPositive() {
		dev := sig.Price.Sub(marketPrice).Abs().Div(marketPrice)
		if dev.GreaterThan(limits.MaxPriceDeviation) {
			return domain.Reject(domain.ReasonPriceDeviationExceeded)
		}
	}

	return domain.Accept()
}

// 零值 UpdatedAt 永远视为陈旧
func isStale(limits domain.RiskLimits, now time.Time, snap domain.AccountSnapshot) bool {
	if snap.UpdatedAt.IsZero() {
		return true
	}
	if limits.MaxSnapshotAge <= 0 {
		return false
	}
	return now.Sub(snap.UpdatedAt) > limits.MaxSnapshotAge
}

// Gate 风控闸门：固定限额 + 熔断器。
type Gate struct {
	limits  domain.RiskLimits
	breaker *CircuitBreaker
	now     func() time.Time
}

// NewGate breaker 可以为 nil（不熔断）
func NewGate(limits domain.RiskLimits, breaker *CircuitBreaker) *Gate {
	return &Gate{limits: limits, breaker: breaker, now: time.Now}
}

// WithClock 测试用
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Limits 当前限额（只读副本）
func (g *Gate) Limits() domain.RiskLimits {
	return g.limits
}

// Breaker 熔断器
func (g *Gate) Breaker() *CircuitBreaker {
	return g.breaker
}

// Evaluate 评估信号。拒绝是决策不是错误，只记录日志，不会重试。
func (g *Gate) Evaluate(sig domain.TradingSignal, snap domain.AccountSnapshot, marketPrice decimal.Decimal) domain.RiskDecision {
	now := g.now()
	d := Check(g.limits, now, sig, snap, marketPrice)
	if d.Accepted && !sig.IsHold() && g.breaker != nil {
		if err := g.breaker.AllowTrading(); err != nil {
			d = domain.Reject(domain.ReasonCircuitOpen)
		}
	}
	if !d.Accepted {
		log.WithFields(logrus.Fields{
			"pair":     sig.Pair,
			"action":   sig.Action,
			"qty":      sig.Quantity.String(),
			"price":    sig.Price.String(),
			"market":   marketPrice.String(),
			"reason":   d.Reason,
			"equity":   snap.TotalEquity.String(),
			"snapshot": snap.UpdatedAt.Format(time.RFC3339),
		}).Info("🛡️ [风控] 信号被拒绝")
	}
	return d
}

package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/betbot/spotguard/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionRatio:  dec("0.1"),
		MaxDailyLoss:      dec("0.02"),
		MinOrderAmount:    dec("10"),
		MaxPriceDeviation: dec("0.02"),
		MaxSnapshotAge:    time.Minute,
	}
}

// 权益 1000 USDT，全部可用
func cashSnapshot() domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Balances:    map[string]domain.Balance{"USDT": {Currency: "USDT", Available: dec("1000")}},
		TotalEquity: dec("1000"),
		TradingDay:  domain.TradingDayOf(t0),
		UpdatedAt:   t0,
	}
}

func buy(qty, price string) domain.TradingSignal {
	return domain.TradingSignal{Action: domain.ActionBuy, Pair: "BTC_USDT", Quantity: dec(qty), Price: dec(price), Timestamp: t0}
}

func sell(qty, price string) domain.TradingSignal {
	s := buy(qty, price)
	s.Action = domain.ActionSell
	return s
}

func TestCheckScenarios(t *testing.T) {
	limits := testLimits()
	snap := cashSnapshot()

	d := Check(limits, t0, buy("0.001", "50000"), snap, dec("50000"))
	assert.True(t, d.Accepted, "value 50 within every limit")

	d = Check(limits, t0, buy("0.003", "50000"), snap, dec("50000"))
	assert.False(t, d.Accepted)
	assert.Equal(t, domain.ReasonPositionSizeExceeded, d.Reason)
}

func TestPositionSizeBoundary(t *testing.T) {
	limits := testLimits()
	snap := cashSnapshot()

	d := Check(limits, t0, buy("1", "100.000001"), snap, dec("100.000001"))
	assert.Equal(t, domain.ReasonPositionSizeExceeded, d.Reason)

	d = Check(limits, t0, buy("1", "99.999999"), snap, dec("99.999999"))
	assert.True(t, d.Accepted)

	d = Check(limits, t0, buy("1", "100"), snap, dec("100"))
	assert.True(t, d.Accepted, "exactly at the cap is allowed")
}

func TestPositionIncludesExistingHolding(t *testing.T) {
	snap := cashSnapshot()
	snap.Balances["BTC"] = domain.Balance{Currency: "BTC", Available: dec("0.001")}

	// 已有 50 持仓，再买 60 超过 100
	d := Check(testLimits(), t0, buy("0.0012", "50000"), snap, dec("50000"))
	assert.Equal(t, domain.ReasonPositionSizeExceeded, d.Reason)

	// 卖出不受持仓上限约束
	d = Check(testLimits(), t0, sell("0.001", "50000"), snap, dec("50000"))
	assert.True(t, d.Accepted)
}

func TestMinNotional(t *testing.T) {
	cases := []domain.TradingSignal{
		buy("0.0001", "50000"), // 5
		buy("0.0001999", "50000"),
		buy("0", "50000"),
		buy("1", "0"),
		buy("-1", "50000"),
	}
	for _, sig := range cases {
		d := Check(testLimits(), t0, sig, cashSnapshot(), dec("50000"))
		assert.Equal(t, domain.ReasonMinNotional, d.Reason, "qty=%s price=%s", sig.Quantity, sig.Price)
	}
}

func TestStaleSnapshotRejectsEverything(t *testing.T) {
	snap := cashSnapshot()
	later := t0.Add(time.Minute + time.Second)

	for _, sig := range []domain.TradingSignal{buy("0.001", "50000"), sell("0.001", "50000"), buy("0", "0")} {
		d := Check(testLimits(), later, sig, snap, dec("50000"))
		assert.Equal(t, domain.ReasonStaleAccountState, d.Reason)
	}

	var zero domain.AccountSnapshot
	d := Check(testLimits(), t0, buy("0.001", "50000"), zero, dec("50000"))
	assert.Equal(t, domain.ReasonStaleAccountState, d.Reason)

	// Hold 永远通过
	d = Check(testLimits(), later, domain.Hold("BTC_USDT", "", t0), snap, dec("50000"))
	assert.True(t, d.Accepted)
}

func TestOtherRejections(t *testing.T) {
	limits := testLimits()

	snap := cashSnapshot()
	snap.DailyRealizedLoss = dec("20")
	d := Check(limits, t0, buy("0.001", "50000"), snap, dec("50000"))
	assert.Equal(t, domain.ReasonDailyLossExceeded, d.Reason)

	d = Check(limits, t0, sell("0.001", "50000"), cashSnapshot(), dec("50000"))
	assert.Equal(t, domain.ReasonInsufficientBalance, d.Reason)

	d = Check(limits, t0, buy("0.001", "52000"), cashSnapshot(), dec("50000"))
	assert.Equal(t, domain.ReasonPriceDeviationExceeded, d.Reason)

	bad := buy("0.001", "50000")
	bad.Action = "short"
	d = Check(limits, t0, bad, cashSnapshot(), dec("50000"))
	assert.Equal(t, domain.ReasonInvalidSignal, d.Reason)

	d = Check(limits, t0, buy("0.001", "50000"), cashSnapshot(), decimal.Zero)
	assert.Equal(t, domain.ReasonInvalidSignal, d.Reason)
}

func TestDailyLossWithNoEquityRejects(t *testing.T) {
	snap := cashSnapshot()
	snap.TotalEquity = decimal.Zero
	d := Check(testLimits(), t0, buy("0.001", "50000"), snap, dec("50000"))
	assert.Equal(t, domain.ReasonDailyLossExceeded, d.Reason, "0 >= 0.02 × 0")

	snap.TotalEquity = dec("-5")
	d = Check(testLimits(), t0, sell("0.001", "50000"), snap, dec("50000"))
	assert.Equal(t, domain.ReasonDailyLossExceeded, d.Reason)

	// 有权益且当日无亏损时不触发
	d = Check(testLimits(), t0, buy("0.001", "50000"), cashSnapshot(), dec("50000"))
	assert.True(t, d.Accepted)
}

func TestDisabledLimits(t *testing.T) {
	limits := domain.RiskLimits{MinOrderAmount: dec("10")}
	snap := cashSnapshot()
	snap.DailyRealizedLoss = dec("500")

	d := Check(limits, t0.Add(time.Hour), buy("0.01", "60000"), snap, dec("50000"))
	assert.True(t, d.Accepted, "zero limits disable position, loss, deviation and staleness age")
}

func TestGateConsultsBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	g := NewGate(testLimits(), cb).WithClock(func() time.Time { return t0 })

	assert.True(t, g.Evaluate(buy("0.001", "50000"), cashSnapshot(), dec("50000")).Accepted)

	cb.Halt()
	d := g.Evaluate(buy("0.001", "50000"), cashSnapshot(), dec("50000"))
	assert.Equal(t, domain.ReasonCircuitOpen, d.Reason)
	assert.True(t, g.Evaluate(domain.Hold("BTC_USDT", "", t0), cashSnapshot(), dec("50000")).Accepted)

	// 其他拒绝原因优先于熔断
	d = g.Evaluate(buy("0.0001", "50000"), cashSnapshot(), dec("50000"))
	assert.Equal(t, domain.ReasonMinNotional, d.Reason)
}

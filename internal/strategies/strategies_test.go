package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotguard/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRegistry(t *testing.T) {
	assert.Contains(t, Registered(), HoldID)
	assert.Contains(t, Registered(), ThresholdID)

	_, err := New("nope", Params{})
	assert.Error(t, err)

	assert.Panics(t, func() { RegisterStrategy(HoldID, nil) })
}

func TestThresholdSignals(t *testing.T) {
	s, err := New(ThresholdID, Params{OrderAmount: d("50"), BuyThreshold: d("0.01"), SellThreshold: d("0.01")})
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0)
	tick := func(px string) domain.Ticker { return domain.Ticker{Pair: "BTC_USDT", Last: d(px), Timestamp: ts} }
	flat := domain.AccountSnapshot{Balances: map[string]domain.Balance{}}

	assert.True(t, s.Analyze(tick("100"), flat).IsHold(), "first observation sets reference")
	assert.True(t, s.Analyze(tick("100.5"), flat).IsHold())

	sig := s.Analyze(tick("102"), flat)
	require.Equal(t, domain.ActionBuy, sig.Action)
	assert.True(t, sig.Notional().LessThanOrEqual(d("50")))
	assert.True(t, sig.Price.Equal(d("102")))

	// 下跌但无持仓
	assert.True(t, s.Analyze(tick("99"), flat).IsHold())

	held := domain.AccountSnapshot{Balances: map[string]domain.Balance{"BTC": {Currency: "BTC", Available: d("0.1")}}}
	sig = s.Analyze(tick("99"), held)
	require.Equal(t, domain.ActionSell, sig.Action)
	assert.True(t, sig.Quantity.Equal(d("0.1")))
}

func TestThresholdValidation(t *testing.T) {
	_, err := NewThreshold(Params{BuyThreshold: d("0.01")})
	assert.Error(t, err)
	_, err = NewThreshold(Params{OrderAmount: d("10")})
	assert.Error(t, err)
}

type stubMarket map[domain.Pair]string

func (m stubMarket) GetTicker(_ context.Context, pair domain.Pair) (*domain.Ticker, error) {
	px, ok := m[pair]
	if !ok {
		return nil, domain.NewExchangeError(domain.KindExchangeRejected, "INVALID_CURRENCY_PAIR", string(pair))
	}
	return &domain.Ticker{Pair: pair, Last: d(px), Timestamp: time.Now()}, nil
}

type stubAccount struct{}

func (stubAccount) Snapshot() domain.AccountSnapshot { return domain.AccountSnapshot{} }

func TestSourceEmitsOneSignalPerPair(t *testing.T) {
	hold, err := New(HoldID, Params{})
	require.NoError(t, err)
	src := NewSource(hold, []domain.Pair{"BTC_USDT", "DOGE_USDT"}, stubMarket{"BTC_USDT": "100"}, stubAccount{})

	sigs, err := src.Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, domain.Pair("BTC_USDT"), sigs[0].Pair)
	assert.Equal(t, domain.Pair("DOGE_USDT"), sigs[1].Pair)
	assert.True(t, sigs[1].IsHold())
}

package paper

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotguard/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper() *Exchange {
	return New(Config{
		Balances: map[string]decimal.Decimal{"USDT": d("1000")},
		FeeRate:  d("0.002"),
	}, nil)
}

func buy(id, qty, px string) domain.OrderRequest {
	return domain.OrderRequest{ClientOrderID: id, Pair: "BTC_USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: d(qty), Price: d(px)}
}

func TestPaperLimitBuyFillsWhenPriceCrosses(t *testing.T) {
	ex := newPaper()
	ctx := t.Context()

	o, err := ex.SubmitOrder(ctx, buy("t-1", "1", "100"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	snap, _ := ex.ListBalances(ctx)
	assert.True(t, snap.Balances["USDT"].Locked.Equal(d("100.2")))

	ex.UpdatePrice("BTC_USDT", d("101"))
	o, _ = ex.GetOrder(ctx, "t-1", "BTC_USDT")
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	ex.UpdatePrice("BTC_USDT", d("99"))
	o, _ = ex.GetOrder(ctx, o.ExchangeOrderID, "BTC_USDT")
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.Fee.Equal(d("0.2")))

	snap, _ = ex.ListBalances(ctx)
	assert.True(t, snap.Balances["USDT"].Total().Equal(d("899.8")), snap.Balances["USDT"].Total().String())
	assert.True(t, snap.Balances["BTC"].Available.Equal(d("1")))
}

func TestPaperDedupesByClientOrderID(t *testing.T) {
	ex := newPaper()
	a, err := ex.SubmitOrder(t.Context(), buy("t-dup", "1", "100"))
	require.NoError(t, err)
	b, err := ex.SubmitOrder(t.Context(), buy("t-dup", "1", "100"))
	require.NoError(t, err)
	assert.Equal(t, a.ExchangeOrderID, b.ExchangeOrderID)

	snap, _ := ex.ListBalances(t.Context())
	assert.True(t, snap.Balances["USDT"].Locked.Equal(d("100.2")))
}

func TestPaperInsufficientBalance(t *testing.T) {
	ex := newPaper()
	_, err := ex.SubmitOrder(t.Context(), buy("t-big", "20", "100"))
	assert.Equal(t, domain.KindInsufficientBalance, domain.KindOf(err))
}

func TestPaperCancel(t *testing.T) {
	ex := newPaper()
	ctx := t.Context()
	_, err := ex.SubmitOrder(ctx, buy("t-c", "1", "100"))
	require.NoError(t, err)

	require.NoError(t, ex.CancelOrder(ctx, "t-c", "BTC_USDT"))
	snap, _ := ex.ListBalances(ctx)
	assert.True(t, snap.Balances["USDT"].Available.Equal(d("1000")))
	assert.True(t, snap.Balances["USDT"].Locked.IsZero())

	err = ex.CancelOrder(ctx, "t-c", "BTC_USDT")
	assert.True(t, domain.IsTerminalRejection(err), "cancel of closed order should be ORDER_CLOSED")

	err = ex.CancelOrder(ctx, "missing", "BTC_USDT")
	assert.True(t, domain.IsNotFound(err))
}

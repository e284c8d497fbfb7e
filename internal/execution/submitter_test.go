package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/internal/risk"
	"github.com/betbot/spotguard/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExchange 按 client_order_id 去重，submitErrs 依次消费
type fakeExchange struct {
	mu         sync.Mutex
	submits    int
	submitErrs []error
	orders     map[string]*domain.ExchangeOrder
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{orders: make(map[string]*domain.ExchangeOrder)}
}

func (f *fakeExchange) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if o, ok := f.orders[req.ClientOrderID]; ok {
		return o, nil
	}
	o := &domain.ExchangeOrder{ExchangeOrderID: "ex-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Status: domain.OrderStatusOpen}
	f.orders[req.ClientOrderID] = o
	return o, nil
}

func (f *fakeExchange) GetOrder(context.Context, string, domain.Pair) (*domain.ExchangeOrder, error) {
	return nil, domain.NewExchangeError(domain.KindOrderNotFound, "ORDER_NOT_FOUND", "")
}

func (f *fakeExchange) CancelOrder(context.Context, string, domain.Pair) error { return nil }

func (f *fakeExchange) ListBalances(context.Context) (*domain.BalanceSnapshot, error) {
	return &domain.BalanceSnapshot{}, nil
}

func (f *fakeExchange) placed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// brokenStore 所有读写都失败
type brokenStore struct{ ports.OrderStore }

func (brokenStore) Get(context.Context, string) (*domain.OrderRecord, error) {
	return nil, errors.New("disk gone")
}

func newTestSubmitter(ex ports.Exchange, st ports.OrderStore, cb *risk.CircuitBreaker) *Submitter {
	s := NewSubmitter(ex, st, NewKeyedLocker(4), cb, SubmitterConfig{})
	s.now = func() time.Time { return t0 }
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func buySignal(ts time.Time) domain.TradingSignal {
	return domain.TradingSignal{Action: domain.ActionBuy, Pair: "BTC_USDT", Quantity: dec("0.001"), Price: dec("50000"), Timestamp: ts}
}

func TestSubmitIsIdempotent(t *testing.T) {
	ex := newFakeExchange()
	st := store.NewMemoryStore()
	s := newTestSubmitter(ex, st, nil)
	sig := buySignal(t0)

	rec, err := s.Submit(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, rec.Status)
	assert.Equal(t, "ex-"+rec.ClientOrderID, rec.ExchangeOrderID)
	assert.True(t, IsClientOrderID(rec.ClientOrderID))

	again, err := s.Submit(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, rec.ClientOrderID, again.ClientOrderID)
	assert.Equal(t, 1, ex.submits)

	stored, err := st.Get(context.Background(), rec.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, stored.Status)
}

func TestSubmitRefusesBusyPair(t *testing.T) {
	ex := newFakeExchange()
	s := newTestSubmitter(ex, store.NewMemoryStore(), nil)

	_, err := s.Submit(context.Background(), buySignal(t0))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), buySignal(t0.Add(time.Minute)))
	assert.ErrorIs(t, err, ErrPairBusy)
	assert.False(t, IsRetryableSubmission(err))
	assert.Equal(t, 1, ex.placed())

	other := buySignal(t0.Add(time.Minute))
	other.Pair = "ETH_USDT"
	_, err = s.Submit(context.Background(), other)
	assert.NoError(t, err, "pairs are independent")
}

func TestSubmitRejectionIsTerminal(t *testing.T) {
	ex := newFakeExchange()
	ex.submitErrs = []error{domain.NewExchangeError(domain.KindInsufficientBalance, "BALANCE_NOT_ENOUGH", "")}
	st := store.NewMemoryStore()
	s := newTestSubmitter(ex, st, nil)

	rec, err := s.Submit(context.Background(), buySignal(t0))
	require.Error(t, err)
	assert.False(t, IsRetryableSubmission(err))
	assert.Equal(t, domain.OrderStatusRejected, rec.Status)
	assert.Equal(t, 1, ex.submits, "rejections are never retried")

	// 终态记录不占用交易对
	_, err = s.Submit(context.Background(), buySignal(t0.Add(time.Minute)))
	assert.NoError(t, err)
}

func TestTransientFailureStaysPendingAndResubmits(t *testing.T) {
	ex := newFakeExchange()
	timeout := domain.Transient(errors.New("i/o timeout"))
	ex.submitErrs = []error{timeout, timeout, timeout}
	cb := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{})
	s := newTestSubmitter(ex, store.NewMemoryStore(), cb)
	sig := buySignal(t0)

	rec, err := s.Submit(context.Background(), sig)
	require.Error(t, err)
	assert.True(t, IsRetryableSubmission(err))
	assert.Equal(t, domain.OrderStatusPending, rec.Status)
	assert.Equal(t, 3, ex.submits, "bounded retries")
	assert.Equal(t, int64(1), cb.ConsecutiveErrors())

	rec, err = s.Submit(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, rec.Status)
	assert.Equal(t, 1, ex.placed())
	assert.Equal(t, int64(0), cb.ConsecutiveErrors())
}

func TestStoreOutageRefusesSubmission(t *testing.T) {
	ex := newFakeExchange()
	cb := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 1})
	s := newTestSubmitter(ex, brokenStore{}, cb)

	_, err := s.Submit(context.Background(), buySignal(t0))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 0, ex.submits)
	assert.True(t, cb.Halted())
}

func TestHoldIsNotTradable(t *testing.T) {
	s := newTestSubmitter(newFakeExchange(), store.NewMemoryStore(), nil)
	_, err := s.Submit(context.Background(), domain.Hold("BTC_USDT", "", t0))
	assert.ErrorIs(t, err, ErrNotTradable)
}

// interleavingStore 在下一次 Get 返回后执行 hook，模拟对账在两次读取之间推进记录
type interleavingStore struct {
	ports.OrderStore
	mu   sync.Mutex
	hook func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*domain.OrderRecord, error) {
	rec, err := s.OrderStore.Get(ctx, id)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return rec, err
}

func TestResubmitDoesNotOverwriteReconciledRecord(t *testing.T) {
	ex := newFakeExchange()
	timeout := domain.Transient(errors.New("i/o timeout"))
	ex.submitErrs = []error{timeout, timeout, timeout}
	mem := store.NewMemoryStore()
	st := &interleavingStore{OrderStore: mem}
	s := newTestSubmitter(ex, st, nil)
	sig := buySignal(t0)
	ctx := context.Background()

	rec, err := s.Submit(ctx, sig)
	require.Error(t, err)
	require.Equal(t, domain.OrderStatusPending, rec.Status)
	submits := ex.submits

	// 对账按 client_order_id 在交易所找到订单，且已部分成交
	st.hook = func() {
		cur, err := mem.Get(ctx, rec.ClientOrderID)
		require.NoError(t, err)
		cur.ExchangeOrderID = "ex-found"
		cur.FilledQuantity = dec("0.0005")
		_, err = cur.Transition(domain.OrderStatusPartiallyFilled)
		require.NoError(t, err)
		require.NoError(t, mem.Update(ctx, cur))
	}

	got, err := s.Submit(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	assert.Equal(t, submits, ex.submits, "no second submission once the order is known")

	stored, err := mem.Get(ctx, rec.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, stored.Status)
	assert.Equal(t, "ex-found", stored.ExchangeOrderID)
	assert.True(t, stored.FilledQuantity.Equal(dec("0.0005")))
}

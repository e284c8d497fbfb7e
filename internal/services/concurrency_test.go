package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/execution"
	"github.com/betbot/spotguard/internal/store"
)

// auditStore 检查每次写入：状态只能前进，成交数量不能减少
type auditStore struct {
	*store.MemoryStore
	mu         sync.Mutex
	violations []string
}

func (s *auditStore) Update(ctx context.Context, rec *domain.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, err := s.MemoryStore.Get(ctx, rec.ClientOrderID); err == nil {
		if cur.Status != rec.Status && !domain.CanTransition(cur.Status, rec.Status) {
			s.violations = append(s.violations, string(cur.Status)+"->"+string(rec.Status))
		}
		if rec.FilledQuantity.LessThan(cur.FilledQuantity) {
			s.violations = append(s.violations, "filled "+cur.FilledQuantity.String()+"->"+rec.FilledQuantity.String())
		}
	}
	return s.MemoryStore.Update(ctx, rec)
}

func TestConcurrentSubmitReconcileSweepOnOneRecord(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	st := &auditStore{MemoryStore: f.store}
	f.tracker.store = st

	// 上次下单未确认：pending 且没有交易所订单号，交易所侧其实已部分成交
	const id = "t-shared"
	require.NoError(t, st.Create(ctx, &domain.OrderRecord{
		ClientOrderID: id,
		Pair:          "BTC_USDT",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Quantity:      dec("1"),
		Price:         dec("100"),
		Status:        domain.OrderStatusPending,
		CreatedAt:     f.t0,
		UpdatedAt:     f.t0,
	}))
	partial := domain.ExchangeOrder{
		ExchangeOrderID: "x-" + id, ClientOrderID: id, Status: domain.OrderStatusPartiallyFilled,
		FilledQuantity: dec("0.5"), AvgPrice: dec("100"), UpdatedAt: f.t0.Add(time.Second),
	}
	f.ex.set(id, partial)
	f.ex.set("x-"+id, partial)
	f.ex.onCancel = func(string) error {
		cancelled := partial
		cancelled.Status = domain.OrderStatusCancelled
		f.ex.set(id, cancelled)
		f.ex.set("x-"+id, cancelled)
		return nil
	}

	sub := execution.NewSubmitter(f.ex, st, f.tracker.locks, nil, execution.SubmitterConfig{})
	reaper := NewExpiryReaper(f.ex, st, f.tracker, 5*time.Minute)
	reaper.now = func() time.Time { return f.t0.Add(10 * time.Minute) }
	sig := domain.TradingSignal{Action: domain.ActionBuy, Pair: "BTC_USDT", Quantity: dec("1"), Price: dec("100"), Timestamp: f.t0}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := f.tracker.Reconcile(ctx)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := sub.SubmitWithID(ctx, sig, id)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := reaper.Sweep(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 收尾：确保清理器和对账都至少完整跑过一次
	_, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	_, err = f.tracker.Reconcile(ctx)
	require.NoError(t, err)

	rec, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExpired, rec.Status)
	assert.True(t, rec.FilledQuantity.Equal(dec("0.5")), rec.FilledQuantity.String())
	assert.Empty(t, st.violations)

	// 部分成交只入账一次
	snap := f.cache.Snapshot()
	assert.True(t, snap.Available("BTC").Equal(dec("0.5")), snap.Available("BTC").String())
	assert.True(t, snap.Available("USDT").Equal(dec("950")), snap.Available("USDT").String())
}

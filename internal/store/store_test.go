package store

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id string, pair domain.Pair, status domain.OrderStatus, created time.Time) *domain.OrderRecord {
	return &domain.OrderRecord{
		ClientOrderID: id,
		Pair:          pair,
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Quantity:      decimal.RequireFromString("0.001"),
		Price:         decimal.RequireFromString("50000"),
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

// 三种驱动共用同一组行为断言
func runStoreContract(t *testing.T, s ports.OrderStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "t-missing")
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
	assert.ErrorIs(t, s.Update(ctx, record("t-missing", "BTC_USDT", domain.OrderStatusOpen, t0)), ports.ErrOrderNotFound)

	a := record("t-a", "BTC_USDT", domain.OrderStatusPending, t0)
	require.NoError(t, s.Create(ctx, a))
	assert.ErrorIs(t, s.Create(ctx, a), ports.ErrOrderExists)

	require.NoError(t, s.Create(ctx, record("t-b", "ETH_USDT", domain.OrderStatusPending, t0.Add(time.Second))))
	require.NoError(t, s.Create(ctx, record("t-c", "BTC_USDT", domain.OrderStatusPending, t0.Add(2*time.Second))))

	a.Status = domain.OrderStatusFilled
	a.ExchangeOrderID = "123"
	a.FilledQuantity = decimal.RequireFromString("0.001")
	a.AvgFillPrice = decimal.RequireFromString("49999.5")
	a.Fee = decimal.RequireFromString("0.1")
	a.CancelRequested = true
	a.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, s.Update(ctx, a))

	got, err := s.Get(ctx, "t-a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, "123", got.ExchangeOrderID)
	assert.True(t, got.AvgFillPrice.Equal(a.AvgFillPrice))
	assert.True(t, got.Quantity.Equal(a.Quantity))
	assert.True(t, got.CancelRequested)
	assert.True(t, got.UpdatedAt.Equal(a.UpdatedAt))
	assert.True(t, got.CreatedAt.Equal(t0))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "t-b", active[0].ClientOrderID)
	assert.Equal(t, "t-c", active[1].ClientOrderID)

	btc, err := s.ListByPair(ctx, "BTC_USDT")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "t-a", btc[0].ClientOrderID)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	runStoreContract(t, s)

	// 返回的是副本
	got, err := s.Get(context.Background(), "t-b")
	require.NoError(t, err)
	got.Status = domain.OrderStatusCancelled
	again, _ := s.Get(context.Background(), "t-b")
	assert.Equal(t, domain.OrderStatusPending, again.Status)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "orders.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	runStoreContract(t, s)
	require.NoError(t, s.Close())

	// 重启后记录仍在
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "t-a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"})
	assert.Error(t, err)

	s, err := Open(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

// flakyStore 在 down=true 时所有操作失败；failUpdates>0 时接下来的若干次 Update 失败
type flakyStore struct {
	*MemoryStore
	down        atomic.Bool
	failUpdates atomic.Int32
}

func (f *flakyStore) takeUpdateFailure() bool {
	for {
		n := f.failUpdates.Load()
		if n <= 0 {
			return false
		}
		if f.failUpdates.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

var errDown = errors.New("database is locked")

func (f *flakyStore) Create(ctx context.Context, rec *domain.OrderRecord) error {
	if f.down.Load() {
		return errDown
	}
	return f.MemoryStore.Create(ctx, rec)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*domain.OrderRecord, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.MemoryStore.Get(ctx, id)
}

func (f *flakyStore) Update(ctx context.Context, rec *domain.OrderRecord) error {
	if f.down.Load() || f.takeUpdateFailure() {
		return errDown
	}
	return f.MemoryStore.Update(ctx, rec)
}

func (f *flakyStore) ListActive(ctx context.Context) ([]*domain.OrderRecord, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.MemoryStore.ListActive(ctx)
}

func (f *flakyStore) ListByPair(ctx context.Context, pair domain.Pair) ([]*domain.OrderRecord, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.MemoryStore.ListByPair(ctx, pair)
}

func TestResilientKeepsTrackingDuringOutage(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewResilient(inner)

	open := record("t-open", "BTC_USDT", domain.OrderStatusOpen, t0)
	require.NoError(t, r.Create(ctx, open))

	inner.down.Store(true)

	// 新下单必须失败
	assert.Error(t, r.Create(ctx, record("t-new", "ETH_USDT", domain.OrderStatusPending, t0)))
	_, err := r.ListByPair(ctx, "ETH_USDT")
	assert.Error(t, err)

	// 在途订单继续可见、可更新
	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	open.Status = domain.OrderStatusFilled
	open.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, r.Update(ctx, open))
	assert.True(t, r.Degraded())

	got, err := r.Get(ctx, "t-open")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)

	// 恢复后补写
	inner.down.Store(false)
	active, err = r.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, r.Degraded())

	stored, err := inner.MemoryStore.Get(ctx, "t-open")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, stored.Status)
}

func TestResilientDirectWriteSupersedesOlderDirtyRecord(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewResilient(inner)

	rec := record("t-ord", "BTC_USDT", domain.OrderStatusOpen, t0)
	require.NoError(t, r.Create(ctx, rec))

	// 第 1 次写失败进入脏表；第 2 次（补写）失败；第 3 次直写成功
	inner.failUpdates.Store(2)

	v1 := rec.Clone()
	v1.LastError = "i/o timeout"
	v1.UpdatedAt = t0.Add(time.Second)
	require.NoError(t, r.Update(ctx, v1))
	require.True(t, r.Degraded())

	v2 := rec.Clone()
	v2.Status = domain.OrderStatusPartiallyFilled
	v2.FilledQuantity = decimal.RequireFromString("0.0005")
	v2.UpdatedAt = t0.Add(2 * time.Second)
	require.NoError(t, r.Update(ctx, v2))
	assert.False(t, r.Degraded())

	got, err := r.Get(ctx, "t-ord")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, got.Status)
	assert.True(t, got.FilledQuantity.Equal(v2.FilledQuantity))

	_, err = r.ListActive(ctx)
	require.NoError(t, err)
	stored, err := inner.MemoryStore.Get(ctx, "t-ord")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, stored.Status)
	assert.True(t, stored.FilledQuantity.Equal(v2.FilledQuantity))
}

func TestResilientRecoversAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewResilient(inner)

	a := record("t-a", "BTC_USDT", domain.OrderStatusOpen, t0)
	b := record("t-b", "ETH_USDT", domain.OrderStatusOpen, t0.Add(time.Second))
	require.NoError(t, r.Create(ctx, a))
	require.NoError(t, r.Create(ctx, b))

	inner.down.Store(true)
	a.Status = domain.OrderStatusFilled
	a.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, r.Update(ctx, a))
	b.Status = domain.OrderStatusPartiallyFilled
	b.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, r.Update(ctx, b))

	// 多次对账期间存储仍不可用
	for i := 0; i < 3; i++ {
		active, err := r.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "t-b", active[0].ClientOrderID)
	}
	assert.True(t, r.Degraded())

	inner.down.Store(false)
	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, r.Degraded())

	for id, want := range map[string]domain.OrderStatus{"t-a": domain.OrderStatusFilled, "t-b": domain.OrderStatusPartiallyFilled} {
		stored, err := inner.MemoryStore.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status, id)
	}
}

package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

var log = logrus.WithField("component", "order_store")

// Resilient 在底层存储故障期间保持在途订单可被跟踪。
//
//   - Create/ListByPair 直接透传：存储故障时新下单必须失败
//   - Get/ListActive 失败时退回最近一次的内存视图
//   - Update 失败时写入内存并标记为脏，存储恢复后补写
type Resilient struct {
	inner ports.OrderStore

	// writeMu 串行化补写与直写，旧的脏记录不会覆盖更新的直写结果
	writeMu sync.Mutex

	mu    sync.Mutex
	cache map[string]*domain.OrderRecord // 已知的在途订单
	dirty map[string]*domain.OrderRecord // 待补写
}

// NewResilient 包装底层存储
func NewResilient(inner ports.OrderStore) *Resilient {
	return &Resilient{
		inner: inner,
		cache: make(map[string]*domain.OrderRecord),
		dirty: make(map[string]*domain.OrderRecord),
	}
}

func (r *Resilient) Create(ctx context.Context, rec *domain.OrderRecord) error {
	if err := r.flush(ctx); err != nil {
		return err
	}
	if err := r.inner.Create(ctx, rec); err != nil {
		return err
	}
	r.remember(rec)
	return nil
}

func (r *Resilient) Get(ctx context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	r.mu.Lock()
	if d, ok := r.dirty[clientOrderID]; ok {
		r.mu.Unlock()
		return d.Clone(), nil
	}
	r.mu.Unlock()

	rec, err := r.inner.Get(ctx, clientOrderID)
	if err == nil || errors.Is(err, ports.ErrOrderNotFound) {
		return rec, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[clientOrderID]; ok {
		log.Warnf("⚠️ [订单存储] 读取失败，使用内存视图: id=%s err=%v", clientOrderID, err)
		return c.Clone(), nil
	}
	return nil, err
}

func (r *Resilient) Update(ctx context.Context, rec *domain.OrderRecord) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if ferr := r.flushLocked(ctx); ferr != nil {
		log.Debugf("💾 [订单存储] 补写未完成，继续直写: id=%s err=%v", rec.ClientOrderID, ferr)
	}
	if err := r.inner.Update(ctx, rec); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			return err
		}
		r.mu.Lock()
		r.dirty[rec.ClientOrderID] = rec.Clone()
		r.mu.Unlock()
		r.remember(rec)
		log.Warnf("⚠️ [订单存储] 写入失败，暂存内存待补写: id=%s status=%s err=%v", rec.ClientOrderID, rec.Status, err)
		return nil
	}
	// 直写成功后该记录更早的脏版本作废
	r.mu.Lock()
	delete(r.dirty, rec.ClientOrderID)
	r.mu.Unlock()
	r.remember(rec)
	return nil
}

func (r *Resilient) ListActive(ctx context.Context) ([]*domain.OrderRecord, error) {
	flushErr := r.flush(ctx)
	recs, err := r.inner.ListActive(ctx)
	if err == nil && flushErr == nil {
		r.mu.Lock()
		r.cache = make(map[string]*domain.OrderRecord, len(recs))
		for _, rec := range recs {
			r.cache[rec.ClientOrderID] = rec.Clone()
		}
		r.mu.Unlock()
		return recs, nil
	}
	if err == nil {
		err = flushErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.OrderRecord, 0, len(r.cache))
	for _, rec := range r.cache {
		if rec.Status.IsActive() {
			out = append(out, rec.Clone())
		}
	}
	sortByCreated(out)
	log.Warnf("⚠️ [订单存储] 存储不可用，使用内存中的 %d 笔在途订单: %v", len(out), err)
	return out, nil
}

func (r *Resilient) ListByPair(ctx context.Context, pair domain.Pair) ([]*domain.OrderRecord, error) {
	if err := r.flush(ctx); err != nil {
		return nil, err
	}
	return r.inner.ListByPair(ctx, pair)
}

func (r *Resilient) Close() error {
	_ = r.flush(context.Background())
	return r.inner.Close()
}

// Degraded 是否存在未补写的记录
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirty) > 0
}

func (r *Resilient) remember(rec *domain.OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Status.IsActive() {
		r.cache[rec.ClientOrderID] = rec.Clone()
	} else {
		// 终态记录保留到补写完成，避免跟踪器看不到刚完成的订单
		if _, ok := r.dirty[rec.ClientOrderID]; !ok {
			delete(r.cache, rec.ClientOrderID)
		} else {
			r.cache[rec.ClientOrderID] = rec.Clone()
		}
	}
}

// flush 补写脏记录，全部成功返回 nil
func (r *Resilient) flush(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.flushLocked(ctx)
}

// flushLocked 调用方持有 writeMu
func (r *Resilient) flushLocked(ctx context.Context) error {
	r.mu.Lock()
	if len(r.dirty) == 0 {
		r.mu.Unlock()
		return nil
	}
	pending := make([]*domain.OrderRecord, 0, len(r.dirty))
	for _, rec := range r.dirty {
		pending = append(pending, rec.Clone())
	}
	r.mu.Unlock()

	for _, rec := range pending {
		if err := r.inner.Update(ctx, rec); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			return errors.Wrap(err, "flush dirty order records")
		}
		r.mu.Lock()
		if cur, ok := r.dirty[rec.ClientOrderID]; ok && cur.UpdatedAt.Equal(rec.UpdatedAt) && cur.Status == rec.Status {
			delete(r.dirty, rec.ClientOrderID)
			if !cur.Status.IsActive() {
				delete(r.cache, rec.ClientOrderID)
			}
		}
		r.mu.Unlock()
	}
	log.Infof("✅ [订单存储] 存储恢复，已补写 %d 条记录", len(pending))
	return nil
}

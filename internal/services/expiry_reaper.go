package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/metrics"
	"github.com/betbot/spotguard/internal/ports"
)

// ExpiryReaper 撤掉挂单时间超过 MaxOrderAge 的订单。
// 只负责发起撤单，最终状态由跟踪器按交易所权威状态写入。
type ExpiryReaper struct {
	exchange ports.Exchange
	store    ports.OrderStore
	tracker  *OrderTracker
	maxAge   time.Duration
	now      func() time.Time
}

// NewExpiryReaper tracker 不能为空；maxAge <= 0 时不清理
func NewExpiryReaper(exchange ports.Exchange, store ports.OrderStore, tracker *OrderTracker, maxAge time.Duration) *ExpiryReaper {
	return &ExpiryReaper{
		exchange: exchange,
		store:    store,
		tracker:  tracker,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Sweep 扫描一轮，返回发起撤单的订单数
func (r *ExpiryReaper) Sweep(ctx context.Context) (int, error) {
	if r.maxAge <= 0 {
		return 0, nil
	}
	recs, err := r.store.ListActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list active orders")
	}

	now := r.now()
	reaped := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		if !r.expired(rec, now) {
			continue
		}
		if err := r.reap(ctx, rec.ClientOrderID); err != nil {
			log.Warnf("⚠️ [超时撤单] 撤单失败，下一轮重试: id=%s err=%v", rec.ClientOrderID, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Infof("🧹 [超时撤单] 本轮撤单 %d 笔", reaped)
	}
	return reaped, nil
}

func (r *ExpiryReaper) expired(rec *domain.OrderRecord, now time.Time) bool {
	if rec.Status != domain.OrderStatusOpen && rec.Status != domain.OrderStatusPartiallyFilled {
		return false
	}
	return now.Sub(rec.CreatedAt) > r.maxAge
}

func (r *ExpiryReaper) reap(ctx context.Context, clientOrderID string) error {
	rec, err := r.markCancelRequested(ctx, clientOrderID)
	if err != nil || rec == nil {
		return err
	}

	orderID := rec.ExchangeOrderID
	if orderID == "" {
		orderID = rec.ClientOrderID
	}
	err = r.exchange.CancelOrder(ctx, orderID, rec.Pair)
	switch {
	case err == nil:
	case domain.IsNotFound(err), domain.KindOf(err) == domain.KindExchangeRejected:
		// 已成交/已撤销/查无此单都视为撤单完成，由对账决定最终状态
		log.Infof("🧹 [超时撤单] 订单已结束: id=%s resp=%v", rec.ClientOrderID, err)
	default:
		return err
	}
	metrics.IncOrderReaped()
	log.Infof("🧹 [超时撤单] 已请求撤单: id=%s pair=%s age=%s", rec.ClientOrderID, rec.Pair, r.now().Sub(rec.CreatedAt).Truncate(time.Second))

	if _, err := r.tracker.ReconcileOne(ctx, rec.ClientOrderID); err != nil {
		log.Warnf("⚠️ [超时撤单] 撤单后对账失败: id=%s err=%v", rec.ClientOrderID, err)
	}
	return nil
}

// markCancelRequested 在记录锁内标记撤单意图；记录已不再是挂单状态时返回 nil
func (r *ExpiryReaper) markCancelRequested(ctx context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	unlock, err := r.tracker.locks.Lock(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := r.store.Get(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if !r.expired(rec, r.now()) {
		return nil, nil
	}
	if !rec.CancelRequested {
		rec.CancelRequested = true
		rec.UpdatedAt = r.now()
		if err := r.store.Update(ctx, rec); err != nil {
			return nil, errors.Wrapf(err, "mark cancel requested %s", clientOrderID)
		}
	}
	return rec, nil
}

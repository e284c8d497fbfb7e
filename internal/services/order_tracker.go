package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/execution"
	"github.com/betbot/spotguard/internal/metrics"
	"github.com/betbot/spotguard/internal/ports"
)

// TrackerConfig 跟踪器配置
type TrackerConfig struct {
	Concurrency int // 单轮对账最大并发查询数
}

// OrderTracker 轮询交易所权威状态，按状态机推进订单记录，并把成交增量推给账户缓存。
type OrderTracker struct {
	exchange ports.Exchange
	store    ports.OrderStore
	locks    *execution.KeyedLocker
	fills    ports.FillSink

	handlerMu sync.Mutex // 回调串行投递
	handlers  []ports.OrderUpdateHandler

	concurrency int
	now         func() time.Time
}

// ReconcileStats 单轮对账统计
type ReconcileStats struct {
	Checked int
	Changed int
	Errors  int
}

// NewOrderTracker locks 必须与下单器共用
func NewOrderTracker(exchange ports.Exchange, store ports.OrderStore, locks *execution.KeyedLocker, fills ports.FillSink, cfg TrackerConfig) *OrderTracker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if locks == nil {
		locks = execution.NewKeyedLocker(64)
	}
	return &OrderTracker{
		exchange:    exchange,
		store:       store,
		locks:       locks,
		fills:       fills,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// OnOrderUpdate 注册状态变化回调
func (t *OrderTracker) OnOrderUpdate(h ports.OrderUpdateHandler) {
	if h == nil {
		return
	}
	t.handlerMu.Lock()
	t.handlers = append(t.handlers, h)
	t.handlerMu.Unlock()
}

func (t *OrderTracker) emit(ctx context.Context, prev domain.OrderStatus, rec *domain.OrderRecord) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	for _, h := range t.handlers {
		h.OnOrderUpdate(ctx, prev, rec.Clone())
	}
}

// Reconcile 对所有非终态订单做一轮对账。单个订单失败不影响其它订单。
func (t *OrderTracker) Reconcile(ctx context.Context) (ReconcileStats, error) {
	metrics.IncReconcileRun()

	recs, err := t.store.ListActive(ctx)
	if err != nil {
		metrics.IncReconcileError()
		return ReconcileStats{}, errors.Wrap(err, "list active orders")
	}
	metrics.SetActiveOrders(len(recs))
	if len(recs) == 0 {
		log.Debugf("🔄 [订单对账] 没有在途订单")
		return ReconcileStats{}, nil
	}

	var changed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(t.concurrency)
	for _, r := range recs {
		id := r.ClientOrderID
		g.Go(func() error {
			ok, err := t.reconcile(ctx, id)
			if err != nil {
				failed.Add(1)
				metrics.IncReconcileError()
				log.Warnf("⚠️ [订单对账] 查询失败: id=%s err=%v", id, err)
				return nil
			}
			if ok {
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := ReconcileStats{Checked: len(recs), Changed: int(changed.Load()), Errors: int(failed.Load())}
	log.Debugf("🔄 [订单对账] 完成: checked=%d changed=%d errors=%d", stats.Checked, stats.Changed, stats.Errors)
	return stats, ctx.Err()
}

// ReconcileOne 立即对账单个订单，返回最新记录
func (t *OrderTracker) ReconcileOne(ctx context.Context, clientOrderID string) (*domain.OrderRecord, error) {
	if _, err := t.reconcile(ctx, clientOrderID); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, clientOrderID)
}

// reconcile 持有记录锁：重新读取记录 -> 查询交易所 -> 应用权威状态
func (t *OrderTracker) reconcile(ctx context.Context, clientOrderID string) (bool, error) {
	unlock, err := t.locks.Lock(ctx, clientOrderID)
	if err != nil {
		return false, err
	}
	defer unlock()

	rec, err := t.store.Get(ctx, clientOrderID)
	if err != nil {
		return false, errors.Wrapf(err, "load order %s", clientOrderID)
	}
	if rec.IsTerminal() {
		return false, nil
	}

	// 未拿到交易所订单号的 pending 记录按客户端订单号查询
	queryID := rec.ExchangeOrderID
	if queryID == "" {
		queryID = rec.ClientOrderID
	}

	eo, err := t.exchange.GetOrder(ctx, queryID, rec.Pair)
	switch {
	case domain.IsNotFound(err):
		eo = &domain.ExchangeOrder{
			ExchangeOrderID: rec.ExchangeOrderID,
			ClientOrderID:   rec.ClientOrderID,
			Status:          domain.OrderStatusCancelled,
			FilledQuantity:  rec.FilledQuantity,
			AvgPrice:        rec.AvgFillPrice,
			Fee:             rec.Fee,
		}
		log.Infof("🔍 [订单对账] 交易所查无此单，按取消处理: id=%s", rec.ClientOrderID)
	case err != nil:
		rec.LastError = err.Error()
		rec.LastCheckedAt = t.now()
		if uerr := t.store.Update(ctx, rec); uerr != nil {
			log.Warnf("⚠️ [订单对账] 记录查询失败信息时存储异常: id=%s err=%v", rec.ClientOrderID, uerr)
		}
		return false, err
	}

	return t.apply(ctx, rec, eo)
}

// apply 先落库再推送成交增量，落库失败时不推送，下一轮会重新计算同一增量
func (t *OrderTracker) apply(ctx context.Context, rec *domain.OrderRecord, eo *domain.ExchangeOrder) (bool, error) {
	prev := rec.Status
	now := t.now()

	if rec.ExchangeOrderID == "" && eo.ExchangeOrderID != "" {
		rec.ExchangeOrderID = eo.ExchangeOrderID
	}

	fill, hasFill := t.fillDelta(rec, eo)
	if hasFill {
		rec.FilledQuantity = eo.FilledQuantity
		rec.AvgFillPrice = eo.AvgPrice
		if eo.Fee.GreaterThan(rec.Fee) {
			rec.Fee = eo.Fee
		}
	}

	target := resolveStatus(rec, eo)
	changed, err := rec.Transition(target)
	if err != nil {
		// 交易所状态回退（例如 partially_filled -> open），保持当前状态
		log.Warnf("⚠️ [订单对账] 忽略非法状态迁移: id=%s %v", rec.ClientOrderID, err)
	}

	rec.LastCheckedAt = now
	if changed || hasFill {
		rec.UpdatedAt = now
		rec.LastError = ""
	}
	if err := t.store.Update(ctx, rec); err != nil {
		return false, errors.Wrapf(err, "persist order %s", rec.ClientOrderID)
	}

	if hasFill && t.fills != nil {
		t.fills.ApplyFill(fill)
		metrics.IncFillApplied(string(rec.Side))
		log.Infof("💰 [成交] id=%s pair=%s side=%s +%s @ %s fee=%s",
			rec.ClientOrderID, rec.Pair, rec.Side, fill.Quantity, fill.Price, fill.Fee)
	}
	if changed {
		log.Infof("🔄 [订单对账] 状态变化: id=%s %s -> %s filled=%s/%s",
			rec.ClientOrderID, prev, rec.Status, rec.FilledQuantity, rec.Quantity)
		t.emit(ctx, prev, rec)
	}
	return changed || hasFill, nil
}

// fillDelta 计算新增成交；只有正增量才入账
func (t *OrderTracker) fillDelta(rec *domain.OrderRecord, eo *domain.ExchangeOrder) (domain.Fill, bool) {
	delta := eo.FilledQuantity.Sub(rec.FilledQuantity)
	if !delta.IsPositive() {
		return domain.Fill{}, false
	}

	// 增量部分的均价：累计成交额之差 / 增量
	price := eo.AvgPrice
	deltaNotional := eo.FilledQuantity.Mul(eo.AvgPrice).Sub(rec.FilledQuantity.Mul(rec.AvgFillPrice))
	if deltaNotional.IsPositive() {
		price = deltaNotional.Div(delta)
	}

	fee := eo.Fee.Sub(rec.Fee)
	if fee.IsNegative() {
		fee = decimal.Zero
	}

	ts := eo.UpdatedAt
	if ts.IsZero() {
		ts = t.now()
	}
	return domain.Fill{
		ClientOrderID: rec.ClientOrderID,
		Pair:          rec.Pair,
		Side:          rec.Side,
		Quantity:      delta,
		Price:         price,
		Fee:           fee,
		Time:          ts,
	}, true
}

// resolveStatus 交易所状态 -> 记录目标状态。
// 成交优先：全部成交即 filled；清理器发起的撤单以 expired 结束。
func resolveStatus(rec *domain.OrderRecord, eo *domain.ExchangeOrder) domain.OrderStatus {
	target := eo.Status
	if target == "" || target == domain.OrderStatusPending {
		return rec.Status
	}
	if rec.Quantity.IsPositive() && eo.FilledQuantity.GreaterThanOrEqual(rec.Quantity) {
		return domain.OrderStatusFilled
	}
	if target == domain.OrderStatusCancelled && rec.CancelRequested && domain.CanTransition(rec.Status, domain.OrderStatusExpired) {
		return domain.OrderStatusExpired
	}
	return target
}

package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/internal/risk"
)

var log = logrus.WithField("component", "order_submitter")

var (
	// ErrStoreUnavailable 订单存储不可用：宁可拒绝下单，也不能产生未被跟踪的重复订单
	ErrStoreUnavailable = errors.New("order store unavailable")
	// ErrPairBusy 该交易对已有在途订单
	ErrPairBusy = errors.New("pair has an in-flight order")
	// ErrNotTradable Hold 信号没有下单动作
	ErrNotTradable = errors.New("signal is not tradable")
)

// SubmissionError 下单失败，Retryable 表示调用方可以用同一 client_order_id 重试
type SubmissionError struct {
	ClientOrderID string
	Retryable     bool
	Err           error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s failed (retryable=%v): %v", e.ClientOrderID, e.Retryable, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsRetryableSubmission 判断下单错误是否可以重试
func IsRetryableSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Retryable
}

// SubmitterConfig 下单器配置
type SubmitterConfig struct {
	// IndependentIDs=true 时使用随机 client_order_id（调用方自己负责幂等）
	IndependentIDs bool
	OrderType      domain.OrderType
	Retry          RetryPolicy
}

// Submitter 把通过风控的信号转成幂等下单，并创建订单记录。
type Submitter struct {
	exchange    ports.Exchange
	store       ports.OrderStore
	pairLocks   *KeyedLocker
	recordLocks *KeyedLocker
	breaker     *risk.CircuitBreaker
	cfg         SubmitterConfig
	now         func() time.Time
	sleep       sleepFn
}

// NewSubmitter recordLocks 必须与订单跟踪器共用，breaker 可以为 nil
func NewSubmitter(exchange ports.Exchange, store ports.OrderStore, recordLocks *KeyedLocker, breaker *risk.CircuitBreaker, cfg SubmitterConfig) *Submitter {
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if recordLocks == nil {
		recordLocks = NewKeyedLocker(64)
	}
	return &Submitter{
		exchange:    exchange,
		store:       store,
		pairLocks:   NewKeyedLocker(16),
		recordLocks: recordLocks,
		breaker:     breaker,
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// ClientOrderID 为信号生成 client_order_id
func (s *Submitter) ClientOrderID(sig domain.TradingSignal) string {
	if s.cfg.IndependentIDs {
		return RandomClientOrderID()
	}
	return DeterministicClientOrderID(sig)
}

// Submit 为信号下单。
func (s *Submitter) Submit(ctx context.Context, sig domain.TradingSignal) (*domain.OrderRecord, error) {
	return s.SubmitWithID(ctx, sig, s.ClientOrderID(sig))
}

// SubmitWithID 使用指定 client_order_id 下单。
//
// 同一 id 再次调用：已存在的记录原样返回；仍是 pending 且没有交易所订单号的记录
// 会用同一 id 重新驱动一次下单（交易所侧按 id 去重）。
func (s *Submitter) SubmitWithID(ctx context.Context, sig domain.TradingSignal, clientOrderID string) (*domain.OrderRecord, error) {
	side, ok := sig.Side()
	if !ok {
		return nil, ErrNotTradable
	}

	unlock, err := s.pairLocks.Lock(ctx, sig.Pair.String())
	if err != nil {
		return nil, &SubmissionError{ClientOrderID: clientOrderID, Retryable: true, Err: err}
	}
	defer unlock()

	existing, err := s.store.Get(ctx, clientOrderID)
	switch {
	case err == nil:
		if existing.Status == domain.OrderStatusPending && existing.ExchangeOrderID == "" {
			log.Infof("🔁 [下单] 已有 pending 记录，使用同一 id 重新提交: id=%s pair=%s", clientOrderID, existing.Pair)
			return s.place(ctx, existing)
		}
		log.Debugf("📋 [下单] client_order_id 已存在，返回已有记录: id=%s status=%s", clientOrderID, existing.Status)
		return existing, nil
	case !errors.Is(err, ports.ErrOrderNotFound):
		return nil, s.storeFailure(clientOrderID, err)
	}

	// 每个交易对最多一笔在途订单
	recs, err := s.store.ListByPair(ctx, sig.Pair)
	if err != nil {
		return nil, s.storeFailure(clientOrderID, err)
	}
	for _, r := range recs {
		if r.Status.IsActive() {
			log.Infof("⏸️ [下单] 交易对已有在途订单，跳过: pair=%s inflight=%s status=%s", sig.Pair, r.ClientOrderID, r.Status)
			return nil, &SubmissionError{ClientOrderID: clientOrderID, Err: ErrPairBusy}
		}
	}

	now := s.now()
	rec := &domain.OrderRecord{
		ClientOrderID: clientOrderID,
		Pair:          sig.Pair,
		Side:          side,
		Type:          s.cfg.OrderType,
		Quantity:      sig.Quantity,
		Price:         sig.Price,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ports.ErrOrderExists) {
			if got, gerr := s.store.Get(ctx, clientOrderID); gerr == nil {
				return got, nil
			}
		}
		return nil, s.storeFailure(clientOrderID, err)
	}
	return s.place(ctx, rec)
}

// place 调用交易所下单并根据结果推进记录状态
func (s *Submitter) place(ctx context.Context, rec *domain.OrderRecord) (*domain.OrderRecord, error) {
	unlock, err := s.recordLocks.Lock(ctx, rec.ClientOrderID)
	if err != nil {
		return rec, &SubmissionError{ClientOrderID: rec.ClientOrderID, Retryable: true, Err: err}
	}
	defer unlock()

	// 拿到记录锁后重新读取：等锁期间跟踪器可能已经推进了这条记录
	fresh, err := s.store.Get(ctx, rec.ClientOrderID)
	if err != nil {
		return rec, s.storeFailure(rec.ClientOrderID, err)
	}
	if fresh.Status != domain.OrderStatusPending || fresh.ExchangeOrderID != "" {
		log.Infof("📋 [下单] 记录已被对账推进，不再提交: id=%s status=%s exchange_id=%s",
			fresh.ClientOrderID, fresh.Status, fresh.ExchangeOrderID)
		return fresh, nil
	}
	rec = fresh

	req := domain.OrderRequest{
		ClientOrderID: rec.ClientOrderID,
		Pair:          rec.Pair,
		Side:          rec.Side,
		Type:          rec.Type,
		Quantity:      rec.Quantity,
		Price:         rec.Price,
	}

	var resp *domain.ExchangeOrder
	err = s.cfg.Retry.do(ctx, s.sleep, func(ctx context.Context) error {
		var e error
		resp, e = s.exchange.SubmitOrder(ctx, req)
		return e
	})

	rec.UpdatedAt = s.now()
	switch {
	case err == nil && resp != nil && resp.Status == domain.OrderStatusRejected:
		err = domain.NewExchangeError(domain.KindExchangeRejected, "", "order rejected on submission")
		fallthrough
	case domain.IsTerminalRejection(err):
		_, _ = rec.Transition(domain.OrderStatusRejected)
		rec.LastError = err.Error()
		s.persist(ctx, rec)
		log.Warnf("❌ [下单] 交易所拒单: id=%s pair=%s side=%s qty=%s price=%s err=%v",
			rec.ClientOrderID, rec.Pair, rec.Side, rec.Quantity, rec.Price, err)
		return rec, &SubmissionError{ClientOrderID: rec.ClientOrderID, Retryable: false, Err: err}

	case err != nil:
		// 网络瞬时错误（或 ctx 取消）：保持 pending，调用方可用同一 id 重试
		rec.LastError = err.Error()
		s.persist(ctx, rec)
		s.breaker.OnError()
		log.Warnf("⚠️ [下单] 下单未确认，保持 pending 等待重试: id=%s pair=%s err=%v", rec.ClientOrderID, rec.Pair, err)
		return rec, &SubmissionError{ClientOrderID: rec.ClientOrderID, Retryable: true, Err: err}
	}

	// 成交数量留给跟踪器处理，保证成交增量只通过一条路径入账
	rec.ExchangeOrderID = resp.ExchangeOrderID
	rec.LastError = ""
	if _, terr := rec.Transition(domain.OrderStatusOpen); terr != nil {
		log.Warnf("⚠️ [下单] 状态迁移异常: id=%s err=%v", rec.ClientOrderID, terr)
	}
	s.breaker.OnSuccess()
	if perr := s.store.Update(ctx, rec); perr != nil {
		// 交易所已接单但记录未落库：记录仍是 pending，重试时会按同一 id 从交易所找回
		log.Errorf("❌ [下单] 交易所已接单但更新记录失败: id=%s exchange_id=%s err=%v", rec.ClientOrderID, rec.ExchangeOrderID, perr)
		return rec, &SubmissionError{ClientOrderID: rec.ClientOrderID, Retryable: true, Err: errors.Wrap(ErrStoreUnavailable, perr.Error())}
	}

	log.Infof("✅ [下单] 下单成功: id=%s exchange_id=%s pair=%s side=%s qty=%s price=%s",
		rec.ClientOrderID, rec.ExchangeOrderID, rec.Pair, rec.Side, rec.Quantity, rec.Price)
	return rec, nil
}

func (s *Submitter) persist(ctx context.Context, rec *domain.OrderRecord) {
	if err := s.store.Update(ctx, rec); err != nil {
		log.Errorf("❌ [下单] 更新订单记录失败: id=%s status=%s err=%v", rec.ClientOrderID, rec.Status, err)
	}
}

func (s *Submitter) storeFailure(clientOrderID string, err error) error {
	s.breaker.OnError()
	log.Errorf("❌ [下单] 订单存储不可用，拒绝下单: id=%s err=%v", clientOrderID, err)
	return &SubmissionError{ClientOrderID: clientOrderID, Retryable: true, Err: errors.Wrap(ErrStoreUnavailable, err.Error())}
}

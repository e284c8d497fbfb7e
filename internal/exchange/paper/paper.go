package paper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

var log = logrus.WithField("component", "paper_exchange")

// Config 模拟盘配置
type Config struct {
	Balances map[string]decimal.Decimal // 初始可用余额
	FeeRate  decimal.Decimal            // 手续费率（计价币种收取）
}

type paperOrder struct {
	req     domain.OrderRequest
	id      string
	status  domain.OrderStatus
	filled  decimal.Decimal
	avg     decimal.Decimal
	fee     decimal.Decimal
	locked  decimal.Decimal // 冻结中的资金（买单为计价币，卖单为基础币）
	updated time.Time
}

// Exchange 模拟交易所：虚拟余额 + 限价撮合，用于 dry-run
type Exchange struct {
	mu       sync.Mutex
	balances map[string]*domain.Balance
	orders   map[string]*paperOrder // 交易所订单号 -> 订单
	byText   map[string]string      // 客户端订单号 -> 交易所订单号
	prices   map[domain.Pair]decimal.Decimal
	seq      int64
	feeRate  decimal.Decimal
	upstream ports.MarketData
	now      func() time.Time
}

var (
	_ ports.Exchange   = (*Exchange)(nil)
	_ ports.MarketData = (*Exchange)(nil)
)

// New 创建模拟交易所；upstream 可为空，此时只能通过 UpdatePrice 喂价
func New(cfg Config, upstream ports.MarketData) *Exchange {
	e := &Exchange{
		balances: make(map[string]*domain.Balance),
		orders:   make(map[string]*paperOrder),
		byText:   make(map[string]string),
		prices:   make(map[domain.Pair]decimal.Decimal),
		feeRate:  cfg.FeeRate,
		upstream: upstream,
		now:      time.Now,
	}
	for cur, amt := range cfg.Balances {
		e.balances[cur] = &domain.Balance{Currency: cur, Available: amt}
	}
	return e
}

// SetClock 测试用
func (e *Exchange) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Exchange) balance(cur string) *domain.Balance {
	b, ok := e.balances[cur]
	if !ok {
		b = &domain.Balance{Currency: cur}
		e.balances[cur] = b
	}
	return b
}

// SubmitOrder 下单：同一客户端订单号只会产生一笔
func (e *Exchange) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.byText[req.ClientOrderID]; ok {
		return e.orders[id].view(), nil
	}
	if !req.Pair.IsValid() || !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return nil, domain.NewExchangeError(domain.KindExchangeRejected, "INVALID_PARAM_VALUE", "invalid amount or price")
	}

	o := &paperOrder{req: req, status: domain.OrderStatusOpen, updated: e.now().UTC()}
	switch req.Side {
	case domain.SideBuy:
		need := req.Quantity.Mul(req.Price)
		need = need.Add(need.Mul(e.feeRate))
		q := e.balance(req.Pair.Quote())
		if q.Available.LessThan(need) {
			return nil, domain.NewExchangeError(domain.KindInsufficientBalance, "BALANCE_NOT_ENOUGH", "not enough "+req.Pair.Quote())
		}
		q.Available = q.Available.Sub(need)
		q.Locked = q.Locked.Add(need)
		o.locked = need
	case domain.SideSell:
		b := e.balance(req.Pair.Base())
		if b.Available.LessThan(req.Quantity) {
			return nil, domain.NewExchangeError(domain.KindInsufficientBalance, "BALANCE_NOT_ENOUGH", "not enough "+req.Pair.Base())
		}
		b.Available = b.Available.Sub(req.Quantity)
		b.Locked = b.Locked.Add(req.Quantity)
		o.locked = req.Quantity
	default:
		return nil, domain.NewExchangeError(domain.KindExchangeRejected, "INVALID_PARAM_VALUE", "invalid side")
	}

	e.seq++
	o.id = strconv.FormatInt(e.seq, 10)
	e.orders[o.id] = o
	e.byText[req.ClientOrderID] = o.id
	log.Infof("📝 [模拟下单] %s %s %s @ %s text=%s", req.Pair, req.Side, req.Quantity, req.Price, req.ClientOrderID)

	if px, ok := e.prices[req.Pair]; ok {
		e.tryMatchLocked(o, px)
	}
	return o.view(), nil
}

// tryMatchLocked 价格穿过限价即按限价全部成交；市价单按当前价成交
func (e *Exchange) tryMatchLocked(o *paperOrder, px decimal.Decimal) {
	if o.status.IsTerminal() || !px.IsPositive() {
		return
	}
	execPx := o.req.Price
	switch {
	case o.req.Type == domain.OrderTypeMarket:
		execPx = px
	case o.req.Side == domain.SideBuy && px.GreaterThan(o.req.Price):
		return
	case o.req.Side == domain.SideSell && px.LessThan(o.req.Price):
		return
	}

	qty := o.req.Quantity
	notional := qty.Mul(execPx)
	fee := notional.Mul(e.feeRate)
	base := e.balance(o.req.Pair.Base())
	quote := e.balance(o.req.Pair.Quote())

	if o.req.Side == domain.SideBuy {
		quote.Locked = quote.Locked.Sub(o.locked)
		// 成交价低于冻结价时退回差额
		quote.Available = quote.Available.Add(o.locked.Sub(notional).Sub(fee))
		base.Available = base.Available.Add(qty)
	} else {
		base.Locked = base.Locked.Sub(o.locked)
		quote.Available = quote.Available.Add(notional.Sub(fee))
	}

	o.locked = decimal.Zero
	o.filled = qty
	o.avg = execPx
	o.fee = fee
	o.status = domain.OrderStatusFilled
	o.updated = e.now().UTC()
	log.Infof("✅ [模拟成交] %s %s %s @ %s fee=%s", o.req.Pair, o.req.Side, qty, execPx, fee)
}

// UpdatePrice 喂价并撮合该交易对的挂单
func (e *Exchange) UpdatePrice(pair domain.Pair, px decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[pair] = px
	for _, o := range e.orders {
		if o.req.Pair == pair {
			e.tryMatchLocked(o, px)
		}
	}
}

func (e *Exchange) lookupLocked(orderID string) (*paperOrder, bool) {
	if o, ok := e.orders[orderID]; ok {
		return o, true
	}
	if id, ok := e.byText[orderID]; ok {
		return e.orders[id], true
	}
	return nil, false
}

// GetOrder 按交易所订单号或客户端订单号查询
func (e *Exchange) GetOrder(_ context.Context, orderID string, _ domain.Pair) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.lookupLocked(orderID)
	if !ok {
		return nil, domain.NewExchangeError(domain.KindOrderNotFound, "ORDER_NOT_FOUND", orderID)
	}
	return o.view(), nil
}

// CancelOrder 撤单并解冻剩余资金
func (e *Exchange) CancelOrder(_ context.Context, orderID string, _ domain.Pair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.lookupLocked(orderID)
	if !ok {
		return domain.NewExchangeError(domain.KindOrderNotFound, "ORDER_NOT_FOUND", orderID)
	}
	if o.status.IsTerminal() {
		return domain.NewExchangeError(domain.KindExchangeRejected, "ORDER_CLOSED", "order already "+string(o.status))
	}

	cur := o.req.Pair.Quote()
	if o.req.Side == domain.SideSell {
		cur = o.req.Pair.Base()
	}
	b := e.balance(cur)
	b.Locked = b.Locked.Sub(o.locked)
	b.Available = b.Available.Add(o.locked)
	o.locked = decimal.Zero
	o.status = domain.OrderStatusCancelled
	o.updated = e.now().UTC()
	log.Infof("🛑 [模拟撤单] id=%s text=%s", o.id, o.req.ClientOrderID)
	return nil
}

// ListBalances 余额快照
func (e *Exchange) ListBalances(_ context.Context) (*domain.BalanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := &domain.BalanceSnapshot{
		Balances:  make(map[string]domain.Balance, len(e.balances)),
		FetchedAt: e.now().UTC(),
	}
	for cur, b := range e.balances {
		snap.Balances[cur] = *b
	}
	return snap, nil
}

// GetTicker 有上游行情时透传并顺带撮合；否则使用最后一次喂价
func (e *Exchange) GetTicker(ctx context.Context, pair domain.Pair) (*domain.Ticker, error) {
	if e.upstream != nil {
		t, err := e.upstream.GetTicker(ctx, pair)
		if err != nil {
			return nil, err
		}
		e.UpdatePrice(pair, t.Mid())
		return t, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	px, ok := e.prices[pair]
	if !ok {
		return nil, domain.NewExchangeError(domain.KindExchangeRejected, "NO_PRICE", "no price for "+pair.String())
	}
	return &domain.Ticker{Pair: pair, Last: px, Timestamp: e.now().UTC()}, nil
}

func (o *paperOrder) view() *domain.ExchangeOrder {
	return &domain.ExchangeOrder{
		ExchangeOrderID: o.id,
		ClientOrderID:   o.req.ClientOrderID,
		Status:          o.status,
		FilledQuantity:  o.filled,
		AvgPrice:        o.avg,
		Fee:             o.fee,
		UpdatedAt:       o.updated,
	}
}

package account

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
)

var log = logrus.WithField("component", "account_cache")

// BalanceLister 全量余额查询（交易所实现）
type BalanceLister interface {
	ListBalances(ctx context.Context) (*domain.BalanceSnapshot, error)
}

// position 按交易对记录的持仓成本，用于计算卖出时的已实现盈亏
type position struct {
	qty  decimal.Decimal
	cost decimal.Decimal // 含买入手续费
}

// Cache 进程内唯一权威的账户快照。
//
// 两种刷新来源：
//   - Resync：定期全量查询交易所余额
//   - ApplyFill：订单跟踪器推送的成交增量
//
// 冲突规则：按 UpdatedAt 新鲜度 last-write-wins，与来源无关。
type Cache struct {
	mu sync.RWMutex

	src   BalanceLister
	quote string // 权益计价币种，例如 USDT

	snap      domain.AccountSnapshot
	marks     map[string]decimal.Decimal // currency -> 以 quote 计价的标记价格
	positions map[domain.Pair]*position

	now func() time.Time
}

// Option 可选配置
type Option func(*Cache)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New 创建账户缓存。初始快照 UpdatedAt 为零值，风控会把它当作陈旧快照拒绝。
func New(src BalanceLister, quote string, opts ...Option) *Cache {
	c := &Cache{
		src:       src,
		quote:     quote,
		marks:     make(map[string]decimal.Decimal),
		positions: make(map[domain.Pair]*position),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap = domain.AccountSnapshot{
		Balances:   make(map[string]domain.Balance),
		TradingDay: domain.TradingDayOf(c.now()),
	}
	return c
}

// Snapshot 返回深拷贝，调用方只读
func (c *Cache) Snapshot() domain.AccountSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Resync 全量刷新
func (c *Cache) Resync(ctx context.Context) error {
	if c.src == nil {
		return errors.New("account cache: no balance source")
	}
	bs, err := c.src.ListBalances(ctx)
	if err != nil {
		return errors.Wrap(err, "list balances")
	}
	if bs.FetchedAt.IsZero() {
		bs.FetchedAt = c.now()
	}
	c.ApplyBalanceSnapshot(bs)
	return nil
}

// ApplyBalanceSnapshot 应用全量快照；比当前快照旧的结果直接丢弃。
// 返回是否被采纳。
func (c *Cache) ApplyBalanceSnapshot(bs *domain.BalanceSnapshot) bool {
	if bs == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if bs.FetchedAt.Before(c.snap.UpdatedAt) {
		log.Debugf("🔄 [账户同步] 丢弃过期全量快照: fetched=%s current=%s",
			bs.FetchedAt.Format(time.RFC3339Nano), c.snap.UpdatedAt.Format(time.RFC3339Nano))
		return false
	}

	balances := make(map[string]domain.Balance, len(bs.Balances))
	for cur, b := range bs.Balances {
		balances[cur] = b
	}
	c.snap.Balances = balances
	c.rollDayLocked(bs.FetchedAt)
	c.snap.UpdatedAt = bs.FetchedAt
	c.recomputeEquityLocked()

	log.Debugf("🔄 [账户同步] 全量快照已应用: currencies=%d equity=%s", len(balances), c.snap.TotalEquity)
	return true
}

// ApplyFill 应用一次成交增量。
//
// 已实现盈亏总是记账；余额增量只有在成交时间不早于当前快照时才应用，
// 更早的成交已经包含在更新的全量快照里。
func (c *Cache) ApplyFill(fill domain.Fill) {
	if !fill.Quantity.IsPositive() {
		return
	}
	if fill.Time.IsZero() {
		fill.Time = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollDayLocked(fill.Time)
	c.recordRealizedLocked(fill)

	if fill.Time.Before(c.snap.UpdatedAt) {
		log.Debugf("💰 [成交入账] 成交早于当前快照，余额已由全量同步覆盖: order=%s", fill.ClientOrderID)
		return
	}

	base, quote := fill.Pair.Base(), fill.Pair.Quote()
	notional := fill.Notional()
	switch fill.Side {
	case domain.SideBuy:
		c.addAvailableLocked(base, fill.Quantity)
		c.debitLocked(quote, notional.Add(fill.Fee))
	case domain.SideSell:
		c.debitLocked(base, fill.Quantity)
		c.addAvailableLocked(quote, notional.Sub(fill.Fee))
	}
	if quote == c.quote {
		c.marks[base] = fill.Price
	}
	c.snap.UpdatedAt = fill.Time
	c.recomputeEquityLocked()

	log.Infof("💰 [成交入账] order=%s %s %s qty=%s price=%s fee=%s equity=%s",
		fill.ClientOrderID, fill.Side, fill.Pair, fill.Quantity, fill.Price, fill.Fee, c.snap.TotalEquity)
}

// UpdateMark 更新基础币种标记价格（信号周期拉取行情时调用）
func (c *Cache) UpdateMark(pair domain.Pair, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pair.Quote() != c.quote {
		return
	}
	c.marks[pair.Base()] = price
	c.recomputeEquityLocked()
}

func (c *Cache) addAvailableLocked(currency string, delta decimal.Decimal) {
	b := c.snap.Balances[currency]
	b.Currency = currency
	b.Available = b.Available.Add(delta)
	c.snap.Balances[currency] = b
}

// debitLocked 扣减成交占用的资金：挂单期间的全量快照已把这部分计入 Locked，先扣冻结，余下扣可用
func (c *Cache) debitLocked(currency string, amount decimal.Decimal) {
	b := c.snap.Balances[currency]
	b.Currency = currency
	fromLocked := decimal.Min(amount, b.Locked)
	if fromLocked.IsNegative() {
		fromLocked = decimal.Zero
	}
	b.Locked = b.Locked.Sub(fromLocked)
	b.Available = b.Available.Sub(amount.Sub(fromLocked))
	c.snap.Balances[currency] = b
}

func (c *Cache) recordRealizedLocked(fill domain.Fill) {
	pos := c.positions[fill.Pair]
	if pos == nil {
		pos = &position{}
		c.positions[fill.Pair] = pos
	}
	switch fill.Side {
	case domain.SideBuy:
		pos.qty = pos.qty.Add(fill.Quantity)
		pos.cost = pos.cost.Add(fill.Notional()).Add(fill.Fee)
	case domain.SideSell:
		pnl := fill.Fee.Neg()
		if pos.qty.IsPositive() {
			closed := decimal.Min(fill.Quantity, pos.qty)
			avg := pos.cost.Div(pos.qty)
			pnl = fill.Price.Sub(avg).Mul(closed).Sub(fill.Fee)
			pos.cost = pos.cost.Sub(avg.Mul(closed))
			pos.qty = pos.qty.Sub(closed)
		}
		if pnl.IsNegative() {
			c.snap.DailyRealizedLoss = c.snap.DailyRealizedLoss.Add(pnl.Neg())
		}
	}
}

// rollDayLocked 交易日切换时清零当日亏损
func (c *Cache) rollDayLocked(t time.Time) {
	day := domain.TradingDayOf(t)
	if day > c.snap.TradingDay {
		c.snap.TradingDay = day
		c.snap.DailyRealizedLoss = decimal.Zero
	}
}

// recomputeEquityLocked 权益 = 计价币总额 + Σ 其它币总额 × 标记价格（无标记价格的币种不计入）
func (c *Cache) recomputeEquityLocked() {
	equity := decimal.Zero
	for cur, b := range c.snap.Balances {
		if cur == c.quote {
			equity = equity.Add(b.Total())
			continue
		}
		if mark, ok := c.marks[cur]; ok {
			equity = equity.Add(b.Total().Mul(mark))
		}
	}
	c.snap.TotalEquity = equity
}

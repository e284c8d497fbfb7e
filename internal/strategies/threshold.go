package strategies

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotguard/internal/domain"
)

// ThresholdID 价格阈值策略
const ThresholdID = "threshold"

func init() {
	RegisterStrategy(ThresholdID, func(p Params) (Strategy, error) { return NewThreshold(p) })
}

// Threshold 以每个交易对首次观测到的中间价为参考价：
// 上涨超过 BuyThreshold 买入固定金额，下跌超过 SellThreshold 卖出持仓（不超过同等金额）。
// 每次下单后参考价移动到当前价。
type Threshold struct {
	p   Params
	mu  sync.Mutex
	ref map[domain.Pair]decimal.Decimal
}

// NewThreshold 参数校验
func NewThreshold(p Params) (*Threshold, error) {
	if !p.OrderAmount.IsPositive() {
		return nil, errors.New("threshold: order_amount must be positive")
	}
	if !p.BuyThreshold.IsPositive() && !p.SellThreshold.IsPositive() {
		return nil, errors.New("threshold: buy_threshold or sell_threshold required")
	}
	return &Threshold{p: p, ref: make(map[domain.Pair]decimal.Decimal)}, nil
}

func (s *Threshold) Name() string { return ThresholdID }

func (s *Threshold) Analyze(market domain.Ticker, account domain.AccountSnapshot) domain.TradingSignal {
	px := market.Mid()
	if !px.IsPositive() {
		return domain.Hold(market.Pair, "no price", market.Timestamp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.ref[market.Pair]
	if !ok {
		s.ref[market.Pair] = px
		return domain.Hold(market.Pair, "reference price set", market.Timestamp)
	}
	change := px.Sub(ref).Div(ref)

	qty := s.p.OrderAmount.Div(px).Truncate(8)
	switch {
	case s.p.BuyThreshold.IsPositive() && change.GreaterThan(s.p.BuyThreshold):
		s.ref[market.Pair] = px
		return domain.TradingSignal{
			Action:    domain.ActionBuy,
			Pair:      market.Pair,
			Price:     px,
			Quantity:  qty,
			Strength:  0.8,
			Reason:    "price up " + change.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
			Timestamp: market.Timestamp,
		}
	case s.p.SellThreshold.IsPositive() && change.LessThan(s.p.SellThreshold.Neg()):
		held := account.Available(market.Pair.Base())
		if !held.IsPositive() {
			return domain.Hold(market.Pair, "down trend but nothing to sell", market.Timestamp)
		}
		s.ref[market.Pair] = px
		return domain.TradingSignal{
			Action:    domain.ActionSell,
			Pair:      market.Pair,
			Price:     px,
			Quantity:  decimal.Min(qty, held),
			Strength:  0.2,
			Reason:    "price down " + change.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
			Timestamp: market.Timestamp,
		}
	}
	return domain.Hold(market.Pair, "within thresholds", market.Timestamp)
}

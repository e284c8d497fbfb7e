package strategies

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

var log = logrus.WithField("component", "strategies")

// AccountView 账户快照只读视图
type AccountView interface {
	Snapshot() domain.AccountSnapshot
}

// Source 对每个跟踪的交易对运行一次策略，实现 ports.SignalSource
type Source struct {
	strategy Strategy
	pairs    []domain.Pair
	market   ports.MarketData
	account  AccountView
}

var _ ports.SignalSource = (*Source)(nil)

func NewSource(strategy Strategy, pairs []domain.Pair, market ports.MarketData, account AccountView) *Source {
	return &Source{strategy: strategy, pairs: pairs, market: market, account: account}
}

// Signals 每个交易对一个信号；行情获取失败的交易对输出 Hold
func (s *Source) Signals(ctx context.Context) ([]domain.TradingSignal, error) {
	snap := s.account.Snapshot()
	out := make([]domain.TradingSignal, 0, len(s.pairs))
	for _, pair := range s.pairs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tk, err := s.market.GetTicker(ctx, pair)
		if err != nil {
			log.Warnf("⚠️ [策略] %s 获取行情失败: %v", pair, err)
			out = append(out, domain.Hold(pair, "market data unavailable", snap.UpdatedAt))
			continue
		}
		sig := s.strategy.Analyze(*tk, snap)
		sig.Pair = pair
		out = append(out, sig)
	}
	return out, nil
}

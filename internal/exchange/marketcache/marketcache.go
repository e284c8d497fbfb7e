package marketcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/pkg/cache"
)

// Market 短 TTL 行情缓存：同一周期里策略和风控读取同一份行情，
// 并发的同交易对请求合并成一次上游调用。
type Market struct {
	upstream ports.MarketData
	tickers  *cache.InMemoryCache[domain.Pair, domain.Ticker]
	group    singleflight.Group
	ttl      time.Duration
}

var _ ports.MarketData = (*Market)(nil)

// New ttl<=0 时只合并并发请求，不缓存
func New(upstream ports.MarketData, ttl time.Duration) *Market {
	return &Market{
		upstream: upstream,
		tickers:  cache.NewInMemoryCache[domain.Pair, domain.Ticker](ttl),
		ttl:      ttl,
	}
}

func (m *Market) GetTicker(ctx context.Context, pair domain.Pair) (*domain.Ticker, error) {
	if m.ttl > 0 {
		if t, ok := m.tickers.Get(pair); ok {
			return &t, nil
		}
	}
	v, err, _ := m.group.Do(string(pair), func() (any, error) {
		t, err := m.upstream.GetTicker(ctx, pair)
		if err != nil {
			return nil, err
		}
		if m.ttl > 0 {
			m.tickers.Set(pair, *t, m.ttl)
		}
		return *t, nil
	})
	if err != nil {
		return nil, err
	}
	t := v.(domain.Ticker)
	return &t, nil
}

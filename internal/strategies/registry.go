package strategies

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotguard/internal/domain"
)

// Strategy 信号生成能力：给定行情与账户快照，产出一个信号（允许 Hold）
type Strategy interface {
	Name() string
	Analyze(market domain.Ticker, account domain.AccountSnapshot) domain.TradingSignal
}

// Params 策略通用参数（来自配置 strategy 段）
type Params struct {
	OrderAmount   decimal.Decimal // 每次下单的计价币金额
	BuyThreshold  decimal.Decimal // 相对参考价上涨比例，超过即买入
	SellThreshold decimal.Decimal // 相对参考价下跌比例，超过即卖出
}

// Factory 根据参数构造策略实例
type Factory func(p Params) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterStrategy 注册策略，重复注册直接 panic（只在 init 中调用）
func RegisterStrategy(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[id]; exists {
		panic(fmt.Errorf("strategy %s already registered", id))
	}
	registry[id] = f
}

// New 按名称创建策略
func New(id string, p Params) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %s not found (registered: %v)", id, Registered())
	}
	return f(p)
}

// Registered 已注册的策略名称（排序）
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for id := range registry {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

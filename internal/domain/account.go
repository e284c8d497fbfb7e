package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance 单币种余额
type Balance struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total 可用 + 冻结
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// BalanceSnapshot 交易所余额全量查询结果
type BalanceSnapshot struct {
	Balances  map[string]Balance
	FetchedAt time.Time
}

// AccountSnapshot 账户快照。由账户缓存独占持有，对外只给深拷贝。
// DailyRealizedLoss/TradingDay 显式放在快照里，每次评估随快照传入风控。
type AccountSnapshot struct {
	Balances          map[string]Balance `json:"balances"`
	TotalEquity       decimal.Decimal    `json:"total_equity"`
	DailyRealizedLoss decimal.Decimal    `json:"daily_realized_loss"` // 当日已实现亏损（正数）
	TradingDay        string             `json:"trading_day"`         // YYYY-MM-DD（UTC）
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Available 指定币种可用余额，不存在时为 0
func (s AccountSnapshot) Available(currency string) decimal.Decimal {
	if b, ok := s.Balances[currency]; ok {
		return b.Available
	}
	return decimal.Zero
}

// Holding 指定币种总持仓（可用 + 冻结）
func (s AccountSnapshot) Holding(currency string) decimal.Decimal {
	if b, ok := s.Balances[currency]; ok {
		return b.Total()
	}
	return decimal.Zero
}

// Clone 深拷贝
func (s AccountSnapshot) Clone() AccountSnapshot {
	cp := s
	cp.Balances = make(map[string]Balance, len(s.Balances))
	for k, v := range s.Balances {
		cp.Balances[k] = v
	}
	return cp
}

// TradingDayOf 交易日口径：UTC 日期
func TradingDayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

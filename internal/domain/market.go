package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair 交易对，Gate.io 格式 BASE_QUOTE（例如 BTC_USDT）
type Pair string

// ParsePair 解析并规范化交易对
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid pair %q: expect BASE_QUOTE", s)
	}
	return Pair(s), nil
}

// IsValid 检查交易对格式
func (p Pair) IsValid() bool {
	_, err := ParsePair(string(p))
	return err == nil && string(p) == strings.ToUpper(string(p))
}

// Base 基础币种（BTC_USDT -> BTC）
func (p Pair) Base() string {
	base, _, _ := strings.Cut(string(p), "_")
	return base
}

// Quote 计价币种（BTC_USDT -> USDT）
func (p Pair) Quote() string {
	_, quote, _ := strings.Cut(string(p), "_")
	return quote
}

func (p Pair) String() string { return string(p) }

// Ticker 行情快照（由外部行情服务提供）
type Ticker struct {
	Pair      Pair
	Last      decimal.Decimal
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// Mid 返回中间价；盘口缺失时退回最新成交价
func (t Ticker) Mid() decimal.Decimal {
	if t.BestBid.IsPositive() && t.BestAsk.IsPositive() {
		return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
	}
	return t.Last
}

package gateio

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotguard/internal/domain"
)

// apiError Gate.io 错误响应体
type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// createOrderRequest POST /spot/orders 请求体
type createOrderRequest struct {
	Text         string `json:"text"`
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"`
	Account      string `json:"account"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price,omitempty"`
	TimeInForce  string `json:"time_in_force"`
}

// orderResponse 订单对象（下单/查单/撤单共用）
type orderResponse struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	CurrencyPair string      `json:"currency_pair"`
	Status       string      `json:"status"`
	Type         string      `json:"type"`
	Side         string      `json:"side"`
	Amount       string      `json:"amount"`
	Price        string      `json:"price"`
	Left         string      `json:"left"`
	FilledAmount string      `json:"filled_amount"`
	FilledTotal  string      `json:"filled_total"`
	AvgDealPrice string      `json:"avg_deal_price"`
	Fee          string      `json:"fee"`
	FeeCurrency  string      `json:"fee_currency"`
	FinishAs     string      `json:"finish_as"`
	CreateTimeMs json.Number `json:"create_time_ms"`
	UpdateTimeMs json.Number `json:"update_time_ms"`
}

// accountResponse GET /spot/accounts 元素
type accountResponse struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// tickerResponse GET /spot/tickers 元素
type tickerResponse struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	LowestAsk    string `json:"lowest_ask"`
	HighestBid   string `json:"highest_bid"`
}

// dec 宽松解析数值字段，空串或非法值视为 0
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseMillis 解析毫秒时间戳（Gate.io 可能返回 "1700000000123.456"）
func parseMillis(n json.Number) time.Time {
	if n == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(f)).UTC()
}

// mapStatus open/closed/cancelled -> 内部状态
func mapStatus(o *orderResponse, filled, left decimal.Decimal) domain.OrderStatus {
	switch o.Status {
	case "open":
		if filled.IsPositive() {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusOpen
	case "closed":
		if o.FinishAs == "filled" || left.IsZero() {
			return domain.OrderStatusFilled
		}
		return domain.OrderStatusCancelled
	case "cancelled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusPending
	}
}

// isMarketBuy 市价买单的 amount/left 以计价币种计
func (o *orderResponse) isMarketBuy() bool {
	return o.Type == string(domain.OrderTypeMarket) && o.Side == string(domain.SideBuy)
}

// filledBase 已成交的基础币种数量：优先 filled_amount，
// 市价买单没有该字段时用 filled_total/avg_deal_price 推算
func (o *orderResponse) filledBase(left decimal.Decimal) decimal.Decimal {
	if o.FilledAmount != "" {
		return dec(o.FilledAmount)
	}
	if o.isMarketBuy() {
		total, avg := dec(o.FilledTotal), dec(o.AvgDealPrice)
		if !total.IsPositive() || !avg.IsPositive() {
			return decimal.Zero
		}
		return total.Div(avg)
	}
	filled := dec(o.Amount).Sub(left)
	if filled.IsNegative() {
		return decimal.Zero
	}
	return filled
}

// toExchangeOrder 转换为权威订单状态，手续费统一折算到计价币种
func (o *orderResponse) toExchangeOrder() *domain.ExchangeOrder {
	left := dec(o.Left)
	filled := o.filledBase(left)
	avg := dec(o.AvgDealPrice)
	if total := dec(o.FilledTotal); !avg.IsPositive() && filled.IsPositive() && total.IsPositive() {
		avg = total.Div(filled)
	}

	fee := dec(o.Fee)
	pair := domain.Pair(o.CurrencyPair)
	if o.FeeCurrency != "" && o.FeeCurrency == pair.Base() {
		fee = fee.Mul(avg)
	}

	updated := parseMillis(o.UpdateTimeMs)
	if updated.IsZero() {
		updated = parseMillis(o.CreateTimeMs)
	}

	return &domain.ExchangeOrder{
		ExchangeOrderID: o.ID,
		ClientOrderID:   o.Text,
		Status:          mapStatus(o, filled, left),
		FilledQuantity:  filled,
		AvgPrice:        avg,
		Fee:             fee,
		UpdatedAt:       updated,
	}
}

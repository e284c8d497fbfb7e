package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotguard/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// scriptedExchange 按测试脚本返回订单状态
type scriptedExchange struct {
	mu       sync.Mutex
	orders   map[string]*domain.ExchangeOrder // 交易所订单号或客户端订单号 -> 状态
	getErr   map[string]error
	onCancel func(id string) error
	cancels  []string
	gets     int
	balances *domain.BalanceSnapshot
}

func newScriptedExchange() *scriptedExchange {
	return &scriptedExchange{
		orders: make(map[string]*domain.ExchangeOrder),
		getErr: make(map[string]error),
	}
}

func (e *scriptedExchange) set(id string, o domain.ExchangeOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := o
	e.orders[id] = &cp
}

func (e *scriptedExchange) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[req.ClientOrderID]; ok {
		cp := *o
		return &cp, nil
	}
	o := &domain.ExchangeOrder{ExchangeOrderID: "x-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Status: domain.OrderStatusOpen}
	e.orders[req.ClientOrderID] = o
	e.orders[o.ExchangeOrderID] = o
	cp := *o
	return &cp, nil
}

func (e *scriptedExchange) GetOrder(_ context.Context, id string, _ domain.Pair) (*domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gets++
	if err := e.getErr[id]; err != nil {
		return nil, err
	}
	o, ok := e.orders[id]
	if !ok {
		return nil, domain.NewExchangeError(domain.KindOrderNotFound, "ORDER_NOT_FOUND", id)
	}
	cp := *o
	return &cp, nil
}

func (e *scriptedExchange) CancelOrder(_ context.Context, id string, _ domain.Pair) error {
	e.mu.Lock()
	e.cancels = append(e.cancels, id)
	hook := e.onCancel
	e.mu.Unlock()
	if hook != nil {
		return hook(id)
	}
	return nil
}

func (e *scriptedExchange) ListBalances(_ context.Context) (*domain.BalanceSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.balances == nil {
		return &domain.BalanceSnapshot{Balances: map[string]domain.Balance{}, FetchedAt: time.Now()}, nil
	}
	return e.balances, nil
}

func (e *scriptedExchange) GetTicker(_ context.Context, pair domain.Pair) (*domain.Ticker, error) {
	return &domain.Ticker{Pair: pair, Last: dec("100"), Timestamp: time.Now()}, nil
}

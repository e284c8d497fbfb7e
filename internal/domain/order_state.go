package domain

import "fmt"

// 允许的状态迁移。pending 可以直接跳到 partially_filled/filled：
// 交易所的首次观测可能已经越过 open。
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusOpen:            true,
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusRejected:        true,
	},
	OrderStatusOpen: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusExpired:         true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusFilled:    true,
		OrderStatusCancelled: true,
		OrderStatusExpired:   true,
	},
}

// ErrInvalidTransition 非法状态迁移
type ErrInvalidTransition struct {
	From OrderStatus
	To   OrderStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// CanTransition 判断 from -> to 是否合法。相同状态不算迁移。
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition 对记录执行一次状态迁移。
// 返回 changed=false 表示同状态重放（幂等，无操作）。
func (o *OrderRecord) Transition(to OrderStatus) (changed bool, err error) {
	if o.Status == to {
		return false, nil
	}
	if !CanTransition(o.Status, to) {
		return false, &ErrInvalidTransition{From: o.Status, To: to}
	}
	o.Status = to
	return true, nil
}

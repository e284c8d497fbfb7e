package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续下单。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续下单失败上限（网络错误重试耗尽、存储不可用）。
	MaxConsecutiveErrors int64

	// Cooldown 自动熔断后的冷却时间，到期自动恢复；0 表示只能手动 Resume。
	Cooldown time.Duration
}

// CircuitBreaker 快路径使用原子变量。
// 当日亏损不在这里统计：它随账户快照显式传入风控。
type CircuitBreaker struct {
	halted       atomic.Bool
	manualHalt   atomic.Bool
	haltedAtNano atomic.Int64

	consecutiveErrors atomic.Int64

	maxConsecutiveErrors atomic.Int64
	cooldownNanos        atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.cooldownNanos.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断（人工介入或检测到严重异常），不会因冷却自动恢复。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manualHalt.Store(true)
	cb.trip()
}

// Resume 手动恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.manualHalt.Store(false)
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Halted 当前是否处于熔断
func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.AllowTrading() != nil
}

// AllowTrading 快路径检查是否允许下单。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		if cb.manualHalt.Load() || !cb.cooledDown() {
			return ErrCircuitBreakerOpen
		}
		cb.halted.Store(false)
		cb.consecutiveErrors.Store(0)
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.trip()
		return ErrCircuitBreakerOpen
	}
	return nil
}

// OnSuccess 在一次下单成功后调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 在一次基础设施失败后调用。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// ConsecutiveErrors 当前连续错误数
func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}

func (cb *CircuitBreaker) trip() {
	if cb.halted.CompareAndSwap(false, true) {
		cb.haltedAtNano.Store(cb.now().UnixNano())
	}
}

func (cb *CircuitBreaker) cooledDown() bool {
	cooldown := cb.cooldownNanos.Load()
	if cooldown <= 0 {
		return false
	}
	return cb.now().UnixNano()-cb.haltedAtNano.Load() >= cooldown
}

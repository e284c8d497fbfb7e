package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewSlidingWindow 创建滑动窗口：windowSize 内最多 limit 次请求
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
		now:        time.Now,
	}
}

// evictLocked 清理窗口外的请求
func (sw *SlidingWindow) evictLocked(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}

// Allow 检查是否允许请求，允许时占用一个名额
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.evictLocked(now)
	if len(sw.requests) < sw.limit {
		sw.requests = append(sw.requests, now)
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		wait := sw.windowSize
		if len(sw.requests) > 0 {
			wait = sw.requests[0].Add(sw.windowSize).Sub(sw.now())
		}
		sw.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Remaining 当前窗口剩余名额
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evictLocked(sw.now())
	return sw.limit - len(sw.requests)
}

// Manager 按端点分组的速率限制
type Manager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// Gate.io 现货接口限流（官方：下单/撤单 10r/s，其余私有接口 200r/10s）
const (
	EndpointSpotOrderPost   = "spot:order:post"
	EndpointSpotOrderDelete = "spot:order:delete"
	EndpointSpotOrderGet    = "spot:order:get"
	EndpointSpotAccounts    = "spot:accounts:get"
	EndpointSpotTickers     = "spot:tickers:get"
)

// NewGateManager 创建 Gate.io 现货默认限流
func NewGateManager() *Manager {
	m := &Manager{
		limiters: make(map[string]RateLimiter),
		fallback: NewSlidingWindow(200, 10*time.Second),
	}
	m.limiters[EndpointSpotOrderPost] = NewSlidingWindow(10, time.Second)
	m.limiters[EndpointSpotOrderDelete] = NewSlidingWindow(10, time.Second)
	m.limiters[EndpointSpotOrderGet] = NewSlidingWindow(200, 10*time.Second)
	m.limiters[EndpointSpotAccounts] = NewSlidingWindow(200, 10*time.Second)
	m.limiters[EndpointSpotTickers] = NewSlidingWindow(200, 10*time.Second)
	return m
}

// Set 覆盖某个端点的限流
func (m *Manager) Set(endpoint string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[endpoint] = l
}

// Limiter 获取端点限流器，未配置时返回通用限流
func (m *Manager) Limiter(endpoint string) RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 等待端点名额
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	if m == nil {
		return nil
	}
	return m.Limiter(endpoint).Wait(ctx)
}

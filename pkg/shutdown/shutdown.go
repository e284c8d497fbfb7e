package shutdown

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/spotguard/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type hook struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器。
// 回调按注册的逆序串行执行：后打开的资源先关闭（例如先停服务，最后关存储）。
type Manager struct {
	mu    sync.Mutex
	hooks []hook
	done  bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调不再执行。返回所有失败的汇总。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	hooks := m.hooks
	m.mu.Unlock()

	if len(hooks) == 0 {
		logger.Info("没有注册的关闭回调")
		return nil
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(hooks))

	var firstErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := ctx.Err(); err != nil {
			logger.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, err)
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if err := h.fn(ctx); err != nil {
			logger.Warnf("关闭 %s 失败: %v", h.name, err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, h.name)
			}
			continue
		}
		logger.Debugf("已关闭 %s", h.name)
	}
	if firstErr == nil {
		logger.Info("所有关闭回调已完成")
	}
	return firstErr
}

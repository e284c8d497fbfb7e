package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "services")

// Task 周期任务
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler 并行运行相互独立的周期任务，任务之间只通过共享状态组件通信
type Scheduler struct {
	tasks []Task
}

func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Run 阻塞直到 ctx 结束。任务出错只记录日志，下一个周期继续执行。
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			log.Warnf("⚠️ [调度] 任务 %s 未启用", task.Name)
			continue
		}
		g.Go(func() error {
			runLoop(ctx, task)
			return nil
		})
	}
	return g.Wait()
}

func runLoop(ctx context.Context, task Task) {
	log.Infof("⏰ [调度] 启动任务 %s（每 %s）", task.Name, task.Interval)
	runTask(ctx, task)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infof("⏰ [调度] 任务 %s 已停止", task.Name)
			return
		case <-ticker.C:
			runTask(ctx, task)
		}
	}
}

func runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("❌ [调度] 任务 %s panic: %v", task.Name, r)
		}
	}()
	start := time.Now()
	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		log.Warnf("⚠️ [调度] 任务 %s 失败: %v", task.Name, err)
		return
	}
	log.Debugf("⏰ [调度] 任务 %s 完成，用时 %s", task.Name, time.Since(start).Truncate(time.Millisecond))
}

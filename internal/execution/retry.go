package execution

import (
	"context"
	"time"

	"github.com/betbot/spotguard/internal/domain"
)

// RetryPolicy 有界指数退避。只有网络瞬时错误会重试。
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数（含首次），<=0 按 1 处理
	BaseDelay   time.Duration // 第一次重试前的等待
	MaxDelay    time.Duration // 单次等待上限
}

// DefaultRetryPolicy 3 次尝试，500ms 起步，最长 8s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Backoff 第 retry 次重试前的等待：BaseDelay * 2^retry，封顶 MaxDelay
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<retry)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleepFn 可替换（测试不真正等待）
type sleepFn func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do 执行 fn，网络瞬时错误按退避重试；拒单/未找到等终态错误立即返回。
// 返回最后一次的错误。
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.do(ctx, sleepCtx, fn)
}

func (p RetryPolicy) do(ctx context.Context, sleep sleepFn, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := sleep(ctx, p.Backoff(i-1)); serr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		log.Debugf("🔁 [重试] attempt=%d/%d err=%v", i+1, attempts, err)
	}
	return err
}

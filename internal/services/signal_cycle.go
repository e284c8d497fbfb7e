package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/betbot/spotguard/internal/account"
	"github.com/betbot/spotguard/internal/execution"
	"github.com/betbot/spotguard/internal/metrics"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/internal/risk"
)

// SignalCycle 一个决策周期：信号 -> 行情标记 -> 风控 -> 下单。
// 同一周期内信号按产出顺序串行处理，同一交易对的评估与下单不会交错。
type SignalCycle struct {
	source    ports.SignalSource
	market    ports.MarketData
	cache     *account.Cache
	gate      *risk.Gate
	submitter *execution.Submitter
}

// CycleStats 单个周期统计
type CycleStats struct {
	Signals   int
	Holds     int
	Rejected  int
	Submitted int
	Failed    int
}

func NewSignalCycle(source ports.SignalSource, market ports.MarketData, cache *account.Cache, gate *risk.Gate, submitter *execution.Submitter) *SignalCycle {
	return &SignalCycle{
		source:    source,
		market:    market,
		cache:     cache,
		gate:      gate,
		submitter: submitter,
	}
}

// RunOnce 执行一个周期。单个信号的失败只记日志，不中断后续信号。
func (c *SignalCycle) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	signals, err := c.source.Signals(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "collect signals")
	}
	stats.Signals = len(signals)

	for _, sig := range signals {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if sig.IsHold() {
			stats.Holds++
			log.Debugf("⏸️ [决策] %s 观望: %s", sig.Pair, sig.Reason)
			continue
		}

		tk, err := c.market.GetTicker(ctx, sig.Pair)
		if err != nil {
			stats.Failed++
			log.Warnf("⚠️ [决策] 获取行情失败，跳过信号: pair=%s err=%v", sig.Pair, err)
			continue
		}
		mark := tk.Mid()
		c.cache.UpdateMark(sig.Pair, mark)

		d := c.gate.Evaluate(sig, c.cache.Snapshot(), mark)
		if !d.Accepted {
			stats.Rejected++
			metrics.IncRiskDecision(string(d.Reason))
			continue
		}
		metrics.IncRiskDecision("accepted")

		side, _ := sig.Side()
		rec, err := c.submitter.Submit(ctx, sig)
		switch {
		case errors.Is(err, execution.ErrPairBusy):
			metrics.IncOrderSubmitted(string(side), "busy")
		case errors.Is(err, execution.ErrStoreUnavailable):
			stats.Failed++
			metrics.IncOrderSubmitted(string(side), "refused")
		case err != nil && execution.IsRetryableSubmission(err):
			stats.Failed++
			metrics.IncOrderSubmitted(string(side), "pending")
		case err != nil:
			stats.Failed++
			metrics.IncOrderSubmitted(string(side), "rejected")
		default:
			stats.Submitted++
			metrics.IncOrderSubmitted(string(side), "accepted")
			log.Infof("📤 [决策] %s %s %s @ %s -> %s (%s)", sig.Pair, sig.Action, sig.Quantity, sig.Price, rec.ClientOrderID, sig.Reason)
		}
	}

	snap := c.cache.Snapshot()
	metrics.SetAccount(snap.TotalEquity.InexactFloat64(), snap.DailyRealizedLoss.InexactFloat64())
	return stats, nil
}

// ResyncAccount 全量刷新账户缓存（定时任务）
func ResyncAccount(ctx context.Context, cache *account.Cache) error {
	if err := cache.Resync(ctx); err != nil {
		return err
	}
	snap := cache.Snapshot()
	metrics.SetAccount(snap.TotalEquity.InexactFloat64(), snap.DailyRealizedLoss.InexactFloat64())
	return nil
}


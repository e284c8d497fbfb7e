package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/account"
	"github.com/betbot/spotguard/internal/exchange/gateio"
	"github.com/betbot/spotguard/internal/exchange/marketcache"
	"github.com/betbot/spotguard/internal/exchange/paper"
	"github.com/betbot/spotguard/internal/execution"
	"github.com/betbot/spotguard/internal/metrics"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/internal/risk"
	"github.com/betbot/spotguard/internal/services"
	"github.com/betbot/spotguard/internal/store"
	"github.com/betbot/spotguard/internal/strategies"
	"github.com/betbot/spotguard/pkg/config"
	"github.com/betbot/spotguard/pkg/logger"
	"github.com/betbot/spotguard/pkg/secretstore"
	"github.com/betbot/spotguard/pkg/shutdown"
)

const gracefulShutdownPeriod = 15 * time.Second

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	once := flag.Bool("once", false, "只跑一个周期（对账 + 决策）后退出")
	flag.Parse()

	path := *configPath
	if path == "" {
		if p, ok := firstExistingFile("yml/config.yaml", "yml/config.yml", "config.yaml"); ok {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}
	defer logger.Close()

	if path != "" {
		logrus.Infof("使用配置文件: %s", path)
	} else {
		logrus.Warnf("未指定配置文件，将使用环境变量和默认值")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closers := shutdown.NewManager()
	runErr := run(ctx, cfg, *once, closers)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if err := closers.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("关闭未完全成功: %v", err)
	}

	if runErr != nil {
		logrus.Errorf("❌ 运行失败: %v", runErr)
		logger.Close()
		os.Exit(1)
	}
	logrus.Info("✅ 交易机器人已停止")
}

func run(ctx context.Context, cfg *config.Config, once bool, closers *shutdown.Manager) error {
	logrus.Infof("🚀 启动现货交易机器人: pairs=%v strategy=%s dry_run=%v", cfg.Pairs, cfg.Strategy.Name, cfg.DryRun)

	// 订单存储
	if cfg.Store.Driver != "memory" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("创建存储目录失败: %w", err)
		}
	}
	encKey, err := secretstore.ParseKey(cfg.Store.EncryptionKey)
	if err != nil {
		return fmt.Errorf("store.encryption_key 无效: %w", err)
	}
	orders, err := store.Open(store.Config{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		EncryptionKey: encKey,
	})
	if err != nil {
		return fmt.Errorf("打开订单存储失败: %w", err)
	}
	closers.OnShutdown("order-store", func(context.Context) error { return orders.Close() })

	// 交易所：行情始终来自 Gate.io 公共接口，dry_run 时下单走模拟盘
	gate, err := gateio.NewClient(gateio.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Timeout:   cfg.Exchange.Timeout,
	})
	if err != nil {
		return err
	}
	var (
		exchange ports.Exchange   = gate
		market   ports.MarketData = gate
	)
	if cfg.DryRun {
		sim := paper.New(paper.Config{Balances: cfg.Paper.Balances, FeeRate: cfg.Paper.FeeRate}, gate)
		exchange, market = sim, sim
		logrus.Infof("📝 [纸交易] 模拟盘已启用: fee_rate=%s balances=%v", cfg.Paper.FeeRate, cfg.Paper.Balances)
	}

	market = marketcache.New(market, cfg.TickerTTL)

	// 账户缓存
	cache := account.New(exchange, cfg.QuoteCurrency)
	if err := services.ResyncAccount(ctx, cache); err != nil {
		// 快照陈旧时风控会拒绝所有信号，不需要在这里退出
		logrus.Warnf("⚠️ 首次同步账户失败: %v", err)
	}

	// 风控
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: cfg.CircuitBreaker.MaxConsecutiveErrors,
		Cooldown:             cfg.CircuitBreaker.Cooldown,
	})
	riskGate := risk.NewGate(cfg.RiskLimits(), breaker)

	// 下单与跟踪共用同一把记录锁
	recordLocks := execution.NewKeyedLocker(32)
	submitter := execution.NewSubmitter(exchange, orders, recordLocks, breaker, execution.SubmitterConfig{
		IndependentIDs: cfg.Execution.IndependentIDs,
		OrderType:      cfg.Execution.OrderType,
		Retry: execution.RetryPolicy{
			MaxAttempts: cfg.Execution.RetryAttempts,
			BaseDelay:   cfg.Execution.RetryBaseDelay,
			MaxDelay:    cfg.Execution.RetryMaxDelay,
		},
	})
	tracker := services.NewOrderTracker(exchange, orders, recordLocks, cache, services.TrackerConfig{
		Concurrency: cfg.Execution.ReconcileConcurrency,
	})
	tracker.OnOrderUpdate(metrics.OrderObserver{})
	reaper := services.NewExpiryReaper(exchange, orders, tracker, cfg.Risk.MaxOrderAge)

	// 策略
	strategy, err := strategies.New(cfg.Strategy.Name, strategies.Params{
		OrderAmount:   cfg.Strategy.OrderAmount,
		BuyThreshold:  cfg.Strategy.BuyThreshold,
		SellThreshold: cfg.Strategy.SellThreshold,
	})
	if err != nil {
		return err
	}
	source := strategies.NewSource(strategy, cfg.Pairs, market, cache)
	cycle := services.NewSignalCycle(source, market, cache, riskGate, submitter)

	// 启动时先对账一次，恢复上次运行遗留的活跃订单
	if stats, err := tracker.Reconcile(ctx); err != nil {
		logrus.Warnf("⚠️ 启动对账未完成: %v", err)
	} else {
		logrus.Infof("🔄 启动对账完成: checked=%d changed=%d errors=%d", stats.Checked, stats.Changed, stats.Errors)
	}

	if once {
		stats, err := cycle.RunOnce(ctx)
		logrus.Infof("单周期结束: signals=%d holds=%d rejected=%d submitted=%d failed=%d",
			stats.Signals, stats.Holds, stats.Rejected, stats.Submitted, stats.Failed)
		return err
	}

	// 状态服务
	// 状态服务随 ctx 关闭
	if cfg.MetricsListen != "" {
		if _, err := metrics.NewStatusServer(cache, orders, breaker, orders).StartAsync(ctx, cfg.MetricsListen); err != nil {
			return err
		}
	}

	tasks := []services.Task{
		{Name: "signal", Interval: cfg.Intervals.Signal, Run: func(ctx context.Context) error {
			_, err := cycle.RunOnce(ctx)
			return err
		}},
		{Name: "reconcile", Interval: cfg.Intervals.Reconcile, Run: func(ctx context.Context) error {
			_, err := tracker.Reconcile(ctx)
			return err
		}},
		{Name: "log-rotate", Interval: time.Minute, Run: dailyRotate()},
	}
	if cfg.Risk.MaxOrderAge > 0 && cfg.Intervals.Reaper > 0 {
		tasks = append(tasks, services.Task{Name: "reaper", Interval: cfg.Intervals.Reaper, Run: func(ctx context.Context) error {
			_, err := reaper.Sweep(ctx)
			return err
		}})
	}
	if cfg.Intervals.Account > 0 {
		tasks = append(tasks, services.Task{Name: "account", Interval: cfg.Intervals.Account, Run: func(ctx context.Context) error {
			return services.ResyncAccount(ctx, cache)
		}})
	}

	logrus.Info("✅ 交易机器人已启动，按 Ctrl+C 停止")
	if err := services.NewScheduler(tasks...).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logrus.Info("收到停止信号，正在关闭...")
	return nil
}

// dailyRotate 跨天时切换日志文件
func dailyRotate() func(ctx context.Context) error {
	day := time.Now().YearDay()
	return func(context.Context) error {
		today := time.Now().YearDay()
		if today == day {
			return nil
		}
		day = today
		return logger.Rotate()
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/pkg/secretstore"
)

// ExchangeConfig Gate.io 连接配置
type ExchangeConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// PaperConfig 模拟盘配置（dry_run 时生效）
type PaperConfig struct {
	FeeRate  decimal.Decimal
	Balances map[string]decimal.Decimal
}

// StrategyConfig 策略配置
type StrategyConfig struct {
	Name          string
	OrderAmount   decimal.Decimal // 每次下单计价币金额
	BuyThreshold  decimal.Decimal
	SellThreshold decimal.Decimal
}

// RiskConfig 风控限额。除 min_order_amount 外，<= 0 表示关闭该项检查。
type RiskConfig struct {
	MaxPositionRatio  decimal.Decimal
	MaxDailyLoss      decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxPriceDeviation decimal.Decimal
	MaxOrderAge       time.Duration
	MaxSnapshotAge    time.Duration
}

// CircuitBreakerConfig 熔断配置
type CircuitBreakerConfig struct {
	MaxConsecutiveErrors int64
	Cooldown             time.Duration
}

// ExecutionConfig 下单与对账配置
type ExecutionConfig struct {
	IndependentIDs       bool
	OrderType            domain.OrderType
	RetryAttempts        int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	ReconcileConcurrency int
}

// IntervalConfig 周期任务间隔
type IntervalConfig struct {
	Signal    time.Duration
	Reconcile time.Duration
	Reaper    time.Duration
	Account   time.Duration
}

// StoreConfig 订单存储
type StoreConfig struct {
	Driver        string // sqlite | badger | memory
	Path          string
	EncryptionKey string // 仅 badger
}

// LogConfig 日志
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	JSON       bool
}

// SecretsConfig 加密凭证库（cmd/env2badger 导入）。
// 环境变量里没有凭证时才会读取。
type SecretsConfig struct {
	Path   string
	Key    string // 32 字节 hex/base64，建议只放在环境变量 SPOTGUARD_SECRET_KEY
	Prefix string
}

// Config 应用配置
type Config struct {
	Exchange       ExchangeConfig
	DryRun         bool // 纸交易模式：使用模拟交易所，行情仍取自 Gate.io 公共接口
	Paper          PaperConfig
	QuoteCurrency  string
	Pairs          []domain.Pair
	Strategy       StrategyConfig
	Risk           RiskConfig
	CircuitBreaker CircuitBreakerConfig
	Execution      ExecutionConfig
	Intervals      IntervalConfig
	Store          StoreConfig
	Log            LogConfig
	Secrets        SecretsConfig
	MetricsListen  string // 状态服务监听地址，空表示不启动
	TickerTTL      time.Duration
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）。
// 金额类字段用字符串承载，避免浮点误差。
type ConfigFile struct {
	Exchange struct {
		BaseURL        string `yaml:"base_url" json:"base_url"`
		APIKey         string `yaml:"api_key" json:"api_key"`
		APISecret      string `yaml:"api_secret" json:"api_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"exchange" json:"exchange"`
	DryRun *bool `yaml:"dry_run" json:"dry_run"`
	Paper  struct {
		FeeRate  string            `yaml:"fee_rate" json:"fee_rate"`
		Balances map[string]string `yaml:"balances" json:"balances"`
	} `yaml:"paper" json:"paper"`
	QuoteCurrency string   `yaml:"quote_currency" json:"quote_currency"`
	Pairs         []string `yaml:"pairs" json:"pairs"`
	Strategy      struct {
		Name          string `yaml:"name" json:"name"`
		OrderAmount   string `yaml:"order_amount" json:"order_amount"`
		BuyThreshold  string `yaml:"buy_threshold" json:"buy_threshold"`
		SellThreshold string `yaml:"sell_threshold" json:"sell_threshold"`
	} `yaml:"strategy" json:"strategy"`
	Risk struct {
		MaxPositionRatio      string `yaml:"max_position_ratio" json:"max_position_ratio"`
		MaxDailyLoss          string `yaml:"max_daily_loss" json:"max_daily_loss"`
		MinOrderAmount        string `yaml:"min_order_amount" json:"min_order_amount"`
		MaxPriceDeviation     string `yaml:"max_price_deviation" json:"max_price_deviation"`
		MaxOrderAgeSeconds    int    `yaml:"max_order_age_seconds" json:"max_order_age_seconds"`
		MaxSnapshotAgeSeconds int    `yaml:"max_snapshot_age_seconds" json:"max_snapshot_age_seconds"`
	} `yaml:"risk" json:"risk"`
	CircuitBreaker struct {
		MaxConsecutiveErrors int64 `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
		CooldownSeconds      int   `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	} `yaml:"circuit_breaker" json:"circuit_breaker"`
	Execution struct {
		IndependentIDs       bool   `yaml:"independent_ids" json:"independent_ids"`
		OrderType            string `yaml:"order_type" json:"order_type"`
		RetryAttempts        int    `yaml:"retry_attempts" json:"retry_attempts"`
		RetryBaseMillis      int    `yaml:"retry_base_ms" json:"retry_base_ms"`
		RetryMaxMillis       int    `yaml:"retry_max_ms" json:"retry_max_ms"`
		ReconcileConcurrency int    `yaml:"reconcile_concurrency" json:"reconcile_concurrency"`
	} `yaml:"execution" json:"execution"`
	Intervals struct {
		SignalSeconds    int `yaml:"signal_seconds" json:"signal_seconds"`
		ReconcileSeconds int `yaml:"reconcile_seconds" json:"reconcile_seconds"`
		ReaperSeconds    int `yaml:"reaper_seconds" json:"reaper_seconds"`
		AccountSeconds   int `yaml:"account_seconds" json:"account_seconds"`
	} `yaml:"intervals" json:"intervals"`
	Store struct {
		Driver        string `yaml:"driver" json:"driver"`
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	} `yaml:"store" json:"store"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   bool   `yaml:"compress" json:"compress"`
		JSON       bool   `yaml:"json" json:"json"`
	} `yaml:"log" json:"log"`
	Secrets struct {
		Path   string `yaml:"path" json:"path"`
		Prefix string `yaml:"prefix" json:"prefix"`
	} `yaml:"secrets" json:"secrets"`
	Metrics struct {
		Listen string `yaml:"listen" json:"listen"`
	} `yaml:"metrics" json:"metrics"`
	TickerTTLMillis int `yaml:"ticker_ttl_ms" json:"ticker_ttl_ms"`
}

// Default 默认配置；风控默认值与原有 Gate.io 工具的 risk_management 回退值一致
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			BaseURL: "https://api.gateio.ws/api/v4",
			Timeout: 10 * time.Second,
		},
		DryRun: true,
		Paper: PaperConfig{
			FeeRate:  decimal.RequireFromString("0.002"),
			Balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)},
		},
		QuoteCurrency: "USDT",
		Pairs:         []domain.Pair{"BTC_USDT"},
		Strategy: StrategyConfig{
			Name:          "hold",
			OrderAmount:   decimal.NewFromInt(20),
			BuyThreshold:  decimal.RequireFromString("0.01"),
			SellThreshold: decimal.RequireFromString("0.01"),
		},
		Risk: RiskConfig{
			MaxPositionRatio:  decimal.RequireFromString("0.1"),
			MaxDailyLoss:      decimal.RequireFromString("0.02"),
			MinOrderAmount:    decimal.NewFromInt(10),
			MaxPriceDeviation: decimal.RequireFromString("0.02"),
			MaxOrderAge:       10 * time.Minute,
			MaxSnapshotAge:    2 * time.Minute,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxConsecutiveErrors: 5,
			Cooldown:             time.Minute,
		},
		Execution: ExecutionConfig{
			OrderType:            domain.OrderTypeLimit,
			RetryAttempts:        3,
			RetryBaseDelay:       500 * time.Millisecond,
			RetryMaxDelay:        8 * time.Second,
			ReconcileConcurrency: 4,
		},
		Intervals: IntervalConfig{
			Signal:    30 * time.Second,
			Reconcile: 5 * time.Second,
			Reaper:    30 * time.Second,
			Account:   30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/orders.db",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/bot.log",
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
		},
		Secrets:   SecretsConfig{Prefix: "env/"},
		TickerTTL: 2 * time.Second,
	}
}

// Load 加载配置：默认值 -> 配置文件 -> .env / 环境变量（优先级依次升高）
func Load(filePath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applySecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

// applyFile 只覆盖文件中出现的字段
func (c *Config) applyFile(cf *ConfigFile) error {
	p := &decParser{}

	setStr(&c.Exchange.BaseURL, cf.Exchange.BaseURL)
	setStr(&c.Exchange.APIKey, cf.Exchange.APIKey)
	setStr(&c.Exchange.APISecret, cf.Exchange.APISecret)
	setSeconds(&c.Exchange.Timeout, cf.Exchange.TimeoutSeconds)
	if cf.DryRun != nil {
		c.DryRun = *cf.DryRun
	}

	p.set(&c.Paper.FeeRate, "paper.fee_rate", cf.Paper.FeeRate)
	if len(cf.Paper.Balances) > 0 {
		c.Paper.Balances = make(map[string]decimal.Decimal, len(cf.Paper.Balances))
		for cur, v := range cf.Paper.Balances {
			var d decimal.Decimal
			p.set(&d, "paper.balances."+cur, v)
			c.Paper.Balances[strings.ToUpper(cur)] = d
		}
	}

	setStr(&c.QuoteCurrency, strings.ToUpper(cf.QuoteCurrency))
	if len(cf.Pairs) > 0 {
		pairs, err := parsePairs(cf.Pairs)
		if err != nil {
			return err
		}
		c.Pairs = pairs
	}

	setStr(&c.Strategy.Name, cf.Strategy.Name)
	p.set(&c.Strategy.OrderAmount, "strategy.order_amount", cf.Strategy.OrderAmount)
	p.set(&c.Strategy.BuyThreshold, "strategy.buy_threshold", cf.Strategy.BuyThreshold)
	p.set(&c.Strategy.SellThreshold, "strategy.sell_threshold", cf.Strategy.SellThreshold)

	p.set(&c.Risk.MaxPositionRatio, "risk.max_position_ratio", cf.Risk.MaxPositionRatio)
	p.set(&c.Risk.MaxDailyLoss, "risk.max_daily_loss", cf.Risk.MaxDailyLoss)
	p.set(&c.Risk.MinOrderAmount, "risk.min_order_amount", cf.Risk.MinOrderAmount)
	p.set(&c.Risk.MaxPriceDeviation, "risk.max_price_deviation", cf.Risk.MaxPriceDeviation)
	setSeconds(&c.Risk.MaxOrderAge, cf.Risk.MaxOrderAgeSeconds)
	setSeconds(&c.Risk.MaxSnapshotAge, cf.Risk.MaxSnapshotAgeSeconds)

	if cf.CircuitBreaker.MaxConsecutiveErrors != 0 {
		c.CircuitBreaker.MaxConsecutiveErrors = cf.CircuitBreaker.MaxConsecutiveErrors
	}
	setSeconds(&c.CircuitBreaker.Cooldown, cf.CircuitBreaker.CooldownSeconds)

	c.Execution.IndependentIDs = cf.Execution.IndependentIDs
	if cf.Execution.OrderType != "" {
		c.Execution.OrderType = domain.OrderType(strings.ToLower(cf.Execution.OrderType))
	}
	setInt(&c.Execution.RetryAttempts, cf.Execution.RetryAttempts)
	setMillis(&c.Execution.RetryBaseDelay, cf.Execution.RetryBaseMillis)
	setMillis(&c.Execution.RetryMaxDelay, cf.Execution.RetryMaxMillis)
	setInt(&c.Execution.ReconcileConcurrency, cf.Execution.ReconcileConcurrency)

	setSeconds(&c.Intervals.Signal, cf.Intervals.SignalSeconds)
	setSeconds(&c.Intervals.Reconcile, cf.Intervals.ReconcileSeconds)
	setSeconds(&c.Intervals.Reaper, cf.Intervals.ReaperSeconds)
	setSeconds(&c.Intervals.Account, cf.Intervals.AccountSeconds)

	setStr(&c.Store.Driver, cf.Store.Driver)
	setStr(&c.Store.Path, cf.Store.Path)
	setStr(&c.Store.EncryptionKey, cf.Store.EncryptionKey)

	setStr(&c.Log.Level, cf.Log.Level)
	setStr(&c.Log.File, cf.Log.File)
	setInt(&c.Log.MaxSize, cf.Log.MaxSize)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAge, cf.Log.MaxAge)
	c.Log.Compress = cf.Log.Compress
	c.Log.JSON = cf.Log.JSON

	setStr(&c.Secrets.Path, cf.Secrets.Path)
	setStr(&c.Secrets.Prefix, cf.Secrets.Prefix)
	setStr(&c.MetricsListen, cf.Metrics.Listen)
	setMillis(&c.TickerTTL, cf.TickerTTLMillis)
	return p.err
}

// applyEnv 环境变量覆盖（凭证只建议放在环境变量/.env 中）
func (c *Config) applyEnv() error {
	setStr(&c.Exchange.APIKey, os.Getenv("GATEIO_API_KEY"))
	setStr(&c.Exchange.APISecret, os.Getenv("GATEIO_API_SECRET"))
	setStr(&c.Exchange.BaseURL, os.Getenv("GATEIO_BASE_URL"))
	setStr(&c.Log.Level, os.Getenv("LOG_LEVEL"))
	setStr(&c.Log.File, os.Getenv("LOG_FILE"))
	setStr(&c.Store.Driver, os.Getenv("STORE_DRIVER"))
	setStr(&c.Store.Path, os.Getenv("STORE_PATH"))
	setStr(&c.Store.EncryptionKey, os.Getenv("STORE_ENCRYPTION_KEY"))
	setStr(&c.Strategy.Name, os.Getenv("STRATEGY"))
	setStr(&c.MetricsListen, os.Getenv("METRICS_LISTEN"))
	setStr(&c.Secrets.Path, os.Getenv("SPOTGUARD_SECRET_DB"))
	setStr(&c.Secrets.Key, os.Getenv("SPOTGUARD_SECRET_KEY"))

	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN=%q 不是合法布尔值", v)
		}
		c.DryRun = b
	}
	if v := os.Getenv("PAIRS"); v != "" {
		pairs, err := parsePairs(strings.Split(v, ","))
		if err != nil {
			return err
		}
		c.Pairs = pairs
	}
	return nil
}

// applySecrets 从加密凭证库补齐缺失的 API 凭证
func (c *Config) applySecrets() error {
	if c.Secrets.Path == "" || (c.Exchange.APIKey != "" && c.Exchange.APISecret != "") {
		return nil
	}
	key, err := secretstore.ParseKey(c.Secrets.Key)
	if err != nil {
		return fmt.Errorf("SPOTGUARD_SECRET_KEY 无效: %w", err)
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: c.Secrets.Path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("打开凭证库失败: %w", err)
	}
	defer ss.Close()

	for name, dst := range map[string]*string{
		"GATEIO_API_KEY":    &c.Exchange.APIKey,
		"GATEIO_API_SECRET": &c.Exchange.APISecret,
	} {
		if *dst != "" {
			continue
		}
		v, found, err := ss.GetString(c.Secrets.Prefix + name)
		if err != nil {
			return fmt.Errorf("读取凭证 %s 失败: %w", name, err)
		}
		if found {
			*dst = v
		}
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("至少需要一个交易对")
	}
	for _, p := range c.Pairs {
		if p.Quote() != c.QuoteCurrency {
			return fmt.Errorf("交易对 %s 的计价币种必须是 %s", p, c.QuoteCurrency)
		}
	}
	if !c.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("实盘模式需要 GATEIO_API_KEY 和 GATEIO_API_SECRET")
	}
	if c.Risk.MinOrderAmount.IsNegative() {
		return fmt.Errorf("risk.min_order_amount 不能为负数")
	}
	if c.Risk.MaxPositionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk.max_position_ratio 不能大于 1")
	}
	if c.Risk.MaxDailyLoss.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk.max_daily_loss 不能大于 1")
	}
	switch c.Execution.OrderType {
	case domain.OrderTypeLimit, domain.OrderTypeMarket:
	default:
		return fmt.Errorf("execution.order_type 必须是 limit 或 market")
	}
	switch c.Store.Driver {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("store.driver 必须是 sqlite、badger 或 memory")
	}
	if c.Store.Driver != "memory" && c.Store.Path == "" {
		return fmt.Errorf("store.path 不能为空")
	}
	if c.Intervals.Signal <= 0 || c.Intervals.Reconcile <= 0 {
		return fmt.Errorf("intervals.signal_seconds 和 intervals.reconcile_seconds 必须大于 0")
	}
	return nil
}

// RiskLimits 转换为风控限额
func (c *Config) RiskLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionRatio:  c.Risk.MaxPositionRatio,
		MaxDailyLoss:      c.Risk.MaxDailyLoss,
		MinOrderAmount:    c.Risk.MinOrderAmount,
		MaxPriceDeviation: c.Risk.MaxPriceDeviation,
		MaxOrderAge:       c.Risk.MaxOrderAge,
		MaxSnapshotAge:    c.Risk.MaxSnapshotAge,
	}
}

func parsePairs(raw []string) ([]domain.Pair, error) {
	out := make([]domain.Pair, 0, len(raw))
	seen := make(map[domain.Pair]bool, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

type decParser struct{ err error }

func (p *decParser) set(dst *decimal.Decimal, field, raw string) {
	if raw == "" || p.err != nil {
		return
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		p.err = fmt.Errorf("%s=%q 不是合法数值: %w", field, raw, err)
		return
	}
	*dst = d
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Second
	}
}

func setMillis(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Millisecond
	}
}

package gateio

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
	"github.com/betbot/spotguard/pkg/ratelimit"
)

var log = logrus.WithField("component", "gateio")

// DefaultBaseURL Gate.io v4 REST 地址
const DefaultBaseURL = "https://api.gateio.ws/api/v4"

// Config 客户端配置
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client Gate.io 现货 REST 客户端
type Client struct {
	http       *resty.Client
	pathPrefix string // 签名需要的完整路径前缀，例如 /api/v4
	key        string
	secret     string
	limits     *ratelimit.Manager
	now        func() time.Time
}

var (
	_ ports.Exchange   = (*Client)(nil)
	_ ports.MarketData = (*Client)(nil)
)

// Option 客户端选项
type Option func(*Client)

// WithRateLimits 替换默认限流
func WithRateLimits(m *ratelimit.Manager) Option {
	return func(c *Client) { c.limits = m }
}

// WithClock 替换时钟（签名时间戳）
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建客户端
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", base)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// 重试由下单器按错误分类控制，这里不开 resty 自带重试
	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	c := &Client{
		http:       hc,
		pathPrefix: strings.TrimSuffix(u.Path, "/"),
		key:        cfg.APIKey,
		secret:     cfg.APISecret,
		limits:     ratelimit.NewGateManager(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sign 生成 v4 签名：HMAC-SHA512(secret, METHOD\nPATH\nQUERY\nSHA512(BODY)\nTS)
func (c *Client) sign(method, path, query string, body []byte, ts string) string {
	bodyHash := sha512.Sum512(body)
	payload := strings.Join([]string{
		method,
		c.pathPrefix + path,
		query,
		hex.EncodeToString(bodyHash[:]),
		ts,
	}, "\n")
	mac := hmac.New(sha512.New, []byte(c.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// request 发送请求并把非 2xx 响应映射为分类错误
func (c *Client) request(ctx context.Context, endpoint, method, path string, query url.Values, body any, signed bool, out any) error {
	if err := c.limits.Wait(ctx, endpoint); err != nil {
		return domain.Transient(err)
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return domain.NewExchangeError(domain.KindExchangeRejected, "ENCODE", err.Error())
		}
		payload = b
	}
	qs := query.Encode()

	r := c.http.R().SetContext(ctx)
	if qs != "" {
		r.SetQueryString(qs)
	}
	if payload != nil {
		r.SetBody(payload)
	}
	if signed {
		ts := strconv.FormatInt(c.now().Unix(), 10)
		r.SetHeader("KEY", c.key)
		r.SetHeader("Timestamp", ts)
		r.SetHeader("SIGN", c.sign(method, path, qs, payload, ts))
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		log.Warnf("⚠️ [请求失败] %s %s: %v", method, path, err)
		return domain.Transient(err)
	}
	if resp.IsError() {
		return classify(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return domain.Transient(errors.Wrapf(err, "decode %s %s", method, path))
	}
	return nil
}

// classify HTTP 状态 + label -> 错误分类
func classify(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	if ae.Label == "" {
		ae.Label = http.StatusText(status)
	}
	if ae.Message == "" {
		ae.Message = fmt.Sprintf("http %d", status)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500 || ae.Label == "TOO_MANY_REQUESTS":
		return domain.NewExchangeError(domain.KindNetworkTransient, ae.Label, ae.Message)
	case ae.Label == "BALANCE_NOT_ENOUGH":
		return domain.NewExchangeError(domain.KindInsufficientBalance, ae.Label, ae.Message)
	case ae.Label == "ORDER_NOT_FOUND" || status == http.StatusNotFound:
		return domain.NewExchangeError(domain.KindOrderNotFound, ae.Label, ae.Message)
	default:
		return domain.NewExchangeError(domain.KindExchangeRejected, ae.Label, ae.Message)
	}
}

// SubmitOrder 下单。先按 text 查单，已存在则直接返回，保证同一客户端订单号最多一笔。
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	existing, err := c.GetOrder(ctx, req.ClientOrderID, req.Pair)
	if err == nil {
		log.Infof("🔁 [下单] 订单已存在，跳过重复提交: text=%s id=%s", req.ClientOrderID, existing.ExchangeOrderID)
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	body := createOrderRequest{
		Text:         req.ClientOrderID,
		CurrencyPair: req.Pair.String(),
		Type:         string(domain.OrderTypeLimit),
		Account:      "spot",
		Side:         string(req.Side),
		Amount:       req.Quantity.String(),
		Price:        req.Price.String(),
		TimeInForce:  "gtc",
	}
	if req.Type == domain.OrderTypeMarket {
		body.Type = string(domain.OrderTypeMarket)
		body.TimeInForce = "ioc"
		body.Price = ""
		if req.Side == domain.SideBuy {
			// 市价买单 amount 为计价币种金额
			body.Amount = req.Quantity.Mul(req.Price).String()
		}
	}

	var out orderResponse
	if err := c.request(ctx, ratelimit.EndpointSpotOrderPost, http.MethodPost, "/spot/orders", nil, body, true, &out); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"text": req.ClientOrderID,
		"id":   out.ID,
		"pair": req.Pair,
	}).Infof("✅ [下单] %s %s @ %s", req.Side, req.Quantity, req.Price)
	return out.toExchangeOrder(), nil
}

// GetOrder 查单，orderID 可以是交易所订单号或 text
func (c *Client) GetOrder(ctx context.Context, orderID string, pair domain.Pair) (*domain.ExchangeOrder, error) {
	q := url.Values{}
	q.Set("currency_pair", pair.String())
	var out orderResponse
	path := "/spot/orders/" + url.PathEscape(orderID)
	if err := c.request(ctx, ratelimit.EndpointSpotOrderGet, http.MethodGet, path, q, nil, true, &out); err != nil {
		return nil, err
	}
	return out.toExchangeOrder(), nil
}

// CancelOrder 撤单
func (c *Client) CancelOrder(ctx context.Context, orderID string, pair domain.Pair) error {
	q := url.Values{}
	q.Set("currency_pair", pair.String())
	path := "/spot/orders/" + url.PathEscape(orderID)
	if err := c.request(ctx, ratelimit.EndpointSpotOrderDelete, http.MethodDelete, path, q, nil, true, nil); err != nil {
		return err
	}
	log.Infof("🛑 [撤单] pair=%s id=%s", pair, orderID)
	return nil
}

// ListBalances 现货账户余额
func (c *Client) ListBalances(ctx context.Context) (*domain.BalanceSnapshot, error) {
	var out []accountResponse
	if err := c.request(ctx, ratelimit.EndpointSpotAccounts, http.MethodGet, "/spot/accounts", nil, nil, true, &out); err != nil {
		return nil, err
	}
	snap := &domain.BalanceSnapshot{
		Balances:  make(map[string]domain.Balance, len(out)),
		FetchedAt: c.now().UTC(),
	}
	for _, a := range out {
		cur := strings.ToUpper(a.Currency)
		snap.Balances[cur] = domain.Balance{
			Currency:  cur,
			Available: dec(a.Available),
			Locked:    dec(a.Locked),
		}
	}
	return snap, nil
}

// GetTicker 公共行情
func (c *Client) GetTicker(ctx context.Context, pair domain.Pair) (*domain.Ticker, error) {
	q := url.Values{}
	q.Set("currency_pair", pair.String())
	var out []tickerResponse
	if err := c.request(ctx, ratelimit.EndpointSpotTickers, http.MethodGet, "/spot/tickers", q, nil, false, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.NewExchangeError(domain.KindExchangeRejected, "EMPTY_TICKER", "no ticker for "+pair.String())
	}
	t := out[0]
	return &domain.Ticker{
		Pair:      pair,
		Last:      dec(t.Last),
		BestBid:   dec(t.HighestBid),
		BestAsk:   dec(t.LowestAsk),
		Timestamp: c.now().UTC(),
	}, nil
}

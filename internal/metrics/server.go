package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/betbot/spotguard/internal/domain"
	"github.com/betbot/spotguard/internal/ports"
)

// AccountView 账户快照只读视图
type AccountView interface {
	Snapshot() domain.AccountSnapshot
}

// Breaker 熔断器控制面
type Breaker interface {
	Halted() bool
	Halt()
	Resume()
	ConsecutiveErrors() int64
}

// StoreHealth 存储降级状态（store.Resilient 实现）
type StoreHealth interface {
	Degraded() bool
}

// StatusServer 状态 API：/healthz, /api/account, /api/orders, /api/breaker, /metrics
type StatusServer struct {
	account AccountView
	orders  ports.OrderStore
	breaker Breaker
	health  StoreHealth
}

// NewStatusServer breaker/health 可以为 nil
func NewStatusServer(account AccountView, orders ports.OrderStore, breaker Breaker, health StoreHealth) *StatusServer {
	return &StatusServer{account: account, orders: orders, breaker: breaker, health: health}
}

// Router gin 路由
func (s *StatusServer) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/account", s.handleAccount)
	api.GET("/orders", s.handleOrders)
	api.GET("/breaker", s.handleBreaker)
	api.POST("/breaker/halt", s.handleHalt)
	api.POST("/breaker/resume", s.handleResume)

	// pprof 显式注册，不依赖 DefaultServeMux
	dbg := r.Group("/debug/pprof")
	dbg.GET("/", gin.WrapF(pprof.Index))
	dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	dbg.GET("/profile", gin.WrapF(pprof.Profile))
	dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
	dbg.GET("/trace", gin.WrapF(pprof.Trace))
	return r
}

func (s *StatusServer) handleHealth(c *gin.Context) {
	degraded := s.health != nil && s.health.Degraded()
	halted := s.breaker != nil && s.breaker.Halted()
	status := http.StatusOK
	if degraded {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ok": !degraded, "store_degraded": degraded, "halted": halted})
}

func (s *StatusServer) handleAccount(c *gin.Context) {
	if s.account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account cache not configured"})
		return
	}
	c.JSON(http.StatusOK, s.account.Snapshot())
}

// handleOrders ?pair=BTC_USDT 返回该交易对全部订单，否则返回在途订单
func (s *StatusServer) handleOrders(c *gin.Context) {
	var (
		recs []*domain.OrderRecord
		err  error
	)
	if p := c.Query("pair"); p != "" {
		pair, perr := domain.ParsePair(p)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Error()})
			return
		}
		recs, err = s.orders.ListByPair(c.Request.Context(), pair)
	} else {
		recs, err = s.orders.ListActive(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []*domain.OrderRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func (s *StatusServer) handleBreaker(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusOK, gin.H{"halted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"halted": s.breaker.Halted(), "consecutive_errors": s.breaker.ConsecutiveErrors()})
}

func (s *StatusServer) handleHalt(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not configured"})
		return
	}
	s.breaker.Halt()
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *StatusServer) handleResume(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not configured"})
		return
	}
	s.breaker.Resume()
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

// StartAsync 非阻塞启动，ctx.Done() 时优雅关闭
func (s *StatusServer) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("❌ [状态服务] 退出: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("📊 [状态服务] 监听 %s", ln.Addr())
	return srv, nil
}

package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotguard/internal/domain"
)

var log = logrus.WithField("component", "metrics")

var (
	ordersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_submitted_total",
			Help: "Orders handed to the exchange by side and result",
		},
		[]string{"side", "result"}, // result=accepted|rejected|pending|busy|refused
	)
	riskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_risk_decisions_total",
			Help: "Risk gate decisions by reason (accepted for pass)",
		},
		[]string{"reason"},
	)
	orderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_order_transitions_total",
			Help: "Order status transitions observed by the tracker",
		},
		[]string{"from", "to"},
	)
	fillsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_fills_applied_total",
			Help: "Fill deltas pushed into the account cache",
		},
		[]string{"side"},
	)
	reconcileRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconcile_runs_total",
			Help: "Tracker reconcile passes",
		},
	)
	reconcileErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconcile_errors_total",
			Help: "Per-order reconcile failures",
		},
	)
	ordersReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_orders_reaped_total",
			Help: "Orders the expiry reaper asked the exchange to cancel",
		},
	)
	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_account_equity",
			Help: "Total equity in quote currency",
		},
	)
	dailyRealizedLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_realized_loss",
			Help: "Realized loss of the current UTC trading day",
		},
	)
	activeOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_active_orders",
			Help: "Non-terminal order records",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersSubmitted, riskDecisions, orderTransitions, fillsApplied)
	prometheus.MustRegister(reconcileRuns, reconcileErrors, ordersReaped)
	prometheus.MustRegister(accountEquity, dailyRealizedLoss, activeOrders)
}

func IncOrderSubmitted(side, result string) { ordersSubmitted.WithLabelValues(side, result).Inc() }
func IncRiskDecision(reason string)         { riskDecisions.WithLabelValues(reason).Inc() }
func IncTransition(from, to string)         { orderTransitions.WithLabelValues(from, to).Inc() }
func IncFillApplied(side string)            { fillsApplied.WithLabelValues(side).Inc() }
func IncReconcileRun()                      { reconcileRuns.Inc() }
func IncReconcileError()                    { reconcileErrors.Inc() }
func IncOrderReaped()                       { ordersReaped.Inc() }

// SetAccount 更新账户相关 gauge
func SetAccount(equity, dailyLoss float64) {
	accountEquity.Set(equity)
	dailyRealizedLoss.Set(dailyLoss)
}

func SetActiveOrders(n int) { activeOrders.Set(float64(n)) }

// OrderObserver 订单状态回调 -> 迁移计数
type OrderObserver struct{}

func (OrderObserver) OnOrderUpdate(_ context.Context, prev domain.OrderStatus, rec *domain.OrderRecord) {
	IncTransition(string(prev), string(rec.Status))
}

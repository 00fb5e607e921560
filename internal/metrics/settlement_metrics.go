package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// SettlementMetrics содержит метрики создания заказов, переходов статусов, возвратов и складских операций.
// Nil-получатель допустим: все методы становятся no-op.
type SettlementMetrics struct {
	// Счётчики создания заказов
	ordersCreated        prometheus.Counter
	ordersFailed         *prometheus.CounterVec
	reservationConflicts prometheus.Counter

	// Переходы статусов
	transitions *prometheus.CounterVec

	// Возвраты
	refunds       prometheus.Counter
	refundedTotal prometheus.Counter

	// Складские операции
	stockOpDuration *prometheus.HistogramVec

	// Уведомления
	notifyFailures prometheus.Counter

	// Gauge для создаваемых заказов
	activeCreations prometheus.Gauge
}

// NewSettlementMetrics создаёт метрики на DefaultRegisterer.
func NewSettlementMetrics() *SettlementMetrics {
	return NewSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSettlementMetricsWithRegisterer создаёт метрики на заданном реестре.
func NewSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SettlementMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "settlement_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "settlement_orders_failed_total",
			Help: "Total number of failed order creations by error kind",
		}, []string{"kind"}),
		reservationConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "settlement_reservation_conflicts_total",
			Help: "Total number of reservations rejected for insufficient stock",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "settlement_order_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		refunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "settlement_refunds_total",
			Help: "Total number of refunds processed",
		}),
		refundedTotal: registerCounter(registerer, prometheus.CounterOpts{
			Name: "settlement_refunded_amount_total",
			Help: "Total refunded amount across all orders",
		}),
		stockOpDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "settlement_stock_op_duration_seconds",
			Help:    "Duration of stock ledger operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"op", "result"}),
		notifyFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "settlement_notify_failures_total",
			Help: "Total number of order notifications that failed to deliver",
		}),
		activeCreations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "settlement_active_order_creations",
			Help: "Number of order creations currently in progress",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *SettlementMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderFailed учитывает неудачное создание заказа по категории ошибки.
func (m *SettlementMetrics) RecordOrderFailed(kind string) {
	if m == nil {
		return
	}
	m.ordersFailed.WithLabelValues(kind).Inc()
}

// RecordReservationConflict учитывает отказ в резерве из-за нехватки остатка.
func (m *SettlementMetrics) RecordReservationConflict() {
	if m == nil {
		return
	}
	m.reservationConflicts.Inc()
}

// RecordTransition учитывает переход статуса.
func (m *SettlementMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordRefund учитывает возврат и его сумму.
func (m *SettlementMetrics) RecordRefund(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.refunds.Inc()
	m.refundedTotal.Add(amount.InexactFloat64())
}

// RecordStockOp записывает длительность складской операции.
func (m *SettlementMetrics) RecordStockOp(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stockOpDuration.WithLabelValues(op, result).Observe(duration.Seconds())
}

// RecordNotifyFailure учитывает недоставленное уведомление.
func (m *SettlementMetrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// CreationStarted увеличивает количество создаваемых заказов.
func (m *SettlementMetrics) CreationStarted() {
	if m == nil {
		return
	}
	m.activeCreations.Inc()
}

// CreationFinished уменьшает количество создаваемых заказов.
func (m *SettlementMetrics) CreationFinished() {
	if m == nil {
		return
	}
	m.activeCreations.Dec()
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины, по которым позиция корзины отбрасывается при оформлении.
const (
	DropReasonNotFound = "not_found"
	DropReasonShortage = "shortage"
	DropReasonRace     = "race"
)

// LedgerMetrics содержит метрики оформления и администрирования заказов.
type LedgerMetrics struct {
	ordersPlaced      prometheus.Counter
	linesDropped      *prometheus.CounterVec
	outOfStock        prometheus.Counter
	validationRejects prometheus.Counter
	ledgerFailures    prometheus.Counter
	placeDuration     prometheus.Histogram
	orderTotal        prometheus.Histogram
	statusChanges     *prometheus.CounterVec
	outboxEvents      prometheus.Counter
}

// NewLedgerMetrics создаёт метрики в глобальном реестре Prometheus.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LedgerMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shawlshop_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		linesDropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shawlshop_order_lines_dropped_total",
			Help: "Cart lines dropped during placement by reason",
		}, []string{"reason"}),
		outOfStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shawlshop_orders_out_of_stock_total",
			Help: "Placements rejected because nothing in the cart was available",
		}),
		validationRejects: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shawlshop_orders_invalid_total",
			Help: "Placements rejected by request validation",
		}),
		ledgerFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shawlshop_ledger_failures_total",
			Help: "Unexpected failures of the order placement transaction",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shawlshop_order_place_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shawlshop_order_total_amount",
			Help:    "Order totals at placement",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shawlshop_order_status_changes_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shawlshop_outbox_events_total",
			Help: "Total number of events written to the outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced учитывает успешно оформленный заказ и его сумму.
func (m *LedgerMetrics) RecordOrderPlaced(total float64) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.orderTotal.Observe(total)
}

// RecordLineDropped учитывает отброшенную позицию корзины.
func (m *LedgerMetrics) RecordLineDropped(reason string) {
	if m == nil {
		return
	}
	m.linesDropped.WithLabelValues(reason).Inc()
}

// RecordOutOfStock учитывает отказ «нет в наличии».
func (m *LedgerMetrics) RecordOutOfStock() {
	if m == nil {
		return
	}
	m.outOfStock.Inc()
}

// RecordValidationRejected учитывает отказ валидации запроса.
func (m *LedgerMetrics) RecordValidationRejected() {
	if m == nil {
		return
	}
	m.validationRejects.Inc()
}

// RecordLedgerFailure учитывает неожиданную ошибку транзакции.
func (m *LedgerMetrics) RecordLedgerFailure() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// RecordPlaceDuration записывает длительность оформления.
func (m *LedgerMetrics) RecordPlaceDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.placeDuration.Observe(duration.Seconds())
}

// RecordStatusChange учитывает переход заказа в новый статус.
func (m *LedgerMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LedgerMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

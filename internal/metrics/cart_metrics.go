package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics содержит метрики операций корзины.
type CartMetrics struct {
	// Счётчики операций с разбивкой по операции и результату
	operations *prometheus.CounterVec

	// Гистограмма времени выполнения операций
	operationDuration *prometheus.HistogramVec

	// Счётчики доменных событий
	cartsCreated      prometheus.Counter
	insufficientStock prometheus.Counter
	outboxEvents      prometheus.Counter

	// Gauge для количества позиций, затронутых за время жизни процесса
	activeRequests prometheus.Gauge
}

// Возможные значения метки result.
const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultInsufficientStock = "insufficient_stock"
	ResultInvalid           = "invalid"
	ResultError             = "error"
)

// NewCartMetrics создаёт новый экземпляр метрик корзины.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer регистрирует метрики на переданном registerer.
// Повторная регистрация переиспользует уже существующие коллекторы.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Total number of cart operations by operation and result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cart_operation_duration_seconds",
			Help:    "Duration of cart operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		cartsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_created_total",
			Help: "Total number of carts lazily created",
		}),
		insufficientStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_insufficient_stock_total",
			Help: "Total number of mutations rejected due to insufficient stock",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_outbox_events_total",
			Help: "Total number of cart events enqueued to the outbox",
		}),
		activeRequests: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_active_requests",
			Help: "Number of cart API requests currently in flight",
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

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик операции с заданным результатом.
func (m *CartMetrics) RecordOperation(operation, result string) {
	m.operations.WithLabelValues(operation, result).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *CartMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCartCreated увеличивает счётчик созданных корзин.
func (m *CartMetrics) RecordCartCreated() {
	m.cartsCreated.Inc()
}

// RecordInsufficientStock увеличивает счётчик отказов по нехватке остатка.
func (m *CartMetrics) RecordInsufficientStock() {
	m.insufficientStock.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CartMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RequestStarted увеличивает количество запросов в обработке.
func (m *CartMetrics) RequestStarted() {
	m.activeRequests.Inc()
}

// RequestFinished уменьшает количество запросов в обработке.
func (m *CartMetrics) RequestFinished() {
	m.activeRequests.Dec()
}

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label "result".
const (
	ResultOK       = "ok"
	ResultTooLarge = "too_large"
	ResultFailed   = "failed"
	ResultEmpty    = "empty"
	ResultCorrupt  = "corrupt"
	ResultApplied  = "applied"
	ResultStale    = "stale"
)

// CartMetrics содержит метрики корзины и синхронизации.
// Все методы безопасно вызывать на nil-указателе: метрики опциональны.
type CartMetrics struct {
	broadcastsSent   prometheus.Counter
	broadcastErrors  prometheus.Counter
	syncMessages     *prometheus.CounterVec
	saves            *prometheus.CounterVec
	loads            *prometheus.CounterVec
	unavailableLines prometheus.Counter
	savedBytes       prometheus.Histogram
	items            prometheus.Gauge
}

// NewCartMetrics регистрирует метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		broadcastsSent: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_broadcasts_sent_total",
			Help: "Total number of cart updates broadcast to other contexts",
		}),
		broadcastErrors: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_broadcast_errors_total",
			Help: "Total number of failed cart update broadcasts",
		}),
		syncMessages: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_sync_messages_total",
			Help: "Inbound cart sync messages by result",
		}, []string{"result"}),
		saves: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_saves_total",
			Help: "Cart save attempts by result",
		}, []string{"result"}),
		loads: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_loads_total",
			Help: "Cart load attempts by result",
		}, []string{"result"}),
		unavailableLines: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_unavailable_lines_total",
			Help: "Total number of stored lines restored as unavailable placeholders",
		}),
		savedBytes: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cart_saved_bytes",
			Help:    "Size of the serialized cart projection in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		items: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_items",
			Help: "Current number of items in the cart",
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

// RecordBroadcastSent увеличивает счётчик отправленных обновлений.
func (m *CartMetrics) RecordBroadcastSent() {
	if m == nil {
		return
	}
	m.broadcastsSent.Inc()
}

// RecordBroadcastError увеличивает счётчик неудачных отправок.
func (m *CartMetrics) RecordBroadcastError() {
	if m == nil {
		return
	}
	m.broadcastErrors.Inc()
}

// RecordSyncMessage учитывает входящее сообщение (ResultApplied или ResultStale).
func (m *CartMetrics) RecordSyncMessage(result string) {
	if m == nil {
		return
	}
	m.syncMessages.WithLabelValues(result).Inc()
}

// RecordSave учитывает попытку сохранения и размер проекции.
func (m *CartMetrics) RecordSave(result string, size int) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result).Inc()
	if size > 0 {
		m.savedBytes.Observe(float64(size))
	}
}

// RecordLoad учитывает попытку загрузки.
func (m *CartMetrics) RecordLoad(result string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
}

// RecordUnavailableLines добавляет n восстановленных заглушек.
func (m *CartMetrics) RecordUnavailableLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unavailableLines.Add(float64(n))
}

// SetItems выставляет текущее количество товаров в корзине.
func (m *CartMetrics) SetItems(n int) {
	if m == nil {
		return
	}
	m.items.Set(float64(n))
}

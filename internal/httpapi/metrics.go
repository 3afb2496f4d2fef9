package httpapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics: время ответа API по маршрутам.
type Metrics struct {
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics регистрирует метрики в registerer (nil, DefaultRegisterer).
func NewHTTPMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	collector := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shawlshop_http_request_duration_seconds",
		Help:    "HTTP API latency by route template and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})

	if err := registerer.Register(collector); err != nil {
		alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(fmt.Sprintf("register http metrics: %v", err))
		}
		existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			panic("http metrics already registered with unexpected type")
		}
		collector = existing
	}
	return &Metrics{duration: collector}
}

func (m *Metrics) observe(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

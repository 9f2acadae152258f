package notify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// Metrics exports filter events as Prometheus series.
type Metrics struct {
	blocked   [domain.ButtonCount]prometheus.Counter
	running   prometheus.Gauge
	threshold prometheus.Gauge
}

// NewMetrics registers the filter series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	blocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clickguard",
		Name:      "blocked_clicks_total",
		Help:      "Button presses suppressed as switch bounce.",
	}, []string{"button"})
	m := &Metrics{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clickguard",
			Name:      "filter_running",
			Help:      "1 while the mouse filter is installed.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clickguard",
			Name:      "filter_threshold_ms",
			Help:      "Current debounce window in milliseconds.",
		}),
	}
	// Resolve label values up front so the delivery thread only does an atomic add.
	for _, b := range []domain.Button{domain.ButtonLeft, domain.ButtonRight, domain.ButtonOther} {
		m.blocked[b.Index()] = blocked.WithLabelValues(b.String())
	}
	m.threshold.Set(float64(domain.DefaultThresholdMs))

	reg.MustRegister(blocked, m.running, m.threshold)
	return m
}

// NotifyBlocked counts one suppressed press.
func (m *Metrics) NotifyBlocked(ev domain.BlockedEvent) {
	if idx := ev.Button.Index(); idx >= 0 {
		m.blocked[idx].Inc()
	}
}

// NotifyStatusChanged updates the status gauges.
func (m *Metrics) NotifyStatusChanged(status domain.FilterStatus) {
	if status.Running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
	m.threshold.Set(float64(status.ThresholdMs))
}

// Package metrics holds the Prometheus collectors shared by the dispatch
// engine, the service registry and the resource resolver. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "astrobot"

type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	eventsTotal        *prometheus.CounterVec
	dispatchSeconds    *prometheus.HistogramVec
	conflictsTotal     *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	invocationSeconds  *prometheus.HistogramVec
	degradedServices   *prometheus.GaugeVec
	diagnosticsTotal   *prometheus.CounterVec
	bundleRefreshTotal *prometheus.CounterVec
	sessionsExpired    prometheus.Counter
	deliveriesTotal    *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Inbound events processed by outcome",
		}, []string{"outcome"}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent processing one inbound event, lock wait excluded",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "conflicts_total",
			Help:      "Optimistic concurrency conflicts on session save",
		}, []string{"resolution"}),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "invocations_total",
			Help:      "Service invocations by service and result",
		}, []string{"service", "result"}),
		invocationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "invocation_seconds",
			Help:      "Service execution time",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"service"}),
		degradedServices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "service_degraded",
			Help:      "1 when the last probe of the service failed",
		}, []string{"service"}),
		diagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locale",
			Name:      "diagnostics_total",
			Help:      "Missing translations and placeholders by kind and language",
		}, []string{"kind", "language"}),
		bundleRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locale",
			Name:      "refresh_total",
			Help:      "Resource bundle refresh attempts by result",
		}, []string{"result"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Sessions reset to the root step after inactivity",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "deliveries_total",
			Help:      "Outbound replies handed to platform senders by platform and result",
		}, []string{"platform", "result"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.dispatchSeconds,
		m.conflictsTotal,
		m.invocationsTotal,
		m.invocationSeconds,
		m.degradedServices,
		m.diagnosticsTotal,
		m.bundleRefreshTotal,
		m.sessionsExpired,
		m.deliveriesTotal,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) ObserveEvent(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Inc()
	m.dispatchSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) Conflict(resolution string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(resolution).Inc()
}

func (m *Metrics) ObserveInvocation(service, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(service, result).Inc()
	m.invocationSeconds.WithLabelValues(service).Observe(d.Seconds())
}

func (m *Metrics) SetDegraded(service string, degraded bool) {
	if m == nil {
		return
	}
	v := 0.0
	if degraded {
		v = 1
	}
	m.degradedServices.WithLabelValues(service).Set(v)
}

func (m *Metrics) Diagnostic(kind, language string) {
	if m == nil {
		return
	}
	m.diagnosticsTotal.WithLabelValues(kind, language).Inc()
}

func (m *Metrics) BundleRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.bundleRefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionsExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsExpired.Add(float64(n))
}

func (m *Metrics) Delivery(platform, result string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(platform, result).Inc()
}

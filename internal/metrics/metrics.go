// Package metrics records operation timings and sync health with Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the sink every component reports into.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	SetBackend(backend string)
	StorageFallback()
	Signal(source string)
	Reconcile(outcome string)
	NotifierResult(success bool)
}

// Prometheus implements Recorder on its own registry.
type Prometheus struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	backend   *prometheus.GaugeVec
	fallbacks prometheus.Counter
	signals   *prometheus.CounterVec
	reconcile *prometheus.CounterVec
	notifier  *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus constructs a recorder with a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "controlroom",
			Name:      "operation_duration_seconds",
			Help:      "Duration of dispatch operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlroom",
			Name:      "operations_total",
			Help:      "Dispatch operations by result.",
		}, []string{"operation", "result"}),
		backend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "controlroom",
			Name:      "storage_backend",
			Help:      "Active storage backend (1 for the selected one).",
		}, []string{"backend"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "controlroom",
			Name:      "storage_fallbacks_total",
			Help:      "Times the remote store was unavailable and the local store was used.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlroom",
			Name:      "change_signals_total",
			Help:      "Change signals received by source.",
		}, []string{"source"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlroom",
			Name:      "reconciles_total",
			Help:      "Reconciliation passes by outcome.",
		}, []string{"outcome"}),
		notifier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "controlroom",
			Name:      "notifications_total",
			Help:      "Webhook notifications by result.",
		}, []string{"result"}),
	}
	p.registry.MustRegister(p.durations, p.results, p.backend, p.fallbacks, p.signals, p.reconcile, p.notifier)
	return p
}

// Observe records the duration and result of one operation.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	p.durations.WithLabelValues(operation).Observe(duration.Seconds())
	p.results.WithLabelValues(operation, result(success)).Inc()
}

// SetBackend marks backend as the active storage implementation.
func (p *Prometheus) SetBackend(backend string) {
	p.backend.Reset()
	p.backend.WithLabelValues(backend).Set(1)
}

// StorageFallback counts a fallback to the local store.
func (p *Prometheus) StorageFallback() { p.fallbacks.Inc() }

// Signal counts a change signal.
func (p *Prometheus) Signal(source string) { p.signals.WithLabelValues(source).Inc() }

// Reconcile counts a reconciliation pass.
func (p *Prometheus) Reconcile(outcome string) { p.reconcile.WithLabelValues(outcome).Inc() }

// NotifierResult counts a webhook delivery attempt outcome.
func (p *Prometheus) NotifierResult(success bool) { p.notifier.WithLabelValues(result(success)).Inc() }

// Registry exposes the underlying registry for gathering in tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}
func (Nop) SetBackend(string)                                    {}
func (Nop) StorageFallback()                                     {}
func (Nop) Signal(string)                                        {}
func (Nop) Reconcile(string)                                     {}
func (Nop) NotifierResult(bool)                                  {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

package service

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	outcomeOK         = "ok"
	outcomeFailed     = "failed"
	outcomeRejected   = "rejected"
	outcomeUnknownID  = "unknown_id"
	outcomeStoreError = "storage_error"
)

// Metrics groups the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	dispatches       *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	artifactBytes    prometheus.Histogram
	requestsTimedOut prometheus.Counter
}

// NewMetrics registers the relay collectors with reg, reusing collectors that are
// already registered under the same names.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_total",
			Help: "Uploads forwarded to the processor, by outcome.",
		}, []string{"outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_callbacks_total",
			Help: "Processor callbacks handled, by outcome.",
		}, []string{"outcome"}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_artifact_bytes",
			Help:    "Size of stored artifacts.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		requestsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_timed_out_total",
			Help: "Dispatched requests that never received a callback.",
		}),
	}

	var err error
	if m.dispatches, err = register(reg, m.dispatches); err != nil {
		return nil, err
	}
	if m.callbacks, err = register(reg, m.callbacks); err != nil {
		return nil, err
	}
	if m.artifactBytes, err = register(reg, m.artifactBytes); err != nil {
		return nil, err
	}
	if m.requestsTimedOut, err = register(reg, m.requestsTimedOut); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewMetrics is NewMetrics that panics on registration conflicts.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register relay metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) dispatched(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stored(size int64) {
	if m == nil {
		return
	}
	m.artifactBytes.Observe(float64(size))
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.requestsTimedOut.Inc()
}

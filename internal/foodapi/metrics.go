package foodapi

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

const (
	outcomeOK          = "ok"
	outcomeNotFound    = "not_found"
	outcomeBadStatus   = "bad_status"
	outcomeUnavailable = "unavailable"
	outcomeCanceled    = "canceled"
	outcomeOpen        = "breaker_open"
	outcomeDecode      = "decode_error"
)

type clientMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// newClientMetrics registers on reg when given; the collectors work
// unregistered too, which keeps tests free of global state.
func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pantry",
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Open Food Facts requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pantry",
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Open Food Facts request latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

func (m *clientMetrics) observe(op, outcome string, d time.Duration) {
	m.requests.WithLabelValues(op, outcome).Inc()
	if outcome != outcomeOpen {
		m.latency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *clientMetrics) observeDecodeFailure(op string) {
	m.requests.WithLabelValues(op, outcomeDecode).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return outcomeOpen
	case errors.Is(err, context.Canceled):
		return outcomeCanceled
	case errors.Is(err, ErrBadStatus):
		return outcomeBadStatus
	default:
		return outcomeUnavailable
	}
}

// Package metrics exposes request counters for the director.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	errs "github.com/frankli0324/go-networking/internal/errors"
)

const OutcomeOK = "ok"

// Collector records per handler request metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	selections *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Collector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "networking_requests_total",
				Help: "Total requests sent by handler and outcome",
			},
			[]string{"handler", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "networking_request_duration_seconds",
				Help:    "Time until response headers arrived, redirects included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
		selections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "networking_handler_selections_total",
				Help: "Times a handler was selected for a request",
			},
			[]string{"handler"},
		),
	}
}

func (c *Collector) Selected(handler string) {
	if c == nil {
		return
	}
	c.selections.WithLabelValues(handler).Inc()
}

// Observe records a finished Send.
func (c *Collector) Observe(handler string, err error, took time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(handler, Outcome(err)).Inc()
	c.duration.WithLabelValues(handler).Observe(took.Seconds())
}

// Outcome is the label value for err: "ok" or the snake cased kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	k, ok := errs.KindOf(err)
	if !ok {
		return "unknown"
	}
	return strings.ReplaceAll(k.String(), " ", "_")
}

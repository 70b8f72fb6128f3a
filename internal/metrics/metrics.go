// Package metrics bundles the Prometheus collectors shared by the scraper
// client, the coordinators and the webhook endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ek_scraper"

// Webhook outcomes
const (
	WebhookAccepted  = "accepted"
	WebhookMismatch  = "mismatch"
	WebhookUnknown   = "unknown_webhook"
	WebhookMalformed = "malformed"
)

// Metrics holds every collector on a dedicated registry
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	TriggersTotal    *prometheus.CounterVec
	UpdateFailures   *prometheus.CounterVec
	WebhookResults   *prometheus.CounterVec
	FlightsAvailable *prometheus.GaugeVec
	NextInterval     *prometheus.GaugeVec
}

// New constructs and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests issued to the scraper service by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of requests to the scraper service.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	triggers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Scrapes triggered per entry.",
		},
		[]string{"entry"},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_failures_total",
			Help:      "Failed refresh cycles per entry and error kind.",
		},
		[]string{"entry", "kind"},
	)
	webhooks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_results_total",
			Help:      "Webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)
	flights := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flights",
			Help:      "Flights in the latest accepted result per entry and kind.",
		},
		[]string{"entry", "kind"},
	)
	interval := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_interval_seconds",
			Help:      "Randomised delay before the next scheduled trigger.",
		},
		[]string{"entry"},
	)

	registry.MustRegister(requests, duration, triggers, failures, webhooks, flights, interval)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  duration,
		TriggersTotal:    triggers,
		UpdateFailures:   failures,
		WebhookResults:   webhooks,
		FlightsAvailable: flights,
		NextInterval:     interval,
	}
}

// ObserveRequest records one scraper request
func (m *Metrics) ObserveRequest(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, outcome).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncTrigger counts a successful trigger
func (m *Metrics) IncTrigger(entry string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(entry).Inc()
}

// IncUpdateFailure counts a failed refresh
func (m *Metrics) IncUpdateFailure(entry, kind string) {
	if m == nil {
		return
	}
	m.UpdateFailures.WithLabelValues(entry, kind).Inc()
}

// IncWebhook counts a webhook delivery
func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookResults.WithLabelValues(outcome).Inc()
}

// SetFlights records the size of the latest result
func (m *Metrics) SetFlights(entry string, oneWay, combined int) {
	if m == nil {
		return
	}
	m.FlightsAvailable.WithLabelValues(entry, "one_way").Set(float64(oneWay))
	m.FlightsAvailable.WithLabelValues(entry, "combined").Set(float64(combined))
}

// SetNextInterval records the delay drawn for the next trigger
func (m *Metrics) SetNextInterval(entry string, d time.Duration) {
	if m == nil {
		return
	}
	m.NextInterval.WithLabelValues(entry).Set(d.Seconds())
}

// Forget drops the per-entry series of an unloaded entry
func (m *Metrics) Forget(entry string) {
	if m == nil {
		return
	}
	m.TriggersTotal.DeleteLabelValues(entry)
	m.FlightsAvailable.DeleteLabelValues(entry, "one_way")
	m.FlightsAvailable.DeleteLabelValues(entry, "combined")
	m.NextInterval.DeleteLabelValues(entry)
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RemindersDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "welfare",
		Name:      "reminders_dispatched_total",
		Help:      "Reminder delivery attempts by outcome.",
	}, []string{"outcome"})

	ReminderBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "welfare",
		Name:      "reminder_batch_duration_seconds",
		Help:      "Wall time of one reminder batch run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ReminderBatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "welfare",
		Name:      "reminder_batch_runs_total",
		Help:      "Reminder batch runs by result.",
	}, []string{"result"})

	RemindersDue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "welfare",
		Name:      "reminders_due",
		Help:      "Due (member, date) pairs found by the last batch run.",
	})

	IPGateDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "welfare",
		Name:      "ip_gate_denied_total",
		Help:      "Requests rejected by the IP allow-list.",
	}, []string{"scope"})

	IPGateEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "welfare",
		Name:      "ip_gate_entries",
		Help:      "Allow-list entries in the current snapshot.",
	})

	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "welfare",
		Name:      "bulk_emails_total",
		Help:      "Bulk email sends by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RemindersDispatched,
		ReminderBatchDuration,
		ReminderBatchRuns,
		RemindersDue,
		IPGateDenied,
		IPGateEntries,
		EmailsSent,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

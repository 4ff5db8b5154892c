package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func init() { register(resultsTotal, errorMessagesTotal, pendingJobs, notificationsTotal) }

var (
	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcomfy_results_total",
			Help: "Result messages by outcome.",
		},
		[]string{"outcome"}, // accepted | duplicate | malformed | ignored
	)

	errorMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcomfy_error_messages_total",
		Help: "infer_error_message events received.",
	})

	pendingJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewcomfy_pending_jobs",
		Help: "Submitted jobs still waiting for their result.",
	})

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcomfy_notifications_total",
			Help: "Completion notifications by outcome.",
		},
		[]string{"outcome"}, // shown | dropped | denied | failed | unavailable
	)
)

const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	// the tracker was already closed
	OutcomeIgnored = "ignored"
)

func IncResult(outcome string) {
	resultsTotal.WithLabelValues(norm(outcome)).Inc()
}

// ResultCount reads the current value of the results counter for outcome.
func ResultCount(outcome string) float64 {
	m := &dto.Metric{}
	if err := resultsTotal.WithLabelValues(norm(outcome)).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func IncErrorMessage() { errorMessagesTotal.Inc() }

func SetPendingJobs(n int) { pendingJobs.Set(float64(n)) }

func IncNotification(outcome string) {
	notificationsTotal.WithLabelValues(norm(outcome)).Inc()
}

package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ternarybob/ghostrun/internal/models"
)

var (
	metricJobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ghostrun",
		Name:      "jobs_submitted_total",
		Help:      "Number of browser jobs accepted for execution.",
	})
	metricJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ghostrun",
		Name:      "jobs_finished_total",
		Help:      "Number of browser jobs that reached a terminal state.",
	}, []string{"status"})
	metricJobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ghostrun",
		Name:      "jobs_in_flight",
		Help:      "Browser jobs currently running.",
	})
	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ghostrun",
		Name:      "job_duration_seconds",
		Help:      "Wall time of a job run from session launch to release.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})
	metricActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ghostrun",
		Name:      "action_duration_seconds",
		Help:      "Duration of individual browser actions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type", "success"})
)

func recordSubmitted() {
	metricJobsSubmitted.Inc()
}

func recordStarted() {
	metricJobsInFlight.Inc()
}

func recordFinished(status models.JobStatus, duration time.Duration) {
	metricJobsInFlight.Dec()
	metricJobsFinished.WithLabelValues(string(status)).Inc()
	metricJobDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// recordAborted counts a job failed before it started
func recordAborted() {
	metricJobsFinished.WithLabelValues(string(models.JobStatusFailed)).Inc()
}

func recordAction(actionType models.ActionType, success bool, duration time.Duration) {
	label := "false"
	if success {
		label = "true"
	}
	metricActionDuration.WithLabelValues(string(actionType), label).Observe(duration.Seconds())
}

package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_jobs_submitted_total", Help: "Jobs accepted by submit"})
	CoalescedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_jobs_coalesced_total", Help: "Submissions attached to an in-flight job"})
	CacheHitCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_cache_hits_total", Help: "Submissions answered from the result cache"})
	CompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_jobs_completed_total", Help: "Jobs completed successfully"})
	FailedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_jobs_failed_total", Help: "Jobs that exhausted retries"})
	CancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_jobs_cancelled_total", Help: "Jobs cancelled before completion"})
	RetryCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcribe_attempt_retries_total", Help: "Attempts retried after a transient failure"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcribe_queue_depth", Help: "Queued jobs across priority tiers"})
	RunningGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcribe_jobs_running", Help: "Jobs currently executing"})
	ResourceGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcribe_resource_holders", Help: "Workers currently holding the model resource"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			CoalescedCounter,
			CacheHitCounter,
			CompletedCounter,
			FailedCounter,
			CancelledCounter,
			RetryCounter,
			QueueDepthGauge,
			RunningGauge,
			ResourceGauge,
		)
	})
	return promhttp.Handler()
}

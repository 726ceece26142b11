package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	// ticketsScheduled counts tickets accepted by Schedule.
	ticketsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_tickets_scheduled_total",
		Help: "Total number of dispatch tickets scheduled.",
	})

	// ticketsClaimed counts tickets handed to workers.
	ticketsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_tickets_claimed_total",
		Help: "Total number of dispatch tickets claimed by workers.",
	})

	// ticketsRequeued counts leases recovered by the reaper.
	ticketsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_tickets_requeued_total",
		Help: "Total number of expired leases requeued for retry.",
	})

	// jobsFailed counts handler executions that returned an error or timed out.
	jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_jobs_failed_total",
		Help: "Total number of burst-processing jobs that failed.",
	})

	// jobDuration records handler execution time in seconds.
	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_job_duration_seconds",
		Help:    "Duration of burst-processing jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ticketsScheduled, ticketsClaimed, ticketsRequeued, jobsFailed, jobDuration)
}

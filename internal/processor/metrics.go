package processor

import "github.com/prometheus/client_golang/prometheus"

var (
	// burstsProcessed counts ticket executions by outcome: ok, empty
	// (duplicate or expired ticket), deferred (deadline still ahead,
	// ticket rescheduled), error.
	burstsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burst_processed_total",
			Help: "Total number of burst tickets processed by outcome.",
		},
		[]string{"outcome"},
	)

	// messagesCoalesced tracks how many messages each burst folded into one
	// reply; values near 1 mean the debounce window is doing little.
	messagesCoalesced = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burst_messages_coalesced",
			Help:    "Number of user messages coalesced per processed burst.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 20},
		},
	)
)

func init() {
	prometheus.MustRegister(burstsProcessed, messagesCoalesced)
}

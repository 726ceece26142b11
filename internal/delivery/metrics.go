package delivery

import "github.com/prometheus/client_golang/prometheus"

// pushes counts hub push outcomes: delivered, miss (no connection), failed
// (write error, connection evicted).
var pushes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_pushes_total",
		Help: "Total number of delivery pushes by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(pushes)
}

package reservation

import "github.com/prometheus/client_golang/prometheus"

var outcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reservation_outcomes_total",
		Help: "Budget reservations by strategy and outcome.",
	},
	[]string{"strategy", "outcome"},
)

func init() {
	prometheus.MustRegister(outcomes)
}

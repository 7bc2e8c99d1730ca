package compensation

import "github.com/prometheus/client_golang/prometheus"

var driftTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "compensation_drift_total",
	Help: "Confirmed cache reservations the durable ledger could not cover",
})

func init() {
	prometheus.MustRegister(driftTotal)
}

package eligibility

import "github.com/prometheus/client_golang/prometheus"

var oracleFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eligibility_oracle_failures_total",
		Help: "Rule oracle calls that failed or returned no verdict; the collection is treated as not passed.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(oracleFailures)
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		pollerCycles,
		pollerBackoffSeconds,
		pollerSnapshotAccounts,
	)
}

var (
	// result: ok|rate_limited|error|skipped
	pollerCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_cycles_total",
			Help: "Account poller cycles by result.",
		},
		[]string{"result"},
	)

	pollerBackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_backoff_seconds",
			Help: "Delay scheduled before the next poller cycle.",
		},
	)

	pollerSnapshotAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "poller_snapshot_accounts",
			Help: "Number of accounts in the last published snapshot.",
		},
	)
)

func IncPollerCycle(result string)      { pollerCycles.WithLabelValues(norm(result)).Inc() }
func SetPollerBackoff(seconds float64)  { pollerBackoffSeconds.Set(seconds) }
func SetPollerSnapshotSize(n int)       { pollerSnapshotAccounts.Set(float64(n)) }

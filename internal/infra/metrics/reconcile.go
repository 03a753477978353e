package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reconcileOutcomes,
		reconcileDuration,
		provisioningReverts,
		sweepOrdersScanned,
		sweepSkippedAttemptCap,
	)
}

var (
	// Outcomes of ConfirmAndProvision calls.
	// entry: webhook|redirect|sweep|admin|status
	// outcome: provisioned|already_done|rejected|gateway_unavailable|provisioning_failed|not_found
	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Outcomes of confirm-and-provision attempts by entry point.",
		},
		[]string{"entry", "outcome"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of confirm-and-provision calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"entry"},
	)

	// Paid-but-not-delivered events: approved orders reverted to pending.
	provisioningReverts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_reverts_total",
			Help: "Approved orders reverted to pending after a provisioning failure.",
		},
	)

	sweepOrdersScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_orders_scanned_total",
			Help: "Unresolved orders examined by the reconciliation sweep.",
		},
	)

	sweepSkippedAttemptCap = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_skipped_attempt_cap_total",
			Help: "Sweep candidates skipped because the per-order attempt cap was reached.",
		},
	)
)

func ObserveReconcile(entry, outcome string, elapsed time.Duration) {
	reconcileOutcomes.WithLabelValues(norm(entry), norm(outcome)).Inc()
	reconcileDuration.WithLabelValues(norm(entry)).Observe(elapsed.Seconds())
}

func IncProvisioningRevert()      { provisioningReverts.Inc() }
func AddSweepScanned(n int)       { sweepOrdersScanned.Add(float64(n)) }
func IncSweepSkippedAttemptCap()  { sweepSkippedAttemptCap.Inc() }

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"ausfoperator/pkg/core"
)

var (
	registerOnce sync.Once

	dispatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ausf_operator_dispatches_total",
		Help: "Total number of event dispatches grouped by event kind and outcome.",
	}, []string{"event", "outcome"})

	dispatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ausf_operator_dispatch_seconds",
		Help:    "Histogram of dispatch duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	restartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ausf_operator_service_restarts_total",
		Help: "Total number of workload service restarts issued.",
	})

	certificateRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ausf_operator_certificate_requests_total",
		Help: "Total number of certificate signing requests submitted.",
	})

	staleCertificateEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ausf_operator_stale_certificate_events_total",
		Help: "Total number of certificate events ignored because they did not match stored state.",
	})

	unitStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ausf_operator_unit_state",
		Help: "Current unit state; the active series is set to 1.",
	}, []string{"state"})
)

func ensureRegistered() {
	registerOnce.Do(func() {
		ctrlmetrics.Registry.MustRegister(
			dispatchesTotal,
			dispatchSeconds,
			restartsTotal,
			certificateRequestsTotal,
			staleCertificateEventsTotal,
			unitStateGauge,
		)
	})
}

// Dispatch outcomes.
const (
	OutcomeActive   = "active"
	OutcomeDeferred = "deferred"
	OutcomeBlocked  = "blocked"
	OutcomeIgnored  = "ignored"
	OutcomeHandled  = "handled"
	OutcomeError    = "error"
)

// RecordDispatch updates the dispatch counters for one handled event.
func RecordDispatch(event core.EventKind, outcome string, duration time.Duration) {
	ensureRegistered()

	dispatchesTotal.WithLabelValues(string(event), outcome).Inc()
	dispatchSeconds.Observe(duration.Seconds())
}

// RecordRestart counts one workload service restart.
func RecordRestart() {
	ensureRegistered()
	restartsTotal.Inc()
}

// RecordCertificateRequest counts one CSR submission.
func RecordCertificateRequest() {
	ensureRegistered()
	certificateRequestsTotal.Inc()
}

// RecordStaleCertificateEvent counts one ignored certificate event.
func RecordStaleCertificateEvent() {
	ensureRegistered()
	staleCertificateEventsTotal.Inc()
}

// SetUnitState points the state gauge at the current unit state.
func SetUnitState(state core.UnitState) {
	ensureRegistered()

	for _, candidate := range []core.UnitState{core.StateActive, core.StateWaiting, core.StateBlocked} {
		value := 0.0
		if candidate == state {
			value = 1.0
		}
		unitStateGauge.WithLabelValues(string(candidate)).Set(value)
	}
}

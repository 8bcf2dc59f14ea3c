package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the content store and the object daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	MergeOutcomes     *prometheus.CounterVec
	ManifestRebuilds  prometheus.Counter
	Transactions      *prometheus.CounterVec
	Objects           prometheus.Gauge
	ObjectRPCDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MergeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keycircle_merge_outcomes_total",
			Help: "insert_or_merge results by outcome",
		}, []string{"outcome"}),
		ManifestRebuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "keycircle_manifest_digest_rebuilds_total",
			Help: "Times the cached manifest digest was recomputed",
		}),
		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keycircle_transactions_total",
			Help: "Completed store transactions by result",
		}, []string{"result"}),
		Objects: f.NewGauge(prometheus.GaugeOpts{
			Name: "keycircle_objects",
			Help: "Objects currently held in the content index",
		}),
		ObjectRPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keycircle_object_rpc_duration_seconds",
			Help:    "Duration of object exchange RPCs",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}

func (m *Metrics) ObserveMerge(outcome string) {
	if m == nil {
		return
	}
	m.MergeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveManifestRebuild() {
	if m == nil {
		return
	}
	m.ManifestRebuilds.Inc()
}

// ObserveTransaction records a commit or a rollback and the resulting index size.
func (m *Metrics) ObserveTransaction(committed bool, objects int) {
	if m == nil {
		return
	}
	result := "rollback"
	if committed {
		result = "commit"
	}
	m.Transactions.WithLabelValues(result).Inc()
	m.Objects.Set(float64(objects))
}

// ObserveRPC records the duration of an object RPC.
// Call with time.Now() at the start of the call.
func (m *Metrics) ObserveRPC(method string, start time.Time) {
	if m == nil {
		return
	}
	m.ObjectRPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveMerge("Created")
	m.ObserveManifestRebuild()
	m.ObserveTransaction(true, 3)
	m.ObserveRPC("Get", time.Now())
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMerge("Created")
	m.ObserveMerge("Created")
	m.ObserveMerge("KeptLocal")
	m.ObserveTransaction(true, 2)
	m.ObserveTransaction(false, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergeOutcomes.WithLabelValues("Created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergeOutcomes.WithLabelValues("KeptLocal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("rollback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Objects))
}

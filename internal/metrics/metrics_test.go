package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	m := New()
	m.IncStep("screening")
	m.IncStep("screening")
	m.IncPreemption()
	m.IncError("scanner", "timeout")
	m.IncPurchase("PURCHASED")
	m.IncReset()
	m.ObservePass(42, 30*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScanStepsTotal.WithLabelValues("screening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PreemptionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("scanner", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PurchasesTotal.WithLabelValues("PURCHASED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionResets))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ProgramSize))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncStep("program")
		m.IncPreemption()
		m.IncError("tickets", "other")
		m.ObservePass(1, time.Second)
		m.IncPurchase("FAILED")
		m.IncReset()
	})
}

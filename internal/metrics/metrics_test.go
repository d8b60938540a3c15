package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Request(OutcomeOK, time.Millisecond)
	m.Request(OutcomeRejected, time.Millisecond)
	m.Broadcast(3)
	m.ChunkFetched()
	m.Patch("add")
	m.Patch("add")
	m.Stalled(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.broadcasts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.patches.WithLabelValues("add")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.stalled))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.Request(OutcomeFailed, time.Second)
		m.Broadcast(1)
		m.ChunkFetched()
		m.Patch("delete")
		m.Stalled(0)
	})
}

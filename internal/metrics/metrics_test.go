package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("vote.cast", "ok", time.Millisecond)
		m.RecordConflictRetry("vote.cast")
		m.RecordLockout()
		m.RecordSweeperRun(time.Second, 3)
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordVote("post", "up")
	m.RecordVote("post", "up")
	m.RecordSanctionFailure()
	m.RecordSweeperRun(time.Second, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VotesCast.WithLabelValues("post", "up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SanctionFailures))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SweeperPurged))

	m.ObserveDispatch("vote.cast", "ok", time.Millisecond)
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "agora_dispatch_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNewTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

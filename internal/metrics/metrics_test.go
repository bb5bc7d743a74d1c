package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAppMetricsRecorders(t *testing.T) {
	m := NewAppMetrics(NewRegistry())

	m.ObserveRequest("Ping", "ok")
	m.ObserveRequest("Ping", "timeout")
	m.ObserveRequest("Ping", "timeout")
	m.ObserveDispatch("SetMotorPosition")
	m.ObserveBroadcast()
	m.ObserveDatapoint("5")
	m.SetNodesOnline(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MasterRequests.WithLabelValues("Ping", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MasterRequests.WithLabelValues("Ping", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlaveDispatch.WithLabelValues("SetMotorPosition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DatapointsReceived.WithLabelValues("5")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NodesOnline))
}

func TestMatcherCallbacks(t *testing.T) {
	m := NewAppMetrics(NewRegistry())
	onRead, onWrite, onPending, onDrop, onTimeout := m.MatcherCallbacks()
	onRead()
	onRead()
	onWrite()
	onPending(7)
	onDrop()
	onTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTx))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PendingFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchTimeouts))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *AppMetrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("Ping", "ok")
		m.ObserveDispatch("Ping")
		m.ObserveBroadcast()
		m.ObserveDatapoint("1")
		m.SetNodesOnline(1)
	})
	onRead, _, _, _, _ := m.MatcherCallbacks()
	assert.Nil(t, onRead)
}

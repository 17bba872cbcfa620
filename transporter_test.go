// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTransporterFixture returns a transporter whose reactor yields the
// given channel and a [*manualCompletion] the test settles.
func newTransporterFixture(
	ch *recordingChannel, stats *testStats) (*Transporter, func(), *manualCompletion) {
	completion := &manualCompletion{}

	cfg := NewConfig()
	cfg.Stats = stats
	cfg.Reactor = &funcReactor{
		NewChannelFunc: func(spec *PipelineSpec) (Channel, error) {
			return ch, nil
		},
		ConnectFunc: func(ctx context.Context, got Channel, address string) CancellableCompletion {
			return completion
		},
	}

	txp, release := New(cfg)
	return txp, release, completion
}

// New wires the connector's establishment hook to the gauge tracking.
func TestNew(t *testing.T) {
	cfg := NewConfig()

	txp, release := New(cfg)

	require.NotNil(t, txp)
	require.NotNil(t, release)
	assert.NotNil(t, txp.connector.OnEstablished)
}

// The live-connection gauge increments on establishment and decrements
// when the channel closes.
func TestTransporterGauge(t *testing.T) {
	ch := newRecordingChannel()
	stats := newTestStats()
	txp, _, completion := newTransporterFixture(ch, stats)

	pending := txp.Connect(context.Background(), "93.184.216.34:443", nil)
	completion.settle(nil)

	transport, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, float64(1), stats.gaugeValue(statLiveConnections))
	assert.Equal(t, int64(1), stats.counterValue(statConnects))

	require.NoError(t, transport.Close())
	assert.Equal(t, float64(0), stats.gaugeValue(statLiveConnections))
}

// A failed attempt never touches the live-connection gauge.
func TestTransporterGaugeUntouchedOnFailure(t *testing.T) {
	ch := newRecordingChannel()
	stats := newTestStats()
	txp, _, completion := newTransporterFixture(ch, stats)

	pending := txp.Connect(context.Background(), "93.184.216.34:443", nil)
	completion.settle(context.Canceled)

	_, err := pending.Result()
	require.Error(t, err)
	assert.Equal(t, float64(0), stats.gaugeValue(statLiveConnections))
	assert.Equal(t, 1, ch.closes())
}

// Release detaches the gauge: later updates are discarded while
// in-flight connects keep working.
func TestTransporterRelease(t *testing.T) {
	ch := newRecordingChannel()
	stats := newTestStats()
	txp, release, completion := newTransporterFixture(ch, stats)

	pending := txp.Connect(context.Background(), "93.184.216.34:443", nil)
	release()
	completion.settle(nil)

	transport, err := pending.Result()
	require.NoError(t, err)
	require.NotNil(t, transport)

	// The attempt settled but the released gauge stayed untouched.
	assert.Equal(t, float64(0), stats.gaugeValue(statLiveConnections))
	require.NoError(t, transport.Close())
	assert.Equal(t, float64(0), stats.gaugeValue(statLiveConnections))
}

// Releasing twice is harmless.
func TestTransporterReleaseTwice(t *testing.T) {
	_, release := New(NewConfig())
	release()
	release()
}

// A nil per-attempt stats receiver falls back to [Config.Stats].
func TestTransporterStatsFallback(t *testing.T) {
	ch := newRecordingChannel()
	configStats := newTestStats()
	txp, _, completion := newTransporterFixture(ch, configStats)

	pending := txp.Connect(context.Background(), "93.184.216.34:443", nil)
	completion.settle(nil)

	_, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), configStats.counterValue(statConnects))
}

// An explicit per-attempt stats receiver takes precedence over
// [Config.Stats] for attempt counters.
func TestTransporterPerAttemptStats(t *testing.T) {
	ch := newRecordingChannel()
	configStats := newTestStats()
	attemptStats := newTestStats()
	txp, _, completion := newTransporterFixture(ch, configStats)

	pending := txp.Connect(context.Background(), "93.184.216.34:443", attemptStats)
	completion.settle(nil)

	_, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), attemptStats.counterValue(statConnects))
	assert.Equal(t, int64(0), configStats.counterValue(statConnects))

	// The live-connection gauge always belongs to the construction-time
	// stats receiver.
	assert.Equal(t, float64(1), configStats.gaugeValue(statLiveConnections))
	assert.Equal(t, float64(0), attemptStats.gaugeValue(statLiveConnections))
}

// Two transporters sharing a configuration keep independent gauges.
func TestTransporterIndependentGauges(t *testing.T) {
	statsA := newTestStats()
	statsB := newTestStats()

	cfgA := NewConfig()
	cfgA.Stats = statsA
	cfgB := NewConfig()
	cfgB.Stats = statsB

	txpA, releaseA := New(cfgA)
	txpB, releaseB := New(cfgB)
	defer releaseA()
	defer releaseB()

	chA := newRecordingChannel()
	chB := newRecordingChannel()
	txpA.trackChannel(chA)
	txpB.trackChannel(chB)

	assert.Equal(t, float64(1), statsA.gaugeValue(statLiveConnections))
	assert.Equal(t, float64(1), statsB.gaugeValue(statLiveConnections))

	chA.Close()
	assert.Equal(t, float64(0), statsA.gaugeValue(statLiveConnections))
	assert.Equal(t, float64(1), statsB.gaugeValue(statLiveConnections))
}

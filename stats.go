// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"net"
)

// Counter is a monotonically increasing statistic.
type Counter interface {
	Incr(delta int64)
}

// Gauge is an instantaneous statistic that can move in both directions.
type Gauge interface {
	Add(delta float64)
}

// StatsReceiver registers and returns counters and gauges.
//
// This package registers the following statistics:
//
//   - connects, connection_failures, cancelled_connects (counters,
//     incremented by [Connector] on attempt outcome)
//   - bytes_sent, bytes_received, messages_sent, messages_received
//     (counters, incremented by the per-channel stats stage)
//   - idle_timeouts (counter, incremented by [IdleStage])
//   - live_connections (gauge, owned by [Transporter])
//
// Calling Counter or Gauge twice with the same name returns a statistic
// updating the same underlying value.
type StatsReceiver interface {
	Counter(name string) Counter
	Gauge(name string) Gauge
}

// Statistic names registered by this package.
const (
	statBytesReceived      = "bytes_received"
	statBytesSent          = "bytes_sent"
	statCancelledConnects  = "cancelled_connects"
	statConnectionFailures = "connection_failures"
	statConnects           = "connects"
	statIdleTimeouts       = "idle_timeouts"
	statLiveConnections    = "live_connections"
	statMessagesReceived   = "messages_received"
	statMessagesSent       = "messages_sent"
)

// DefaultStatsReceiver returns the default [StatsReceiver].
//
// The default receiver discards every update. Use [NewPromStats] or a
// custom implementation to collect real statistics.
func DefaultStatsReceiver() StatsReceiver {
	return nullStatsReceiver{}
}

// nullStatsReceiver is a [StatsReceiver] that discards all updates.
type nullStatsReceiver struct{}

var _ StatsReceiver = nullStatsReceiver{}

// Counter implements [StatsReceiver].
func (nullStatsReceiver) Counter(name string) Counter {
	return nullCounter{}
}

// Gauge implements [StatsReceiver].
func (nullStatsReceiver) Gauge(name string) Gauge {
	return nullGauge{}
}

// nullCounter discards increments.
type nullCounter struct{}

// Incr implements [Counter].
func (nullCounter) Incr(delta int64) {
	// nothing
}

// nullGauge discards updates.
type nullGauge struct{}

// Add implements [Gauge].
func (nullGauge) Add(delta float64) {
	// nothing
}

// NewStatsStage returns a new [*StatsStage] registering its counters
// with the given [StatsReceiver].
func NewStatsStage(stats StatsReceiver) *StatsStage {
	return &StatsStage{
		BytesReceived:    stats.Counter(statBytesReceived),
		BytesSent:        stats.Counter(statBytesSent),
		MessagesReceived: stats.Counter(statMessagesReceived),
		MessagesSent:     stats.Counter(statMessagesSent),
	}
}

// StatsStage wraps the connection with per-channel statistics counters.
//
// Bytes counters accumulate the payload sizes observed by Read and Write;
// message counters count the Read and Write calls themselves, which at
// this position in the pipeline correspond to the I/O operations the base
// codec stages issue.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [StatsStage.Call].
type StatsStage struct {
	// BytesReceived counts bytes read from the connection.
	//
	// Set by [NewStatsStage] from the stats receiver.
	BytesReceived Counter

	// BytesSent counts bytes written to the connection.
	//
	// Set by [NewStatsStage] from the stats receiver.
	BytesSent Counter

	// MessagesReceived counts successful Read calls.
	//
	// Set by [NewStatsStage] from the stats receiver.
	MessagesReceived Counter

	// MessagesSent counts successful Write calls.
	//
	// Set by [NewStatsStage] from the stats receiver.
	MessagesSent Counter
}

var _ Stage = &StatsStage{}

// Call implements [Stage] by wrapping the connection with counters.
func (op *StatsStage) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return &statsConn{Conn: conn, op: op}, nil
}

// statsConn counts bytes and messages flowing through a [net.Conn].
type statsConn struct {
	net.Conn
	op *StatsStage
}

// Read implements [net.Conn].
func (c *statsConn) Read(buf []byte) (int, error) {
	count, err := c.Conn.Read(buf)
	if count > 0 {
		c.op.BytesReceived.Incr(int64(count))
		c.op.MessagesReceived.Incr(1)
	}
	return count, err
}

// Write implements [net.Conn].
func (c *statsConn) Write(data []byte) (int, error) {
	count, err := c.Conn.Write(data)
	if count > 0 {
		c.op.BytesSent.Incr(int64(count))
		c.op.MessagesSent.Incr(1)
	}
	return count, err
}

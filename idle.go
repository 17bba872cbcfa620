// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/benbjohnson/clock"
)

// IdleKind is the direction that went idle.
type IdleKind int

const (
	// IdleRead means no read completed within the read idle timeout.
	IdleRead = IdleKind(iota)

	// IdleWrite means no write completed within the write idle timeout.
	IdleWrite
)

// String implements [fmt.Stringer].
func (k IdleKind) String() string {
	switch k {
	case IdleRead:
		return "read"
	case IdleWrite:
		return "write"
	default:
		return "unknown"
	}
}

// IdleEvent describes one idle timeout raised by the [IdleStage].
type IdleEvent struct {
	// Kind is the direction that went idle.
	Kind IdleKind

	// Elapsed is the measured time since the last activity in that
	// direction (or since establishment, for the first interval).
	Elapsed time.Duration

	// RemoteAddr is the remote address of the idle connection.
	RemoteAddr string
}

// NewIdleStage returns a new [*IdleStage] counting idle timeouts against
// the given [StatsReceiver].
func NewIdleStage(cfg *Config, stats StatsReceiver) *IdleStage {
	return &IdleStage{
		Clock:        cfg.Clock,
		IdleTimeouts: stats.Counter(statIdleTimeouts),
		Logger:       cfg.Logger,
		OnIdle:       cfg.OnIdle,
		ReadTimeout:  cfg.ReadIdleTimeout,
		WriteTimeout: cfg.WriteIdleTimeout,
	}
}

// IdleStage wraps the connection to measure the elapsed time since the
// last read and the last write and raises an [IdleEvent] when either
// exceeds its configured timeout.
//
// Idle events are observational: the stage increments the idle_timeouts
// counter, logs the event, and invokes the OnIdle callback when one is
// configured, but it never closes the connection itself. A caller
// wanting close-on-idle closes the transport from the callback, which is
// safe because channel close is idempotent.
//
// After an event fires, its direction re-arms with a fresh full interval
// so a persistently idle connection raises one event per interval rather
// than a hot loop.
//
// The monitor goroutine stops when the wrapped connection is closed.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [IdleStage.Call].
type IdleStage struct {
	// Clock provides timers (mockable for testing).
	//
	// Set by [NewIdleStage] from [Config.Clock].
	Clock clock.Clock

	// IdleTimeouts counts the idle events raised.
	//
	// Set by [NewIdleStage] from the stats receiver.
	IdleTimeouts Counter

	// Logger is the [SLogger] to use.
	//
	// Set by [NewIdleStage] from [Config.Logger].
	Logger SLogger

	// OnIdle optionally observes idle events.
	//
	// Set by [NewIdleStage] from [Config.OnIdle].
	OnIdle func(event IdleEvent)

	// ReadTimeout is the read idle timeout (zero means unbounded).
	//
	// Set by [NewIdleStage] from [Config.ReadIdleTimeout].
	ReadTimeout time.Duration

	// WriteTimeout is the write idle timeout (zero means unbounded).
	//
	// Set by [NewIdleStage] from [Config.WriteIdleTimeout].
	WriteTimeout time.Duration
}

var _ Stage = &IdleStage{}

// Call implements [Stage] by wrapping the connection and starting the
// idle monitor goroutine.
func (op *IdleStage) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	now := op.Clock.Now().UnixNano()
	idle := &idleConn{
		closeonce: sync.Once{},
		conn:      conn,
		lastRead:  atomic.Int64{},
		lastWrite: atomic.Int64{},
		op:        op,
		raddr:     safeconn.RemoteAddr(conn),
		stopped:   make(chan struct{}),
	}
	idle.lastRead.Store(now)
	idle.lastWrite.Store(now)
	go idle.monitor()
	return idle, nil
}

// idleConn tracks the instant of the last read and write on a [net.Conn].
type idleConn struct {
	closeonce sync.Once
	conn      net.Conn
	lastRead  atomic.Int64
	lastWrite atomic.Int64
	op        *IdleStage
	raddr     string
	stopped   chan struct{}
}

var _ net.Conn = &idleConn{}

// monitor raises idle events until the connection is closed.
func (c *idleConn) monitor() {
	for {
		sleep := c.nextDeadline()
		timer := c.op.Clock.Timer(sleep)
		select {
		case <-timer.C:
			// check expiry at the top of the loop
		case <-c.stopped:
			timer.Stop()
			return
		}
	}
}

// nextDeadline fires due idle events and returns how long the monitor
// should sleep before the earliest upcoming expiry.
func (c *idleConn) nextDeadline() time.Duration {
	now := c.op.Clock.Now()
	sleep := time.Duration(1<<63 - 1)
	if c.op.ReadTimeout > 0 {
		sleep = min(sleep, c.checkDirection(IdleRead, &c.lastRead, c.op.ReadTimeout, now))
	}
	if c.op.WriteTimeout > 0 {
		sleep = min(sleep, c.checkDirection(IdleWrite, &c.lastWrite, c.op.WriteTimeout, now))
	}
	return sleep
}

// checkDirection fires an idle event for one direction when due and
// returns the time left until that direction's next expiry.
func (c *idleConn) checkDirection(
	kind IdleKind, last *atomic.Int64, timeout time.Duration, now time.Time) time.Duration {
	elapsed := now.Sub(time.Unix(0, last.Load()))
	if elapsed < timeout {
		return timeout - elapsed
	}
	last.Store(now.UnixNano()) // re-arm with a fresh interval
	c.fire(IdleEvent{Kind: kind, Elapsed: elapsed, RemoteAddr: c.raddr})
	return timeout
}

// fire counts, logs, and dispatches one idle event.
func (c *idleConn) fire(event IdleEvent) {
	c.op.IdleTimeouts.Incr(1)
	c.op.Logger.Info(
		"idleTimeout",
		slog.Duration("elapsed", event.Elapsed),
		slog.String("kind", event.Kind.String()),
		slog.String("remoteAddr", event.RemoteAddr),
		slog.Time("t", c.op.Clock.Now()),
	)
	if c.op.OnIdle != nil {
		c.op.OnIdle(event)
	}
}

// Read implements [net.Conn].
func (c *idleConn) Read(buf []byte) (int, error) {
	count, err := c.conn.Read(buf)
	if err == nil {
		c.lastRead.Store(c.op.Clock.Now().UnixNano())
	}
	return count, err
}

// Write implements [net.Conn].
func (c *idleConn) Write(data []byte) (int, error) {
	count, err := c.conn.Write(data)
	if err == nil {
		c.lastWrite.Store(c.op.Clock.Now().UnixNano())
	}
	return count, err
}

// Close implements [net.Conn].
//
// Closing stops the idle monitor. Subsequent calls return [net.ErrClosed].
func (c *idleConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		close(c.stopped)
		err = c.conn.Close()
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *idleConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements [net.Conn].
func (c *idleConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *idleConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *idleConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *idleConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

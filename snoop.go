// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// snoopPreviewSize bounds the hex preview attached to snooping events.
const snoopPreviewSize = 64

// NewSnoopStage returns a new [*SnoopStage] logging to the given snooper.
func NewSnoopStage(cfg *Config, snooper SLogger) *SnoopStage {
	return &SnoopStage{
		ErrClassifier: cfg.ErrClassifier,
		Snooper:       snooper,
		TimeNow:       cfg.TimeNow,
	}
}

// SnoopStage wraps the raw connection to log every read, write, and
// close to the configured snooper. Installed outermost, it observes the
// wire bytes before proxy or TLS processing: with TLS configured the
// snooper sees ciphertext.
//
// Per-I/O events are emitted at Debug and include byte counts plus a
// bounded hex preview of the payload; the close event is emitted at Info.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [SnoopStage.Call].
type SnoopStage struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewSnoopStage] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Snooper is the [SLogger] receiving snooping events.
	//
	// Set by [NewSnoopStage] to the user-provided snooper.
	Snooper SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewSnoopStage] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Stage = &SnoopStage{}

// Call implements [Stage] by wrapping the connection with a snooper.
func (op *SnoopStage) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	snooped := &snoopedConn{
		closeonce: sync.Once{},
		conn:      conn,
		laddr:     safeconn.LocalAddr(conn),
		op:        op,
		protocol:  safeconn.Network(conn),
		raddr:     safeconn.RemoteAddr(conn),
	}
	return snooped, nil
}

// snoopedConn logs the raw I/O flowing through a [net.Conn].
type snoopedConn struct {
	closeonce sync.Once
	conn      net.Conn
	laddr     string
	op        *SnoopStage
	protocol  string
	raddr     string
}

var _ net.Conn = &snoopedConn{}

// preview returns a bounded hex dump of the given payload.
func preview(data []byte) string {
	if len(data) > snoopPreviewSize {
		data = data[:snoopPreviewSize]
	}
	return hex.EncodeToString(data)
}

// Read implements [net.Conn].
func (c *snoopedConn) Read(buf []byte) (int, error) {
	count, err := c.conn.Read(buf)
	c.op.Snooper.Debug(
		"snoopRead",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.String("ioPreview", preview(buf[:max(count, 0)])),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", c.op.TimeNow()),
	)
	return count, err
}

// Write implements [net.Conn].
func (c *snoopedConn) Write(data []byte) (int, error) {
	count, err := c.conn.Write(data)
	c.op.Snooper.Debug(
		"snoopWrite",
		slog.Int("ioBytesCount", count),
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.String("ioPreview", preview(data)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.Time("t", c.op.TimeNow()),
	)
	return count, err
}

// Close implements [net.Conn].
//
// Subsequent calls return [net.ErrClosed], consistent with Go's standard
// library behavior for closed connections.
func (c *snoopedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		err = c.conn.Close()
		c.op.Snooper.Info(
			"snoopClose",
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// LocalAddr implements [net.Conn].
func (c *snoopedConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr implements [net.Conn].
func (c *snoopedConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline implements [net.Conn].
func (c *snoopedConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *snoopedConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *snoopedConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/proxy"
)

// proxyApplies returns whether proxy traversal applies to the given
// destination: a proxy address must be configured and the destination
// must be an ip:port endpoint. For other destination forms proxying is
// skipped even when configured; this restriction is deliberate and no
// resolution is attempted.
func proxyApplies(proxyAddr, destination string) bool {
	if proxyAddr == "" {
		return false
	}
	_, err := netip.ParseAddrPort(destination)
	return err == nil
}

// NewProxyStage returns a new [*ProxyStage] traversing the configured
// proxy towards the given destination.
func NewProxyStage(cfg *Config, destination string) *ProxyStage {
	return &ProxyStage{
		Destination:   destination,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        cfg.Logger,
		ProxyAddr:     cfg.ProxyAddr,
		TimeNow:       cfg.TimeNow,
	}
}

// ProxyStage performs the SOCKS5 traversal handshake over the connection
// produced by the previous stage, which is already connected to the
// proxy. On success the logical connection to the destination is
// established and subsequent stages run through the proxy.
//
// The handshake reuses the existing connection by threading it through
// the SOCKS5 dialer via a single-use dialer, so no second connection is
// ever created.
//
// On failure the stage closes the connection per the [Stage] cleanup contract.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [ProxyStage.Call].
type ProxyStage struct {
	// Destination is the ip:port endpoint to reach through the proxy.
	//
	// Set by [NewProxyStage] to the user-provided destination.
	Destination string

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewProxyStage] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewProxyStage] from [Config.Logger].
	Logger SLogger

	// ProxyAddr is the proxy address, used for logging.
	//
	// Set by [NewProxyStage] from [Config.ProxyAddr].
	ProxyAddr string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewProxyStage] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Stage = &ProxyStage{}

// contextDialerFunc adapts a DialContext-shaped function to the
// [proxy.Dialer] and [proxy.ContextDialer] interfaces.
type contextDialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

var (
	_ proxy.Dialer        = contextDialerFunc(nil)
	_ proxy.ContextDialer = contextDialerFunc(nil)
)

// Dial implements [proxy.Dialer].
func (f contextDialerFunc) Dial(network, address string) (net.Conn, error) {
	return f(context.Background(), network, address)
}

// DialContext implements [proxy.ContextDialer].
func (f contextDialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// Call implements [Stage].
func (op *ProxyStage) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	t0 := op.TimeNow()
	op.logHandshakeStart(conn, t0)

	// The forward dialer hands out the existing connection exactly once,
	// so the SOCKS5 dialer handshakes over it instead of dialing anew.
	forward := sud.NewSingleUseDialer(conn)
	dialer, err := proxy.SOCKS5("tcp", op.ProxyAddr, nil, contextDialerFunc(forward.DialContext))
	if err != nil {
		op.logHandshakeDone(conn, t0, err)
		conn.Close()
		return nil, err
	}

	// The SOCKS5 dialer always supports DialContext.
	contextDialer, good := dialer.(proxy.ContextDialer)
	runtimex.Assert(good)

	pconn, err := contextDialer.DialContext(ctx, "tcp", op.Destination)
	op.logHandshakeDone(conn, t0, err)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pconn, nil
}

func (op *ProxyStage) logHandshakeStart(conn net.Conn, t0 time.Time) {
	op.Logger.Info(
		"proxyHandshakeStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("proxyAddr", op.ProxyAddr),
		slog.String("remoteAddr", op.Destination),
		slog.Time("t", t0),
	)
}

func (op *ProxyStage) logHandshakeDone(conn net.Conn, t0 time.Time, err error) {
	op.Logger.Info(
		"proxyHandshakeDone",
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("proxyAddr", op.ProxyAddr),
		slog.String("remoteAddr", op.Destination),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}

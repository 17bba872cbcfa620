// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// TLSEngine is the engine performing one TLS client handshake.
type TLSEngine interface {
	// Client builds a new client [TLSConn].
	Client(conn net.Conn, config *tls.Config) TLSConn

	// Name returns the engine name.
	Name() string
}

// TLSEngineStdlib implements [TLSEngine] for the standard library.
//
// The zero value is ready to use.
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

// Client implements [TLSEngine].
//
// This function uses [tls.Client] to build a new [*tls.Conn].
func (TLSEngineStdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}

// Name implements [TLSEngine].
//
// This function returns "stdlib".
func (TLSEngineStdlib) Name() string {
	return "stdlib"
}

// TLSConn abstracts over [*tls.Conn].
//
// By using an abstraction we allow for alternative TLS implementations.
type TLSConn interface {
	// ConnectionState returns the connection state.
	ConnectionState() tls.ConnectionState

	// HandshakeContext performs the handshake unless interrupted by the context.
	HandshakeContext(ctx context.Context) error

	// Embedding Conn means we can use this type as a [net.Conn].
	net.Conn
}

// TLSClientConfig configures the transport-security stage.
type TLSClientConfig struct {
	// NewEngine returns a fresh [TLSEngine] for one connection attempt.
	// Optional: nil means a fresh [TLSEngineStdlib] per attempt.
	NewEngine func() TLSEngine

	// Config is the TLS configuration. It is cloned per attempt and the
	// clone always runs in client mode with session creation enabled (a
	// client session cache is installed when the caller set none).
	// Optional: nil means an empty [*tls.Config].
	Config *tls.Config

	// ExpectedHostname, when non-empty, is verified against the
	// negotiated peer identity after the handshake succeeds; on
	// mismatch the attempt fails with [HostnameVerificationError].
	ExpectedHostname string
}

// NewTLSStage returns a new [*TLSStage] for the given [*TLSClientConfig].
//
// The cfg argument contains the common configuration; the tlsConfig
// argument must not be nil.
func NewTLSStage(cfg *Config, tlsConfig *TLSClientConfig) *TLSStage {
	runtimex.Assert(tlsConfig != nil)
	return &TLSStage{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        cfg.Logger,
		TLS:           tlsConfig,
		TimeNow:       cfg.TimeNow,
	}
}

// TLSStage performs a TLS client handshake over the connection produced
// by the previous stage and optionally verifies the peer hostname.
//
// On any failure the stage closes the connection per the [Stage]
// cleanup contract. Returns either a valid [TLSConn] or an error, never both.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [TLSStage.Call].
type TLSStage struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewTLSStage] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewTLSStage] from [Config.Logger].
	Logger SLogger

	// TLS is the stage configuration.
	//
	// Set by [NewTLSStage] to the user-provided [*TLSClientConfig].
	TLS *TLSClientConfig

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewTLSStage] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Stage = &TLSStage{}

// errNoPeerCertificates means the handshake yielded no peer certificate
// to verify the expected hostname against.
var errNoPeerCertificates = errors.New("no peer certificates")

// Call implements [Stage].
func (op *TLSStage) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	config := op.tlsConfig()
	engine := op.newEngine()
	tconn := engine.Client(conn, config)
	t0 := op.TimeNow()
	op.logHandshakeStart(engine, conn, t0, config)
	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()
	op.logHandshakeDone(engine, conn, t0, config, err, state)
	if err != nil {
		tconn.Close()
		return nil, err
	}
	if err := op.verifyHostname(state); err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}

// newEngine returns one fresh engine for this attempt.
func (op *TLSStage) newEngine() TLSEngine {
	if op.TLS.NewEngine != nil {
		return op.TLS.NewEngine()
	}
	return TLSEngineStdlib{}
}

// tlsConfig clones the configured [*tls.Config] and enables session creation.
func (op *TLSStage) tlsConfig() *tls.Config {
	config := op.TLS.Config
	if config == nil {
		config = &tls.Config{}
	}
	config = config.Clone()
	config.Time = op.TimeNow
	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(32)
	}
	return config
}

// verifyHostname checks the negotiated peer identity against the
// expected hostname, when one is configured.
func (op *TLSStage) verifyHostname(state tls.ConnectionState) error {
	if op.TLS.ExpectedHostname == "" {
		return nil
	}
	if len(state.PeerCertificates) < 1 {
		return &HostnameVerificationError{
			Expected: op.TLS.ExpectedHostname,
			Cause:    errNoPeerCertificates,
		}
	}
	if err := state.PeerCertificates[0].VerifyHostname(op.TLS.ExpectedHostname); err != nil {
		return &HostnameVerificationError{
			Expected: op.TLS.ExpectedHostname,
			Cause:    err,
		}
	}
	return nil
}

func (op *TLSStage) logHandshakeStart(engine TLSEngine,
	conn net.Conn, t0 time.Time, config *tls.Config) {
	op.Logger.Info(
		"tlsHandshakeStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t", t0),
		slog.String("tlsEngineName", engine.Name()),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.String("tlsServerName", config.ServerName),
		slog.Bool("tlsSkipVerify", config.InsecureSkipVerify),
	)
}

func (op *TLSStage) logHandshakeDone(engine TLSEngine,
	conn net.Conn, t0 time.Time, config *tls.Config, err error, state tls.ConnectionState) {
	op.Logger.Info(
		"tlsHandshakeDone",
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsEngineName", engine.Name()),
		slog.String("tlsExpectedHostname", op.TLS.ExpectedHostname),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.Any("tlsPeerCerts", op.peerCerts(state, err)),
		slog.String("tlsServerName", config.ServerName),
		slog.Bool("tlsSkipVerify", config.InsecureSkipVerify),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}

// peerCerts extracts the raw peer certificates for logging, using the
// certificate embedded in well-known x509 errors when the handshake failed.
func (op *TLSStage) peerCerts(state tls.ConnectionState, err error) (out [][]byte) {
	out = [][]byte{}

	var x509HostnameError x509.HostnameError
	if errors.As(err, &x509HostnameError) {
		out = append(out, x509HostnameError.Certificate.Raw)
		return
	}

	var x509UnknownAuthorityError x509.UnknownAuthorityError
	if errors.As(err, &x509UnknownAuthorityError) {
		out = append(out, x509UnknownAuthorityError.Cert.Raw)
		return
	}

	var x509CertificateInvalidError x509.CertificateInvalidError
	if errors.As(err, &x509CertificateInvalidError) {
		out = append(out, x509CertificateInvalidError.Cert.Raw)
		return
	}

	for _, cert := range state.PeerCertificates {
		out = append(out, cert.Raw)
	}
	return
}

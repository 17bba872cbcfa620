// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"net"
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds the configuration for a [Transporter].
//
// Pass this to constructor functions to pre-wire dependencies. All
// ambient fields have sensible defaults set by [NewConfig]; the optional
// domain fields (TLS, ProxyAddr, Snooper, idle timeouts) default to
// disabled.
//
// All fields are safe to modify after construction but before first use.
// A Config is shared read-only once a [Transporter] is built from it.
type Config struct {
	// BasePipeline returns the application codec stages installed
	// innermost in every pipeline. The stages are appended verbatim and
	// never inspected. Optional: nil means no base stages.
	BasePipeline func(destination string, stats StatsReceiver) []Stage

	// ChannelOptions are pass-through options applied to the raw
	// channel before connect.
	//
	// Set by [NewConfig] to no-delay=true and reuse-address=true.
	ChannelOptions map[string]any

	// Clock provides timers for the idle detector (mockable for testing).
	//
	// Set by [NewConfig] to the real clock.
	Clock clock.Clock

	// Dialer is used by [NewNetReactor].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] for lifecycle events.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// OnIdle, when non-nil, observes idle events raised by the idle
	// detector. The detector never closes the connection itself; a
	// caller wanting close-on-idle closes the transport from this
	// callback (channel close is idempotent, so this is safe).
	OnIdle func(event IdleEvent)

	// ProxyAddr is the optional SOCKS5 proxy address. Empty means no
	// proxying. Proxy traversal only applies when the destination is an
	// ip:port endpoint; for other destination forms the proxy stage is
	// skipped even when ProxyAddr is set.
	ProxyAddr string

	// Reactor creates channels and drives non-blocking connects.
	//
	// Optional: when nil, [New] builds a [NetReactor] from this Config.
	Reactor Reactor

	// ReadIdleTimeout is the maximum tolerated duration without a read
	// before an idle event is raised. Zero means unbounded.
	ReadIdleTimeout time.Duration

	// Snooper, when non-nil, enables the outermost debug snooping stage
	// logging raw I/O to this [SLogger] at Debug level.
	Snooper SLogger

	// Stats receives the statistics registered by this package and is
	// the default per-attempt receiver when Connect is given none.
	//
	// Set by [NewConfig] to [DefaultStatsReceiver].
	Stats StatsReceiver

	// TLS, when non-nil, enables the transport-security stage.
	TLS *TLSClientConfig

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// WrapTransport binds the [Transport] wrapper to the channel before
	// the connect is issued.
	//
	// Optional: when nil, [New] uses [NewChannelTransport].
	WrapTransport func(ch Channel) Transport

	// WriteIdleTimeout is the maximum tolerated duration without a
	// write before an idle event is raised. Zero means unbounded.
	WriteIdleTimeout time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		BasePipeline: nil,
		ChannelOptions: map[string]any{
			ChannelOptionNoDelay:      true,
			ChannelOptionReuseAddress: true,
		},
		Clock:            clock.New(),
		Dialer:           &net.Dialer{},
		ErrClassifier:    DefaultErrClassifier,
		Logger:           DefaultSLogger(),
		OnIdle:           nil,
		ProxyAddr:        "",
		Reactor:          nil,
		ReadIdleTimeout:  0,
		Snooper:          nil,
		Stats:            DefaultStatsReceiver(),
		TLS:              nil,
		TimeNow:          time.Now,
		WrapTransport:    nil,
		WriteIdleTimeout: 0,
	}
}

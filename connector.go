// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// NewConnector returns a new [*Connector] for the given configuration.
//
// When [Config.Reactor] is nil the connector uses a [NetReactor] built
// from the same configuration; when [Config.WrapTransport] is nil it
// uses [NewChannelTransport].
func NewConnector(cfg *Config) *Connector {
	reactor := cfg.Reactor
	if reactor == nil {
		reactor = NewNetReactor(cfg)
	}
	wrap := cfg.WrapTransport
	if wrap == nil {
		wrap = func(ch Channel) Transport { return NewChannelTransport(ch) }
	}
	return &Connector{
		ChannelOptions: cfg.ChannelOptions,
		ErrClassifier:  cfg.ErrClassifier,
		Logger:         cfg.Logger,
		OnEstablished:  nil,
		ProxyAddr:      cfg.ProxyAddr,
		Reactor:        reactor,
		TimeNow:        cfg.TimeNow,
		WrapTransport:  wrap,
	}
}

// Connector creates one channel per attempt, binds the transport wrapper
// to it before initiating the connect, drives the asynchronous connect,
// and settles the resulting [PendingTransport] exactly once.
//
// For one attempt the ordering guarantees are: pipeline installation
// happens before channel creation, which happens before transport
// binding, which happens before connect initiation, which happens before
// any completion callback fires. The transport-before-connect ordering
// means no inbound bytes delivered immediately upon connection can be
// lost.
//
// On any failure or cancellation the connector closes the channel
// exactly once; on success it never closes the channel.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Connector.Connect].
type Connector struct {
	// ChannelOptions are applied to the channel before connect.
	//
	// Set by [NewConnector] from [Config.ChannelOptions].
	ChannelOptions map[string]any

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnector] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConnector] from [Config.Logger].
	Logger SLogger

	// OnEstablished, when non-nil, observes every successfully
	// established channel before the pending transport resolves.
	//
	// Set by [New] to the transporter's live-connection tracking hook.
	OnEstablished func(ch Channel)

	// ProxyAddr is the optional proxy address.
	//
	// Set by [NewConnector] from [Config.ProxyAddr].
	ProxyAddr string

	// Reactor creates channels and drives connects.
	//
	// Set by [NewConnector] from [Config.Reactor] or to a [NetReactor].
	Reactor Reactor

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnector] from [Config.TimeNow].
	TimeNow func() time.Time

	// WrapTransport binds the transport wrapper to the channel.
	//
	// Set by [NewConnector] from [Config.WrapTransport] or to
	// [NewChannelTransport].
	WrapTransport func(ch Channel) Transport
}

// Connect starts one connection attempt towards address using the given
// per-attempt pipeline spec and stats receiver, returning the pending
// transport. Connect never blocks on network I/O.
//
// When proxy traversal applies to the destination, the raw connect goes
// to the proxy address and the pipeline's proxy stage reaches the
// destination through it; otherwise the raw connect goes directly to the
// destination.
func (c *Connector) Connect(
	ctx context.Context, address string, spec *PipelineSpec, stats StatsReceiver) *PendingTransport {
	ch, err := c.Reactor.NewChannel(spec)
	if err != nil {
		stats.Counter(statConnectionFailures).Incr(1)
		return newFailedPendingTransport(&ChannelCreationError{err})
	}

	// Channel options are applied before the connect is issued. An
	// option the channel rejects aborts the attempt: the channel exists,
	// so it must be closed.
	for name, value := range c.ChannelOptions {
		if err := ch.SetOption(name, value); err != nil {
			ch.Close()
			stats.Counter(statConnectionFailures).Incr(1)
			return newFailedPendingTransport(&ChannelCreationError{err})
		}
	}

	// Bind the transport wrapper strictly before initiating the connect.
	txp := c.WrapTransport(ch)

	completion := c.Reactor.Connect(ctx, ch, c.dialTarget(address))
	pending := newPendingTransport(completion.Cancel)

	completion.OnSettle(func(err error) {
		c.settle(pending, ch, txp, address, stats, err)
	})
	return pending
}

// dialTarget returns the address the raw connect goes to.
func (c *Connector) dialTarget(address string) string {
	if proxyApplies(c.ProxyAddr, address) {
		return c.ProxyAddr
	}
	return address
}

// settle resolves or fails the pending transport from the reactor's
// completion-dispatch context.
func (c *Connector) settle(pending *PendingTransport,
	ch Channel, txp Transport, address string, stats StatsReceiver, err error) {
	switch {
	case err == nil:
		if c.OnEstablished != nil {
			c.OnEstablished(ch)
		}
		stats.Counter(statConnects).Incr(1)
		c.logSettle(address, nil)
		pending.resolve(txp)

	case errors.Is(err, context.Canceled):
		ch.Close()
		stats.Counter(statCancelledConnects).Incr(1)
		failure := &CancelledConnectionError{Address: address}
		c.logSettle(address, failure)
		pending.fail(failure)

	default:
		ch.Close()
		stats.Counter(statConnectionFailures).Incr(1)
		failure := &ConnectionFailedError{Address: address, Cause: err}
		c.logSettle(address, failure)
		pending.fail(failure)
	}
}

func (c *Connector) logSettle(address string, err error) {
	c.Logger.Info(
		"transportSettle",
		slog.Any("err", err),
		slog.String("errClass", c.ErrClassifier.Classify(err)),
		slog.String("remoteAddr", address),
		slog.Time("t", c.TimeNow()),
	)
}

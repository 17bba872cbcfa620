// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"net"
)

// Names of the pass-through channel options applied before connect.
// [NetReactor] interprets these two; unknown options are carried but
// ignored, so reactor implementations may define their own.
const (
	// ChannelOptionNoDelay disables Nagle's algorithm when true.
	ChannelOptionNoDelay = "no-delay"

	// ChannelOptionReuseAddress sets SO_REUSEADDR when true.
	ChannelOptionReuseAddress = "reuse-address"
)

// Channel is one raw bidirectional network connection managed by a
// [Reactor].
//
// A Channel is created unconnected so that the [Transport] wrapper can be
// bound to it strictly before the connect is issued, guaranteeing that no
// inbound bytes delivered immediately upon connection are lost.
type Channel interface {
	// SetOption records one pass-through channel option. Options are
	// applied before connect; the reactor interprets them.
	SetOption(name string, value any) error

	// Conn returns the fully established connection with the whole
	// pipeline applied, or nil before establishment completes.
	Conn() net.Conn

	// Close closes the channel. Close is idempotent: the first call
	// closes the underlying connection (when one exists) and runs the
	// registered close hooks; subsequent calls return [net.ErrClosed].
	Close() error

	// OnClose registers fn to run when the channel closes. Each hook
	// runs exactly once; registering on an already-closed channel runs
	// fn immediately.
	OnClose(fn func())
}

// CancellableCompletion is the settle-once handle for one non-blocking
// connect issued against a [Reactor].
type CancellableCompletion interface {
	// OnSettle registers fn to run when the connect settles. fn runs
	// exactly once: with nil on success, with [context.Canceled] when
	// the connect was cancelled, and with the failure cause otherwise.
	// Registering after settlement runs fn immediately.
	OnSettle(fn func(err error))

	// Cancel requests cancellation of the in-flight connect. Cancel is
	// a no-op once the connect has settled.
	Cancel()
}

// Reactor creates channels and drives non-blocking connects.
//
// [NetReactor] is the default implementation; any engine offering
// unconnected channel creation plus a settle-once completion suffices.
type Reactor interface {
	// NewChannel creates one unconnected channel that will establish
	// the given pipeline upon connection. May fail synchronously, for
	// example on resource exhaustion.
	NewChannel(spec *PipelineSpec) (Channel, error)

	// Connect initiates a non-blocking connect of the channel to the
	// address and returns the completion handle. The channel pipeline
	// is established in the reactor's completion-dispatch context
	// before the completion settles successfully.
	Connect(ctx context.Context, ch Channel, address string) CancellableCompletion
}

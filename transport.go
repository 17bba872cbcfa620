// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import "net"

// Transport is the typed bidirectional message-exchange abstraction the
// upper protocol layer consumes, layered over a [Channel].
//
// The transport wrapper is supplied by the caller through
// [Config.WrapTransport] and must support being constructed before the
// channel is connected. This package never inspects the transport beyond
// holding it until the [PendingTransport] resolves; closing it must
// eventually close the underlying channel so the live-connection gauge
// decrements.
type Transport interface {
	Close() error
}

// NewChannelTransport returns a minimal [Transport] exposing the
// channel's established connection.
//
// This is the default transport wrapper used when [Config.WrapTransport]
// is nil. Protocol layers with typed message framing supply their own
// wrapper instead.
func NewChannelTransport(ch Channel) *ChannelTransport {
	return &ChannelTransport{ch}
}

// ChannelTransport is a [Transport] directly exposing the channel's
// established connection.
type ChannelTransport struct {
	ch Channel
}

var _ Transport = &ChannelTransport{}

// Conn returns the established connection, or nil before establishment.
func (t *ChannelTransport) Conn() net.Conn {
	return t.ch.Conn()
}

// Close implements [Transport] by closing the underlying channel.
func (t *ChannelTransport) Close() error {
	return t.ch.Close()
}

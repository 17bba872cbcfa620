// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import "fmt"

// ChannelCreationError wraps a synchronous failure to create or set up a
// channel before the connect is issued.
//
// When creation itself failed there is no channel to close; when the
// channel rejected a pass-through option after creation, the [Connector]
// has already closed it by the time this error surfaces. Either way the
// error is reported through an already-failed [PendingTransport].
type ChannelCreationError struct {
	// Cause is the underlying creation or setup failure.
	Cause error
}

var _ error = &ChannelCreationError{}

// Error implements error.
func (e *ChannelCreationError) Error() string {
	return fmt.Sprintf("transporter: create channel: %s", e.Cause.Error())
}

// Unwrap returns the underlying cause.
func (e *ChannelCreationError) Unwrap() error {
	return e.Cause
}

// CancelledConnectionError reports that the caller cancelled the pending
// transport before the connect completed. The channel has been closed by
// the time this error surfaces.
type CancelledConnectionError struct {
	// Address is the destination address of the cancelled attempt.
	Address string
}

var _ error = &CancelledConnectionError{}

// Error implements error.
func (e *CancelledConnectionError) Error() string {
	return fmt.Sprintf("transporter: connect %s: cancelled", e.Address)
}

// ConnectionFailedError reports that the reactor could not establish the
// connection (refused, reset, or a proxy or TLS handshake failure). The
// channel has been closed by the time this error surfaces.
type ConnectionFailedError struct {
	// Address is the destination address of the failed attempt.
	Address string

	// Cause is the underlying failure reported by the reactor.
	Cause error
}

var _ error = &ConnectionFailedError{}

// Error implements error.
func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("transporter: connect %s: %s", e.Address, e.Cause.Error())
}

// Unwrap returns the underlying cause.
func (e *ConnectionFailedError) Unwrap() error {
	return e.Cause
}

// HostnameVerificationError reports that the TLS handshake succeeded but
// the negotiated peer identity did not match the expected hostname. The
// channel has been closed by the time this error surfaces.
type HostnameVerificationError struct {
	// Expected is the hostname the peer was expected to present.
	Expected string

	// Cause is the underlying verification failure.
	Cause error
}

var _ error = &HostnameVerificationError{}

// Error implements error.
func (e *HostnameVerificationError) Error() string {
	return fmt.Sprintf("transporter: verify peer hostname %q: %s", e.Expected, e.Cause.Error())
}

// Unwrap returns the underlying cause.
func (e *HostnameVerificationError) Unwrap() error {
	return e.Cause
}

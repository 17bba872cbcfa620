// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewAttemptID returns a UUIDv7 identifying one connection attempt.
//
// Attach the attempt ID to the logger with [*slog.Logger.With] so that
// every event emitted while establishing one connection (connect, proxy
// handshake, TLS handshake, pipeline establishment, close) shares the
// same identifier and can be correlated during log analysis.
//
// Because UUIDv7 values are time ordered, sorting by attempt ID also
// sorts attempts by creation time.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewAttemptID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"net"
)

// Stage is one processing stage established on a fresh connection.
//
// A Stage receives the connection produced by the previous (more
// wire-facing) stage and returns the connection the next (more
// application-facing) stage sees, typically by wrapping the input or by
// performing a handshake over it.
//
// Resource cleanup contract: when a Stage returns an error, it closes the
// connection it received before returning. This ensures that established
// pipelines do not leak sockets on partial failure. See [TLSStage] for an
// example of this pattern.
type Stage interface {
	Call(ctx context.Context, conn net.Conn) (net.Conn, error)
}

// StageFunc wraps a function as a [Stage] implementation.
//
// Use this to create ad-hoc [Stage] instances from closures, for example
// when supplying base codec stages through [Config.BasePipeline].
type StageFunc func(ctx context.Context, conn net.Conn) (net.Conn, error)

var _ Stage = StageFunc(nil)

// Call implements [Stage].
func (f StageFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return f(ctx, conn)
}

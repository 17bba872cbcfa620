// SPDX-License-Identifier: GPL-3.0-or-later

// Package transporter turns a destination address into a fully negotiated
// bidirectional transport without ever blocking the caller.
//
// # Core Abstraction
//
// The package is built around three cooperating pieces:
//
//   - [PipelineSpec]: the ordered list of [Stage] values established on a
//     fresh connection (debug snooping, proxy traversal, TLS, idle
//     detection, statistics, then the caller's base codec stages)
//   - [Connector]: creates one channel, binds the [Transport] wrapper to it
//     before initiating the connect, and settles a cancellable
//     [PendingTransport] exactly once
//   - [Transporter]: immutable configuration plus the composition of the
//     two, exposing Connect(ctx, address, stats)
//
// Each connection attempt builds a fresh [PipelineSpec]; specs are never
// mutated after creation.
//
// # Connection Lifecycle
//
// The transporter owns the channel only while the attempt is in flight. On
// any failure or cancellation it closes the channel exactly once; on
// success it never closes the channel, because ownership passes to the
// [Transport] returned through the [PendingTransport].
//
// Stages follow the close-on-error contract: a [Stage] that receives a
// connection and returns an error closes that connection before returning,
// so composed pipelines do not leak sockets on partial failure.
//
// This package never retries, never pools connections, and never
// interprets the bytes exchanged by the base codec stages. Retry, backoff,
// and load balancing belong to layers above it.
//
// # Cancellation
//
// The only wait a consumer observes is the [PendingTransport] settling.
// Cancelling a pending transport propagates to the in-flight connect; if
// the connect has already settled, cancellation is a no-op. Whichever of
// caller cancellation, reactor success, or reactor failure arrives first
// wins, and the others become no-ops. The package imposes no timeout of
// its own: callers control timeouts externally through the context.
//
// # Reactor Seam
//
// Non-blocking connects are issued against a [Reactor], an abstract engine
// offering channel creation plus a settle-once [CancellableCompletion].
// [NetReactor] is the default implementation over an abstract [Dialer]
// (which [*net.Dialer] satisfies); tests substitute function-field stubs.
//
// # Observability
//
// All pieces support structured logging via [SLogger] (compatible with
// [log/slog]). By default logging is disabled; set a custom [*slog.Logger]
// to enable it. Lifecycle events (connect, establish, handshake, close)
// are emitted at Info; per-I/O snooping events at Debug. Events share the
// localAddr, remoteAddr, protocol, and t fields; completion events add t0,
// err, and errClass. Error classification is configurable through
// [ErrClassifier].
//
// Use [NewAttemptID] to generate a unique, time-ordered identifier
// (UUIDv7) for each connection attempt and attach it to the logger with
// [*slog.Logger.With] so all entries from one attempt correlate.
//
// Statistics flow through a [StatsReceiver]: per-channel byte and message
// counters, connect outcome counters, idle-timeout counters, and one
// live-connection gauge per [Transporter]. [NewPromStats] provides a
// Prometheus-backed receiver; the default receiver discards everything.
package transporter

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"sync"
)

// pendingState is the lifecycle state of a [PendingTransport].
type pendingState int

const (
	// pendingConnecting means the attempt is still in flight.
	pendingConnecting = pendingState(iota)

	// pendingConnected is the terminal success state.
	pendingConnected

	// pendingFailed is the terminal failure state (including cancellation).
	pendingFailed
)

// newPendingTransport returns a [*PendingTransport] in the connecting
// state whose Cancel propagates to the given hook.
func newPendingTransport(cancel func()) *PendingTransport {
	return &PendingTransport{
		cancel: cancel,
		done:   make(chan struct{}),
		err:    nil,
		mu:     sync.Mutex{},
		state:  pendingConnecting,
		txp:    nil,
	}
}

// newFailedPendingTransport returns a [*PendingTransport] that has
// already failed with the given error.
func newFailedPendingTransport(err error) *PendingTransport {
	pending := newPendingTransport(nil)
	pending.fail(err)
	return pending
}

// PendingTransport is the asynchronous, cancellable handle for one
// connection attempt. It settles exactly once to either a [Transport] or
// an error, regardless of which of caller cancellation, reactor success,
// or reactor failure arrives first: the first arrival wins and the
// others become no-ops.
//
// PendingTransport is safe for concurrent use.
type PendingTransport struct {
	// cancel propagates cancellation to the in-flight connect.
	cancel func()

	// done is closed when the pending transport settles.
	done chan struct{}

	// err is the settled error, when failed.
	err error

	// mu protects state, err, and txp.
	mu sync.Mutex

	// state is the lifecycle state.
	state pendingState

	// txp is the settled transport, when connected.
	txp Transport
}

// resolve settles with a transport. Returns false when already settled.
func (p *PendingTransport) resolve(txp Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != pendingConnecting {
		return false
	}
	p.state = pendingConnected
	p.txp = txp
	close(p.done)
	return true
}

// fail settles with an error. Returns false when already settled.
func (p *PendingTransport) fail(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != pendingConnecting {
		return false
	}
	p.state = pendingFailed
	p.err = err
	close(p.done)
	return true
}

// Cancel requests cancellation of the in-flight connect.
//
// Cancellation is cooperative: when the attempt is still in flight the
// request propagates to the reactor's connect handle and the pending
// transport eventually fails with [CancelledConnectionError]; when the
// attempt has already settled, Cancel is a no-op.
func (p *PendingTransport) Cancel() {
	p.mu.Lock()
	settled := p.state != pendingConnecting
	cancel := p.cancel
	p.mu.Unlock()
	if !settled && cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the pending transport settles.
func (p *PendingTransport) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled transport or error.
//
// Result only returns meaningful values after the channel returned by
// [PendingTransport.Done] is closed; before settlement it returns nil, nil.
func (p *PendingTransport) Result() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txp, p.err
}

// Wait blocks until the pending transport settles or the context is done.
//
// A context error causes Wait to return early with that error, but does
// not cancel the attempt itself: use [PendingTransport.Cancel] for that.
func (p *PendingTransport) Wait(ctx context.Context) (Transport, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By making [*NetReactor] depend on an abstract implementation we allow
// for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewNetReactor returns a new [*NetReactor] using the config's dialer.
//
// The cfg argument contains the common configuration.
func NewNetReactor(cfg *Config) *NetReactor {
	return &NetReactor{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        cfg.Logger,
		TimeNow:       cfg.TimeNow,
	}
}

// NetReactor is the default [Reactor] over an abstract [Dialer].
//
// Each connect runs in its own goroutine: the raw dial, then the
// pipeline establishment, both interruptible through cancellation (a
// context watcher closes the conn so in-progress handshake I/O fails
// immediately). The completion settles from that goroutine, which is
// therefore the reactor's completion-dispatch context.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with connects.
type NetReactor struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewNetReactor] from [Config.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewNetReactor] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewNetReactor] from [Config.Logger].
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewNetReactor] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Reactor = &NetReactor{}

// NewChannel implements [Reactor].
func (r *NetReactor) NewChannel(spec *PipelineSpec) (Channel, error) {
	runtimex.Assert(spec != nil)
	return &netChannel{
		closeonce: sync.Once{},
		conn:      nil,
		hooks:     nil,
		closed:    false,
		mu:        sync.Mutex{},
		options:   map[string]any{},
		spec:      spec,
	}, nil
}

// Connect implements [Reactor].
func (r *NetReactor) Connect(ctx context.Context, ch Channel, address string) CancellableCompletion {
	// NetReactor only connects channels it created.
	nc, good := ch.(*netChannel)
	runtimex.Assert(good)

	dialCtx, cancel := context.WithCancel(ctx)
	completion := &netCompletion{
		callbacks: nil,
		cancel:    cancel,
		err:       nil,
		mu:        sync.Mutex{},
		settled:   false,
	}
	go r.run(dialCtx, nc, address, completion)
	return completion
}

// run dials, establishes the pipeline, and settles the completion. It is
// the completion-dispatch context for one connect.
func (r *NetReactor) run(ctx context.Context, nc *netChannel, address string, completion *netCompletion) {
	defer completion.release()

	t0 := r.TimeNow()
	r.logConnectStart(address, t0)
	conn, err := r.dialer(nc).DialContext(ctx, "tcp", address)
	r.logConnectDone(address, t0, conn, err)
	if err != nil {
		completion.settle(r.mapCancellation(ctx, err))
		return
	}

	nc.applyConnOptions(conn)

	// Bind the context to the conn while establishing the pipeline so
	// that cancellation interrupts in-progress handshake I/O.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	established, err := nc.spec.Establish(ctx, conn)
	stop()
	if err != nil {
		// The failing stage already closed the conn.
		completion.settle(r.mapCancellation(ctx, err))
		return
	}

	nc.bind(established)
	completion.settle(nil)
}

// dialer returns the dialer for this channel, extended with
// reuse-address control when the channel asks for it and the underlying
// dialer is a [*net.Dialer].
func (r *NetReactor) dialer(nc *netChannel) Dialer {
	base, good := r.Dialer.(*net.Dialer)
	if !good || !nc.boolOption(ChannelOptionReuseAddress) {
		return r.Dialer
	}
	clone := *base
	clone.Control = controlReuseAddress
	return &clone
}

// mapCancellation maps failures caused by cancellation to
// [context.Canceled], which completions use to report cancellation.
func (r *NetReactor) mapCancellation(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return err
}

func (r *NetReactor) logConnectStart(address string, t0 time.Time) {
	r.Logger.Info(
		"connectStart",
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (r *NetReactor) logConnectDone(address string, t0 time.Time, conn net.Conn, err error) {
	r.Logger.Info(
		"connectDone",
		slog.Any("err", err),
		slog.String("errClass", r.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", "tcp"),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", r.TimeNow()),
	)
}

// netChannel is the [Channel] managed by [NetReactor].
type netChannel struct {
	// closeonce makes Close idempotent.
	closeonce sync.Once

	// conn is the established connection, nil until bind.
	conn net.Conn

	// hooks are the registered close hooks.
	hooks []func()

	// closed records whether Close ran.
	closed bool

	// mu protects conn, hooks, closed, and options.
	mu sync.Mutex

	// options are the recorded pass-through options.
	options map[string]any

	// spec is the pipeline to establish upon connection.
	spec *PipelineSpec
}

var _ Channel = &netChannel{}

// SetOption implements [Channel].
//
// Options are pass-through: unknown names are recorded and ignored.
func (nc *netChannel) SetOption(name string, value any) error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.options[name] = value
	return nil
}

// boolOption returns the named option as a bool, false when unset or
// not a bool.
func (nc *netChannel) boolOption(name string) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	value, _ := nc.options[name].(bool)
	return value
}

// applyConnOptions applies post-dial options to the raw conn.
func (nc *netChannel) applyConnOptions(conn net.Conn) {
	if tc, good := conn.(*net.TCPConn); good && nc.boolOption(ChannelOptionNoDelay) {
		tc.SetNoDelay(true)
	}
}

// bind records the established connection.
func (nc *netChannel) bind(conn net.Conn) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.conn = conn
}

// Conn implements [Channel].
func (nc *netChannel) Conn() net.Conn {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.conn
}

// Close implements [Channel].
//
// Subsequent calls return [net.ErrClosed], consistent with Go's standard
// library behavior for closed connections.
func (nc *netChannel) Close() (err error) {
	err = net.ErrClosed
	nc.closeonce.Do(func() {
		nc.mu.Lock()
		nc.closed = true
		conn := nc.conn
		hooks := nc.hooks
		nc.hooks = nil
		nc.mu.Unlock()
		err = nil
		if conn != nil {
			err = conn.Close()
		}
		for _, hook := range hooks {
			hook()
		}
	})
	return
}

// OnClose implements [Channel].
func (nc *netChannel) OnClose(fn func()) {
	nc.mu.Lock()
	if !nc.closed {
		nc.hooks = append(nc.hooks, fn)
		nc.mu.Unlock()
		return
	}
	nc.mu.Unlock()
	fn()
}

// netCompletion is the [CancellableCompletion] for one [NetReactor] connect.
type netCompletion struct {
	// callbacks are registered before settlement.
	callbacks []func(err error)

	// cancel cancels the connect context.
	cancel context.CancelFunc

	// err is the settled error.
	err error

	// mu protects the other fields.
	mu sync.Mutex

	// settled records whether settle ran.
	settled bool
}

var _ CancellableCompletion = &netCompletion{}

// OnSettle implements [CancellableCompletion].
func (c *netCompletion) OnSettle(fn func(err error)) {
	c.mu.Lock()
	if !c.settled {
		c.callbacks = append(c.callbacks, fn)
		c.mu.Unlock()
		return
	}
	err := c.err
	c.mu.Unlock()
	fn(err)
}

// Cancel implements [CancellableCompletion].
func (c *netCompletion) Cancel() {
	c.cancel()
}

// settle runs the callbacks exactly once.
func (c *netCompletion) settle(err error) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return
	}
	c.settled = true
	c.err = err
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

// release frees the connect context resources after settlement.
func (c *netCompletion) release() {
	c.cancel()
}

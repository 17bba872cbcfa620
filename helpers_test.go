// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newTestCertificate returns a self-signed certificate whose identity is
// the given DNS names, for exercising hostname verification.
func newTestCertificate(t *testing.T, dnsNames ...string) *x509.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		DNSNames:     dnsNames,
		NotAfter:     time.Now().Add(time.Hour),
		NotBefore:    time.Now().Add(-time.Hour),
		SerialNumber: big.NewInt(1),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// testStats is an in-memory [StatsReceiver] recording every update.
type testStats struct {
	counters map[string]*testCounter
	gauges   map[string]*testGauge
	mu       sync.Mutex
}

var _ StatsReceiver = &testStats{}

func newTestStats() *testStats {
	return &testStats{
		counters: map[string]*testCounter{},
		gauges:   map[string]*testGauge{},
		mu:       sync.Mutex{},
	}
}

func (ts *testStats) Counter(name string) Counter {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	counter, found := ts.counters[name]
	if !found {
		counter = &testCounter{}
		ts.counters[name] = counter
	}
	return counter
}

func (ts *testStats) Gauge(name string) Gauge {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	gauge, found := ts.gauges[name]
	if !found {
		gauge = &testGauge{}
		ts.gauges[name] = gauge
	}
	return gauge
}

// counterValue returns the current value of the named counter.
func (ts *testStats) counterValue(name string) int64 {
	return ts.Counter(name).(*testCounter).value.Load()
}

// gaugeValue returns the current value of the named gauge.
func (ts *testStats) gaugeValue(name string) float64 {
	gauge := ts.Gauge(name).(*testGauge)
	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	return gauge.value
}

type testCounter struct {
	value atomic.Int64
}

func (c *testCounter) Incr(delta int64) {
	c.value.Add(delta)
}

type testGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *testGauge) Add(delta float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value += delta
}

// recordingChannel is a [Channel] recording options, closes, and hooks.
type recordingChannel struct {
	closeCount   int
	closed       bool
	conn         net.Conn
	hooks        []func()
	mu           sync.Mutex
	options      map[string]any
	setOptionErr error
}

var _ Channel = &recordingChannel{}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{options: map[string]any{}}
}

func (ch *recordingChannel) SetOption(name string, value any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.setOptionErr != nil {
		return ch.setOptionErr
	}
	ch.options[name] = value
	return nil
}

func (ch *recordingChannel) Conn() net.Conn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn
}

func (ch *recordingChannel) Close() error {
	ch.mu.Lock()
	ch.closeCount++
	if ch.closed {
		ch.mu.Unlock()
		return net.ErrClosed
	}
	ch.closed = true
	hooks := ch.hooks
	ch.hooks = nil
	ch.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (ch *recordingChannel) OnClose(fn func()) {
	ch.mu.Lock()
	if !ch.closed {
		ch.hooks = append(ch.hooks, fn)
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()
	fn()
}

// closes returns how many times Close was invoked.
func (ch *recordingChannel) closes() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closeCount
}

// funcReactor is a [Reactor] with configurable function fields.
type funcReactor struct {
	NewChannelFunc func(spec *PipelineSpec) (Channel, error)
	ConnectFunc    func(ctx context.Context, ch Channel, address string) CancellableCompletion
}

var _ Reactor = &funcReactor{}

func (r *funcReactor) NewChannel(spec *PipelineSpec) (Channel, error) {
	return r.NewChannelFunc(spec)
}

func (r *funcReactor) Connect(ctx context.Context, ch Channel, address string) CancellableCompletion {
	return r.ConnectFunc(ctx, ch, address)
}

// manualCompletion is a [CancellableCompletion] the test settles by hand.
type manualCompletion struct {
	callbacks   []func(err error)
	cancelCount int
	err         error
	mu          sync.Mutex
	settled     bool
}

var _ CancellableCompletion = &manualCompletion{}

func (c *manualCompletion) OnSettle(fn func(err error)) {
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

func (c *manualCompletion) Cancel() {
	c.mu.Lock()
	c.cancelCount++
	c.mu.Unlock()
}

// settle runs the callbacks exactly once with the given error.
func (c *manualCompletion) settle(err error) {
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

// cancels returns how many times Cancel was invoked.
func (c *manualCompletion) cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCount
}

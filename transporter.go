// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"sync"
)

// New returns a new [*Transporter] plus a release function.
//
// Constructing a transporter registers one live-connection gauge with
// [Config.Stats]; the release function detaches that gauge so a
// transporter's statistics have an explicit scope rather than an
// implicit construction-time one. Call release when discarding the
// transporter; connects already in flight keep working, their gauge
// updates are simply discarded.
//
// Known limitation: constructing multiple transporters from the same
// configuration creates independent, duplicate gauges; callers wanting
// one gauge share one transporter.
func New(cfg *Config) (*Transporter, func()) {
	txp := &Transporter{
		cfg:       cfg,
		connector: NewConnector(cfg),
		gauge:     cfg.Stats.Gauge(statLiveConnections),
		mu:        sync.Mutex{},
	}
	txp.connector.OnEstablished = txp.trackChannel
	return txp, txp.release
}

// Transporter is the public entry point: immutable configuration plus
// the composition of the pipeline builder and the [Connector].
//
// Every call to [Transporter.Connect] builds a fresh [PipelineSpec] and
// starts one independent connection attempt; the live-connection gauge
// is the only state shared across concurrent attempts.
//
// Transporter is safe for concurrent use.
type Transporter struct {
	// cfg is the configuration, shared read-only.
	cfg *Config

	// connector drives connection attempts.
	connector *Connector

	// gauge is the live-connection gauge; nil after release.
	gauge Gauge

	// mu protects gauge.
	mu sync.Mutex
}

// Connect starts one connection attempt towards address.
//
// The stats argument is the per-attempt stats receiver for request and
// channel counters; passing nil uses [Config.Stats]. Connect never
// blocks: the only wait a consumer observes is the returned
// [PendingTransport] settling.
func (t *Transporter) Connect(ctx context.Context, address string, stats StatsReceiver) *PendingTransport {
	if stats == nil {
		stats = t.cfg.Stats
	}
	spec := NewPipelineSpec(t.cfg, address, stats)
	return t.connector.Connect(ctx, address, spec, stats)
}

// trackChannel increments the live-connection gauge and arranges for the
// decrement when the channel closes. It is the shared instrumentation
// hook reused across every attempt of this transporter.
func (t *Transporter) trackChannel(ch Channel) {
	t.addToGauge(1)
	ch.OnClose(func() {
		t.addToGauge(-1)
	})
}

// addToGauge updates the gauge unless released.
func (t *Transporter) addToGauge(delta float64) {
	t.mu.Lock()
	gauge := t.gauge
	t.mu.Unlock()
	if gauge != nil {
		gauge.Add(delta)
	}
}

// release detaches the live-connection gauge.
func (t *Transporter) release() {
	t.mu.Lock()
	t.gauge = nil
	t.mu.Unlock()
}

// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// NewPromStats returns a [*PromStats] registering statistics with the
// given [prometheus.Registerer] under the given namespace.
//
// Passing [prometheus.DefaultRegisterer] uses the process-wide registry.
func NewPromStats(namespace string, registerer prometheus.Registerer) *PromStats {
	return &PromStats{
		counters:   map[string]prometheus.Counter{},
		gauges:     map[string]prometheus.Gauge{},
		mu:         sync.Mutex{},
		namespace:  namespace,
		registerer: registerer,
	}
}

// PromStats is a [StatsReceiver] backed by Prometheus metrics.
//
// Statistics are created lazily on first use and cached, so requesting
// the same name twice updates the same underlying metric. PromStats is
// safe for concurrent use.
type PromStats struct {
	// counters caches counters by name.
	counters map[string]prometheus.Counter

	// gauges caches gauges by name.
	gauges map[string]prometheus.Gauge

	// mu protects the caches.
	mu sync.Mutex

	// namespace is the prometheus namespace for all statistics.
	namespace string

	// registerer is where statistics are registered.
	registerer prometheus.Registerer
}

var _ StatsReceiver = &PromStats{}

// Counter implements [StatsReceiver].
func (ps *PromStats) Counter(name string) Counter {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	counter, found := ps.counters[name]
	if !found {
		counter = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ps.namespace,
			Name:      name,
		})
		counter = ps.registerCounter(counter)
		ps.counters[name] = counter
	}
	return &promCounter{counter}
}

// Gauge implements [StatsReceiver].
func (ps *PromStats) Gauge(name string) Gauge {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	gauge, found := ps.gauges[name]
	if !found {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ps.namespace,
			Name:      name,
		})
		gauge = ps.registerGauge(gauge)
		ps.gauges[name] = gauge
	}
	return &promGauge{gauge}
}

// Unregister removes every statistic created by this receiver from the
// underlying registerer. Cached statistics keep accepting updates but are
// no longer exported.
func (ps *PromStats) Unregister() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, counter := range ps.counters {
		ps.registerer.Unregister(counter)
	}
	for _, gauge := range ps.gauges {
		ps.registerer.Unregister(gauge)
	}
}

// registerCounter registers the counter, reusing the previously
// registered collector when one exists.
func (ps *PromStats) registerCounter(counter prometheus.Counter) prometheus.Counter {
	err := ps.registerer.Register(counter)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector.(prometheus.Counter)
	}
	return counter
}

// registerGauge registers the gauge, reusing the previously registered
// collector when one exists.
func (ps *PromStats) registerGauge(gauge prometheus.Gauge) prometheus.Gauge {
	err := ps.registerer.Register(gauge)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector.(prometheus.Gauge)
	}
	return gauge
}

// promCounter adapts [prometheus.Counter] to [Counter].
type promCounter struct {
	counter prometheus.Counter
}

// Incr implements [Counter].
func (c *promCounter) Incr(delta int64) {
	c.counter.Add(float64(delta))
}

// promGauge adapts [prometheus.Gauge] to [Gauge].
type promGauge struct {
	gauge prometheus.Gauge
}

// Add implements [Gauge].
func (g *promGauge) Add(delta float64) {
	g.gauge.Add(delta)
}

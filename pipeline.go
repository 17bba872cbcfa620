// SPDX-License-Identifier: GPL-3.0-or-later

package transporter

import (
	"context"
	"net"
	"slices"
)

// NewPipelineSpec assembles the ordered handler pipeline for one
// connection attempt. It is a pure function of the configuration plus
// the per-attempt destination and stats receiver, and it never fails:
// all fallible work happens when the stages are established.
//
// Stages are ordered outermost (wire-facing) to innermost
// (application-facing):
//
//  1. debug snooping, when [Config.Snooper] is set
//  2. SOCKS5 proxy traversal, when [Config.ProxyAddr] is set and the
//     destination is an ip:port endpoint (otherwise skipped)
//  3. TLS handshake plus optional hostname verification, when
//     [Config.TLS] is set
//  4. idle detection, when either idle timeout is finite
//  5. per-channel statistics counters
//  6. the base codec stages from [Config.BasePipeline], appended
//     verbatim and never inspected
//
// The returned spec is never mutated after creation; build a fresh one
// per attempt.
func NewPipelineSpec(cfg *Config, destination string, stats StatsReceiver) *PipelineSpec {
	var stages []Stage
	if cfg.Snooper != nil {
		stages = append(stages, NewSnoopStage(cfg, cfg.Snooper))
	}
	if proxyApplies(cfg.ProxyAddr, destination) {
		stages = append(stages, NewProxyStage(cfg, destination))
	}
	if cfg.TLS != nil {
		stages = append(stages, NewTLSStage(cfg, cfg.TLS))
	}
	if cfg.ReadIdleTimeout > 0 || cfg.WriteIdleTimeout > 0 {
		stages = append(stages, NewIdleStage(cfg, stats))
	}
	stages = append(stages, NewStatsStage(stats))
	if cfg.BasePipeline != nil {
		stages = append(stages, cfg.BasePipeline(destination, stats)...)
	}
	return &PipelineSpec{stages}
}

// PipelineSpec is the immutable ordered list of stages installed on one
// channel, outermost stage first. Construct with [NewPipelineSpec].
type PipelineSpec struct {
	// stages are the pipeline stages, outermost first.
	stages []Stage
}

// Stages returns a copy of the ordered stage list.
func (spec *PipelineSpec) Stages() []Stage {
	return slices.Clone(spec.stages)
}

// Establish runs the stages in order over a freshly connected conn and
// returns the fully established connection.
//
// Reactors call Establish from their completion-dispatch context after
// the raw connect succeeds. On error the failing stage has already
// closed the connection per the [Stage] cleanup contract, so the caller
// must not close it again.
func (spec *PipelineSpec) Establish(ctx context.Context, conn net.Conn) (net.Conn, error) {
	for _, stage := range spec.stages {
		var err error
		conn, err = stage.Call(ctx, conn)
		if err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the engine.
//
// A nil *Metrics is valid and records nothing, so the engine never has
// to guard call sites.
//
// Thread Safety: Safe for concurrent use.
type Metrics struct {
	stepsTotal       prometheus.Counter
	resamplesTotal   prometheus.Counter
	timeoutsTotal    prometheus.Counter
	deathsTotal      prometheus.Counter
	proposerFailures prometheus.Counter
	batchFallbacks   prometheus.Counter
	essGauge         prometheus.Gauge
	stepDuration     prometheus.Histogram
}

// NewMetrics creates and registers the engine's instruments.
//
// Inputs:
//   - reg: Registerer to attach the instruments to. Nil selects the
//     default registry.
//
// Outputs:
//   - *Metrics: Registered instrument set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		stepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_steps_total",
			Help: "Completed supersteps",
		}),
		resamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_resamples_total",
			Help: "Resampling events",
		}),
		timeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_timeouts_total",
			Help: "Runs that hit the wall-clock budget",
		}),
		deathsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_particle_deaths_total",
			Help: "Particles eliminated by hard constraints or failures",
		}),
		proposerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_proposer_failures_total",
			Help: "Proposer calls that failed after the retry",
		}),
		batchFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "smc_batch_fallbacks_total",
			Help: "Batched steps that fell back to task-parallel propagation",
		}),
		essGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smc_effective_sample_size",
			Help: "Effective sample size after the most recent step",
		}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smc_step_duration_seconds",
			Help:    "Wall-clock duration per superstep",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
		}),
	}
}

func (m *Metrics) incSteps() {
	if m != nil {
		m.stepsTotal.Inc()
	}
}

func (m *Metrics) incResamples() {
	if m != nil {
		m.resamplesTotal.Inc()
	}
}

func (m *Metrics) incTimeouts() {
	if m != nil {
		m.timeoutsTotal.Inc()
	}
}

func (m *Metrics) incDeaths() {
	if m != nil {
		m.deathsTotal.Inc()
	}
}

func (m *Metrics) incProposerFailures() {
	if m != nil {
		m.proposerFailures.Inc()
	}
}

func (m *Metrics) incBatchFallbacks() {
	if m != nil {
		m.batchFallbacks.Inc()
	}
}

func (m *Metrics) setESS(ess float64) {
	if m != nil {
		m.essGauge.Set(ess)
	}
}

func (m *Metrics) observeStep(d time.Duration) {
	if m != nil {
		m.stepDuration.Observe(d.Seconds())
	}
}

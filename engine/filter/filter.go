// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package filter implements a general-purpose particle filter for state
// estimation: predict with a transition model injecting process noise,
// then update against a new observation with a likelihood model.
//
// The filter shares the resampling machinery of the guided-generation
// engine but carries numeric state vectors rather than token sequences.
// Termination is caller-driven; the filter exposes a single Step and the
// caller decides how many observations to feed it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

var (
	// ErrCollapsed indicates the update step drove every particle's
	// weight to -Inf, so the filter cannot continue.
	ErrCollapsed = errors.New("filter population collapsed: all likelihoods are zero")
)

// Transition advances one particle state by one time step, injecting
// process noise from rng. It must not retain or mutate the input slice.
type Transition func(state []float64, rng *rand.Rand) []float64

// Likelihood returns the observation probability (not log) of seeing
// observation given state. A return of 0 marks the state as inconsistent
// with the observation.
type Likelihood func(state []float64, observation []float64) float64

// Config configures the particle filter.
type Config struct {
	// ParticleCount is the population size N. Required.
	ParticleCount int

	// ResamplingThreshold is the ESS/N fraction below which the filter
	// resamples. Default: 0.5.
	ResamplingThreshold float64

	// Seed seeds the filter's random source. Zero means a time-based seed.
	Seed int64
}

// state wraps a numeric vector with a cumulative log-weight. The filter
// keeps its own light-weight particle type: token-sequence particles from
// the engine would force pointless float<->string conversions here.
type state struct {
	vector    []float64
	logWeight float64
}

// Filter runs the predict/update loop over a fixed-size population.
//
// Thread Safety: NOT safe for concurrent use; a Filter owns its
// population and random source and expects a single caller goroutine.
type Filter struct {
	transition Transition
	likelihood Likelihood
	config     Config

	particles []state
	rng       *rand.Rand
	logger    *slog.Logger

	steps     int
	resamples int
}

// Option configures the Filter.
type Option func(*Filter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a particle filter seeded with the given initial states.
//
// Inputs:
//   - transition: System model applied during predict.
//   - likelihood: Observation model applied during update.
//   - initial: Seeding function producing one initial state vector per
//     particle (called N times).
//   - config: Filter configuration.
//
// Outputs:
//   - *Filter: Ready to use filter.
//   - error: Non-nil on invalid configuration.
func New(transition Transition, likelihood Likelihood, initial func(rng *rand.Rand) []float64, config Config, opts ...Option) (*Filter, error) {
	if transition == nil || likelihood == nil || initial == nil {
		return nil, fmt.Errorf("transition, likelihood, and initial are required")
	}
	if config.ParticleCount <= 0 {
		return nil, fmt.Errorf("particle count must be positive, got %d", config.ParticleCount)
	}
	if config.ResamplingThreshold == 0 {
		config.ResamplingThreshold = 0.5
	}
	if config.ResamplingThreshold < 0 || config.ResamplingThreshold > 1 {
		return nil, fmt.Errorf("resampling threshold must be in [0, 1], got %v", config.ResamplingThreshold)
	}

	seed := config.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	f := &Filter{
		transition: transition,
		likelihood: likelihood,
		config:     config,
		rng:        rand.New(rand.NewSource(seed)),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.particles = make([]state, config.ParticleCount)
	lw := -math.Log(float64(config.ParticleCount))
	for i := range f.particles {
		f.particles[i] = state{vector: initial(f.rng), logWeight: lw}
	}
	return f, nil
}

// Step performs one predict/update cycle against a new observation.
//
// Predict applies the transition model to every particle; update
// reweights by the observation likelihood in log space. After
// normalization, the filter resamples (systematic) when ESS/N falls below
// the configured threshold and resets all weights to 1/N.
//
// Outputs:
//   - error: ErrCollapsed when no particle explains the observation, or
//     the context's error on cancellation.
func (f *Filter) Step(ctx context.Context, observation []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Predict.
	for i := range f.particles {
		f.particles[i].vector = f.transition(f.particles[i].vector, f.rng)
	}

	// Update.
	for i := range f.particles {
		lik := f.likelihood(f.particles[i].vector, observation)
		if math.IsNaN(lik) || lik <= 0 {
			f.particles[i].logWeight = math.Inf(-1)
			continue
		}
		f.particles[i].logWeight += math.Log(lik)
	}

	weights, err := f.normalizedWeights()
	if err != nil {
		return err
	}

	ess := essOf(weights)
	f.steps++

	if ess/float64(len(f.particles)) < f.config.ResamplingThreshold {
		f.resampleSystematic(weights)
		f.resamples++
		f.logger.Debug("filter resampled",
			slog.Int("step", f.steps),
			slog.Float64("ess", ess))
	}
	return nil
}

// Estimate returns the weighted mean state vector.
func (f *Filter) Estimate() ([]float64, error) {
	weights, err := f.normalizedWeights()
	if err != nil {
		return nil, err
	}
	dim := len(f.particles[0].vector)
	mean := make([]float64, dim)
	for i, p := range f.particles {
		for d := 0; d < dim; d++ {
			mean[d] += weights[i] * p.vector[d]
		}
	}
	return mean, nil
}

// ESS returns the current effective sample size.
func (f *Filter) ESS() (float64, error) {
	weights, err := f.normalizedWeights()
	if err != nil {
		return 0, err
	}
	return essOf(weights), nil
}

// Steps returns the number of completed predict/update cycles.
func (f *Filter) Steps() int { return f.steps }

// Resamples returns the number of resampling events so far.
func (f *Filter) Resamples() int { return f.resamples }

// Size returns the invariant population size.
func (f *Filter) Size() int { return len(f.particles) }

func (f *Filter) normalizedWeights() ([]float64, error) {
	maxLW := math.Inf(-1)
	for i := range f.particles {
		if lw := f.particles[i].logWeight; lw > maxLW {
			maxLW = lw
		}
	}
	if math.IsInf(maxLW, -1) {
		return nil, ErrCollapsed
	}
	weights := make([]float64, len(f.particles))
	var sum float64
	for i := range f.particles {
		if math.IsInf(f.particles[i].logWeight, -1) {
			continue
		}
		w := math.Exp(f.particles[i].logWeight - maxLW)
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

// resampleSystematic replaces the population by systematic draws against
// the cumulative weight table and resets weights to 1/N.
func (f *Filter) resampleSystematic(weights []float64) {
	n := len(f.particles)
	cum := make([]float64, n)
	var total float64
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	cum[n-1] = 1

	step := 1 / float64(n)
	offset := f.rng.Float64() * step

	next := make([]state, n)
	lw := -math.Log(float64(n))
	idx := 0
	for i := 0; i < n; i++ {
		u := offset + float64(i)*step
		for idx < n-1 && cum[idx] < u {
			idx++
		}
		next[i] = state{
			vector:    append([]float64(nil), f.particles[idx].vector...),
			logWeight: lw,
		}
	}
	f.particles = next
}

func essOf(weights []float64) float64 {
	var sumSq float64
	for _, w := range weights {
		sumSq += w * w
	}
	return 1 / sumSq
}

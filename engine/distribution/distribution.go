// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package distribution provides the stateless probability distributions
// used as proposals by the importance sampler and MCMC chains, and as
// noise sources by the particle filter.
//
// Contract: Sample returns a value inside the distribution's support;
// LogPDF is finite for any value in support and math.Inf(-1) outside.
// Implementations hold no mutable state, so a single instance is safe to
// share across goroutines; randomness comes from the caller's *rand.Rand.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Errors returned by distribution constructors.
var (
	// ErrInvalidParameter indicates a constructor argument outside the
	// valid range (non-positive scale, empty support, negative weight).
	ErrInvalidParameter = errors.New("invalid distribution parameter")
)

// Distribution is the capability set shared by all variants.
type Distribution interface {
	// Sample draws one value using the caller-supplied random source.
	Sample(rng *rand.Rand) float64

	// LogPDF returns the log probability density (or mass) at x.
	// Returns -Inf for values outside the support.
	LogPDF(x float64) float64
}

// -----------------------------------------------------------------------------
// Gaussian
// -----------------------------------------------------------------------------

// Gaussian is a normal distribution with the given mean and standard
// deviation.
type Gaussian struct {
	Mean   float64
	StdDev float64
}

// NewGaussian creates a Gaussian distribution.
//
// Inputs:
//   - mean: Center of the distribution.
//   - stdDev: Standard deviation. Must be positive.
//
// Outputs:
//   - *Gaussian: The distribution.
//   - error: ErrInvalidParameter if stdDev <= 0.
func NewGaussian(mean, stdDev float64) (*Gaussian, error) {
	if stdDev <= 0 || math.IsNaN(stdDev) || math.IsInf(stdDev, 0) {
		return nil, fmt.Errorf("%w: stdDev must be positive, got %v", ErrInvalidParameter, stdDev)
	}
	return &Gaussian{Mean: mean, StdDev: stdDev}, nil
}

// Sample draws from N(Mean, StdDev^2).
func (g *Gaussian) Sample(rng *rand.Rand) float64 {
	return g.Mean + g.StdDev*rng.NormFloat64()
}

// LogPDF returns the log density at x. Finite everywhere.
func (g *Gaussian) LogPDF(x float64) float64 {
	z := (x - g.Mean) / g.StdDev
	return -0.5*z*z - math.Log(g.StdDev) - 0.5*math.Log(2*math.Pi)
}

// -----------------------------------------------------------------------------
// Uniform
// -----------------------------------------------------------------------------

// Uniform is a continuous uniform distribution on [Min, Max).
type Uniform struct {
	Min float64
	Max float64
}

// NewUniform creates a Uniform distribution on [min, max).
func NewUniform(min, max float64) (*Uniform, error) {
	if !(min < max) {
		return nil, fmt.Errorf("%w: require min < max, got [%v, %v)", ErrInvalidParameter, min, max)
	}
	return &Uniform{Min: min, Max: max}, nil
}

// Sample draws uniformly from [Min, Max).
func (u *Uniform) Sample(rng *rand.Rand) float64 {
	return u.Min + rng.Float64()*(u.Max-u.Min)
}

// LogPDF returns -log(Max-Min) inside the support, -Inf outside.
func (u *Uniform) LogPDF(x float64) float64 {
	if x < u.Min || x >= u.Max {
		return math.Inf(-1)
	}
	return -math.Log(u.Max - u.Min)
}

// -----------------------------------------------------------------------------
// Discrete
// -----------------------------------------------------------------------------

// Discrete is a finite distribution over explicit values.
//
// Sampling walks a cumulative weight table built at construction time, so
// draws are deterministic given the rng stream and the insertion order of
// the values. Equal cumulative weights resolve to the earlier value.
type Discrete struct {
	values  []float64
	weights []float64 // Normalized.
	cum     []float64
}

// NewDiscrete creates a discrete distribution over values with the given
// unnormalized weights.
//
// Inputs:
//   - values: Support points. Must be non-empty and match len(weights).
//   - weights: Non-negative weights with a positive sum.
//
// Outputs:
//   - *Discrete: The distribution with normalized weights.
//   - error: ErrInvalidParameter on empty support, length mismatch,
//     negative weight, or zero total weight.
func NewDiscrete(values, weights []float64) (*Discrete, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty support", ErrInvalidParameter)
	}
	if len(values) != len(weights) {
		return nil, fmt.Errorf("%w: %d values but %d weights", ErrInvalidParameter, len(values), len(weights))
	}
	var total float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: negative or NaN weight %v", ErrInvalidParameter, w)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidParameter)
	}

	d := &Discrete{
		values:  append([]float64(nil), values...),
		weights: make([]float64, len(weights)),
		cum:     make([]float64, len(weights)),
	}
	var cum float64
	for i, w := range weights {
		d.weights[i] = w / total
		cum += d.weights[i]
		d.cum[i] = cum
	}
	d.cum[len(d.cum)-1] = 1 // Pin the last entry against rounding drift.
	return d, nil
}

// Sample draws one support point proportional to weight.
func (d *Discrete) Sample(rng *rand.Rand) float64 {
	u := rng.Float64()
	idx := sort.SearchFloat64s(d.cum, u)
	if idx >= len(d.values) {
		idx = len(d.values) - 1
	}
	// u == 0 can land on a leading zero-weight entry; skip forward to the
	// first support point with positive mass.
	for idx < len(d.values)-1 && d.weights[idx] == 0 {
		idx++
	}
	return d.values[idx]
}

// LogPDF returns the log mass of x, or -Inf when x is not a support
// point with positive weight.
func (d *Discrete) LogPDF(x float64) float64 {
	for i, v := range d.values {
		if v == x && d.weights[i] > 0 {
			return math.Log(d.weights[i])
		}
	}
	return math.Inf(-1)
}

// Weights returns the normalized weights in insertion order.
func (d *Discrete) Weights() []float64 {
	return append([]float64(nil), d.weights...)
}

// Values returns the support points in insertion order.
func (d *Discrete) Values() []float64 {
	return append([]float64(nil), d.values...)
}

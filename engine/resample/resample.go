// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resample converts a weighted particle population into an
// unweighted one of the same size.
//
// Three strategies are provided. Systematic is the default: it uses a
// single uniform offset and N evenly spaced draws against the cumulative
// weight table, giving lower variance than independent multinomial draws.
// Stratified draws once per equal-width stratum.
//
// All strategies share the same tie-break: equal cumulative weights
// resolve to the particle with the lower insertion index. Resampled
// particles receive fresh IDs, record their ancestor via ParentID, and
// every weight is reset to exactly log(1/N).
//
// When every particle carries a -Inf weight the strategies refuse to
// resample and surface ErrPopulationCollapsed; silently resetting to a
// uniform population would hide an unsatisfiable constraint set.
package resample

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSMC/engine/particle"
)

var (
	// ErrPopulationCollapsed indicates every particle violated a hard
	// constraint; resampling cannot produce a meaningful population.
	ErrPopulationCollapsed = errors.New("population collapsed: all particle weights are -Inf")
)

// Strategy converts a weighted population into an unweighted one.
//
// Implementations draw all randomness from the supplied rng so that runs
// with a fixed seed are reproducible.
type Strategy interface {
	// Name identifies the strategy in configuration and logs.
	Name() string

	// Resample returns a new population of the same size with uniform
	// weights. The input population is not modified.
	Resample(pop *particle.Population, rng *rand.Rand) (*particle.Population, error)
}

// FromName returns the strategy registered under the given configuration
// name: "multinomial", "systematic", or "stratified". An empty name maps
// to systematic, the default.
func FromName(name string) (Strategy, error) {
	switch name {
	case "", "systematic":
		return Systematic{}, nil
	case "multinomial":
		return Multinomial{}, nil
	case "stratified":
		return Stratified{}, nil
	default:
		return nil, fmt.Errorf("unknown resampling strategy %q", name)
	}
}

// cumulativeWeights builds the cumulative normalized-weight table, or
// reports population collapse.
func cumulativeWeights(pop *particle.Population) ([]float64, error) {
	weights, err := pop.NormalizedWeights()
	if err != nil {
		if errors.Is(err, particle.ErrAllDead) {
			return nil, ErrPopulationCollapsed
		}
		return nil, err
	}
	cum := make([]float64, len(weights))
	var total float64
	for i, w := range weights {
		total += w
		cum[i] = total
	}
	cum[len(cum)-1] = 1 // Pin against rounding drift.
	return cum, nil
}

// pick returns the index whose cumulative-weight interval contains u.
// Equal cumulative boundaries resolve to the lower insertion index with
// positive mass; zero-width intervals (dead particles) are never chosen.
func pick(cum []float64, u float64) int {
	idx := sort.SearchFloat64s(cum, u)
	if idx >= len(cum) {
		idx = len(cum) - 1
	}
	for idx < len(cum)-1 {
		lo := 0.0
		if idx > 0 {
			lo = cum[idx-1]
		}
		if cum[idx] > lo {
			break
		}
		idx++
	}
	return idx
}

// rebuild materializes the selected ancestors into a new population with
// fresh IDs, ancestry links, and uniform weights.
func rebuild(pop *particle.Population, indices []int) (*particle.Population, error) {
	particles := make([]*particle.Particle, len(indices))
	for i, idx := range indices {
		src := pop.Get(idx)
		clone := src.Clone()
		clone.ParentID = src.ID
		clone.ID = uuid.NewString()
		particles[i] = clone
	}
	next, err := particle.FromParticles(particles)
	if err != nil {
		return nil, err
	}
	next.ResetWeights()
	return next, nil
}

// -----------------------------------------------------------------------------
// Multinomial
// -----------------------------------------------------------------------------

// Multinomial draws N indices independently with replacement,
// probability proportional to normalized weight.
type Multinomial struct{}

// Name returns "multinomial".
func (Multinomial) Name() string { return "multinomial" }

// Resample implements Strategy.
func (Multinomial) Resample(pop *particle.Population, rng *rand.Rand) (*particle.Population, error) {
	cum, err := cumulativeWeights(pop)
	if err != nil {
		return nil, err
	}
	n := pop.Size()
	indices := make([]int, n)
	for i := 0; i < n; i++ {
		indices[i] = pick(cum, rng.Float64())
	}
	return rebuild(pop, indices)
}

// -----------------------------------------------------------------------------
// Systematic
// -----------------------------------------------------------------------------

// Systematic uses a single uniform offset in [0, 1/N) followed by N
// evenly spaced draws. Lower variance than multinomial; the default.
type Systematic struct{}

// Name returns "systematic".
func (Systematic) Name() string { return "systematic" }

// Resample implements Strategy.
func (Systematic) Resample(pop *particle.Population, rng *rand.Rand) (*particle.Population, error) {
	cum, err := cumulativeWeights(pop)
	if err != nil {
		return nil, err
	}
	n := pop.Size()
	step := 1 / float64(n)
	offset := rng.Float64() * step

	indices := make([]int, n)
	for i := 0; i < n; i++ {
		indices[i] = pick(cum, offset+float64(i)*step)
	}
	return rebuild(pop, indices)
}

// -----------------------------------------------------------------------------
// Stratified
// -----------------------------------------------------------------------------

// Stratified draws one uniform per equal-width stratum of the cumulative
// distribution.
type Stratified struct{}

// Name returns "stratified".
func (Stratified) Name() string { return "stratified" }

// Resample implements Strategy.
func (Stratified) Resample(pop *particle.Population, rng *rand.Rand) (*particle.Population, error) {
	cum, err := cumulativeWeights(pop)
	if err != nil {
		return nil, err
	}
	n := pop.Size()
	step := 1 / float64(n)

	indices := make([]int, n)
	for i := 0; i < n; i++ {
		u := (float64(i) + rng.Float64()) * step
		indices[i] = pick(cum, u)
	}
	return rebuild(pop, indices)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package particle provides the weighted-hypothesis primitives shared by
// the SMC engine, the general particle filter, and the importance sampler.
//
// A Particle is one candidate partial sequence with a cumulative log-space
// weight. A Population is a fixed-size ordered collection of particles with
// the derived statistics (normalized weights, effective sample size) that
// the resampling machinery needs.
//
// All weight arithmetic stays in log space until normalization. The
// normalization uses max-subtraction before exponentiating so that long
// runs with many compounded potentials do not underflow.
//
// Thread Safety: a Particle is owned by exactly one goroutine at a time.
// Workers receive clones for the duration of one step and results are
// merged back by index; Population itself is not synchronized.
package particle

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
)

// Particle is one weighted hypothesis in the population.
//
// State is an append-only token sequence. LogWeight is the cumulative
// log-space weight; math.Inf(-1) marks a particle that violated a hard
// constraint and is eligible for elimination at the next resampling.
type Particle struct {
	// ID uniquely identifies this particle within a run.
	ID string

	// State is the token sequence hypothesized so far. Append-only.
	State []string

	// LogWeight is the cumulative log-space weight.
	LogWeight float64

	// ParentID references the particle this one was resampled from.
	// Empty for particles created at initialization.
	ParentID string

	// Metadata carries optional per-particle diagnostics.
	Metadata map[string]string
}

// New creates a particle with a fresh ID, the given seed state, and
// log-weight zero (unit weight).
func New(state []string) *Particle {
	return &Particle{
		ID:        uuid.NewString(),
		State:     append([]string(nil), state...),
		LogWeight: 0,
	}
}

// Clone returns a deep copy of the particle.
//
// Workers clone the particles they own for a step so that the canonical
// population is never mutated concurrently.
func (p *Particle) Clone() *Particle {
	c := &Particle{
		ID:        p.ID,
		State:     append([]string(nil), p.State...),
		LogWeight: p.LogWeight,
		ParentID:  p.ParentID,
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Append extends the particle state with new tokens.
func (p *Particle) Append(tokens ...string) {
	p.State = append(p.State, tokens...)
}

// AddLogWeight accumulates an incremental log-weight.
//
// NaN increments are clipped to -Inf so that a misbehaving scorer kills
// the particle instead of poisoning the population statistics.
func (p *Particle) AddLogWeight(delta float64) {
	if math.IsNaN(delta) {
		delta = math.Inf(-1)
	}
	p.LogWeight += delta
	if math.IsNaN(p.LogWeight) {
		p.LogWeight = math.Inf(-1)
	}
}

// Dead reports whether the particle's weight is -Inf.
func (p *Particle) Dead() bool {
	return math.IsInf(p.LogWeight, -1)
}

// String returns a compact representation for logs.
func (p *Particle) String() string {
	return fmt.Sprintf("Particle{id=%s, len=%d, log_weight=%.4f}", p.ID, len(p.State), p.LogWeight)
}

// Population is a fixed-size ordered collection of particles.
//
// The size is invariant for the whole run: resampling replaces the members
// but never changes N. Particle order is preserved across steps for
// reproducibility and diagnostics.
type Population struct {
	particles []*Particle
	logger    *slog.Logger
}

// NewPopulation seeds a population of n particles, all starting from the
// same initial state with uniform (unit) weights.
func NewPopulation(n int, initial []string) (*Population, error) {
	if n <= 0 {
		return nil, fmt.Errorf("population size must be positive, got %d", n)
	}
	particles := make([]*Particle, n)
	for i := range particles {
		particles[i] = New(initial)
	}
	return &Population{particles: particles, logger: slog.Default()}, nil
}

// FromParticles wraps an existing particle slice as a population.
//
// The slice is owned by the population afterwards.
func FromParticles(particles []*Particle) (*Population, error) {
	if len(particles) == 0 {
		return nil, fmt.Errorf("population requires at least one particle")
	}
	return &Population{particles: particles, logger: slog.Default()}, nil
}

// SetLogger sets the logger used for numeric diagnostics.
func (pop *Population) SetLogger(logger *slog.Logger) {
	if logger != nil {
		pop.logger = logger
	}
}

// Size returns N, the invariant population size.
func (pop *Population) Size() int {
	return len(pop.particles)
}

// Get returns the particle at index i.
func (pop *Population) Get(i int) *Particle {
	return pop.particles[i]
}

// Set replaces the particle at index i. Used by the step merge after the
// worker join barrier.
func (pop *Population) Set(i int, p *Particle) {
	pop.particles[i] = p
}

// Particles returns the underlying slice in insertion order.
//
// Callers must not resize it; the population size is invariant.
func (pop *Population) Particles() []*Particle {
	return pop.particles
}

// NormalizedWeights converts the log-space weights to a probability
// simplex.
//
// The maximum finite log-weight is subtracted before exponentiating for
// numeric stability. Dead particles (-Inf) receive exactly zero weight.
// NaN log-weights are clipped to -Inf with a diagnostic log entry; NaN
// never reaches the caller.
//
// Outputs:
//   - []float64: Weights summing to 1, aligned with particle order.
//   - error: Non-nil when every particle is dead (no finite weight).
func (pop *Population) NormalizedWeights() ([]float64, error) {
	maxLW := math.Inf(-1)
	for _, p := range pop.particles {
		if math.IsNaN(p.LogWeight) {
			pop.logger.Warn("clipping NaN log-weight to -Inf", "particle_id", p.ID)
			p.LogWeight = math.Inf(-1)
		}
		if p.LogWeight > maxLW {
			maxLW = p.LogWeight
		}
	}
	if math.IsInf(maxLW, -1) {
		return nil, ErrAllDead
	}

	weights := make([]float64, len(pop.particles))
	var sum float64
	for i, p := range pop.particles {
		if p.Dead() {
			continue
		}
		w := math.Exp(p.LogWeight - maxLW)
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

// ESS returns the effective sample size, 1/sum(w_i^2) over normalized
// weights. It measures population diversity: N for a uniform population,
// approaching 1 as the weight mass concentrates on a single particle.
func (pop *Population) ESS() (float64, error) {
	weights, err := pop.NormalizedWeights()
	if err != nil {
		return 0, err
	}
	var sumSq float64
	for _, w := range weights {
		sumSq += w * w
	}
	return 1 / sumSq, nil
}

// Best returns the particle with the highest normalized weight. Ties are
// broken by insertion order (the earlier particle wins).
func (pop *Population) Best() (*Particle, error) {
	weights, err := pop.NormalizedWeights()
	if err != nil {
		return nil, err
	}
	bestIdx := 0
	for i, w := range weights {
		if w > weights[bestIdx] {
			bestIdx = i
		}
	}
	return pop.particles[bestIdx], nil
}

// WeightedDraw samples one particle proportional to the normalized
// weights using the provided uniform draw in [0,1).
func (pop *Population) WeightedDraw(u float64) (*Particle, error) {
	weights, err := pop.NormalizedWeights()
	if err != nil {
		return nil, err
	}
	var cum float64
	for i, w := range weights {
		cum += w
		if u < cum {
			return pop.particles[i], nil
		}
	}
	// Guard against cum falling short of 1 by a rounding ulp.
	return pop.particles[len(pop.particles)-1], nil
}

// ResetWeights sets every particle's log-weight to log(1/N). Called after
// resampling produced an unweighted population.
func (pop *Population) ResetWeights() {
	lw := -math.Log(float64(len(pop.particles)))
	for _, p := range pop.particles {
		p.LogWeight = lw
	}
}

// AllDead reports whether every particle has weight -Inf.
func (pop *Population) AllDead() bool {
	for _, p := range pop.particles {
		if !p.Dead() {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the population. The engine snapshots
// the population after each fully completed step so a timeout can fall
// back to a consistent state.
func (pop *Population) Snapshot() *Population {
	particles := make([]*Particle, len(pop.particles))
	for i, p := range pop.particles {
		particles[i] = p.Clone()
	}
	return &Population{particles: particles, logger: pop.logger}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcmc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Proposal generates Metropolis-Hastings candidates.
type Proposal interface {
	// Propose returns a candidate state given the current one. The
	// current slice must not be modified.
	Propose(current []float64, rng *rand.Rand) []float64

	// LogRatio returns the proposal asymmetry correction,
	// log q(current | candidate) - log q(candidate | current).
	// Symmetric proposals return 0.
	LogRatio(current, candidate []float64) float64
}

// RandomWalk proposes Gaussian steps around the current state. Symmetric,
// so the asymmetry correction is zero.
type RandomWalk struct {
	StdDev float64
}

// NewRandomWalk creates a random-walk proposal with the given step scale.
func NewRandomWalk(stdDev float64) (*RandomWalk, error) {
	if stdDev <= 0 || math.IsNaN(stdDev) {
		return nil, fmt.Errorf("step standard deviation must be positive, got %v", stdDev)
	}
	return &RandomWalk{StdDev: stdDev}, nil
}

// Propose implements Proposal.
func (r *RandomWalk) Propose(current []float64, rng *rand.Rand) []float64 {
	candidate := make([]float64, len(current))
	for i, x := range current {
		candidate[i] = x + r.StdDev*rng.NormFloat64()
	}
	return candidate
}

// LogRatio implements Proposal. A Gaussian step is symmetric.
func (r *RandomWalk) LogRatio(current, candidate []float64) float64 {
	return 0
}

// MetropolisHastings samples from an unnormalized target via the
// accept/reject rule min(1, exp(dlogp + asymmetry correction)).
//
// Thread Safety: Not safe for concurrent use; build one sampler per
// goroutine.
type MetropolisHastings struct {
	target   LogTarget
	proposal Proposal
	config   Config
	rng      *rand.Rand
	logger   *slog.Logger
}

// SamplerOption configures an MCMC sampler.
type SamplerOption func(*samplerOpts)

type samplerOpts struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(o *samplerOpts) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOpts(opts []SamplerOption) samplerOpts {
	o := samplerOpts{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMetropolisHastings creates the sampler.
//
// Inputs:
//   - target: Unnormalized target log-density.
//   - proposal: Candidate generator.
//   - config: Chain schedule.
//
// Outputs:
//   - *MetropolisHastings: The sampler.
//   - error: Non-nil on a missing collaborator or invalid schedule.
func NewMetropolisHastings(target LogTarget, proposal Proposal, config Config, opts ...SamplerOption) (*MetropolisHastings, error) {
	if target == nil {
		return nil, fmt.Errorf("a target log-density is required")
	}
	if proposal == nil {
		return nil, fmt.Errorf("a proposal is required")
	}
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	o := applyOpts(opts)
	return &MetropolisHastings{
		target:   target,
		proposal: proposal,
		config:   config,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   o.logger,
	}, nil
}

// Run draws n post-burn-in samples starting from initial.
//
// Outputs:
//   - *Chain: Recorded samples and acceptance diagnostics.
//   - error: ErrInitialOutsideSupport, an invalid n, or the context's
//     error on cancellation.
func (m *MetropolisHastings) Run(ctx context.Context, initial []float64, n int) (*Chain, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	current := append([]float64(nil), initial...)
	currentLP := m.target(current)
	if math.IsInf(currentLP, -1) || math.IsNaN(currentLP) {
		return nil, ErrInitialOutsideSupport
	}

	chain := &Chain{Samples: make([][]float64, 0, n)}
	totalSteps := m.config.BurnIn + n*m.config.Thin

	for step := 0; step < totalSteps; step++ {
		if step%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		candidate := m.proposal.Propose(current, m.rng)
		candidateLP := m.target(candidate)

		logAlpha := candidateLP - currentLP + m.proposal.LogRatio(current, candidate)
		accepted := logAlpha >= 0 || math.Log(m.rng.Float64()) < logAlpha
		if accepted {
			current = candidate
			currentLP = candidateLP
		}

		if step < m.config.BurnIn {
			continue
		}
		chain.Proposed++
		if accepted {
			chain.Accepted++
		}
		if (step-m.config.BurnIn)%m.config.Thin == m.config.Thin-1 {
			chain.Samples = append(chain.Samples, append([]float64(nil), current...))
		}
	}

	m.logger.Debug("metropolis-hastings chain complete",
		slog.Int("samples", len(chain.Samples)),
		slog.Float64("acceptance_rate", chain.AcceptanceRate()))
	return chain, nil
}

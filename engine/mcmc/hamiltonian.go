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

// GradTarget returns the gradient of the target log-density at x.
type GradTarget func(x []float64) []float64

// HamiltonianConfig extends the chain schedule with the leapfrog
// integrator's parameters.
type HamiltonianConfig struct {
	Config

	// StepSize is the leapfrog integration step. Default: 0.1.
	StepSize float64

	// LeapfrogSteps is the number of integration steps per proposal.
	// Default: 10.
	LeapfrogSteps int
}

func (c HamiltonianConfig) withDefaults() HamiltonianConfig {
	c.Config = c.Config.withDefaults()
	if c.StepSize == 0 {
		c.StepSize = 0.1
	}
	if c.LeapfrogSteps == 0 {
		c.LeapfrogSteps = 10
	}
	return c
}

// Hamiltonian samples with Hamiltonian Monte Carlo: auxiliary Gaussian
// momenta, leapfrog integration along the gradient, and a
// Metropolis-style accept/reject on the total energy change.
//
// Thread Safety: Not safe for concurrent use.
type Hamiltonian struct {
	target LogTarget
	grad   GradTarget
	config HamiltonianConfig
	rng    *rand.Rand
	logger *slog.Logger
}

// NewHamiltonian creates the sampler.
//
// Inputs:
//   - target: Unnormalized target log-density.
//   - grad: Gradient of the target log-density.
//   - config: Chain schedule and integrator parameters.
func NewHamiltonian(target LogTarget, grad GradTarget, config HamiltonianConfig, opts ...SamplerOption) (*Hamiltonian, error) {
	if target == nil {
		return nil, fmt.Errorf("a target log-density is required")
	}
	if grad == nil {
		return nil, fmt.Errorf("a gradient function is required")
	}
	config = config.withDefaults()
	if err := config.Config.validate(); err != nil {
		return nil, err
	}
	if config.StepSize <= 0 || math.IsNaN(config.StepSize) {
		return nil, fmt.Errorf("step size must be positive, got %v", config.StepSize)
	}
	if config.LeapfrogSteps < 1 {
		return nil, fmt.Errorf("leapfrog steps must be at least 1, got %d", config.LeapfrogSteps)
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	o := applyOpts(opts)
	return &Hamiltonian{
		target: target,
		grad:   grad,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		logger: o.logger,
	}, nil
}

// Run draws n post-burn-in samples starting from initial.
func (h *Hamiltonian) Run(ctx context.Context, initial []float64, n int) (*Chain, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	current := append([]float64(nil), initial...)
	currentLP := h.target(current)
	if math.IsInf(currentLP, -1) || math.IsNaN(currentLP) {
		return nil, ErrInitialOutsideSupport
	}

	chain := &Chain{Samples: make([][]float64, 0, n)}
	totalSteps := h.config.BurnIn + n*h.config.Thin

	for step := 0; step < totalSteps; step++ {
		if step%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		momentum := make([]float64, len(current))
		var kinetic float64
		for i := range momentum {
			momentum[i] = h.rng.NormFloat64()
			kinetic += momentum[i] * momentum[i]
		}
		kinetic /= 2

		candidate, candMomentum := h.leapfrog(current, momentum)
		candidateLP := h.target(candidate)

		var candKinetic float64
		for _, p := range candMomentum {
			candKinetic += p * p
		}
		candKinetic /= 2

		// Accept on the total energy change; exact integration would give
		// dH = 0 and certain acceptance.
		logAlpha := (candidateLP - candKinetic) - (currentLP - kinetic)
		accepted := !math.IsNaN(logAlpha) && (logAlpha >= 0 || math.Log(h.rng.Float64()) < logAlpha)
		if accepted {
			current = candidate
			currentLP = candidateLP
		}

		if step < h.config.BurnIn {
			continue
		}
		chain.Proposed++
		if accepted {
			chain.Accepted++
		}
		if (step-h.config.BurnIn)%h.config.Thin == h.config.Thin-1 {
			chain.Samples = append(chain.Samples, append([]float64(nil), current...))
		}
	}

	h.logger.Debug("hamiltonian chain complete",
		slog.Int("samples", len(chain.Samples)),
		slog.Float64("acceptance_rate", chain.AcceptanceRate()))
	return chain, nil
}

// leapfrog integrates the Hamiltonian dynamics for the configured number
// of steps: half momentum step, full position step, half momentum step.
func (h *Hamiltonian) leapfrog(position, momentum []float64) ([]float64, []float64) {
	q := append([]float64(nil), position...)
	p := append([]float64(nil), momentum...)
	eps := h.config.StepSize

	grad := h.grad(q)
	for i := range p {
		p[i] += eps / 2 * grad[i]
	}
	for step := 0; step < h.config.LeapfrogSteps; step++ {
		for i := range q {
			q[i] += eps * p[i]
		}
		grad = h.grad(q)
		if step < h.config.LeapfrogSteps-1 {
			for i := range p {
				p[i] += eps * grad[i]
			}
		}
	}
	for i := range p {
		p[i] += eps / 2 * grad[i]
	}
	return q, p
}

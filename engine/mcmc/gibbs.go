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
	"math/rand"
	"time"
)

// ConditionalSampler draws coordinate i from its full conditional given
// the rest of the state. The state slice must not be modified; return the
// new value for the coordinate.
type ConditionalSampler func(state []float64, rng *rand.Rand) float64

// Gibbs samples by sweeping the coordinate conditionals in order. Every
// sweep is one chain step; conditional draws are always accepted.
//
// Thread Safety: Not safe for concurrent use.
type Gibbs struct {
	conditionals []ConditionalSampler
	config       Config
	rng          *rand.Rand
	logger       *slog.Logger
}

// NewGibbs creates a Gibbs sampler from one conditional per coordinate.
func NewGibbs(conditionals []ConditionalSampler, config Config, opts ...SamplerOption) (*Gibbs, error) {
	if len(conditionals) == 0 {
		return nil, fmt.Errorf("at least one conditional sampler is required")
	}
	for i, c := range conditionals {
		if c == nil {
			return nil, fmt.Errorf("conditional sampler %d is nil", i)
		}
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
	return &Gibbs{
		conditionals: conditionals,
		config:       config,
		rng:          rand.New(rand.NewSource(seed)),
		logger:       o.logger,
	}, nil
}

// Run draws n post-burn-in samples starting from initial. The initial
// state must have one coordinate per conditional.
func (g *Gibbs) Run(ctx context.Context, initial []float64, n int) (*Chain, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	if len(initial) != len(g.conditionals) {
		return nil, fmt.Errorf("initial state has %d coordinates but %d conditionals are configured",
			len(initial), len(g.conditionals))
	}

	current := append([]float64(nil), initial...)
	chain := &Chain{Samples: make([][]float64, 0, n)}
	totalSteps := g.config.BurnIn + n*g.config.Thin

	for step := 0; step < totalSteps; step++ {
		if step%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		for i, conditional := range g.conditionals {
			current[i] = conditional(current, g.rng)
		}

		if step < g.config.BurnIn {
			continue
		}
		chain.Proposed++
		chain.Accepted++
		if (step-g.config.BurnIn)%g.config.Thin == g.config.Thin-1 {
			chain.Samples = append(chain.Samples, append([]float64(nil), current...))
		}
	}

	g.logger.Debug("gibbs chain complete", slog.Int("samples", len(chain.Samples)))
	return chain, nil
}

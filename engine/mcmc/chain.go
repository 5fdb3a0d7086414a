// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcmc provides Markov chain Monte Carlo samplers for posterior
// sampling against a caller-supplied unnormalized log-density:
// Metropolis-Hastings with proposal asymmetry correction, Gibbs sweeps
// over coordinate conditionals, and Hamiltonian Monte Carlo with leapfrog
// integration.
//
// All samplers support burn-in and thinning and report acceptance rate
// and autocorrelation-based effective sample size as diagnostics.
package mcmc

import (
	"errors"
	"fmt"
	"math"
)

// LogTarget evaluates the unnormalized target log-density. Return -Inf
// outside the support.
type LogTarget func(x []float64) float64

// Errors shared by the samplers.
var (
	// ErrInitialOutsideSupport indicates the starting point has zero
	// target density, so no chain can be started from it.
	ErrInitialOutsideSupport = errors.New("initial point outside target support")
)

// Config carries the chain schedule shared by all samplers.
type Config struct {
	// BurnIn is the number of initial steps discarded before recording.
	BurnIn int

	// Thin keeps every Thin-th post-burn-in step. Default: 1 (keep all).
	Thin int

	// Seed seeds the sampler's random source. Zero means time-based.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Thin == 0 {
		c.Thin = 1
	}
	return c
}

func (c Config) validate() error {
	if c.BurnIn < 0 {
		return fmt.Errorf("burn-in must be non-negative, got %d", c.BurnIn)
	}
	if c.Thin < 1 {
		return fmt.Errorf("thinning interval must be at least 1, got %d", c.Thin)
	}
	return nil
}

// Chain holds the recorded post-burn-in samples plus acceptance
// bookkeeping.
type Chain struct {
	// Samples are the recorded states, one slice per retained step.
	Samples [][]float64

	// Accepted counts accepted proposals after burn-in.
	Accepted int

	// Proposed counts all proposals after burn-in.
	Proposed int
}

// AcceptanceRate returns the post-burn-in acceptance fraction.
func (c *Chain) AcceptanceRate() float64 {
	if c.Proposed == 0 {
		return 0
	}
	return float64(c.Accepted) / float64(c.Proposed)
}

// Mean returns the sample mean of one coordinate.
func (c *Chain) Mean(dim int) float64 {
	var sum float64
	for _, x := range c.Samples {
		sum += x[dim]
	}
	return sum / float64(len(c.Samples))
}

// Variance returns the sample variance of one coordinate.
func (c *Chain) Variance(dim int) float64 {
	mean := c.Mean(dim)
	var sumSq float64
	for _, x := range c.Samples {
		d := x[dim] - mean
		sumSq += d * d
	}
	return sumSq / float64(len(c.Samples))
}

// ESS estimates the effective sample size of one coordinate from the
// chain's autocorrelation, summing lags until the first non-positive
// autocorrelation.
//
// A perfectly mixing chain returns close to len(Samples); a sticky chain
// returns far less.
func (c *Chain) ESS(dim int) float64 {
	n := len(c.Samples)
	if n < 2 {
		return float64(n)
	}
	mean := c.Mean(dim)
	variance := c.Variance(dim)
	if variance == 0 {
		return 1
	}

	var acSum float64
	for lag := 1; lag < n; lag++ {
		var cov float64
		for i := 0; i < n-lag; i++ {
			cov += (c.Samples[i][dim] - mean) * (c.Samples[i+lag][dim] - mean)
		}
		rho := cov / (float64(n) * variance)
		if rho <= 0 {
			break
		}
		acSum += rho
	}

	ess := float64(n) / (1 + 2*acSum)
	return math.Max(1, ess)
}

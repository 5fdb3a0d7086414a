// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package importance implements one-shot self-normalized importance
// sampling: draw from a tractable proposal distribution, weight each draw
// by the target/proposal density ratio, and estimate expectations under
// the target from the weighted draws.
//
// Weights are carried in log space and normalized with max-subtraction,
// the same discipline the particle machinery uses.
package importance

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/AleutianAI/AleutianSMC/engine/distribution"
)

// LogTarget evaluates the unnormalized target density in log space.
// Return -Inf outside the support.
type LogTarget func(x float64) float64

// Sampler draws weighted samples from a target density through a
// proposal distribution.
//
// Thread Safety: Not safe for concurrent use; each goroutine should own
// its own Sampler.
type Sampler struct {
	proposal distribution.Distribution
	target   LogTarget
	rng      *rand.Rand
	logger   *slog.Logger
}

// SamplerOption configures the Sampler.
type SamplerOption func(*Sampler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an importance sampler.
//
// Inputs:
//   - proposal: Distribution to draw candidates from. Its support must
//     cover the target's support or estimates will be biased.
//   - target: Unnormalized log-density of the distribution of interest.
//   - seed: Seed for the sampler's random source.
//
// Outputs:
//   - *Sampler: The sampler.
//   - error: Non-nil when proposal or target is missing.
func New(proposal distribution.Distribution, target LogTarget, seed int64, opts ...SamplerOption) (*Sampler, error) {
	if proposal == nil {
		return nil, fmt.Errorf("a proposal distribution is required")
	}
	if target == nil {
		return nil, fmt.Errorf("a target log-density is required")
	}
	s := &Sampler{
		proposal: proposal,
		target:   target,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result holds n weighted draws. Samples and LogWeights stay
// index-aligned.
type Result struct {
	Samples    []float64
	LogWeights []float64
}

// Sample draws n candidates from the proposal and weights each by the
// log density ratio target(x) - proposal.LogPDF(x).
//
// Outputs:
//   - *Result: Aligned samples and log-weights.
//   - error: Non-nil when n is not positive or when every draw landed
//     outside the target's support.
func (s *Sampler) Sample(n int) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	res := &Result{
		Samples:    make([]float64, n),
		LogWeights: make([]float64, n),
	}
	finite := 0
	for i := 0; i < n; i++ {
		x := s.proposal.Sample(s.rng)
		lw := s.target(x) - s.proposal.LogPDF(x)
		if math.IsNaN(lw) {
			s.logger.Warn("clipping NaN importance weight to -Inf", "sample", x)
			lw = math.Inf(-1)
		}
		res.Samples[i] = x
		res.LogWeights[i] = lw
		if !math.IsInf(lw, -1) {
			finite++
		}
	}
	if finite == 0 {
		return nil, fmt.Errorf("all %d draws fell outside the target support", n)
	}
	return res, nil
}

// NormalizedWeights converts the log-weights to a probability simplex
// using max-subtraction.
func (r *Result) NormalizedWeights() []float64 {
	maxLW := math.Inf(-1)
	for _, lw := range r.LogWeights {
		if lw > maxLW {
			maxLW = lw
		}
	}
	weights := make([]float64, len(r.LogWeights))
	var sum float64
	for i, lw := range r.LogWeights {
		if math.IsInf(lw, -1) {
			continue
		}
		w := math.Exp(lw - maxLW)
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// ESS returns the effective sample size of the weighted draws,
// 1/sum(w_i^2). A value near len(Samples) means the proposal matches the
// target well; a value near 1 means the estimate rests on a single draw.
func (r *Result) ESS() float64 {
	var sumSq float64
	for _, w := range r.NormalizedWeights() {
		sumSq += w * w
	}
	return 1 / sumSq
}

// Estimate returns the self-normalized importance estimate of E[f(X)]
// under the target.
func (r *Result) Estimate(f func(x float64) float64) float64 {
	weights := r.NormalizedWeights()
	var est float64
	for i, x := range r.Samples {
		if weights[i] == 0 {
			continue
		}
		est += weights[i] * f(x)
	}
	return est
}

// Mean is shorthand for Estimate(identity).
func (r *Result) Mean() float64 {
	return r.Estimate(func(x float64) float64 { return x })
}

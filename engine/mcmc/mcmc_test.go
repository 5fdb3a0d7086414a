// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcmc

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// standardNormal is the unnormalized log-density of N(0, 1).
func standardNormal(x []float64) float64 {
	return -0.5 * x[0] * x[0]
}

func standardNormalGrad(x []float64) []float64 {
	return []float64{-x[0]}
}

func TestMetropolisHastings_RecoversGaussianMoments(t *testing.T) {
	walk, err := NewRandomWalk(1.0)
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(standardNormal, walk, Config{BurnIn: 500, Seed: 7})
	require.NoError(t, err)

	chain, err := mh.Run(context.Background(), []float64{3}, 10000)
	require.NoError(t, err)

	assert.Len(t, chain.Samples, 10000)
	assert.InDelta(t, 0.0, chain.Mean(0), 0.15)
	assert.InDelta(t, 1.0, chain.Variance(0), 0.2)

	rate := chain.AcceptanceRate()
	assert.Greater(t, rate, 0.2)
	assert.Less(t, rate, 0.9)
}

func TestMetropolisHastings_ThinningAndBurnIn(t *testing.T) {
	walk, err := NewRandomWalk(0.5)
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(standardNormal, walk, Config{BurnIn: 100, Thin: 5, Seed: 3})
	require.NoError(t, err)

	chain, err := mh.Run(context.Background(), []float64{0}, 200)
	require.NoError(t, err)
	assert.Len(t, chain.Samples, 200)
	assert.Equal(t, 1000, chain.Proposed, "thinning keeps every 5th of the post-burn-in steps")
}

func TestMetropolisHastings_InitialOutsideSupport(t *testing.T) {
	target := func(x []float64) float64 {
		if x[0] < 0 {
			return math.Inf(-1)
		}
		return -x[0]
	}
	walk, err := NewRandomWalk(1)
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(target, walk, Config{Seed: 1})
	require.NoError(t, err)

	_, err = mh.Run(context.Background(), []float64{-1}, 10)
	assert.ErrorIs(t, err, ErrInitialOutsideSupport)
}

func TestMetropolisHastings_RespectsHardSupport(t *testing.T) {
	// Exponential target on [0, inf); no recorded sample may be negative.
	target := func(x []float64) float64 {
		if x[0] < 0 {
			return math.Inf(-1)
		}
		return -x[0]
	}
	walk, err := NewRandomWalk(0.8)
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(target, walk, Config{BurnIn: 100, Seed: 11})
	require.NoError(t, err)

	chain, err := mh.Run(context.Background(), []float64{1}, 2000)
	require.NoError(t, err)
	for _, s := range chain.Samples {
		assert.GreaterOrEqual(t, s[0], 0.0)
	}
	assert.InDelta(t, 1.0, chain.Mean(0), 0.25)
}

// asymmetricWalk drifts proposals to the right; LogRatio must correct for
// the asymmetry to keep the target invariant.
type asymmetricWalk struct {
	stdDev float64
	drift  float64
}

func (a *asymmetricWalk) Propose(current []float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(current))
	for i, x := range current {
		out[i] = x + a.drift + a.stdDev*rng.NormFloat64()
	}
	return out
}

func (a *asymmetricWalk) LogRatio(current, candidate []float64) float64 {
	var ratio float64
	for i := range current {
		fwd := candidate[i] - current[i] - a.drift // forward step noise
		rev := current[i] - candidate[i] - a.drift // reverse step noise
		ratio += (fwd*fwd - rev*rev) / (2 * a.stdDev * a.stdDev)
	}
	return ratio
}

func TestMetropolisHastings_AsymmetryCorrection(t *testing.T) {
	prop := &asymmetricWalk{stdDev: 1, drift: 0.5}
	mh, err := NewMetropolisHastings(standardNormal, prop, Config{BurnIn: 1000, Seed: 13})
	require.NoError(t, err)

	chain, err := mh.Run(context.Background(), []float64{0}, 20000)
	require.NoError(t, err)

	// Without the correction the drift would bias the mean right of zero.
	assert.InDelta(t, 0.0, chain.Mean(0), 0.15)
}

func TestMetropolisHastings_FixedSeedDeterministic(t *testing.T) {
	run := func() []float64 {
		walk, err := NewRandomWalk(1)
		require.NoError(t, err)
		mh, err := NewMetropolisHastings(standardNormal, walk, Config{Seed: 99})
		require.NoError(t, err)
		chain, err := mh.Run(context.Background(), []float64{0}, 100)
		require.NoError(t, err)
		out := make([]float64, len(chain.Samples))
		for i, s := range chain.Samples {
			out[i] = s[0]
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestMetropolisHastings_Cancellation(t *testing.T) {
	walk, err := NewRandomWalk(1)
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(standardNormal, walk, Config{Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mh.Run(ctx, []float64{0}, 100000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGibbs_BivariateGaussian(t *testing.T) {
	// X1 | X2 ~ N(rho*x2, 1-rho^2) and symmetrically, the standard Gibbs
	// textbook case for a correlated bivariate normal.
	const rho = 0.6
	condStd := math.Sqrt(1 - rho*rho)
	conditional := func(other int) ConditionalSampler {
		return func(state []float64, rng *rand.Rand) float64 {
			return rho*state[other] + condStd*rng.NormFloat64()
		}
	}

	g, err := NewGibbs([]ConditionalSampler{conditional(1), conditional(0)},
		Config{BurnIn: 500, Seed: 17})
	require.NoError(t, err)

	chain, err := g.Run(context.Background(), []float64{2, -2}, 20000)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, chain.Mean(0), 0.1)
	assert.InDelta(t, 0.0, chain.Mean(1), 0.1)
	assert.InDelta(t, 1.0, chain.Variance(0), 0.15)
	assert.Equal(t, 1.0, chain.AcceptanceRate(), "conditional draws are always accepted")
}

func TestGibbs_DimensionMismatch(t *testing.T) {
	g, err := NewGibbs([]ConditionalSampler{
		func(state []float64, rng *rand.Rand) float64 { return 0 },
	}, Config{Seed: 1})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), []float64{0, 0}, 10)
	assert.ErrorContains(t, err, "coordinates")
}

func TestHamiltonian_RecoversGaussianMoments(t *testing.T) {
	h, err := NewHamiltonian(standardNormal, standardNormalGrad, HamiltonianConfig{
		Config:        Config{BurnIn: 200, Seed: 19},
		StepSize:      0.2,
		LeapfrogSteps: 10,
	})
	require.NoError(t, err)

	chain, err := h.Run(context.Background(), []float64{2}, 5000)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, chain.Mean(0), 0.15)
	assert.InDelta(t, 1.0, chain.Variance(0), 0.25)
	assert.Greater(t, chain.AcceptanceRate(), 0.8,
		"a well-tuned integrator on a Gaussian should accept nearly always")
}

func TestHamiltonian_MixesFasterThanRandomWalk(t *testing.T) {
	h, err := NewHamiltonian(standardNormal, standardNormalGrad, HamiltonianConfig{
		Config:        Config{BurnIn: 200, Seed: 23},
		StepSize:      0.2,
		LeapfrogSteps: 10,
	})
	require.NoError(t, err)
	hChain, err := h.Run(context.Background(), []float64{0}, 2000)
	require.NoError(t, err)

	walk, err := NewRandomWalk(0.1) // Deliberately sticky.
	require.NoError(t, err)
	mh, err := NewMetropolisHastings(standardNormal, walk, Config{BurnIn: 200, Seed: 23})
	require.NoError(t, err)
	mhChain, err := mh.Run(context.Background(), []float64{0}, 2000)
	require.NoError(t, err)

	assert.Greater(t, hChain.ESS(0), mhChain.ESS(0))
}

func TestChain_ESSBounds(t *testing.T) {
	// Perfectly repeated value: no information beyond one sample.
	flat := &Chain{Samples: [][]float64{{1}, {1}, {1}, {1}}}
	assert.Equal(t, 1.0, flat.ESS(0))

	// Alternating chain: negative lag-1 autocorrelation, ESS at least n.
	alt := &Chain{Samples: [][]float64{{1}, {-1}, {1}, {-1}, {1}, {-1}}}
	assert.GreaterOrEqual(t, alt.ESS(0), 6.0)
}

func TestConfig_Validation(t *testing.T) {
	walk, err := NewRandomWalk(1)
	require.NoError(t, err)

	_, err = NewMetropolisHastings(standardNormal, walk, Config{BurnIn: -1})
	assert.Error(t, err)

	_, err = NewMetropolisHastings(standardNormal, walk, Config{Thin: -2})
	assert.Error(t, err)

	_, err = NewRandomWalk(0)
	assert.Error(t, err)

	_, err = NewHamiltonian(standardNormal, standardNormalGrad, HamiltonianConfig{StepSize: -1})
	assert.Error(t, err)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proposer defines the token-generation collaborator consumed by
// the SMC engine: an opaque "propose next continuation" capability.
//
// The engine never inspects how continuations are produced. Adapters in
// this package cover the OpenAI chat-completion API and deterministic
// test doubles; anything satisfying Proposer can be plugged in.
//
// Implementations must be safe to call concurrently from multiple
// workers with independent particle states.
package proposer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/AleutianAI/AleutianSMC/engine/distribution"
)

var (
	// ErrEmptyVocabulary indicates a vocabulary proposer was built with
	// no tokens.
	ErrEmptyVocabulary = errors.New("vocabulary proposer requires at least one token")

	// ErrScriptExhausted indicates a scripted proposer ran out of
	// prepared continuations.
	ErrScriptExhausted = errors.New("scripted proposer exhausted")
)

// Proposer produces the next continuation token for one particle state.
type Proposer interface {
	// Propose returns one continuation conditioned on the state.
	Propose(ctx context.Context, state []string) (string, error)
}

// BatchProposer additionally supports coalescing all particle states of a
// step into a single batched inference call. Used by the engine's GPU
// batch mode.
type BatchProposer interface {
	Proposer

	// ProposeBatch returns one continuation per input state, aligned by
	// index.
	ProposeBatch(ctx context.Context, states [][]string) ([]string, error)
}

// -----------------------------------------------------------------------------
// Vocabulary (test double / demo)
// -----------------------------------------------------------------------------

// Vocabulary draws tokens from a fixed weighted vocabulary.
//
// It is deterministic given its seed and the call order, which makes it
// the workhorse for reproducibility tests and the CLI demo mode.
//
// Thread Safety: Safe for concurrent use; the random source is guarded.
type Vocabulary struct {
	tokens []string
	dist   *distribution.Discrete

	mu  sync.Mutex
	rng *rand.Rand
}

// NewVocabulary creates a vocabulary proposer.
//
// Inputs:
//   - tokens: Vocabulary entries. Must be non-empty.
//   - weights: Draw weights aligned with tokens. Nil means uniform.
//   - seed: Seed for the internal random source.
//
// Outputs:
//   - *Vocabulary: The proposer.
//   - error: Non-nil on empty vocabulary or invalid weights.
func NewVocabulary(tokens []string, weights []float64, seed int64) (*Vocabulary, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if weights == nil {
		weights = make([]float64, len(tokens))
		for i := range weights {
			weights[i] = 1
		}
	}
	indices := make([]float64, len(tokens))
	for i := range indices {
		indices[i] = float64(i)
	}
	dist, err := distribution.NewDiscrete(indices, weights)
	if err != nil {
		return nil, fmt.Errorf("build vocabulary distribution: %w", err)
	}
	return &Vocabulary{
		tokens: append([]string(nil), tokens...),
		dist:   dist,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Propose draws one token from the vocabulary.
func (v *Vocabulary) Propose(ctx context.Context, state []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v.mu.Lock()
	idx := int(v.dist.Sample(v.rng))
	v.mu.Unlock()
	return v.tokens[idx], nil
}

// ProposeBatch draws one token per state in index order.
func (v *Vocabulary) ProposeBatch(ctx context.Context, states [][]string) ([]string, error) {
	out := make([]string, len(states))
	for i := range states {
		tok, err := v.Propose(ctx, states[i])
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Scripted (test double)
// -----------------------------------------------------------------------------

// Scripted replays a prepared continuation per state length, keyed by the
// current sequence length. Step t always proposes script[t], which gives
// tests full control over every particle's trajectory.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Scripted struct {
	script []string
}

// NewScripted creates a scripted proposer from the fixed continuation
// sequence.
func NewScripted(script ...string) *Scripted {
	return &Scripted{script: append([]string(nil), script...)}
}

// Propose returns script[len(state)].
func (s *Scripted) Propose(ctx context.Context, state []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(state) >= len(s.script) {
		return "", ErrScriptExhausted
	}
	return s.script[len(state)], nil
}

// ProposeBatch replays the script for each state independently.
func (s *Scripted) ProposeBatch(ctx context.Context, states [][]string) ([]string, error) {
	out := make([]string, len(states))
	for i, state := range states {
		tok, err := s.Propose(ctx, state)
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Failing (test double)
// -----------------------------------------------------------------------------

// Failing wraps a proposer and fails the first FailCount calls, then
// delegates. Used to exercise the engine's retry-once path.
//
// Thread Safety: Safe for concurrent use.
type Failing struct {
	Inner     Proposer
	FailCount int

	mu    sync.Mutex
	calls int
}

// Propose fails until FailCount calls have been burned, then delegates.
func (f *Failing) Propose(ctx context.Context, state []string) (string, error) {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls <= f.FailCount
	f.mu.Unlock()
	if shouldFail {
		return "", fmt.Errorf("injected proposer failure %d", f.calls)
	}
	return f.Inner.Propose(ctx, state)
}

// Calls returns the number of Propose invocations so far.
func (f *Failing) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

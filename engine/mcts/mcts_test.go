// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// chainState is a binary decision chain of fixed length. Every "R" choice
// raises the terminal reward, so the optimal first move is always "R".
type chainState struct {
	depth    int
	rights   int
	maxDepth int
}

func (c chainState) Actions() []Action {
	if c.Terminal() {
		return nil
	}
	return []Action{"L", "R"}
}

func (c chainState) Apply(action Action) State {
	next := chainState{depth: c.depth + 1, rights: c.rights, maxDepth: c.maxDepth}
	if action == "R" {
		next.rights++
	}
	return next
}

func (c chainState) Terminal() bool {
	return c.depth >= c.maxDepth
}

func (c chainState) Reward() float64 {
	if c.depth == 0 {
		return 0
	}
	return float64(c.rights) / float64(c.depth)
}

func TestRun_FindsRewardingBranch(t *testing.T) {
	s, err := NewSearch(Config{MaxIterations: 2000, MaxDepth: 8, Seed: 1})
	if err != nil {
		t.Fatalf("NewSearch: %v", err)
	}

	res, err := s.Run(context.Background(), chainState{maxDepth: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BestAction != "R" {
		t.Errorf("best action = %v, want R", res.BestAction)
	}
	if res.Iterations != 2000 {
		t.Errorf("iterations = %d, want 2000", res.Iterations)
	}
	if res.BestAvgReward <= 0.5 {
		t.Errorf("best avg reward = %v, want > 0.5", res.BestAvgReward)
	}
}

func TestRun_TerminalRootFails(t *testing.T) {
	s, err := NewSearch(Config{Seed: 1})
	if err != nil {
		t.Fatalf("NewSearch: %v", err)
	}

	_, err = s.Run(context.Background(), chainState{depth: 4, maxDepth: 4})
	if !errors.Is(err, ErrNoActions) {
		t.Errorf("err = %v, want ErrNoActions", err)
	}
}

// countingRollout records how many simulations ran.
type countingRollout struct {
	calls int
}

func (c *countingRollout) Rollout(ctx context.Context, state State, maxDepth int, rng *rand.Rand) float64 {
	c.calls++
	return UniformRollout{}.Rollout(ctx, state, maxDepth, rng)
}

func TestRun_IterationCap(t *testing.T) {
	policy := &countingRollout{}
	s, err := NewSearch(Config{MaxIterations: 17, Seed: 1}, WithRolloutPolicy(policy))
	if err != nil {
		t.Fatalf("NewSearch: %v", err)
	}

	res, err := s.Run(context.Background(), chainState{maxDepth: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 17 {
		t.Errorf("iterations = %d, want 17", res.Iterations)
	}
	if policy.calls != 17 {
		t.Errorf("rollouts = %d, want one per iteration", policy.calls)
	}
}

func TestBestChild_UnvisitedFirstVisitedTieBreak(t *testing.T) {
	root := chainState{maxDepth: 2}
	parent := newNode(nil, nil, root)
	parent.visits = 2

	first := newNode(parent, "L", root.Apply("L"))
	second := newNode(parent, "R", root.Apply("R"))
	parent.children = []*node{first, second}

	// Both unvisited: UCB1 is +Inf for each; the first-visited child wins.
	if got := parent.bestChild(math.Sqrt2); got != first {
		t.Errorf("tie between unvisited children should pick the first-visited child")
	}

	// Equal statistics: still the first-visited child.
	first.visits, first.reward = 1, 0.5
	second.visits, second.reward = 1, 0.5
	if got := parent.bestChild(math.Sqrt2); got != first {
		t.Errorf("tie on equal statistics should pick the first-visited child")
	}

	// A strictly better second child must win.
	second.reward = 0.9
	if got := parent.bestChild(math.Sqrt2); got != second {
		t.Errorf("strictly better child should win selection")
	}
}

func TestRun_FixedSeedDeterministic(t *testing.T) {
	run := func() *Result {
		s, err := NewSearch(Config{MaxIterations: 300, MaxDepth: 6, Seed: 42})
		if err != nil {
			t.Fatalf("NewSearch: %v", err)
		}
		res, err := s.Run(context.Background(), chainState{maxDepth: 3})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.BestAction != b.BestAction || a.BestAvgReward != b.BestAvgReward {
		t.Errorf("fixed-seed runs differ: %+v vs %+v", a, b)
	}
}

func TestRun_CancelledBeforeFirstIteration(t *testing.T) {
	s, err := NewSearch(Config{Seed: 1})
	if err != nil {
		t.Fatalf("NewSearch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Run(ctx, chainState{maxDepth: 3})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// endlessState never terminates; rollouts must stop at the depth cap.
type endlessState struct {
	depth int
}

func (e endlessState) Actions() []Action  { return []Action{"go"} }
func (e endlessState) Apply(Action) State { return endlessState{depth: e.depth + 1} }
func (e endlessState) Terminal() bool     { return false }
func (e endlessState) Reward() float64    { return math.Min(1, float64(e.depth)/10) }

func TestRun_DepthCapTruncatesRollouts(t *testing.T) {
	s, err := NewSearch(Config{MaxIterations: 50, MaxDepth: 3, Seed: 1})
	if err != nil {
		t.Fatalf("NewSearch: %v", err)
	}

	res, err := s.Run(context.Background(), endlessState{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 50 {
		t.Errorf("iterations = %d, want 50", res.Iterations)
	}
}

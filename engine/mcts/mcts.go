// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcts implements decision-time Monte Carlo tree search over a
// caller-supplied state space.
//
// The four phases run in the classic order: UCB1 selection (ties broken
// by first-visited-child order), expansion of one child per visited leaf,
// simulation through a pluggable rollout policy, and backpropagation of
// visit counts and accumulated reward along the path to the root.
package mcts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Action is one move available from a state. Concrete types are supplied
// by the caller; the search treats them opaquely.
type Action any

// State is an immutable decision state.
//
// Apply must return a new state and leave the receiver untouched; the
// search assumes states can be shared freely between tree nodes.
type State interface {
	// Actions returns the legal actions from this state, in a stable order.
	Actions() []Action

	// Apply returns the successor state after taking the action.
	Apply(action Action) State

	// Terminal reports whether the state has no successors worth exploring.
	Terminal() bool

	// Reward scores a terminal (or rollout-truncated) state in [0, 1].
	Reward() float64
}

// RolloutPolicy estimates the value of a freshly expanded node.
type RolloutPolicy interface {
	// Rollout plays the state forward at most maxDepth steps and returns
	// the reached state's reward.
	Rollout(ctx context.Context, state State, maxDepth int, rng *rand.Rand) float64
}

// UniformRollout plays uniformly random actions until a terminal state or
// the depth cap. The default policy.
type UniformRollout struct{}

// Rollout implements RolloutPolicy.
func (UniformRollout) Rollout(ctx context.Context, state State, maxDepth int, rng *rand.Rand) float64 {
	for depth := 0; depth < maxDepth; depth++ {
		if state.Terminal() || ctx.Err() != nil {
			break
		}
		actions := state.Actions()
		if len(actions) == 0 {
			break
		}
		state = state.Apply(actions[rng.Intn(len(actions))])
	}
	return state.Reward()
}

// Config bounds one search.
type Config struct {
	// MaxIterations caps the select/expand/simulate/backpropagate cycles.
	// Default: 1000.
	MaxIterations int

	// MaxDepth caps both tree depth and rollout length. Default: 64.
	MaxDepth int

	// ExplorationWeight is the UCB1 exploration constant. Default: sqrt(2).
	ExplorationWeight float64

	// Seed seeds the search's random source. Zero means time-based.
	Seed int64
}

// DefaultConfig returns the standard search bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     1000,
		MaxDepth:          64,
		ExplorationWeight: math.Sqrt2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.ExplorationWeight == 0 {
		c.ExplorationWeight = d.ExplorationWeight
	}
	return c
}

// ErrNoActions indicates the root state offers nothing to search.
var ErrNoActions = errors.New("root state has no legal actions")

// node is one tree position. Children are appended in the order they are
// first visited, which is what makes the UCB1 tie-break stable.
type node struct {
	parent   *node
	action   Action
	state    State
	children []*node
	untried  []Action
	visits   int64
	reward   float64
}

func newNode(parent *node, action Action, state State) *node {
	return &node{
		parent:  parent,
		action:  action,
		state:   state,
		untried: state.Actions(),
	}
}

func (n *node) fullyExpanded() bool {
	return len(n.untried) == 0
}

func (n *node) avgReward() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.reward / float64(n.visits)
}

// ucb1 scores a child for selection. The parent's visit count must be
// positive when this is called.
func (n *node) ucb1(child *node, c float64) float64 {
	if child.visits == 0 {
		return math.Inf(1)
	}
	exploit := child.avgReward()
	explore := c * math.Sqrt(math.Log(float64(n.visits))/float64(child.visits))
	return exploit + explore
}

// bestChild returns the child maximizing UCB1. Ties keep the earlier
// (first-visited) child because the comparison is strict.
func (n *node) bestChild(c float64) *node {
	best := n.children[0]
	bestScore := n.ucb1(best, c)
	for _, child := range n.children[1:] {
		score := n.ucb1(child, c)
		if score > bestScore {
			best = child
			bestScore = score
		}
	}
	return best
}

// Search runs MCTS from a root state.
//
// Thread Safety: Not safe for concurrent use; build one Search per
// goroutine.
type Search struct {
	config  Config
	rollout RolloutPolicy
	rng     *rand.Rand
	logger  *slog.Logger
}

// SearchOption configures the search.
type SearchOption func(*Search)

// WithRolloutPolicy overrides the default uniform-random rollout.
func WithRolloutPolicy(policy RolloutPolicy) SearchOption {
	return func(s *Search) {
		if policy != nil {
			s.rollout = policy
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) SearchOption {
	return func(s *Search) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSearch creates a search with the given bounds.
func NewSearch(config Config, opts ...SearchOption) (*Search, error) {
	config = config.withDefaults()
	if config.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d", config.MaxIterations)
	}
	if config.MaxDepth < 1 {
		return nil, fmt.Errorf("max depth must be at least 1, got %d", config.MaxDepth)
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Search{
		config:  config,
		rollout: UniformRollout{},
		rng:     rand.New(rand.NewSource(seed)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result summarizes one search.
type Result struct {
	// BestAction is the root action with the most visits.
	BestAction Action

	// BestAvgReward is the average reward of the chosen root child.
	BestAvgReward float64

	// Iterations is the number of completed cycles.
	Iterations int
}

// Run searches from root and returns the most-visited root action.
//
// Cancellation mid-search is graceful: whatever statistics accumulated
// so far decide the result, as long as at least one iteration finished.
func (s *Search) Run(ctx context.Context, root State) (*Result, error) {
	if root.Terminal() || len(root.Actions()) == 0 {
		return nil, ErrNoActions
	}

	rootNode := newNode(nil, nil, root)
	iterations := 0

	for i := 0; i < s.config.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		s.iterate(ctx, rootNode)
		iterations++
	}

	if iterations == 0 {
		return nil, ctx.Err()
	}

	best := rootNode.children[0]
	for _, child := range rootNode.children[1:] {
		if child.visits > best.visits {
			best = child
		}
	}

	s.logger.Debug("search complete",
		slog.Int("iterations", iterations),
		slog.Int64("best_visits", best.visits),
		slog.Float64("best_avg_reward", best.avgReward()))

	return &Result{
		BestAction:    best.action,
		BestAvgReward: best.avgReward(),
		Iterations:    iterations,
	}, nil
}

// iterate runs one select/expand/simulate/backpropagate cycle.
func (s *Search) iterate(ctx context.Context, root *node) {
	// Selection: descend through fully expanded internal nodes by UCB1.
	current := root
	depth := 0
	for current.fullyExpanded() && len(current.children) > 0 && depth < s.config.MaxDepth {
		current = current.bestChild(s.config.ExplorationWeight)
		depth++
	}

	// Expansion: one child per visit to a non-terminal leaf.
	if !current.state.Terminal() && !current.fullyExpanded() && depth < s.config.MaxDepth {
		action := current.untried[0]
		current.untried = current.untried[1:]
		child := newNode(current, action, current.state.Apply(action))
		current.children = append(current.children, child)
		current = child
		depth++
	}

	// Simulation.
	reward := s.rollout.Rollout(ctx, current.state, s.config.MaxDepth-depth, s.rng)

	// Backpropagation.
	for n := current; n != nil; n = n.parent {
		n.visits++
		n.reward += reward
	}
}

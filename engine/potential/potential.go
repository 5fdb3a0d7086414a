// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package potential defines the scoring functions that steer guided
// generation toward constrained output.
//
// A Potential scores a candidate token sequence in [0, 1]; a score of 0
// marks a hard-constraint violation and maps to a -Inf log-weight, making
// the particle eligible for elimination at the next resampling. Multiple
// potentials compose by summing log-scores.
//
// Potentials must be pure and reentrant: the engine evaluates them
// concurrently for different particles within the same step.
package potential

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Potential scores a partial or complete candidate sequence.
type Potential interface {
	// Name identifies the potential in logs and error reports.
	Name() string

	// Score returns a probability-like value in [0, 1].
	// 0 marks a violated hard constraint.
	Score(state []string) float64
}

// Satisfier is an optional fast path for hard constraints.
//
// When a potential implements Satisfier, the engine calls IsSatisfied
// before full scoring; an unsatisfied state short-circuits to -Inf
// without paying the scoring cost.
type Satisfier interface {
	IsSatisfied(state []string) bool
}

// Incremental is an optional capability for potentials whose score can be
// updated from new content alone.
//
// ScoreDelta returns the log-space weight increment contributed by the
// tokens appended between prev and next. The engine prefers this path so
// per-step weight updates stay O(new tokens), not O(sequence length).
type Incremental interface {
	ScoreDelta(prev, next []string) float64
}

// LogScore maps a potential's [0, 1] score to log space.
//
// Scores of 0 (or below, from a misbehaving scorer) map to -Inf; NaN maps
// to -Inf as well so it can never reach the population statistics.
func LogScore(p Potential, state []string) float64 {
	s := p.Score(state)
	if math.IsNaN(s) || s <= 0 {
		return math.Inf(-1)
	}
	if s > 1 {
		s = 1
	}
	return math.Log(s)
}

// -----------------------------------------------------------------------------
// Pattern
// -----------------------------------------------------------------------------

// Pattern scores 1 when the joined sequence matches a regular expression
// and a configurable partial credit otherwise.
//
// With PartialScore = 0 the pattern acts as a hard constraint.
type Pattern struct {
	name         string
	re           *regexp.Regexp
	partialScore float64
}

// NewPattern compiles a pattern potential.
//
// Inputs:
//   - name: Identifier for logs.
//   - expr: Go regular expression matched against the space-joined state.
//   - partialScore: Score in [0, 1) for non-matching states. Use 0 for a
//     hard constraint.
//
// Outputs:
//   - *Pattern: The potential.
//   - error: Non-nil if expr does not compile or partialScore is out of range.
func NewPattern(name, expr string, partialScore float64) (*Pattern, error) {
	if partialScore < 0 || partialScore >= 1 {
		return nil, fmt.Errorf("partial score must be in [0, 1), got %v", partialScore)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return &Pattern{name: name, re: re, partialScore: partialScore}, nil
}

// Name returns the potential's identifier.
func (p *Pattern) Name() string { return p.name }

// Score returns 1 on a regexp match, the partial score otherwise.
func (p *Pattern) Score(state []string) float64 {
	if p.re.MatchString(strings.Join(state, " ")) {
		return 1
	}
	return p.partialScore
}

// IsSatisfied implements Satisfier.
func (p *Pattern) IsSatisfied(state []string) bool {
	return p.partialScore > 0 || p.re.MatchString(strings.Join(state, " "))
}

// -----------------------------------------------------------------------------
// Style
// -----------------------------------------------------------------------------

// Style is a soft potential rewarding keyword density.
//
// The score is a smooth function of how many of the style keywords appear
// in the sequence; it never returns 0, so style never kills a particle.
type Style struct {
	name     string
	keywords map[string]bool
	strength float64
}

// NewStyle creates a style potential.
//
// Inputs:
//   - name: Identifier for logs.
//   - keywords: Words whose presence is rewarded (matched case-insensitively).
//   - strength: How sharply the score decays without keywords, in (0, 1].
func NewStyle(name string, keywords []string, strength float64) (*Style, error) {
	if len(keywords) == 0 {
		return nil, fmt.Errorf("style potential needs at least one keyword")
	}
	if strength <= 0 || strength > 1 {
		return nil, fmt.Errorf("strength must be in (0, 1], got %v", strength)
	}
	set := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = true
	}
	return &Style{name: name, keywords: set, strength: strength}, nil
}

// Name returns the potential's identifier.
func (s *Style) Name() string { return s.name }

// Score rewards keyword hits, floored well above zero.
func (s *Style) Score(state []string) float64 {
	if len(state) == 0 {
		return 1 - s.strength/2
	}
	hits := 0
	for _, tok := range state {
		if s.keywords[strings.ToLower(strings.Trim(tok, ".,!?;:"))] {
			hits++
		}
	}
	density := float64(hits) / float64(len(state))
	// Soft score: baseline (1 - strength) plus density-scaled reward.
	score := (1 - s.strength) + s.strength*math.Min(1, density*4)
	if score <= 0 {
		score = 1e-6
	}
	return score
}

// ScoreDelta implements Incremental: only the new tokens shift the hit
// count, so the delta is computed from the two densities directly.
func (s *Style) ScoreDelta(prev, next []string) float64 {
	return math.Log(s.Score(next)) - math.Log(s.Score(prev))
}

// -----------------------------------------------------------------------------
// Func
// -----------------------------------------------------------------------------

// Func wraps a caller-supplied scoring closure.
type Func struct {
	name string
	fn   func(state []string) float64
}

// NewFunc creates a potential from a closure. The closure must be pure
// and safe for concurrent calls.
func NewFunc(name string, fn func(state []string) float64) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the potential's identifier.
func (f *Func) Name() string { return f.name }

// Score delegates to the wrapped closure.
func (f *Func) Score(state []string) float64 { return f.fn(state) }

// -----------------------------------------------------------------------------
// TerminalPunctuation
// -----------------------------------------------------------------------------

// TerminalPunctuation softly rewards sequences ending in sentence-final
// punctuation. Incomplete sequences receive partial credit so particles
// survive the intermediate steps.
type TerminalPunctuation struct {
	partialScore float64
}

// NewTerminalPunctuation creates the potential. partialScore is the score
// for sequences not yet ending in one of ". ! ?" and must be in (0, 1).
func NewTerminalPunctuation(partialScore float64) (*TerminalPunctuation, error) {
	if partialScore <= 0 || partialScore >= 1 {
		return nil, fmt.Errorf("partial score must be in (0, 1), got %v", partialScore)
	}
	return &TerminalPunctuation{partialScore: partialScore}, nil
}

// Name returns the potential's identifier.
func (t *TerminalPunctuation) Name() string { return "terminal_punctuation" }

// Score returns 1 when the last token ends in sentence-final punctuation.
func (t *TerminalPunctuation) Score(state []string) float64 {
	if EndsWithTerminal(state) {
		return 1
	}
	return t.partialScore
}

// EndsWithTerminal reports whether the last token of state ends in one of
// ". ! ?".
func EndsWithTerminal(state []string) bool {
	if len(state) == 0 {
		return false
	}
	last := state[len(state)-1]
	if last == "" {
		return false
	}
	switch last[len(last)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Composition
// -----------------------------------------------------------------------------

// CombinedLogScore sums the log-scores of all potentials against a state.
// Returns -Inf as soon as any potential reports a hard violation.
func CombinedLogScore(potentials []Potential, state []string) float64 {
	var total float64
	for _, p := range potentials {
		if sat, ok := p.(Satisfier); ok && !sat.IsSatisfied(state) {
			return math.Inf(-1)
		}
		ls := LogScore(p, state)
		if math.IsInf(ls, -1) {
			return ls
		}
		total += ls
	}
	return total
}

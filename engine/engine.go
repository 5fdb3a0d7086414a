// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements sequential Monte Carlo guided generation: a
// particle population is propagated token by token through an external
// proposer, reweighted by potentials, and resampled when the effective
// sample size degenerates.
//
// The engine runs synchronous supersteps: every particle finishes
// propagation before reweighting and resampling proceed, because
// resampling requires a complete, consistent snapshot of the population's
// weights. Steps never overlap or run ahead asynchronously. The only
// suspension point per step is the propagation submit-and-join.
//
// All weight arithmetic stays in log space until final selection. A run
// that exceeds its wall-clock budget returns the best particle from the
// last fully completed step with TimedOut set; partial step results are
// discarded, never merged.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianSMC/engine/particle"
	"github.com/AleutianAI/AleutianSMC/engine/potential"
	"github.com/AleutianAI/AleutianSMC/engine/proposer"
	"github.com/AleutianAI/AleutianSMC/engine/resample"
)

// StopPredicate reports whether a particle's sequence is complete (for
// example, ends with an end-of-sequence marker). A nil predicate never
// stops; the run then terminates on MaxSteps or the wall-clock budget.
type StopPredicate func(state []string) bool

// Engine drives the propose -> weight -> resample loop.
//
// Construct one Engine per collaborator/potential set; it is stateless
// across runs and safe for concurrent Generate calls, each run owning its
// population, pool, and random source.
type Engine struct {
	proposer   proposer.Proposer
	potentials []potential.Potential
	strategy   resample.Strategy
	stop       StopPredicate

	logger  *slog.Logger
	tracer  *Tracer
	metrics *Metrics
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer for observability.
func WithTracer(tracer *Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithStrategy sets the default resampling strategy. A task naming its
// own strategy overrides this per run.
func WithStrategy(strategy resample.Strategy) Option {
	return func(e *Engine) {
		if strategy != nil {
			e.strategy = strategy
		}
	}
}

// WithStopPredicate sets the termination test applied to each particle
// after every step.
func WithStopPredicate(stop StopPredicate) Option {
	return func(e *Engine) {
		e.stop = stop
	}
}

// New creates a guided-generation engine.
//
// Inputs:
//   - p: Token-generation collaborator. Required.
//   - potentials: Scoring functions steering the generation. May be empty,
//     in which case the run degrades to unguided sampling.
//   - opts: Optional configuration functions.
//
// Outputs:
//   - *Engine: Ready to use engine.
//   - error: ErrProposerRequired when p is nil.
func New(p proposer.Proposer, potentials []potential.Potential, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, ErrProposerRequired
	}
	e := &Engine{
		proposer:   p,
		potentials: potentials,
		strategy:   resample.Systematic{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate runs one guided-generation task to completion.
//
// The run ends when every particle satisfies the stop predicate, the
// step cap is reached, or the wall-clock budget expires. On timeout the
// result is taken from the last fully completed step and flagged
// TimedOut; a run that never completes a single step returns
// ErrNoCompletedStep instead of a partially corrupted result.
//
// Outputs:
//   - *GenerationResult: The selected sequence plus run diagnostics.
//   - error: ConstraintUnsatisfiableError on total population collapse,
//     the context's error on external cancellation, or a validation error.
func (e *Engine) Generate(ctx context.Context, task GenerationTask) (*GenerationResult, error) {
	task = task.withDefaults()
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	if task.UseGPUBatch {
		if _, ok := e.proposer.(proposer.BatchProposer); !ok {
			return nil, ErrBatchProposerRequired
		}
	}

	strategy := e.strategy
	if task.Strategy != "" {
		var err error
		strategy, err = resample.FromName(task.Strategy)
		if err != nil {
			return nil, fmt.Errorf("invalid task: %w", err)
		}
	}

	seed := task.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	span := noopSpan()
	if e.tracer != nil {
		ctx, span = e.tracer.StartRun(ctx, task)
	}

	runCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	pop, err := particle.NewPopulation(task.ParticleCount, task.Prompt)
	if err != nil {
		return nil, err
	}
	pop.SetLogger(e.logger)

	start := time.Now()
	var lastCompleted *particle.Population
	stepsCompleted := 0
	timedOut := false

	for step := 0; step < task.MaxSteps; step++ {
		if e.activeCount(pop) == 0 {
			break
		}
		if runCtx.Err() != nil {
			if ctx.Err() != nil {
				if e.tracer != nil {
					e.tracer.EndRun(span, nil, ctx.Err())
				}
				return nil, ctx.Err()
			}
			timedOut = true
			break
		}

		stepStart := time.Now()
		next, err := e.runStep(runCtx, task, strategy, pop, rng, step)
		if err != nil {
			if isInterrupted(err) {
				// External cancellation is the caller's error; only the
				// engine's own deadline degrades gracefully.
				if ctx.Err() != nil {
					if e.tracer != nil {
						e.tracer.EndRun(span, nil, err)
					}
					return nil, ctx.Err()
				}
				timedOut = true
				break
			}
			if e.tracer != nil {
				e.tracer.EndRun(span, nil, err)
			}
			return nil, err
		}
		pop = next
		lastCompleted = pop.Snapshot()
		stepsCompleted++
		e.metrics.observeStep(time.Since(stepStart))
	}

	if timedOut {
		e.metrics.incTimeouts()
		if lastCompleted == nil {
			err := fmt.Errorf("%w (budget %v)", ErrNoCompletedStep, task.Timeout)
			if e.tracer != nil {
				e.tracer.EndRun(span, nil, err)
			}
			return nil, err
		}
		e.logger.Warn("generation timed out; degrading to last completed step",
			slog.String("task_id", task.ID),
			slog.Int("steps_completed", stepsCompleted))
		pop = lastCompleted
	}

	best, err := e.selectOutput(task, pop, rng)
	if err != nil {
		cerr := &ConstraintUnsatisfiableError{Step: stepsCompleted, Potentials: e.potentialNames()}
		if e.tracer != nil {
			e.tracer.EndRun(span, nil, cerr)
		}
		return nil, cerr
	}

	result := &GenerationResult{
		BestSequence:   append([]string(nil), best.State...),
		Elapsed:        time.Since(start),
		StepsCompleted: stepsCompleted,
		TimedOut:       timedOut,
	}
	if task.KeepFinalPopulation {
		result.FinalPopulation = pop
	}

	if e.tracer != nil {
		e.tracer.EndRun(span, result, nil)
	}
	e.logger.Info("generation complete",
		slog.String("task_id", task.ID),
		slog.Int("steps", stepsCompleted),
		slog.Int("sequence_len", len(result.BestSequence)),
		slog.Bool("timed_out", timedOut),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// runStep executes one superstep: propagate all active particles, apply
// incremental weights, then normalize and conditionally resample.
//
// The input population is only mutated after the whole propagation join
// succeeded; on error the caller still holds the previous consistent
// state.
func (e *Engine) runStep(
	ctx context.Context,
	task GenerationTask,
	strategy resample.Strategy,
	pop *particle.Population,
	rng *rand.Rand,
	step int,
) (*particle.Population, error) {
	if e.tracer != nil {
		span := e.tracer.TraceStep(ctx, step)
		defer span.End()
	}

	if err := e.propagate(ctx, task, pop); err != nil {
		return nil, err
	}

	if pop.AllDead() {
		return nil, &ConstraintUnsatisfiableError{Step: step, Potentials: e.potentialNames()}
	}

	ess, err := pop.ESS()
	if err != nil {
		return nil, &ConstraintUnsatisfiableError{Step: step, Potentials: e.potentialNames()}
	}
	e.metrics.setESS(ess)
	e.metrics.incSteps()

	// A single particle reduces to plain sampling decoding; resampling
	// never triggers.
	if task.ParticleCount > 1 && ess/float64(task.ParticleCount) < task.ResamplingThreshold {
		next, rerr := strategy.Resample(pop, rng)
		if rerr != nil {
			if errors.Is(rerr, resample.ErrPopulationCollapsed) {
				return nil, &ConstraintUnsatisfiableError{Step: step, Potentials: e.potentialNames()}
			}
			return nil, fmt.Errorf("resampling: %w", rerr)
		}
		next.SetLogger(e.logger)
		e.metrics.incResamples()
		if e.tracer != nil {
			e.tracer.TraceResample(ctx, step, strategy.Name(), ess)
		}
		e.logger.Debug("resampled population",
			slog.Int("step", step),
			slog.String("strategy", strategy.Name()),
			slog.Float64("ess", ess))
		return next, nil
	}
	return pop, nil
}

// activeCount returns how many particles still need propagation: alive
// and not yet satisfying the stop predicate.
func (e *Engine) activeCount(pop *particle.Population) int {
	count := 0
	for _, p := range pop.Particles() {
		if e.isActive(p) {
			count++
		}
	}
	return count
}

func (e *Engine) isActive(p *particle.Particle) bool {
	if p.Dead() {
		return false
	}
	if e.stop != nil && e.stop(p.State) {
		return false
	}
	return true
}

// selectOutput applies the task's output policy to the final population.
func (e *Engine) selectOutput(task GenerationTask, pop *particle.Population, rng *rand.Rand) (*particle.Particle, error) {
	switch task.Selection {
	case SelectWeightedSample:
		return pop.WeightedDraw(rng.Float64())
	default:
		return pop.Best()
	}
}

func (e *Engine) potentialNames() []string {
	names := make([]string, len(e.potentials))
	for i, p := range e.potentials {
		names[i] = p.Name()
	}
	return names
}

// scoreDelta computes the incremental log-weight contributed by the
// tokens appended between prev and next, summed over all potentials.
// Potentials implementing Incremental keep the update O(new tokens).
//
// A scorer panic is isolated to the particle (its weight becomes -Inf)
// unless the task marked potentials hard-fail-fatal.
func (e *Engine) scoreDelta(task GenerationTask, particleID string, prev, next []string) (float64, error) {
	var total float64
	for _, pot := range e.potentials {
		d, err := e.scoreOne(task, pot, particleID, prev, next)
		if err != nil {
			return 0, err
		}
		if math.IsInf(d, -1) {
			return d, nil
		}
		total += d
	}
	return total, nil
}

func (e *Engine) scoreOne(task GenerationTask, pot potential.Potential, particleID string, prev, next []string) (delta float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			pf := &PotentialFailureError{Potential: pot.Name(), ParticleID: particleID, Cause: fmt.Sprint(r)}
			if task.HardFailFatal {
				err = pf
				return
			}
			e.logger.Warn("potential failed; killing particle",
				slog.String("potential", pot.Name()),
				slog.String("particle_id", particleID),
				slog.String("cause", pf.Cause))
			e.metrics.incDeaths()
			delta = math.Inf(-1)
		}
	}()

	if inc, ok := pot.(potential.Incremental); ok {
		return inc.ScoreDelta(prev, next), nil
	}
	if sat, ok := pot.(potential.Satisfier); ok && !sat.IsSatisfied(next) {
		return math.Inf(-1), nil
	}

	nextLS := potential.LogScore(pot, next)
	if math.IsInf(nextLS, -1) {
		return nextLS, nil
	}
	prevLS := potential.LogScore(pot, prev)
	if math.IsInf(prevLS, -1) {
		// The previous state already violated; the particle is dead
		// regardless, so the absolute score is as good as any delta.
		return nextLS, nil
	}
	return nextLS - prevLS, nil
}

// isInterrupted reports whether err stems from context expiry.
func isInterrupted(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

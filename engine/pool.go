// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSMC/engine/particle"
	"github.com/AleutianAI/AleutianSMC/engine/proposer"
)

// propagate advances every active particle by one token and applies the
// incremental weight update.
//
// Workers operate on clones; the canonical population is only mutated at
// the merge after the whole step succeeded, so an aborted step (timeout,
// fatal potential) leaves the population untouched. Particles that are
// dead or already satisfy the stop predicate are frozen and skipped.
func (e *Engine) propagate(ctx context.Context, task GenerationTask, pop *particle.Population) error {
	active := make([]int, 0, pop.Size())
	for i, p := range pop.Particles() {
		if e.isActive(p) {
			active = append(active, i)
		}
	}
	if len(active) == 0 {
		return nil
	}

	var (
		results []*particle.Particle
		err     error
	)
	switch {
	case task.UseGPUBatch:
		results, err = e.propagateBatch(ctx, task, pop, active)
	case task.UseParallel && task.Workers > 1:
		results, err = e.propagateParallel(ctx, task, pop, active)
	default:
		results, err = e.propagateSerial(ctx, task, pop, active)
	}
	if err != nil {
		return err
	}

	for n, i := range active {
		pop.Set(i, results[n])
	}
	return nil
}

// propagateSerial advances the active particles one at a time on the
// calling goroutine. With a fixed seed this mode is fully reproducible.
func (e *Engine) propagateSerial(ctx context.Context, task GenerationTask, pop *particle.Population, active []int) ([]*particle.Particle, error) {
	results := make([]*particle.Particle, len(active))
	for n, i := range active {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		clone, err := e.propagateOne(ctx, task, pop.Get(i))
		if err != nil {
			return nil, err
		}
		results[n] = clone
	}
	return results, nil
}

// propagateParallel fans the active particles out over a bounded worker
// group. Results stay index-aligned with the active list; each slot is
// written by exactly one goroutine, so no synchronization is needed
// beyond the group join.
func (e *Engine) propagateParallel(ctx context.Context, task GenerationTask, pop *particle.Population, active []int) ([]*particle.Particle, error) {
	results := make([]*particle.Particle, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(task.Workers)

	for n, i := range active {
		g.Go(func() error {
			clone, err := e.propagateOne(gctx, task, pop.Get(i))
			if err != nil {
				return err
			}
			results[n] = clone
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// propagateBatch coalesces all active particle states into batched calls
// to the inference collaborator, then scores the continuations with the
// worker pool. A failed batch falls back to task-parallel propagation
// unless the task demands hard failure.
func (e *Engine) propagateBatch(ctx context.Context, task GenerationTask, pop *particle.Population, active []int) ([]*particle.Particle, error) {
	bp := e.proposer.(proposer.BatchProposer)

	states := make([][]string, len(active))
	for n, i := range active {
		states[n] = append([]string(nil), pop.Get(i).State...)
	}

	tokens, err := e.batchCall(ctx, task, bp, states)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if task.BatchFallbackMode == FallbackFail {
			return nil, fmt.Errorf("batched propagation: %w", err)
		}
		e.logger.Warn("batched propagation failed; falling back to task-parallel",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
		e.metrics.incBatchFallbacks()
		return e.propagateParallel(ctx, task, pop, active)
	}

	results := make([]*particle.Particle, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(task.Workers)
	for n, i := range active {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			clone := pop.Get(i).Clone()
			prev := clone.State[:len(clone.State):len(clone.State)]
			clone.Append(tokens[n])
			delta, serr := e.scoreDelta(task, clone.ID, prev, clone.State)
			if serr != nil {
				return serr
			}
			clone.AddLogWeight(delta)
			if clone.Dead() {
				e.metrics.incDeaths()
			}
			results[n] = clone
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// batchCall issues the batched inference calls, chunked by the task's
// batch size, and returns one continuation per state in input order.
func (e *Engine) batchCall(ctx context.Context, task GenerationTask, bp proposer.BatchProposer, states [][]string) ([]string, error) {
	chunk := task.BatchSize
	if chunk <= 0 || chunk > len(states) {
		chunk = len(states)
	}

	tokens := make([]string, 0, len(states))
	for off := 0; off < len(states); off += chunk {
		end := off + chunk
		if end > len(states) {
			end = len(states)
		}
		out, err := bp.ProposeBatch(ctx, states[off:end])
		if err != nil {
			return nil, err
		}
		if len(out) != end-off {
			return nil, fmt.Errorf("batch returned %d continuations for %d states", len(out), end-off)
		}
		tokens = append(tokens, out...)
	}
	return tokens, nil
}

// propagateOne clones the particle, requests one continuation, and
// applies the incremental weight update.
//
// A proposer failure is retried once; a second failure kills the particle
// (weight -Inf) rather than aborting the step, so one flaky call cannot
// sink an otherwise healthy population. Context expiry is never retried.
func (e *Engine) propagateOne(ctx context.Context, task GenerationTask, p *particle.Particle) (*particle.Particle, error) {
	clone := p.Clone()

	token, err := e.proposer.Propose(ctx, clone.State)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		token, err = e.proposer.Propose(ctx, clone.State)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("proposer failed twice; killing particle",
			slog.String("particle_id", clone.ID),
			slog.String("error", err.Error()))
		e.metrics.incProposerFailures()
		e.metrics.incDeaths()
		clone.LogWeight = math.Inf(-1)
		return clone, nil
	}

	prev := clone.State[:len(clone.State):len(clone.State)]
	clone.Append(token)

	delta, err := e.scoreDelta(task, clone.ID, prev, clone.State)
	if err != nil {
		return nil, err
	}
	clone.AddLogWeight(delta)
	if clone.Dead() {
		e.metrics.incDeaths()
	}
	return clone, nil
}

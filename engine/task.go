// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSMC/engine/particle"
)

// SelectionPolicy chooses how the final particle is picked.
type SelectionPolicy string

const (
	// SelectMaxWeight returns the argmax over final normalized weights.
	// Deterministic; the default.
	SelectMaxWeight SelectionPolicy = "max_weight"

	// SelectWeightedSample draws one particle proportional to the final
	// normalized weights.
	SelectWeightedSample SelectionPolicy = "weighted_sample"
)

// BatchFallback controls what happens when a GPU-batched inference call
// fails mid-run.
type BatchFallback string

const (
	// FallbackSequential retries the failed step with per-particle
	// task-parallel propagation. The default.
	FallbackSequential BatchFallback = "sequential"

	// FallbackFail aborts the run on the first batch failure.
	FallbackFail BatchFallback = "fail"
)

// GenerationTask is the immutable input bundle for one guided-generation
// run.
type GenerationTask struct {
	// ID identifies the run in logs and traces. Defaults to a fresh UUID.
	ID string

	// Prompt is the shared initial token sequence for every particle.
	Prompt []string

	// ParticleCount is the population size N. Default: 8.
	ParticleCount int

	// Workers bounds the task-parallel propagation pool. Zero selects
	// the default: NumCPU-1, or 2*GPUDevices when UseGPUBatch is set
	// and GPUDevices is known.
	Workers int

	// UseParallel enables the task-parallel worker pool. When false,
	// particles are propagated serially on the engine goroutine, which
	// is the reproducible single-worker mode.
	UseParallel bool

	// UseGPUBatch coalesces all particle states per step into batched
	// calls to the inference collaborator. Requires a BatchProposer.
	UseGPUBatch bool

	// GPUDevices is the number of accelerator devices backing the
	// collaborator, used only for the default worker-count heuristic.
	GPUDevices int

	// BatchSize caps the states per batched call. Zero means one batch
	// per step.
	BatchSize int

	// BatchFallbackMode selects the recovery path for a failed batched
	// call. Default: FallbackSequential.
	BatchFallbackMode BatchFallback

	// Timeout is the wall-clock budget for the whole run. Zero means no
	// budget.
	Timeout time.Duration

	// MaxSteps caps the number of supersteps. Default: 64.
	MaxSteps int

	// ResamplingThreshold is the ESS/N fraction below which the engine
	// resamples. Default: 0.5.
	ResamplingThreshold float64

	// Strategy names the resampling strategy: "systematic" (default),
	// "multinomial", or "stratified".
	Strategy string

	// Selection picks the output policy. Default: SelectMaxWeight.
	Selection SelectionPolicy

	// Seed seeds the engine's random source (resampling draws and
	// weighted selection). Zero means a time-based seed; fix it together
	// with Workers=0/UseParallel=false for reproducible runs.
	Seed int64

	// HardFailFatal aborts the run when any potential fails (panics)
	// instead of isolating the failure to the affected particle.
	HardFailFatal bool

	// KeepFinalPopulation attaches the final population to the result
	// for diagnostics.
	KeepFinalPopulation bool
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (t GenerationTask) withDefaults() GenerationTask {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ParticleCount == 0 {
		t.ParticleCount = 8
	}
	if t.MaxSteps == 0 {
		t.MaxSteps = 64
	}
	if t.ResamplingThreshold == 0 {
		t.ResamplingThreshold = 0.5
	}
	if t.Selection == "" {
		t.Selection = SelectMaxWeight
	}
	if t.BatchFallbackMode == "" {
		t.BatchFallbackMode = FallbackSequential
	}
	if t.Workers == 0 {
		t.Workers = t.defaultWorkers()
	}
	return t
}

// defaultWorkers applies the worker-count heuristic: 2x device count
// when GPU batching is in play and the device count is known, otherwise
// CPU cores minus one. Never below 1.
func (t GenerationTask) defaultWorkers() int {
	if t.UseGPUBatch && t.GPUDevices > 0 {
		return 2 * t.GPUDevices
	}
	w := runtime.NumCPU() - 1
	if w < 1 {
		w = 1
	}
	return w
}

// Validate checks the task for inconsistent settings.
func (t GenerationTask) Validate() error {
	if t.ParticleCount < 1 {
		return fmt.Errorf("particle count must be at least 1, got %d", t.ParticleCount)
	}
	if t.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", t.Workers)
	}
	if t.ResamplingThreshold < 0 || t.ResamplingThreshold > 1 {
		return fmt.Errorf("resampling threshold must be in [0, 1], got %v", t.ResamplingThreshold)
	}
	if t.MaxSteps < 1 {
		return fmt.Errorf("max steps must be at least 1, got %d", t.MaxSteps)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", t.Timeout)
	}
	if t.BatchSize < 0 {
		return fmt.Errorf("batch size must be non-negative, got %d", t.BatchSize)
	}
	switch t.Selection {
	case SelectMaxWeight, SelectWeightedSample:
	default:
		return fmt.Errorf("unknown selection policy %q", t.Selection)
	}
	switch t.BatchFallbackMode {
	case FallbackSequential, FallbackFail:
	default:
		return fmt.Errorf("unknown batch fallback mode %q", t.BatchFallbackMode)
	}
	return nil
}

// GenerationResult is the output of one guided-generation run.
type GenerationResult struct {
	// BestSequence is the selected output sequence, including the prompt.
	BestSequence []string

	// FinalPopulation is the population the selection was made from.
	// Nil unless the task asked for diagnostics.
	FinalPopulation *particle.Population

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration

	// StepsCompleted counts fully completed supersteps.
	StepsCompleted int

	// TimedOut is true when the wall-clock budget expired and the result
	// was taken from the last fully completed step.
	TimedOut bool
}

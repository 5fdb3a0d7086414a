// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCompletedStep indicates the wall-clock budget expired before
	// even one superstep finished; there is no consistent population to
	// fall back to, so no result is returned.
	ErrNoCompletedStep = errors.New("timed out before completing a single step")

	// ErrProposerRequired indicates the engine was built without a
	// proposer.
	ErrProposerRequired = errors.New("a proposer is required")

	// ErrBatchProposerRequired indicates a GPU-batch task was submitted
	// but the configured proposer does not support batched calls.
	ErrBatchProposerRequired = errors.New("GPU batch mode requires a BatchProposer")
)

// ConstraintUnsatisfiableError reports total population collapse: after a
// step every particle violated a hard constraint, so no usable sequence
// exists. The engine never papers over this by resetting to uniform
// weights.
type ConstraintUnsatisfiableError struct {
	// Step is the superstep at which the population collapsed.
	Step int

	// Potentials names the configured potentials, for diagnosis.
	Potentials []string
}

// Error implements the error interface.
func (e *ConstraintUnsatisfiableError) Error() string {
	return fmt.Sprintf("constraints unsatisfiable: population collapsed at step %d (potentials: %s)",
		e.Step, strings.Join(e.Potentials, ", "))
}

// PotentialFailureError reports a scorer failure promoted to fatal by
// the task's HardFailFatal setting.
type PotentialFailureError struct {
	// Potential is the name of the failing potential.
	Potential string

	// ParticleID identifies the particle being scored.
	ParticleID string

	// Cause is the recovered panic value, formatted.
	Cause string
}

// Error implements the error interface.
func (e *PotentialFailureError) Error() string {
	return fmt.Sprintf("potential %q failed scoring particle %s: %s", e.Potential, e.ParticleID, e.Cause)
}

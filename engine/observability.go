// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const smcTracerName = "aleutian.smc"

// ObservabilityConfig controls tracing for the engine.
type ObservabilityConfig struct {
	// TracingEnabled turns OpenTelemetry span creation on.
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// Tracer provides OpenTelemetry tracing for guided-generation runs.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new tracer.
//
// Inputs:
//   - logger: Logger for structured logging (can be nil for the default).
//   - config: Observability configuration.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, config ObservabilityConfig) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(smcTracerName),
		logger:  logger,
		enabled: config.TracingEnabled,
	}
}

// noopSpan returns a span that records nothing, used when no tracer is
// configured.
func noopSpan() trace.Span {
	return noop.Span{}
}

// StartRun starts a span for the whole generation run.
//
// Outputs:
//   - context.Context: Context with span.
//   - trace.Span: The created span (a no-op span if tracing is disabled).
func (t *Tracer) StartRun(ctx context.Context, task GenerationTask) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "smc.run",
		trace.WithAttributes(
			attribute.String("smc.task_id", task.ID),
			attribute.Int("smc.particle_count", task.ParticleCount),
			attribute.Int("smc.workers", task.Workers),
			attribute.Int("smc.max_steps", task.MaxSteps),
			attribute.Bool("smc.gpu_batch", task.UseGPUBatch),
			attribute.String("smc.timeout", task.Timeout.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.InfoContext(ctx, "generation run started",
		slog.String("task_id", task.ID),
		slog.Int("particle_count", task.ParticleCount),
		slog.Int("workers", task.Workers),
		slog.Bool("gpu_batch", task.UseGPUBatch),
	)

	return ctx, span
}

// EndRun completes the run span.
//
// Inputs:
//   - span: The span to end.
//   - result: The run result (can be nil on failure).
//   - err: Error if the run failed.
func (t *Tracer) EndRun(span trace.Span, result *GenerationResult, err error) {
	if span == nil {
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if result != nil {
		span.SetAttributes(
			attribute.Int("smc.result.steps_completed", result.StepsCompleted),
			attribute.Int("smc.result.sequence_len", len(result.BestSequence)),
			attribute.Bool("smc.result.timed_out", result.TimedOut),
			attribute.String("smc.result.elapsed", result.Elapsed.String()),
		)
	}

	span.End()
}

// TraceStep starts a span for one superstep.
func (t *Tracer) TraceStep(ctx context.Context, step int) trace.Span {
	if !t.enabled {
		return noop.Span{}
	}
	_, span := t.tracer.Start(ctx, "smc.step",
		trace.WithAttributes(
			attribute.Int("smc.step", step),
		),
	)
	return span
}

// TraceResample records a resampling event on the current span.
//
// Inputs:
//   - ctx: Context with span.
//   - step: The superstep at which resampling fired.
//   - strategy: Name of the resampling strategy.
//   - ess: Effective sample size that triggered the resample.
func (t *Tracer) TraceResample(ctx context.Context, step int, strategy string, ess float64) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent("resample",
			trace.WithAttributes(
				attribute.Int("step", step),
				attribute.String("strategy", strategy),
				attribute.Float64("ess", ess),
			),
		)
	}

	t.logger.Debug("resampling triggered",
		slog.Int("step", step),
		slog.String("strategy", strategy),
		slog.Float64("ess", ess),
	)
}

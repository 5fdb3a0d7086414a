// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads guided-generation run configuration with priority
// env > file > defaults, and builds the engine inputs (task, potentials,
// proposer) from it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSMC/engine"
	"github.com/AleutianAI/AleutianSMC/engine/potential"
	"github.com/AleutianAI/AleutianSMC/engine/proposer"
)

// RunConfig is the top-level configuration for one guided-generation run.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type RunConfig struct {
	// Task carries the engine task settings.
	Task TaskConfig `yaml:"task"`

	// Potentials lists the scoring functions steering the generation.
	Potentials []PotentialConfig `yaml:"potentials" validate:"dive"`

	// Proposer selects and configures the token-generation collaborator.
	Proposer ProposerConfig `yaml:"proposer"`

	// Observability contains tracing settings.
	Observability engine.ObservabilityConfig `yaml:"observability"`
}

// TaskConfig mirrors engine.GenerationTask for file-based configuration.
// Timeout is a Go duration string ("30s", "2m").
type TaskConfig struct {
	ID                  string   `yaml:"id"`
	Prompt              []string `yaml:"prompt"`
	ParticleCount       int      `yaml:"particle_count" validate:"min=0"`
	Workers             int      `yaml:"workers" validate:"min=0"`
	UseParallel         bool     `yaml:"use_parallel"`
	UseGPUBatch         bool     `yaml:"use_gpu_batch"`
	GPUDevices          int      `yaml:"gpu_devices" validate:"min=0"`
	BatchSize           int      `yaml:"batch_size" validate:"min=0"`
	BatchFallback       string   `yaml:"batch_fallback" validate:"omitempty,oneof=sequential fail"`
	Timeout             string   `yaml:"timeout"`
	MaxSteps            int      `yaml:"max_steps" validate:"min=0"`
	ResamplingThreshold float64  `yaml:"resampling_threshold" validate:"gte=0,lte=1"`
	Strategy            string   `yaml:"strategy" validate:"omitempty,oneof=systematic multinomial stratified"`
	Selection           string   `yaml:"selection" validate:"omitempty,oneof=max_weight weighted_sample"`
	Seed                int64    `yaml:"seed"`
	HardFailFatal       bool     `yaml:"hard_fail_fatal"`
	KeepFinalPopulation bool     `yaml:"keep_final_population"`
}

// PotentialConfig declares one potential by type.
type PotentialConfig struct {
	// Type selects the potential variant.
	Type string `yaml:"type" validate:"required,oneof=pattern style terminal_punctuation"`

	// Name labels the potential in logs. Defaults to Type.
	Name string `yaml:"name"`

	// Expr is the regular expression for pattern potentials.
	Expr string `yaml:"expr"`

	// PartialScore is the non-matching score for pattern and
	// terminal_punctuation potentials.
	PartialScore float64 `yaml:"partial_score" validate:"gte=0,lt=1"`

	// Keywords are the rewarded words for style potentials.
	Keywords []string `yaml:"keywords"`

	// Strength is the style potential's decay strength.
	Strength float64 `yaml:"strength" validate:"gte=0,lte=1"`
}

// ProposerConfig selects the token-generation collaborator.
type ProposerConfig struct {
	// Type is "openai" or "vocabulary". Default: vocabulary (offline demo).
	Type string `yaml:"type" validate:"omitempty,oneof=openai vocabulary"`

	// Model, SystemPrompt, MaxTokens, Temperature, and RequestsPerSecond
	// configure the OpenAI adapter.
	Model             string  `yaml:"model"`
	SystemPrompt      string  `yaml:"system_prompt"`
	MaxTokens         int     `yaml:"max_tokens" validate:"min=0"`
	Temperature       float32 `yaml:"temperature" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Vocabulary and Weights configure the offline vocabulary proposer.
	Vocabulary []string  `yaml:"vocabulary"`
	Weights    []float64 `yaml:"weights"`
}

// Default returns the default run configuration: an offline vocabulary
// proposer with a terminal-punctuation potential.
func Default() RunConfig {
	return RunConfig{
		Task: TaskConfig{
			ParticleCount:       8,
			MaxSteps:            64,
			ResamplingThreshold: 0.5,
			Strategy:            "systematic",
			Selection:           "max_weight",
		},
		Potentials: []PotentialConfig{
			{Type: "terminal_punctuation", PartialScore: 0.5},
		},
		Proposer: ProposerConfig{
			Type:       "vocabulary",
			Vocabulary: []string{"the", "quick", "brown", "fox", "jumps.", "runs!"},
		},
	}
}

// Load builds the run configuration with priority env > file > defaults.
//
// Inputs:
//   - path: Path to a YAML config file. Empty skips file loading.
//
// Outputs:
//   - RunConfig: Merged configuration.
//   - error: Non-nil when the file is unreadable, unparsable, or fails
//     validation.
func Load(path string) (RunConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	loadFromEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFromEnv(cfg *RunConfig) {
	if v := os.Getenv("SMC_PARTICLE_COUNT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Task.ParticleCount = i
		}
	}
	if v := os.Getenv("SMC_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Task.Workers = i
		}
	}
	if v := os.Getenv("SMC_MAX_STEPS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Task.MaxSteps = i
		}
	}
	if v := os.Getenv("SMC_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.Task.Timeout = v
		}
	}
	if v := os.Getenv("SMC_SEED"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Task.Seed = i
		}
	}
	if v := os.Getenv("SMC_STRATEGY"); v != "" {
		cfg.Task.Strategy = v
	}
	if v := os.Getenv("SMC_USE_PARALLEL"); v != "" {
		cfg.Task.UseParallel = v == "true" || v == "1"
	}
	if v := os.Getenv("SMC_TRACING_ENABLED"); v != "" {
		cfg.Observability.TracingEnabled = v == "true" || v == "1"
	}
}

// GenerationTask converts the file representation into the engine's task.
func (c RunConfig) GenerationTask() (engine.GenerationTask, error) {
	var timeout time.Duration
	if c.Task.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(c.Task.Timeout)
		if err != nil {
			return engine.GenerationTask{}, fmt.Errorf("parse timeout: %w", err)
		}
	}
	return engine.GenerationTask{
		ID:                  c.Task.ID,
		Prompt:              c.Task.Prompt,
		ParticleCount:       c.Task.ParticleCount,
		Workers:             c.Task.Workers,
		UseParallel:         c.Task.UseParallel,
		UseGPUBatch:         c.Task.UseGPUBatch,
		GPUDevices:          c.Task.GPUDevices,
		BatchSize:           c.Task.BatchSize,
		BatchFallbackMode:   engine.BatchFallback(c.Task.BatchFallback),
		Timeout:             timeout,
		MaxSteps:            c.Task.MaxSteps,
		ResamplingThreshold: c.Task.ResamplingThreshold,
		Strategy:            c.Task.Strategy,
		Selection:           engine.SelectionPolicy(c.Task.Selection),
		Seed:                c.Task.Seed,
		HardFailFatal:       c.Task.HardFailFatal,
		KeepFinalPopulation: c.Task.KeepFinalPopulation,
	}, nil
}

// BuildPotentials constructs the configured potentials in declaration
// order.
func (c RunConfig) BuildPotentials() ([]potential.Potential, error) {
	out := make([]potential.Potential, 0, len(c.Potentials))
	for i, pc := range c.Potentials {
		name := pc.Name
		if name == "" {
			name = pc.Type
		}
		switch pc.Type {
		case "pattern":
			p, err := potential.NewPattern(name, pc.Expr, pc.PartialScore)
			if err != nil {
				return nil, fmt.Errorf("potential %d: %w", i, err)
			}
			out = append(out, p)
		case "style":
			p, err := potential.NewStyle(name, pc.Keywords, pc.Strength)
			if err != nil {
				return nil, fmt.Errorf("potential %d: %w", i, err)
			}
			out = append(out, p)
		case "terminal_punctuation":
			p, err := potential.NewTerminalPunctuation(pc.PartialScore)
			if err != nil {
				return nil, fmt.Errorf("potential %d: %w", i, err)
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("potential %d: unknown type %q", i, pc.Type)
		}
	}
	return out, nil
}

// BuildProposer constructs the configured proposer. The OpenAI variant
// reads its API key from the OPENAI_API_KEY environment variable.
func (c RunConfig) BuildProposer() (proposer.Proposer, error) {
	switch c.Proposer.Type {
	case "", "vocabulary":
		return proposer.NewVocabulary(c.Proposer.Vocabulary, c.Proposer.Weights, c.Task.Seed)
	case "openai":
		return proposer.NewOpenAI(os.Getenv("OPENAI_API_KEY"), proposer.OpenAIConfig{
			Model:             c.Proposer.Model,
			SystemPrompt:      c.Proposer.SystemPrompt,
			MaxTokens:         c.Proposer.MaxTokens,
			Temperature:       c.Proposer.Temperature,
			RequestsPerSecond: c.Proposer.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown proposer type %q", c.Proposer.Type)
	}
}

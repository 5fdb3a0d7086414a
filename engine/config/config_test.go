// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Task.ParticleCount)
	assert.Equal(t, "systematic", cfg.Task.Strategy)
	assert.Equal(t, "vocabulary", cfg.Proposer.Type)
	require.Len(t, cfg.Potentials, 1)
	assert.Equal(t, "terminal_punctuation", cfg.Potentials[0].Type)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
task:
  id: demo
  prompt: ["once", "upon"]
  particle_count: 32
  use_parallel: true
  workers: 4
  timeout: 45s
  strategy: stratified
  selection: weighted_sample
  seed: 7
potentials:
  - type: pattern
    name: digits
    expr: "[0-9]+"
    partial_score: 0.25
  - type: style
    keywords: ["fast", "bright"]
    strength: 0.6
proposer:
  type: vocabulary
  vocabulary: ["a", "b"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Task.ID)
	assert.Equal(t, []string{"once", "upon"}, cfg.Task.Prompt)
	assert.Equal(t, 32, cfg.Task.ParticleCount)
	assert.Equal(t, "stratified", cfg.Task.Strategy)
	require.Len(t, cfg.Potentials, 2)

	task, err := cfg.GenerationTask()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, task.Timeout)
	assert.Equal(t, int64(7), task.Seed)

	pots, err := cfg.BuildPotentials()
	require.NoError(t, err)
	require.Len(t, pots, 2)
	assert.Equal(t, "digits", pots[0].Name())
	assert.Equal(t, "style", pots[1].Name(), "unnamed potentials default to their type")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
task:
  particle_count: 4
`)
	t.Setenv("SMC_PARTICLE_COUNT", "16")
	t.Setenv("SMC_STRATEGY", "multinomial")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Task.ParticleCount)
	assert.Equal(t, "multinomial", cfg.Task.Strategy)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "task: [not a map")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
task:
  strategy: bogus
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestGenerationTask_BadTimeout(t *testing.T) {
	cfg := Default()
	cfg.Task.Timeout = "soon"
	_, err := cfg.GenerationTask()
	assert.ErrorContains(t, err, "parse timeout")
}

func TestBuildPotentials_BadPattern(t *testing.T) {
	cfg := Default()
	cfg.Potentials = []PotentialConfig{{Type: "pattern", Expr: "["}}
	_, err := cfg.BuildPotentials()
	assert.Error(t, err)
}

func TestBuildProposer_Vocabulary(t *testing.T) {
	cfg := Default()
	p, err := cfg.BuildProposer()
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestBuildProposer_OpenAIWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := Default()
	cfg.Proposer.Type = "openai"
	_, err := cfg.BuildProposer()
	assert.Error(t, err)
}

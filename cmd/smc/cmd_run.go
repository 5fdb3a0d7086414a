// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSMC/engine"
	"github.com/AleutianAI/AleutianSMC/engine/config"
	"github.com/AleutianAI/AleutianSMC/pkg/logging"
)

// runResult is the JSON shape printed by `smc run --json`.
type runResult struct {
	Text           string   `json:"text"`
	Tokens         []string `json:"tokens"`
	StepsCompleted int      `json:"steps_completed"`
	TimedOut       bool     `json:"timed_out"`
	ElapsedMS      int64    `json:"elapsed_ms"`
}

// runGenerate executes one guided-generation task described by the
// config file and prints the selected sequence.
func runGenerate(cmd *cobra.Command, args []string) error {
	logger, closeLogs, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		LogDir:  logDir,
		Service: "smc",
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLogs()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(promptArgs) > 0 {
		cfg.Task.Prompt = promptArgs
	}

	task, err := cfg.GenerationTask()
	if err != nil {
		return err
	}
	potentials, err := cfg.BuildPotentials()
	if err != nil {
		return err
	}
	prop, err := cfg.BuildProposer()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", serveErr)
			}
		}()
		defer server.Close()
		logger.Info("serving metrics", "addr", metricsListen)
	}

	eng, err := engine.New(prop, potentials,
		engine.WithLogger(logger),
		engine.WithTracer(engine.NewTracer(logger, cfg.Observability)),
		engine.WithMetrics(engine.NewMetrics(registry)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Generate(ctx, task)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := runResult{
			Text:           strings.Join(result.BestSequence, " "),
			Tokens:         result.BestSequence,
			StepsCompleted: result.StepsCompleted,
			TimedOut:       result.TimedOut,
			ElapsedMS:      result.Elapsed.Milliseconds(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(strings.Join(result.BestSequence, " "))
	fmt.Fprintf(os.Stderr, "steps=%d elapsed=%s timed_out=%t\n",
		result.StepsCompleted, result.Elapsed.Round(time.Millisecond), result.TimedOut)
	return nil
}

// runValidate loads the config and reports the first problem found.
func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if _, err := cfg.GenerationTask(); err != nil {
		return err
	}
	if _, err := cfg.BuildPotentials(); err != nil {
		return err
	}
	if _, err := cfg.BuildProposer(); err != nil {
		return err
	}
	fmt.Println("configuration OK")
	return nil
}

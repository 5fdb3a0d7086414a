// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath    string
	logLevel      string
	logDir        string
	jsonOutput    bool
	metricsListen string
	promptArgs    []string

	rootCmd = &cobra.Command{
		Use:   "smc",
		Short: "A cli for guided text generation with sequential Monte Carlo",
		Long: `smc steers token-by-token generation with a particle population,
soft scoring potentials, and importance resampling, so the output
satisfies constraints a single greedy decode would miss.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one guided-generation task from a config file",
		RunE:  runGenerate, // Defined in cmd_run.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without running anything",
		RunE:  runValidate, // Defined in cmd_run.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML run configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")

	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON instead of text")
	runCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")
	runCmd.Flags().StringSliceVar(&promptArgs, "prompt", nil, "Prompt tokens, overriding the config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

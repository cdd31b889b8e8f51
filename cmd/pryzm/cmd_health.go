// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	healthJSONOutput  bool // Output as JSON
	healthBackendOnly bool // Skip the LLM generation probe
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// healthCmd probes the answer service.
//
// # Description
//
// Runs the liveness probe and, unless suppressed, the LLM generation
// probe, which asks the server's model for a short test completion.
// The generation probe is the one that catches the common failure mode
// of a healthy HTTP server sitting in front of a dead model backend.
//
// # Examples
//
//	pryzm health                   # Both probes, human-readable report
//	pryzm health --json            # JSON output for scripting
//	pryzm health --backend-only    # Fast liveness check, no model call
//
// # Limitations
//
//   - The LLM probe costs a real model round-trip and can take seconds
//
// # Assumptions
//
//   - The answer service URL comes from the loaded configuration
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Checks that the answer service and its model are responding",
	Long: `Probes the configured answer service.

The liveness probe confirms the HTTP server is up. The LLM probe sends a
short test prompt through the server's model and reports the sampled
output, catching servers that accept connections but cannot generate.

Examples:
  pryzm health                   # Full report
  pryzm health --json            # JSON output for automation
  pryzm health --backend-only    # Skip the model round-trip`,
	Run: runHealthCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")
	healthCmd.Flags().BoolVar(&healthBackendOnly, "backend-only", false,
		"Skip the LLM generation probe")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runHealthCommand executes the probes and displays the results.
//
// # Description
//
// Builds a health checker against the configured answer service URL,
// runs the requested probes, and renders either the human-readable or
// the JSON report.
//
// # Limitations
//
//   - Exits with code 1 when any requested probe fails
func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	checker := NewDefaultHealthChecker(HealthCheckerConfig{
		BaseURL: config.Global.Server.AnswerURL,
	})

	report, err := runHealthProbes(ctx, checker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}

	passed := probesPassed(report)
	if healthJSONOutput {
		outputHealthJSON(report, passed)
	} else {
		outputHealthReport(report)
	}

	if !passed {
		os.Exit(1)
	}
}

// probesPassed reports whether every probe that actually ran succeeded.
// With --backend-only the LLM fields are empty and must not count
// against the verdict.
func probesPassed(report *HealthReport) bool {
	if healthBackendOnly {
		return report.BackendErr == nil && report.Backend.Healthy()
	}
	return report.Healthy()
}

// runHealthProbes runs the probe set selected by the flags.
func runHealthProbes(ctx context.Context, checker HealthChecker) (*HealthReport, error) {
	if !healthBackendOnly {
		return checker.CheckAll(ctx)
	}

	started := time.Now()
	report := &HealthReport{}
	report.Backend, report.BackendErr = checker.CheckBackend(ctx)
	report.Duration = time.Since(started)
	return report, nil
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

// healthJSONView is the stable JSON shape for scripting. Probe errors
// flatten to strings because error values do not marshal.
type healthJSONView struct {
	Healthy      bool   `json:"healthy"`
	Backend      string `json:"backend"`
	BackendError string `json:"backend_error,omitempty"`
	LLM          string `json:"llm,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
	LLMError     string `json:"llm_error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// outputHealthJSON outputs the report as JSON.
func outputHealthJSON(report *HealthReport, passed bool) {
	view := healthJSONView{
		Healthy:    passed,
		DurationMs: report.Duration.Milliseconds(),
	}
	if report.Backend != nil {
		view.Backend = report.Backend.Status
	}
	if report.BackendErr != nil {
		view.BackendError = report.BackendErr.Error()
	}
	if report.LLM != nil {
		view.LLM = report.LLM.Status
		view.LLMModel = report.LLM.Model
	}
	if report.LLMErr != nil {
		view.LLMError = report.LLMErr.Error()
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(view); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputHealthReport outputs the human-readable report.
func outputHealthReport(report *HealthReport) {
	fmt.Printf("Answer service: %s\n\n", config.Global.Server.AnswerURL)

	if report.Backend != nil && report.Backend.Healthy() {
		fmt.Printf("  Backend  OK    status=%s\n", report.Backend.Status)
	} else if report.BackendErr != nil {
		fmt.Printf("  Backend  FAIL  %v\n", report.BackendErr)
	} else if report.Backend != nil {
		fmt.Printf("  Backend  FAIL  status=%s\n", report.Backend.Status)
	}

	if report.LLM != nil && report.LLM.Healthy() {
		fmt.Printf("  LLM      OK    model=%s sample=%q\n", report.LLM.Model, report.LLM.Sample)
	} else if report.LLMErr != nil {
		fmt.Printf("  LLM      FAIL  %v\n", report.LLMErr)
	} else if report.LLM != nil {
		fmt.Printf("  LLM      FAIL  status=%s\n", report.LLM.Status)
	}

	fmt.Printf("\nCompleted in %s\n", report.Duration.Round(time.Millisecond))
}

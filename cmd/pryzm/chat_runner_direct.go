// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the DirectChatRunner implementation.
//
// This file implements the ChatRunner interface for direct chat mode,
// which talks to OpenRouter without retrieval. There is no citation
// pipeline and no source panel; the service keeps the message history
// client-side so multi-turn context still works.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/internal/diagnostics"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
)

// =============================================================================
// DirectChatRunner Implementation
// =============================================================================

// DirectChatRunner implements ChatRunner for direct model chat.
//
// # Description
//
// DirectChatRunner manages the interactive chat loop for direct mode.
// It is deliberately simpler than RAGChatRunner: no conversation
// registry, no citation rewriting, no source commands. The streaming
// service holds the message history, so the runner only moves lines
// between the input reader, the service, and the UI.
//
// # Fields
//
//   - service: StreamingAnswerService backed by OpenRouter
//   - ui: ChatUI for display formatting (from pkg/ux)
//   - input: InputReader for user input (injectable for testing)
//   - metrics: Turn instrumentation (never nil in production)
//   - model: Model identifier for display in header
//   - webSearch: Whether turns route through the ":online" model variant
//   - sessionStartTime: When the session started (for duration tracking)
//   - sessionStats: Accumulated statistics for the session
//   - totalResponseTime: Sum of full-answer latencies (for the average)
//   - timedTurns: Number of turns that reported a latency
//   - closed: Flag to ensure Close() is idempotent
//   - mu: Mutex protecting closed flag
//
// # Thread Safety
//
// The runner itself is not designed for concurrent Run() calls.
// However, Close() is thread-safe and can be called from any goroutine.
//
// # Limitations
//
//   - Single use: cannot restart after Run() completes
//   - Message history is in-memory only; nothing survives exit
//
// # Assumptions
//
//   - Service is properly initialized before Run() is called
//   - Terminal is available for UI output
type DirectChatRunner struct {
	service           StreamingAnswerService
	ui                ux.ChatUI
	input             InputReader
	metrics           diagnostics.DiagnosticsMetrics
	model             string
	webSearch         bool
	sessionStartTime  time.Time
	sessionStats      ux.SessionStats
	totalResponseTime time.Duration
	timedTurns        int
	closed            bool
	mu                sync.Mutex
}

// NewDirectChatRunner creates a direct chat runner with production dependencies.
//
// # Description
//
// Creates a fully configured DirectChatRunner for production use.
// Initializes the OpenRouter streaming service, terminal UI, and stdin
// reader.
//
// Default values applied:
//   - Model defaults to "anthropic/claude-3.5-sonnet" if empty
//   - Personality defaults to ux.GetPersonality().Level if empty
//
// # Inputs
//
//   - config: DirectChatRunnerConfig with API key and model settings
//
// # Outputs
//
//   - ChatRunner: Ready to run chat session (returns interface type)
//
// # Examples
//
//	// Basic usage
//	runner := NewDirectChatRunner(DirectChatRunnerConfig{
//	    APIKey: apiKey,
//	})
//	defer runner.Close()
//	runner.Run(context.Background())
//
//	// Every turn through the model's web-connected variant
//	runner := NewDirectChatRunner(DirectChatRunnerConfig{
//	    APIKey:    apiKey,
//	    WebSearch: true,
//	})
//
// # Limitations
//
//   - Creates real HTTP client and stdin reader (not for unit tests)
//   - Use NewDirectChatRunnerWithDeps for testing
//
// # Assumptions
//
//   - APIKey is a valid OpenRouter key
//   - Terminal is available for UI output
func NewDirectChatRunner(config DirectChatRunnerConfig) ChatRunner {
	// Apply defaults
	model := config.Model
	if model == "" {
		model = "anthropic/claude-3.5-sonnet"
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}

	// Create production dependencies - streaming service for real-time output
	service := NewDirectStreamingAnswerService(DirectStreamingAnswerServiceConfig{
		APIKey:      config.APIKey,
		Model:       model,
		Writer:      os.Stdout,
		Personality: personality,
	})

	ui := ux.NewChatUI()
	input := NewStdinReader()

	return &DirectChatRunner{
		service:   service,
		ui:        ui,
		input:     input,
		metrics:   diagnostics.NewDefaultDiagnosticsMetrics(false),
		model:     model,
		webSearch: config.WebSearch,
		closed:    false,
	}
}

// NewDirectChatRunnerWithDeps creates a direct chat runner with injected dependencies.
//
// # Description
//
// Creates a DirectChatRunner with injected dependencies for testing.
// Allows mocking of service, UI, and input reader for unit tests.
//
// # Inputs
//
//   - service: StreamingAnswerService implementation (real or mock)
//   - ui: ChatUI instance (can use NewChatUIWithWriter for testing)
//   - input: InputReader implementation (use MockInputReader for testing)
//
// # Outputs
//
//   - *DirectChatRunner: Ready to run chat session (returns concrete type for testing)
//
// # Examples
//
//	mockService := &mockStreamingAnswerService{...}
//	mockInput := NewMockInputReader([]string{"hello", "exit"})
//	var buf bytes.Buffer
//	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)
//
//	runner := NewDirectChatRunnerWithDeps(mockService, ui, mockInput)
//	err := runner.Run(context.Background())
//
// # Limitations
//
//   - Caller is responsible for dependency lifecycle
//
// # Assumptions
//
//   - All dependencies are non-nil and properly initialized
//   - Service is ready to accept messages
func NewDirectChatRunnerWithDeps(
	service StreamingAnswerService,
	ui ux.ChatUI,
	input InputReader,
) *DirectChatRunner {
	return &DirectChatRunner{
		service: service,
		ui:      ui,
		input:   input,
		metrics: diagnostics.NewDefaultDiagnosticsMetrics(false),
		closed:  false,
	}
}

// Run executes the interactive direct chat loop.
//
// # Description
//
// Runs the main chat loop for direct mode. The loop:
//  1. Displays chat header with mode and model info
//  2. Prompts for user input
//  3. Checks for exit commands ("exit", "quit")
//  4. Streams the answer as it arrives
//  5. Repeats until exit or context cancellation
//
// Graceful shutdown:
//   - On context cancellation, prints session statistics and returns
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancel to trigger graceful shutdown.
//
// # Outputs
//
//   - error: nil on normal exit ("exit"/"quit"), context.Canceled on shutdown,
//     or error if fatal failure occurs
//
// # Limitations
//
//   - Blocks until exit condition
//   - Stdin reads cannot be interrupted mid-line
//   - Runner cannot be reused after Run() returns
//
// # Assumptions
//
//   - Service is ready to accept messages
//   - Terminal is available for UI output
func (r *DirectChatRunner) Run(ctx context.Context) error {
	// Record session start time for duration tracking
	r.sessionStartTime = time.Now()

	// Display header
	r.ui.Header(ux.HeaderConfig{
		Mode:      ux.ChatModeDirect,
		Model:     r.model,
		WebSearch: r.webSearch,
	})

	// Main chat loop
	for {
		// Check for context cancellation before blocking on input
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
			// Continue to read input
		}

		// Display prompt and read input
		fmt.Print(r.ui.Prompt())
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				// Input exhausted (e.g., piped input ended)
				r.displaySessionEndWithStats()
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		// Skip empty input
		if input == "" {
			continue
		}

		// Check for exit command
		if isExitCommand(input) {
			r.displaySessionEndWithStats()
			return nil
		}

		// Process the message
		if err := r.handleMessage(ctx, input); err != nil {
			// Check if error is due to context cancellation
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			// Non-fatal error: display and continue
			r.ui.Error(err)
			continue
		}
	}
}

// handleMessage processes a single user message.
//
// # Description
//
// Sends the message to the direct streaming service. The response is
// rendered in real-time as chunks arrive via the StreamRenderer.
// Unlike answer-server mode, direct chat does not display sources.
// Accumulates statistics from the result for session summary.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - message: User's input message
//
// # Outputs
//
//   - error: Non-nil if service call failed
//
// # Assumptions
//
//   - Message is non-empty (caller validates)
func (r *DirectChatRunner) handleMessage(ctx context.Context, message string) error {
	start := time.Now()

	// Streaming service renders chunks in real-time via StreamRenderer
	// No spinner needed - user sees text as it arrives
	result, err := r.service.SendMessage(ctx, message, r.webSearch)
	if err != nil {
		r.recordTurn(diagnostics.TurnOutcomeError, time.Since(start))
		return err
	}

	if result.HasError() {
		r.recordTurn(diagnostics.TurnOutcomeError, time.Since(start))
		return fmt.Errorf("%s", result.Error)
	}

	r.recordTurn(diagnostics.TurnOutcomeOK, time.Since(start))

	// Accumulate session statistics from this exchange
	r.accumulateStats(result)

	// Response already displayed during streaming
	fmt.Println()

	return nil
}

// accumulateStats updates session statistics from a stream result.
//
// # Description
//
// Aggregates metrics from a single message exchange into the session
// totals. Direct chat does not track sources or context tokens (no
// retrieval happens).
//
// # Inputs
//
//   - result: Stream result from the message exchange
//
// # Outputs
//
// None. Updates r.sessionStats in place.
//
// # Assumptions
//
//   - Result is non-nil (caller validates)
func (r *DirectChatRunner) accumulateStats(result *ux.StreamResult) {
	r.sessionStats.MessageCount++

	if r.webSearch {
		r.sessionStats.WebSearches++
	}

	// Track first response latency (only for first message)
	if r.sessionStats.MessageCount == 1 {
		r.sessionStats.FirstResponseLatency = result.TimeToFirstChunk()
	}

	if d := result.Duration(); d > 0 {
		r.totalResponseTime += d
		r.timedTurns++
		r.sessionStats.AverageResponseTime = r.totalResponseTime / time.Duration(r.timedTurns)
	}
}

// recordTurn feeds the turn counters.
func (r *DirectChatRunner) recordTurn(outcome string, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordTurn(diagnostics.TurnModeDirect, outcome, elapsed.Milliseconds())
}

// displaySessionEndWithStats displays session end with accumulated statistics.
//
// # Description
//
// Finalizes session statistics and displays the rich session end
// summary. Calculates session duration from start time.
//
// # Assumptions
//
//   - Session start time was recorded
func (r *DirectChatRunner) displaySessionEndWithStats() {
	// Finalize duration
	r.sessionStats.Duration = time.Since(r.sessionStartTime)

	// Display rich session end
	r.ui.SessionEndRich(&r.sessionStats)
}

// handleShutdown performs graceful shutdown.
//
// # Description
//
// Called when context is cancelled. Message history is in-memory by
// design, so there is nothing to persist: the shutdown logs, prints
// the statistics footer, and returns the context error.
//
// # Inputs
//
//   - ctx: The cancelled context
//
// # Outputs
//
//   - error: The context's error (typically context.Canceled)
//
// # Assumptions
//
//   - Context is already cancelled
func (r *DirectChatRunner) handleShutdown(ctx context.Context) error {
	slog.Info("graceful shutdown initiated",
		"messages", r.sessionStats.MessageCount,
	)

	// Display session end with statistics
	fmt.Println() // New line after interrupted input
	r.displaySessionEndWithStats()

	return ctx.Err()
}

// Close releases all resources held by the runner.
//
// # Description
//
// Closes the underlying service and marks the runner as closed.
// Safe to call multiple times (idempotent).
// Should be called after Run() returns, typically via defer.
//
// # Outputs
//
//   - error: Non-nil if service Close() failed
//
// # Limitations
//
//   - Does not interrupt Run() if still executing
//
// # Assumptions
//
//   - Run() has returned (or was never called)
func (r *DirectChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}
	r.closed = true

	return r.service.Close()
}

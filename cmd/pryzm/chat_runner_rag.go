// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the RAGChatRunner implementation.
//
// This file implements the ChatRunner interface for answer-server chat mode.
// It coordinates between the StreamingAnswerService (HTTP/SSE), the
// conversation state (source registry and citation rewriting), the ChatUI
// (display), and the InputReader (user input) to provide an interactive
// chat experience with inline citations that stay valid across turns.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/internal/diagnostics"
	"github.com/AleutianAI/PryzmChat/pkg/citation"
	"github.com/AleutianAI/PryzmChat/pkg/conversation"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
)

// =============================================================================
// RAGChatRunner Implementation
// =============================================================================

// RAGChatRunner implements ChatRunner for retrieval-backed streaming chat.
//
// # Description
//
// RAGChatRunner manages the interactive chat loop for answer-server mode.
// It coordinates between the streaming service (HTTP/SSE), the
// conversation state (source merging, citation renumbering), the UI
// (headers, panels, errors), and user input.
//
// The runner follows a single-responsibility pattern:
//   - Input reading is delegated to InputReader
//   - Service communication is delegated to StreamingAnswerService
//   - Source and citation bookkeeping is delegated to pkg/conversation
//   - Display formatting is delegated to ChatUI
//   - Runner only handles coordination and control flow
//
// # Fields
//
//   - service: StreamingAnswerService for answer requests
//   - sourceClient: SourceClient for /source page fetches
//   - ui: ChatUI for display formatting (from pkg/ux)
//   - input: InputReader for user input (injectable for testing)
//   - conv: Conversation state (transcript, registry, citation rewrite)
//   - metrics: Turn and registry instrumentation (never nil in production)
//   - tracer: Span exporter wrapping each turn (never nil in production)
//   - serverURL: Answer server URL for display in header
//   - maxSources: Evidence budget per question for display in header
//   - useReranking: Whether server-side reranking is on
//   - forceWebSearch: Whether every turn goes through web search
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
//   - Conversation state is in-memory only; nothing survives exit
//   - Stdin reads cannot be interrupted mid-line (OS limitation)
//
// # Assumptions
//
//   - Service is properly initialized before Run() is called
//   - UI is ready for output (terminal is available)
//   - Context cancellation is set up by caller for graceful shutdown
type RAGChatRunner struct {
	service           StreamingAnswerService
	sourceClient      SourceClient
	ui                ux.ChatUI
	input             InputReader
	conv              *conversation.Conversation
	metrics           diagnostics.DiagnosticsMetrics
	tracer            diagnostics.DiagnosticsTracer
	serverURL         string
	maxSources        int
	useReranking      bool
	forceWebSearch    bool
	sessionStartTime  time.Time
	sessionStats      ux.SessionStats
	totalResponseTime time.Duration
	timedTurns        int
	closed            bool
	mu                sync.Mutex
}

// NewRAGChatRunner creates a RAG chat runner with production dependencies.
//
// # Description
//
// Creates a fully configured RAGChatRunner for production use.
// Initializes the streaming service, source client, terminal UI,
// conversation state, and interactive input reader.
//
// Default values applied:
//   - MaxSources defaults to 15 if zero
//   - Personality defaults to ux.GetPersonality().Level if empty
//
// # Inputs
//
//   - config: RAGChatRunnerConfig with baseURL and retrieval settings
//
// # Outputs
//
//   - ChatRunner: Ready to run chat session (returns interface type)
//
// # Examples
//
//	runner := NewRAGChatRunner(RAGChatRunnerConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	defer runner.Close()
//
//	ctx := context.Background()
//	if err := runner.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - Creates real HTTP client and stdin reader (not for unit tests)
//   - Use NewRAGChatRunnerWithDeps for testing
//
// # Assumptions
//
//   - BaseURL is valid and the answer server is reachable
//   - Terminal is available for UI output
func NewRAGChatRunner(config RAGChatRunnerConfig) ChatRunner {
	// Apply defaults
	maxSources := config.MaxSources
	if maxSources <= 0 {
		maxSources = 15
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}

	// Create production dependencies - streaming service for real-time output
	service := NewRAGStreamingAnswerService(StreamingAnswerServiceConfig{
		BaseURL:      config.BaseURL,
		MaxSources:   maxSources,
		UseReranking: config.UseReranking,
		Writer:       os.Stdout,
		Personality:  personality,
	})

	sourceClient := NewSourceClient(SourceClientConfig{
		BaseURL: config.BaseURL,
	})

	ui := ux.NewChatUI()
	input := NewInteractiveInputReader(50) // Keep last 50 prompts in history

	metrics := config.Metrics
	if metrics == nil {
		metrics = diagnostics.NewDefaultDiagnosticsMetrics(false)
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = diagnostics.NewNoOpDiagnosticsTracer("pryzm-cli")
	}

	return &RAGChatRunner{
		service:        service,
		sourceClient:   sourceClient,
		ui:             ui,
		input:          input,
		conv:           conversation.New(),
		metrics:        metrics,
		tracer:         tracer,
		serverURL:      config.BaseURL,
		maxSources:     maxSources,
		useReranking:   config.UseReranking,
		forceWebSearch: config.WebSearch,
		closed:         false,
	}
}

// NewRAGChatRunnerWithDeps creates a RAG chat runner with injected dependencies.
//
// # Description
//
// Creates a RAGChatRunner with injected dependencies for testing.
// Allows mocking of service, source client, UI, and input reader.
//
// # Inputs
//
//   - service: StreamingAnswerService implementation (real or mock)
//   - sourceClient: SourceClient implementation (real or mock, may be nil)
//   - ui: ChatUI instance (can use NewChatUIWithWriter for testing)
//   - input: InputReader implementation (use MockInputReader for testing)
//
// # Outputs
//
//   - *RAGChatRunner: Ready to run chat session (returns concrete type for testing)
//
// # Examples
//
//	// Test setup
//	mockService := &mockStreamingAnswerService{
//	    sendMessageFunc: func(ctx context.Context, q string, web bool) (*ux.StreamResult, error) {
//	        return &ux.StreamResult{Answer: "Hello!"}, nil
//	    },
//	}
//	mockInput := NewMockInputReader([]string{"hello", "exit"})
//	var buf bytes.Buffer
//	ui := ux.NewChatUIWithWriter(&buf, ux.PersonalityMachine)
//
//	runner := NewRAGChatRunnerWithDeps(mockService, nil, ui, mockInput)
//	err := runner.Run(context.Background())
//
// # Limitations
//
//   - Caller is responsible for dependency lifecycle
//   - Dependencies must be properly initialized before passing
//
// # Assumptions
//
//   - service, ui, and input are non-nil
func NewRAGChatRunnerWithDeps(
	service StreamingAnswerService,
	sourceClient SourceClient,
	ui ux.ChatUI,
	input InputReader,
) *RAGChatRunner {
	return &RAGChatRunner{
		service:      service,
		sourceClient: sourceClient,
		ui:           ui,
		input:        input,
		conv:         conversation.New(),
		metrics:      diagnostics.NewDefaultDiagnosticsMetrics(false),
		tracer:       diagnostics.NewNoOpDiagnosticsTracer("pryzm-cli"),
		maxSources:   15,
		closed:       false,
	}
}

// Run executes the interactive RAG chat loop.
//
// # Description
//
// Runs the main chat loop for answer-server mode. The loop:
//  1. Displays chat header with server and retrieval info
//  2. Prompts for user input
//  3. Checks for exit commands ("exit", "quit") and slash commands
//  4. Streams the answer as it arrives
//  5. Renders renumbered citations and the source panel via UI
//  6. Repeats until exit or context cancellation
//
// When local retrieval finds nothing, the server's error names it and
// the runner offers to retry the same question through web search. The
// retry replays the question with a suppressed transcript entry so the
// visible conversation shows it only once.
//
// Graceful shutdown:
//   - On context cancellation, prints session statistics and returns
//   - The in-flight turn is abandoned without committing
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
// # Examples
//
//	runner := NewRAGChatRunner(config)
//	defer runner.Close()
//
//	// With graceful shutdown
//	ctx, cancel := context.WithCancel(context.Background())
//	go func() {
//	    sigCh := make(chan os.Signal, 1)
//	    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
//	    <-sigCh
//	    cancel()
//	}()
//	err := runner.Run(ctx)
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
//   - Input source provides newline-terminated lines
func (r *RAGChatRunner) Run(ctx context.Context) error {
	// Record session start time for duration tracking
	r.sessionStartTime = time.Now()

	r.ui.Header(ux.HeaderConfig{
		Mode:       ux.ChatModeAnswer,
		ServerURL:  r.serverURL,
		MaxSources: r.maxSources,
		Reranking:  r.useReranking,
		WebSearch:  r.forceWebSearch,
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
		// If the reader handles prompts (interactive mode), set it; otherwise print manually
		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.ui.Prompt())
		} else {
			fmt.Print(r.ui.Prompt())
		}
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

		// Echo the user's input for interactive readers
		// Bubbletea clears its rendering area on exit, so we restore the visual line
		if _, isInteractive := r.input.(*InteractiveInputReader); isInteractive {
			fmt.Printf("%s%s\n", r.ui.Prompt(), input)
		}

		// Check for exit command
		if isExitCommand(input) {
			r.displaySessionEndWithStats()
			return nil
		}

		// Slash commands never hit the answer server except /web
		if strings.HasPrefix(input, "/") {
			if err := r.handleCommand(ctx, input); err != nil {
				if ctx.Err() != nil {
					return r.handleShutdown(ctx)
				}
				r.ui.Error(err)
			}
			continue
		}

		// Process the message
		if err := r.handleMessage(ctx, input, r.forceWebSearch); err != nil {
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
// Records the question in the transcript and runs the request/commit
// cycle. The answer is rendered in real-time as chunks arrive via the
// StreamRenderer; citation renumbering and the source panel follow once
// the turn commits.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - question: User's input message
//   - useWebSearch: Whether to send the question through web search
//
// # Outputs
//
//   - error: Non-nil if the turn failed
//
// # Limitations
//
//   - Streaming requires server SSE support
//
// # Assumptions
//
//   - Question is non-empty (caller validates)
func (r *RAGChatRunner) handleMessage(ctx context.Context, question string, useWebSearch bool) error {
	r.conv.AddUser(question)
	return r.processTurn(ctx, question, useWebSearch)
}

// processTurn runs one request/commit cycle, including the web retry offer.
//
// # Description
//
// Sends the question, resolves the finished stream against the turn,
// and renders the outcome. Two paths lead to a web retry offer:
//
//   - The stream ended in an empty-retrieval error. The turn was
//     discarded; accepting replays the question through web search.
//   - The answer committed but the server suggested web search (the
//     no-evidence fallback answer). Accepting asks again via the web.
//
// A retry replays the question with a suppressed transcript entry so
// the visible conversation shows the question only once.
func (r *RAGChatRunner) processTurn(ctx context.Context, question string, useWebSearch bool) (err error) {
	start := time.Now()

	ctx, finish := r.tracer.StartSpan(ctx, "chat.turn", map[string]string{
		"web_search": strconv.FormatBool(useWebSearch),
	})
	defer func() { finish(err) }()

	outcome, result, err := r.runTurn(ctx, question, useWebSearch)
	if err != nil {
		var turnErr *conversation.TurnError
		if errors.As(err, &turnErr) {
			r.recordTurn(useWebSearch, diagnostics.TurnOutcomeError, time.Since(start))
			if turnErr.CanRetryWithWeb && !useWebSearch {
				r.ui.Error(turnErr)
				return r.offerWebRetry(ctx, question)
			}
		}
		return err
	}

	if !outcome.Committed {
		// A reset raced the stream; the turn was dropped, nothing to show
		slog.Debug("turn dropped by reset", "question_len", len(question))
		return nil
	}

	r.recordTurn(outcome.UsedWebSearch, diagnostics.TurnOutcomeOK, time.Since(start))
	r.accumulateStats(result, outcome)
	r.renderOutcome(outcome)
	fmt.Println()

	if result.SuggestWebSearch && !outcome.UsedWebSearch {
		return r.offerWebRetry(ctx, question)
	}

	return nil
}

// runTurn binds one service call to one conversation turn.
//
// # Description
//
// Opens a turn with a cancel hook so a conversation reset can abort the
// request mid-flight, sends the question, and applies the result.
// Transport failures discard the turn and surface as plain errors;
// stream errors surface as *conversation.TurnError.
func (r *RAGChatRunner) runTurn(ctx context.Context, question string, useWebSearch bool) (*conversation.TurnOutcome, *ux.StreamResult, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	turn := r.conv.BeginTurn(cancel)

	result, err := r.service.SendMessage(turnCtx, question, useWebSearch)
	if err != nil {
		turn.Discard()
		return nil, nil, err
	}

	outcome, err := conversation.ApplyResult(turn, result, useWebSearch)
	if err != nil {
		return nil, result, err
	}
	return outcome, result, nil
}

// offerWebRetry asks whether to replay the question through web search.
//
// # Description
//
// Shown when local retrieval found nothing for the question. Declining
// leaves the conversation as it is. Accepting records a suppressed copy
// of the question and reruns the turn with web search on.
//
// In non-interactive sessions the confirm resolves to its default (yes)
// so piped input still reaches an answer.
func (r *RAGChatRunner) offerWebRetry(ctx context.Context, question string) error {
	confirmed, err := ux.Confirm(
		"Search the web?",
		"Retry this question with live web results.",
		true,
	)
	if err != nil {
		slog.Warn("web retry prompt failed", "error", err)
		return nil
	}
	if !confirmed {
		return nil
	}

	r.conv.AddUserSuppressed(question)
	return r.processTurn(ctx, question, true)
}

// renderOutcome displays the committed turn's citation and source state.
//
// # Description
//
// The streamed text showed compact citation numbers. When the stable
// rewrite moved any of them, the renumbering notice and a re-render of
// the final text replace what streaming put on screen. The source panel
// follows, except for web turns, whose results are never merged.
func (r *RAGChatRunner) renderOutcome(outcome *conversation.TurnOutcome) {
	if markersMoved(outcome.Renumbered) {
		r.ui.CitationsRenumbered(outcome.Renumbered)
		r.ui.Response(outcome.Message.Content)
		if r.metrics != nil {
			r.metrics.RecordRenumberedTurn()
		}
	}

	if outcome.UsedWebSearch {
		r.ui.WebSearchNotice()
		return
	}

	if len(outcome.Panel) == 0 {
		r.ui.NoSources()
		return
	}
	r.ui.Sources(outcome.Panel)
}

// markersMoved reports whether any citation marker changed number.
func markersMoved(mapping citation.Mapping) bool {
	for from, to := range mapping {
		if from != to {
			return true
		}
	}
	return false
}

// handleCommand dispatches a slash command.
//
// # Description
//
// Commands operate on local conversation state except /source (fetches
// a page from the server) and /web (runs a web-search turn). Unknown
// commands produce a toast, not an error, so a typo never interrupts
// the session.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - input: The raw input line, starting with "/"
//
// # Outputs
//
//   - error: Non-nil if a server-backed command failed
func (r *RAGChatRunner) handleCommand(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "/help":
		r.showHelp()
		return nil

	case "/sources":
		records := r.conv.Registry().Records()
		if len(records) == 0 {
			r.ui.NoSources()
			return nil
		}
		r.ui.Sources(records)
		return nil

	case "/source":
		return r.handleSourceCommand(ctx, args)

	case "/new":
		r.handleNewCommand()
		return nil

	case "/web":
		question := strings.TrimSpace(strings.TrimPrefix(input, "/web"))
		if question == "" {
			r.ui.Toast("Usage: /web <question>")
			return nil
		}
		r.conv.AddUser(question)
		return r.processTurn(ctx, question, true)

	default:
		r.ui.Toast(fmt.Sprintf("Unknown command %q. Type /help for the command list.", command))
		return nil
	}
}

// handleSourceCommand fetches and displays the page behind a citation.
//
// # Description
//
// The rank is validated against the conversation's registry before any
// request goes out, so a stale or mistyped number produces a toast
// instead of a server round-trip. A page the server no longer has also
// degrades to a toast; only transport failures surface as errors.
//
// # Inputs
//
//   - ctx: Context for cancellation
//   - args: Command arguments; exactly one, the citation rank
func (r *RAGChatRunner) handleSourceCommand(ctx context.Context, args []string) error {
	if len(args) != 1 {
		r.ui.Toast("Usage: /source <rank>")
		return nil
	}

	rank, err := strconv.Atoi(args[0])
	if err != nil {
		r.ui.Toast(fmt.Sprintf("Not a citation number: %q", args[0]))
		return nil
	}

	record, ok := r.conv.SourceAt(rank)
	if !ok {
		r.ui.Toast(fmt.Sprintf("No source [%d] in this conversation. Use /sources to list them.", rank))
		return nil
	}

	if r.sourceClient == nil {
		r.ui.Toast("Source pages are not available in this session.")
		return nil
	}

	page, err := r.sourceClient.GetSourcePage(ctx, record.DocID, record.PageNo)
	if err != nil {
		if errors.Is(err, ErrSourcePageNotFound) {
			r.ui.Toast(fmt.Sprintf("Page %d of %s is no longer available.", record.PageNo, record.DocID))
			return nil
		}
		return fmt.Errorf("fetch source page: %w", err)
	}

	r.ui.SourcePage(*page)
	return nil
}

// handleNewCommand clears the conversation after confirmation.
//
// # Description
//
// Resetting drops the transcript and the source registry, and cancels
// an in-flight request if one races this command. Stable citation
// numbering restarts from [1] on the next answer.
func (r *RAGChatRunner) handleNewCommand() {
	confirmed, err := ux.Confirm(
		"Start a new conversation?",
		"The transcript and collected sources will be cleared.",
		false,
	)
	if err != nil {
		slog.Warn("reset prompt failed", "error", err)
		return
	}
	if !confirmed {
		return
	}

	r.conv.Reset()
	if r.metrics != nil {
		r.metrics.RecordRegistrySize(0)
	}
	r.ui.Toast("Conversation cleared.")
}

// showHelp prints the slash command list.
func (r *RAGChatRunner) showHelp() {
	fmt.Println()
	fmt.Println(ux.Styles.Muted.Render("  /sources          list the sources collected this conversation"))
	fmt.Println(ux.Styles.Muted.Render("  /source <rank>    fetch the full page behind citation [rank]"))
	fmt.Println(ux.Styles.Muted.Render("  /web <question>   answer one question from live web search"))
	fmt.Println(ux.Styles.Muted.Render("  /new              start a new conversation"))
	fmt.Println(ux.Styles.Muted.Render("  exit, quit        end the session"))
	fmt.Println()
}

// accumulateStats updates session statistics from a committed turn.
//
// # Description
//
// Aggregates metrics from a single exchange into the session totals.
// Called after each committed turn for the session summary.
//
// # Inputs
//
//   - result: Stream result from the exchange
//   - outcome: The committed turn outcome
//
// # Outputs
//
// None. Updates r.sessionStats in place.
//
// # Limitations
//
//   - Turns without timing data are excluded from the average
//
// # Assumptions
//
//   - Result and outcome are non-nil (caller validates)
func (r *RAGChatRunner) accumulateStats(result *ux.StreamResult, outcome *conversation.TurnOutcome) {
	r.sessionStats.MessageCount++
	r.sessionStats.ContextTokens += result.ContextTokens
	r.sessionStats.SourcesUsed = r.conv.Registry().Len()

	if outcome.UsedWebSearch {
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
func (r *RAGChatRunner) recordTurn(usedWeb bool, outcome string, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	mode := diagnostics.TurnModeRAG
	if usedWeb {
		mode = diagnostics.TurnModeWeb
	}
	r.metrics.RecordTurn(mode, outcome, elapsed.Milliseconds())
	r.metrics.RecordRegistrySize(r.conv.Registry().Len())
}

// displaySessionEndWithStats displays session end with accumulated statistics.
//
// # Description
//
// Finalizes session statistics and displays the rich session end
// summary. Calculates session duration from start time.
//
// # Limitations
//
//   - Duration is approximate (wall clock time)
//
// # Assumptions
//
//   - Session start time was recorded
func (r *RAGChatRunner) displaySessionEndWithStats() {
	// Finalize duration
	r.sessionStats.Duration = time.Since(r.sessionStartTime)

	// Display rich session end
	r.ui.SessionEndRich(&r.sessionStats)
}

// handleShutdown performs graceful shutdown.
//
// # Description
//
// Called when context is cancelled. Conversation state is in-memory by
// design, so there is nothing to persist: the shutdown logs the session
// shape, prints the statistics footer, and returns the context error.
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
func (r *RAGChatRunner) handleShutdown(ctx context.Context) error {
	slog.Info("graceful shutdown initiated",
		"messages", r.conv.Len(),
		"sources", r.conv.Registry().Len(),
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
// Closes the underlying services and marks the runner as closed.
// Safe to call multiple times (idempotent).
// Should be called after Run() returns, typically via defer.
//
// # Outputs
//
//   - error: Non-nil if service Close() failed
//
// # Examples
//
//	runner := NewRAGChatRunner(config)
//	defer runner.Close()  // Always close, even on error
//	err := runner.Run(ctx)
//
// # Limitations
//
//   - Does not interrupt Run() if still executing
//
// # Assumptions
//
//   - Run() has returned (or was never called)
func (r *RAGChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil // Already closed, idempotent
	}
	r.closed = true

	if r.sourceClient != nil {
		if err := r.sourceClient.Close(); err != nil {
			slog.Warn("failed to close source client", "error", err)
		}
	}
	return r.service.Close()
}

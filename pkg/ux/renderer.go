// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the Pryzm CLI.
//
// This file contains stream renderers that display streaming answer events
// to various outputs (terminal, buffer, etc.).
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP.
//	Each method handles exactly one event type, enabling clean composition.
//
// Renderer Types:
//
//   - TerminalStreamRenderer: Interactive terminal with spinner and paced reveal
//   - BufferStreamRenderer: In-memory buffer for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Helper Functions
// =============================================================================

// pageSpan formats an inclusive page range as "p.12" or "p.12-14".
// Returns "" when the range is empty.
func pageSpan(pageRange []int) string {
	if len(pageRange) == 0 {
		return ""
	}
	start := pageRange[0]
	end := pageRange[len(pageRange)-1]
	if end <= start {
		return fmt.Sprintf("p.%d", start)
	}
	return fmt.Sprintf("p.%d-%d", start, end)
}

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders streaming answer events to an output destination.
//
// Each method handles exactly one event type. The renderer owns all
// output-related state (spinner, reveal scheduler, buffers). Callers should
// invoke methods in the order events are received.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent calls.
//
// Lifecycle:
//
//  1. Create renderer with New*StreamRenderer()
//  2. Call OnStatus for locally synthesized progress messages
//  3. Call OnMetadata/OnChunk/OnDone/OnError as wire events arrive
//  4. Call Finalize() when the stream ends (always, even on error)
//  5. Call Result() to get the aggregated result
//
// Example:
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
//
//	renderer.OnStatus(ctx, "Searching the knowledge base...")
//	err := reader.Read(ctx, body, func(event StreamEvent) error {
//	    switch event.Type {
//	    case StreamEventMetadata:
//	        renderer.OnMetadata(ctx, event)
//	    case StreamEventContent:
//	        renderer.OnChunk(ctx, event.Chunk)
//	    case StreamEventDone:
//	        renderer.OnDone(ctx, event)
//	    case StreamEventError:
//	        renderer.OnError(ctx, fmt.Errorf("%s", event.Message))
//	    }
//	    return nil
//	})
//
//	result := renderer.Result()
type StreamRenderer interface {
	// OnStatus renders a locally synthesized progress message.
	//
	// Status messages never arrive on the wire; the caller emits them
	// around the request lifecycle (e.g., "Searching the knowledge
	// base..." right after the request is sent).
	//
	// In interactive mode, starts or updates a spinner. In machine mode,
	// prints "STATUS: message".
	OnStatus(ctx context.Context, message string)

	// OnMetadata records the retrieved sources and model information.
	//
	// Metadata arrives once, before the first content chunk. The sources
	// are recorded on the result for the conversation layer; interactive
	// mode does not print them here because the registry assigns final
	// ranks only after the turn is merged.
	OnMetadata(ctx context.Context, event StreamEvent)

	// OnChunk renders one content chunk of the answer.
	//
	// In interactive mode, the first chunk stops the spinner and starts
	// the paced reveal; subsequent chunks feed it. In machine mode,
	// chunks are buffered until OnDone.
	//
	// Chunks must arrive in order; out-of-order delivery produces
	// garbled output.
	OnChunk(ctx context.Context, chunk string)

	// OnDone signals stream completion.
	//
	// Records latency, applies the done event's fallback fields (answer,
	// sources, model) when the corresponding events were missed, and in
	// interactive mode drains the remaining reveal backlog before
	// returning.
	OnDone(ctx context.Context, event StreamEvent)

	// OnError renders an error that ended the stream.
	//
	// Stops the spinner and halts the reveal where it stands; the rest
	// of the text is not coming. After OnError, only Finalize() and
	// Result() should be called.
	OnError(ctx context.Context, err error)

	// Finalize performs cleanup (stop spinner and reveal, flush buffers).
	//
	// MUST be called when streaming ends, even if abnormally. Safe to
	// call multiple times; subsequent calls are no-ops. Typically called
	// with defer immediately after creating the renderer.
	Finalize()

	// Result returns the accumulated result.
	//
	// Contains the full answer, sources, model, latency, and metrics.
	// May be called before Finalize() for partial results. The answer is
	// always the complete received text regardless of how far the paced
	// reveal has progressed.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders streaming answer events to a terminal.
//
// This is the primary renderer for user-facing output. Interactive
// personalities get a spinner while the backend retrieves and a paced
// character reveal once content starts flowing; machine mode buffers
// everything and emits KEY: value lines at completion.
//
// Personality Modes:
//
//   - PersonalityFull/Standard/Minimal: Spinner, paced reveal, styled errors
//   - PersonalityMachine: STATUS:/SOURCE:/ANSWER:/MODEL:/LATENCY_MS:/DONE lines
//
// Thread Safety:
//
//	All methods are protected by a mutex. The reveal scheduler's sink
//	writes directly to the writer and never takes the renderer mutex, so
//	draining under the lock cannot deadlock.
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	scheduler   *DisplayScheduler
	result      StreamResult
	mu          sync.Mutex

	// State tracking
	answerBuilder   strings.Builder
	sawMetadata     bool
	hasWrittenChunk bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for terminal output.
//
// Parameters:
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling. Use GetPersonality().Level for
//     the user's configured personality, or hardcode for specific behavior.
//
// Returns:
//
//	A StreamRenderer whose internal result already has Id and CreatedAt set.
//
// Example:
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result:      NewStreamResult(),
	}
}

// OnStatus renders a locally synthesized progress message.
//
// Behavior by personality:
//   - Interactive: Starts a spinner with the message, or updates the
//     running spinner. Ignored once content has started flowing.
//   - PersonalityMachine: Prints "STATUS: {message}\n" immediately.
func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}

	// Once the answer is streaming there is no line left for a spinner.
	if r.hasWrittenChunk {
		return
	}

	if r.spinner == nil {
		r.spinner = NewSpinner(message)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

// OnMetadata records the retrieved sources and model information.
//
// Behavior by personality:
//   - Interactive: Updates the spinner message to reflect that retrieval
//     is done and generation has started. Sources are NOT printed here;
//     the conversation layer renders them with final ranks after the
//     turn is merged into the registry.
//   - PersonalityMachine: Prints one "SOURCE: ..." line per evidence item
//     immediately.
//
// Side Effects:
//   - Appends event.Sources to result.Sources
//   - Records UsedModel and SuggestWebSearch on the result
func (r *terminalStreamRenderer) OnMetadata(ctx context.Context, event StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalEvents++
	r.sawMetadata = true
	r.result.Sources = append(r.result.Sources, event.Sources...)
	r.result.ContextTokens += event.TotalTokens
	if event.UsedModel != "" {
		r.result.UsedModel = event.UsedModel
	}
	if event.SuggestWebSearch {
		r.result.SuggestWebSearch = true
	}

	if r.personality == PersonalityMachine {
		for _, item := range event.Sources {
			r.printSourceLine(item)
		}
		return
	}

	if r.spinner != nil {
		if n := len(event.Sources); n == 1 {
			r.spinner.UpdateMessage("Drafting answer from 1 source...")
		} else if n > 1 {
			r.spinner.UpdateMessage(fmt.Sprintf("Drafting answer from %d sources...", n))
		} else {
			r.spinner.UpdateMessage("Drafting answer...")
		}
	}
}

// printSourceLine emits one machine-readable source line.
// Callers must hold r.mu.
func (r *terminalStreamRenderer) printSourceLine(item EvidenceItem) {
	line := fmt.Sprintf("SOURCE: %s doc=%s", item.Citation, item.DocID)
	if span := pageSpan(item.PageRange); span != "" {
		line += " " + span
	}
	if item.RerankScore != nil {
		line += fmt.Sprintf(" rerank=%.4f", *item.RerankScore)
	} else if item.RRFScore != nil {
		line += fmt.Sprintf(" rrf=%.4f", *item.RRFScore)
	}
	fmt.Fprintln(r.writer, line)
}

// OnChunk renders one content chunk of the answer.
//
// Behavior by personality:
//   - Interactive: On the first chunk, stops the spinner, prints a
//     newline, and starts the paced reveal; every chunk is both
//     accumulated and fed to the reveal scheduler.
//   - PersonalityMachine: Buffers the chunk. The full answer is printed
//     as a single "ANSWER: {content}" line when OnDone is called.
//
// Side Effects:
//   - Sets FirstChunkAt on first call
//   - Increments TotalChunks and TotalEvents in result
func (r *terminalStreamRenderer) OnChunk(ctx context.Context, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if !r.hasWrittenChunk {
		r.hasWrittenChunk = true
		r.result.FirstChunkAt = time.Now().UnixMilli()

		if r.spinner != nil {
			r.spinner.Stop()
			r.spinner = nil
			if r.personality != PersonalityMachine {
				fmt.Fprintln(r.writer) // New line after spinner
			}
		}

		if r.personality != PersonalityMachine {
			w := r.writer
			r.scheduler = NewDisplayScheduler(func(part string) {
				fmt.Fprint(w, part)
			})
			r.scheduler.Start()
		}
	}

	r.answerBuilder.WriteString(chunk)
	r.result.TotalChunks++
	r.result.TotalEvents++

	if r.scheduler != nil {
		r.scheduler.Append(chunk)
	}
}

// OnDone signals successful stream completion.
//
// Applies the done event's fallback fields for servers that pack the
// whole answer into the terminal event: sources when no metadata event
// arrived, the model name when it is still unknown, and the complete
// answer text when no content chunks arrived.
//
// Behavior by personality:
//   - Interactive: Closes the reveal scheduler and blocks until the
//     remaining backlog has been revealed at tick pace, then ensures the
//     output ends with a newline.
//   - PersonalityMachine: Prints the buffered answer as "ANSWER: ...",
//     then "MODEL: ...", "LATENCY_MS: ...", and finally "DONE".
func (r *terminalStreamRenderer) OnDone(ctx context.Context, event StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalEvents++
	r.result.LatencyMs = event.LatencyMs
	r.result.CompletedAt = time.Now().UnixMilli()

	if !r.sawMetadata && len(event.Sources) > 0 {
		r.result.Sources = append(r.result.Sources, event.Sources...)
		if r.personality == PersonalityMachine {
			for _, item := range event.Sources {
				r.printSourceLine(item)
			}
		}
	}
	if r.result.UsedModel == "" && event.UsedModel != "" {
		r.result.UsedModel = event.UsedModel
	}

	usedFallbackAnswer := false
	if r.answerBuilder.Len() == 0 && event.AnswerMD != "" {
		r.answerBuilder.WriteString(event.AnswerMD)
		usedFallbackAnswer = true
	}

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMachine {
		answer := r.answerBuilder.String()
		if answer != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", answer)
		}
		if r.result.UsedModel != "" {
			fmt.Fprintf(r.writer, "MODEL: %s\n", r.result.UsedModel)
		}
		fmt.Fprintf(r.writer, "LATENCY_MS: %d\n", event.LatencyMs)
		fmt.Fprintln(r.writer, "DONE")
		return
	}

	if usedFallbackAnswer {
		// No chunks ever arrived, so no reveal is running; print directly.
		fmt.Fprintln(r.writer)
		fmt.Fprint(r.writer, event.AnswerMD)
	}

	if r.scheduler != nil {
		// Finish revealing at tick pace. The scheduler sink writes to the
		// writer without taking r.mu, so waiting under the lock is safe.
		r.scheduler.Close()
		r.scheduler.Wait()
		r.scheduler = nil
	}

	if answer := r.answerBuilder.String(); answer != "" && !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(r.writer)
	}
}

// OnError renders an error that ended the stream.
//
// Behavior by personality:
//   - Interactive: Stops the spinner, halts the reveal where it stands,
//     and prints the error with an error icon and styling.
//   - PersonalityMachine: Prints "ERROR: {message}".
//
// After Calling:
//
//	Only Finalize() and Result() should be called. Further On* calls are
//	ignored once Finalize() runs.
func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	// Halt without draining; the rest of the text is not coming.
	if r.scheduler != nil {
		r.scheduler.Stop()
		r.scheduler = nil
	}

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %v\n", err)
	} else {
		fmt.Fprintf(r.writer, "\n%s %s\n",
			IconError.Render(),
			Styles.Error.Render(fmt.Sprintf("Stream error: %v", err)))
	}
}

// Finalize performs cleanup and marks the renderer as complete.
//
// MUST be called when streaming ends, regardless of whether it ended
// normally (OnDone) or with an error (OnError). Safe to call multiple
// times; subsequent calls are no-ops.
//
// Actions performed:
//   - Stops any running spinner and reveal scheduler
//   - Finalizes the answer buffer into the result
//   - Sets CompletedAt if not already set
//   - Marks the renderer as finalized (ignores further On* calls)
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
	if r.scheduler != nil {
		r.scheduler.Stop()
		r.scheduler = nil
	}

	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns the accumulated StreamResult.
//
// May be called before Finalize() for partial results during streaming.
// Returns a copy; modifications do not affect the renderer's internal
// state. The Answer field always holds the complete received text, even
// when the paced reveal has not caught up yet.
func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// =============================================================================
// Buffer Stream Renderer (for testing)
// =============================================================================

// bufferStreamRenderer renders to an in-memory buffer for testing.
//
// Captures all events without side effects: no terminal output, no
// spinner, no reveal pacing. The Events() method exposes the captured
// events in arrival order.
type bufferStreamRenderer struct {
	result    StreamResult
	events    []StreamEvent
	mu        sync.Mutex
	finalized bool

	answerBuilder strings.Builder
	sawMetadata   bool
}

// NewBufferStreamRenderer creates a renderer that buffers events to memory.
//
// Example:
//
//	renderer := NewBufferStreamRenderer()
//	defer renderer.Finalize()
//
//	renderer.OnChunk(ctx, "Hello")
//	renderer.OnChunk(ctx, " world")
//	renderer.OnDone(ctx, NewDoneEvent(120))
//
//	result := renderer.Result()
//	if result.Answer != "Hello world" {
//	    t.Error("unexpected answer")
//	}
//
//	// Inspect individual events
//	events := renderer.(*bufferStreamRenderer).Events()
func NewBufferStreamRenderer() StreamRenderer {
	return &bufferStreamRenderer{
		result: NewStreamResult(),
		events: make([]StreamEvent, 0),
	}
}

// OnStatus captures a status event to the buffer.
func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.events = append(r.events, NewStatusEvent(message))
	r.result.TotalEvents++
}

// OnMetadata captures a metadata event and records sources and model.
func (r *bufferStreamRenderer) OnMetadata(ctx context.Context, event StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.sawMetadata = true
	r.result.Sources = append(r.result.Sources, event.Sources...)
	r.result.ContextTokens += event.TotalTokens
	if event.UsedModel != "" {
		r.result.UsedModel = event.UsedModel
	}
	if event.SuggestWebSearch {
		r.result.SuggestWebSearch = true
	}
	r.events = append(r.events, event)
	r.result.TotalEvents++
}

// OnChunk captures a content event and accumulates the chunk.
func (r *bufferStreamRenderer) OnChunk(ctx context.Context, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if r.result.FirstChunkAt == 0 {
		r.result.FirstChunkAt = time.Now().UnixMilli()
	}

	r.answerBuilder.WriteString(chunk)
	r.events = append(r.events, NewContentEvent(chunk))
	r.result.TotalChunks++
	r.result.TotalEvents++
}

// OnDone captures a done event, applying the same fallback fields as the
// terminal renderer.
func (r *bufferStreamRenderer) OnDone(ctx context.Context, event StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.LatencyMs = event.LatencyMs
	r.result.CompletedAt = time.Now().UnixMilli()

	if !r.sawMetadata && len(event.Sources) > 0 {
		r.result.Sources = append(r.result.Sources, event.Sources...)
	}
	if r.result.UsedModel == "" && event.UsedModel != "" {
		r.result.UsedModel = event.UsedModel
	}
	if r.answerBuilder.Len() == 0 && event.AnswerMD != "" {
		r.answerBuilder.WriteString(event.AnswerMD)
	}

	r.events = append(r.events, event)
	r.result.TotalEvents++
}

// OnError captures an error event.
func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.events = append(r.events, NewErrorEvent(err.Error()))
	r.result.TotalEvents++
}

// Finalize marks the buffer renderer as complete.
func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	r.result.Answer = r.answerBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated StreamResult.
func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.result
	result.Answer = r.answerBuilder.String()
	return &result
}

// Events returns all captured events for testing inspection.
//
// Not part of the StreamRenderer interface; cast the renderer to access it.
// Returns a copy to prevent race conditions.
func (r *bufferStreamRenderer) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]StreamEvent, len(r.events))
	copy(events, r.events)
	return events
}

// =============================================================================
// Convenience Functions
// =============================================================================

// RenderStreamToResult reads a stream and returns the aggregated result
// without rendering anything.
//
// Use for simple cases where only the final result matters.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	result, err := RenderStreamToResult(ctx, reader, httpResp.Body)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Answer)
func RenderStreamToResult(ctx context.Context, reader StreamReader, source io.Reader) (*StreamResult, error) {
	return reader.ReadAll(ctx, source)
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ StreamRenderer = (*bufferStreamRenderer)(nil)

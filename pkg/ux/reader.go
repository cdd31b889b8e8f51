// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Pryzm CLI.
//
// This file contains stream readers that consume io.Reader sources
// and emit parsed events via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and event sequencing. They use parsers to convert
//	bytes to events, but do not render output. This separation enables
//	flexible composition with different renderers.
//
// Malformed Frames:
//
//	A malformed or unrecognized frame never aborts the stream. The reader
//	logs a warning, counts the skip, and keeps going; one bad frame must
//	not cost the user an otherwise healthy answer.
//
// Context Support:
//
//	All readers accept context.Context for cancellation and timeout.
//	When context is cancelled, reading stops and the error is returned.
package ux

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// StreamCallback is invoked for each well-formed event in a stream.
// Returning a non-nil error stops reading.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads streaming responses and invokes callbacks.
//
// This interface abstracts the reading of streamed answers.
// Implementations handle the specific wire format (SSE, JSONL, etc.)
// and emit parsed StreamEvent structs.
//
// Thread Safety:
//
//	StreamReader implementations must be safe for concurrent use.
//	However, a single Read/ReadAll operation should not be called
//	concurrently on the same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//
//	err := reader.Read(ctx, httpResp.Body, func(event StreamEvent) error {
//	    switch event.Type {
//	    case StreamEventContent:
//	        fmt.Print(event.Chunk)
//	    case StreamEventError:
//	        return errors.New(event.Message)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// Parameters:
	//   - ctx: Context for cancellation. When cancelled, stops reading.
	//   - r: The source to read from. Caller is responsible for closing.
	//   - callback: Invoked for each well-formed event. Return error to stop.
	//
	// Returns:
	//   - error: nil on successful completion, otherwise the error that
	//     stopped reading (context cancellation, I/O error, or callback error)
	//
	// The stream is considered complete when:
	//   - EOF is reached
	//   - A terminal event (done/error) is received
	//   - Context is cancelled
	//   - Callback returns an error
	//
	// Malformed frames and unknown event types are skipped with a logged
	// warning; they do not stop reading and the callback never sees them.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns the aggregated result.
	//
	// This is a convenience method that collects all events into a
	// StreamResult. Use Read() when you need real-time event processing.
	//
	// Parameters:
	//   - ctx: Context for cancellation.
	//   - r: The source to read from. Caller is responsible for closing.
	//
	// Returns:
	//   - *StreamResult: Aggregated result with answer, sources, etc.
	//   - error: nil on success, otherwise the error that stopped reading.
	//
	// Note: If the stream ends with an error event, the message is captured
	// in StreamResult.Error and this method returns nil (not an error).
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events.
//
// This reader uses bufio.Scanner to read lines and an SSEParser to
// parse each line into events.
type sseStreamReader struct {
	parser SSEParser
	logger *slog.Logger
}

// NewSSEStreamReader creates a new SSE stream reader.
//
// Parameters:
//   - parser: The SSE parser to use for line parsing.
//
// Returns a StreamReader that handles SSE format.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{
		parser: parser,
		logger: slog.Default(),
	}
}

// NewSSEStreamReaderWithLogger creates an SSE stream reader that reports
// skipped frames to the given logger (for testing).
func NewSSEStreamReaderWithLogger(parser SSEParser, logger *slog.Logger) StreamReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &sseStreamReader{
		parser: parser,
		logger: logger,
	}
}

// Read processes an SSE stream, invoking callback for each event.
//
// Lines are read using bufio.Scanner. Each line is parsed by the
// SSE parser. Nil events (empty lines, comments) are skipped silently;
// malformed frames and unknown types are skipped with a warning.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	eventIndex := 0

	for scanner.Scan() {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		// Parse the line
		event, err := r.parser.ParseLine(line)
		if err != nil {
			r.logger.Warn("skipping malformed stream frame", "error", err)
			continue
		}

		// Skip nil events (empty lines, comments)
		if event == nil {
			continue
		}

		// Skip event types this client does not understand
		if !event.Type.Known() {
			r.logger.Warn("skipping unknown stream event type", "type", string(event.Type))
			continue
		}

		// Set the event index
		event.Index = eventIndex
		eventIndex++

		// Invoke the callback
		if err := callback(*event); err != nil {
			return err
		}

		// Stop on terminal events
		if event.IsTerminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

// maxFrameBytes bounds a single SSE frame. Metadata events carry full
// evidence snippets, so frames can run well past Scanner's default 64KB.
const maxFrameBytes = 4 * 1024 * 1024

// ReadAll reads the entire stream and returns the aggregated result.
//
// Collects all chunks into Answer, captures sources and model info from
// the metadata event, and timing from the done event. When the metadata
// event was lost, the done event's fallback copies fill in the sources,
// model, and answer text.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := NewStreamResult()

	var answerBuilder strings.Builder
	sawMetadata := false

	err := r.Read(ctx, reader, func(event StreamEvent) error {
		result.TotalEvents++

		switch event.Type {
		case StreamEventMetadata:
			sawMetadata = true
			result.Sources = event.Sources
			result.UsedModel = event.UsedModel
			result.SuggestWebSearch = event.SuggestWebSearch
			result.ContextTokens += event.TotalTokens

		case StreamEventContent:
			if result.FirstChunkAt == 0 {
				result.FirstChunkAt = time.Now().UnixMilli()
			}
			answerBuilder.WriteString(event.Chunk)
			result.TotalChunks++

		case StreamEventDone:
			result.LatencyMs = event.LatencyMs
			result.CompletedAt = time.Now().UnixMilli()
			// Fallbacks for streams whose metadata event was lost
			if !sawMetadata && len(event.Sources) > 0 {
				result.Sources = event.Sources
			}
			if result.UsedModel == "" {
				result.UsedModel = event.UsedModel
			}
			if answerBuilder.Len() == 0 && event.AnswerMD != "" {
				answerBuilder.WriteString(event.AnswerMD)
			}

		case StreamEventError:
			result.Error = event.Message
			result.CompletedAt = time.Now().UnixMilli()
		}

		// Propagate request ID if present
		if event.RequestID != "" && result.RequestID == "" {
			result.RequestID = event.RequestID
		}

		return nil
	})

	result.Answer = answerBuilder.String()

	// Ensure CompletedAt is set even if no terminal event
	if result.CompletedAt == 0 {
		result.CompletedAt = time.Now().UnixMilli()
	}

	return &result, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)

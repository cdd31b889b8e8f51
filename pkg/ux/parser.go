// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Pryzm CLI.
//
// This file contains parsers for streaming response formats.
// Parsers are responsible for converting raw bytes/lines into StreamEvent structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state management.
//	This separation enables easy testing and format extensibility.
package ux

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events format into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	data: {"type":"content","chunk":"Hello"}\n
//	\n
//	data: {"type":"content","chunk":" world"}\n
//	\n
//
// Each line starting with "data: " contains a JSON payload.
// Empty lines are event delimiters (ignored by this parser).
// Lines starting with ":" are comments (ignored).
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
//
// Example:
//
//	parser := NewSSEParser()
//	event, err := parser.ParseLine(`data: {"type":"content","chunk":"Hi"}`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if event != nil {
//	    fmt.Println(event.Chunk) // "Hi"
//	}
type SSEParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Parameters:
	//   - line: A single line from the SSE stream (without trailing newline)
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for empty/comment lines
	//   - error: Non-nil if the line is not a valid event frame
	//
	// Line handling:
	//   - Empty lines: Returns nil, nil (event delimiter)
	//   - Comment lines (":"): Returns nil, nil (ignored)
	//   - Data lines ("data: "): Parses JSON payload
	//   - Other lines: Returns an error; the answer service only sends
	//     data frames, so anything else is a malformed frame
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload into a StreamEvent.
	//
	// Use this when you have JSON without the "data: " prefix.
	// Automatically generates Id and sets CreatedAt.
	//
	// Parameters:
	//   - jsonData: Raw JSON bytes
	//
	// Returns:
	//   - *StreamEvent: The parsed event
	//   - error: Non-nil if JSON parsing failed or the type field is missing
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser implements SSEParser for Server-Sent Events format.
//
// This implementation is stateless and safe for concurrent use.
// All parsed events are assigned fresh Id and CreatedAt values.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
//
// The returned parser is stateless and can be safely shared across goroutines.
//
// Example:
//
//	parser := NewSSEParser()
//	event, _ := parser.ParseLine(`data: {"type":"done","latency_ms":812}`)
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (ignored)
//   - Data (starts with "data: "): Parses JSON after prefix
//   - Other: Returns a malformed frame error
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	// Trim whitespace
	line = strings.TrimSpace(line)

	// Empty lines are event delimiters
	if line == "" {
		return nil, nil
	}

	// Comments start with ":"
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	// Data lines start with "data: "
	if strings.HasPrefix(line, "data: ") {
		jsonData := strings.TrimPrefix(line, "data: ")
		return p.ParseRawJSON([]byte(jsonData))
	}

	// Also handle "data:" without space (some servers do this)
	if strings.HasPrefix(line, "data:") {
		jsonData := strings.TrimPrefix(line, "data:")
		return p.ParseRawJSON([]byte(jsonData))
	}

	return nil, fmt.Errorf("malformed SSE frame: %q", truncateForError(line))
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// The JSON must have a "type" field indicating the event type.
// Other missing fields are handled gracefully with zero values.
//
// Example JSON:
//
//	{"type":"content","chunk":"Hello"}
//	{"type":"metadata","sources":[{"doc_id":"budget-2026","page_range":[12,14]}]}
//	{"type":"done","latency_ms":812}
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	// Parse into a temporary struct that matches the server format
	var raw struct {
		Type             string         `json:"type"`
		Chunk            string         `json:"chunk"`
		Message          string         `json:"message"`
		Sources          []EvidenceItem `json:"sources"`
		UsedModel        string         `json:"used_model"`
		TotalSources     int            `json:"total_sources"`
		TotalTokens      int            `json:"total_tokens"`
		TargetTokens     int            `json:"target_tokens"`
		SuggestWebSearch bool           `json:"suggest_web_search"`
		AnswerMD         string         `json:"answer_md"`
		LatencyMs        int64          `json:"latency_ms"`
		RequestID        string         `json:"request_id"`
	}

	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}

	if raw.Type == "" {
		return nil, fmt.Errorf("event payload missing type field")
	}

	// Build the event with generated Id and timestamp
	event := &StreamEvent{
		Id:               uuid.New().String(),
		CreatedAt:        time.Now().UnixMilli(),
		Type:             StreamEventType(raw.Type),
		Chunk:            raw.Chunk,
		Message:          raw.Message,
		Sources:          raw.Sources,
		UsedModel:        raw.UsedModel,
		TotalSources:     raw.TotalSources,
		TotalTokens:      raw.TotalTokens,
		TargetTokens:     raw.TargetTokens,
		SuggestWebSearch: raw.SuggestWebSearch,
		AnswerMD:         raw.AnswerMD,
		LatencyMs:        raw.LatencyMs,
		RequestID:        raw.RequestID,
	}

	return event, nil
}

// truncateForError shortens a line for inclusion in an error message.
func truncateForError(line string) string {
	const maxLen = 80
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen] + "..."
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// =============================================================================
// SSE Stream Reader Tests
// =============================================================================

func TestNewSSEStreamReader(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())
	if reader == nil {
		t.Fatal("NewSSEStreamReader() returned nil")
	}
}

// -----------------------------------------------------------------------------
// Read Tests - Basic Functionality
// -----------------------------------------------------------------------------

func TestSSEStreamReader_Read_ContentEvents(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"Hello"}
data: {"type":"content","chunk":" world"}
data: {"type":"done","latency_ms":900}
`)

	var chunks []string
	var latency int64

	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventContent:
			chunks = append(chunks, event.Chunk)
		case StreamEventDone:
			latency = event.LatencyMs
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != "Hello" || chunks[1] != " world" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
	if latency != 900 {
		t.Errorf("expected latency 900, got %d", latency)
	}
}

func TestSSEStreamReader_Read_FullLifecycle(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"metadata","sources":[{"evidence_id":1,"doc_id":"doc-a","page_range":[3]}],"used_model":"qwen3:32b"}
data: {"type":"content","chunk":"The answer"}
data: {"type":"done","latency_ms":1200}
`)

	var types []StreamEventType
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		types = append(types, event.Type)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []StreamEventType{StreamEventMetadata, StreamEventContent, StreamEventDone}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Errorf("event %d: expected %v, got %v", i, w, types[i])
		}
	}
}

func TestSSEStreamReader_Read_EventIndexing(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"a"}

not a valid frame
data: {"type":"content","chunk":"b"}
data: {"type":"done","latency_ms":1}
`)

	var indexes []int
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		indexes = append(indexes, event.Index)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Skipped lines must not consume indexes
	want := []int{0, 1, 2}
	if len(indexes) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(indexes))
	}
	for i, w := range want {
		if indexes[i] != w {
			t.Errorf("position %d: expected index %d, got %d", i, w, indexes[i])
		}
	}
}

// -----------------------------------------------------------------------------
// Read Tests - Terminal Events
// -----------------------------------------------------------------------------

func TestSSEStreamReader_Read_ErrorEventIsTerminal(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"partial"}
data: {"type":"error","message":"model crashed"}
data: {"type":"content","chunk":"never delivered"}
`)

	var chunks []string
	var errMsg string

	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		switch event.Type {
		case StreamEventContent:
			chunks = append(chunks, event.Chunk)
		case StreamEventError:
			errMsg = event.Message
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if errMsg != "model crashed" {
		t.Errorf("expected error message, got %q", errMsg)
	}
	if len(chunks) != 1 {
		t.Errorf("expected reading to stop at the error event, got chunks %v", chunks)
	}
}

func TestSSEStreamReader_Read_StopsAfterDone(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"done","latency_ms":5}
data: {"type":"content","chunk":"late"}
`)

	count := 0
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		count++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event before stop, got %d", count)
	}
}

// -----------------------------------------------------------------------------
// Read Tests - Error Handling
// -----------------------------------------------------------------------------

func TestSSEStreamReader_Read_CallbackError(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"a"}
data: {"type":"content","chunk":"b"}
`)

	wantErr := errors.New("callback failed")
	count := 0

	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		count++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected callback error, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected reading to stop after first callback error, got %d calls", count)
	}
}

func TestSSEStreamReader_Read_ContextCancellation(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := strings.NewReader(`data: {"type":"content","chunk":"a"}
data: {"type":"content","chunk":"b"}
`)

	err := reader.Read(ctx, stream, func(event StreamEvent) error {
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Read Tests - Malformed and Unknown Frames
// -----------------------------------------------------------------------------

func TestSSEStreamReader_Read_MalformedFrameSkipped(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	reader := NewSSEStreamReaderWithLogger(NewSSEParser(), logger)

	stream := strings.NewReader(`data: {"type":"content","chunk":"ok"}
data: {broken json
data: {"type":"content","chunk":" still ok"}
data: {"type":"done","latency_ms":1}
`)

	var chunks []string
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		if event.Type == StreamEventContent {
			chunks = append(chunks, event.Chunk)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("malformed frame must not abort the stream: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks around the bad frame, got %v", chunks)
	}
	if !strings.Contains(logBuf.String(), "skipping malformed stream frame") {
		t.Errorf("expected a logged warning for the malformed frame, log: %s", logBuf.String())
	}
}

func TestSSEStreamReader_Read_UnknownTypeSkipped(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	reader := NewSSEStreamReaderWithLogger(NewSSEParser(), logger)

	stream := strings.NewReader(`data: {"type":"heartbeat"}
data: {"type":"content","chunk":"ok"}
data: {"type":"done","latency_ms":1}
`)

	var types []StreamEventType
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		types = append(types, event.Type)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, typ := range types {
		if typ == StreamEventType("heartbeat") {
			t.Error("unknown event type must not reach the callback")
		}
	}
	if !strings.Contains(logBuf.String(), "skipping unknown stream event type") {
		t.Errorf("expected a logged warning for the unknown type, log: %s", logBuf.String())
	}
}

func TestSSEStreamReader_Read_StatusNeverDelivered(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	// Status events are client-side only; a server emitting one is skipped
	stream := strings.NewReader(`data: {"type":"status","message":"working"}
data: {"type":"done","latency_ms":1}
`)

	var types []StreamEventType
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		types = append(types, event.Type)
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) != 1 || types[0] != StreamEventDone {
		t.Errorf("expected only the done event, got %v", types)
	}
}

// -----------------------------------------------------------------------------
// Read Tests - Stream Boundaries
// -----------------------------------------------------------------------------

func TestSSEStreamReader_Read_EmptyStream(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	err := reader.Read(context.Background(), strings.NewReader(""), func(event StreamEvent) error {
		t.Error("callback should not be invoked for empty stream")
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSSEStreamReader_Read_EmptyLinesAndCommentsSkipped(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`
: keepalive

data: {"type":"content","chunk":"a"}

: another comment
data: {"type":"done","latency_ms":1}
`)

	count := 0
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		count++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestSSEStreamReader_Read_StreamWithoutDone(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	// Connection dropped before the terminal event
	stream := strings.NewReader(`data: {"type":"content","chunk":"partial"}
`)

	var chunks []string
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		if event.Type == StreamEventContent {
			chunks = append(chunks, event.Chunk)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("EOF without done must not be an error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected the partial chunk, got %v", chunks)
	}
}

func TestSSEStreamReader_Read_LargeMetadataFrame(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	// Metadata frames with full evidence snippets can exceed Scanner's
	// default 64KB line limit
	snippet := strings.Repeat("evidence text ", 8192)
	line := fmt.Sprintf(`data: {"type":"metadata","sources":[{"evidence_id":1,"doc_id":"big-doc","page_range":[1],"text":"%s"}]}`, snippet)
	stream := strings.NewReader(line + "\n" + `data: {"type":"done","latency_ms":1}` + "\n")

	sawMetadata := false
	err := reader.Read(context.Background(), stream, func(event StreamEvent) error {
		if event.Type == StreamEventMetadata {
			sawMetadata = true
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawMetadata {
		t.Error("expected the oversized metadata frame to be delivered")
	}
}

// -----------------------------------------------------------------------------
// ReadAll Tests
// -----------------------------------------------------------------------------

func TestSSEStreamReader_ReadAll_BasicFlow(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"metadata","sources":[{"evidence_id":1,"doc_id":"doc-a","page_range":[3]}],"used_model":"qwen3:32b","total_tokens":640}
data: {"type":"content","chunk":"The answer"}
data: {"type":"content","chunk":" is 42."}
data: {"type":"done","latency_ms":812}
`)

	result, err := reader.ReadAll(context.Background(), stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "The answer is 42." {
		t.Errorf("expected assembled answer, got %q", result.Answer)
	}
	if len(result.Sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(result.Sources))
	}
	if result.UsedModel != "qwen3:32b" {
		t.Errorf("expected used model, got %q", result.UsedModel)
	}
	if result.ContextTokens != 640 {
		t.Errorf("expected 640 context tokens, got %d", result.ContextTokens)
	}
	if result.LatencyMs != 812 {
		t.Errorf("expected latency 812, got %d", result.LatencyMs)
	}
	if result.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", result.TotalChunks)
	}
	if result.TotalEvents != 4 {
		t.Errorf("expected 4 events, got %d", result.TotalEvents)
	}
	if result.CompletedAt == 0 {
		t.Error("expected CompletedAt to be set")
	}
	if result.FirstChunkAt == 0 {
		t.Error("expected FirstChunkAt to be set")
	}
	if result.HasError() {
		t.Errorf("unexpected error in result: %s", result.Error)
	}
}

func TestSSEStreamReader_ReadAll_WithError(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"partial"}
data: {"type":"error","message":"No relevant documents found for this query."}
`)

	result, err := reader.ReadAll(context.Background(), stream)
	if err != nil {
		t.Fatalf("error events are captured in the result, not returned: %v", err)
	}

	if !result.HasError() {
		t.Fatal("expected HasError")
	}
	if result.Error != "No relevant documents found for this query." {
		t.Errorf("unexpected error message %q", result.Error)
	}
	if result.Answer != "partial" {
		t.Errorf("expected partial answer to be kept, got %q", result.Answer)
	}
}

func TestSSEStreamReader_ReadAll_DoneFallbacks(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	// No metadata event, no content chunks; the done event carries
	// fallback copies of everything
	stream := strings.NewReader(`data: {"type":"done","latency_ms":2000,"answer_md":"Fallback answer [1].","sources":[{"evidence_id":1,"doc_id":"doc-a","page_range":[3]}],"used_model":"qwen3:32b"}
`)

	result, err := reader.ReadAll(context.Background(), stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "Fallback answer [1]." {
		t.Errorf("expected fallback answer, got %q", result.Answer)
	}
	if len(result.Sources) != 1 {
		t.Errorf("expected fallback sources, got %d", len(result.Sources))
	}
	if result.UsedModel != "qwen3:32b" {
		t.Errorf("expected fallback model, got %q", result.UsedModel)
	}
}

func TestSSEStreamReader_ReadAll_ChunksPreferredOverFallback(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"Streamed answer."}
data: {"type":"done","latency_ms":100,"answer_md":"Different fallback."}
`)

	result, err := reader.ReadAll(context.Background(), stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "Streamed answer." {
		t.Errorf("streamed chunks must win over the fallback, got %q", result.Answer)
	}
}

func TestSSEStreamReader_ReadAll_RequestIDPropagation(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	stream := strings.NewReader(`data: {"type":"content","chunk":"Hi","request_id":"req-xyz"}
data: {"type":"done","latency_ms":1}
`)

	result, err := reader.ReadAll(context.Background(), stream)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RequestID != "req-xyz" {
		t.Errorf("expected request ID 'req-xyz', got %q", result.RequestID)
	}
}

func TestSSEStreamReader_ReadAll_EmptyStream(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	result, err := reader.ReadAll(context.Background(), strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "" {
		t.Errorf("expected empty answer, got %q", result.Answer)
	}
	if result.CompletedAt == 0 {
		t.Error("expected CompletedAt to be set even for empty stream")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the Pryzm CLI streaming answer service implementations.
//
// This file defines the StreamingAnswerService interface and the RAG
// implementation that talks to the answer service's streaming endpoint.
// It follows the layered streaming architecture:
//
//	HTTP Response Body → SSEParser → SSEStreamReader → StreamRenderer → StreamResult
//
// # Architecture
//
//	Chat Loop → StreamingAnswerService Interface → HTTPClient Interface → http.Client
//	                       ↓                              ↓
//	            ragStreamingAnswerService        SSEParser → SSEStreamReader
//	            directStreamingAnswerService                     ↓
//	            (direct_service.go)                        StreamRenderer
//
// # File Organization
//
// This file follows optimal Go code style:
//  1. Interfaces (contracts first)
//  2. Configuration structs
//  3. Implementation structs
//  4. Constructor functions
//  5. Methods on structs
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/ux"
	"github.com/google/uuid"
)

// =============================================================================
// INTERFACES
// =============================================================================

// StreamingAnswerService defines the contract for streaming answer operations.
//
// # Description
//
// This interface provides the streaming version of question answering,
// where the response is delivered chunk-by-chunk in real-time rather
// than as a single complete response. Implementations handle SSE
// parsing, rendering, and result accumulation internally.
//
// # Inputs
//
// Methods accept context.Context for cancellation and timeout control.
// Question inputs must be non-empty strings.
//
// # Outputs
//
// SendMessage returns *ux.StreamResult containing:
//   - Answer: Complete concatenated response
//   - Sources: Evidence items from the metadata event
//   - Error: Server-reported stream error text (empty on success)
//   - Metrics: TotalChunks, FirstChunkAt, LatencyMs, etc.
//
// A stream error reported by the server (for example when retrieval
// found nothing) is NOT a Go error: SendMessage returns a result with
// Error set and a nil error. Transport and protocol failures return a
// non-nil error.
//
// # Examples
//
//	service := NewRAGStreamingAnswerService(StreamingAnswerServiceConfig{
//	    BaseURL:     "http://localhost:8000",
//	    Personality: ux.PersonalityFull,
//	})
//	defer service.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//
//	result, err := service.SendMessage(ctx, "What is the refund policy?", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if result.HasError() {
//	    fmt.Println("server declined:", result.Error)
//	}
//
// # Limitations
//
//   - Streaming requires server support for SSE format
//   - Large responses may timeout if Timeout is too short
//   - Context cancellation may result in partial results
//
// # Assumptions
//
//   - Server returns valid SSE-formatted responses
//   - Network connectivity is stable for stream duration
//   - Caller handles context lifecycle (cancellation, timeout)
type StreamingAnswerService interface {
	// SendMessage sends a question and streams the answer.
	//
	// Description:
	//   Sends the question to the streaming endpoint, parses SSE events,
	//   renders chunks in real-time, and returns the accumulated result.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout. When cancelled, stream stops.
	//   - question: User's question text. Must not be empty.
	//   - useWebSearch: Route through web search instead of local retrieval.
	//
	// Outputs:
	//   - *ux.StreamResult: Complete result with answer, sources, metrics.
	//     Result.Error carries server-reported stream errors.
	//   - error: Non-nil on network, server, or parse errors.
	//
	// Examples:
	//   result, err := service.SendMessage(ctx, "Explain the refund policy", false)
	//   if err != nil { return err }
	//   fmt.Println(result.Answer) // Already displayed during streaming
	//
	// Limitations:
	//   - Empty questions will likely cause server errors
	//   - Very long questions may exceed server limits
	//
	// Assumptions:
	//   - Server endpoint is reachable
	//   - Response is valid SSE format
	SendMessage(ctx context.Context, question string, useWebSearch bool) (*ux.StreamResult, error)

	// Close releases any resources held by the service.
	//
	// Description:
	//   Performs cleanup. Currently no-op for HTTP implementations,
	//   but required for interface completeness and future extensibility.
	//
	// Outputs:
	//   - error: Currently always nil.
	//
	// Examples:
	//   service := NewRAGStreamingAnswerService(config)
	//   defer service.Close()
	//
	// Limitations:
	//   - Does not cancel in-flight requests
	Close() error
}

// =============================================================================
// CONFIGURATION STRUCTS
// =============================================================================

// StreamingAnswerServiceConfig holds configuration for the RAG streaming
// answer service.
//
// # Description
//
// Configuration struct for creating ragStreamingAnswerService instances.
// Only BaseURL is required; all other fields have sensible defaults.
//
// # Fields
//
//   - BaseURL: Required. Answer service URL without trailing slash.
//   - MaxSources: Optional. Evidence budget per question. Default: 15.
//   - UseReranking: Optional. Ask the server to rerank retrieval.
//   - Writer: Optional. Output destination. Default: os.Stdout.
//   - Personality: Optional. Output styling. Default: PersonalityFull.
//   - Timeout: Optional. HTTP timeout. Default: 5 minutes.
//
// # Examples
//
//	config := StreamingAnswerServiceConfig{
//	    BaseURL:    "http://localhost:8000",
//	    MaxSources: 10,
//	}
//
// # Limitations
//
//   - BaseURL validation is not performed; invalid URLs cause runtime errors
//
// # Assumptions
//
//   - BaseURL points to a valid answer service instance
type StreamingAnswerServiceConfig struct {
	BaseURL      string              // Base URL of the answer service (required)
	MaxSources   int                 // Evidence budget per question (optional)
	UseReranking bool                // Server-side reranking (optional)
	Writer       io.Writer           // Output destination (optional)
	Personality  ux.PersonalityLevel // Output styling (optional)
	Timeout      time.Duration       // HTTP timeout (optional)
}

// =============================================================================
// IMPLEMENTATION STRUCTS
// =============================================================================

// ragStreamingAnswerService implements StreamingAnswerService for the
// answer service's streaming endpoint.
//
// # Description
//
// Communicates with /v1/answer/stream. The server is stateless;
// conversation state (messages, source registry) lives with the caller
// in pkg/conversation.
//
// # Fields
//
//   - client: HTTP client for requests
//   - parser: SSE event parser
//   - reader: Stream reader for I/O orchestration
//   - baseURL: Answer service base URL
//   - maxSources: Evidence budget per question
//   - useReranking: Server-side reranking flag
//   - writer: Output destination
//   - personality: Output styling level
//
// # Thread Safety
//
// Holds no mutable state. Safe for concurrent use, though concurrent
// SendMessage calls interleave output on the shared writer.
//
// # Limitations
//
//   - Requires server to support /v1/answer/stream endpoint
//
// # Assumptions
//
//   - Server sends a metadata event before content events
//   - Server terminates every stream with a done or error event
type ragStreamingAnswerService struct {
	client       HTTPClient
	parser       ux.SSEParser
	reader       ux.StreamReader
	baseURL      string
	maxSources   int
	useReranking bool
	writer       io.Writer
	personality  ux.PersonalityLevel
}

// =============================================================================
// CONSTRUCTOR FUNCTIONS
// =============================================================================

// NewRAGStreamingAnswerService creates a new RAG streaming answer service.
//
// # Description
//
// Creates a ragStreamingAnswerService with the production HTTP client.
// Initializes SSE parser and stream reader for event processing.
//
// # Inputs
//
//   - config: Service configuration. Only BaseURL is required.
//
// # Outputs
//
//   - StreamingAnswerService: Ready-to-use streaming service.
//
// # Examples
//
//	service := NewRAGStreamingAnswerService(StreamingAnswerServiceConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	defer service.Close()
//
// # Limitations
//
//   - Does not validate BaseURL format
//   - Does not test connectivity
//
// # Assumptions
//
//   - Caller will call Close when done
//   - BaseURL is valid and reachable
func NewRAGStreamingAnswerService(config StreamingAnswerServiceConfig) StreamingAnswerService {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return NewRAGStreamingAnswerServiceWithClient(newDefaultHTTPClient(timeout), config)
}

// NewRAGStreamingAnswerServiceWithClient creates a RAG streaming service
// with a custom HTTP client.
//
// # Description
//
// Creates a ragStreamingAnswerService with an injected HTTP client.
// Use this constructor for testing with mock clients.
//
// # Inputs
//
//   - client: HTTP client implementation (production or mock).
//   - config: Service configuration.
//
// # Outputs
//
//   - StreamingAnswerService: Ready-to-use streaming service.
//
// # Examples
//
//	mock := &mockStreamingHTTPClient{postResponse: mockSSEResponse}
//	service := NewRAGStreamingAnswerServiceWithClient(mock, config)
//
// # Limitations
//
//   - Client must implement HTTPClient interface correctly
//
// # Assumptions
//
//   - Client is properly initialized
//   - Client handles context cancellation
func NewRAGStreamingAnswerServiceWithClient(client HTTPClient, config StreamingAnswerServiceConfig) StreamingAnswerService {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.PersonalityFull
	}

	maxSources := config.MaxSources
	if maxSources <= 0 {
		maxSources = 15
	}

	parser := ux.NewSSEParser()

	return &ragStreamingAnswerService{
		client:       client,
		parser:       parser,
		reader:       ux.NewSSEStreamReader(parser),
		baseURL:      config.BaseURL,
		maxSources:   maxSources,
		useReranking: config.UseReranking,
		writer:       writer,
		personality:  personality,
	}
}

// =============================================================================
// RAG STREAMING ANSWER SERVICE METHODS
// =============================================================================

// SendMessage sends a question and streams the answer.
//
// # Description
//
// Sends the question to /v1/answer/stream, parses SSE events, routes
// events to the renderer, and returns the accumulated result. A
// synthetic status event drives the spinner between request send and
// first metadata, since the wire carries no status frames.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - question: User's question text.
//   - useWebSearch: Route through web search instead of local retrieval.
//
// # Outputs
//
//   - *ux.StreamResult: Accumulated result with answer, sources, metrics.
//   - error: Non-nil on marshal, network, server, or parse errors.
//
// # Examples
//
//	result, err := service.SendMessage(ctx, "What is OAuth2?", false)
//	if err != nil {
//	    return fmt.Errorf("streaming failed: %w", err)
//	}
//	fmt.Printf("Sources: %d\n", len(result.Sources))
//
// # Limitations
//
//   - Does not retry on transient errors
//   - Partial results on context cancellation may be incomplete
//
// # Assumptions
//
//   - Server returns valid SSE format
func (s *ragStreamingAnswerService) SendMessage(ctx context.Context, question string, useWebSearch bool) (*ux.StreamResult, error) {
	requestID := uuid.New().String()

	slog.Debug("sending streaming answer request",
		"request_id", requestID,
		"question_length", len(question),
		"use_web_search", useWebSearch,
		"max_sources", s.maxSources,
	)

	reqBody := s.buildRequest(question, useWebSearch)

	resp, err := s.postRequest(ctx, requestID, reqBody)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if err := s.validateResponse(requestID, resp); err != nil {
		return nil, err
	}

	searching := "Searching the knowledge base..."
	if useWebSearch {
		searching = "Searching the web..."
	}

	return s.processStream(ctx, requestID, searching, resp.Body)
}

// buildRequest constructs the request body for the streaming endpoint.
func (s *ragStreamingAnswerService) buildRequest(question string, useWebSearch bool) AnswerRequest {
	return AnswerRequest{
		Prompt:       question,
		MaxSources:   s.maxSources,
		UseReranking: s.useReranking,
		UseWebSearch: useWebSearch,
	}
}

// postRequest marshals and sends the streaming POST.
//
// # Description
//
// Marshals the request body and POSTs to /v1/answer/stream with an SSE
// Accept header.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - requestID: Request identifier for logging.
//   - reqBody: Request body to marshal and send.
//
// # Outputs
//
//   - *http.Response: HTTP response (caller must close Body).
//   - error: Non-nil on marshal or network errors.
//
// # Limitations
//
// Does not close response body on success.
//
// # Assumptions
//
// Caller will close response body.
func (s *ragStreamingAnswerService) postRequest(ctx context.Context, requestID string, reqBody AnswerRequest) (*http.Response, error) {
	targetURL := fmt.Sprintf("%s/v1/answer/stream", s.baseURL)

	postBody, err := json.Marshal(reqBody)
	if err != nil {
		slog.Error("failed to marshal streaming answer request",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := s.client.PostWithHeaders(ctx, targetURL, "application/json", bytes.NewBuffer(postBody), map[string]string{
		"Accept": "text/event-stream",
	})
	if err != nil {
		slog.Error("streaming answer HTTP request failed",
			"request_id", requestID,
			"url", targetURL,
			"error", err,
		)
		return nil, fmt.Errorf("http post: %w", err)
	}

	return resp, nil
}

// validateResponse checks HTTP response status.
//
// # Description
//
// Validates that the response has 200 OK status. Reads and logs the
// error body for non-200 responses.
//
// # Limitations
//
// Reads response body on error, consuming it.
func (s *ragStreamingAnswerService) validateResponse(requestID string, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("streaming answer server returned error (failed to read body)",
				"request_id", requestID,
				"status_code", resp.StatusCode,
				"read_error", err,
			)
			return NewRequestError("POST /v1/answer/stream", resp.StatusCode, "", err)
		}
		slog.Error("streaming answer server returned error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(bodyBytes),
		)
		return NewRequestError("POST /v1/answer/stream", resp.StatusCode, string(bodyBytes), nil)
	}
	return nil
}

// processStream reads and renders the SSE stream.
//
// # Description
//
// Creates a renderer, emits the synthetic searching status, reads SSE
// events from the body, routes events to the renderer, and returns the
// accumulated result.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - requestID: Request identifier for logging.
//   - searching: Status line shown until the first metadata event.
//   - body: Response body containing the SSE stream.
//
// # Outputs
//
//   - *ux.StreamResult: Accumulated result.
//   - error: Non-nil on stream read errors.
//
// # Limitations
//
// Server-reported stream errors land in Result.Error, not in the
// returned error.
//
// # Assumptions
//
// Body contains valid SSE format.
func (s *ragStreamingAnswerService) processStream(ctx context.Context, requestID, searching string, body io.Reader) (*ux.StreamResult, error) {
	renderer := ux.NewTerminalStreamRenderer(s.writer, s.personality)
	defer renderer.Finalize()

	renderer.OnStatus(ctx, searching)

	err := s.reader.Read(ctx, body, func(event ux.StreamEvent) error {
		switch event.Type {
		case ux.StreamEventStatus:
			renderer.OnStatus(ctx, event.Message)
		case ux.StreamEventMetadata:
			renderer.OnMetadata(ctx, event)
		case ux.StreamEventContent:
			renderer.OnChunk(ctx, event.Chunk)
		case ux.StreamEventDone:
			renderer.OnDone(ctx, event)
		case ux.StreamEventError:
			renderer.OnError(ctx, fmt.Errorf("%s", event.Message))
		}
		return nil
	})

	if err != nil {
		slog.Error("answer stream reading failed",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("read stream: %w", err)
	}

	result := renderer.Result()
	result.RequestID = requestID

	slog.Debug("streaming answer completed",
		"request_id", requestID,
		"used_model", result.UsedModel,
		"total_chunks", result.TotalChunks,
		"duration_ms", result.Duration().Milliseconds(),
		"sources_count", len(result.Sources),
		"stream_error", result.Error,
	)

	return result, nil
}

// Close releases resources held by the service.
//
// # Description
//
// No-op for the HTTP-based implementation. Provided for interface
// compliance.
//
// # Examples
//
//	defer service.Close()
//
// # Limitations
//
// Does not cancel in-flight requests.
func (s *ragStreamingAnswerService) Close() error {
	return nil
}

// Compile-time interface compliance check
var _ StreamingAnswerService = (*ragStreamingAnswerService)(nil)

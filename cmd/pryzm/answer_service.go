// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the Pryzm CLI answer service implementations.
//
// This file defines the HTTPClient abstraction shared by all answer
// services and the blocking AnswerService used by one-shot commands.
// The streaming variant lives in streaming_service.go and builds on
// the same HTTPClient.
//
// # Architecture
//
//	ask command → AnswerService Interface → HTTPClient Interface → http.Client
//	                      ↓                         ↓
//	            blockingAnswerService        rate.Limiter (client-side pacing)
//
// # File Organization
//
// This file follows optimal Go code style:
//  1. Interfaces (contracts first)
//  2. Configuration structs
//  3. Wire types
//  4. Implementation structs
//  5. Constructor functions
//  6. Methods on structs
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/ux"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// =============================================================================
// INTERFACES
// =============================================================================

// HTTPClient defines the contract for HTTP operations against the answer
// service.
//
// # Description
//
// Abstracts HTTP transport so services can be tested with mock clients.
// All methods accept context.Context for cancellation and timeout control.
//
// # Outputs
//
// Methods return *http.Response with an open Body; callers own closing it.
//
// # Limitations
//
//   - No automatic retries
//   - No redirect policy beyond http.Client defaults
//
// # Assumptions
//
//   - Implementations respect context cancellation
//   - Implementations are safe for concurrent use
type HTTPClient interface {
	// Post sends a POST request with the given body.
	//
	// Description:
	//   Sends a POST with the supplied content type. Used for answer
	//   requests where no extra headers are needed.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - url: Full target URL.
	//   - contentType: Value for the Content-Type header.
	//   - body: Request body reader (may be nil).
	//
	// Outputs:
	//   - *http.Response: Response with open Body.
	//   - error: Non-nil on transport failure.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)

	// PostWithHeaders sends a POST request with additional headers.
	//
	// Description:
	//   Same as Post but attaches the supplied headers to the request.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - url: Full target URL.
	//   - contentType: Value for the Content-Type header.
	//   - body: Request body reader (may be nil).
	//   - headers: Extra headers to set on the request.
	//
	// Outputs:
	//   - *http.Response: Response with open Body.
	//   - error: Non-nil on transport failure.
	PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error)

	// Get sends a GET request.
	//
	// Description:
	//   Fetches the given URL. Used for source pages and health probes.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - url: Full target URL.
	//
	// Outputs:
	//   - *http.Response: Response with open Body.
	//   - error: Non-nil on transport failure.
	Get(ctx context.Context, url string) (*http.Response, error)
}

// AnswerService defines the contract for blocking question answering.
//
// # Description
//
// Sends a question to the answer service and waits for the complete
// response. Used by one-shot commands where streaming display adds no
// value (scripting, piping into other tools).
//
// # Examples
//
//	service := NewAnswerService(AnswerServiceConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	defer service.Close()
//
//	resp, err := service.Ask(ctx, "What is the refund policy?", false)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.AnswerMD)
//
// # Limitations
//
//   - No partial output; the full answer arrives at once
//   - Long retrieval plus generation can take minutes
//
// # Assumptions
//
//   - Server is reachable at the configured BaseURL
type AnswerService interface {
	// Ask sends a question and returns the complete answer.
	//
	// Description:
	//   POSTs to the answer endpoint and decodes the JSON response.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - question: User's question text. Must not be empty.
	//   - useWebSearch: Route the question through web search instead
	//     of the local knowledge base.
	//
	// Outputs:
	//   - *AnswerResponse: Answer text, evidence, and metadata.
	//   - error: Non-nil on network, server, or decode errors.
	Ask(ctx context.Context, question string, useWebSearch bool) (*AnswerResponse, error)

	// Close releases any resources held by the service.
	//
	// Description:
	//   No-op for HTTP implementations; required for interface
	//   completeness.
	//
	// Outputs:
	//   - error: Currently always nil.
	Close() error
}

// =============================================================================
// CONFIGURATION STRUCTS
// =============================================================================

// AnswerServiceConfig holds configuration for the blocking answer service.
//
// # Description
//
// Only BaseURL is required; all other fields have sensible defaults.
//
// # Fields
//
//   - BaseURL: Required. Answer service URL without trailing slash.
//   - MaxSources: Optional. Evidence budget per question. Default: 15.
//   - UseReranking: Optional. Ask the server to rerank retrieval.
//   - Timeout: Optional. HTTP timeout. Default: 5 minutes.
//
// # Examples
//
//	config := AnswerServiceConfig{
//	    BaseURL:    "http://localhost:8000",
//	    MaxSources: 10,
//	}
type AnswerServiceConfig struct {
	BaseURL      string        // Base URL of the answer service (required)
	MaxSources   int           // Evidence budget per question (optional)
	UseReranking bool          // Server-side reranking (optional)
	Timeout      time.Duration // HTTP timeout (optional)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// AnswerRequest is the request body for answer endpoints.
//
// # Description
//
// Shared by the blocking /v1/answer and streaming /v1/answer/stream
// endpoints; both accept the same shape.
type AnswerRequest struct {
	Prompt       string `json:"prompt"`
	MaxSources   int    `json:"max_sources"`
	UseReranking bool   `json:"use_reranking"`
	UseWebSearch bool   `json:"use_web_search"`
}

// AnswerMetadata describes how the evidence context was assembled.
//
// # Description
//
// Reported by the server alongside the answer. FillRatio is
// TotalTokens/TargetTokens; SuggestWebSearch is set when local
// retrieval looked too thin to answer from.
type AnswerMetadata struct {
	TotalBlocks      int     `json:"total_blocks"`
	TotalTokens      int     `json:"total_tokens"`
	TargetTokens     int     `json:"target_tokens"`
	MaxTokens        int     `json:"max_tokens"`
	FillRatio        float64 `json:"fill_ratio"`
	BlocksTruncated  bool    `json:"blocks_truncated"`
	SuggestWebSearch bool    `json:"suggest_web_search"`
	WebSearchUsed    bool    `json:"web_search_used"`
}

// AnswerResponse is the blocking answer endpoint response body.
type AnswerResponse struct {
	AnswerMD  string            `json:"answer_md"`
	Sources   []ux.EvidenceItem `json:"sources"`
	UsedModel string            `json:"used_model"`
	LatencyMs int64             `json:"latency_ms"`
	Metadata  AnswerMetadata    `json:"metadata"`
}

// =============================================================================
// IMPLEMENTATION STRUCTS
// =============================================================================

// blockingAnswerService implements AnswerService against /v1/answer.
//
// # Description
//
// Stateless transport wrapper. Each Ask is independent; conversation
// state lives with the caller.
//
// # Thread Safety
//
// Safe for concurrent use; holds no mutable state.
type blockingAnswerService struct {
	client       HTTPClient
	baseURL      string
	maxSources   int
	useReranking bool
}

// defaultHTTPClient is the production HTTPClient backed by http.Client.
//
// # Description
//
// Wraps http.Client with context-aware request construction and
// client-side pacing. POSTs pass through the answer limiter before
// hitting the wire; GETs (source pages, health probes) are cheap on
// the server and bypass it.
type defaultHTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// =============================================================================
// CONSTRUCTOR FUNCTIONS
// =============================================================================

// newDefaultHTTPClient creates the production HTTP client with pacing.
func newDefaultHTTPClient(timeout time.Duration) *defaultHTTPClient {
	return &defaultHTTPClient{
		client:  &http.Client{Timeout: timeout},
		limiter: newAnswerLimiter(),
	}
}

// NewAnswerService creates a blocking answer service.
//
// # Description
//
// Creates a blockingAnswerService with the production HTTP client.
//
// # Inputs
//
//   - config: Service configuration. Only BaseURL is required.
//
// # Outputs
//
//   - AnswerService: Ready-to-use service.
//
// # Examples
//
//	service := NewAnswerService(AnswerServiceConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	defer service.Close()
//
// # Limitations
//
//   - Does not validate BaseURL format
//   - Does not test connectivity
func NewAnswerService(config AnswerServiceConfig) AnswerService {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return NewAnswerServiceWithClient(newDefaultHTTPClient(timeout), config)
}

// NewAnswerServiceWithClient creates a blocking answer service with a
// custom HTTP client.
//
// # Description
//
// Use this constructor for testing with mock clients.
//
// # Inputs
//
//   - client: HTTP client implementation (production or mock).
//   - config: Service configuration.
//
// # Outputs
//
//   - AnswerService: Ready-to-use service.
//
// # Examples
//
//	mock := &mockHTTPClient{response: createMockResponse(200, body)}
//	service := NewAnswerServiceWithClient(mock, config)
func NewAnswerServiceWithClient(client HTTPClient, config AnswerServiceConfig) AnswerService {
	maxSources := config.MaxSources
	if maxSources <= 0 {
		maxSources = 15
	}

	return &blockingAnswerService{
		client:       client,
		baseURL:      config.BaseURL,
		maxSources:   maxSources,
		useReranking: config.UseReranking,
	}
}

// =============================================================================
// BLOCKING ANSWER SERVICE METHODS
// =============================================================================

// Ask sends a question and returns the complete answer.
//
// # Description
//
// POSTs the question to /v1/answer and decodes the JSON response.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - question: User's question text.
//   - useWebSearch: Route through web search instead of local retrieval.
//
// # Outputs
//
//   - *AnswerResponse: Complete answer with evidence and metadata.
//   - error: Non-nil on marshal, network, server, or decode errors.
//
// # Examples
//
//	resp, err := service.Ask(ctx, "What changed in Q3?", false)
//	if err != nil {
//	    return fmt.Errorf("ask failed: %w", err)
//	}
//	fmt.Printf("Evidence: %d\n", len(resp.Sources))
//
// # Limitations
//
//   - Does not retry on transient errors
func (s *blockingAnswerService) Ask(ctx context.Context, question string, useWebSearch bool) (*AnswerResponse, error) {
	requestID := uuid.New().String()

	slog.Debug("sending answer request",
		"request_id", requestID,
		"question_length", len(question),
		"use_web_search", useWebSearch,
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

	return s.decodeResponse(requestID, resp.Body)
}

// buildRequest constructs the request body for the answer endpoint.
func (s *blockingAnswerService) buildRequest(question string, useWebSearch bool) AnswerRequest {
	return AnswerRequest{
		Prompt:       question,
		MaxSources:   s.maxSources,
		UseReranking: s.useReranking,
		UseWebSearch: useWebSearch,
	}
}

// postRequest marshals and sends the answer POST.
//
// # Description
//
// Marshals the request body and POSTs to /v1/answer.
//
// # Outputs
//
//   - *http.Response: HTTP response (caller must close Body).
//   - error: Non-nil on marshal or network errors.
func (s *blockingAnswerService) postRequest(ctx context.Context, requestID string, reqBody AnswerRequest) (*http.Response, error) {
	targetURL := fmt.Sprintf("%s/v1/answer", s.baseURL)

	postBody, err := json.Marshal(reqBody)
	if err != nil {
		slog.Error("failed to marshal answer request",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := s.client.Post(ctx, targetURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		slog.Error("answer HTTP request failed",
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
func (s *blockingAnswerService) validateResponse(requestID string, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("answer server returned error (failed to read body)",
				"request_id", requestID,
				"status_code", resp.StatusCode,
				"read_error", err,
			)
			return NewRequestError("POST /v1/answer", resp.StatusCode, "", err)
		}
		slog.Error("answer server returned error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(bodyBytes),
		)
		return NewRequestError("POST /v1/answer", resp.StatusCode, string(bodyBytes), nil)
	}
	return nil
}

// decodeResponse decodes the JSON answer body.
func (s *blockingAnswerService) decodeResponse(requestID string, body io.Reader) (*AnswerResponse, error) {
	var answer AnswerResponse
	if err := json.NewDecoder(body).Decode(&answer); err != nil {
		slog.Error("failed to decode answer response",
			"request_id", requestID,
			"error", err,
		)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	slog.Debug("answer request completed",
		"request_id", requestID,
		"used_model", answer.UsedModel,
		"sources_count", len(answer.Sources),
		"latency_ms", answer.LatencyMs,
	)

	return &answer, nil
}

// Close releases resources held by the service.
//
// # Description
//
// No-op for the HTTP-based implementation.
func (s *blockingAnswerService) Close() error {
	return nil
}

// =============================================================================
// DEFAULT HTTP CLIENT METHODS
// =============================================================================

// Post sends a POST request with pacing.
func (c *defaultHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.PostWithHeaders(ctx, url, contentType, body, nil)
}

// PostWithHeaders sends a POST request with pacing and extra headers.
//
// # Description
//
// Waits on the answer limiter before sending. Wait returns early when
// ctx is cancelled, so Ctrl+C aborts a queued request rather than
// pausing it.
func (c *defaultHTTPClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.client.Do(req)
}

// Get sends a GET request.
func (c *defaultHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.client.Do(req)
}

// Compile-time interface compliance checks
var _ AnswerService = (*blockingAnswerService)(nil)
var _ HTTPClient = (*defaultHTTPClient)(nil)

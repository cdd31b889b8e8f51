// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the source page client.
//
// The client fetches full document pages for citation expansion and
// exposes the retrieval debug endpoint. Document identifiers are
// validated and path-escaped before URL construction.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/sources"
	"github.com/AleutianAI/PryzmChat/pkg/validation"
)

// ErrSourcePageNotFound indicates the requested page does not exist in
// the corpus.
var ErrSourcePageNotFound = errors.New("source page not found")

// ContextDebugRequest is the request body for the retrieval debug
// endpoint.
type ContextDebugRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// ContextDebugResponse is the retrieval debug endpoint response body.
//
// # Description
//
// Returns the top-k retrieval context for a query without running the
// LLM. Context items share the source record wire shape.
type ContextDebugResponse struct {
	Query        string                 `json:"query"`
	TopK         int                    `json:"top_k"`
	ContextCount int                    `json:"context_count"`
	Context      []sources.SourceRecord `json:"context"`
}

// SourceClient defines the contract for source page retrieval.
//
// # Description
//
// Fetches full document pages for citation expansion and retrieval
// context for debugging. Both operations are cheap server-side reads.
//
// # Examples
//
//	client := NewSourceClient(SourceClientConfig{
//	    BaseURL: "http://localhost:8000",
//	})
//	defer client.Close()
//
//	page, err := client.GetSourcePage(ctx, "refund_policy_2024", 3)
//	if errors.Is(err, ErrSourcePageNotFound) {
//	    fmt.Println("no such page")
//	}
type SourceClient interface {
	// GetSourcePage fetches one full document page.
	//
	// Description:
	//   Validates the reference, then GETs /v1/source/{doc_id}/{pageno}.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - docID: Document identifier. Validated before URL construction.
	//   - pageno: 1-indexed page number. Must be positive.
	//
	// Outputs:
	//   - *sources.SourcePage: Page text and display metadata.
	//   - error: ErrSourcePageNotFound when the page does not exist;
	//     validation or transport errors otherwise.
	GetSourcePage(ctx context.Context, docID string, pageno int) (*sources.SourcePage, error)

	// DebugContext fetches the top-k retrieval context for a query.
	//
	// Description:
	//   POSTs to /v1/context-debug. No LLM call happens server-side.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - query: Query text to retrieve against.
	//   - topK: Number of context items to return. Must be positive.
	//
	// Outputs:
	//   - *ContextDebugResponse: Ranked retrieval context.
	//   - error: Non-nil on network, server, or decode errors.
	DebugContext(ctx context.Context, query string, topK int) (*ContextDebugResponse, error)

	// Close releases any resources held by the client.
	Close() error
}

// SourceClientConfig holds configuration for the source client.
//
// # Fields
//
//   - BaseURL: Required. Answer service URL without trailing slash.
//   - Timeout: Optional. HTTP timeout. Default: 30 seconds.
type SourceClientConfig struct {
	BaseURL string        // Base URL of the answer service (required)
	Timeout time.Duration // HTTP timeout (optional)
}

// defaultSourceClient implements SourceClient over HTTP.
type defaultSourceClient struct {
	client  HTTPClient
	baseURL string
}

// NewSourceClient creates a source client with the production HTTP client.
//
// # Description
//
// Page fetches are cheap server-side, so the default timeout is short
// compared to answer requests.
func NewSourceClient(config SourceClientConfig) SourceClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return NewSourceClientWithClient(newDefaultHTTPClient(timeout), config)
}

// NewSourceClientWithClient creates a source client with a custom HTTP
// client.
//
// # Description
//
// Use this constructor for testing with mock clients.
func NewSourceClientWithClient(client HTTPClient, config SourceClientConfig) SourceClient {
	return &defaultSourceClient{
		client:  client,
		baseURL: config.BaseURL,
	}
}

// GetSourcePage fetches one full document page.
//
// # Description
//
// Validates the (doc_id, pageno) reference, builds the URL with the
// doc_id path-escaped, and decodes the page response.
//
// # Outputs
//
//   - *sources.SourcePage: Page text and display metadata.
//   - error: ErrSourcePageNotFound on 404; validation, transport, or
//     decode errors otherwise.
func (c *defaultSourceClient) GetSourcePage(ctx context.Context, docID string, pageno int) (*sources.SourcePage, error) {
	if err := validation.ValidateSourceRef(docID, pageno); err != nil {
		return nil, fmt.Errorf("invalid source reference: %w", err)
	}

	targetURL := fmt.Sprintf("%s/v1/source/%s/%d", c.baseURL, url.PathEscape(docID), pageno)

	slog.Debug("fetching source page",
		"doc_id", docID,
		"pageno", pageno,
	)

	resp, err := c.client.Get(ctx, targetURL)
	if err != nil {
		slog.Error("source page request failed",
			"doc_id", docID,
			"pageno", pageno,
			"error", err,
		)
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s page %d", ErrSourcePageNotFound, docID, pageno)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, NewRequestError("GET /v1/source", resp.StatusCode, "", readErr)
		}
		return nil, NewRequestError("GET /v1/source", resp.StatusCode, string(bodyBytes), nil)
	}

	var page sources.SourcePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &page, nil
}

// DebugContext fetches the top-k retrieval context for a query.
func (c *defaultSourceClient) DebugContext(ctx context.Context, query string, topK int) (*ContextDebugResponse, error) {
	if topK <= 0 {
		topK = 10
	}

	targetURL := fmt.Sprintf("%s/v1/context-debug", c.baseURL)

	postBody, err := json.Marshal(ContextDebugRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.client.Post(ctx, targetURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		slog.Error("context debug request failed",
			"error", err,
		)
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, NewRequestError("POST /v1/context-debug", resp.StatusCode, "", readErr)
		}
		return nil, NewRequestError("POST /v1/context-debug", resp.StatusCode, string(bodyBytes), nil)
	}

	var debug ContextDebugResponse
	if err := json.NewDecoder(resp.Body).Decode(&debug); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &debug, nil
}

// Close releases resources held by the client.
func (c *defaultSourceClient) Close() error {
	return nil
}

// Compile-time interface compliance check
var _ SourceClient = (*defaultSourceClient)(nil)

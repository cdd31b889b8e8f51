// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

// =============================================================================
// Mock HTTP Client
// =============================================================================

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	// PostFunc allows customizing POST behavior per test
	PostFunc func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
	// GetFunc allows customizing GET behavior per test
	GetFunc func(ctx context.Context, url string) (*http.Response, error)

	// Simple response/error for basic tests
	response *http.Response
	err      error

	// Capture request details for assertions
	lastPostURL     string
	lastPostBody    string
	lastContentType string
	lastGetURL      string
}

func (m *mockHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	m.lastPostURL = url
	m.lastContentType = contentType
	if body != nil {
		bodyBytes, _ := io.ReadAll(body)
		m.lastPostBody = string(bodyBytes)
	}

	if m.PostFunc != nil {
		return m.PostFunc(ctx, url, contentType, body)
	}
	return m.response, m.err
}

func (m *mockHTTPClient) PostWithHeaders(ctx context.Context, url, contentType string, body io.Reader, _ map[string]string) (*http.Response, error) {
	return m.Post(ctx, url, contentType, body)
}

func (m *mockHTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	m.lastGetURL = url
	if m.GetFunc != nil {
		return m.GetFunc(ctx, url)
	}
	return m.response, m.err
}

// =============================================================================
// Blocking Answer Service Tests
// =============================================================================

func TestNewAnswerService(t *testing.T) {
	service := NewAnswerService(AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	if service == nil {
		t.Fatal("NewAnswerService returned nil")
	}
}

func TestBlockingAnswerService_Ask_Success(t *testing.T) {
	responseBody := `{
		"answer_md": "Berthing is assigned at check-in [1].",
		"sources": [
			{"evidence_id": 1, "doc_id": "marina-rules", "doc_title": "Marina Rules", "page_range": [7], "text": "passage"}
		],
		"used_model": "llama-3.3-70b",
		"latency_ms": 1450,
		"metadata": {"total_tokens": 1800, "target_tokens": 4000, "web_search_used": false}
	}`

	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusOK, responseBody),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	resp, err := service.Ask(context.Background(), "How is berthing assigned?", false)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AnswerMD != "Berthing is assigned at check-in [1]." {
		t.Errorf("answer = %q", resp.AnswerMD)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].DocID != "marina-rules" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.UsedModel != "llama-3.3-70b" {
		t.Errorf("used model = %q", resp.UsedModel)
	}
	if resp.LatencyMs != 1450 {
		t.Errorf("latency = %d", resp.LatencyMs)
	}
	if resp.Metadata.TotalTokens != 1800 {
		t.Errorf("metadata tokens = %d", resp.Metadata.TotalTokens)
	}

	if mock.lastPostURL != "http://localhost:8000/v1/answer" {
		t.Errorf("URL = %q", mock.lastPostURL)
	}
	if mock.lastContentType != "application/json" {
		t.Errorf("content type = %q", mock.lastContentType)
	}
}

func TestBlockingAnswerService_Ask_SendsRequestFields(t *testing.T) {
	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusOK, `{"answer_md":"ok"}`),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL:      "http://localhost:8000",
		MaxSources:   9,
		UseReranking: true,
	})

	_, err := service.Ask(context.Background(), "the question", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{`"prompt":"the question"`, `"max_sources":9`, `"use_reranking":true`, `"use_web_search":true`} {
		if !strings.Contains(mock.lastPostBody, want) {
			t.Errorf("request body missing %s, got: %s", want, mock.lastPostBody)
		}
	}
}

func TestBlockingAnswerService_Ask_DefaultMaxSources(t *testing.T) {
	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusOK, `{"answer_md":"ok"}`),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	_, err := service.Ask(context.Background(), "question", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(mock.lastPostBody, `"max_sources":15`) {
		t.Errorf("expected default evidence budget in body, got: %s", mock.lastPostBody)
	}
}

func TestBlockingAnswerService_Ask_SuggestWebSearch(t *testing.T) {
	responseBody := `{
		"answer_md": "I could not find that locally.",
		"sources": [],
		"metadata": {"suggest_web_search": true}
	}`
	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusOK, responseBody),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	resp, err := service.Ask(context.Background(), "question", false)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Metadata.SuggestWebSearch {
		t.Error("expected SuggestWebSearch metadata to decode")
	}
}

func TestBlockingAnswerService_Ask_ServerError(t *testing.T) {
	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusBadGateway, `{"detail":"upstream failure"}`),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	_, err := service.Ask(context.Background(), "question", false)

	if err == nil {
		t.Fatal("expected error")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if reqErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", reqErr.StatusCode)
	}
	if !strings.Contains(reqErr.Body, "upstream failure") {
		t.Errorf("body = %q", reqErr.Body)
	}
	if reqErr.Endpoint != "POST /v1/answer" {
		t.Errorf("endpoint = %q", reqErr.Endpoint)
	}
}

func TestBlockingAnswerService_Ask_TransportError(t *testing.T) {
	mock := &mockHTTPClient{
		err: errors.New("connection refused"),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	_, err := service.Ask(context.Background(), "question", false)

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "http post") {
		t.Errorf("expected 'http post' in error, got: %v", err)
	}
}

func TestBlockingAnswerService_Ask_DecodeError(t *testing.T) {
	mock := &mockHTTPClient{
		response: createMockResponse(http.StatusOK, "not json at all"),
	}
	service := NewAnswerServiceWithClient(mock, AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	_, err := service.Ask(context.Background(), "question", false)

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "decode response") {
		t.Errorf("expected 'decode response' in error, got: %v", err)
	}
}

func TestBlockingAnswerService_Close(t *testing.T) {
	service := NewAnswerService(AnswerServiceConfig{
		BaseURL: "http://localhost:8000",
	})

	if err := service.Close(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

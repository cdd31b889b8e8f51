// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the direct OpenRouter streaming service.
//
// Direct mode bypasses the answer service entirely and streams chat
// completions straight from OpenRouter. No retrieval happens, so turns
// carry no evidence and no citations. Conversation history is held
// client-side in the service, including the system message.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/ux"
	openai "github.com/sashabaranov/go-openai"
	"github.com/google/uuid"
)

const (
	// openRouterBaseURL is the OpenAI-compatible API root.
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// OpenRouter attribution headers. Optional for the API but used for
	// request attribution on their dashboard.
	openRouterReferer = "http://localhost:8000"
	openRouterTitle   = "Pryzm Project"

	// webSearchModelSuffix routes the request through OpenRouter's web
	// search plugin when appended to a model name.
	webSearchModelSuffix = ":online"

	// Generation parameters, matching the answer service's LLM posture.
	directMaxTokens   = 4000
	directTemperature = 0.3
)

// directSystemPrompt seeds every direct conversation.
const directSystemPrompt = "You are a helpful research assistant. Answer clearly and concisely."

// DirectStreamingAnswerServiceConfig holds configuration for direct
// OpenRouter streaming.
//
// # Description
//
// Only APIKey is required; all other fields have sensible defaults.
//
// # Fields
//
//   - APIKey: Required. OpenRouter API key.
//   - Model: Optional. Model identifier. Default: anthropic/claude-3.5-sonnet.
//   - BaseURL: Optional. OpenAI-compatible API root, for gateways and
//     proxies. Default: OpenRouter.
//   - Writer: Optional. Output destination. Default: os.Stdout.
//   - Personality: Optional. Output styling. Default: PersonalityFull.
//   - Timeout: Optional. HTTP timeout. Default: 5 minutes.
type DirectStreamingAnswerServiceConfig struct {
	APIKey      string              // OpenRouter API key (required)
	Model       string              // Model identifier (optional)
	BaseURL     string              // OpenAI-compatible API root (optional)
	Writer      io.Writer           // Output destination (optional)
	Personality ux.PersonalityLevel // Output styling (optional)
	Timeout     time.Duration       // HTTP timeout (optional)
}

// directStreamingAnswerService implements StreamingAnswerService against
// OpenRouter's chat completions API.
//
// # Description
//
// Maintains client-side message history (system + user + assistant) and
// streams deltas via go-openai. Results never carry sources; the chat
// loop skips the citation pipeline for direct turns.
//
// # Thread Safety
//
// All public methods are protected by mutex. Safe for concurrent use.
//
// # Limitations
//
//   - Message history grows unbounded; caller should manage long conversations
//
// # Assumptions
//
//   - API key is valid for OpenRouter
type directStreamingAnswerService struct {
	client      *openai.Client
	model       string
	messages    []openai.ChatCompletionMessage
	writer      io.Writer
	personality ux.PersonalityLevel
	mu          sync.Mutex
}

// attributionTransport injects OpenRouter attribution headers on every
// request.
type attributionTransport struct {
	base http.RoundTripper
}

// RoundTrip sets the attribution headers and delegates.
func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", openRouterReferer)
	req.Header.Set("X-Title", openRouterTitle)
	return t.base.RoundTrip(req)
}

// NewDirectStreamingAnswerService creates a direct OpenRouter streaming
// service.
//
// # Description
//
// Configures a go-openai client pointed at OpenRouter and seeds the
// conversation with the system message.
//
// # Inputs
//
//   - config: Service configuration. Only APIKey is required.
//
// # Outputs
//
//   - StreamingAnswerService: Ready-to-use streaming service.
//
// # Examples
//
//	service := NewDirectStreamingAnswerService(DirectStreamingAnswerServiceConfig{
//	    APIKey: key,
//	    Model:  "anthropic/claude-3.5-sonnet",
//	})
//	defer service.Close()
//
// # Limitations
//
//   - Does not validate the API key; invalid keys fail on first request
func NewDirectStreamingAnswerService(config DirectStreamingAnswerServiceConfig) StreamingAnswerService {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.PersonalityFull
	}

	model := config.Model
	if model == "" {
		model = "anthropic/claude-3.5-sonnet"
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &attributionTransport{base: http.DefaultTransport},
	}

	svc := &directStreamingAnswerService{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		writer:      writer,
		personality: personality,
		messages:    make([]openai.ChatCompletionMessage, 0, 10),
	}

	svc.messages = append(svc.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: directSystemPrompt,
	})

	return svc
}

// SendMessage sends a question and streams the completion.
//
// # Description
//
// Appends the user message to history, streams deltas from OpenRouter,
// and returns the accumulated result. On error the user message is
// removed from history to keep it consistent. useWebSearch appends the
// ":online" suffix so OpenRouter searches the web before answering.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - question: User's question text.
//   - useWebSearch: Route the completion through OpenRouter web search.
//
// # Outputs
//
//   - *ux.StreamResult: Accumulated result. Sources is always empty.
//   - error: Non-nil on API or stream errors.
//
// # Limitations
//
//   - Does not retry on transient errors
func (s *directStreamingAnswerService) SendMessage(ctx context.Context, question string, useWebSearch bool) (*ux.StreamResult, error) {
	requestID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	model := s.model
	if useWebSearch {
		model += webSearchModelSuffix
	}

	slog.Debug("sending direct streaming request",
		"request_id", requestID,
		"model", model,
		"question_length", len(question),
		"history_length", len(s.messages),
	)

	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	result, err := s.streamCompletion(ctx, requestID, model)
	if err != nil {
		s.removeLastMessageLocked()
		return nil, err
	}

	if err := s.validateResult(requestID, result); err != nil {
		s.removeLastMessageLocked()
		return result, err
	}

	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: result.Answer,
	})

	slog.Debug("direct streaming completed",
		"request_id", requestID,
		"total_chunks", result.TotalChunks,
		"duration_ms", result.Duration().Milliseconds(),
		"new_history_length", len(s.messages),
	)

	return result, nil
}

// streamCompletion performs the streaming request and rendering.
//
// # Description
//
// Opens a chat completion stream and routes deltas to the renderer.
// Must be called while holding s.mu lock.
func (s *directStreamingAnswerService) streamCompletion(ctx context.Context, requestID, model string) (*ux.StreamResult, error) {
	renderer := ux.NewTerminalStreamRenderer(s.writer, s.personality)
	defer renderer.Finalize()

	renderer.OnStatus(ctx, "Thinking...")

	started := time.Now()

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    s.messages,
		MaxTokens:   directMaxTokens,
		Temperature: directTemperature,
		Stream:      true,
	})
	if err != nil {
		slog.Error("OpenRouter stream request failed",
			"request_id", requestID,
			"model", model,
			"error", err,
		)
		return nil, fmt.Errorf("openrouter stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Error("failed to close completion stream", "error", err)
		}
	}()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("OpenRouter stream read failed",
				"request_id", requestID,
				"error", err,
			)
			return nil, fmt.Errorf("read stream: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		renderer.OnChunk(ctx, response.Choices[0].Delta.Content)
	}

	renderer.OnDone(ctx, ux.NewDoneEvent(time.Since(started).Milliseconds()))

	result := renderer.Result()
	result.RequestID = requestID
	result.UsedModel = model

	return result, nil
}

// validateResult checks if the result is valid for history update.
//
// # Description
//
// Validates that the result has a non-empty answer and no error.
func (s *directStreamingAnswerService) validateResult(requestID string, result *ux.StreamResult) error {
	if result.Answer == "" && result.Error == "" {
		slog.Warn("direct streaming returned empty response",
			"request_id", requestID,
		)
		return fmt.Errorf("empty response from server")
	}

	if result.HasError() {
		slog.Warn("direct streaming ended with error",
			"request_id", requestID,
			"error", result.Error,
		)
		return fmt.Errorf("stream error: %s", result.Error)
	}

	return nil
}

// removeLastMessageLocked removes the last message from history.
//
// # Description
//
// Removes the last message on error to maintain history consistency.
// Must be called while holding s.mu lock.
func (s *directStreamingAnswerService) removeLastMessageLocked() {
	if len(s.messages) > 0 {
		s.messages = s.messages[:len(s.messages)-1]
	}
}

// Close releases resources held by the service.
func (s *directStreamingAnswerService) Close() error {
	return nil
}

// Compile-time interface compliance check
var _ StreamingAnswerService = (*directStreamingAnswerService)(nil)

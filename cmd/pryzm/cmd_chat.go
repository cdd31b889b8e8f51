// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/AleutianAI/PryzmChat/cmd/pryzm/internal/diagnostics"
	"github.com/AleutianAI/PryzmChat/pkg/sources"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	// Create the appropriate runner based on the --direct flag
	var runner ChatRunner
	if directMode {
		apiKey, err := resolveOpenRouterKey(cmd.Context())
		if err != nil {
			log.Fatalf("Direct mode needs an OpenRouter API key: %v", err)
		}
		model := modelOverride
		if model == "" {
			model = config.Global.ModelBackend.Model
		}
		runner = NewDirectChatRunner(DirectChatRunnerConfig{
			APIKey:    apiKey,
			Model:     model,
			WebSearch: webSearch,
		})
	} else {
		tracer := buildTurnTracer(cmd.Context())
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				slog.Warn("tracer shutdown failed", "error", err)
			}
		}()

		runner = NewRAGChatRunner(RAGChatRunnerConfig{
			BaseURL:      config.Global.Server.AnswerURL,
			MaxSources:   resolveMaxSources(),
			UseReranking: resolveReranking(cmd),
			WebSearch:    webSearch,
			Metrics:      diagnostics.NewDefaultDiagnosticsMetrics(config.Global.Diagnostics.Prometheus),
			Tracer:       tracer,
		})
	}
	defer runner.Close()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat error: %v", err)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	service := NewAnswerService(AnswerServiceConfig{
		BaseURL:      config.Global.Server.AnswerURL,
		MaxSources:   resolveMaxSources(),
		UseReranking: resolveReranking(cmd),
		Timeout:      time.Duration(config.Global.Server.TimeoutSeconds) * time.Second,
	})
	defer service.Close()

	ui := ux.NewChatUI()

	resp, err := askOnce(cmd.Context(), service, ui, question, webSearch)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	// Offer a web retry when retrieval came up short and the question
	// was not already routed through web search.
	if resp.Metadata.SuggestWebSearch && !webSearch {
		confirmed, err := ux.Confirm("Search the web?",
			"Retry this question with live web results.", true)
		if err != nil || !confirmed {
			return
		}
		if _, err := askOnce(cmd.Context(), service, ui, question, true); err != nil {
			log.Fatalf("Error: %v", err)
		}
	}
}

// askOnce sends one blocking question and renders the answer with its
// source panel. A thin local answer still renders; the caller reads
// Metadata.SuggestWebSearch off the returned response to decide whether
// to offer the web retry.
func askOnce(ctx context.Context, service AnswerService, ui ux.ChatUI, question string, useWebSearch bool) (*AnswerResponse, error) {
	resp, err := service.Ask(ctx, question, useWebSearch)
	if err != nil {
		return nil, err
	}

	ui.Response(resp.AnswerMD)
	fmt.Println()

	if resp.Metadata.WebSearchUsed || useWebSearch {
		ui.WebSearchNotice()
	}
	if len(resp.Sources) == 0 {
		ui.NoSources()
	} else {
		records := make([]sources.SourceRecord, len(resp.Sources))
		for i, item := range resp.Sources {
			records[i] = item.ToSourceRecord()
			records[i].Rank = i + 1
		}
		ui.Sources(records)
	}
	return resp, nil
}

// buildTurnTracer selects the span exporter from the diagnostics config.
// Export failures downgrade to the no-op tracer so a dead collector never
// blocks a chat session.
func buildTurnTracer(ctx context.Context) diagnostics.DiagnosticsTracer {
	diag := config.Global.Diagnostics
	if !diag.TraceExport {
		return diagnostics.NewNoOpDiagnosticsTracer("pryzm-cli")
	}

	tracer, err := diagnostics.NewOTelDiagnosticsTracer(ctx, diagnostics.OTelTracerConfig{
		ServiceName: "pryzm-cli",
		Endpoint:    diag.OTLPEndpoint,
		Insecure:    true, // local collectors run without TLS
	})
	if err != nil {
		slog.Warn("trace export unavailable, continuing without it", "error", err)
		return diagnostics.NewNoOpDiagnosticsTracer("pryzm-cli")
	}
	return tracer
}

// resolveOpenRouterKey fetches the OpenRouter API key through the secrets
// manager. The key leaves its enclave as a plain string because the OpenAI
// client takes string credentials; the locked buffer is destroyed as soon
// as the copy is made.
func resolveOpenRouterKey(ctx context.Context) (string, error) {
	secrets := NewDefaultSecretsManager(config.Global.Secrets, diagnostics.NewNoOpDiagnosticsMetrics())

	enclave, err := secrets.GetSecretSecure(ctx, SecretOpenRouterAPIKey)
	if err != nil {
		return "", fmt.Errorf("%w\n\n%s", err, secrets.GetSetupInstructions(SecretOpenRouterAPIKey))
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open api key enclave: %w", err)
	}
	key := strings.TrimSpace(buf.String())
	buf.Destroy()

	if key == "" {
		return "", fmt.Errorf("api key is empty: %s", secrets.GetSetupInstructions(SecretOpenRouterAPIKey))
	}
	return key, nil
}

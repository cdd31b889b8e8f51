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
	"log"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	webSearch        bool   // Route questions through live web search
	directMode       bool   // Bypass the answer service, talk to the model directly
	modelOverride    string // Model for direct mode (overrides config)
	maxSourcesFlag   int    // Evidence budget per question (0 = config value)
	useReranking     bool   // Server-side reranking of retrieved passages
	contextTopK      int    // Number of retrieval items for context inspection
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "pryzm",
		Short: "A conversational client for the Pryzm answer service",
		Long: `Pryzm is a terminal client for a private retrieval QA service.
				It streams answers with inline citations, keeps citation numbers
				stable across the whole conversation, and can fall back to live
				web search when your documents come up empty.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}

			if err := config.Load(); err != nil {
				log.Fatalf("Error loading configuration: %v", err)
			}

			initLogging(cmd) // Defined in main.go
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Starts an interactive chat session with streamed, cited answers",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Ask ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a single question and prints the answer with its sources",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sources ---
	sourcesCmd = &cobra.Command{
		Use:   "sources [doc_id] [pageno]",
		Short: "Fetches one full document page from the answer service",
		Args:  cobra.ExactArgs(2),
		Run:   runSourcesCommand, // Defined in cmd_sources.go
	}

	// --- Context ---
	contextCmd = &cobra.Command{
		Use:   "context [query]",
		Short: "Shows the retrieval context a query would draw on, without an LLM call",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContextCommand, // Defined in cmd_sources.go
	}
)

// init runs when the Go program starts
func init() {
	// Global UX personality flag
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	// chat command
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&webSearch, "web", false,
		"Send every question through live web search")
	chatCmd.Flags().BoolVar(&directMode, "direct", false,
		"Bypass the answer service and chat with the model directly (no retrieval, no citations)")
	chatCmd.Flags().StringVar(&modelOverride, "model", "",
		"Model for direct mode (default from config)")
	chatCmd.Flags().IntVar(&maxSourcesFlag, "max-sources", 0,
		"Evidence budget per question (default from config)")
	chatCmd.Flags().BoolVar(&useReranking, "rerank", false,
		"Ask the server to rerank retrieved passages")

	// ask command
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&webSearch, "web", false,
		"Answer from live web search instead of the local knowledge base")
	askCmd.Flags().IntVar(&maxSourcesFlag, "max-sources", 0,
		"Evidence budget for this question (default from config)")
	askCmd.Flags().BoolVar(&useReranking, "rerank", false,
		"Ask the server to rerank retrieved passages")

	// health command (defined in cmd_health.go)
	rootCmd.AddCommand(healthCmd)

	// source inspection commands
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().IntVar(&contextTopK, "top-k", 8,
		"Number of retrieval items to show")
}

// resolveMaxSources returns the per-question evidence budget, flag first.
func resolveMaxSources() int {
	if maxSourcesFlag > 0 {
		return maxSourcesFlag
	}
	return config.Global.Retrieval.MaxSources
}

// resolveReranking returns the reranking setting, flag first.
func resolveReranking(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("rerank") {
		return useReranking
	}
	return config.Global.Retrieval.UseReranking
}

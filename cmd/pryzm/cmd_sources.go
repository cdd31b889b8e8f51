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
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/PryzmChat/cmd/pryzm/config"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
	"github.com/AleutianAI/PryzmChat/pkg/validation"
	"github.com/spf13/cobra"
)

// runSourcesCommand fetches and prints one full document page.
//
// The reference is validated before any URL is built from it, so a
// malformed doc_id never reaches the request path.
func runSourcesCommand(cmd *cobra.Command, args []string) {
	docID := args[0]
	pageno, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Page number must be an integer, got %q\n", args[1])
		os.Exit(1)
	}

	if err := validation.ValidateSourceRef(docID, pageno); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source reference: %v\n", err)
		os.Exit(1)
	}

	client := NewSourceClient(SourceClientConfig{
		BaseURL: config.Global.Server.AnswerURL,
	})
	defer client.Close()

	page, err := client.GetSourcePage(cmd.Context(), docID, pageno)
	if errors.Is(err, ErrSourcePageNotFound) {
		fmt.Fprintf(os.Stderr, "No page %d for document %s on the server\n", pageno, docID)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Error fetching source page: %v", err)
	}

	ui := ux.NewChatUI()
	ui.SourcePage(*page)
}

// runContextCommand shows the retrieval context for a query without
// running the generation step. Useful for checking what the knowledge
// base would feed the model before spending an LLM call on it.
func runContextCommand(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	client := NewSourceClient(SourceClientConfig{
		BaseURL: config.Global.Server.AnswerURL,
	})
	defer client.Close()

	resp, err := client.DebugContext(cmd.Context(), query, contextTopK)
	if err != nil {
		log.Fatalf("Error fetching retrieval context: %v", err)
	}

	fmt.Printf("Retrieval context for %q (top %d):\n", resp.Query, resp.TopK)
	if resp.ContextCount == 0 {
		fmt.Println("  (nothing retrieved)")
		return
	}

	ui := ux.NewChatUI()
	ui.Sources(resp.Context)
}

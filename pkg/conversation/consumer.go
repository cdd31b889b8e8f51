// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"errors"

	"github.com/AleutianAI/PryzmChat/pkg/citation"
	"github.com/AleutianAI/PryzmChat/pkg/sources"
	"github.com/AleutianAI/PryzmChat/pkg/ux"
)

// Error messages the answer server sends when retrieval comes up empty.
// Matched verbatim to decide whether a web-search retry is worth offering.
const (
	errNoDocuments          = "No relevant documents found for this query."
	errInsufficientEvidence = "Insufficient evidence after processing."
)

// OffersWebRetry reports whether a stream error message is one of the
// empty-retrieval errors that a web-search retry can recover from.
func OffersWebRetry(message string) bool {
	return message == errNoDocuments || message == errInsufficientEvidence
}

// TurnError is a stream error surfaced to the chat loop.
type TurnError struct {
	// Message is the error text from the stream's error event.
	Message string

	// CanRetryWithWeb is true when the error means retrieval found
	// nothing and the same question may succeed with web search.
	CanRetryWithWeb bool
}

func (e *TurnError) Error() string {
	return e.Message
}

// TurnOutcome is everything the chat loop needs after a committed turn.
type TurnOutcome struct {
	// Message is the committed assistant message.
	Message Message

	// Renumbered maps compact citation numbers to the stable ranks they
	// were rewritten to. Nil for web-search turns.
	Renumbered citation.Mapping

	// Panel is the registry after the commit, for the source panel.
	Panel []sources.SourceRecord

	// UsedWebSearch is true when the turn was answered from the web.
	UsedWebSearch bool

	// Committed is false when a reset raced the stream and the turn was
	// dropped.
	Committed bool
}

// ApplyResult resolves a finished stream against its turn.
//
// # Description
//
// Bridges the streaming layer to conversation state. An error result
// discards the turn and comes back as a *TurnError carrying the retry
// hint; a successful result commits, running the source merge and the
// citation rewrite.
//
// A turn counts as web-search when the caller requested it or when the
// metadata carried the web search placeholder, so a server that upgrades
// a request on its own is still handled correctly.
//
// # Inputs
//
//   - t: The turn handle from BeginTurn.
//   - result: The finished stream result.
//   - requestedWebSearch: Whether the request asked for web search.
//
// # Outputs
//
//   - *TurnOutcome: The committed message and panel state. Nil on error.
//   - error: A *TurnError when the stream ended in an error event.
func ApplyResult(t *Turn, result *ux.StreamResult, requestedWebSearch bool) (*TurnOutcome, error) {
	if t == nil || result == nil {
		return nil, errors.New("conversation: nil turn or stream result")
	}

	if result.HasError() {
		t.Discard()
		return nil, &TurnError{
			Message:         result.Error,
			CanRetryWithWeb: OffersWebRetry(result.Error),
		}
	}

	usedWeb := requestedWebSearch
	for _, item := range result.Sources {
		if item.IsWebSearch() {
			usedWeb = true
			break
		}
	}

	turnCtx := ux.EvidenceToTurnContext(result.Sources)
	msg, mapping, committed := t.Commit(result.Answer, turnCtx, usedWeb)
	if !committed {
		return &TurnOutcome{Committed: false}, nil
	}

	return &TurnOutcome{
		Message:       msg,
		Renumbered:    mapping,
		Panel:         t.conv.Registry().Records(),
		UsedWebSearch: usedWeb,
		Committed:     true,
	}, nil
}

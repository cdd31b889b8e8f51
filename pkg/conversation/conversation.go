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
	"context"
	"sync"

	"github.com/AleutianAI/PryzmChat/pkg/citation"
	"github.com/AleutianAI/PryzmChat/pkg/sources"
)

// Conversation is the mutable state of one chat session.
//
// # Description
//
// Owns the transcript and the accumulated source registry, and tracks the
// turn currently streaming so a reset can cancel it. Turns commit through
// the Turn handle returned by BeginTurn; commits run the full citation
// pipeline (merge, then two-stage marker rewrite) atomically so the
// transcript and the registry can never disagree about a rank.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The chat loop runs on one
// goroutine, but resets can arrive from a signal handler.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	registry sources.Registry

	// epoch invalidates in-flight turns on reset. A Turn created before a
	// reset carries the old epoch and its commit becomes a no-op.
	epoch  uint64
	cancel context.CancelFunc
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// Len returns the number of messages, suppressed ones included.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Messages returns a copy of every message, suppressed ones included.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Transcript returns a copy of the displayable messages, excluding
// suppressed ones.
func (c *Conversation) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		if !m.Suppressed {
			out = append(out, m)
		}
	}
	return out
}

// Registry returns a snapshot of the accumulated source registry.
func (c *Conversation) Registry() sources.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

// AddUser appends a user message and returns it.
func (c *Conversation) AddUser(content string) Message {
	return c.addMessage(newMessage(RoleUser, content))
}

// AddUserSuppressed appends a user message hidden from the transcript.
//
// Used for the duplicate prompt a web-search retry sends: the question is
// already on screen from the failed attempt, so the retry copy is kept
// for the record but never displayed.
func (c *Conversation) AddUserSuppressed(content string) Message {
	m := newMessage(RoleUser, content)
	m.Suppressed = true
	return c.addMessage(m)
}

func (c *Conversation) addMessage(m Message) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return m
}

// SourceAt resolves a clicked citation rank against the registry.
//
// # Description
//
// Ranks are what the reader sees in rewritten markers and in the source
// panel. A rank outside [1, Len] means the marker never resolved to a
// registry entry (web-search turns, or a positional miss); the caller
// shows a toast instead of failing.
//
// # Outputs
//
//   - sources.SourceRecord: The registry entry at that rank.
//   - bool: False when the rank is out of range.
func (c *Conversation) SourceAt(rank int) (sources.SourceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.ByRank(rank)
}

// BeginTurn registers a streaming turn and returns its commit handle.
//
// # Description
//
// The cancel function is invoked if the conversation is reset while the
// turn is still streaming. At most one turn is in flight; beginning a new
// turn cancels a stale previous one.
//
// # Inputs
//
//   - cancel: Cancels the turn's stream request. May be nil in tests.
func (c *Conversation) BeginTurn(cancel context.CancelFunc) *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel

	return &Turn{conv: c, epoch: c.epoch}
}

// Reset cancels any in-flight turn and clears all state.
//
// The transcript, the registry, and the in-flight turn are all discarded;
// a commit arriving after the reset is dropped.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.messages = nil
	c.registry = sources.Registry{}
	c.epoch++
}

// =============================================================================
// Turns
// =============================================================================

// Turn is the commit handle for one streaming exchange.
//
// # Description
//
// Created by BeginTurn before the stream starts, resolved by exactly one
// of Commit or Discard when the stream finishes. A Turn outlived by a
// Reset is dead: Commit reports false and changes nothing.
type Turn struct {
	conv  *Conversation
	epoch uint64
}

// Commit finalizes a successfully streamed answer.
//
// # Description
//
// Runs the turn pipeline atomically against the conversation:
//
//  1. For knowledge-base turns, merge this turn's sources into the
//     registry cited-first and rewrite the answer's citation markers to
//     the resulting stable ranks.
//  2. For web-search turns, skip the merge entirely, compact the markers
//     to a per-turn 1..k sequence, and leave the registry untouched.
//  3. Append the assistant message holding the rewritten text.
//
// # Inputs
//
//   - answer: The complete streamed answer text.
//   - turn: This turn's sources in generator order. Empty is fine.
//   - usedWebSearch: Whether the turn was answered from a live web search.
//
// # Outputs
//
//   - Message: The committed assistant message.
//   - citation.Mapping: Compact marker to stable rank, for the renumber
//     notice. Nil for web-search turns.
//   - bool: False when the conversation was reset mid-turn; nothing was
//     committed.
func (t *Turn) Commit(answer string, turn sources.TurnContext, usedWebSearch bool) (Message, citation.Mapping, bool) {
	c := t.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.epoch != c.epoch {
		return Message{}, nil, false
	}
	c.cancel = nil

	var resolved string
	var mapping citation.Mapping
	if usedWebSearch {
		resolved, _ = citation.Resolve(answer, turn, c.registry, true)
	} else {
		merged := sources.Merge(c.registry, turn)
		resolved, mapping = citation.Resolve(answer, turn, merged, false)
		c.registry = merged
	}

	m := newMessage(RoleAssistant, resolved)
	m.WebSearch = usedWebSearch
	c.messages = append(c.messages, m)
	return m, mapping, true
}

// Discard resolves the turn without committing anything.
//
// Called when the stream ends in an error: the partially streamed text
// vanishes from the conversation as if the turn never happened. The
// user's question stays in the transcript.
func (t *Turn) Discard() {
	c := t.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.epoch != c.epoch {
		return
	}
	c.cancel = nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation holds the client-side state of one chat session:
// the message transcript, the accumulated source registry, and the
// lifecycle of the turn currently streaming.
//
// The answer backend is stateless per request, so everything the user can
// scroll back to or click on lives here. State never survives process
// exit.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation transcript.
//
// # Description
//
// Messages are append-only and immutable once committed. Assistant
// messages hold the final answer text after citation markers have been
// rewritten; the raw streamed text is never stored.
//
// # Fields
//
//   - ID: Unique message identifier.
//   - Role: Who authored the message.
//   - Content: The message text.
//   - CreatedAt: When the message was committed.
//   - Suppressed: Hidden from the displayed transcript. Set on the
//     duplicate user message a web-search retry sends, so the reader does
//     not see the same question twice.
//   - WebSearch: Set on assistant messages answered from a live web
//     search rather than the knowledge base.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Suppressed bool      `json:"suppressed,omitempty"`
	WebSearch  bool      `json:"web_search,omitempty"`
}

func newMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

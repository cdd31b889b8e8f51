// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/sources"
)

// ChatMode represents the chat operation mode
type ChatMode int

const (
	// ChatModeAnswer chats through the answer server with retrieval and citations
	ChatModeAnswer ChatMode = iota
	// ChatModeDirect chats with the model directly, bypassing retrieval
	ChatModeDirect
)

// String returns the mode name for display.
func (m ChatMode) String() string {
	if m == ChatModeDirect {
		return "direct"
	}
	return "answer"
}

// HeaderConfig holds the configuration for the chat session header.
//
// # Description
//
// Groups the session parameters shown when a chat starts: the mode, the
// server or model the session talks to, and the retrieval settings that
// shape every turn.
//
// # Fields
//
//   - Mode: Answer (retrieval-backed) or direct chat.
//   - ServerURL: Base URL of the answer server. Empty in direct mode.
//   - Model: Model identifier, when known up front. The server may pick
//     its own; the first response reports what was actually used.
//   - MaxSources: Retrieval cap per question.
//   - Reranking: Whether cross-encoder reranking is enabled.
//   - WebSearch: Whether every turn is forced through web search.
type HeaderConfig struct {
	Mode       ChatMode
	ServerURL  string
	Model      string
	MaxSources int
	Reranking  bool
	WebSearch  bool
}

// SessionStats holds statistics for a completed chat session.
//
// # Description
//
// Aggregated by the chat runner as turns complete and displayed when the
// session ends. All fields are optional; zero values are omitted from
// the rich display.
//
// # Fields
//
//   - MessageCount: Number of user/assistant exchanges.
//   - ContextTokens: Total tokens of retrieved context across all turns.
//   - SourcesUsed: Number of distinct sources collected in the panel.
//   - WebSearches: Number of turns answered from web search.
//   - Duration: Total session duration.
//   - FirstResponseLatency: Time from first question to first streamed chunk.
//   - AverageResponseTime: Average full-answer latency across turns.
type SessionStats struct {
	MessageCount         int
	ContextTokens        int
	SourcesUsed          int
	WebSearches          int
	Duration             time.Duration
	FirstResponseLatency time.Duration
	AverageResponseTime  time.Duration
}

// ChatUI provides terminal UI components for interactive chat sessions.
//
// # Description
//
// Renders the non-streaming parts of a chat session: the header, the
// source panel, fetched source pages, citation notices, and the session
// summary. Streamed answer text is handled by StreamRenderer; ChatUI
// takes over between turns.
//
// Output adapts to the personality level: full gets styled boxes and
// icons, minimal gets plain text, machine gets KEY: value lines.
//
// # Thread Safety
//
// Not safe for concurrent use. The chat runner calls these methods from
// a single goroutine between stream turns.
type ChatUI interface {
	// Header displays the chat session header.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string.
	Prompt() string

	// Response displays a complete (non-streamed) assistant answer.
	Response(answer string)

	// Sources displays the source panel with stable ranks.
	Sources(records []sources.SourceRecord)

	// NoSources displays a note that the panel is empty.
	NoSources()

	// SourcePage displays a full document page fetched for a citation.
	SourcePage(page sources.SourcePage)

	// CitationsRenumbered notes that citation markers were renumbered
	// against the panel. Identity mappings are not displayed.
	CitationsRenumbered(mapping map[int]int)

	// WebSearchNotice notes that the answer came from a live web search.
	WebSearchNotice()

	// Toast displays a transient, non-fatal notice to the user.
	Toast(message string)

	// Error displays a chat error message.
	Error(err error)

	// SessionEnd displays the simple session end message.
	SessionEnd()

	// SessionEndRich displays the session summary with statistics.
	SessionEndRich(stats *SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// NewChatUI creates a chat UI writing to stdout with the ambient personality.
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a chat UI with a custom writer and personality.
// Used by tests and by commands that render chat output elsewhere.
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	if w == nil {
		w = os.Stdout
	}
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

func (u *terminalChatUI) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(u.writer, format, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

func (u *terminalChatUI) writeln(args ...interface{}) {
	if _, err := fmt.Fprintln(u.writer, args...); err != nil {
		// Terminal write errors are non-recoverable; silently ignore
		return
	}
}

// Header displays the chat session header.
//
// # Description
//
// Renders the header box with mode, server, model, and retrieval settings.
// Adapts output based on personality level.
//
// # Inputs
//
//   - config: HeaderConfig with mode, server, model, and retrieval settings
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) Header(config HeaderConfig) {
	if u.personality == PersonalityMachine {
		u.headerMachine(config)
		return
	}

	if u.personality == PersonalityMinimal {
		u.headerMinimal(config)
		return
	}

	u.headerFull(config)
}

// headerMachine renders the header in machine-readable format.
func (u *terminalChatUI) headerMachine(config HeaderConfig) {
	if config.Mode == ChatModeAnswer {
		parts := []string{fmt.Sprintf("mode=answer server=%s", config.ServerURL)}
		if config.Model != "" {
			parts = append(parts, fmt.Sprintf("model=%s", config.Model))
		}
		parts = append(parts, fmt.Sprintf("max_sources=%d reranking=%t web_search=%t",
			config.MaxSources, config.Reranking, config.WebSearch))
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
	} else {
		parts := []string{"mode=direct"}
		if config.Model != "" {
			parts = append(parts, fmt.Sprintf("model=%s", config.Model))
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
	}
}

// headerMinimal renders the header in minimal format.
func (u *terminalChatUI) headerMinimal(config HeaderConfig) {
	if config.Mode == ChatModeAnswer {
		u.write("Answer Chat (server: %s)\n", config.ServerURL)
		if config.Model != "" {
			u.write("Model: %s\n", config.Model)
		}
		retrieval := fmt.Sprintf("Retrieval: up to %d sources", config.MaxSources)
		if config.Reranking {
			retrieval += ", reranked"
		}
		u.writeln(retrieval)
		if config.WebSearch {
			u.writeln("Web search: every turn")
		}
	} else {
		u.writeln("Direct Chat (no retrieval)")
		if config.Model != "" {
			u.write("Model: %s\n", config.Model)
		}
	}
	u.writeln("Type 'exit' to end.")
}

// headerFull renders the header with full styling.
func (u *terminalChatUI) headerFull(config HeaderConfig) {
	var content strings.Builder
	if config.Mode == ChatModeAnswer {
		content.WriteString(Styles.Highlight.Render("Pryzm Answer Chat"))
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Server: %s", Styles.Success.Render(config.ServerURL)))

		if config.Model != "" {
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("Model: %s", Styles.Success.Render(config.Model)))
		}

		content.WriteString("\n")
		retrieval := fmt.Sprintf("up to %d sources", config.MaxSources)
		if config.Reranking {
			retrieval += ", reranked"
		}
		content.WriteString(fmt.Sprintf("Retrieval: %s", Styles.Muted.Render(retrieval)))

		if config.WebSearch {
			content.WriteString(" | ")
			content.WriteString(Styles.Warning.Render("web search every turn"))
		}
	} else {
		content.WriteString(Styles.Warning.Render("Direct LLM Chat"))
		content.WriteString("\n")
		content.WriteString(Styles.Muted.Render("(no knowledge base)"))

		if config.Model != "" {
			content.WriteString("\n")
			content.WriteString(fmt.Sprintf("Model: %s", Styles.Success.Render(config.Model)))
		}
	}

	boxStyle := Styles.Box.Width(60)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Muted.Render("Type 'exit' to end, '/help' for commands."))
	u.writeln()
}

// Prompt returns the styled input prompt string
func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

// Response displays a complete assistant answer
func (u *terminalChatUI) Response(answer string) {
	if u.personality == PersonalityMachine {
		u.write("RESPONSE: %s\n", answer)
		return
	}
	u.writeln()
	u.writeln(answer)
}

// Sources displays the source panel in stable rank order
func (u *terminalChatUI) Sources(records []sources.SourceRecord) {
	if len(records) == 0 {
		return
	}

	if u.personality == PersonalityMachine {
		for i, r := range records {
			u.write("SOURCE: rank=%d doc=%s page=%d title=%s\n",
				displayRank(r, i), r.DocID, r.PageNo, sourceTitle(r))
		}
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.writeln("Sources:")
		for i, r := range records {
			u.write("  [%d] %s p.%d\n", displayRank(r, i), sourceTitle(r), r.PageNo)
		}
		return
	}

	// Full personality with styled box
	var content strings.Builder
	for i, r := range records {
		meta := fmt.Sprintf("p.%d", r.PageNo)
		if r.DocDate != "" {
			meta = fmt.Sprintf("%s, %s", meta, r.DocDate)
		}
		content.WriteString(fmt.Sprintf("[%d] %s %s",
			displayRank(r, i), sourceTitle(r), Styles.Muted.Render("("+meta+")")))
		if i < len(records)-1 {
			content.WriteString("\n")
		}
	}

	boxStyle := Styles.InfoBox.Width(60)
	titleLine := Styles.Subtitle.Render("Sources")
	u.writeln(boxStyle.Render(titleLine + "\n" + content.String()))
}

// displayRank returns the stable rank for a panel entry, falling back to
// the list position for records that were never assigned one.
func displayRank(r sources.SourceRecord, index int) int {
	if r.Rank > 0 {
		return r.Rank
	}
	return index + 1
}

// sourceTitle returns the display title, falling back to the document ID.
func sourceTitle(r sources.SourceRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return r.DocID
}

// NoSources displays a message when the source panel is empty
func (u *terminalChatUI) NoSources() {
	if u.personality == PersonalityMachine {
		u.writeln("SOURCES: none")
		return
	}
	if u.personality != PersonalityMinimal {
		u.writeln(Styles.Muted.Render("(No sources from the knowledge base)"))
	}
}

// SourcePage displays a full document page fetched for a citation.
//
// # Description
//
// Renders the page header (title, document ID, page number, date) and the
// full page text. Used by the /source command after the panel rank has
// been resolved to a document and page.
//
// # Inputs
//
//   - page: The fetched page. Text may be long; it is printed verbatim.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) SourcePage(page sources.SourcePage) {
	if u.personality == PersonalityMachine {
		u.write("SOURCE_PAGE: doc=%s page=%d title=%s\n", page.DocID, page.PageNo, page.Title)
		u.writeln(page.Text)
		return
	}

	u.writeln()
	if u.personality == PersonalityMinimal {
		u.write("%s (p.%d)\n\n", page.Title, page.PageNo)
		u.writeln(page.Text)
		return
	}

	u.writeln(Styles.Subtitle.Render(page.Title))
	meta := fmt.Sprintf("%s, p.%d", page.DocID, page.PageNo)
	if page.DocDate != "" {
		meta = fmt.Sprintf("%s, %s", meta, page.DocDate)
	}
	if page.URL != "" {
		meta = fmt.Sprintf("%s, %s", meta, page.URL)
	}
	u.writeln(Styles.Muted.Render(meta))
	u.writeln()
	u.writeln(page.Text)
}

// CitationsRenumbered notes that citation markers were renumbered.
//
// # Description
//
// Shown after an answer whose inline markers were rewritten to match the
// source panel's stable ranks. Identity mappings (every marker unchanged)
// are not worth mentioning and produce no output.
//
// # Inputs
//
//   - mapping: New marker by original compact marker.
//
// # Outputs
//
// None. Writes directly to the configured writer.
func (u *terminalChatUI) CitationsRenumbered(mapping map[int]int) {
	if len(mapping) == 0 {
		return
	}

	identity := true
	for from, to := range mapping {
		if from != to {
			identity = false
			break
		}
	}
	if identity {
		return
	}

	froms := make([]int, 0, len(mapping))
	for from := range mapping {
		froms = append(froms, from)
	}
	sort.Ints(froms)

	if u.personality == PersonalityMachine {
		pairs := make([]string, 0, len(froms))
		for _, from := range froms {
			pairs = append(pairs, fmt.Sprintf("%d=%d", from, mapping[from]))
		}
		u.write("RENUMBER: %s\n", strings.Join(pairs, " "))
		return
	}

	if u.personality == PersonalityMinimal {
		return
	}

	pairs := make([]string, 0, len(froms))
	for _, from := range froms {
		pairs = append(pairs, fmt.Sprintf("[%d]→[%d]", from, mapping[from]))
	}
	u.writeln(Styles.Muted.Render(fmt.Sprintf("(citations renumbered: %s)", strings.Join(pairs, ", "))))
}

// WebSearchNotice notes that the answer came from a live web search
func (u *terminalChatUI) WebSearchNotice() {
	if u.personality == PersonalityMachine {
		u.writeln("WEB_SEARCH: used")
		return
	}
	if u.personality == PersonalityMinimal {
		u.writeln("Answered from web search.")
		return
	}
	u.writeln(Styles.Muted.Render("(answered from a live web search; results are not kept in the source panel)"))
}

// Toast displays a transient, non-fatal notice
func (u *terminalChatUI) Toast(message string) {
	if u.personality == PersonalityMachine {
		u.write("NOTICE: %s\n", message)
		return
	}
	u.write("%s %s\n", IconWarning.Render(), Styles.Warning.Render(message))
}

// Error displays a chat error message
func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	u.write("%s %s\n", IconError.Render(), Styles.Error.Render(fmt.Sprintf("Chat error: %v", err)))
}

// SessionEnd displays the simple session end message
func (u *terminalChatUI) SessionEnd() {
	if u.personality == PersonalityMachine {
		u.writeln("CHAT_END")
		return
	}
	u.writeln("Goodbye!")
}

// SessionEndRich displays the session summary with statistics.
//
// # Description
//
// Displays a comprehensive session summary including:
//   - Message and source counts
//   - Retrieved context volume
//   - Web search usage
//   - Performance metrics (time to first response, average turn time)
//
// This is the "maximalist" session end experience, designed to give
// users full visibility into what the session did.
//
// # Inputs
//
//   - stats: Session statistics. If nil, falls back to SessionEnd behavior.
//
// # Outputs
//
// None. Writes directly to the configured writer.
//
// # Examples
//
//	stats := &SessionStats{
//	    MessageCount:  5,
//	    ContextTokens: 1234,
//	    Duration:      2 * time.Minute,
//	}
//	ui.SessionEndRich(stats)
//
// # Limitations
//
//   - Box rendering requires terminal width of at least 60 characters
//   - Emoji icons may not render on all terminals
//
// # Assumptions
//
//   - Writer is available and writable
//   - Terminal supports ANSI colors (for full personality)
func (u *terminalChatUI) SessionEndRich(stats *SessionStats) {
	// Fall back to simple end if no stats
	if stats == nil {
		u.SessionEnd()
		return
	}

	if u.personality == PersonalityMachine {
		u.sessionEndRichMachine(stats)
		return
	}

	if u.personality == PersonalityMinimal {
		u.sessionEndRichMinimal(stats)
		return
	}

	u.sessionEndRichFull(stats)
}

// sessionEndRichMachine renders session end in machine-readable format.
func (u *terminalChatUI) sessionEndRichMachine(stats *SessionStats) {
	u.write("CHAT_END: messages=%d context_tokens=%d sources=%d web_searches=%d duration=%s\n",
		stats.MessageCount, stats.ContextTokens, stats.SourcesUsed, stats.WebSearches,
		stats.Duration.Round(time.Millisecond))
}

// sessionEndRichMinimal renders session end in minimal format.
func (u *terminalChatUI) sessionEndRichMinimal(stats *SessionStats) {
	u.writeln()
	u.write("Messages: %d | Sources: %d | Duration: %s\n",
		stats.MessageCount, stats.SourcesUsed, formatDuration(stats.Duration))
	u.writeln("Goodbye!")
}

// sessionEndRichFull renders session end with full styling.
//
// # Description
//
// Outputs a comprehensive, styled session summary in a bordered box.
// Zero-valued statistics are omitted.
//
// # Inputs
//
//   - stats: Session statistics to display.
//
// # Outputs
//
// None. Writes styled box with statistics and a goodbye message.
//
// # Assumptions
//
//   - Stats is non-nil (caller validates)
//   - Terminal supports ANSI color codes
func (u *terminalChatUI) sessionEndRichFull(stats *SessionStats) {
	u.writeln()

	var content strings.Builder

	content.WriteString(Styles.Subtitle.Render("Session Summary"))
	content.WriteString("\n\n")

	// Core metrics with icons
	content.WriteString(fmt.Sprintf("  %s  %d messages exchanged\n",
		IconChat.Render(), stats.MessageCount))

	if stats.ContextTokens > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d context tokens retrieved\n",
			IconInfo.Render(), stats.ContextTokens))
	}

	if stats.SourcesUsed > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d sources collected\n",
			IconDocument.Render(), stats.SourcesUsed))
	}

	if stats.WebSearches > 0 {
		content.WriteString(fmt.Sprintf("  %s  %d web searches\n",
			Styles.Muted.Render("🌐"), stats.WebSearches))
	}

	// Duration
	content.WriteString(fmt.Sprintf("  %s  %s session duration\n",
		IconTime.Render(), formatDuration(stats.Duration)))

	// Performance metrics (conditional)
	if stats.FirstResponseLatency > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s time to first response\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.FirstResponseLatency)))
	}
	if stats.AverageResponseTime > 0 {
		content.WriteString(fmt.Sprintf("  %s  %s average turn time\n",
			Styles.Muted.Render("⚡"), formatDuration(stats.AverageResponseTime)))
	}

	boxStyle := Styles.Box.Width(68)
	u.writeln(boxStyle.Render(content.String()))
	u.writeln()
	u.writeln(Styles.Highlight.Render("Goodbye! 👋"))
}

// formatDuration formats a duration for human-readable display.
//
// # Description
//
// Converts a time.Duration to a human-friendly string representation.
// Adapts the format based on the magnitude of the duration.
//
// # Inputs
//
//   - d: The duration to format.
//
// # Outputs
//
//   - string: Formatted duration string.
//
// # Examples
//
//	formatDuration(500*time.Millisecond) // "500ms"
//	formatDuration(5*time.Second)        // "5.0s"
//	formatDuration(90*time.Second)       // "1m 30s"
//	formatDuration(2*time.Hour)          // "2h 0m"
//
// # Limitations
//
//   - Does not handle durations longer than 24 hours specially
//
// # Assumptions
//
//   - Duration is non-negative
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Pryzm CLI.
//
// This file defines the streaming event model shared by parsers, readers,
// and renderers. Events mirror the answer service's SSE wire format; the
// envelope fields (Id, CreatedAt, Index) are assigned client-side.
package ux

import (
	"time"

	"github.com/AleutianAI/PryzmChat/pkg/sources"
	"github.com/google/uuid"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	// StreamEventMetadata carries the retrieved sources and model info.
	// Sent once, before any content.
	StreamEventMetadata StreamEventType = "metadata"

	// StreamEventContent carries a chunk of generated answer text.
	StreamEventContent StreamEventType = "content"

	// StreamEventDone signals successful completion. Carries latency and,
	// from newer servers, fallback copies of the answer and sources.
	StreamEventDone StreamEventType = "done"

	// StreamEventError signals stream failure with a message.
	StreamEventError StreamEventType = "error"

	// StreamEventStatus is synthesized locally for progress display while
	// the client waits on retrieval. It never appears on the wire, and
	// readers drop it if a server ever emits one.
	StreamEventStatus StreamEventType = "status"
)

// String returns the wire name of the event type.
func (t StreamEventType) String() string {
	return string(t)
}

// IsTerminal reports whether this event type ends the stream.
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// Known reports whether this is an event type the client understands.
// Unknown types are skipped by readers rather than failing the stream, so
// older clients keep working when the server adds event kinds.
func (t StreamEventType) Known() bool {
	switch t {
	case StreamEventMetadata, StreamEventContent, StreamEventDone, StreamEventError:
		return true
	default:
		return false
	}
}

// =============================================================================
// Evidence Items
// =============================================================================

// EvidenceItem is the wire representation of a retrieved source.
//
// # Description
//
// The answer service sends one EvidenceItem per evidence block it handed to
// the generator, in the order the generator saw them. The generator's [n]
// citations index into this list positionally (EvidenceID is 1-based).
//
// Web search turns carry a single placeholder item with DocID "web_search";
// it stands in for the whole search and never enters the source registry.
//
// # Fields
//
//   - EvidenceID: 1-based position of this block in the generator's context.
//   - Citation: Human-readable citation label (e.g., "[FY2026 Budget p.12-14]").
//   - DocID: Stable document identifier.
//   - DocTitle: Document title for display.
//   - DocType: Document type (e.g., "pdf", "web"). May be empty.
//   - Date: Document date as reported by the backend. May be empty.
//   - PageRange: [start, end] page numbers. The start page identifies the
//     source together with DocID.
//   - SectionPath: Heading path within the document. May be empty.
//   - Text: The evidence text shown to the generator.
//   - SourceURL: URL with page anchor for opening the source.
//   - ChunkIDs: Ingestion chunk identifiers backing this block.
//   - TokenCount: Token count of Text.
//   - RerankScore, RRFScore, BM25Score, FaissScore: Retrieval scores for
//     transparency. Nil when the stage did not run.
type EvidenceItem struct {
	EvidenceID  int      `json:"evidence_id"`
	Citation    string   `json:"citation"`
	DocID       string   `json:"doc_id"`
	DocTitle    string   `json:"doc_title"`
	DocType     string   `json:"doctype,omitempty"`
	Date        string   `json:"date,omitempty"`
	PageRange   []int    `json:"page_range"`
	SectionPath []string `json:"section_path,omitempty"`
	Text        string   `json:"text"`
	SourceURL   string   `json:"source_url"`
	ChunkIDs    []string `json:"chunk_ids,omitempty"`
	TokenCount  int      `json:"token_count,omitempty"`

	RerankScore *float64 `json:"rerank_score,omitempty"`
	RRFScore    *float64 `json:"rrf_score,omitempty"`
	BM25Score   *float64 `json:"bm25_score,omitempty"`
	FaissScore  *float64 `json:"faiss_score,omitempty"`
}

// StartPage returns the first page of the evidence block, defaulting to 1
// when the server omitted the range.
func (e EvidenceItem) StartPage() int {
	if len(e.PageRange) > 0 && e.PageRange[0] > 0 {
		return e.PageRange[0]
	}
	return 1
}

// IsWebSearch reports whether this item is the web search placeholder.
func (e EvidenceItem) IsWebSearch() bool {
	return e.DocID == sources.WebSearchDocID
}

// ToSourceRecord converts the wire evidence item into the client's source
// record form. Rank is left unset; it is assigned by the registry.
func (e EvidenceItem) ToSourceRecord() sources.SourceRecord {
	return sources.SourceRecord{
		DocID:      e.DocID,
		PageNo:     e.StartPage(),
		Title:      e.DocTitle,
		URL:        e.SourceURL,
		DocDate:    e.Date,
		Snippet:    e.Text,
		EvidenceID: e.EvidenceID,
	}
}

// EvidenceToTurnContext converts a metadata sources list into a TurnContext,
// preserving the generator's ordering.
func EvidenceToTurnContext(items []EvidenceItem) sources.TurnContext {
	if len(items) == 0 {
		return nil
	}
	turn := make(sources.TurnContext, len(items))
	for i, item := range items {
		turn[i] = item.ToSourceRecord()
	}
	return turn
}

// =============================================================================
// Stream Events
// =============================================================================

// StreamEvent represents a single streaming event from the answer service.
//
// The wire fields map directly to the SSE JSON payloads. Envelope fields
// (Id, CreatedAt, Index) are assigned by the client when the event is
// parsed and never appear on the wire.
type StreamEvent struct {
	// Envelope (client-side)
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Index     int    `json:"index,omitempty"`

	Type StreamEventType `json:"type"`

	// Content events
	Chunk string `json:"chunk,omitempty"`

	// Error events
	Message string `json:"message,omitempty"`

	// Metadata events (and done fallback)
	Sources          []EvidenceItem `json:"sources,omitempty"`
	UsedModel        string         `json:"used_model,omitempty"`
	TotalSources     int            `json:"total_sources,omitempty"`
	TotalTokens      int            `json:"total_tokens,omitempty"`
	TargetTokens     int            `json:"target_tokens,omitempty"`
	SuggestWebSearch bool           `json:"suggest_web_search,omitempty"`

	// Done events
	AnswerMD  string `json:"answer_md,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`

	// Correlation
	RequestID string `json:"request_id,omitempty"`
}

// IsTerminal reports whether this event ends the stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// CreatedAtTime returns the event creation time.
func (e StreamEvent) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// NewMetadataEvent creates a metadata event with the given sources and model.
func NewMetadataEvent(items []EvidenceItem, usedModel string) StreamEvent {
	return StreamEvent{
		Id:           uuid.New().String(),
		CreatedAt:    time.Now().UnixMilli(),
		Type:         StreamEventMetadata,
		Sources:      items,
		UsedModel:    usedModel,
		TotalSources: len(items),
	}
}

// NewContentEvent creates a content event carrying one answer chunk.
func NewContentEvent(chunk string) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      StreamEventContent,
		Chunk:     chunk,
	}
}

// NewDoneEvent creates a done event with the reported latency.
func NewDoneEvent(latencyMs int64) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      StreamEventDone,
		LatencyMs: latencyMs,
	}
}

// NewErrorEvent creates an error event with the given message.
func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      StreamEventError,
		Message:   message,
	}
}

// NewStatusEvent creates a locally synthesized status event. Status events
// exist only inside the client; see StreamEventStatus.
func NewStatusEvent(message string) StreamEvent {
	return StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Type:      StreamEventStatus,
		Message:   message,
	}
}

// =============================================================================
// Stream Results
// =============================================================================

// StreamResult contains the aggregated outcome of one streamed answer.
//
// # Description
//
// A StreamResult accumulates everything a caller needs after the stream
// ends: the full answer text, the evidence items from the metadata event
// (or the done event's fallback copy), model info, timing metrics, and the
// error message if the stream failed.
//
// Timing fields are Unix milliseconds. Zero means "not reached".
//
// # Thread Safety
//
// StreamResult is a plain value. Readers and renderers that build one
// concurrently guard it with their own locks.
type StreamResult struct {
	Id        string `json:"id"`
	CreatedAt int64  `json:"created_at"`

	Answer           string         `json:"answer"`
	Sources          []EvidenceItem `json:"sources,omitempty"`
	UsedModel        string         `json:"used_model,omitempty"`
	SuggestWebSearch bool           `json:"suggest_web_search,omitempty"`

	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Metrics
	LatencyMs     int64 `json:"latency_ms,omitempty"`
	FirstChunkAt  int64 `json:"first_chunk_at,omitempty"`
	CompletedAt   int64 `json:"completed_at,omitempty"`
	TotalChunks   int   `json:"total_chunks,omitempty"`
	TotalEvents   int   `json:"total_events,omitempty"`
	ContextTokens int   `json:"context_tokens,omitempty"`
}

// NewStreamResult creates an empty result with Id and CreatedAt set.
func NewStreamResult() StreamResult {
	return StreamResult{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewStreamResultWithRequestID creates an empty result carrying the request
// correlation ID.
func NewStreamResultWithRequestID(requestID string) StreamResult {
	result := NewStreamResult()
	result.RequestID = requestID
	return result
}

// HasError reports whether the stream ended with an error event.
func (r StreamResult) HasError() bool {
	return r.Error != ""
}

// Duration returns the wall time from creation to completion, or 0 when
// either timestamp is missing.
func (r StreamResult) Duration() time.Duration {
	if r.CreatedAt == 0 || r.CompletedAt == 0 {
		return 0
	}
	return time.Duration(r.CompletedAt-r.CreatedAt) * time.Millisecond
}

// TimeToFirstChunk returns the latency before the first content chunk, or 0
// when no chunk arrived.
func (r StreamResult) TimeToFirstChunk() time.Duration {
	if r.CreatedAt == 0 || r.FirstChunkAt == 0 {
		return 0
	}
	return time.Duration(r.FirstChunkAt-r.CreatedAt) * time.Millisecond
}

// ChunksPerSecond returns the content chunk rate over the stream duration,
// or 0 when the duration or chunk count is zero.
func (r StreamResult) ChunksPerSecond() float64 {
	d := r.Duration()
	if d == 0 || r.TotalChunks == 0 {
		return 0
	}
	return float64(r.TotalChunks) / d.Seconds()
}

// CreatedAtTime returns the result creation time.
func (r StreamResult) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// CompletedAtTime returns the stream completion time.
func (r StreamResult) CompletedAtTime() time.Time {
	return time.UnixMilli(r.CompletedAt)
}

// FirstChunkAtTime returns the first chunk arrival time, or the zero time
// when no chunk arrived.
func (r StreamResult) FirstChunkAtTime() time.Time {
	if r.FirstChunkAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.FirstChunkAt)
}

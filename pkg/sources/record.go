// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sources maintains the cross-turn source registry for a Pryzm
// conversation.
//
// Every answered turn may cite document evidence. The registry accumulates
// those sources across turns into a single de-duplicated, stably ordered
// list so that citation numbers shown to the user keep pointing at the same
// entry as the conversation grows.
package sources

import "fmt"

// WebSearchDocID is the placeholder document ID the backend uses for web
// search turns. Records carrying it represent the whole search, not a
// corpus document, and never enter the registry.
const WebSearchDocID = "web_search"

// SourceRecord is one cited evidence unit attached to an answer.
//
// # Description
//
// A SourceRecord identifies a page of a corpus document plus the display
// metadata the backend returned for it. The same logical source may appear
// in many turns; identity is the (DocID, PageNo) pair, not the per-turn
// EvidenceID.
type SourceRecord struct {
	// Rank is the 1-indexed position in the accumulated registry.
	// Zero until the record has been through a merge.
	Rank int `json:"rank,omitempty"`

	// DocID is the opaque document identifier, stable across turns.
	DocID string `json:"doc_id"`

	// PageNo is the 1-indexed page number within the document.
	PageNo int `json:"pageno"`

	// Title is the document title for display. May be empty.
	Title string `json:"title,omitempty"`

	// URL is the document's source URL. May be empty.
	URL string `json:"url,omitempty"`

	// DocDate is the document date as reported by the backend. May be empty.
	DocDate string `json:"doc_date,omitempty"`

	// Snippet is preview text from the cited page. May be empty.
	Snippet string `json:"snippet,omitempty"`

	// EvidenceID is the number the generator used for this source within
	// the current turn. Not stable across turns; never used for identity.
	EvidenceID int `json:"evidence_id,omitempty"`
}

// SourceKey is the merge identity of a SourceRecord.
type SourceKey struct {
	DocID  string
	PageNo int
}

// Key returns the record's merge identity.
func (r SourceRecord) Key() SourceKey {
	return SourceKey{DocID: r.DocID, PageNo: r.PageNo}
}

// String formats the key for logs.
func (k SourceKey) String() string {
	return fmt.Sprintf("%s:p%d", k.DocID, k.PageNo)
}

// SourcePage is one full document page fetched for display, as returned by
// the source-page endpoint. Field names match the wire.
type SourcePage struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	DocDate string `json:"doc_date"`
	URL     string `json:"url"`
	PageNo  int    `json:"pageno"`
	Text    string `json:"text"`
}

// TurnContext is the ordered list of sources attached to one turn's
// finished answer, in the order the generator returned them. That order is
// this turn's provenance order and is independent of the registry.
type TurnContext []SourceRecord

// Keys returns the turn's source keys in generator order.
func (t TurnContext) Keys() []SourceKey {
	keys := make([]SourceKey, len(t))
	for i, r := range t {
		keys[i] = r.Key()
	}
	return keys
}

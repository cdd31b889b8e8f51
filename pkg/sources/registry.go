// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sources

// Registry is the accumulated, de-duplicated source list for one
// conversation.
//
// # Description
//
// Entries are unique by SourceKey and carry a contiguous 1-indexed Rank.
// A Registry is a value: Merge produces a new one and never mutates its
// input, so snapshots handed to the rendering layer stay valid while a
// turn is in flight.
//
// # Thread Safety
//
// Registry is an immutable value after construction. Concurrent reads are
// safe; replacement is the owner's (conversation state's) concern.
type Registry struct {
	entries []SourceRecord
}

// NewRegistry builds a registry directly from ranked records.
//
// Intended for tests and for restoring a snapshot; normal growth goes
// through Merge. Ranks are reassigned 1..n in the given order so a caller
// cannot construct a registry that violates the rank invariant.
func NewRegistry(records ...SourceRecord) Registry {
	entries := make([]SourceRecord, len(records))
	copy(entries, records)
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return Registry{entries: entries}
}

// Len returns the number of accumulated sources.
func (g Registry) Len() int {
	return len(g.entries)
}

// Records returns a copy of the entries in rank order.
func (g Registry) Records() []SourceRecord {
	out := make([]SourceRecord, len(g.entries))
	copy(out, g.entries)
	return out
}

// ByRank returns the record with the given 1-indexed rank.
func (g Registry) ByRank(rank int) (SourceRecord, bool) {
	if rank < 1 || rank > len(g.entries) {
		return SourceRecord{}, false
	}
	return g.entries[rank-1], true
}

// RankOf returns the rank of the record with the given key, or false when
// the key has never been accumulated.
func (g Registry) RankOf(key SourceKey) (int, bool) {
	for _, e := range g.entries {
		if e.Key() == key {
			return e.Rank, true
		}
	}
	return 0, false
}

// Contains reports whether the key has been accumulated.
func (g Registry) Contains(key SourceKey) bool {
	_, ok := g.RankOf(key)
	return ok
}

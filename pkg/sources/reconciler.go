// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sources

// Merge reconciles one turn's sources into the accumulated registry.
//
// # Description
//
// Produces a new registry ordered cited-first: sources the generator cited
// this turn surface at the top in the generator's own order, while
// previously accumulated sources the generator ignored this turn keep
// their relative order below. Re-cited sources have their display metadata
// refreshed from the newer record. Ranks are reassigned 1..n over the
// result.
//
// Callers must not invoke Merge for a web-search turn; web provenance is
// not citable evidence here and the turn's lifecycle owner skips the merge
// entirely, leaving the registry untouched.
//
// # Inputs
//
//   - current: The accumulated registry before this turn.
//   - turn: This turn's sources in generator order. May be empty.
//
// # Outputs
//
//   - Registry: The reconciled registry. When turn is empty this is
//     current itself, order and ranks unchanged.
//
// # Examples
//
//	reg := sources.NewRegistry(a, b, c)          // ranks 1,2,3
//	merged := sources.Merge(reg, TurnContext{c, d})
//	// merged order: c, d, a, b with ranks 1,2,3,4
//
// # Limitations
//
//   - Merge trusts the turn's records as-is; it does not validate DocID or
//     PageNo. Wire-level validation happens before records reach here.
func Merge(current Registry, turn TurnContext) Registry {
	if len(turn) == 0 {
		return current
	}

	// Overlay the turn onto the accumulated map by key. The first record
	// wins position bookkeeping elsewhere; here the newest record wins the
	// metadata so re-cited sources pick up refreshed snippets and titles.
	byKey := make(map[SourceKey]SourceRecord, len(current.entries)+len(turn))
	for _, e := range current.entries {
		byKey[e.Key()] = e
	}
	citedOrder := make([]SourceKey, 0, len(turn))
	cited := make(map[SourceKey]bool, len(turn))
	for _, r := range turn {
		key := r.Key()
		if !cited[key] {
			cited[key] = true
			citedOrder = append(citedOrder, key)
		}
		byKey[key] = r
	}

	merged := make([]SourceRecord, 0, len(byKey))
	for _, key := range citedOrder {
		merged = append(merged, byKey[key])
	}
	for _, e := range current.entries {
		if !cited[e.Key()] {
			merged = append(merged, byKey[e.Key()])
		}
	}

	for i := range merged {
		merged[i].Rank = i + 1
	}
	return Registry{entries: merged}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package citation

import (
	"strconv"

	"github.com/AleutianAI/PryzmChat/pkg/sources"
)

// Mapping maps one citation numbering onto another. Built twice per turn
// (generator number to compact number, compact number to stable rank) and
// discarded once the turn's message is finalized.
type Mapping map[int]int

// Compact renumbers markers to a contiguous per-turn sequence.
//
// # Description
//
// Stage one of the per-turn rewrite. citationsInText is the Scan output
// for the same text: distinct marker numbers in first-appearance order.
// Each becomes its 1-based position in that order, so a turn's citations
// always read 1..k no matter which evidence IDs the generator emitted.
//
// Every marker is rewritten in one pass over the text; a marker whose
// number is missing from citationsInText is left untouched.
//
// # Outputs
//
//   - string: The rewritten text.
//   - Mapping: Original number to compact number.
func Compact(text string, citationsInText []int) (string, Mapping) {
	temp := make(Mapping, len(citationsInText))
	for i, orig := range citationsInText {
		if _, dup := temp[orig]; !dup {
			temp[orig] = i + 1
		}
	}
	return rewrite(text, temp), temp
}

// Stabilize renumbers compacted markers to accumulated registry ranks.
//
// # Description
//
// Stage two of the per-turn rewrite, run against the text Compact
// produced. For each compact number t, the t-th source of the turn (in
// generator order) is assumed to be the one the t-th distinct citation
// refers to; its (doc_id, pageno) key is looked up in the reconciled
// registry and t is rewritten to that stable rank.
//
// The positional correspondence between first-appearance order and
// generator source order is an observed property of the answer backend,
// not a guaranteed contract. When it breaks (fewer sources than
// citations, or a key absent from the registry) the affected marker is
// left at its compact number rather than failing the turn: the reader
// still sees a number, it just may not resolve to a registry entry.
//
// # Inputs
//
//   - compacted: Text already rewritten by Compact.
//   - temp: The Compact mapping for this turn.
//   - turn: This turn's sources in generator order.
//   - reconciled: The registry after this turn's merge.
//
// # Outputs
//
//   - string: The rewritten text.
//   - Mapping: Compact number to stable rank; misses are absent.
func Stabilize(compacted string, temp Mapping, turn sources.TurnContext, reconciled sources.Registry) (string, Mapping) {
	final := make(Mapping, len(temp))
	for _, tempNum := range temp {
		idx := tempNum - 1
		if idx < 0 || idx >= len(turn) {
			continue
		}
		rank, ok := reconciled.RankOf(turn[idx].Key())
		if !ok {
			continue
		}
		final[tempNum] = rank
	}
	return rewrite(compacted, final), final
}

// Resolve runs the full two-stage rewrite for one finished turn.
//
// # Description
//
// Scans the final answer text, compacts its markers, and, for turns that
// did not use web search, stabilizes them against the reconciled registry.
// Web-search turns stop after compaction: their sources were never merged,
// so compact numbers are shown as informational markers that do not
// resolve to registry entries, and the returned mapping is nil.
//
// Text without markers comes back unchanged.
//
// # Outputs
//
//   - string: The fully rewritten text.
//   - Mapping: Compact number to stable rank, for telling the reader what
//     moved. Nil when stage two did not run.
func Resolve(text string, turn sources.TurnContext, reconciled sources.Registry, usedWebSearch bool) (string, Mapping) {
	citations := Scan(text)
	if len(citations) == 0 {
		return text, nil
	}

	compacted, temp := Compact(text, citations)
	if usedWebSearch {
		return compacted, nil
	}

	return Stabilize(compacted, temp, turn, reconciled)
}

// rewrite replaces every marker whose number is mapped, in a single pass
// so renumbering never cascades through earlier replacements.
func rewrite(text string, m Mapping) string {
	if len(m) == 0 {
		return text
	}
	return markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(marker[1 : len(marker)-1])
		if err != nil {
			return marker
		}
		mapped, ok := m[n]
		if !ok {
			return marker
		}
		return "[" + strconv.Itoa(mapped) + "]"
	})
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package citation extracts and rewrites in-text citation markers.
//
// Answers cite evidence with markers of the literal shape [n]. The
// generator numbers them with per-turn evidence IDs; this package scans
// them out of finished text and renumbers them, first to a compact
// per-turn sequence and then to the stable ranks of the accumulated
// source registry.
package citation

import (
	"regexp"
	"strconv"
)

// markerPattern matches a citation marker: a [ then digits then ].
// Markers with signs, spaces, or non-digits inside are not citations.
var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// Scan extracts citation numbers from answer text.
//
// # Description
//
// Single linear pass over the text. Returns the distinct marker numbers in
// order of first appearance, not numeric order; repeated markers keep only
// their first position. Text without markers yields an empty result, which
// is not an error.
//
// # Examples
//
//	citation.Scan("Alpha [2] beta [5] gamma [2]")  // [2, 5]
//	citation.Scan("no markers here")               // nil
func Scan(text string) []int {
	var order []int
	seen := map[int]bool{}
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		if !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	return order
}

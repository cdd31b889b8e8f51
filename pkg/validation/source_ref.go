// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for identifiers that are interpolated into
// request paths. Using these validators prevents path traversal and request
// smuggling through crafted document references.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// docIDPattern matches valid document identifiers.
// Allows: letters, digits, dots (budget.v2), hyphens (budget-fy2026),
// underscores (annual_report). Must start alphanumeric, so a segment can
// never be "." or "..".
// Max length: 128 characters.
var docIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateDocID validates a document identifier before it is placed in a
// request path.
//
// Valid doc IDs:
//   - 1-128 characters
//   - Letters A-Z a-z
//   - Digits 0-9
//   - Dots (.), hyphens (-), underscores (_) after the first character
//
// Returns an error if the doc ID is invalid.
//
// Example:
//
//	if err := validation.ValidateDocID(docID); err != nil {
//	    return nil, fmt.Errorf("invalid doc id: %w", err)
//	}
//	// Safe to use in /v1/source/{doc_id}/{pageno}
func ValidateDocID(docID string) error {
	if docID == "" {
		return fmt.Errorf("doc id cannot be empty")
	}

	if !docIDPattern.MatchString(docID) {
		return fmt.Errorf("invalid doc id format: %q (must be 1-128 alphanumeric chars, dots, hyphens, or underscores)", docID)
	}

	return nil
}

// ValidatePageNo validates a page number before it is placed in a request
// path. Pages are 1-based; the server rejects anything below 1 with a 400.
func ValidatePageNo(pageno int) error {
	if pageno < 1 {
		return fmt.Errorf("page number must be >= 1, got %d", pageno)
	}
	return nil
}

// ValidateSourceRef validates a (doc_id, pageno) pair together.
// Returns the first error encountered.
func ValidateSourceRef(docID string, pageno int) error {
	if err := ValidateDocID(docID); err != nil {
		return err
	}
	return ValidatePageNo(pageno)
}

// SanitizeDocID normalizes and validates a document identifier.
// Returns the trimmed doc ID if valid, or an error if invalid.
//
// Use this on identifiers typed by the user (the /source command):
//
//	safeDocID, err := validation.SanitizeDocID(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeDocID is trimmed and validated
func SanitizeDocID(docID string) (string, error) {
	normalized := strings.TrimSpace(docID)
	if err := ValidateDocID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constraint reduces lock-related annotations into one resolved
// modification constraint per scope and resolves file-to-symbol inheritance
// at query time.
package constraint

// Level is the resolved modification-permission level for a file or symbol.
type Level string

const (
	// LevelFrozen forbids modification entirely.
	LevelFrozen Level = "frozen"

	// LevelRestricted requires explicit permission for any change.
	LevelRestricted Level = "restricted"

	// LevelApprovalRequired requires confirmation before changes apply.
	LevelApprovalRequired Level = "approval-required"

	// LevelTestsRequired requires changes to ship with tests.
	LevelTestsRequired Level = "tests-required"

	// LevelDocsRequired requires changes to update documentation.
	LevelDocsRequired Level = "docs-required"

	// LevelNormal permits modification under project conventions. It is the
	// resolution of a scope with no lock annotation at all.
	LevelNormal Level = "normal"
)

// Levels returns the resolved levels ordered most to least restrictive.
// Index listings and stats output iterate this order.
func Levels() []Level {
	return []Level{
		LevelFrozen,
		LevelRestricted,
		LevelApprovalRequired,
		LevelTestsRequired,
		LevelDocsRequired,
		LevelNormal,
	}
}

// ParseLevel maps a lock annotation value onto a resolved level. Values
// outside the resolved set (review-required, experimental, misspellings)
// report ok false and resolve to LevelNormal; the record's directive text
// is kept separately, so the author's instruction survives the fallback.
func ParseLevel(s string) (Level, bool) {
	switch l := Level(s); l {
	case LevelFrozen, LevelRestricted, LevelApprovalRequired,
		LevelTestsRequired, LevelDocsRequired, LevelNormal:
		return l, true
	}
	return LevelNormal, false
}

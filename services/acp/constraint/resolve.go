// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraint

import (
	"github.com/AleutianAI/acp/services/acp/annotation"
)

// Constraint is the resolved modification permission for one scope.
type Constraint struct {
	Level Level `json:"level"`

	// Directive is the human-readable instruction from the winning lock
	// annotation. Empty when the scope has no lock of its own.
	Directive string `json:"directive,omitempty"`

	// Reason is the stated restriction reason, from @acp:lock:reason or
	// @acp:lock-reason.
	Reason string `json:"reason,omitempty"`

	// Contributing holds the non-lock directive-bearing annotations at the
	// scope, in source order. They are display context and never alter the
	// level.
	Contributing []annotation.AnnotationRecord `json:"contributing,omitempty"`
}

// Resolve reduces the annotations attached to one scope into a Constraint.
//
// Description:
//
//	The level comes from the last level-setting @acp:lock in source order;
//	conflicting locks at one scope are not an error, last wins. Lock records
//	carrying a sub-namespace never set the level: lock:reason sets Reason,
//	other sub-namespaces are ignored here and stay available in the scope's
//	annotation map. Non-lock records that carry a directive accumulate into
//	Contributing. A scope without any lock resolves to LevelNormal with an
//	empty directive, which keeps "unannotated" distinguishable from an
//	explicit @acp:lock normal.
//
// Inputs:
//   - records: the scope's annotations in source order, across however many
//     blocks attached to the scope.
//
// Outputs:
//   - Constraint: Level is always set.
func Resolve(records []annotation.AnnotationRecord) Constraint {
	c := Constraint{Level: LevelNormal}
	for i := range records {
		r := &records[i]
		if r.Namespace == "lock" {
			switch r.SubNamespace {
			case "":
				c.Level, _ = ParseLevel(r.Value)
				c.Directive = r.Directive
			case "reason":
				if r.Value != "" {
					c.Reason = r.Value
				}
			}
			continue
		}
		if r.Namespace == "lock-reason" && r.Value != "" {
			c.Reason = r.Value
		}
		if r.Directive != "" {
			c.Contributing = append(c.Contributing, *r)
		}
	}
	return c
}

// HasLock reports whether records carry a level-setting @acp:lock. A symbol
// without one inherits the file's constraint instead of resolving its own.
func HasLock(records []annotation.AnnotationRecord) bool {
	for i := range records {
		if records[i].Namespace == "lock" && records[i].SubNamespace == "" {
			return true
		}
	}
	return false
}

// Effective resolves file-to-symbol inheritance at query time: a symbol with
// its own constraint keeps it, any other symbol takes the file's. The cache
// stores no copy for inheriting symbols, so a later file-level change is
// visible to them without a symbol reindex.
func Effective(own *Constraint, file Constraint) Constraint {
	if own != nil {
		return *own
	}
	return file
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"fmt"
	"sort"
)

// SnapshotDiff summarizes what changed between two cache snapshots.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`

	// FilesAdded, FilesRemoved, and FilesChanged compare by path, with
	// "changed" decided by the recorded content hashes.
	FilesAdded   []string `json:"files_added"`
	FilesRemoved []string `json:"files_removed"`
	FilesChanged []string `json:"files_changed"`

	SymbolsAdded   []string `json:"symbols_added"`
	SymbolsRemoved []string `json:"symbols_removed"`

	// SymbolsModified are symbols present in both snapshots whose content
	// differs.
	SymbolsModified []SymbolDiff `json:"symbols_modified"`

	Summary DiffSummary `json:"summary"`
}

// SymbolDiff describes how one symbol changed.
type SymbolDiff struct {
	QualifiedName string `json:"qualified_name"`

	// ChangeType is "moved", "signature_changed", "constraint_changed", or
	// "edges_changed".
	ChangeType string `json:"change_type"`
}

// DiffSummary aggregates a diff.
type DiffSummary struct {
	TotalChanges int `json:"total_changes"`

	// FilesAffected counts distinct files touched by any change.
	FilesAffected int `json:"files_affected"`

	// ChangeRatio is the fraction of symbols that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffSnapshots compares two cache documents, typically loaded from
// snapshots. Comparison is by path and qualified name; a moved symbol shows
// as modified when its qualified name survived the move, otherwise as
// remove plus add.
func DiffSnapshots(base, target *CacheRoot, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base cache must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target cache must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:   baseSnapshotID,
		TargetSnapshotID: targetSnapshotID,
		FilesAdded:       []string{},
		FilesRemoved:     []string{},
		FilesChanged:     []string{},
		SymbolsAdded:     []string{},
		SymbolsRemoved:   []string{},
		SymbolsModified:  []SymbolDiff{},
	}

	affectedFiles := make(map[string]bool)

	for path := range target.Files {
		if _, exists := base.Files[path]; !exists {
			diff.FilesAdded = append(diff.FilesAdded, path)
			affectedFiles[path] = true
			continue
		}
		if base.ContentHashes[path] != target.ContentHashes[path] {
			diff.FilesChanged = append(diff.FilesChanged, path)
			affectedFiles[path] = true
		}
	}
	for path := range base.Files {
		if _, exists := target.Files[path]; !exists {
			diff.FilesRemoved = append(diff.FilesRemoved, path)
			affectedFiles[path] = true
		}
	}

	for name, tSym := range target.Symbols {
		bSym, exists := base.Symbols[name]
		if !exists {
			diff.SymbolsAdded = append(diff.SymbolsAdded, name)
			affectedFiles[tSym.File] = true
			continue
		}
		if symbolChanged(bSym, tSym) {
			affectedFiles[bSym.File] = true
			affectedFiles[tSym.File] = true
			diff.SymbolsModified = append(diff.SymbolsModified, SymbolDiff{
				QualifiedName: name,
				ChangeType:    classifySymbolChange(bSym, tSym),
			})
		}
	}
	for name, bSym := range base.Symbols {
		if _, exists := target.Symbols[name]; !exists {
			diff.SymbolsRemoved = append(diff.SymbolsRemoved, name)
			affectedFiles[bSym.File] = true
		}
	}

	sort.Strings(diff.FilesAdded)
	sort.Strings(diff.FilesRemoved)
	sort.Strings(diff.FilesChanged)
	sort.Strings(diff.SymbolsAdded)
	sort.Strings(diff.SymbolsRemoved)
	sort.Slice(diff.SymbolsModified, func(i, j int) bool {
		return diff.SymbolsModified[i].QualifiedName < diff.SymbolsModified[j].QualifiedName
	})

	totalSymbols := len(base.Symbols)
	if len(target.Symbols) > totalSymbols {
		totalSymbols = len(target.Symbols)
	}
	changeRatio := 0.0
	if totalSymbols > 0 {
		changedSymbols := len(diff.SymbolsAdded) + len(diff.SymbolsRemoved) + len(diff.SymbolsModified)
		changeRatio = float64(changedSymbols) / float64(totalSymbols)
	}

	diff.Summary = DiffSummary{
		TotalChanges: len(diff.FilesAdded) + len(diff.FilesRemoved) + len(diff.FilesChanged) +
			len(diff.SymbolsAdded) + len(diff.SymbolsRemoved) + len(diff.SymbolsModified),
		FilesAffected: len(affectedFiles),
		ChangeRatio:   changeRatio,
	}

	return diff, nil
}

func symbolChanged(base, target *SymbolEntry) bool {
	if base.Signature != target.Signature {
		return true
	}
	if base.File != target.File {
		return true
	}
	if base.StartLine != target.StartLine {
		return true
	}
	if constraintLevel(base) != constraintLevel(target) {
		return true
	}
	return len(base.Callers) != len(target.Callers) || len(base.Callees) != len(target.Callees)
}

func classifySymbolChange(base, target *SymbolEntry) string {
	if base.File != target.File {
		return "moved"
	}
	if base.Signature != target.Signature {
		return "signature_changed"
	}
	if constraintLevel(base) != constraintLevel(target) {
		return "constraint_changed"
	}
	if len(base.Callers) != len(target.Callers) || len(base.Callees) != len(target.Callees) {
		return "edges_changed"
	}
	return "signature_changed"
}

// constraintLevel reads the symbol's own level; "" means inheriting. A
// change between inheriting and owning counts as a constraint change.
func constraintLevel(s *SymbolEntry) string {
	if s.Constraint == nil {
		return ""
	}
	return string(s.Constraint.Level)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	gopath "path"
	"strings"

	"github.com/AleutianAI/acp/services/acp/ast"
	"github.com/AleutianAI/acp/services/acp/cache"
)

// Touched computes which files need relinking after an incremental change.
//
// Description:
//
//	Given the previous document and the changed, added, and deleted paths,
//	Touched returns every file whose forward edges could differ in a full
//	rebuild of the new file set. Changed and added files are always
//	included. An unchanged file is included when any of its stored imports
//	would resolve differently against the new file set, when a stored edge
//	points at a dirty file (import target or a callee's defining file), or,
//	for Go, when a package sibling is dirty, since same-package calls
//	resolve without an import statement.
//
//	Callers relink exactly this set and leave the rest of the document's
//	forward edges stored, which keeps incremental output byte-identical to
//	a full rebuild.
//
// Outputs:
//
//	The touched path set. Deleted paths never appear in it.
func Touched(prev *cache.CacheRoot, changed, added, deleted []string) map[string]bool {
	touched := make(map[string]bool, len(changed)+len(added))
	dirty := make(map[string]bool, len(changed)+len(added)+len(deleted))
	removed := make(map[string]bool, len(deleted))
	for _, p := range changed {
		touched[p] = true
		dirty[p] = true
	}
	for _, p := range added {
		touched[p] = true
		dirty[p] = true
	}
	for _, p := range deleted {
		dirty[p] = true
		removed[p] = true
	}

	next := nextTables(prev, added, removed)
	goDirty := make(map[string]bool)
	for p := range dirty {
		if isGoPath(prev, p) {
			goDirty[gopath.Dir(p)] = true
		}
	}

	for path, f := range prev.Files {
		if touched[path] || removed[path] {
			continue
		}
		if f.Language == "go" && goDirty[gopath.Dir(path)] {
			touched[path] = true
			continue
		}
		if importsDiffer(next, path, f) {
			touched[path] = true
			continue
		}
		if edgesDirty(prev, dirty, f) {
			touched[path] = true
		}
	}
	return touched
}

// nextTables builds the resolution tables for the post-change file set:
// membership and Go directories only, which is all resolveImport reads.
// Added files are classified by extension since they are not extracted yet.
func nextTables(prev *cache.CacheRoot, added []string, removed map[string]bool) *projectTables {
	t := &projectTables{
		files:  make(map[string]bool, len(prev.Files)+len(added)),
		goDirs: make(map[string][]string),
	}
	addFile := func(p string, isGo bool) {
		t.files[p] = true
		if isGo {
			dir := gopath.Dir(p)
			t.goDirs[dir] = insertSorted(t.goDirs[dir], p)
		}
	}
	for p, f := range prev.Files {
		if !removed[p] {
			addFile(p, f.Language == "go")
		}
	}
	for _, p := range added {
		if !t.files[p] {
			addFile(p, gopath.Ext(p) == ".go")
		}
	}
	return t
}

// importsDiffer reports whether any of the file's stored import statements
// would resolve to a different target set against the new file set. The
// stored edges carry the path as written, which with the leading-dot
// convention is enough to re-run resolution without re-parsing the file.
func importsDiffer(next *projectTables, path string, f *cache.FileEntry) bool {
	i := 0
	for i < len(f.Imports) {
		src := f.Imports[i].Source
		stored := make(map[string]bool)
		for i < len(f.Imports) && f.Imports[i].Source == src {
			stored[f.Imports[i].Target] = true
			i++
		}
		imp := ast.Import{Path: src, Relative: strings.HasPrefix(src, ".")}
		want := next.resolveImport(f.Language, path, imp)
		if len(want) == 0 {
			want = []string{cache.External}
		}
		if len(want) != len(stored) {
			return true
		}
		for _, target := range want {
			if !stored[target] {
				return true
			}
		}
	}
	return false
}

// edgesDirty reports whether any stored forward edge of the file points at
// a dirty file: an import target, or the defining file of a callee. Either
// way the edge may no longer hold and the file needs a relink.
func edgesDirty(prev *cache.CacheRoot, dirty map[string]bool, f *cache.FileEntry) bool {
	for _, e := range f.Imports {
		if e.Target != cache.External && dirty[e.Target] {
			return true
		}
	}
	for _, qn := range f.Symbols {
		sym := prev.Symbols[qn]
		if sym == nil {
			continue
		}
		for _, callee := range sym.Callees {
			if callee == cache.External {
				continue
			}
			if target := prev.Symbols[callee]; target != nil && dirty[target.File] {
				return true
			}
		}
	}
	return false
}

func isGoPath(prev *cache.CacheRoot, p string) bool {
	if f := prev.Files[p]; f != nil {
		return f.Language == "go"
	}
	return gopath.Ext(p) == ".go"
}

func insertSorted(list []string, p string) []string {
	i := 0
	for i < len(list) && list[i] < p {
		i++
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = p
	return list
}

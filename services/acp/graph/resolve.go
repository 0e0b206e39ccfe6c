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
	"sort"
	"strings"

	"github.com/AleutianAI/acp/services/acp/ast"
	"github.com/AleutianAI/acp/services/acp/cache"
)

// projectTables are the Pass 1 global tables: symbol and export lookups plus
// the Go package-directory map. Built once per Link from the whole document
// and read-only afterwards, so Pass 2 workers share them without locking.
type projectTables struct {
	// files is the project file set.
	files map[string]bool

	// exports maps file path to exported simple name to qualified name.
	exports map[string]map[string]string

	// locals maps file path to every non-method simple name to qualified
	// name, exported or not. Same-file and same-package calls resolve here.
	locals map[string]map[string]string

	// methods maps file path to method name to qualified name, for
	// self/this/cls receivers.
	methods map[string]map[string]string

	// goDirs maps a directory to its Go files, sorted. Go import paths
	// resolve by suffix match against these directories.
	goDirs map[string][]string
}

func newProjectTables(c *cache.CacheRoot) *projectTables {
	t := &projectTables{
		files:   make(map[string]bool, len(c.Files)),
		exports: make(map[string]map[string]string),
		locals:  make(map[string]map[string]string),
		methods: make(map[string]map[string]string),
		goDirs:  make(map[string][]string),
	}
	for path, f := range c.Files {
		t.files[path] = true
		if f.Language == "go" {
			dir := gopath.Dir(path)
			t.goDirs[dir] = append(t.goDirs[dir], path)
		}
	}
	for _, paths := range t.goDirs {
		sort.Strings(paths)
	}

	// First-wins on name collisions, in qualified-name order, so rebuilt
	// tables are independent of map iteration.
	names := make([]string, 0, len(c.Symbols))
	for qn := range c.Symbols {
		names = append(names, qn)
	}
	sort.Strings(names)
	put := func(m map[string]map[string]string, file, name, qn string) {
		inner := m[file]
		if inner == nil {
			inner = make(map[string]string)
			m[file] = inner
		}
		if _, ok := inner[name]; !ok {
			inner[name] = qn
		}
	}
	for _, qn := range names {
		sym := c.Symbols[qn]
		if sym.Receiver != "" {
			put(t.methods, sym.File, sym.Name, qn)
			continue
		}
		put(t.locals, sym.File, sym.Name, qn)
		if sym.Exported {
			put(t.exports, sym.File, sym.Name, qn)
		}
	}
	return t
}

// resolveImport maps one import statement to project file targets. An empty
// result means the import points outside the project.
func (t *projectTables) resolveImport(lang, fromPath string, imp ast.Import) []string {
	switch lang {
	case "go":
		return t.resolveGoImport(imp.Path)
	case "python":
		return t.resolvePythonImport(fromPath, imp)
	case "javascript", "typescript":
		return t.resolveECMAImport(fromPath, imp)
	default:
		return nil
	}
}

// resolveGoImport matches a module import path against project package
// directories by suffix and fans out to every Go file in the matched
// directory. The longest directory match wins; length ties go to the
// lexicographically smaller directory.
func (t *projectTables) resolveGoImport(importPath string) []string {
	best := ""
	for dir := range t.goDirs {
		if dir == "." {
			continue
		}
		if importPath != dir && !strings.HasSuffix(importPath, "/"+dir) {
			continue
		}
		if best == "" || len(dir) > len(best) || (len(dir) == len(best) && dir < best) {
			best = dir
		}
	}
	if best == "" {
		return nil
	}
	out := make([]string, len(t.goDirs[best]))
	copy(out, t.goDirs[best])
	return out
}

// resolvePythonImport handles dotted absolute and leading-dot relative
// module paths: "a.b" tries a/b.py then a/b/__init__.py from the project
// root, then from the importing file's directory; ".mod" and deeper
// dot-prefixes walk up from the importing file.
func (t *projectTables) resolvePythonImport(fromPath string, imp ast.Import) []string {
	try := func(base string) []string {
		if base == "" {
			return nil
		}
		if t.files[base+".py"] {
			return []string{base + ".py"}
		}
		if t.files[base+"/__init__.py"] {
			return []string{base + "/__init__.py"}
		}
		return nil
	}

	if imp.Relative {
		dots := 0
		for dots < len(imp.Path) && imp.Path[dots] == '.' {
			dots++
		}
		base := gopath.Dir(fromPath)
		for i := 1; i < dots; i++ {
			base = gopath.Dir(base)
		}
		rest := strings.ReplaceAll(imp.Path[dots:], ".", "/")
		if rest == "" {
			if t.files[gopath.Join(base, "__init__.py")] {
				return []string{gopath.Join(base, "__init__.py")}
			}
			return nil
		}
		return try(gopath.Join(base, rest))
	}

	rel := strings.ReplaceAll(imp.Path, ".", "/")
	if found := try(rel); found != nil {
		return found
	}
	return try(gopath.Join(gopath.Dir(fromPath), rel))
}

var ecmaExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// resolveECMAImport handles "./"-style relative specifiers with the usual
// extension and index-file fallbacks. Bare specifiers are package imports
// and resolve outside the project.
func (t *projectTables) resolveECMAImport(fromPath string, imp ast.Import) []string {
	if !imp.Relative {
		return nil
	}
	p := gopath.Join(gopath.Dir(fromPath), imp.Path)
	if t.files[p] {
		return []string{p}
	}
	for _, ext := range ecmaExtensions {
		if t.files[p+ext] {
			return []string{p + ext}
		}
	}
	for _, ext := range ecmaExtensions {
		idx := p + "/index" + ext
		if t.files[idx] {
			return []string{idx}
		}
	}
	return nil
}

// nameBinding is a locally bound imported name.
type nameBinding struct {
	file     string // resolved target file; empty when external
	name     string // name as exported by the target
	external bool
}

// moduleBinding is a locally bound module qualifier.
type moduleBinding struct {
	files    []string // resolved target files (a Go package fans out)
	external bool
}

// fileScope resolves one file's call sites: same-file names, imported names,
// module qualifiers, wildcard imports, and Go same-package siblings, checked
// in that order.
type fileScope struct {
	t       *projectTables
	path    string
	lang    string
	named   map[string]nameBinding
	modules map[string]moduleBinding

	// wildcard lists files whose exports bind unqualified, in import order.
	wildcard []string

	// sameDir are the file's Go package siblings, sorted, excluding itself.
	sameDir []string
}

func newFileScope(t *projectTables, path, lang string) *fileScope {
	s := &fileScope{
		t:       t,
		path:    path,
		lang:    lang,
		named:   make(map[string]nameBinding),
		modules: make(map[string]moduleBinding),
	}
	if lang == "go" {
		for _, sibling := range t.goDirs[gopath.Dir(path)] {
			if sibling != path {
				s.sameDir = append(s.sameDir, sibling)
			}
		}
	}
	return s
}

// addImport records one import statement's local bindings. targets is the
// resolved file list; nil means external.
func (s *fileScope) addImport(imp ast.Import, targets []string) {
	external := len(targets) == 0

	if s.lang == "go" {
		if imp.Wildcard { // dot import
			s.wildcard = append(s.wildcard, targets...)
			return
		}
		qualifier := imp.Alias
		if qualifier == "" {
			qualifier = imp.Path
			if i := strings.LastIndex(qualifier, "/"); i >= 0 {
				qualifier = qualifier[i+1:]
			}
		}
		if qualifier == "_" {
			return
		}
		s.modules[qualifier] = moduleBinding{files: targets, external: external}
		return
	}

	var first string
	if !external {
		first = targets[0]
	}

	for _, raw := range imp.Names {
		orig, local := splitImportAs(raw)
		s.named[local] = nameBinding{file: first, name: orig, external: external}
	}

	switch {
	case imp.Wildcard && imp.Alias != "": // import * as ns
		s.modules[imp.Alias] = moduleBinding{files: targets, external: external}
	case imp.Wildcard: // from x import *
		s.wildcard = append(s.wildcard, targets...)
	case imp.Alias != "" && len(imp.Names) == 0:
		// "import a.b as c" or a default import: the alias is a module
		// qualifier in Python and a value binding in ECMA. Registering it
		// both ways costs nothing and keeps resolution best-effort.
		s.modules[imp.Alias] = moduleBinding{files: targets, external: external}
		s.named[imp.Alias] = nameBinding{file: first, name: imp.Alias, external: external}
	case len(imp.Names) == 0:
		// "import a.b": calls are written with the dotted path.
		s.modules[imp.Path] = moduleBinding{files: targets, external: external}
	}
}

// resolveCall maps one call-site target to a qualified name or External.
// The second return is false when the call cannot be resolved; such calls
// are omitted from the edge set.
func (s *fileScope) resolveCall(callee string) (string, bool) {
	if callee == "" {
		return "", false
	}

	if i := strings.LastIndex(callee, "."); i >= 0 {
		qualifier, name := callee[:i], callee[i+1:]
		if name == "" {
			return "", false
		}
		switch qualifier {
		case "self", "this", "cls":
			if qn, ok := s.t.methods[s.path][name]; ok {
				return qn, true
			}
			return "", false
		}
		if mb, ok := s.modules[qualifier]; ok {
			if mb.external {
				return cache.External, true
			}
			for _, f := range mb.files {
				if qn, ok := s.t.exports[f][name]; ok {
					return qn, true
				}
			}
		}
		return "", false
	}

	if qn, ok := s.t.locals[s.path][callee]; ok {
		return qn, true
	}
	if nb, ok := s.named[callee]; ok {
		if nb.external {
			return cache.External, true
		}
		if qn, ok := s.t.exports[nb.file][nb.name]; ok {
			return qn, true
		}
		return "", false
	}
	for _, f := range s.wildcard {
		if qn, ok := s.t.exports[f][callee]; ok {
			return qn, true
		}
	}
	for _, f := range s.sameDir {
		if qn, ok := s.t.locals[f][callee]; ok {
			return qn, true
		}
	}
	return "", false
}

// splitImportAs separates "orig as local" import name syntax. Plain names
// bind under their own spelling.
func splitImportAs(raw string) (orig, local string) {
	if i := strings.Index(raw, " as "); i >= 0 {
		return strings.TrimSpace(raw[:i]), strings.TrimSpace(raw[i+4:])
	}
	raw = strings.TrimSpace(raw)
	return raw, raw
}

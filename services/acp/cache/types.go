// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache defines the ACP index document and its persistence: the
// versioned JSON interchange file under the project root and the badger
// snapshot store for history.
//
// A CacheRoot is an immutable value once published. Builders assemble a new
// document aside and swap it in whole; readers never observe a partial
// update. The document carries no wall-clock fields, so rebuilding an
// unchanged project yields byte-identical output. Timestamps live in
// snapshot metadata only.
package cache

import (
	"sort"
	"strings"

	"github.com/AleutianAI/acp/services/acp/annotation"
	"github.com/AleutianAI/acp/services/acp/constraint"
)

// External is the pseudo-target for import and call edges whose destination
// lives outside the indexed project.
const External = "external"

// SymbolEntry is one indexed declaration.
//
// QualifiedName is "path:Name" (methods "path:Recv.Name"); when two
// declarations in one file share a name, the later ones carry an
// "@<startLine>" suffix so every entry stays addressable.
type SymbolEntry struct {
	QualifiedName string `json:"qualified_name"`

	// Name is the simple declared name, used for unqualified lookup.
	Name string `json:"name"`

	// Kind is function, method, type, class, interface, const, or var.
	Kind string `json:"kind"`

	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`

	Receiver  string `json:"receiver,omitempty"`
	Signature string `json:"signature,omitempty"`
	Exported  bool   `json:"exported,omitempty"`

	// Purpose is the symbol's @acp:purpose or @acp:summary value.
	Purpose string `json:"purpose,omitempty"`

	// Constraint is the symbol's own resolved constraint. Nil means the
	// symbol inherits the file's constraint at query time; the cache never
	// stores a copy for inheriting symbols.
	Constraint *constraint.Constraint `json:"constraint,omitempty"`

	// Annotations maps namespace to the records attached to this symbol.
	// Single-valued namespaces hold exactly one record (last wins within a
	// block); multi-valued namespaces keep every record in source order.
	Annotations map[string][]annotation.AnnotationRecord `json:"annotations,omitempty"`

	// Callers and Callees are sorted qualified names. Either list may
	// contain the literal External when the far end of a resolved edge is
	// outside the project.
	Callers []string `json:"callers,omitempty"`
	Callees []string `json:"callees,omitempty"`
}

// ImportEdge is one resolved import statement.
type ImportEdge struct {
	// Source is the import path as written in the file.
	Source string `json:"source"`

	// Target is the project-relative file the import resolved to, or
	// External when it points outside the project.
	Target string `json:"target"`

	// Names are the imported symbol names, when the statement lists any.
	Names []string `json:"names,omitempty"`

	Line int `json:"line,omitempty"`
}

// InlineAnnotation is a positional marker (hack, todo, fixme, critical,
// perf) collected per file rather than attached to a symbol.
type InlineAnnotation struct {
	Kind string `json:"kind"`
	Line int    `json:"line"`

	// Text is the marker's value or directive, whichever the author wrote.
	Text string `json:"text,omitempty"`

	// Expires and Ticket come from @acp:hack expires= and ticket= params.
	Expires string `json:"expires,omitempty"`
	Ticket  string `json:"ticket,omitempty"`
}

// FileEntry is one indexed source file.
type FileEntry struct {
	// Path is project-relative with forward slashes.
	Path string `json:"path"`

	Language string `json:"language"`
	Lines    int    `json:"lines"`

	Module  string   `json:"module,omitempty"`
	Layer   string   `json:"layer,omitempty"`
	Owner   string   `json:"owner,omitempty"`
	Purpose string   `json:"purpose,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Domains []string `json:"domains,omitempty"`

	// Depends lists @acp:depends values declared in the file, verbatim.
	Depends []string `json:"depends,omitempty"`

	// Constraint is the resolved file-level constraint. Always present;
	// a file without lock annotations resolves to normal.
	Constraint constraint.Constraint `json:"constraint"`

	// Annotations holds the file-scoped records, same shape as a symbol's
	// map. The named fields above are extracted views of it.
	Annotations map[string][]annotation.AnnotationRecord `json:"annotations,omitempty"`

	// Symbols lists the file's symbol qualified names in source order.
	Symbols []string `json:"symbols,omitempty"`

	Inline []InlineAnnotation `json:"inline,omitempty"`

	// Imports are the file's resolved import edges, sorted by source.
	Imports []ImportEdge `json:"imports,omitempty"`

	// ImportedBy lists project files that import this one, sorted. The
	// linker keeps it reciprocal with the importers' edges.
	ImportedBy []string `json:"imported_by,omitempty"`

	// HasSyntaxErrors marks files indexed from a partial parse.
	HasSyntaxErrors bool `json:"has_syntax_errors,omitempty"`
}

// DomainEntry groups files and symbols sharing an @acp:domain value. It is
// derived entirely from annotations and recomputed on every reindex that
// touches a member.
type DomainEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Files       []string `json:"files"`
	Symbols     []string `json:"symbols,omitempty"`
	FileCount   int      `json:"file_count"`
	SymbolCount int      `json:"symbol_count"`
}

// ProvenanceRef locates one annotation in the low-confidence list.
type ProvenanceRef struct {
	File       string            `json:"file"`
	Line       int               `json:"line"`
	Namespace  string            `json:"namespace"`
	Origin     annotation.Origin `json:"origin"`
	Confidence *float64          `json:"confidence,omitempty"`
}

// ProvenanceStats aggregates annotation provenance across the project.
type ProvenanceStats struct {
	// ByOrigin counts annotations per origin.
	ByOrigin map[annotation.Origin]int `json:"by_origin,omitempty"`

	// Reviewed counts annotations a human has marked reviewed.
	Reviewed int `json:"reviewed,omitempty"`

	// NeedsReview counts annotations flagged for review.
	NeedsReview int `json:"needs_review,omitempty"`

	// Generated counts synthesized default directives.
	Generated int `json:"generated,omitempty"`

	// LowConfidence lists the flagged annotations, sorted by file and line.
	LowConfidence []ProvenanceRef `json:"low_confidence,omitempty"`
}

// Stats is the aggregate block reported by the stats query.
type Stats struct {
	Files   int `json:"files"`
	Symbols int `json:"symbols"`
	Lines   int `json:"lines"`
	Domains int `json:"domains"`

	// AnnotationCoverage is the percentage of symbols carrying a purpose.
	AnnotationCoverage float64 `json:"annotation_coverage"`

	// Constraints counts files per resolved constraint level.
	Constraints map[constraint.Level]int `json:"constraints,omitempty"`

	// Languages counts files per detected language.
	Languages map[string]int `json:"languages,omitempty"`
}

// ProjectInfo identifies the indexed project.
type ProjectInfo struct {
	Name string `json:"name"`
	Root string `json:"root"`

	// GitCommit is the HEAD commit at build time, when resolvable.
	GitCommit string `json:"git_commit,omitempty"`
}

// CacheRoot is the complete index document.
//
// Description:
//
//	Files, Symbols, and ContentHashes are assembled per file by the indexer;
//	Domains, ConstraintsIndex, ProvenanceStats, and Stats are derived from
//	them by RecomputeDerived, which both full and incremental builds call so
//	the two paths cannot drift. ContentHashes is the sole staleness
//	authority: queries compare it against the files on disk.
//
// Thread Safety: a published CacheRoot is read-only; concurrent readers need
// no locking. Assembly happens on a private copy before publishing.
type CacheRoot struct {
	SchemaVersion string      `json:"schema_version"`
	Project       ProjectInfo `json:"project"`

	// CacheHash is the sha256 of the canonical document with this field
	// empty. Stamped by Encode.
	CacheHash string `json:"cache_hash,omitempty"`

	Stats Stats `json:"stats"`

	Files   map[string]*FileEntry   `json:"files"`
	Symbols map[string]*SymbolEntry `json:"symbols"`
	Domains map[string]*DomainEntry `json:"domains,omitempty"`

	// ConstraintsIndex buckets file paths by resolved constraint level,
	// sorted within each bucket.
	ConstraintsIndex map[constraint.Level][]string `json:"constraints_index,omitempty"`

	ProvenanceStats ProvenanceStats `json:"provenance_stats"`

	// ContentHashes maps project-relative path to the sha256 of the file
	// content that produced its entries.
	ContentHashes map[string]string `json:"content_hashes"`
}

// New returns an empty document for the given project.
func New(projectName, projectRoot string) *CacheRoot {
	return &CacheRoot{
		SchemaVersion: SchemaVersion,
		Project:       ProjectInfo{Name: projectName, Root: projectRoot},
		Files:         make(map[string]*FileEntry),
		Symbols:       make(map[string]*SymbolEntry),
		Domains:       make(map[string]*DomainEntry),
		ContentHashes: make(map[string]string),
	}
}

// File returns the entry for a project-relative path, or nil.
func (c *CacheRoot) File(path string) *FileEntry { return c.Files[path] }

// Symbol returns the entry for an exact qualified name, or nil.
func (c *CacheRoot) Symbol(qualifiedName string) *SymbolEntry {
	return c.Symbols[qualifiedName]
}

// Clone returns a copy an incremental build can assemble on while the
// receiver stays published. Entry structs are copied, so replacing an
// entry's fields or whole entries never reaches the original; the slices
// and annotation maps inside are shared and must be replaced, not mutated,
// which is how assembly and linking already work.
func (c *CacheRoot) Clone() *CacheRoot {
	out := *c
	out.Files = make(map[string]*FileEntry, len(c.Files))
	for path, f := range c.Files {
		cp := *f
		out.Files[path] = &cp
	}
	out.Symbols = make(map[string]*SymbolEntry, len(c.Symbols))
	for qn, s := range c.Symbols {
		cp := *s
		out.Symbols[qn] = &cp
	}
	out.Domains = make(map[string]*DomainEntry, len(c.Domains))
	for name, d := range c.Domains {
		cp := *d
		out.Domains[name] = &cp
	}
	out.ConstraintsIndex = make(map[constraint.Level][]string, len(c.ConstraintsIndex))
	for level, paths := range c.ConstraintsIndex {
		out.ConstraintsIndex[level] = paths
	}
	out.ContentHashes = make(map[string]string, len(c.ContentHashes))
	for path, h := range c.ContentHashes {
		out.ContentHashes[path] = h
	}
	return &out
}

// RecomputeDerived rebuilds everything computable from Files and Symbols:
// domain entries, the constraints index, provenance stats, and the stats
// block. Callers invoke it once after assembly, before publishing.
func (c *CacheRoot) RecomputeDerived() {
	c.rebuildDomains()
	c.rebuildConstraintsIndex()
	c.rebuildProvenanceStats()
	c.rebuildStats()
}

func (c *CacheRoot) rebuildDomains() {
	domains := make(map[string]*DomainEntry)
	get := func(name string) *DomainEntry {
		d := domains[name]
		if d == nil {
			d = &DomainEntry{Name: name}
			domains[name] = d
		}
		return d
	}

	for _, f := range sortedFiles(c.Files) {
		for _, name := range f.Domains {
			d := get(name)
			d.Files = append(d.Files, f.Path)
		}
		for _, r := range f.Annotations["domain"] {
			if r.Value != "" && r.Directive != "" && !r.Generated {
				get(r.Value).Description = r.Directive
			}
		}
	}
	for _, s := range sortedSymbols(c.Symbols) {
		for _, r := range s.Annotations["domain"] {
			if r.Value == "" {
				continue
			}
			d := get(r.Value)
			d.Symbols = append(d.Symbols, s.QualifiedName)
			if r.Directive != "" && !r.Generated {
				d.Description = r.Directive
			}
		}
	}

	for _, d := range domains {
		sort.Strings(d.Files)
		sort.Strings(d.Symbols)
		d.Files = dedupSorted(d.Files)
		d.Symbols = dedupSorted(d.Symbols)
		d.FileCount = len(d.Files)
		d.SymbolCount = len(d.Symbols)
		if d.Files == nil {
			d.Files = []string{}
		}
	}
	c.Domains = domains
}

func (c *CacheRoot) rebuildConstraintsIndex() {
	idx := make(map[constraint.Level][]string)
	for path, f := range c.Files {
		level := f.Constraint.Level
		if level == "" {
			level = constraint.LevelNormal
		}
		idx[level] = append(idx[level], path)
	}
	for _, paths := range idx {
		sort.Strings(paths)
	}
	c.ConstraintsIndex = idx
}

func (c *CacheRoot) rebuildProvenanceStats() {
	ps := ProvenanceStats{ByOrigin: make(map[annotation.Origin]int)}

	tally := func(file string, r annotation.AnnotationRecord) {
		ps.ByOrigin[r.Provenance.Origin]++
		if r.Provenance.Reviewed {
			ps.Reviewed++
		}
		if r.Generated {
			ps.Generated++
		}
		if r.Provenance.NeedsReview {
			ps.NeedsReview++
			ps.LowConfidence = append(ps.LowConfidence, ProvenanceRef{
				File:       file,
				Line:       r.StartLine,
				Namespace:  r.Namespace,
				Origin:     r.Provenance.Origin,
				Confidence: r.Provenance.Confidence,
			})
		}
	}

	for _, f := range c.Files {
		for _, recs := range f.Annotations {
			for _, r := range recs {
				tally(f.Path, r)
			}
		}
	}
	for _, s := range c.Symbols {
		for _, recs := range s.Annotations {
			for _, r := range recs {
				tally(s.File, r)
			}
		}
	}

	sort.Slice(ps.LowConfidence, func(i, j int) bool {
		a, b := ps.LowConfidence[i], ps.LowConfidence[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Namespace < b.Namespace
	})
	if len(ps.ByOrigin) == 0 {
		ps.ByOrigin = nil
	}
	c.ProvenanceStats = ps
}

func (c *CacheRoot) rebuildStats() {
	s := Stats{
		Files:   len(c.Files),
		Symbols: len(c.Symbols),
		Domains: len(c.Domains),
	}

	languages := make(map[string]int)
	for _, f := range c.Files {
		s.Lines += f.Lines
		languages[f.Language]++
	}
	if len(languages) > 0 {
		s.Languages = languages
	}

	annotated := 0
	for _, sym := range c.Symbols {
		if sym.Purpose != "" {
			annotated++
		}
	}
	if s.Symbols > 0 {
		s.AnnotationCoverage = float64(annotated) / float64(s.Symbols) * 100.0
	}

	constraints := make(map[constraint.Level]int, len(c.ConstraintsIndex))
	for level, paths := range c.ConstraintsIndex {
		constraints[level] = len(paths)
	}
	if len(constraints) > 0 {
		s.Constraints = constraints
	}

	c.Stats = s
}

// sortedFiles returns the entries ordered by path. Derivations iterate in
// this order so rebuilt output is independent of map iteration.
func sortedFiles(m map[string]*FileEntry) []*FileEntry {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*FileEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, m[p])
	}
	return out
}

func sortedSymbols(m map[string]*SymbolEntry) []*SymbolEntry {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*SymbolEntry, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// SplitQualifiedName separates a qualified name into its file path and
// symbol part. The collision suffix stays with the symbol part.
func SplitQualifiedName(qualifiedName string) (path, symbol string) {
	// Windows drive letters never appear: paths are project-relative with
	// forward slashes, so the first colon is the separator.
	if i := strings.Index(qualifiedName, ":"); i >= 0 {
		return qualifiedName[:i], qualifiedName[i+1:]
	}
	return "", qualifiedName
}

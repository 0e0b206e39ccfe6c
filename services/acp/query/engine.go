// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers lookups against one published cache document. The
// CLI and the HTTP server are thin wrappers over this package.
//
// Every operation runs the staleness gate first: the document's recorded
// content hashes are compared against the files on disk, and a mismatch
// returns diag.StaleCacheError instead of silently stale answers. Callers
// that prefer speed over freshness opt out with WithBestEffort.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/constraint"
	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/index"
)

var queryTracer = otel.Tracer("acp.query")

// DefaultSuggestionLimit bounds the near-miss list on not-found results.
const DefaultSuggestionLimit = 5

// DefaultHotpathLimit is the Hotpaths result size when the caller passes no
// limit.
const DefaultHotpathLimit = 10

// EngineOptions configures an Engine.
type EngineOptions struct {
	// BestEffort skips the staleness gate. Results may describe files that
	// have since changed on disk.
	BestEffort bool

	// ProjectRoot overrides the document's recorded root for staleness
	// checks. Empty uses the recorded root.
	ProjectRoot string

	// SuggestionLimit bounds not-found suggestions. Zero means
	// DefaultSuggestionLimit.
	SuggestionLimit int

	// Logger receives per-query debug logs. Nil means slog.Default().
	Logger *slog.Logger
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*EngineOptions)

// WithBestEffort disables the staleness gate.
func WithBestEffort(enabled bool) EngineOption {
	return func(o *EngineOptions) { o.BestEffort = enabled }
}

// WithProjectRoot overrides the root directory used for staleness checks.
func WithProjectRoot(root string) EngineOption {
	return func(o *EngineOptions) { o.ProjectRoot = root }
}

// WithSuggestionLimit bounds the suggestion list on not-found errors.
func WithSuggestionLimit(n int) EngineOption {
	return func(o *EngineOptions) { o.SuggestionLimit = n }
}

// WithQueryLogger sets the engine's logger.
func WithQueryLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) { o.Logger = l }
}

// Engine answers queries against one cache document.
//
// Thread Safety: an Engine is immutable after construction and safe for
// concurrent use. A new document means a new Engine; callers swap the
// pointer.
type Engine struct {
	cache   *cache.CacheRoot
	index   *index.Index
	options EngineOptions
}

// NewEngine creates an Engine over a published document. idx may be nil, in
// which case the engine builds its own index.
func NewEngine(c *cache.CacheRoot, idx *index.Index, opts ...EngineOption) *Engine {
	options := EngineOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.SuggestionLimit <= 0 {
		options.SuggestionLimit = DefaultSuggestionLimit
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if idx == nil {
		idx = index.Build(c)
	}
	return &Engine{cache: c, index: idx, options: options}
}

// SymbolResult is a symbol lookup answer: the entry plus its effective
// constraint after file-to-symbol inheritance.
type SymbolResult struct {
	Symbol     *cache.SymbolEntry    `json:"symbol"`
	Constraint constraint.Constraint `json:"constraint"`
}

// SearchMatch is one Search hit. Name is the symbol's qualified name or the
// file path depending on Kind.
type SearchMatch struct {
	Kind    string `json:"kind"` // "symbol" or "file"
	Name    string `json:"name"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// SearchResult carries the truncated match list and the pre-truncation
// total.
type SearchResult struct {
	Matches   []SearchMatch `json:"matches"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated"`
}

// Hotpath is one entry of the caller-count ranking.
type Hotpath struct {
	QualifiedName string `json:"qualified_name"`
	File          string `json:"file"`
	CallerCount   int    `json:"caller_count"`
}

// gate enforces the staleness contract shared by every operation.
func (e *Engine) gate() error {
	if e.options.BestEffort {
		return nil
	}
	root := e.options.ProjectRoot
	if root == "" {
		root = e.cache.Project.Root
	}
	stale, err := e.cache.Stale(root)
	if err != nil {
		return fmt.Errorf("staleness check: %w", err)
	}
	if len(stale) > 0 {
		return &diag.StaleCacheError{Paths: stale}
	}
	return nil
}

// resolveSymbol implements the shared lookup ladder: exact qualified name,
// then unique simple name, then Ambiguous or NotFound with suggestions.
func (e *Engine) resolveSymbol(ctx context.Context, name string) (*cache.SymbolEntry, error) {
	if sym, ok := e.index.Lookup(name); ok {
		return sym, nil
	}
	qns := e.index.ByName(name)
	switch len(qns) {
	case 1:
		sym, _ := e.index.Lookup(qns[0])
		return sym, nil
	case 0:
		return nil, &diag.NotFoundError{
			Entity:      "symbol",
			Name:        name,
			Suggestions: e.index.Suggest(ctx, name, e.options.SuggestionLimit),
		}
	default:
		return nil, &diag.AmbiguousError{Name: name, Candidates: qns}
	}
}

// Symbol looks up one symbol by qualified or simple name.
//
// Description:
//
//	Exact qualified-name match wins. A simple name resolves when exactly
//	one symbol carries it; several carriers return diag.AmbiguousError
//	listing the candidates, none returns diag.NotFoundError with
//	suggestions. The result's Constraint is the effective one: the
//	symbol's own when it has one, the file's otherwise.
func (e *Engine) Symbol(ctx context.Context, name string) (*SymbolResult, error) {
	ctx, span := queryTracer.Start(ctx, "query.Symbol")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	if err := e.gate(); err != nil {
		return nil, err
	}
	sym, err := e.resolveSymbol(ctx, name)
	if err != nil {
		return nil, err
	}
	var fileConstraint constraint.Constraint
	if f := e.cache.Files[sym.File]; f != nil {
		fileConstraint = f.Constraint
	}
	return &SymbolResult{
		Symbol:     sym,
		Constraint: constraint.Effective(sym.Constraint, fileConstraint),
	}, nil
}

// File looks up one file entry by project-relative path.
func (e *Engine) File(ctx context.Context, path string) (*cache.FileEntry, error) {
	_, span := queryTracer.Start(ctx, "query.File")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	if err := e.gate(); err != nil {
		return nil, err
	}
	f := e.cache.Files[path]
	if f == nil {
		return nil, &diag.NotFoundError{Entity: "file", Name: path}
	}
	return f, nil
}

// Domain looks up one domain entry by name.
func (e *Engine) Domain(ctx context.Context, name string) (*cache.DomainEntry, error) {
	_, span := queryTracer.Start(ctx, "query.Domain")
	defer span.End()
	span.SetAttributes(attribute.String("name", name))

	if err := e.gate(); err != nil {
		return nil, err
	}
	d := e.cache.Domains[name]
	if d == nil {
		names := make([]string, 0, len(e.cache.Domains))
		for n := range e.cache.Domains {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &diag.NotFoundError{Entity: "domain", Name: name, Suggestions: names}
	}
	return d, nil
}

// Callers returns the qualified names calling the symbol. An empty list
// means the symbol exists and nothing calls it; an unknown symbol is a
// NotFoundError.
func (e *Engine) Callers(ctx context.Context, name string) ([]string, error) {
	ctx, span := queryTracer.Start(ctx, "query.Callers")
	defer span.End()

	if err := e.gate(); err != nil {
		return nil, err
	}
	sym, err := e.resolveSymbol(ctx, name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), sym.Callers...), nil
}

// Callees returns the qualified names the symbol calls, including the
// external pseudo-target when present.
func (e *Engine) Callees(ctx context.Context, name string) ([]string, error) {
	ctx, span := queryTracer.Start(ctx, "query.Callees")
	defer span.End()

	if err := e.gate(); err != nil {
		return nil, err
	}
	sym, err := e.resolveSymbol(ctx, name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), sym.Callees...), nil
}

// Search finds symbols and files matching a pattern.
//
// Description:
//
//	Case-sensitive substring match over symbol names and purposes, then
//	file paths and purposes. Symbol matches always precede file matches;
//	within each group results are ordered by qualified name or path, so
//	equal documents produce byte-equal result lists. Total counts every
//	match before the limit; Truncated is set whenever Total exceeds it.
//
// Inputs:
//
//	pattern - substring to find. Empty matches nothing.
//	limit   - maximum matches returned. Zero means no limit.
func (e *Engine) Search(ctx context.Context, pattern string, limit int) (*SearchResult, error) {
	ctx, span := queryTracer.Start(ctx, "query.Search")
	defer span.End()
	span.SetAttributes(attribute.String("pattern", pattern), attribute.Int("limit", limit))

	if err := e.gate(); err != nil {
		return nil, err
	}

	result := &SearchResult{Matches: []SearchMatch{}}
	if pattern == "" {
		return result, nil
	}

	add := func(m SearchMatch) {
		result.Total++
		if limit <= 0 || len(result.Matches) < limit {
			result.Matches = append(result.Matches, m)
		}
	}

	for _, sym := range e.index.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(sym.Name, pattern) || strings.Contains(sym.Purpose, pattern) {
			add(SearchMatch{
				Kind:    "symbol",
				Name:    sym.QualifiedName,
				File:    sym.File,
				Line:    sym.StartLine,
				Purpose: sym.Purpose,
			})
		}
	}

	paths := make([]string, 0, len(e.cache.Files))
	for path := range e.cache.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		f := e.cache.Files[path]
		if strings.Contains(path, pattern) || strings.Contains(f.Purpose, pattern) {
			add(SearchMatch{Kind: "file", Name: path, Purpose: f.Purpose})
		}
	}

	result.Truncated = limit > 0 && result.Total > limit
	span.SetAttributes(attribute.Int("total", result.Total))
	return result, nil
}

// Stats returns the document's aggregate block.
func (e *Engine) Stats(ctx context.Context) (*cache.Stats, error) {
	_, span := queryTracer.Start(ctx, "query.Stats")
	defer span.End()

	if err := e.gate(); err != nil {
		return nil, err
	}
	stats := e.cache.Stats
	return &stats, nil
}

// Hotpaths ranks symbols by caller count, most called first, qualified name
// as the tiebreak. Symbols nothing calls are omitted.
func (e *Engine) Hotpaths(ctx context.Context, limit int) ([]Hotpath, error) {
	_, span := queryTracer.Start(ctx, "query.Hotpaths")
	defer span.End()

	if err := e.gate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHotpathLimit
	}

	ranked := make([]Hotpath, 0, 64)
	for _, sym := range e.index.Entries() {
		if len(sym.Callers) == 0 {
			continue
		}
		ranked = append(ranked, Hotpath{
			QualifiedName: sym.QualifiedName,
			File:          sym.File,
			CallerCount:   len(sym.Callers),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CallerCount != ranked[j].CallerCount {
			return ranked[i].CallerCount > ranked[j].CallerCount
		}
		return ranked[i].QualifiedName < ranked[j].QualifiedName
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	span.SetAttributes(attribute.Int("results", len(ranked)))
	return ranked, nil
}

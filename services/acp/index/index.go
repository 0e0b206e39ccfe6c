// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides fast symbol lookup over a published cache document:
// exact qualified-name access, simple-name buckets, and scored fuzzy search
// for suggestions.
package index

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/acp/services/acp/cache"
)

var indexTracer = otel.Tracer("acp.index")

// searchCheckInterval is how often Search checks for context cancellation.
const searchCheckInterval = 1000

// Index is a read-optimized view over one cache document.
//
// Description:
//
//	An Index is built once from a published document and never mutated;
//	updates build a fresh Index from the new document and swap the
//	pointer. Entry pointers are shared with the document, which is itself
//	read-only once published.
//
// Thread Safety: immutable after Build; safe for unsynchronized concurrent
// reads.
type Index struct {
	exact  map[string]*cache.SymbolEntry
	byName map[string][]string

	// entries is every symbol sorted by qualified name, the scan order for
	// Search so equal documents produce byte-equal results.
	entries []*cache.SymbolEntry
}

// Build constructs an Index over the document's symbols.
func Build(c *cache.CacheRoot) *Index {
	x := &Index{
		exact:   make(map[string]*cache.SymbolEntry, len(c.Symbols)),
		byName:  make(map[string][]string),
		entries: make([]*cache.SymbolEntry, 0, len(c.Symbols)),
	}
	names := make([]string, 0, len(c.Symbols))
	for qn := range c.Symbols {
		names = append(names, qn)
	}
	sort.Strings(names)
	for _, qn := range names {
		sym := c.Symbols[qn]
		x.exact[qn] = sym
		x.byName[sym.Name] = append(x.byName[sym.Name], qn)
		x.entries = append(x.entries, sym)
	}
	return x
}

// Len returns the number of indexed symbols.
func (x *Index) Len() int { return len(x.entries) }

// Entries returns every symbol sorted by qualified name. The slice is
// shared with the index; callers must treat it as read-only.
func (x *Index) Entries() []*cache.SymbolEntry { return x.entries }

// Lookup returns the entry for an exact qualified name.
func (x *Index) Lookup(qualifiedName string) (*cache.SymbolEntry, bool) {
	sym, ok := x.exact[qualifiedName]
	return sym, ok
}

// ByName returns the qualified names sharing a simple name, sorted. The
// returned slice is a copy.
func (x *Index) ByName(name string) []string {
	qns := x.byName[name]
	if len(qns) == 0 {
		return nil
	}
	out := make([]string, len(qns))
	copy(out, qns)
	return out
}

// Search finds symbols whose names match the query.
//
// Description:
//
//	Scores every symbol name against the query: exact match, then prefix,
//	camelCase word boundary, substring, and finally Levenshtein distance
//	within a third of the query length. Results are ordered by score with
//	qualified name as the tiebreak, so the ordering is stable across
//	rebuilds of the same document.
//
// Inputs:
//
//	ctx   - checked periodically; a cancelled context aborts the scan.
//	query - case-insensitive search string. Empty matches nothing.
//	limit - maximum results. Zero means no limit.
//
// Outputs:
//
//	Matching entries ordered best first, and the total number of matches
//	before the limit was applied.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]*cache.SymbolEntry, int, error) {
	ctx, span := indexTracer.Start(ctx, "index.Search")
	defer span.End()

	if query == "" {
		return nil, 0, nil
	}
	queryLower := strings.ToLower(query)

	type scored struct {
		sym   *cache.SymbolEntry
		score int
	}
	var results []scored
	for i, sym := range x.entries {
		if i%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		score, _ := computeMatchScore(queryLower, sym.Name, strings.ToLower(sym.Name), sym.Kind, sym.Exported)
		if score >= 0 {
			results = append(results, scored{sym: sym, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score < results[j].score
		}
		return results[i].sym.QualifiedName < results[j].sym.QualifiedName
	})

	total := len(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]*cache.SymbolEntry, len(results))
	for i, r := range results {
		out[i] = r.sym
	}
	span.SetAttributes(
		attribute.Int("matches", total),
		attribute.Int("returned", len(out)),
	)
	return out, total, nil
}

// Suggest returns up to limit qualified names close to a name that failed
// exact lookup, best match first. Used to populate not-found responses.
func (x *Index) Suggest(ctx context.Context, name string, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	matches, _, err := x.Search(ctx, name, limit)
	if err != nil {
		return nil
	}
	out := make([]string, len(matches))
	for i, sym := range matches {
		out[i] = sym.QualifiedName
	}
	return out
}

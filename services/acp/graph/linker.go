// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph links per-file extraction results into the project-wide edge
// set: resolved import edges, reciprocal imported-by lists, and best-effort
// caller/callee edges between symbols.
//
// Linking is two passes. Pass 1 builds the global symbol and export tables
// from the whole document and is always full. Pass 2 resolves each relinked
// file's imports and calls against those tables and runs per file in
// parallel, reading the tables only. A final reciprocal phase rederives every
// reverse edge (ImportedBy, Callers) from the forward edges so the two sides
// cannot drift. Unresolvable imports become the External pseudo-target;
// unresolvable calls are omitted, never fabricated.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/acp/services/acp/ast"
	"github.com/AleutianAI/acp/services/acp/cache"
)

var graphTracer = otel.Tracer("acp.graph")

// Source is the raw structural material for one file to relink: its import
// statements as written and the call sites recorded per symbol. The linker
// reads the rest (entries, exports, languages) from the cache document.
type Source struct {
	// Path is the project-relative file path.
	Path string

	// Imports are the file's import statements as extracted.
	Imports []ast.Import

	// Calls maps a symbol's qualified name to the call sites extracted from
	// its body.
	Calls map[string][]ast.CallSite
}

// FileError records a per-file linking failure. Linking never aborts the
// project on one file; errors accumulate on the result.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("link %s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// Result summarizes one Link run.
type Result struct {
	// FilesLinked counts files whose forward edges were recomputed.
	FilesLinked int

	// ImportEdges and CallEdges count the forward edges produced this run,
	// including edges to External.
	ImportEdges int
	CallEdges   int

	// ExternalEdges counts produced edges whose far end is External.
	ExternalEdges int

	// Errors lists per-file failures. The remaining files still linked.
	Errors []FileError

	// Incomplete is set when the context was cancelled before every file
	// relinked. No edges are applied in that case: the document is exactly
	// as the caller passed it, forward and reverse edges still consistent
	// with each other.
	Incomplete bool
}

// LinkerOptions configures a Linker.
type LinkerOptions struct {
	// WorkerCount bounds the parallel per-file resolution in Pass 2.
	// Zero means runtime.NumCPU().
	WorkerCount int

	// Logger receives per-phase debug logs. Nil means slog.Default().
	Logger *slog.Logger
}

// LinkerOption is a functional option for configuring a Linker.
type LinkerOption func(*LinkerOptions)

// WithWorkerCount sets the Pass 2 parallelism.
func WithWorkerCount(n int) LinkerOption {
	return func(o *LinkerOptions) { o.WorkerCount = n }
}

// WithLogger sets the linker's logger.
func WithLogger(l *slog.Logger) LinkerOption {
	return func(o *LinkerOptions) { o.Logger = l }
}

// Linker resolves cross-file edges over a cache document.
//
// Thread Safety: a Linker is stateless between calls and safe for concurrent
// use; each Link call builds its own tables. The document passed to Link is
// mutated and must be private to the caller until Link returns.
type Linker struct {
	options LinkerOptions
}

// NewLinker creates a Linker.
func NewLinker(opts ...LinkerOption) *Linker {
	options := LinkerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.WorkerCount <= 0 {
		options.WorkerCount = runtime.NumCPU()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Linker{options: options}
}

// fileLink is one file's recomputed forward edges, applied after the
// parallel phase so output does not depend on completion order.
type fileLink struct {
	path    string
	imports []cache.ImportEdge
	callees map[string][]string
}

// Link resolves edges for the files named in sources against the whole
// project in c.
//
// Description:
//
//	Files present in sources get their import edges and symbol callees
//	recomputed from scratch. Files absent from sources keep their stored
//	forward edges, which incremental callers guarantee are still valid by
//	including every affected file in sources (see Touched). The reciprocal
//	phase then rebuilds ImportedBy on every file and Callers on every
//	symbol from the forward edges across the whole document, and prunes
//	callees whose target no longer exists.
//
// Inputs:
//
//	c       - the assembled document; entries for every project file must
//	          already be present. Mutated in place.
//	sources - raw structure per file to relink, keyed by project-relative
//	          path. For a full build this is every extracted file.
//
// Outputs:
//
//	The result always carries whatever linked; ctx cancellation returns the
//	partial result with Incomplete set alongside the context error.
func (l *Linker) Link(ctx context.Context, c *cache.CacheRoot, sources map[string]*Source) (*Result, error) {
	ctx, span := graphTracer.Start(ctx, "graph.Link",
		trace.WithAttributes(
			attribute.Int("files_total", len(c.Files)),
			attribute.Int("files_relink", len(sources)),
		))
	defer span.End()

	result := &Result{}
	tables := newProjectTables(c)

	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Pass 2: per-file forward resolution against the immutable tables.
	links := make([]*fileLink, len(paths))
	var (
		mu     sync.Mutex
		cancel bool
	)
	sem := make(chan struct{}, l.options.WorkerCount)
	var wg sync.WaitGroup
	for i, p := range paths {
		if ctx.Err() != nil {
			cancel = true
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			link, err := l.linkFile(c, tables, p, sources[p])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, FileError{Path: p, Err: err})
				return
			}
			links[i] = link
		}(i, p)
	}
	wg.Wait()

	if cancel {
		result.Incomplete = true
		span.SetAttributes(attribute.Bool("incomplete", true))
		return result, ctx.Err()
	}

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Path < result.Errors[j].Path })

	// Apply in path order: deterministic regardless of worker scheduling.
	for _, link := range links {
		if link == nil {
			continue
		}
		f := c.Files[link.path]
		if f == nil {
			continue
		}
		f.Imports = link.imports
		result.FilesLinked++
		result.ImportEdges += len(link.imports)
		for _, e := range link.imports {
			if e.Target == cache.External {
				result.ExternalEdges++
			}
		}
		for qn, callees := range link.callees {
			sym := c.Symbols[qn]
			if sym == nil {
				continue
			}
			sym.Callees = callees
			result.CallEdges += len(callees)
			for _, callee := range callees {
				if callee == cache.External {
					result.ExternalEdges++
				}
			}
		}
	}

	l.reciprocal(c)

	l.options.Logger.Debug("link complete",
		slog.Int("files_relinked", result.FilesLinked),
		slog.Int("import_edges", result.ImportEdges),
		slog.Int("call_edges", result.CallEdges),
		slog.Int("external_edges", result.ExternalEdges),
		slog.Int("errors", len(result.Errors)),
	)
	span.SetAttributes(
		attribute.Int("import_edges", result.ImportEdges),
		attribute.Int("call_edges", result.CallEdges),
		attribute.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// linkFile computes one file's forward edges. It reads the shared tables
// only and is safe to run concurrently with other files.
func (l *Linker) linkFile(c *cache.CacheRoot, tables *projectTables, path string, src *Source) (*fileLink, error) {
	f := c.Files[path]
	if f == nil {
		return nil, fmt.Errorf("no file entry for %q", path)
	}

	scope := newFileScope(tables, path, f.Language)

	edges := make([]cache.ImportEdge, 0, len(src.Imports))
	for _, imp := range src.Imports {
		targets := tables.resolveImport(f.Language, path, imp)
		if len(targets) == 0 {
			edges = append(edges, cache.ImportEdge{
				Source: imp.Path,
				Target: cache.External,
				Names:  imp.Names,
				Line:   imp.Line,
			})
			scope.addImport(imp, nil)
			continue
		}
		for _, t := range targets {
			edges = append(edges, cache.ImportEdge{
				Source: imp.Path,
				Target: t,
				Names:  imp.Names,
				Line:   imp.Line,
			})
		}
		scope.addImport(imp, targets)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	callees := make(map[string][]string, len(src.Calls))
	for qn, sites := range src.Calls {
		set := make(map[string]bool)
		for _, site := range sites {
			if target, ok := scope.resolveCall(site.Callee); ok {
				set[target] = true
			}
		}
		// nil still records the symbol so stale edges from a previous
		// link are cleared when it is applied.
		if len(set) == 0 {
			callees[qn] = nil
			continue
		}
		list := make([]string, 0, len(set))
		for t := range set {
			list = append(list, t)
		}
		sort.Strings(list)
		callees[qn] = list
	}

	return &fileLink{path: path, imports: edges, callees: callees}, nil
}

// reciprocal rederives every reverse edge from the forward edges and prunes
// dangling callees. Runs over the whole document so the reciprocity
// invariant holds regardless of how narrow the relink set was.
func (l *Linker) reciprocal(c *cache.CacheRoot) {
	importedBy := make(map[string]map[string]bool)
	for _, f := range c.Files {
		for _, e := range f.Imports {
			if e.Target == cache.External || e.Target == f.Path {
				continue
			}
			if c.Files[e.Target] == nil {
				continue
			}
			set := importedBy[e.Target]
			if set == nil {
				set = make(map[string]bool)
				importedBy[e.Target] = set
			}
			set[f.Path] = true
		}
	}
	for path, f := range c.Files {
		f.ImportedBy = sortedKeys(importedBy[path])
	}

	callers := make(map[string]map[string]bool)
	for qn, sym := range c.Symbols {
		if len(sym.Callees) == 0 {
			continue
		}
		// Rebuild rather than filter in place: incremental documents share
		// slice backing arrays with the still-published previous document.
		var kept []string
		for _, callee := range sym.Callees {
			if callee != cache.External && c.Symbols[callee] == nil {
				continue // target vanished; prune rather than dangle
			}
			kept = append(kept, callee)
			if callee == cache.External {
				continue
			}
			set := callers[callee]
			if set == nil {
				set = make(map[string]bool)
				callers[callee] = set
			}
			set[qn] = true
		}
		sym.Callees = kept
	}

	for qn, sym := range c.Symbols {
		sym.Callers = sortedKeys(callers[qn])
	}
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

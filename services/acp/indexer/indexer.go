// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer builds the cache document for a project: it scans the tree,
// extracts structure and annotations from every source file in parallel,
// links the cross-file graph, and derives the aggregate views.
//
// Build produces a complete document from scratch. Update takes the previous
// document plus a set of changed paths and produces a document byte-identical
// to what a full rebuild of the new file set would produce, reprocessing only
// the files the change can reach.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	gopath "path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/acp/services/acp/annotation"
	"github.com/AleutianAI/acp/services/acp/ast"
	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/config"
	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/graph"
	"github.com/AleutianAI/acp/services/acp/scan"
)

var indexerTracer = otel.Tracer("acp.indexer")

// gitTimeout bounds the best-effort HEAD lookup at build time.
const gitTimeout = 10 * time.Second

// FileError records one file the build skipped. Per-file failures never
// abort the project: the remaining files still index, and the failed file
// contributes no entry, no symbols, and no content hash.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("index %s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// Result summarizes one Build or Update run.
type Result struct {
	// Cache is the assembled document, ready to save and publish.
	Cache *cache.CacheRoot

	// Link reports the edge-resolution phase.
	Link *graph.Result

	// Diagnostics accumulates every parse finding in walk order. Findings
	// from skipped files are included so strict-mode failures stay visible.
	Diagnostics []diag.Diagnostic

	// FileErrors lists files skipped this run.
	FileErrors []FileError

	// FilesIndexed counts files that produced an entry this run. For Update
	// this includes unchanged files reprocessed because a dependency moved.
	FilesIndexed int

	// FilesRemoved counts entries dropped because their file disappeared or
	// stopped being an indexable source.
	FilesRemoved int
}

// Indexer builds and incrementally updates cache documents.
//
// Thread Safety: an Indexer is stateless between calls and safe for
// concurrent use; each Build or Update assembles a private document.
type Indexer struct {
	cfg      *config.Config
	registry *ast.Registry
	logger   *slog.Logger
	linker   *graph.Linker
	mode     annotation.Mode
	workers  int
}

// Option is a functional option for configuring an Indexer.
type Option func(*Indexer)

// WithConfig sets the project configuration. Nil keeps the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(ix *Indexer) {
		if cfg != nil {
			ix.cfg = cfg
		}
	}
}

// WithRegistry sets the extractor registry.
func WithRegistry(r *ast.Registry) Option {
	return func(ix *Indexer) {
		if r != nil {
			ix.registry = r
		}
	}
}

// WithLogger sets the indexer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New creates an Indexer.
func New(opts ...Option) *Indexer {
	ix := &Indexer{}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.cfg == nil {
		ix.cfg = config.Default()
	}
	if ix.registry == nil {
		ix.registry = ast.DefaultRegistry()
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	ix.mode = ix.cfg.AnnotationMode()
	ix.workers = ix.cfg.Workers
	if ix.workers <= 0 {
		ix.workers = runtime.NumCPU()
	}
	ix.linker = graph.NewLinker(
		graph.WithWorkerCount(ix.workers),
		graph.WithLogger(ix.logger),
	)
	return ix
}

// Build indexes the whole project from scratch.
//
// Description:
//
//	Build walks the tree, processes every source file in parallel, links
//	the import and call graph, and recomputes the derived views. Per-file
//	failures accumulate on the result; only a failed walk or a cancelled
//	context fails the build itself.
//
// Inputs:
//
//	ctx  - cancellation; a cancelled build returns ctx's error.
//	root - the project root directory.
//
// Outputs:
//
//	The result with the assembled document. The caller decides whether to
//	save it (see cache.Save).
func (ix *Indexer) Build(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	ctx, span := indexerTracer.Start(ctx, "indexer.Build",
		trace.WithAttributes(attribute.String("root", absRoot)))
	defer span.End()

	project := scan.DetectProject(absRoot)
	files, err := scan.Walk(absRoot, ix.walkOptions())
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	span.SetAttributes(attribute.Int("files_found", len(files)))

	results, err := ix.processAll(ctx, absRoot, files)
	if err != nil {
		return nil, err
	}

	next := cache.New(project.Name, absRoot)
	res := &Result{Cache: next}
	sources := make(map[string]*graph.Source, len(results))
	for _, r := range results {
		res.Diagnostics = append(res.Diagnostics, r.diags...)
		if r.err != nil {
			res.FileErrors = append(res.FileErrors, FileError{Path: r.path, Err: r.err})
			continue
		}
		next.Files[r.path] = r.entry
		for _, sym := range r.symbols {
			next.Symbols[sym.QualifiedName] = sym
		}
		next.ContentHashes[r.path] = r.hash
		sources[r.path] = r.source
		res.FilesIndexed++
	}

	link, err := ix.linker.Link(ctx, next, sources)
	res.Link = link
	if err != nil {
		return res, fmt.Errorf("linking: %w", err)
	}

	next.RecomputeDerived()
	next.Project.GitCommit = gitHead(ctx, absRoot)

	recordBuildMetrics("full", time.Since(start), res)
	ix.logger.Info("index build complete",
		slog.String("project", project.Name),
		slog.Int("files", res.FilesIndexed),
		slog.Int("symbols", len(next.Symbols)),
		slog.Int("diagnostics", len(res.Diagnostics)),
		slog.Int("file_errors", len(res.FileErrors)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Update applies a set of changed paths to the previous document.
//
// Description:
//
//	Each path is classified against the disk: an indexable file the
//	document knows is changed, one it does not know is added, and a path
//	that is gone or no longer matches the source filters is deleted.
//	Update then reprocesses the changed and added files plus every
//	unchanged file whose graph edges the change can invalidate, so the
//	output is byte-identical to a full rebuild of the new file set.
//
// Inputs:
//
//	ctx   - cancellation; a cancelled update returns ctx's error.
//	root  - the project root directory.
//	prev  - the published document. Never mutated; assembly happens on a
//	        clone.
//	paths - project-relative candidate paths, in any order, duplicates
//	        allowed. Paths the document never knew and the disk does not
//	        have are ignored.
//
// Outputs:
//
//	The result with the new document. prev remains valid and published
//	until the caller swaps it out.
func (ix *Indexer) Update(ctx context.Context, root string, prev *cache.CacheRoot, paths []string) (*Result, error) {
	start := time.Now()
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	ctx, span := indexerTracer.Start(ctx, "indexer.Update",
		trace.WithAttributes(attribute.Int("paths", len(paths))))
	defer span.End()

	m := scan.NewMatcher(absRoot, ix.walkOptions())
	changed, added, deleted, languages := classify(absRoot, prev, paths, m)
	touched := graph.Touched(prev, changed, added, deleted)
	span.SetAttributes(
		attribute.Int("changed", len(changed)),
		attribute.Int("added", len(added)),
		attribute.Int("deleted", len(deleted)),
		attribute.Int("touched", len(touched)),
	)

	next := prev.Clone()
	res := &Result{Cache: next, FilesRemoved: len(deleted)}
	for _, p := range deleted {
		removeFile(next, p)
	}

	// Touched files reprocess from source even when unchanged on disk:
	// stored entries do not retain unresolved call sites, so only a fresh
	// extraction lets the linker resolve edges an added file now satisfies.
	reprocess := make([]scan.File, 0, len(touched))
	for p := range touched {
		lang := languages[p]
		if lang == "" {
			if f := next.Files[p]; f != nil {
				lang = f.Language
			}
		}
		reprocess = append(reprocess, scan.File{Path: p, Language: lang})
	}
	sort.Slice(reprocess, func(i, j int) bool { return reprocess[i].Path < reprocess[j].Path })

	results, err := ix.processAll(ctx, absRoot, reprocess)
	if err != nil {
		return nil, err
	}

	sources := make(map[string]*graph.Source, len(results))
	for _, r := range results {
		res.Diagnostics = append(res.Diagnostics, r.diags...)
		removeFile(next, r.path)
		if r.err != nil {
			res.FileErrors = append(res.FileErrors, FileError{Path: r.path, Err: r.err})
			continue
		}
		next.Files[r.path] = r.entry
		for _, sym := range r.symbols {
			next.Symbols[sym.QualifiedName] = sym
		}
		next.ContentHashes[r.path] = r.hash
		sources[r.path] = r.source
		res.FilesIndexed++
	}

	link, err := ix.linker.Link(ctx, next, sources)
	res.Link = link
	if err != nil {
		return res, fmt.Errorf("linking: %w", err)
	}

	next.RecomputeDerived()
	next.Project.GitCommit = gitHead(ctx, absRoot)

	recordBuildMetrics("update", time.Since(start), res)
	ix.logger.Info("index update complete",
		slog.Int("changed", len(changed)),
		slog.Int("added", len(added)),
		slog.Int("deleted", len(deleted)),
		slog.Int("reprocessed", res.FilesIndexed),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// processAll runs the per-file pipeline over files with bounded parallelism.
// results[i] corresponds to files[i] so assembly order never depends on
// completion order. Only context cancellation returns an error.
func (ix *Indexer) processAll(ctx context.Context, root string, files []scan.File) ([]*fileResult, error) {
	results := make([]*fileResult, len(files))
	g := new(errgroup.Group)
	g.SetLimit(ix.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = ix.processFile(ctx, root, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing files: %w", err)
	}
	return results, nil
}

// classify sorts candidate paths into changed, added, and deleted against
// the previous document and the current disk state. The returned languages
// map carries the detected language for paths that exist.
func classify(root string, prev *cache.CacheRoot, paths []string, m *scan.Matcher) (changed, added, deleted []string, languages map[string]string) {
	languages = make(map[string]string)
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = gopath.Clean(filepath.ToSlash(p))
		if p == "." || p == "" || seen[p] {
			continue
		}
		seen[p] = true
		_, known := prev.Files[p]

		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
		if err == nil && info.Mode().IsRegular() {
			if lang, ok := m.Source(p, info.Size()); ok {
				languages[p] = lang
				if known {
					changed = append(changed, p)
				} else {
					added = append(added, p)
				}
				continue
			}
		}
		// Gone, not a regular file, or filtered out of the source set.
		if known {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(changed)
	sort.Strings(added)
	sort.Strings(deleted)
	return changed, added, deleted, languages
}

// removeFile drops a file's entry, its symbols, and its content hash.
func removeFile(c *cache.CacheRoot, path string) {
	if f := c.Files[path]; f != nil {
		for _, qn := range f.Symbols {
			delete(c.Symbols, qn)
		}
	}
	delete(c.Files, path)
	delete(c.ContentHashes, path)
}

func (ix *Indexer) walkOptions() scan.Options {
	return scan.Options{
		Registry:     ix.registry,
		SkipDirs:     ix.cfg.SkipDirs,
		Include:      ix.cfg.Include,
		Exclude:      ix.cfg.Exclude,
		UseGitignore: ix.cfg.UseGitignore,
		MaxFileSize:  ix.cfg.MaxFileSize(),
	}
}

// gitHead returns the HEAD commit hash, or "" when the root is not a git
// repository or git is unavailable. Best effort; never fails the build.
func gitHead(ctx context.Context, root string) string {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "-C", root, "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch drives incremental reindexing from filesystem events. Events
// are batched under a debounce window and delivered as project-relative
// paths; the caller decides what an update means (typically indexer.Update
// followed by publishing the new document).
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/acp/services/acp/scan"
)

// DefaultDebounce is the batching window used when none is configured.
const DefaultDebounce = 250 * time.Millisecond

// ApplyFunc receives one debounced batch of project-relative, slash-separated
// paths. Returning an error logs the failure; the watcher keeps running.
type ApplyFunc func(ctx context.Context, paths []string) error

// Watcher batches filesystem events for one project root.
//
// Thread Safety: configuration is immutable after New. Run owns all watch
// state and must not be called concurrently on the same Watcher.
type Watcher struct {
	root     string
	apply    ApplyFunc
	matcher  *scan.Matcher
	debounce time.Duration
	logger   *slog.Logger
}

// Option is a functional option for configuring a Watcher.
type Option func(*Watcher)

// WithMatcher sets the path filter. The caller should pass the same matcher
// the indexer walks with so both agree on which paths count.
func WithMatcher(m *scan.Matcher) Option {
	return func(w *Watcher) {
		if m != nil {
			w.matcher = m
		}
	}
}

// WithDebounce sets the event batching window. Zero or negative keeps the
// default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Watcher for the project rooted at root. apply is invoked
// once per debounced batch.
func New(root string, apply ApplyFunc, opts ...Option) (*Watcher, error) {
	if apply == nil {
		return nil, fmt.Errorf("watch: nil apply func")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}

	w := &Watcher{
		root:     absRoot,
		apply:    apply,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.matcher == nil {
		w.matcher = scan.NewMatcher(absRoot, scan.Options{})
	}
	return w, nil
}

// Run watches the tree until ctx is cancelled.
//
// Description:
//
//	Run registers recursive watches on every directory the indexer's walk
//	would visit, then loops: events inside skipped or dot directories are
//	dropped, everything else lands in a pending set, and once the debounce
//	window closes without further events the set is handed to apply as a
//	sorted batch. Directories created while running are watched as they
//	appear, and files that landed in them before the watch existed are
//	picked up from a one-off sweep. Apply failures are logged, never fatal.
//
// Outputs:
//
//	ctx.Err() after cancellation, or the error that stopped the event
//	stream.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	w.logger.Info("watching for changes", "root", w.root, "debounce", w.debounce)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
					w.addCreatedDir(fw, ev.Name, pending)
					if len(pending) > 0 {
						timer.Reset(w.debounce)
					}
					continue
				}
			}
			rel, ok := w.relPath(ev.Name)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			clear(pending)

			w.logger.Debug("applying batched changes", "paths", len(batch))
			if err := w.apply(ctx, batch); err != nil {
				w.logger.Error("incremental update failed", "error", err, "paths", len(batch))
			}
		}
	}
}

// addTree watches dir and every non-skipped directory under it. A failed
// root is fatal; deeper failures are logged and skipped.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.matcher.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

// addCreatedDir starts watching a directory that appeared while running and
// sweeps files already inside it into the pending set. Files written between
// the mkdir and the watch registration produce no events of their own.
func (w *Watcher) addCreatedDir(fw *fsnotify.Watcher, dir string, pending map[string]struct{}) {
	relDir, err := filepath.Rel(w.root, dir)
	if err != nil || strings.HasPrefix(relDir, "..") {
		return
	}
	if w.matcher.SkipDir(filepath.Base(dir)) {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.matcher.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", "dir", path, "error", err)
			}
			return nil
		}
		if rel, ok := w.relPath(path); ok {
			pending[rel] = struct{}{}
		}
		return nil
	})
}

// relPath converts an event path to project-relative slash form, dropping
// paths outside the root and event noise under ignored directories.
func (w *Watcher) relPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.ignorable(rel) {
		return "", false
	}
	return rel, true
}

// ignorable prunes what the walk would never visit: paths under skipped or
// dot directories, and dot files. Existence and language checks stay with
// the updater, which stats every batched path anyway.
func (w *Watcher) ignorable(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if w.matcher.SkipDir(dir) {
			return true
		}
	}
	return strings.HasPrefix(parts[len(parts)-1], ".")
}

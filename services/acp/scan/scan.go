// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan discovers indexable source files in a project tree and
// detects what kind of project it is. The indexer and the watcher share its
// matcher so both agree on which paths count.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/AleutianAI/acp/services/acp/ast"
)

// File is one discovered source file.
type File struct {
	// Path is project-relative, slash-separated.
	Path string `json:"path"`

	// Language is the detected language name, e.g. "go".
	Language string `json:"language"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`
}

// Options control what Walk visits.
type Options struct {
	// Registry detects languages. Nil means ast.DefaultRegistry.
	Registry *ast.Registry

	// SkipDirs extends the built-in directory skip list.
	SkipDirs []string

	// Include restricts results to paths matching any of these
	// gitignore-style patterns. Empty means everything.
	Include []string

	// Exclude drops paths matching any of these patterns after Include.
	Exclude []string

	// UseGitignore honors the project's root .gitignore.
	UseGitignore bool

	// MaxFileSize skips files larger than this many bytes. Zero means no
	// limit.
	MaxFileSize int64
}

// skipDirs are directories never worth descending into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".git":         true,
	"vendor":       true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
}

// Matcher decides which paths a walk should visit. The watcher reuses it to
// classify filesystem events the same way the indexer classified the tree.
//
// Thread Safety: immutable after NewMatcher; safe for concurrent use.
type Matcher struct {
	registry  *ast.Registry
	skip      map[string]bool
	include   *ignore.GitIgnore
	exclude   *ignore.GitIgnore
	gitignore *ignore.GitIgnore
	maxSize   int64
}

// NewMatcher compiles the walk rules for one project root.
func NewMatcher(root string, opts Options) *Matcher {
	m := &Matcher{
		registry: opts.Registry,
		skip:     skipDirs,
		maxSize:  opts.MaxFileSize,
	}
	if m.registry == nil {
		m.registry = ast.DefaultRegistry()
	}
	if len(opts.SkipDirs) > 0 {
		m.skip = make(map[string]bool, len(skipDirs)+len(opts.SkipDirs))
		for name := range skipDirs {
			m.skip[name] = true
		}
		for _, name := range opts.SkipDirs {
			m.skip[name] = true
		}
	}
	if len(opts.Include) > 0 {
		m.include = ignore.CompileIgnoreLines(opts.Include...)
	}
	if len(opts.Exclude) > 0 {
		m.exclude = ignore.CompileIgnoreLines(opts.Exclude...)
	}
	if opts.UseGitignore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			m.gitignore = gi
		}
	}
	return m
}

// SkipDir reports whether a directory name should be pruned from the walk.
func (m *Matcher) SkipDir(name string) bool {
	return m.skip[name] || strings.HasPrefix(name, ".")
}

// Source classifies a project-relative path. It returns the detected
// language and whether the file belongs in the index.
func (m *Matcher) Source(rel string, size int64) (string, bool) {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if part != "." && m.SkipDir(part) {
			return "", false
		}
	}
	if m.maxSize > 0 && size > m.maxSize {
		return "", false
	}
	if m.gitignore != nil && m.gitignore.MatchesPath(rel) {
		return "", false
	}
	if m.include != nil && !m.include.MatchesPath(rel) {
		return "", false
	}
	if m.exclude != nil && m.exclude.MatchesPath(rel) {
		return "", false
	}
	lang := m.registry.DetectLanguage(rel)
	if lang == "plain" {
		return "", false
	}
	return lang, true
}

// Walk discovers source files under root, sorted by path.
//
// Description:
//
//	Walks the tree pruning skip directories and dot directories, applies
//	gitignore and include/exclude patterns to the project-relative path,
//	and keeps files whose extension maps to a known language. Unreadable
//	entries are skipped, not fatal. Symlinks are never followed.
func Walk(root string, opts Options) ([]File, error) {
	m := NewMatcher(root, opts)

	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if m.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return nil
		}
		lang, ok := m.Source(rel, info.Size())
		if !ok {
			return nil
		}
		files = append(files, File{Path: rel, Language: lang, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Census counts discovered files per language.
func Census(files []File) map[string]int {
	counts := make(map[string]int)
	for _, f := range files {
		counts[f.Language]++
	}
	return counts
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// Extractor parses one language family.
//
// Thread Safety: implementations must be safe for concurrent use; each
// Extract call creates its own tree-sitter parser instance.
type Extractor interface {
	// Language is the canonical lowercase language name, e.g. "go".
	Language() string

	// Extensions lists the file extensions this extractor claims,
	// including the leading dot.
	Extensions() []string

	// CommentStyle is the comment-delimiter set the annotation lexer
	// should use for this language.
	CommentStyle() annotation.CommentStyle

	// Extract parses content and returns the file's structural skeleton.
	// It is error-tolerant: syntactically broken files yield partial
	// results with HasSyntaxErrors set rather than an error.
	Extract(ctx context.Context, path string, content []byte) (*FileStructure, error)
}

// Registry maps file extensions to extractors and provides the fallback for
// everything unclaimed.
//
// Thread Safety: a Registry is immutable after construction and safe for
// concurrent use.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry builds a registry over the given extractors. Later extractors
// win extension conflicts.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{
		byExt:    make(map[string]Extractor),
		fallback: NewFallbackExtractor(),
	}
	for _, e := range extractors {
		for _, ext := range e.Extensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// DefaultRegistry covers the supported languages: Go, Python, JavaScript and
// TypeScript, with the generic fallback for everything else.
func DefaultRegistry(opts ...Option) *Registry {
	return NewRegistry(
		NewGoExtractor(opts...),
		NewPythonExtractor(opts...),
		NewJavaScriptExtractor(opts...),
		NewTypeScriptExtractor(opts...),
	)
}

// ForPath returns the extractor claiming the path's extension, or the
// fallback extractor when no language claims it.
func (r *Registry) ForPath(path string) Extractor {
	if e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return e
	}
	return r.fallback
}

// Supported reports whether a dedicated extractor claims the path.
func (r *Registry) Supported(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// extLanguages names languages the indexer recognizes but does not parse
// structurally. Annotation extraction still applies through the fallback.
var extLanguages = map[string]string{
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".tf":    "terraform",
}

// DetectLanguage names the language for a path: the registered extractor's
// language when one claims the extension, a recognized unparsed language
// otherwise, and "plain" for everything else.
func (r *Registry) DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if e, ok := r.byExt[ext]; ok {
		return e.Language()
	}
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	return "plain"
}

// FallbackExtractor handles files no language extractor claims. It extracts
// nothing structural; the generic comment style still lets the annotation
// lexer find file-level directives.
type FallbackExtractor struct{}

// NewFallbackExtractor returns the shared no-op extractor.
func NewFallbackExtractor() *FallbackExtractor { return &FallbackExtractor{} }

func (f *FallbackExtractor) Language() string     { return "plain" }
func (f *FallbackExtractor) Extensions() []string { return nil }

func (f *FallbackExtractor) CommentStyle() annotation.CommentStyle {
	return annotation.GenericStyle()
}

func (f *FallbackExtractor) Extract(ctx context.Context, path string, content []byte) (*FileStructure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &FileStructure{Path: path, Language: "plain"}, nil
}

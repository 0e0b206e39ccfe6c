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
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// TypeScriptExtractor extracts TypeScript declarations, imports and call
// sites. It adds interfaces, type aliases, enums and abstract classes on top
// of the shared ECMA walker, and switches to the TSX grammar for .tsx files.
//
// Thread Safety: safe for concurrent use.
type TypeScriptExtractor struct {
	settings settings
}

// NewTypeScriptExtractor creates a TypeScript extractor with the given
// options.
func NewTypeScriptExtractor(opts ...Option) *TypeScriptExtractor {
	e := &TypeScriptExtractor{settings: defaultSettings()}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

func (e *TypeScriptExtractor) Language() string { return "typescript" }

func (e *TypeScriptExtractor) Extensions() []string {
	return []string{".ts", ".tsx", ".mts", ".cts"}
}

func (e *TypeScriptExtractor) CommentStyle() annotation.CommentStyle {
	return annotation.CommentStyle{LinePrefixes: []string{"//"}, BlockStart: "/*", BlockEnd: "*/"}
}

func (e *TypeScriptExtractor) grammar(path string) *sitter.Language {
	if strings.EqualFold(filepath.Ext(path), ".tsx") {
		return tsx.GetLanguage()
	}
	return typescript.GetLanguage()
}

// Extract parses TypeScript source and returns its structural skeleton.
func (e *TypeScriptExtractor) Extract(ctx context.Context, path string, content []byte) (*FileStructure, error) {
	ctx, span := startExtractSpan(ctx, "typescript", path, len(content))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled: %w", err)
	}
	if err := checkContent(path, content, e.settings); err != nil {
		return nil, err
	}

	tree, err := parseTree(ctx, e.grammar(path), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	fs := &FileStructure{Path: path, Language: "typescript"}
	root := tree.RootNode()
	if root == nil {
		return fs, nil
	}
	fs.HasSyntaxErrors = root.HasError()

	scanner := &ecmaScanner{content: content, fs: fs}
	scanner.scanProgram(ctx, root)

	setExtractSpanResult(span, len(fs.Symbols), len(fs.Imports), fs.HasSyntaxErrors)
	return fs, nil
}

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

	"github.com/smacker/go-tree-sitter/javascript"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// JavaScriptExtractor extracts JavaScript declarations, imports and call
// sites. The grammar covers JSX, so .jsx files parse here too.
//
// Thread Safety: safe for concurrent use.
type JavaScriptExtractor struct {
	settings settings
}

// NewJavaScriptExtractor creates a JavaScript extractor with the given
// options.
func NewJavaScriptExtractor(opts ...Option) *JavaScriptExtractor {
	e := &JavaScriptExtractor{settings: defaultSettings()}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

func (e *JavaScriptExtractor) Language() string     { return "javascript" }
func (e *JavaScriptExtractor) Extensions() []string { return []string{".js", ".jsx", ".mjs", ".cjs"} }

func (e *JavaScriptExtractor) CommentStyle() annotation.CommentStyle {
	return annotation.CommentStyle{LinePrefixes: []string{"//"}, BlockStart: "/*", BlockEnd: "*/"}
}

// Extract parses JavaScript source and returns its structural skeleton.
func (e *JavaScriptExtractor) Extract(ctx context.Context, path string, content []byte) (*FileStructure, error) {
	ctx, span := startExtractSpan(ctx, "javascript", path, len(content))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled: %w", err)
	}
	if err := checkContent(path, content, e.settings); err != nil {
		return nil, err
	}

	tree, err := parseTree(ctx, javascript.GetLanguage(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	fs := &FileStructure{Path: path, Language: "javascript"}
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

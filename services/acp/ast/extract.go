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
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// Option configures an extractor.
type Option func(*settings)

type settings struct {
	maxFileSize int64
}

func defaultSettings() settings {
	return settings{maxFileSize: DefaultMaxFileSize}
}

// WithMaxFileSize sets the largest file an extractor will parse.
func WithMaxFileSize(bytes int64) Option {
	return func(s *settings) {
		if bytes > 0 {
			s.maxFileSize = bytes
		}
	}
}

// checkContent enforces the shared pre-parse guards.
func checkContent(path string, content []byte, s settings) error {
	if int64(len(content)) > s.maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, len(content), s.maxFileSize)
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, path)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", path),
			slog.Int("size_bytes", len(content)))
	}
	return nil
}

// parseTree runs one tree-sitter parse. Callers must Close the tree.
func parseTree(ctx context.Context, lang *sitter.Language, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

func nodeText(n *sitter.Node, content []byte) string {
	if n == nil {
		return ""
	}
	return string(content[n.StartByte():n.EndByte()])
}

func nodeStartLine(n *sitter.Node) int { return int(n.StartPoint().Row + 1) }
func nodeEndLine(n *sitter.Node) int   { return int(n.EndPoint().Row + 1) }

// headText renders a declaration head: the node's source up to its body,
// collapsed to one line.
func headText(n, body *sitter.Node, content []byte) string {
	end := n.EndByte()
	if body != nil {
		end = body.StartByte()
	}
	return collapseSpace(string(content[n.StartByte():end]))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collectCalls walks a declaration body iteratively and extracts call sites.
// callee maps a call node to its target text; empty skips the node. The walk
// is bounded by MaxCallDepth and MaxCallsPerSymbol and checks ctx
// periodically since tree-sitter trees can be arbitrarily deep.
func collectCalls(ctx context.Context, body *sitter.Node, content []byte, callType string, callee func(*sitter.Node, []byte) string) []CallSite {
	if body == nil || ctx.Err() != nil {
		return nil
	}

	type frame struct {
		node  *sitter.Node
		depth int
	}
	stack := make([]frame, 0, 64)
	stack = append(stack, frame{node: body})

	var calls []CallSite
	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == nil || f.depth > MaxCallDepth {
			continue
		}

		visited++
		if visited%100 == 0 && ctx.Err() != nil {
			return calls
		}
		if len(calls) >= MaxCallsPerSymbol {
			slog.Warn("call site cap reached", slog.Int("limit", MaxCallsPerSymbol))
			return calls
		}

		if f.node.Type() == callType {
			if target := callee(f.node, content); target != "" {
				calls = append(calls, CallSite{Callee: target, Line: nodeStartLine(f.node)})
			}
		}

		for i := int(f.node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Child(i), depth: f.depth + 1})
		}
	}
	return calls
}

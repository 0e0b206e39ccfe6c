// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts the structural skeleton of a source file: declared
// symbols, import statements, and call sites. Extractors are pluggable per
// language; files in languages without an extractor fall back to a no-op
// extractor so file-level annotations still index.
package ast

import "errors"

const (
	// DefaultMaxFileSize is the largest file an extractor accepts, 10 MiB.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize triggers a slow-parse warning log.
	WarnFileSize = 1 * 1024 * 1024

	// MaxCallDepth caps AST recursion when walking call expressions.
	MaxCallDepth = 50

	// MaxCallsPerSymbol caps extracted call sites per declaration.
	MaxCallsPerSymbol = 1000
)

var (
	// ErrFileTooLarge is returned when content exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned when content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// SymbolKind classifies a declared symbol.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindType      SymbolKind = "type"
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
)

// CallSite is one call expression inside a declaration body. Callee is the
// call target exactly as written, e.g. "helper", "pkg.Func" or
// "self.reload". Resolution to a concrete symbol happens at link time.
type CallSite struct {
	Callee string
	Line   int
}

// Symbol is one declaration extracted from a source file.
//
// Receiver carries the container for methods: the Go receiver type or the
// enclosing class name. Signature is the declaration head as written, without
// the body.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Receiver  string
	Signature string
	Exported  bool
	StartLine int
	EndLine   int
	Calls     []CallSite
}

// Import is one import statement.
//
// Path is the import specifier as written with quotes stripped. Names lists
// selectively imported names ("Decimal", "dump as safe_dump"); it stays empty
// for whole-module imports. Relative marks Python dotted-relative and
// JavaScript "./"-style specifiers.
type Import struct {
	Path     string
	Alias    string
	Names    []string
	Wildcard bool
	Relative bool
	Line     int
}

// FileStructure is the extraction result for one file.
//
// Package is the declared package or module name when the language has one
// (Go). HasSyntaxErrors marks a tree-sitter parse that produced error nodes;
// extraction is tolerant and returns the symbols it could recover.
type FileStructure struct {
	Path            string
	Language        string
	Package         string
	HasSyntaxErrors bool
	Symbols         []Symbol
	Imports         []Import
}

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
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// GoExtractor extracts Go declarations, imports and call sites.
//
// Description:
//
//	Uses tree-sitter to walk the top-level declarations of a Go file.
//	Methods carry their receiver's base type name so qualified names can be
//	built as Recv.Method. Import specs keep aliases, including dot and blank
//	imports.
//
// Thread Safety: safe for concurrent use; each Extract call creates its own
// tree-sitter parser.
type GoExtractor struct {
	settings settings
}

// NewGoExtractor creates a Go extractor with the given options.
func NewGoExtractor(opts ...Option) *GoExtractor {
	e := &GoExtractor{settings: defaultSettings()}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

func (e *GoExtractor) Language() string     { return "go" }
func (e *GoExtractor) Extensions() []string { return []string{".go"} }

func (e *GoExtractor) CommentStyle() annotation.CommentStyle {
	return annotation.CommentStyle{LinePrefixes: []string{"//"}, BlockStart: "/*", BlockEnd: "*/"}
}

// Extract parses Go source and returns its structural skeleton. Broken files
// yield partial results with HasSyntaxErrors set.
func (e *GoExtractor) Extract(ctx context.Context, path string, content []byte) (*FileStructure, error) {
	ctx, span := startExtractSpan(ctx, "go", path, len(content))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled: %w", err)
	}
	if err := checkContent(path, content, e.settings); err != nil {
		return nil, err
	}

	tree, err := parseTree(ctx, golang.GetLanguage(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	fs := &FileStructure{Path: path, Language: "go"}
	root := tree.RootNode()
	if root == nil {
		return fs, nil
	}
	fs.HasSyntaxErrors = root.HasError()

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "package_clause":
			for j := 0; j < int(child.ChildCount()); j++ {
				if c := child.Child(j); c.Type() == "package_identifier" {
					fs.Package = nodeText(c, content)
				}
			}
		case "import_declaration":
			e.extractImports(child, content, fs)
		case "function_declaration":
			if sym := e.function(ctx, child, content); sym.Name != "" {
				fs.Symbols = append(fs.Symbols, sym)
			}
		case "method_declaration":
			if sym := e.method(ctx, child, content); sym.Name != "" {
				fs.Symbols = append(fs.Symbols, sym)
			}
		case "type_declaration":
			e.extractTypes(child, content, fs)
		case "const_declaration":
			e.extractValueSpecs(child, "const_spec", KindConst, content, fs)
		case "var_declaration":
			e.extractValueSpecs(child, "var_spec", KindVar, content, fs)
		}
	}

	setExtractSpanResult(span, len(fs.Symbols), len(fs.Imports), fs.HasSyntaxErrors)
	return fs, nil
}

func (e *GoExtractor) extractImports(decl *sitter.Node, content []byte, fs *FileStructure) {
	for i := 0; i < int(decl.ChildCount()); i++ {
		switch c := decl.Child(i); c.Type() {
		case "import_spec":
			e.importSpec(c, content, fs)
		case "import_spec_list":
			for j := 0; j < int(c.ChildCount()); j++ {
				if spec := c.Child(j); spec.Type() == "import_spec" {
					e.importSpec(spec, content, fs)
				}
			}
		}
	}
}

func (e *GoExtractor) importSpec(spec *sitter.Node, content []byte, fs *FileStructure) {
	pathNode := spec.ChildByFieldName("path")
	if pathNode == nil {
		return
	}
	imp := Import{
		Path: strings.Trim(nodeText(pathNode, content), "`\""),
		Line: nodeStartLine(spec),
	}
	if name := spec.ChildByFieldName("name"); name != nil {
		switch name.Type() {
		case "dot":
			imp.Wildcard = true
		default:
			imp.Alias = nodeText(name, content)
		}
	}
	fs.Imports = append(fs.Imports, imp)
}

func (e *GoExtractor) function(ctx context.Context, n *sitter.Node, content []byte) Symbol {
	name := nodeText(n.ChildByFieldName("name"), content)
	body := n.ChildByFieldName("body")
	return Symbol{
		Name:      name,
		Kind:      KindFunction,
		Signature: headText(n, body, content),
		Exported:  goExported(name),
		StartLine: nodeStartLine(n),
		EndLine:   nodeEndLine(n),
		Calls:     collectCalls(ctx, body, content, "call_expression", goCallee),
	}
}

func (e *GoExtractor) method(ctx context.Context, n *sitter.Node, content []byte) Symbol {
	sym := e.function(ctx, n, content)
	sym.Kind = KindMethod
	sym.Receiver = receiverTypeName(n.ChildByFieldName("receiver"), content)
	return sym
}

func (e *GoExtractor) extractTypes(decl *sitter.Node, content []byte, fs *FileStructure) {
	for i := 0; i < int(decl.ChildCount()); i++ {
		spec := decl.Child(i)
		if t := spec.Type(); t != "type_spec" && t != "type_alias" {
			continue
		}
		name := nodeText(spec.ChildByFieldName("name"), content)
		if name == "" {
			continue
		}
		kind := KindType
		if tn := spec.ChildByFieldName("type"); tn != nil && tn.Type() == "interface_type" {
			kind = KindInterface
		}
		fs.Symbols = append(fs.Symbols, Symbol{
			Name:      name,
			Kind:      kind,
			Signature: declHead("type", nodeText(spec, content)),
			Exported:  goExported(name),
			StartLine: nodeStartLine(spec),
			EndLine:   nodeEndLine(spec),
		})
	}
}

// extractValueSpecs handles const and var declarations. One spec can declare
// several names; each becomes its own symbol over the spec's span.
func (e *GoExtractor) extractValueSpecs(decl *sitter.Node, specType string, kind SymbolKind, content []byte, fs *FileStructure) {
	keyword := string(kind)
	for i := 0; i < int(decl.ChildCount()); i++ {
		spec := decl.Child(i)
		if spec.Type() != specType {
			continue
		}
		for j := 0; j < int(spec.ChildCount()); j++ {
			c := spec.Child(j)
			if c.Type() != "identifier" {
				continue
			}
			name := nodeText(c, content)
			fs.Symbols = append(fs.Symbols, Symbol{
				Name:      name,
				Kind:      kind,
				Signature: declHead(keyword, nodeText(spec, content)),
				Exported:  goExported(name),
				StartLine: nodeStartLine(spec),
				EndLine:   nodeEndLine(spec),
			})
		}
	}
}

// goCallee maps a call_expression to its target text: plain identifiers stay
// whole, selectors on an identifier keep the "pkg.Fn" shape the linker needs
// for import resolution, and selectors on complex operands reduce to the
// method name.
func goCallee(call *sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, content)
	case "selector_expression":
		if op := fn.ChildByFieldName("operand"); op != nil && op.Type() == "identifier" {
			return nodeText(fn, content)
		}
		return nodeText(fn.ChildByFieldName("field"), content)
	}
	return ""
}

// receiverTypeName resolves a method receiver to its base type name,
// stripping pointers and type parameters.
func receiverTypeName(recv *sitter.Node, content []byte) string {
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		pd := recv.NamedChild(i)
		if pd.Type() != "parameter_declaration" {
			continue
		}
		return baseTypeName(pd.ChildByFieldName("type"), content)
	}
	return ""
}

func baseTypeName(n *sitter.Node, content []byte) string {
	for n != nil {
		switch n.Type() {
		case "pointer_type":
			n = n.NamedChild(0)
		case "generic_type":
			n = n.ChildByFieldName("type")
		case "type_identifier", "identifier":
			return nodeText(n, content)
		default:
			return ""
		}
	}
	return ""
}

// declHead renders a one-line declaration signature: the text's first line
// with the block opener trimmed, prefixed by a keyword when the node text
// does not carry its own.
func declHead(keyword, text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "{")
	text = strings.TrimSuffix(strings.TrimSpace(text), ":")
	return collapseSpace(keyword + " " + text)
}

func goExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/acp/services/acp/annotation"
)

// PythonExtractor extracts Python declarations, imports and call sites.
//
// Description:
//
//	Walks module statements recursively, so inline imports inside function
//	bodies and nested defs are captured too. Class methods carry the class
//	name as Receiver. Decorated definitions span from the first decorator
//	line, which keeps annotation blocks above decorators attached to the
//	symbol they describe.
//
// Thread Safety: safe for concurrent use.
type PythonExtractor struct {
	settings settings
}

// NewPythonExtractor creates a Python extractor with the given options.
func NewPythonExtractor(opts ...Option) *PythonExtractor {
	e := &PythonExtractor{settings: defaultSettings()}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

func (e *PythonExtractor) Language() string     { return "python" }
func (e *PythonExtractor) Extensions() []string { return []string{".py", ".pyi"} }

func (e *PythonExtractor) CommentStyle() annotation.CommentStyle {
	return annotation.CommentStyle{LinePrefixes: []string{"#"}}
}

// Extract parses Python source and returns its structural skeleton.
func (e *PythonExtractor) Extract(ctx context.Context, path string, content []byte) (*FileStructure, error) {
	ctx, span := startExtractSpan(ctx, "python", path, len(content))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled: %w", err)
	}
	if err := checkContent(path, content, e.settings); err != nil {
		return nil, err
	}

	tree, err := parseTree(ctx, python.GetLanguage(), content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	fs := &FileStructure{Path: path, Language: "python"}
	root := tree.RootNode()
	if root == nil {
		return fs, nil
	}
	fs.HasSyntaxErrors = root.HasError()

	e.scan(ctx, root, content, fs, "", true)

	setExtractSpanResult(span, len(fs.Symbols), len(fs.Imports), fs.HasSyntaxErrors)
	return fs, nil
}

// scan walks statements. className is set inside a class body so methods get
// their receiver; topLevel gates module-variable extraction.
func (e *PythonExtractor) scan(ctx context.Context, n *sitter.Node, content []byte, fs *FileStructure, className string, topLevel bool) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			e.importStatement(child, content, fs)
		case "import_from_statement":
			e.importFrom(child, content, fs)
		case "class_definition":
			e.class(ctx, child, child, content, fs)
		case "function_definition":
			e.functionDef(ctx, child, child, content, fs, className)
		case "decorated_definition":
			e.decorated(ctx, child, content, fs, className)
		case "expression_statement":
			if topLevel {
				e.moduleAssignment(child, content, fs)
			}
		default:
			// Control flow can hide imports and defs (try/except import
			// fallbacks, conditional defs).
			e.scan(ctx, child, content, fs, "", false)
		}
	}
}

// decorated unwraps a decorated_definition, spanning symbols from the first
// decorator line.
func (e *PythonExtractor) decorated(ctx context.Context, node *sitter.Node, content []byte, fs *FileStructure, className string) {
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "class_definition":
			e.class(ctx, child, node, content, fs)
		case "function_definition":
			e.functionDef(ctx, child, node, content, fs, className)
		}
	}
}

func (e *PythonExtractor) class(ctx context.Context, node, span *sitter.Node, content []byte, fs *FileStructure) {
	var name string
	var body *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "identifier":
			if name == "" {
				name = nodeText(child, content)
			}
		case "block":
			body = child
		}
	}
	if name == "" {
		return
	}

	fs.Symbols = append(fs.Symbols, Symbol{
		Name:      name,
		Kind:      KindClass,
		Signature: declHead("", nodeText(node, content)),
		Exported:  pythonExported(name),
		StartLine: nodeStartLine(span),
		EndLine:   nodeEndLine(node),
	})

	if body != nil {
		e.scan(ctx, body, content, fs, name, false)
	}
}

func (e *PythonExtractor) functionDef(ctx context.Context, node, span *sitter.Node, content []byte, fs *FileStructure, className string) {
	var (
		name, params, returnType string
		isAsync                  bool
		body                     *sitter.Node
	)
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "async":
			isAsync = true
		case "identifier":
			if name == "" {
				name = nodeText(child, content)
			}
		case "parameters":
			params = collapseSpace(nodeText(child, content))
		case "type":
			returnType = nodeText(child, content)
		case "block":
			body = child
		}
	}
	if name == "" {
		return
	}

	signature := "def " + name + params
	if isAsync {
		signature = "async " + signature
	}
	if returnType != "" {
		signature += " -> " + returnType
	}

	kind := KindFunction
	if className != "" {
		kind = KindMethod
	}

	fs.Symbols = append(fs.Symbols, Symbol{
		Name:      name,
		Kind:      kind,
		Receiver:  className,
		Signature: signature,
		Exported:  pythonExported(name),
		StartLine: nodeStartLine(span),
		EndLine:   nodeEndLine(node),
		Calls:     collectCalls(ctx, body, content, "call", pythonCallee),
	})

	// Nested defs and inline imports.
	if body != nil {
		e.scan(ctx, body, content, fs, "", false)
	}
}

// moduleAssignment extracts a module-level variable or constant.
func (e *PythonExtractor) moduleAssignment(stmt *sitter.Node, content []byte, fs *FileStructure) {
	if stmt.ChildCount() == 0 {
		return
	}
	assign := stmt.Child(0)
	if assign.Type() != "assignment" {
		return
	}
	var name string
	for i := 0; i < int(assign.ChildCount()); i++ {
		if c := assign.Child(i); c.Type() == "identifier" {
			name = nodeText(c, content)
			break
		}
	}
	if name == "" {
		return
	}

	kind := KindVar
	if allCaps(name) {
		kind = KindConst
	}
	fs.Symbols = append(fs.Symbols, Symbol{
		Name:      name,
		Kind:      kind,
		Signature: declHead("", nodeText(assign, content)),
		Exported:  pythonExported(name),
		StartLine: nodeStartLine(assign),
		EndLine:   nodeEndLine(assign),
	})
}

// importStatement handles "import foo" and "import foo as bar".
func (e *PythonExtractor) importStatement(node *sitter.Node, content []byte, fs *FileStructure) {
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "dotted_name":
			fs.Imports = append(fs.Imports, Import{
				Path: nodeText(child, content),
				Line: nodeStartLine(node),
			})
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				switch gc := child.Child(j); gc.Type() {
				case "dotted_name":
					path = nodeText(gc, content)
				case "identifier":
					alias = nodeText(gc, content)
				}
			}
			if path != "" {
				fs.Imports = append(fs.Imports, Import{
					Path:  path,
					Alias: alias,
					Line:  nodeStartLine(node),
				})
			}
		}
	}
}

// importFrom handles "from x import y" with relative prefixes, aliases and
// wildcards.
func (e *PythonExtractor) importFrom(node *sitter.Node, content []byte, fs *FileStructure) {
	var (
		modulePath string
		names      []string
		wildcard   bool
		relative   bool
		sawImport  bool
	)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			relative = true
			var prefix, name string
			for j := 0; j < int(child.ChildCount()); j++ {
				switch gc := child.Child(j); gc.Type() {
				case "import_prefix":
					prefix = nodeText(gc, content)
				case "dotted_name":
					name = nodeText(gc, content)
				}
			}
			modulePath = prefix + name
		case "dotted_name":
			if !sawImport {
				modulePath = nodeText(child, content)
			} else {
				names = append(names, nodeText(child, content))
			}
		case "identifier":
			if sawImport {
				names = append(names, nodeText(child, content))
			}
		case "wildcard_import":
			wildcard = true
		case "aliased_import":
			var importName, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				switch gc := child.Child(j); gc.Type() {
				case "dotted_name":
					if importName == "" {
						importName = nodeText(gc, content)
					}
				case "identifier":
					if importName == "" {
						importName = nodeText(gc, content)
					} else {
						alias = nodeText(gc, content)
					}
				}
			}
			switch {
			case alias != "":
				names = append(names, importName+" as "+alias)
			case importName != "":
				names = append(names, importName)
			}
		}
	}

	if modulePath == "" && !relative {
		return
	}
	if modulePath == "" {
		modulePath = "."
	}
	fs.Imports = append(fs.Imports, Import{
		Path:     modulePath,
		Names:    names,
		Wildcard: wildcard,
		Relative: relative,
		Line:     nodeStartLine(node),
	})
}

// pythonCallee maps a call node to its target text. Attribute targets on
// simple operands keep the dotted form; complex operands reduce to the
// attribute name.
func pythonCallee(call *sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, content)
	case "attribute":
		if obj := fn.ChildByFieldName("object"); obj != nil &&
			(obj.Type() == "identifier" || obj.Type() == "attribute") {
			return nodeText(fn, content)
		}
		return nodeText(fn.ChildByFieldName("attribute"), content)
	}
	return ""
}

// pythonExported follows convention: leading underscore names are private,
// dunder names are public.
func pythonExported(name string) bool {
	if name == "" {
		return false
	}
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}
	return !strings.HasPrefix(name, "_")
}

// allCaps reports whether a name is SCREAMING_SNAKE_CASE.
func allCaps(name string) bool {
	for _, r := range name {
		if r != '_' && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return len(name) > 0
}

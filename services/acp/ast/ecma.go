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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ecmaScanner walks the shared JavaScript/TypeScript statement grammar. The
// TypeScript extractor sees extra declaration kinds (interfaces, type
// aliases, enums, abstract classes); everything else is identical, so both
// extractors drive this one walker.
type ecmaScanner struct {
	content []byte
	fs      *FileStructure
}

func (s *ecmaScanner) scanProgram(ctx context.Context, root *sitter.Node) {
	for i := 0; i < int(root.ChildCount()); i++ {
		if child := root.Child(i); child != nil {
			s.statement(ctx, child, child, false)
		}
	}
}

// statement dispatches one top-level statement. span carries the node the
// symbol's lines come from: for exported declarations that is the wrapping
// export_statement, so annotation blocks above "export" attach correctly.
func (s *ecmaScanner) statement(ctx context.Context, node, span *sitter.Node, exported bool) {
	switch node.Type() {
	case "export_statement":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			switch child.Type() {
			case "string", "template_string":
				// Re-export: export { Foo } from './bar'
				source := trimStringLiteral(nodeText(child, s.content))
				if source != "" {
					s.fs.Imports = append(s.fs.Imports, Import{
						Path:     source,
						Relative: strings.HasPrefix(source, "."),
						Line:     nodeStartLine(node),
					})
				}
			default:
				s.statement(ctx, child, node, true)
			}
		}
	case "import_statement":
		s.importStatement(node)
	case "function_declaration", "generator_function_declaration":
		s.function(ctx, node, span, exported)
	case "class_declaration", "abstract_class_declaration":
		s.class(ctx, node, span, exported)
	case "interface_declaration":
		s.namedType(node, span, exported, KindInterface, "interface")
	case "type_alias_declaration":
		s.namedType(node, span, exported, KindType, "type")
	case "enum_declaration":
		s.namedType(node, span, exported, KindType, "enum")
	case "lexical_declaration", "variable_declaration":
		s.variables(ctx, node, span, exported)
	}
}

func (s *ecmaScanner) function(ctx context.Context, node, span *sitter.Node, exported bool) {
	name := nodeText(node.ChildByFieldName("name"), s.content)
	if name == "" {
		return
	}
	body := node.ChildByFieldName("body")
	s.fs.Symbols = append(s.fs.Symbols, Symbol{
		Name:      name,
		Kind:      KindFunction,
		Signature: headText(node, body, s.content),
		Exported:  exported,
		StartLine: nodeStartLine(span),
		EndLine:   nodeEndLine(node),
		Calls:     collectCalls(ctx, body, s.content, "call_expression", ecmaCallee),
	})
}

func (s *ecmaScanner) class(ctx context.Context, node, span *sitter.Node, exported bool) {
	var name string
	var body *sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "identifier", "type_identifier":
			if name == "" {
				name = nodeText(child, s.content)
			}
		case "class_body":
			body = child
		}
	}
	if name == "" {
		return
	}

	s.fs.Symbols = append(s.fs.Symbols, Symbol{
		Name:      name,
		Kind:      KindClass,
		Signature: declHead("", nodeText(node, s.content)),
		Exported:  exported,
		StartLine: nodeStartLine(span),
		EndLine:   nodeEndLine(node),
	})
	if body != nil {
		s.methods(ctx, body, name, exported)
	}
}

func (s *ecmaScanner) methods(ctx context.Context, body *sitter.Node, className string, exported bool) {
	for i := 0; i < int(body.ChildCount()); i++ {
		method := body.Child(i)
		if method.Type() != "method_definition" {
			continue
		}
		name := nodeText(method.ChildByFieldName("name"), s.content)
		if name == "" {
			continue
		}
		mbody := method.ChildByFieldName("body")
		s.fs.Symbols = append(s.fs.Symbols, Symbol{
			Name:      name,
			Kind:      KindMethod,
			Receiver:  className,
			Signature: headText(method, mbody, s.content),
			Exported:  exported,
			StartLine: nodeStartLine(method),
			EndLine:   nodeEndLine(method),
			Calls:     collectCalls(ctx, mbody, s.content, "call_expression", ecmaCallee),
		})
	}
}

// namedType covers interface, type alias and enum declarations.
func (s *ecmaScanner) namedType(node, span *sitter.Node, exported bool, kind SymbolKind, keyword string) {
	var name string
	for i := 0; i < int(node.ChildCount()); i++ {
		switch child := node.Child(i); child.Type() {
		case "type_identifier", "identifier":
			if name == "" {
				name = nodeText(child, s.content)
			}
		}
	}
	if name == "" {
		return
	}
	s.fs.Symbols = append(s.fs.Symbols, Symbol{
		Name:      name,
		Kind:      kind,
		Signature: keyword + " " + name,
		Exported:  exported,
		StartLine: nodeStartLine(span),
		EndLine:   nodeEndLine(node),
	})
}

// variables handles const/let/var declarations. A declarator initialized
// with a function expression becomes a function symbol; one initialized with
// require() becomes a CommonJS import.
func (s *ecmaScanner) variables(ctx context.Context, node, span *sitter.Node, exported bool) {
	keyword := "var"
	if first := node.Child(0); first != nil {
		keyword = nodeText(first, s.content)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		decl := node.Child(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		name := nodeText(decl.ChildByFieldName("name"), s.content)
		if name == "" {
			continue
		}
		value := decl.ChildByFieldName("value")

		if path := requirePath(value, s.content); path != "" {
			s.fs.Imports = append(s.fs.Imports, Import{
				Path:     path,
				Alias:    name,
				Relative: strings.HasPrefix(path, "."),
				Line:     nodeStartLine(node),
			})
			continue
		}

		kind := KindVar
		if keyword == "const" {
			kind = KindConst
		}
		var calls []CallSite
		if value != nil {
			switch value.Type() {
			case "arrow_function", "function", "function_expression", "generator_function":
				kind = KindFunction
				calls = collectCalls(ctx, value.ChildByFieldName("body"), s.content, "call_expression", ecmaCallee)
			}
		}

		s.fs.Symbols = append(s.fs.Symbols, Symbol{
			Name:      name,
			Kind:      kind,
			Signature: declHead(keyword, nodeText(decl, s.content)),
			Exported:  exported,
			StartLine: nodeStartLine(span),
			EndLine:   nodeEndLine(decl),
			Calls:     calls,
		})
	}
}

// importStatement handles ES module imports: default, namespace and named
// clauses, plus TypeScript type-only imports.
func (s *ecmaScanner) importStatement(node *sitter.Node) {
	var (
		path     string
		alias    string
		names    []string
		wildcard bool
	)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import_clause":
			for j := 0; j < int(child.ChildCount()); j++ {
				gc := child.Child(j)
				switch gc.Type() {
				case "identifier":
					// Default import binds one name.
					names = append(names, nodeText(gc, s.content))
				case "namespace_import":
					wildcard = true
					for k := 0; k < int(gc.ChildCount()); k++ {
						if id := gc.Child(k); id.Type() == "identifier" {
							alias = nodeText(id, s.content)
						}
					}
				case "named_imports":
					for k := 0; k < int(gc.ChildCount()); k++ {
						if spec := gc.Child(k); spec.Type() == "import_specifier" {
							if name := importSpecifierName(spec, s.content); name != "" {
								names = append(names, name)
							}
						}
					}
				}
			}
		case "string":
			path = trimStringLiteral(nodeText(child, s.content))
		}
	}

	if path == "" {
		return
	}
	s.fs.Imports = append(s.fs.Imports, Import{
		Path:     path,
		Alias:    alias,
		Names:    names,
		Wildcard: wildcard,
		Relative: strings.HasPrefix(path, "."),
		Line:     nodeStartLine(node),
	})
}

func importSpecifierName(spec *sitter.Node, content []byte) string {
	var name, alias string
	for i := 0; i < int(spec.ChildCount()); i++ {
		if child := spec.Child(i); child.Type() == "identifier" {
			if name == "" {
				name = nodeText(child, content)
			} else {
				alias = nodeText(child, content)
			}
		}
	}
	if alias != "" {
		return name + " as " + alias
	}
	return name
}

// requirePath returns the module path when value is a require("...") call.
func requirePath(value *sitter.Node, content []byte) string {
	if value == nil || value.Type() != "call_expression" {
		return ""
	}
	fn := value.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || nodeText(fn, content) != "require" {
		return ""
	}
	args := value.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		if arg := args.Child(i); arg.Type() == "string" {
			return trimStringLiteral(nodeText(arg, content))
		}
	}
	return ""
}

// ecmaCallee maps a call_expression to its target text. Member targets on
// simple objects keep the dotted form; complex objects reduce to the
// property name.
func ecmaCallee(call *sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, content)
	case "member_expression":
		if obj := fn.ChildByFieldName("object"); obj != nil &&
			(obj.Type() == "identifier" || obj.Type() == "member_expression") {
			return nodeText(fn, content)
		}
		return nodeText(fn.ChildByFieldName("property"), content)
	}
	return ""
}

func trimStringLiteral(s string) string {
	return strings.Trim(s, "'\"`")
}

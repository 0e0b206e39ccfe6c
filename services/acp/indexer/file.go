// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/acp/services/acp/annotation"
	"github.com/AleutianAI/acp/services/acp/ast"
	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/constraint"
	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/graph"
	"github.com/AleutianAI/acp/services/acp/scan"
)

// fileResult is one file's contribution to the document: its entry, its
// symbols, the raw material the linker needs, and whatever diagnostics the
// parse produced. A non-nil err means the file indexed nothing this run.
type fileResult struct {
	path    string
	err     error
	hash    string
	entry   *cache.FileEntry
	symbols []*cache.SymbolEntry
	source  *graph.Source
	diags   []diag.Diagnostic
}

// inlineNamespaces are positional markers collected per file in addition to
// their normal scope attachment.
var inlineNamespaces = map[string]bool{
	"hack":     true,
	"todo":     true,
	"fixme":    true,
	"critical": true,
	"perf":     true,
}

// processFile runs the whole per-file pipeline: read, extract structure,
// lex annotations, associate blocks, resolve constraints. It is a pure
// function of the file's content and never touches the shared document;
// the caller applies results in deterministic order.
func (ix *Indexer) processFile(ctx context.Context, root string, f scan.File) *fileResult {
	r := &fileResult{path: f.Path}
	start := time.Now()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
	if err != nil {
		r.err = fmt.Errorf("reading file: %w", err)
		return r
	}
	r.hash = cache.HashContent(data)

	extractor := ix.registry.ForPath(f.Path)
	structure, err := extractor.Extract(ctx, f.Path, data)
	lexable := true
	if err != nil {
		// Structural failure degrades to a file-level-only entry. Content
		// that is not valid UTF-8 cannot be lexed for annotations either.
		structure = &ast.FileStructure{Path: f.Path, Language: f.Language}
		lexable = !errors.Is(err, ast.ErrInvalidContent)
		ix.logger.Warn("structural extraction failed",
			slog.String("file", f.Path),
			slog.String("error", err.Error()))
	}

	text := string(data)
	entry := &cache.FileEntry{
		Path:            f.Path,
		Language:        f.Language,
		Lines:           countLines(text),
		HasSyntaxErrors: structure.HasSyntaxErrors,
	}

	// Symbol entries in declaration order. A name already used in this file
	// gets a start-line suffix so every declaration stays addressable.
	symbols := make([]*cache.SymbolEntry, 0, len(structure.Symbols))
	byStart := make(map[int]*cache.SymbolEntry, len(structure.Symbols))
	used := make(map[string]bool, len(structure.Symbols))
	for _, s := range structure.Symbols {
		name := s.Name
		if s.Receiver != "" {
			name = s.Receiver + "." + s.Name
		}
		qn := f.Path + ":" + name
		if used[qn] {
			qn = fmt.Sprintf("%s:%s@%d", f.Path, name, s.StartLine)
		}
		used[qn] = true

		sym := &cache.SymbolEntry{
			QualifiedName: qn,
			Name:          s.Name,
			Kind:          string(s.Kind),
			File:          f.Path,
			StartLine:     s.StartLine,
			EndLine:       s.EndLine,
			Receiver:      s.Receiver,
			Signature:     s.Signature,
			Exported:      s.Exported,
		}
		symbols = append(symbols, sym)
		entry.Symbols = append(entry.Symbols, qn)
		if byStart[s.StartLine] == nil {
			byStart[s.StartLine] = sym
		}
	}

	// Annotation blocks, associated to symbols or the file.
	var fileRecords []annotation.AnnotationRecord
	symRecords := make(map[string][]annotation.AnnotationRecord)
	if lexable {
		lexer := annotation.NewLexer(extractor.CommentStyle(), annotation.WithMode(ix.mode))
		blocks, kinds := lexer.Scan(text)

		type winner struct {
			block    annotation.Block
			records  []annotation.AnnotationRecord
			distance int
		}
		winners := make(map[string]*winner)

		for _, b := range blocks {
			records, ds, err := lexer.ParseBlock(f.Path, b)
			r.diags = append(r.diags, ds...)
			if err != nil {
				var malformed *annotation.MalformedAnnotationError
				if errors.As(err, &malformed) {
					r.diags = append(r.diags, malformed.Diag)
				}
				r.err = fmt.Errorf("parsing annotations: %w", err)
				return r
			}
			if len(records) == 0 {
				continue
			}

			sym, dist := associate(b, kinds, byStart)
			if sym == nil {
				fileRecords = append(fileRecords, records...)
				continue
			}
			prev, ok := winners[sym.QualifiedName]
			if !ok {
				winners[sym.QualifiedName] = &winner{block: b, records: records, distance: dist}
				continue
			}
			// Closer block wins; on equal distance the earlier block stays.
			lost := b
			if dist < prev.distance {
				lost = prev.block
				winners[sym.QualifiedName] = &winner{block: b, records: records, distance: dist}
			}
			r.diags = append(r.diags, diag.Duplicate(f.Path, lost.StartLine, lost.EndLine,
				fmt.Sprintf("annotation block discarded: %s already has a closer block", sym.QualifiedName)))
		}
		for qn, w := range winners {
			symRecords[qn] = w.records
		}
	}

	entry.Annotations = recordMap(fileRecords)
	entry.Constraint = constraint.Resolve(fileRecords)
	applyFileFields(entry, fileRecords)

	var inline []cache.InlineAnnotation
	collectInline(&inline, fileRecords)

	for _, sym := range symbols {
		records := symRecords[sym.QualifiedName]
		if len(records) == 0 {
			continue
		}
		sym.Annotations = recordMap(records)
		if constraint.HasLock(records) {
			own := constraint.Resolve(records)
			sym.Constraint = &own
		}
		applySymbolFields(sym, records)
		collectInline(&inline, records)
	}

	sort.Slice(inline, func(i, j int) bool {
		if inline[i].Line != inline[j].Line {
			return inline[i].Line < inline[j].Line
		}
		return inline[i].Kind < inline[j].Kind
	})
	entry.Inline = inline

	calls := make(map[string][]ast.CallSite)
	for i, s := range structure.Symbols {
		if len(s.Calls) > 0 {
			calls[symbols[i].QualifiedName] = s.Calls
		}
	}

	r.entry = entry
	r.symbols = symbols
	r.source = &graph.Source{Path: f.Path, Imports: structure.Imports, Calls: calls}

	observeParseDuration(f.Language, time.Since(start))
	return r
}

// associate applies the attachment rule: a block belongs to the symbol whose
// boundary begins on the next non-blank, non-comment line after the block,
// or to the file when no symbol starts there. A trailing comment sits on the
// declaration line itself and attaches at distance zero.
func associate(b annotation.Block, kinds []annotation.LineKind, byStart map[int]*cache.SymbolEntry) (*cache.SymbolEntry, int) {
	if s := byStart[b.StartLine]; s != nil {
		return s, 0
	}
	for idx := b.EndLine; idx < len(kinds); idx++ {
		if kinds[idx] == annotation.LineBlank || kinds[idx] == annotation.LineComment {
			continue
		}
		line := idx + 1
		return byStart[line], line - b.EndLine
	}
	return nil, 0
}

// recordMap shapes a scope's records into its annotation map: multi-valued
// namespaces accumulate in source order, single-valued ones keep the last.
func recordMap(records []annotation.AnnotationRecord) map[string][]annotation.AnnotationRecord {
	if len(records) == 0 {
		return nil
	}
	m := make(map[string][]annotation.AnnotationRecord)
	for _, r := range records {
		if annotation.MultiValued(r.Namespace) {
			m[r.Namespace] = append(m[r.Namespace], r)
		} else {
			m[r.Namespace] = []annotation.AnnotationRecord{r}
		}
	}
	return m
}

// recordText returns what the author wrote for a record: the directive when
// authored, otherwise the value.
func recordText(r annotation.AnnotationRecord) string {
	if r.Directive != "" && !r.Generated {
		return r.Directive
	}
	if r.Value != "" {
		return r.Value
	}
	return r.Directive
}

// applyFileFields extracts the named FileEntry views from the file's
// records in source order; later records win for single-valued fields.
func applyFileFields(entry *cache.FileEntry, records []annotation.AnnotationRecord) {
	for _, r := range records {
		switch r.Namespace {
		case "module":
			entry.Module = r.Value
		case "layer":
			entry.Layer = r.Value
		case "owner":
			entry.Owner = r.Value
		case "purpose":
			entry.Purpose = recordText(r)
		case "summary":
			entry.Summary = recordText(r)
		case "domain":
			if r.Value != "" && !containsString(entry.Domains, r.Value) {
				entry.Domains = append(entry.Domains, r.Value)
			}
		case "depends":
			if r.Value != "" {
				entry.Depends = append(entry.Depends, r.Value)
			}
		}
	}
}

// applySymbolFields fills the symbol's purpose: @acp:purpose wins over
// @acp:summary.
func applySymbolFields(sym *cache.SymbolEntry, records []annotation.AnnotationRecord) {
	purposeSet := false
	for _, r := range records {
		switch r.Namespace {
		case "purpose":
			sym.Purpose = recordText(r)
			purposeSet = true
		case "summary":
			if !purposeSet {
				sym.Purpose = recordText(r)
			}
		}
	}
}

// collectInline appends positional markers for hack/todo/fixme/critical/perf
// records. Hack parameters expires= and ticket= become dedicated fields.
func collectInline(out *[]cache.InlineAnnotation, records []annotation.AnnotationRecord) {
	for _, r := range records {
		if !inlineNamespaces[r.Namespace] {
			continue
		}
		in := cache.InlineAnnotation{
			Kind: r.Namespace,
			Line: r.StartLine,
			Text: recordText(r),
		}
		for _, p := range r.Parameters {
			if v, ok := strings.CutPrefix(p, "expires="); ok {
				in.Expires = v
			}
			if v, ok := strings.CutPrefix(p, "ticket="); ok {
				in.Ticket = v
			}
		}
		*out = append(*out, in)
	}
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if len(text) > 0 && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/acp/services/acp/diag"
)

// CommentStyle is a language's comment-delimiter set. The lexer needs
// nothing else from the host language.
type CommentStyle struct {
	// LinePrefixes are line-comment openers, e.g. "//" or "#".
	LinePrefixes []string

	// BlockStart and BlockEnd delimit block comments. Both empty when the
	// language has none.
	BlockStart string
	BlockEnd   string
}

// GenericStyle covers files whose language is unknown. It recognizes the
// common line-comment prefixes and C-style block comments, which is enough
// to pull annotations out of configs, scripts, and SQL alike.
func GenericStyle() CommentStyle {
	return CommentStyle{
		LinePrefixes: []string{"//", "#", "--", ";"},
		BlockStart:   "/*",
		BlockEnd:     "*/",
	}
}

// LineKind classifies one source line for the association rule: annotation
// blocks attach to the symbol starting on the next line that is neither
// blank nor comment.
type LineKind uint8

const (
	LineCode LineKind = iota
	LineBlank
	LineComment
)

// BlockLine is one comment line inside a block: the 1-indexed source line
// number and the comment's textual content with the delimiter stripped but
// leading indentation preserved.
type BlockLine struct {
	Number int
	Text   string
}

// Block is a candidate annotation block: a contiguous run of comment lines
// beginning with the directive sigil, plus continuation lines indented
// relative to the block's first line.
type Block struct {
	StartLine int
	EndLine   int
	Lines     []BlockLine
}

// ParsedBlock pairs a block with the records parsed out of it. Blocks stay
// whole because a block attaches to its target symbol or file as a unit.
type ParsedBlock struct {
	Block   Block
	Records []AnnotationRecord
}

// MalformedAnnotationError fails a file's parse in strict mode. It never
// propagates past the file: the indexer records it and moves on.
type MalformedAnnotationError struct {
	Diag diag.Diagnostic
}

func (e *MalformedAnnotationError) Error() string { return e.Diag.String() }

// Lexer extracts annotation blocks from raw file text.
//
// Description:
//
//	The lexer works line-by-line against a comment-delimiter set, so it is
//	independent of the host language's grammar. It recognizes full comment
//	lines, block comments (including leading-asterisk continuation style),
//	and trailing comments on code lines when the comment begins with the
//	sigil. Blocks are then split into directive records; a trailing
//	@acp:source* group inside a block becomes provenance metadata for the
//	directives before it.
//
// Thread Safety: a Lexer is immutable after construction and safe for
// concurrent use.
type Lexer struct {
	style           CommentStyle
	mode            Mode
	reviewThreshold float64
}

// Option configures a Lexer.
type Option func(*Lexer)

// WithMode selects strict or permissive handling of malformed input.
func WithMode(m Mode) Option {
	return func(l *Lexer) {
		if m == ModeStrict || m == ModePermissive {
			l.mode = m
		}
	}
}

// WithReviewThreshold overrides the confidence threshold below which
// non-explicit annotations are flagged for review.
func WithReviewThreshold(t float64) Option {
	return func(l *Lexer) {
		if t >= 0 && t <= 1 {
			l.reviewThreshold = t
		}
	}
}

// NewLexer builds a lexer for one comment style.
func NewLexer(style CommentStyle, opts ...Option) *Lexer {
	l := &Lexer{
		style:           style,
		mode:            ModePermissive,
		reviewThreshold: DefaultReviewThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mode returns the lexer's validation mode.
func (l *Lexer) Mode() Mode { return l.mode }

var (
	directiveSep = regexp.MustCompile(`\s+-\s+`)
	namespaceRE  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// Parse extracts and parses every annotation block in text.
//
// Outputs:
//
//	Parsed blocks in file order, accumulated diagnostics, and a non-nil
//	*MalformedAnnotationError in strict mode on the first malformed
//	directive. In permissive mode the error is always nil and malformed
//	lines are skipped with a diagnostic.
func (l *Lexer) Parse(path, text string) ([]ParsedBlock, []diag.Diagnostic, error) {
	blocks, _ := l.Scan(text)
	var (
		out   []ParsedBlock
		diags []diag.Diagnostic
	)
	for _, b := range blocks {
		records, ds, err := l.ParseBlock(path, b)
		diags = append(diags, ds...)
		if err != nil {
			return nil, diags, err
		}
		if len(records) > 0 {
			out = append(out, ParsedBlock{Block: b, Records: records})
		}
	}
	return out, diags, nil
}

// Scan splits text into candidate annotation blocks and classifies every
// line. The line-kind slice is indexed by zero-based line number and is what
// the association rule consumes.
func (l *Lexer) Scan(text string) ([]Block, []LineKind) {
	lines := strings.Split(text, "\n")
	kinds := make([]LineKind, len(lines))

	var (
		blocks    []Block
		cur       *Block
		curIndent int
		inBlock   bool
	)
	flush := func() {
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}

	for i, raw := range lines {
		raw = strings.TrimRight(raw, "\r")
		content, isComment, pure, still := l.commentText(raw, inBlock)
		inBlock = still

		switch {
		case strings.TrimSpace(raw) == "":
			kinds[i] = LineBlank
		case isComment && pure:
			kinds[i] = LineComment
		default:
			kinds[i] = LineCode
		}

		if !isComment {
			flush()
			continue
		}

		trimmed := strings.TrimSpace(content)
		indent := lineIndent(content)
		sigil := strings.HasPrefix(trimmed, Sigil)

		switch {
		case sigil && cur == nil:
			cur = &Block{
				StartLine: i + 1,
				EndLine:   i + 1,
				Lines:     []BlockLine{{Number: i + 1, Text: content}},
			}
			curIndent = indent
		case sigil:
			cur.Lines = append(cur.Lines, BlockLine{Number: i + 1, Text: content})
			cur.EndLine = i + 1
		case cur != nil && trimmed != "" && indent > curIndent:
			cur.Lines = append(cur.Lines, BlockLine{Number: i + 1, Text: content})
			cur.EndLine = i + 1
		default:
			flush()
		}
	}
	flush()
	return blocks, kinds
}

// commentText extracts the comment content of one raw line.
//
// Outputs:
//
//	content - the comment text with the delimiter stripped; in block
//	          comments a leading asterisk continuation marker is stripped
//	pure    - true when the whole line is comment (or block-comment body),
//	          false for a trailing comment after code
//	still   - block-comment state carried to the next line
func (l *Lexer) commentText(raw string, inBlock bool) (content string, isComment, pure, still bool) {
	if inBlock {
		content = raw
		still = true
		if l.style.BlockEnd != "" {
			if idx := strings.Index(raw, l.style.BlockEnd); idx >= 0 {
				content = raw[:idx]
				still = false
			}
		}
		return stripBlockContinuation(content), true, true, still
	}

	ltrim := strings.TrimLeft(raw, " \t")
	for _, p := range l.style.LinePrefixes {
		if strings.HasPrefix(ltrim, p) {
			return ltrim[len(p):], true, true, false
		}
	}
	if l.style.BlockStart != "" && strings.HasPrefix(ltrim, l.style.BlockStart) {
		rest := ltrim[len(l.style.BlockStart):]
		if idx := strings.Index(rest, l.style.BlockEnd); idx >= 0 {
			return rest[:idx], true, true, false
		}
		return rest, true, true, true
	}

	// Trailing comment on a code line counts only when it opens with the
	// sigil; a bare "//" inside a string or URL stays code.
	for _, p := range l.style.LinePrefixes {
		if idx := strings.Index(raw, p); idx >= 0 {
			after := raw[idx+len(p):]
			if strings.HasPrefix(strings.TrimSpace(after), Sigil) {
				return after, true, false, false
			}
		}
	}
	if l.style.BlockStart != "" {
		if idx := strings.Index(raw, l.style.BlockStart); idx >= 0 {
			after := raw[idx+len(l.style.BlockStart):]
			if strings.HasPrefix(strings.TrimSpace(after), Sigil) {
				if end := strings.Index(after, l.style.BlockEnd); end >= 0 {
					return after[:end], true, false, false
				}
				return after, true, false, true
			}
		}
	}
	return "", false, false, false
}

// stripBlockContinuation removes the conventional leading asterisk from a
// block-comment body line, preserving the indentation that follows it.
func stripBlockContinuation(s string) string {
	ltrim := strings.TrimLeft(s, " \t")
	if strings.HasPrefix(ltrim, "*") && !strings.HasPrefix(ltrim, "*/") {
		return ltrim[1:]
	}
	return s
}

func lineIndent(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

// provMark is an @acp:source* line awaiting resolution into Provenance.
type provMark struct {
	namespace string
	value     string
	line      int
}

// parsedItem keeps block order between directives and provenance markers.
type parsedItem struct {
	rec  *AnnotationRecord
	prov *provMark
}

// ParseBlock splits one block into records and resolves provenance groups.
func (l *Lexer) ParseBlock(path string, b Block) ([]AnnotationRecord, []diag.Diagnostic, error) {
	var (
		items []parsedItem
		diags []diag.Diagnostic
		cur   *AnnotationRecord
	)

	fail := func(d diag.Diagnostic) error {
		if l.mode == ModeStrict {
			return &MalformedAnnotationError{Diag: d}
		}
		diags = append(diags, d)
		return nil
	}

	finalize := func() error {
		if cur == nil {
			return nil
		}
		if cur.Directive == "" {
			if l.mode == ModeStrict {
				return &MalformedAnnotationError{Diag: diag.Malformed(
					path, cur.StartLine, cur.EndLine,
					"missing directive text for @acp:"+cur.Namespace,
				)}
			}
			if def := DefaultDirective(cur.Namespace, cur.Value); def != "" {
				cur.Directive = def
				cur.Generated = true
			}
		}
		items = append(items, parsedItem{rec: cur})
		cur = nil
		return nil
	}

	for _, bl := range b.Lines {
		trimmed := strings.TrimSpace(bl.Text)
		if !strings.HasPrefix(trimmed, Sigil) {
			// Continuation line: extends the current directive text.
			if cur != nil && trimmed != "" {
				if cur.Directive == "" {
					cur.Directive = trimmed
				} else {
					cur.Directive += " " + trimmed
				}
				cur.EndLine = bl.Number
			}
			continue
		}

		if err := finalize(); err != nil {
			return nil, diags, err
		}

		rest := strings.TrimSpace(trimmed[len(Sigil):])
		if rest == "" {
			if err := fail(diag.Malformed(path, bl.Number, bl.Number, "empty annotation namespace")); err != nil {
				return nil, diags, err
			}
			continue
		}

		head := rest
		var remainder string
		if sp := strings.IndexAny(rest, " \t"); sp >= 0 {
			head = rest[:sp]
			remainder = strings.TrimSpace(rest[sp:])
		}

		ns, sub := head, ""
		if c := strings.Index(head, ":"); c >= 0 {
			ns, sub = head[:c], head[c+1:]
		}
		if !namespaceRE.MatchString(ns) || (sub != "" && !namespaceRE.MatchString(sub)) {
			if err := fail(diag.Malformed(path, bl.Number, bl.Number, "invalid annotation namespace "+head)); err != nil {
				return nil, diags, err
			}
			continue
		}

		valuePart := remainder
		directive := ""
		if loc := directiveSep.FindStringIndex(remainder); loc != nil {
			valuePart = strings.TrimSpace(remainder[:loc[0]])
			directive = strings.TrimSpace(remainder[loc[1]:])
		}

		if IsProvenanceNamespace(ns) && sub == "" {
			items = append(items, parsedItem{prov: &provMark{
				namespace: ns,
				value:     unquote(valuePart),
				line:      bl.Number,
			}})
			continue
		}

		known := knownNamespaces[ns]
		if !known && l.mode == ModeStrict {
			return nil, diags, &MalformedAnnotationError{Diag: diag.Malformed(
				path, bl.Number, bl.Number, "unknown annotation namespace @acp:"+ns,
			)}
		}

		cur = &AnnotationRecord{
			Namespace:    ns,
			SubNamespace: sub,
			Parameters:   splitQuoted(valuePart),
			Value:        unquote(valuePart),
			Directive:    directive,
			Custom:       !known,
			StartLine:    bl.Number,
			EndLine:      bl.Number,
		}
	}
	if err := finalize(); err != nil {
		return nil, diags, err
	}

	records, provDiags, err := l.resolveProvenance(path, items)
	diags = append(diags, provDiags...)
	if err != nil {
		return nil, diags, err
	}
	return records, diags, nil
}

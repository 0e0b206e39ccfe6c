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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/acp/services/acp/diag"
)

func goStyle() CommentStyle {
	return CommentStyle{LinePrefixes: []string{"//"}, BlockStart: "/*", BlockEnd: "*/"}
}

func hashStyle() CommentStyle {
	return CommentStyle{LinePrefixes: []string{"#"}}
}

func parseOne(t *testing.T, l *Lexer, src string) []AnnotationRecord {
	t.Helper()
	blocks, _, err := l.Parse("test.go", src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	return blocks[0].Records
}

func TestScanBlocks(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantBlocks int
		wantSpans  [][2]int
	}{
		{
			name: "single block of sigil lines",
			src: strings.Join([]string{
				"// @acp:module \"Payments\"",
				"// @acp:lock frozen - Do not touch",
				"func Pay() {}",
			}, "\n"),
			wantBlocks: 1,
			wantSpans:  [][2]int{{1, 2}},
		},
		{
			name: "blank line splits blocks",
			src: strings.Join([]string{
				"// @acp:domain auth - Auth",
				"",
				"// @acp:domain billing - Billing",
			}, "\n"),
			wantBlocks: 2,
			wantSpans:  [][2]int{{1, 1}, {3, 3}},
		},
		{
			name: "plain comment line splits blocks",
			src: strings.Join([]string{
				"// @acp:domain auth - Auth",
				"// regular prose, not indented",
				"// @acp:domain billing - Billing",
			}, "\n"),
			wantBlocks: 2,
			wantSpans:  [][2]int{{1, 1}, {3, 3}},
		},
		{
			name: "indented continuation stays in block",
			src: strings.Join([]string{
				"// @acp:lock restricted - Explain proposed changes",
				"//     and wait for signoff",
				"func f() {}",
			}, "\n"),
			wantBlocks: 1,
			wantSpans:  [][2]int{{1, 2}},
		},
		{
			name: "block comment with asterisk gutter",
			src: strings.Join([]string{
				"/*",
				" * @acp:module \"Payments\"",
				" * @acp:lock frozen - Do not touch",
				" */",
				"class Payments {}",
			}, "\n"),
			wantBlocks: 1,
			wantSpans:  [][2]int{{2, 3}},
		},
		{
			name:       "trailing comment on code line",
			src:        `x := compute() // @acp:hack ticket=JIRA-1 "temp fix"`,
			wantBlocks: 1,
			wantSpans:  [][2]int{{1, 1}},
		},
		{
			name:       "url double slash is not a comment",
			src:        `serve("https://example.com/x")`,
			wantBlocks: 0,
		},
		{
			name:       "no annotations",
			src:        "// plain comment\nfunc f() {}\n",
			wantBlocks: 0,
		},
	}

	l := NewLexer(goStyle())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, _ := l.Scan(tt.src)
			if len(blocks) != tt.wantBlocks {
				t.Fatalf("blocks = %d, want %d", len(blocks), tt.wantBlocks)
			}
			for i, span := range tt.wantSpans {
				if blocks[i].StartLine != span[0] || blocks[i].EndLine != span[1] {
					t.Errorf("block %d span = %d-%d, want %d-%d",
						i, blocks[i].StartLine, blocks[i].EndLine, span[0], span[1])
				}
			}
		})
	}
}

func TestScanLineKinds(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:lock frozen - Do not touch",
		"",
		"// prose",
		"func Pay() {}",
		`y := 1 // @acp:todo cleanup`,
	}, "\n")

	l := NewLexer(goStyle())
	_, kinds := l.Scan(src)

	want := []LineKind{LineComment, LineBlank, LineComment, LineCode, LineCode}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %d lines, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("line %d kind = %d, want %d", i+1, kinds[i], want[i])
		}
	}
}

func TestParseDirectiveLine(t *testing.T) {
	tests := []struct {
		name          string
		src           string
		wantNamespace string
		wantSub       string
		wantValue     string
		wantParams    []string
		wantDirective string
		wantGenerated bool
		wantCustom    bool
	}{
		{
			name:          "value and directive",
			src:           "// @acp:lock restricted - Explain proposed changes",
			wantNamespace: "lock",
			wantValue:     "restricted",
			wantParams:    []string{"restricted"},
			wantDirective: "Explain proposed changes",
		},
		{
			name:          "hyphenated value without directive gets default",
			src:           "// @acp:lock approval-required",
			wantNamespace: "lock",
			wantValue:     "approval-required",
			wantParams:    []string{"approval-required"},
			wantDirective: "Propose changes and request confirmation before applying",
			wantGenerated: true,
		},
		{
			name:          "quoted value",
			src:           `// @acp:module "Annotation Engine"`,
			wantNamespace: "module",
			wantValue:     "Annotation Engine",
			wantParams:    []string{"Annotation Engine"},
		},
		{
			name:          "key value parameters with quoted reason",
			src:           `// @acp:hack expires=2026-03-01 ticket=JIRA-123 "races under load"`,
			wantNamespace: "hack",
			wantValue:     `expires=2026-03-01 ticket=JIRA-123 "races under load"`,
			wantParams:    []string{"expires=2026-03-01", "ticket=JIRA-123", "races under load"},
			wantDirective: "Temporary workaround - check expiry before modifying",
			wantGenerated: true,
		},
		{
			name:          "sub namespace",
			src:           "// @acp:lock:reason security - Audited code path",
			wantNamespace: "lock",
			wantSub:       "reason",
			wantValue:     "security",
			wantParams:    []string{"security"},
			wantDirective: "Audited code path",
		},
		{
			name:          "ref default directive embeds value",
			src:           "// @acp:ref https://rfc.example/0003",
			wantNamespace: "ref",
			wantValue:     "https://rfc.example/0003",
			wantParams:    []string{"https://rfc.example/0003"},
			wantDirective: "Consult https://rfc.example/0003 before making changes",
			wantGenerated: true,
		},
		{
			name:          "unknown namespace is custom in permissive mode",
			src:           "// @acp:sla tier-1 - Page on breach",
			wantNamespace: "sla",
			wantValue:     "tier-1",
			wantParams:    []string{"tier-1"},
			wantDirective: "Page on breach",
			wantCustom:    true,
		},
	}

	l := NewLexer(goStyle())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := parseOne(t, l, tt.src)
			if len(records) != 1 {
				t.Fatalf("records = %d, want 1", len(records))
			}
			r := records[0]
			if r.Namespace != tt.wantNamespace {
				t.Errorf("namespace = %q, want %q", r.Namespace, tt.wantNamespace)
			}
			if r.SubNamespace != tt.wantSub {
				t.Errorf("sub namespace = %q, want %q", r.SubNamespace, tt.wantSub)
			}
			if r.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", r.Value, tt.wantValue)
			}
			if len(r.Parameters) != len(tt.wantParams) {
				t.Fatalf("parameters = %v, want %v", r.Parameters, tt.wantParams)
			}
			for i := range tt.wantParams {
				if r.Parameters[i] != tt.wantParams[i] {
					t.Errorf("parameter %d = %q, want %q", i, r.Parameters[i], tt.wantParams[i])
				}
			}
			if r.Directive != tt.wantDirective {
				t.Errorf("directive = %q, want %q", r.Directive, tt.wantDirective)
			}
			if r.Generated != tt.wantGenerated {
				t.Errorf("generated = %v, want %v", r.Generated, tt.wantGenerated)
			}
			if r.Custom != tt.wantCustom {
				t.Errorf("custom = %v, want %v", r.Custom, tt.wantCustom)
			}
		})
	}
}

func TestParseContinuationMergesDirective(t *testing.T) {
	src := strings.Join([]string{
		"# @acp:lock restricted - Explain proposed changes",
		"#     and wait for signoff",
		"#     from the module owner",
		"def f(): pass",
	}, "\n")

	l := NewLexer(hashStyle())
	records := parseOne(t, l, src)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	want := "Explain proposed changes and wait for signoff from the module owner"
	if records[0].Directive != want {
		t.Errorf("directive = %q, want %q", records[0].Directive, want)
	}
	if records[0].StartLine != 1 || records[0].EndLine != 3 {
		t.Errorf("span = %d-%d, want 1-3", records[0].StartLine, records[0].EndLine)
	}
	if records[0].Generated {
		t.Error("continuation-built directive must not be flagged generated")
	}
}

func TestProvenanceDefaultIsExplicit(t *testing.T) {
	src := "// @acp:lock frozen - MUST NOT modify"
	records := parseOne(t, NewLexer(goStyle()), src)

	p := records[0].Provenance
	if p.Origin != OriginExplicit {
		t.Errorf("origin = %q, want %q", p.Origin, OriginExplicit)
	}
	if p.Confidence != nil {
		t.Errorf("confidence = %v, want nil", *p.Confidence)
	}
	if p.NeedsReview {
		t.Error("explicit annotation must not need review")
	}
}

func TestProvenanceGroupAttachesToPrecedingDirectives(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:ref https://x - consult",
		"// @acp:source heuristic",
		"// @acp:source-confidence 0.6",
		"func target() {}",
	}, "\n")

	records := parseOne(t, NewLexer(goStyle()), src)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	p := records[0].Provenance
	if p.Origin != OriginHeuristic {
		t.Errorf("origin = %q, want %q", p.Origin, OriginHeuristic)
	}
	if p.Confidence == nil || *p.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", p.Confidence)
	}
	if !p.NeedsReview {
		t.Error("heuristic annotation at 0.6 confidence must need review")
	}
}

func TestProvenanceGroupsSegmentWithinBlock(t *testing.T) {
	src := strings.Join([]string{
		`// @acp:summary "First" - explains A`,
		"// @acp:source converted",
		"// @acp:domain auth - Auth domain",
		"// @acp:source heuristic",
		"// @acp:source-confidence 0.9",
		`// @acp:owner "team-core" - Owned by core`,
	}, "\n")

	records := parseOne(t, NewLexer(goStyle()), src)
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}

	if got := records[0].Provenance.Origin; got != OriginConverted {
		t.Errorf("summary origin = %q, want %q", got, OriginConverted)
	}
	if !records[0].Provenance.NeedsReview {
		t.Error("converted annotation without confidence must need review")
	}

	if got := records[1].Provenance.Origin; got != OriginHeuristic {
		t.Errorf("domain origin = %q, want %q", got, OriginHeuristic)
	}
	if records[1].Provenance.NeedsReview {
		t.Error("heuristic annotation at 0.9 confidence must not need review")
	}

	if got := records[2].Provenance.Origin; got != OriginExplicit {
		t.Errorf("owner origin = %q, want %q", got, OriginExplicit)
	}
}

func TestProvenanceReviewedSuppressesNeedsReview(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:ref https://x - consult",
		"// @acp:source heuristic",
		"// @acp:source-confidence 0.4",
		"// @acp:source-reviewed",
	}, "\n")

	records := parseOne(t, NewLexer(goStyle()), src)
	if records[0].Provenance.NeedsReview {
		t.Error("reviewed annotation must not need review")
	}
	if !records[0].Provenance.Reviewed {
		t.Error("reviewed flag not set")
	}
}

func TestProvenanceUnknownOriginDefaultsToHeuristic(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:ref https://x - consult",
		"// @acp:source oracle",
	}, "\n")

	l := NewLexer(goStyle())
	blocks, diags, err := l.Parse("test.go", src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := blocks[0].Records[0].Provenance.Origin; got != OriginHeuristic {
		t.Errorf("origin = %q, want %q", got, OriginHeuristic)
	}
	if len(diags) != 1 || diags[0].Kind != diag.KindMalformedAnnotation {
		t.Fatalf("diags = %v, want one malformed_annotation", diags)
	}
}

func TestProvenanceConfidenceClampedInPermissiveMode(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:ref https://x - consult",
		"// @acp:source inferred",
		"// @acp:source-confidence 1.7",
	}, "\n")

	l := NewLexer(goStyle())
	blocks, diags, err := l.Parse("test.go", src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	p := blocks[0].Records[0].Provenance
	if p.Confidence == nil || *p.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped 1.0", p.Confidence)
	}
	if len(diags) != 1 {
		t.Fatalf("diags = %d, want 1", len(diags))
	}
}

func TestStrictModeFailures(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown namespace", "// @acp:sla tier-1 - Page on breach"},
		{"missing directive text", "// @acp:stability beta"},
		{"out of range confidence", "// @acp:ref https://x - consult\n// @acp:source heuristic\n// @acp:source-confidence 2.0"},
	}

	l := NewLexer(goStyle(), WithMode(ModeStrict))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := l.Parse("test.go", tt.src)
			var malformed *MalformedAnnotationError
			if !errors.As(err, &malformed) {
				t.Fatalf("Parse() error = %v, want MalformedAnnotationError", err)
			}
			if malformed.Diag.Kind != diag.KindMalformedAnnotation {
				t.Errorf("kind = %q, want %q", malformed.Diag.Kind, diag.KindMalformedAnnotation)
			}
		})
	}
}

func TestStrictModeAcceptsWellFormedInput(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:lock frozen - MUST NOT modify",
		"// @acp:ref https://x - consult the RFC",
	}, "\n")

	l := NewLexer(goStyle(), WithMode(ModeStrict))
	blocks, diags, err := l.Parse("test.go", src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("diags = %v, want none", diags)
	}
	if len(blocks) != 1 || len(blocks[0].Records) != 2 {
		t.Fatalf("blocks/records = %d/%d, want 1/2", len(blocks), len(blocks[0].Records))
	}
}

func TestPermissiveModeSkipsMalformedLine(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:",
		"// @acp:lock frozen - MUST NOT modify",
	}, "\n")

	l := NewLexer(goStyle())
	blocks, diags, err := l.Parse("test.go", src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(diags) != 1 || diags[0].Kind != diag.KindMalformedAnnotation {
		t.Fatalf("diags = %v, want one malformed_annotation", diags)
	}
	if len(blocks) != 1 || len(blocks[0].Records) != 1 {
		t.Fatalf("surviving records = %d, want 1", len(blocks[0].Records))
	}
	if blocks[0].Records[0].Namespace != "lock" {
		t.Errorf("namespace = %q, want lock", blocks[0].Records[0].Namespace)
	}
}

func TestReviewThresholdOption(t *testing.T) {
	src := strings.Join([]string{
		"// @acp:ref https://x - consult",
		"// @acp:source heuristic",
		"// @acp:source-confidence 0.6",
	}, "\n")

	l := NewLexer(goStyle(), WithReviewThreshold(0.5))
	records := parseOne(t, l, src)
	if records[0].Provenance.NeedsReview {
		t.Error("0.6 confidence must not need review at threshold 0.5")
	}
}

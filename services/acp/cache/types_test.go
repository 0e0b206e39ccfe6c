// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"testing"

	"github.com/AleutianAI/acp/services/acp/annotation"
	"github.com/AleutianAI/acp/services/acp/constraint"
)

// buildTestCache assembles a small two-file document the way the indexer
// would, with derived structures recomputed.
func buildTestCache() *CacheRoot {
	c := New("payments", "/test/project")
	conf := 0.6

	c.Files["internal/pay/charge.go"] = &FileEntry{
		Path:     "internal/pay/charge.go",
		Language: "go",
		Lines:    120,
		Module:   "Payment Core",
		Owner:    "payments-team",
		Domains:  []string{"payments"},
		Constraint: constraint.Constraint{
			Level:     constraint.LevelRestricted,
			Directive: "Ask the payments team first",
		},
		Annotations: map[string][]annotation.AnnotationRecord{
			"module": {{Namespace: "module", Value: "Payment Core", StartLine: 1, EndLine: 1,
				Provenance: annotation.Provenance{Origin: annotation.OriginExplicit}}},
			"domain": {{Namespace: "domain", Value: "payments", Directive: "Money movement and ledgers",
				StartLine: 2, EndLine: 2,
				Provenance: annotation.Provenance{Origin: annotation.OriginExplicit}}},
			"lock": {{Namespace: "lock", Value: "restricted", Directive: "Ask the payments team first",
				StartLine: 3, EndLine: 3,
				Provenance: annotation.Provenance{Origin: annotation.OriginExplicit}}},
		},
		Symbols: []string{"internal/pay/charge.go:Charge", "internal/pay/charge.go:validate"},
		Inline: []InlineAnnotation{
			{Kind: "hack", Line: 77, Text: "retry loop papering over gateway flake", Expires: "2026-01-01", Ticket: "PAY-311"},
		},
		Imports: []ImportEdge{
			{Source: "payments/gateway", Target: "internal/pay/gateway.go", Names: []string{"Dial"}, Line: 5},
		},
	}
	c.Files["internal/pay/gateway.go"] = &FileEntry{
		Path:       "internal/pay/gateway.go",
		Language:   "go",
		Lines:      80,
		Constraint: constraint.Constraint{Level: constraint.LevelNormal},
		Symbols:    []string{"internal/pay/gateway.go:Dial"},
		ImportedBy: []string{"internal/pay/charge.go"},
	}

	c.Symbols["internal/pay/charge.go:Charge"] = &SymbolEntry{
		QualifiedName: "internal/pay/charge.go:Charge",
		Name:          "Charge",
		Kind:          "function",
		File:          "internal/pay/charge.go",
		StartLine:     10,
		EndLine:       40,
		Signature:     "func Charge(ctx context.Context, amount int64) error",
		Exported:      true,
		Purpose:       "Executes a charge against the gateway",
		Annotations: map[string][]annotation.AnnotationRecord{
			"summary": {{Namespace: "summary", Value: "Executes a charge against the gateway",
				Directive: "Executes a charge against the gateway", Generated: true, StartLine: 8, EndLine: 8,
				Provenance: annotation.Provenance{Origin: annotation.OriginExplicit}}},
			"ref": {{Namespace: "ref", Value: "docs/charging.md",
				Directive: "Consult docs/charging.md before making changes", StartLine: 9, EndLine: 9,
				Provenance: annotation.Provenance{
					Origin:      annotation.OriginHeuristic,
					Confidence:  &conf,
					NeedsReview: true,
				}}},
		},
		Callees: []string{"internal/pay/charge.go:validate", "internal/pay/gateway.go:Dial"},
	}
	c.Symbols["internal/pay/charge.go:validate"] = &SymbolEntry{
		QualifiedName: "internal/pay/charge.go:validate",
		Name:          "validate",
		Kind:          "function",
		File:          "internal/pay/charge.go",
		StartLine:     50,
		EndLine:       60,
		Callers:       []string{"internal/pay/charge.go:Charge"},
	}
	c.Symbols["internal/pay/gateway.go:Dial"] = &SymbolEntry{
		QualifiedName: "internal/pay/gateway.go:Dial",
		Name:          "Dial",
		Kind:          "function",
		File:          "internal/pay/gateway.go",
		StartLine:     12,
		EndLine:       30,
		Exported:      true,
		Constraint: &constraint.Constraint{
			Level:     constraint.LevelFrozen,
			Directive: "MUST NOT modify this code under any circumstances",
		},
		Callers: []string{"internal/pay/charge.go:Charge"},
	}

	c.ContentHashes["internal/pay/charge.go"] = HashContent([]byte("charge v1"))
	c.ContentHashes["internal/pay/gateway.go"] = HashContent([]byte("gateway v1"))

	c.RecomputeDerived()
	return c
}

func TestRecomputeDerived_Domains(t *testing.T) {
	c := buildTestCache()

	d := c.Domains["payments"]
	if d == nil {
		t.Fatal("domain payments missing")
	}
	if d.Description != "Money movement and ledgers" {
		t.Errorf("Description = %q", d.Description)
	}
	if len(d.Files) != 1 || d.Files[0] != "internal/pay/charge.go" {
		t.Errorf("Files = %v", d.Files)
	}
	if d.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", d.FileCount)
	}
}

func TestRecomputeDerived_DomainFromSymbolAnnotation(t *testing.T) {
	c := buildTestCache()
	c.Symbols["internal/pay/gateway.go:Dial"].Annotations = map[string][]annotation.AnnotationRecord{
		"domain": {{Namespace: "domain", Value: "networking",
			Provenance: annotation.Provenance{Origin: annotation.OriginExplicit}}},
	}
	c.RecomputeDerived()

	d := c.Domains["networking"]
	if d == nil {
		t.Fatal("domain networking missing")
	}
	if len(d.Symbols) != 1 || d.Symbols[0] != "internal/pay/gateway.go:Dial" {
		t.Errorf("Symbols = %v", d.Symbols)
	}
	if d.SymbolCount != 1 {
		t.Errorf("SymbolCount = %d, want 1", d.SymbolCount)
	}
	if len(d.Files) != 0 {
		t.Errorf("Files = %v, want empty", d.Files)
	}
}

func TestRecomputeDerived_ConstraintsIndex(t *testing.T) {
	c := buildTestCache()

	restricted := c.ConstraintsIndex[constraint.LevelRestricted]
	if len(restricted) != 1 || restricted[0] != "internal/pay/charge.go" {
		t.Errorf("restricted bucket = %v", restricted)
	}
	normal := c.ConstraintsIndex[constraint.LevelNormal]
	if len(normal) != 1 || normal[0] != "internal/pay/gateway.go" {
		t.Errorf("normal bucket = %v", normal)
	}
	// Symbol-level constraints never bucket files.
	if got := c.ConstraintsIndex[constraint.LevelFrozen]; len(got) != 0 {
		t.Errorf("frozen bucket = %v, want empty", got)
	}
}

func TestRecomputeDerived_ProvenanceStats(t *testing.T) {
	c := buildTestCache()
	ps := c.ProvenanceStats

	if ps.ByOrigin[annotation.OriginHeuristic] != 1 {
		t.Errorf("heuristic count = %d, want 1", ps.ByOrigin[annotation.OriginHeuristic])
	}
	if ps.ByOrigin[annotation.OriginExplicit] != 4 {
		t.Errorf("explicit count = %d, want 4", ps.ByOrigin[annotation.OriginExplicit])
	}
	if ps.NeedsReview != 1 {
		t.Errorf("NeedsReview = %d, want 1", ps.NeedsReview)
	}
	if ps.Generated != 1 {
		t.Errorf("Generated = %d, want 1", ps.Generated)
	}
	if len(ps.LowConfidence) != 1 {
		t.Fatalf("LowConfidence = %d entries, want 1", len(ps.LowConfidence))
	}
	ref := ps.LowConfidence[0]
	if ref.File != "internal/pay/charge.go" || ref.Namespace != "ref" || ref.Line != 9 {
		t.Errorf("LowConfidence[0] = %+v", ref)
	}
	if ref.Confidence == nil || *ref.Confidence != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", ref.Confidence)
	}
}

func TestRecomputeDerived_Stats(t *testing.T) {
	c := buildTestCache()
	s := c.Stats

	if s.Files != 2 || s.Symbols != 3 || s.Domains != 1 {
		t.Errorf("counts = {files:%d symbols:%d domains:%d}", s.Files, s.Symbols, s.Domains)
	}
	if s.Lines != 200 {
		t.Errorf("Lines = %d, want 200", s.Lines)
	}
	if s.Languages["go"] != 2 {
		t.Errorf("Languages[go] = %d, want 2", s.Languages["go"])
	}
	// One of three symbols has a purpose.
	want := 1.0 / 3.0 * 100.0
	if s.AnnotationCoverage < want-0.01 || s.AnnotationCoverage > want+0.01 {
		t.Errorf("AnnotationCoverage = %v, want ~%v", s.AnnotationCoverage, want)
	}
	if s.Constraints[constraint.LevelRestricted] != 1 || s.Constraints[constraint.LevelNormal] != 1 {
		t.Errorf("Constraints = %v", s.Constraints)
	}
}

func TestSplitQualifiedName(t *testing.T) {
	tests := []struct {
		in, wantPath, wantSymbol string
	}{
		{"internal/pay/charge.go:Charge", "internal/pay/charge.go", "Charge"},
		{"internal/pay/charge.go:Processor.Charge", "internal/pay/charge.go", "Processor.Charge"},
		{"api/server.py:handler@42", "api/server.py", "handler@42"},
		{"Charge", "", "Charge"},
	}
	for _, tt := range tests {
		gotPath, gotSymbol := SplitQualifiedName(tt.in)
		if gotPath != tt.wantPath || gotSymbol != tt.wantSymbol {
			t.Errorf("SplitQualifiedName(%q) = (%q, %q), want (%q, %q)",
				tt.in, gotPath, gotSymbol, tt.wantPath, tt.wantSymbol)
		}
	}
}

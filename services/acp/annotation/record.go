// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package annotation extracts @acp:* directives from source comments.
//
// The lexer is independent of any host-language grammar: it is given the
// language's comment-delimiter set and produces annotation blocks, which it
// then splits into AnnotationRecord values with resolved Provenance. Nothing
// in this package reads the filesystem; callers hand it file text.
package annotation

import (
	"sort"
	"strings"
)

// Sigil marks the start of a directive inside a comment.
const Sigil = "@acp:"

// Mode selects how strictly the lexer treats malformed input.
type Mode string

const (
	// ModePermissive recovers per line: malformed directives become
	// diagnostics and are skipped, missing directive text is synthesized
	// for known namespaces, out-of-range confidence values are clamped.
	ModePermissive Mode = "permissive"

	// ModeStrict fails the containing file's parse on the first malformed
	// directive, missing directive text, unknown namespace, or out-of-range
	// confidence. Failures never extend past the file.
	ModeStrict Mode = "strict"
)

// Origin classifies how an annotation came to exist.
type Origin string

const (
	OriginExplicit  Origin = "explicit"
	OriginConverted Origin = "converted"
	OriginHeuristic Origin = "heuristic"
	OriginRefined   Origin = "refined"
	OriginInferred  Origin = "inferred"
)

// knownOrigins is the closed origin set. Unknown origin strings resolve to
// heuristic with a diagnostic, never silently to explicit.
var knownOrigins = map[Origin]bool{
	OriginExplicit:  true,
	OriginConverted: true,
	OriginHeuristic: true,
	OriginRefined:   true,
	OriginInferred:  true,
}

// DefaultReviewThreshold is the confidence below which non-explicit
// annotations are flagged for review.
const DefaultReviewThreshold = 0.8

// Provenance describes where an annotation came from and whether a human
// has looked at it.
type Provenance struct {
	Origin Origin `json:"origin"`

	// Confidence is optional; nil means the producer did not report one.
	Confidence *float64 `json:"confidence,omitempty"`

	Reviewed     bool   `json:"reviewed,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`

	// CreatedAt is the producer-reported RFC 3339 timestamp, verbatim.
	CreatedAt string `json:"created_at,omitempty"`

	// NeedsReview is resolved at parse time against the review threshold:
	// true iff the origin is not explicit, the confidence is absent or
	// below the threshold, and the annotation is not marked reviewed.
	NeedsReview bool `json:"needs_review,omitempty"`
}

// explicitProvenance is the default applied when a block carries no
// @acp:source* marker.
func explicitProvenance() Provenance {
	return Provenance{Origin: OriginExplicit}
}

// resolveNeedsReview applies the review invariant for the given threshold.
func (p *Provenance) resolveNeedsReview(threshold float64) {
	if p.Origin == OriginExplicit || p.Reviewed {
		p.NeedsReview = false
		return
	}
	p.NeedsReview = p.Confidence == nil || *p.Confidence < threshold
}

// AnnotationRecord is one parsed directive.
//
// Value is the raw text between the namespace and the " - " separator with
// surrounding quotes trimmed; Parameters is the same text split into
// quote-aware tokens. Directive is the actionable instruction, either
// authored (after " - ", plus indented continuations) or synthesized from
// the namespace's conventional default, in which case Generated is true.
type AnnotationRecord struct {
	Namespace    string     `json:"namespace"`
	SubNamespace string     `json:"sub_namespace,omitempty"`
	Parameters   []string   `json:"parameters,omitempty"`
	Value        string     `json:"value,omitempty"`
	Directive    string     `json:"directive,omitempty"`
	Generated    bool       `json:"generated,omitempty"`
	Custom       bool       `json:"custom,omitempty"`
	StartLine    int        `json:"start_line"`
	EndLine      int        `json:"end_line"`
	Provenance   Provenance `json:"provenance"`
}

// Known namespaces of the ACP convention. Anything else is stored with
// Custom set rather than rejected, so inventing a new tag never fails an
// index in permissive mode.
var knownNamespaces = map[string]bool{
	"module":      true,
	"summary":     true,
	"purpose":     true,
	"domain":      true,
	"layer":       true,
	"lock":        true,
	"lock-reason": true,
	"stability":   true,
	"owner":       true,
	"ref":         true,
	"deprecated":  true,
	"ai-hint":     true,
	"hack":        true,
	"todo":        true,
	"fixme":       true,
	"critical":    true,
	"perf":        true,
	"calls":       true,
	"imports":     true,
	"depends":     true,
}

// provenanceNamespaces are the @acp:source* markers. They are metadata for
// the directives that precede them in a block, never records of their own.
var provenanceNamespaces = map[string]bool{
	"source":            true,
	"source-confidence": true,
	"source-reviewed":   true,
	"source-generation": true,
	"source-date":       true,
}

// KnownNamespace reports whether ns is part of the ACP convention,
// including the provenance markers.
func KnownNamespace(ns string) bool {
	return knownNamespaces[ns] || provenanceNamespaces[ns]
}

// IsProvenanceNamespace reports whether ns is an @acp:source* marker.
func IsProvenanceNamespace(ns string) bool {
	return provenanceNamespaces[ns]
}

// KnownNamespaces returns the sorted known directive namespaces, without
// the provenance markers. Useful for docs and validation messages.
func KnownNamespaces() []string {
	out := make([]string, 0, len(knownNamespaces))
	for ns := range knownNamespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// MultiValued reports whether repeated annotations of this namespace at one
// scope accumulate as a list instead of last-write-wins. Single-valued
// namespaces follow the last-wins rule uniformly.
func MultiValued(ns string) bool {
	switch ns {
	case "ref", "domain", "ai-hint", "hack", "todo", "fixme", "critical", "perf", "calls", "imports", "depends":
		return true
	}
	return false
}

// splitQuoted splits s on whitespace, keeping double-quoted runs together
// and stripping their quotes. A dangling quote swallows the remainder.
func splitQuoted(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			if inQuote {
				out = append(out, cur.String())
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		out = append(out, cur.String())
	} else {
		flush()
	}
	return out
}

// unquote trims one pair of surrounding double quotes, if present.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diag

import (
	"errors"
	"fmt"
	"testing"
)

func TestDiagnosticString(t *testing.T) {
	tests := []struct {
		name string
		d    Diagnostic
		want string
	}{
		{
			name: "full span",
			d:    Diagnostic{Kind: KindMalformedAnnotation, Path: "pkg/a.go", StartLine: 3, EndLine: 5, Message: "missing directive text"},
			want: "pkg/a.go:3-5: malformed_annotation: missing directive text",
		},
		{
			name: "single line",
			d:    Diagnostic{Kind: KindDuplicateAnnotation, Path: "pkg/a.go", StartLine: 7, EndLine: 7, Message: "discarded block"},
			want: "pkg/a.go:7: duplicate_annotation: discarded block",
		},
		{
			name: "no location",
			d:    Diagnostic{Kind: KindStaleCache, Message: "cache is stale"},
			want: "stale_cache: cache is stale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not found", &NotFoundError{Entity: "symbol", Name: "Foo"}, "NOT_FOUND"},
		{"ambiguous", &AmbiguousError{Name: "Run", Candidates: []string{"a.go:Run", "b.go:Run"}}, "AMBIGUOUS"},
		{"stale", &StaleCacheError{Paths: []string{"a.go"}}, "STALE_CACHE"},
		{"incompatible", &IncompatibleCacheError{Found: "9.9", Want: "1.0"}, "INCOMPATIBLE_CACHE"},
		{"wrapped", fmt.Errorf("query: %w", &NotFoundError{Entity: "file", Name: "x.go"}), "NOT_FOUND"},
		{"unknown", errors.New("boom"), "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorSuggestions(t *testing.T) {
	err := &NotFoundError{Entity: "symbol", Name: "Pars", Suggestions: []string{"pkg/a.go:Parse"}}
	want := `symbol "Pars" not found (did you mean: pkg/a.go:Parse)`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStaleCacheErrorTruncation(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go", "g.go"}
	err := &StaleCacheError{Paths: paths}
	got := err.Error()
	want := "cache is stale: 7 files changed (first 5: a.go, b.go, c.go, d.go, e.go)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

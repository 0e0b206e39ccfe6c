// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diag defines the structured diagnostics and typed errors shared by
// the ACP parsing, linking, cache, and query layers.
//
// Every parse or link finding is a Diagnostic (kind + location + message),
// never a bare string, so the CLI and HTTP consumers can map outcomes to
// exit codes and response codes deterministically. Conditions a caller must
// stop and handle (stale cache, incompatible cache, not found, ambiguous)
// are typed errors in this package; everything else accumulates alongside a
// best-effort result.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a diagnostic category. The set is closed: downstream
// tooling switches on these values.
type Kind string

const (
	KindMalformedAnnotation Kind = "malformed_annotation"
	KindDuplicateAnnotation Kind = "duplicate_annotation"
	KindIncompatibleCache   Kind = "incompatible_cache"
	KindStaleCache          Kind = "stale_cache"
	KindAmbiguous           Kind = "ambiguous"
	KindNotFound            Kind = "not_found"
)

// Diagnostic is one structured parse/link/query finding.
//
// StartLine and EndLine are 1-indexed and inclusive. Line 0 means the
// finding has no line-level location (for example, a cache-level condition).
type Diagnostic struct {
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Message   string `json:"message"`
}

// String renders the diagnostic in the conventional
// "path:start-end: kind: message" form used by CLI output and logs.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.Path != "" {
		b.WriteString(d.Path)
		if d.StartLine > 0 {
			if d.EndLine > d.StartLine {
				fmt.Fprintf(&b, ":%d-%d", d.StartLine, d.EndLine)
			} else {
				fmt.Fprintf(&b, ":%d", d.StartLine)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(string(d.Kind))
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Malformed builds a MalformedAnnotation diagnostic for the given span.
func Malformed(path string, startLine, endLine int, message string) Diagnostic {
	return Diagnostic{
		Kind:      KindMalformedAnnotation,
		Path:      path,
		StartLine: startLine,
		EndLine:   endLine,
		Message:   message,
	}
}

// Duplicate builds a DuplicateAnnotation diagnostic for a discarded block.
func Duplicate(path string, startLine, endLine int, message string) Diagnostic {
	return Diagnostic{
		Kind:      KindDuplicateAnnotation,
		Path:      path,
		StartLine: startLine,
		EndLine:   endLine,
		Message:   message,
	}
}

// NotFoundError reports a failed symbol, file, or domain lookup.
//
// Suggestions, when present, are near-miss qualified names ordered by match
// quality. They are advisory; callers must not treat them as results.
type NotFoundError struct {
	Entity      string
	Name        string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) > 0 {
		return fmt.Sprintf("%s %q not found (did you mean: %s)", e.Entity, e.Name, strings.Join(e.Suggestions, ", "))
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.Name)
}

// Diagnostic converts the error to its structured form.
func (e *NotFoundError) Diagnostic() Diagnostic {
	return Diagnostic{Kind: KindNotFound, Message: e.Error()}
}

// AmbiguousError reports a simple-name lookup that matched more than one
// symbol. Candidates are the colliding qualified names, sorted.
type AmbiguousError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("symbol %q is ambiguous: %s", e.Name, strings.Join(e.Candidates, ", "))
}

// Diagnostic converts the error to its structured form.
func (e *AmbiguousError) Diagnostic() Diagnostic {
	return Diagnostic{Kind: KindAmbiguous, Message: e.Error()}
}

// StaleCacheError reports that the cache's recorded content hashes no longer
// match the source files on disk. Paths lists the disagreeing files.
type StaleCacheError struct {
	Paths []string
}

func (e *StaleCacheError) Error() string {
	if len(e.Paths) == 0 {
		return "cache is stale"
	}
	const show = 5
	if len(e.Paths) > show {
		return fmt.Sprintf("cache is stale: %d files changed (first %d: %s)",
			len(e.Paths), show, strings.Join(e.Paths[:show], ", "))
	}
	return fmt.Sprintf("cache is stale: %s", strings.Join(e.Paths, ", "))
}

// Diagnostic converts the error to its structured form.
func (e *StaleCacheError) Diagnostic() Diagnostic {
	return Diagnostic{Kind: KindStaleCache, Message: e.Error()}
}

// IncompatibleCacheError reports a cache document whose schema version this
// build cannot load. Loading fails closed; there is no partial decode.
type IncompatibleCacheError struct {
	Found string
	Want  string
}

func (e *IncompatibleCacheError) Error() string {
	return fmt.Sprintf("incompatible cache schema version %q (want %q)", e.Found, e.Want)
}

// Diagnostic converts the error to its structured form.
func (e *IncompatibleCacheError) Diagnostic() Diagnostic {
	return Diagnostic{Kind: KindIncompatibleCache, Message: e.Error()}
}

// ErrorCode maps an error to the stable machine-readable code used by the
// HTTP layer and CLI exit handling. Wrapped errors are unwrapped.
// Unrecognized errors map to "INTERNAL".
func ErrorCode(err error) string {
	var (
		notFound     *NotFoundError
		ambiguous    *AmbiguousError
		stale        *StaleCacheError
		incompatible *IncompatibleCacheError
	)
	switch {
	case errors.As(err, &notFound):
		return "NOT_FOUND"
	case errors.As(err, &ambiguous):
		return "AMBIGUOUS"
	case errors.As(err, &stale):
		return "STALE_CACHE"
	case errors.As(err, &incompatible):
		return "INCOMPATIBLE_CACHE"
	default:
		return "INTERNAL"
	}
}

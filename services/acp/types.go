// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package acp

import (
	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/diag"
)

// QueryRequest is the body of POST /v1/acp/query.
type QueryRequest struct {
	// Operation selects the lookup: "symbol", "file", "domain", "callers",
	// "callees", "search", "stats", or "hotpaths".
	Operation string `json:"operation" binding:"required"`

	// Name is the argument for name-based operations: a qualified or simple
	// symbol name, a project-relative file path, or a domain name.
	Name string `json:"name,omitempty"`

	// Pattern is the search operation's substring.
	Pattern string `json:"pattern,omitempty"`

	// Limit bounds search and hotpaths results. Zero means the operation's
	// default.
	Limit int `json:"limit,omitempty"`

	// BestEffort answers from the published document without checking it
	// against the files on disk.
	BestEffort bool `json:"best_effort,omitempty"`
}

// QueryResponse wraps one operation's result.
type QueryResponse struct {
	Operation string `json:"operation"`
	Result    any    `json:"result"`
}

// CallersResult lists the symbols that call the named symbol.
type CallersResult struct {
	Name    string   `json:"name"`
	Callers []string `json:"callers"`
}

// CalleesResult lists the symbols the named symbol calls.
type CalleesResult struct {
	Name    string   `json:"name"`
	Callees []string `json:"callees"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// UpdateRequest is the body of POST /v1/acp/update.
type UpdateRequest struct {
	// Paths are project-relative paths to reconcile against disk. Deleted
	// paths belong here too; the indexer classifies them.
	Paths []string `json:"paths" binding:"required,min=1"`
}

// IndexResponse reports one build or update run.
type IndexResponse struct {
	Project        string            `json:"project"`
	FilesIndexed   int               `json:"files_indexed"`
	FilesRemoved   int               `json:"files_removed,omitempty"`
	Symbols        int               `json:"symbols"`
	Diagnostics    []diag.Diagnostic `json:"diagnostics,omitempty"`
	FileErrors     []string          `json:"file_errors,omitempty"`
	DurationMillis int64             `json:"duration_millis"`
}

// StatsResponse is the body of GET /v1/acp/stats.
type StatsResponse struct {
	Project   cache.ProjectInfo `json:"project"`
	Stats     cache.Stats       `json:"stats"`
	CacheHash string            `json:"cache_hash,omitempty"`
}

// SaveSnapshotRequest is the body of POST /v1/acp/snapshot. An empty body is
// accepted; every field is optional.
type SaveSnapshotRequest struct {
	Label string `json:"label,omitempty"`
}

// SaveSnapshotResponse reports a saved snapshot.
type SaveSnapshotResponse struct {
	SnapshotID     string `json:"snapshot_id"`
	CacheHash      string `json:"cache_hash"`
	FileCount      int    `json:"file_count"`
	SymbolCount    int    `json:"symbol_count"`
	CompressedSize int64  `json:"compressed_size"`
}

// ListSnapshotsResponse is the body of GET /v1/acp/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*cache.SnapshotMetadata `json:"snapshots"`
}

// LoadSnapshotResponse reports one loaded snapshot. Counts come from the
// reconstructed document, not the stored metadata, so a corrupt payload
// cannot misreport.
type LoadSnapshotResponse struct {
	Metadata    *cache.SnapshotMetadata `json:"metadata"`
	FileCount   int                     `json:"file_count"`
	SymbolCount int                     `json:"symbol_count"`
	CacheHash   string                  `json:"cache_hash"`
}

// SnapshotDiffResponse is the body of GET /v1/acp/snapshot/diff.
type SnapshotDiffResponse struct {
	Diff *cache.SnapshotDiff `json:"diff"`
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// snapshot_dump inspects a project's cache snapshot database.
//
// The snapshot store keeps gzip-compressed cache documents in BadgerDB under
// <project>/.acp/snapshots so past index states survive rebuilds. This tool
// opens the database read-only and prints a human-readable summary: snapshot
// ids, labels, ages, payload sizes and compression ratios, integrity status
// against the recorded content hash, and which snapshot each project's
// latest pointer names.
//
// Usage:
//
//	snapshot_dump [--path /path/to/project]
//
// If --path is not given, reads ACP_PROJECT_DIR from the environment,
// falling back to the current directory.
//
// Exit codes:
//
//	0 — success (including "no snapshots" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/acp/services/acp/cache"
)

// Key prefixes must match snapshot.go exactly.
const (
	snapKeyPrefix      = "acp:snap:"
	snapIndexKeyPrefix = "acp:snap:index:"
	dataKeySuffix      = ":data"
	metaKeySuffix      = ":meta"
	latestKeySuffix    = ":latest"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the project root (overrides ACP_PROJECT_DIR env var)")
	flag.Parse()

	root := *pathFlag
	if root == "" {
		root = os.Getenv("ACP_PROJECT_DIR")
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			fatalf("cannot resolve working directory: %v", err)
		}
		root = wd
	}

	dbPath := cache.SnapshotDBPath(root)
	fmt.Printf("Snapshot database path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Snapshot database does not exist. No snapshots have been saved for this project.")
		fmt.Println("Run 'acp snapshot save' (or 'acp serve --snapshots') to create one.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	// One pass over every key under the snapshot prefix. Meta and data keys
	// for the same snapshot are merged; latest pointers and reverse index
	// entries are collected separately so orphans show up.
	type entry struct {
		projectHash    string
		snapshotID     string
		meta           *cache.SnapshotMetadata
		compressedSize int
		rawSize        int
		payloadHash    string
		decodeErr      error
	}

	entries := make(map[string]*entry)
	latest := make(map[string]string)
	indexed := make(map[string]string)

	get := func(projectHash, snapshotID string) *entry {
		k := projectHash + ":" + snapshotID
		e, ok := entries[k]
		if !ok {
			e = &entry{projectHash: projectHash, snapshotID: snapshotID}
			entries[k] = e
		}
		return e
	}

	err = db.View(func(txn *dgbadger.Txn) error {
		iopts := dgbadger.DefaultIteratorOptions
		iopts.PrefetchValues = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(snapKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			if strings.HasPrefix(key, snapIndexKeyPrefix) {
				snapshotID := strings.TrimPrefix(key, snapIndexKeyPrefix)
				raw, err := item.ValueCopy(nil)
				if err == nil {
					indexed[snapshotID] = string(raw)
				}
				continue
			}

			rest := strings.TrimPrefix(key, snapKeyPrefix)
			switch {
			case strings.HasSuffix(rest, latestKeySuffix):
				projectHash := strings.TrimSuffix(rest, latestKeySuffix)
				raw, err := item.ValueCopy(nil)
				if err == nil {
					latest[projectHash] = string(raw)
				}

			case strings.HasSuffix(rest, metaKeySuffix):
				projectHash, snapshotID, ok := splitSnapKey(strings.TrimSuffix(rest, metaKeySuffix))
				if !ok {
					continue
				}
				e := get(projectHash, snapshotID)
				raw, err := item.ValueCopy(nil)
				if err != nil {
					e.decodeErr = fmt.Errorf("copy metadata: %w", err)
					continue
				}
				var meta cache.SnapshotMetadata
				if err := json.Unmarshal(raw, &meta); err != nil {
					e.decodeErr = fmt.Errorf("decode metadata: %w", err)
					continue
				}
				e.meta = &meta

			case strings.HasSuffix(rest, dataKeySuffix):
				projectHash, snapshotID, ok := splitSnapKey(strings.TrimSuffix(rest, dataKeySuffix))
				if !ok {
					continue
				}
				e := get(projectHash, snapshotID)
				raw, err := item.ValueCopy(nil)
				if err != nil {
					e.decodeErr = fmt.Errorf("copy data: %w", err)
					continue
				}
				e.compressedSize = len(raw)
				e.payloadHash = cache.HashContent(raw)
				e.rawSize, err = gunzipSize(raw)
				if err != nil {
					e.decodeErr = fmt.Errorf("decompress: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo snapshots found.")
		fmt.Println("The database exists but holds no snapshot entries; they may all have been deleted.")
		os.Exit(0)
	}

	// Group by project, newest first within each group.
	byProject := make(map[string][]*entry)
	for _, e := range entries {
		byProject[e.projectHash] = append(byProject[e.projectHash], e)
	}
	projectHashes := make([]string, 0, len(byProject))
	for ph := range byProject {
		projectHashes = append(projectHashes, ph)
	}
	sort.Strings(projectHashes)

	fmt.Printf("\nFound %d snapshot%s across %d project%s:\n",
		len(entries), plural(len(entries), "", "s"),
		len(byProject), plural(len(byProject), "", "s"))

	for _, ph := range projectHashes {
		group := byProject[ph]
		sort.Slice(group, func(i, j int) bool {
			var ci, cj int64
			if group[i].meta != nil {
				ci = group[i].meta.CreatedAtMilli
			}
			if group[j].meta != nil {
				cj = group[j].meta.CreatedAtMilli
			}
			return ci > cj
		})

		fmt.Println(strings.Repeat("─", 80))
		fmt.Printf("\nProject %s", ph)
		if len(group) > 0 && group[0].meta != nil {
			fmt.Printf("  (%s)", group[0].meta.ProjectRoot)
		}
		fmt.Println()

		for i, e := range group {
			fmt.Printf("\n[%d] Snapshot:    %s%s\n", i+1, e.snapshotID, latestMark(latest[ph] == e.snapshotID))

			if e.decodeErr != nil {
				fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			}
			if e.meta == nil {
				fmt.Printf("    Metadata:    MISSING (orphaned data key)\n")
				if e.compressedSize > 0 {
					fmt.Printf("    Compressed:  %s\n", formatBytes(e.compressedSize))
				}
				continue
			}

			m := e.meta
			created := time.UnixMilli(m.CreatedAtMilli)
			fmt.Printf("    Created:     %s (%s ago)\n",
				created.Format("2006-01-02 15:04:05 MST"),
				time.Since(created).Round(time.Second))
			if m.Label != "" {
				fmt.Printf("    Label:       %s\n", m.Label)
			}
			fmt.Printf("    Contents:    %d file%s, %d symbol%s, schema %s\n",
				m.FileCount, plural(m.FileCount, "", "s"),
				m.SymbolCount, plural(m.SymbolCount, "", "s"),
				m.SchemaVersion)
			fmt.Printf("    Cache hash:  %s\n", m.CacheHash)

			switch {
			case e.compressedSize == 0:
				fmt.Printf("    Payload:     MISSING (orphaned metadata key)\n")
			case e.decodeErr != nil:
				fmt.Printf("    Compressed:  %s\n", formatBytes(e.compressedSize))
			default:
				ratio := ""
				if e.rawSize > 0 {
					ratio = fmt.Sprintf(", %.1fx compression", float64(e.rawSize)/float64(e.compressedSize))
				}
				fmt.Printf("    Payload:     %s compressed, %s raw%s\n",
					formatBytes(e.compressedSize), formatBytes(e.rawSize), ratio)
				if m.ContentHash != "" {
					if e.payloadHash == m.ContentHash {
						fmt.Printf("    Integrity:   ok\n")
					} else {
						fmt.Printf("    Integrity:   MISMATCH (stored payload does not match content hash)\n")
					}
				}
			}

			if _, ok := indexed[e.snapshotID]; !ok {
				fmt.Printf("    Reverse idx: MISSING ('acp snapshot show %s' will not resolve)\n", e.snapshotID)
			}
		}
		fmt.Println()
	}

	fmt.Printf("%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d snapshot%s, %d reverse index entr%s, database path: %s\n",
		len(entries), plural(len(entries), "", "s"),
		len(indexed), plural(len(indexed), "y", "ies"),
		dbPath)
}

// splitSnapKey splits "{projectHash}:{snapshotID}" at the first colon.
func splitSnapKey(s string) (projectHash, snapshotID string, ok bool) {
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// gunzipSize decompresses the payload just to measure it.
func gunzipSize(data []byte) (int, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	defer gr.Close()
	n, err := io.Copy(io.Discard, gr)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func latestMark(isLatest bool) string {
	if isLatest {
		return "  (latest)"
	}
	return ""
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "snapshot_dump: "+format+"\n", args...)
	os.Exit(1)
}

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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

const (
	// DirName is the ACP state directory at the project root.
	DirName = ".acp"

	// FileName is the cache document inside DirName.
	FileName = "acp.cache.json"

	// SnapshotDirName is the badger snapshot database inside DirName.
	SnapshotDirName = "snapshots"
)

// DocumentPath returns the cache document location for a project root.
func DocumentPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// SnapshotDBPath returns the snapshot database directory for a project root.
func SnapshotDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, SnapshotDirName)
}

// Save encodes the document and writes it atomically: bytes land in a
// temporary file beside the target, then rename over it. Readers see either
// the previous document or the new one, never a torn write.
func Save(c *CacheRoot, projectRoot string) error {
	path := DocumentPath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := Encode(c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing cache document: %w", err)
	}
	return nil
}

// Load reads and decodes the project's cache document. A missing document
// reports fs.ErrNotExist through errors.Is; an incompatible schema reports
// *diag.IncompatibleCacheError.
func Load(projectRoot string) (*CacheRoot, error) {
	data, err := os.ReadFile(DocumentPath(projectRoot))
	if err != nil {
		return nil, fmt.Errorf("reading cache document: %w", err)
	}
	return Decode(data)
}

// HashContent returns the hex sha256 recorded in ContentHashes for a file's
// bytes.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Stale compares ContentHashes against the files on disk and returns the
// project-relative paths that changed or disappeared, sorted. Files added
// to the project since the build are not part of the staleness contract;
// they enter the cache through the next build or update.
func (c *CacheRoot) Stale(projectRoot string) ([]string, error) {
	var stale []string
	for path, want := range c.ContentHashes {
		data, err := os.ReadFile(filepath.Join(projectRoot, filepath.FromSlash(path)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				stale = append(stale, path)
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if HashContent(data) != want {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

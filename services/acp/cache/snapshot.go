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
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Badger key prefixes for cache snapshots.
const (
	keyPrefixSnap      = "acp:snap:"
	keyPrefixSnapIndex = "acp:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// SnapshotMetadata describes one saved cache snapshot. Wall-clock data lives
// here, never in the cache document itself.
type SnapshotMetadata struct {
	// SnapshotID is a random UUID assigned at save time.
	SnapshotID string `json:"snapshot_id"`

	// ProjectRoot is the absolute path to the indexed project.
	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16] for key grouping.
	ProjectHash string `json:"project_hash"`

	// CacheHash is the document's canonical hash at save time.
	CacheHash string `json:"cache_hash"`

	// Label is an optional human-readable tag.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	FileCount   int `json:"file_count"`
	SymbolCount int `json:"symbol_count"`

	// SchemaVersion is the document schema version at save time.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the gzip payload size in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the compressed payload, checked on load.
	ContentHash string `json:"content_hash"`
}

// SnapshotStore saves and loads cache documents in badger.
//
// Description:
//
//	Each snapshot stores the full encoded cache document, gzip-compressed,
//	plus metadata for listing and filtering. A per-project latest pointer
//	tracks the newest snapshot; a reverse index maps snapshot IDs back to
//	their project.
//
// Thread Safety: safe for concurrent use; badger handles its own
// transaction isolation.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotStore wraps an opened badger instance. The caller owns the DB
// lifecycle.
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// OpenSnapshotDB opens the project's snapshot database.
func OpenSnapshotDB(projectRoot string) (*badger.DB, error) {
	opts := badger.DefaultOptions(SnapshotDBPath(projectRoot)).
		WithLogger(nil) // suppress BadgerDB internal logs
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db: %w", err)
	}
	return db, nil
}

// Save persists the document as a new snapshot and moves the project's
// latest pointer to it.
//
// Key Schema:
//
//	acp:snap:{projectHash}:{snapshotID}:data → gzip(Encode(CacheRoot))
//	acp:snap:{projectHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	acp:snap:{projectHash}:latest            → snapshotID
//	acp:snap:index:{snapshotID}              → projectHash
func (s *SnapshotStore) Save(ctx context.Context, c *CacheRoot, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("cache must not be nil")
	}

	doc, err := Encode(c)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(doc); err != nil {
		return nil, fmt.Errorf("compressing cache document: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	cacheHash, err := Hash(c)
	if err != nil {
		return nil, err
	}

	projectHash := ProjectHash(c.Project.Root)
	snapshotID := uuid.NewString()

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectRoot:    c.Project.Root,
		ProjectHash:    projectHash,
		CacheHash:      cacheHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		FileCount:      len(c.Files),
		SymbolCount:    len(c.Symbols),
		SchemaVersion:  SchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    HashContent(compressedData),
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot metadata: %w", err)
	}

	dataKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(projectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	s.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_root", c.Project.Root),
		slog.Int("file_count", meta.FileCount),
		slog.Int("symbol_count", meta.SymbolCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves a snapshot by ID. The stored payload's content hash is
// verified before decompression, and Decode enforces the schema version.
func (s *SnapshotStore) Load(ctx context.Context, snapshotID string) (*CacheRoot, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := s.getProjectHash(snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	return s.loadByKeys(projectHash, snapshotID)
}

// LoadLatest loads the newest snapshot for a project hash.
func (s *SnapshotStore) LoadLatest(ctx context.Context, projectHash string) (*CacheRoot, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if projectHash == "" {
		return nil, nil, fmt.Errorf("project hash must not be empty")
	}

	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	var snapshotID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectHash, err)
	}

	return s.loadByKeys(projectHash, snapshotID)
}

// List returns snapshot metadata, newest first. An empty projectHash lists
// every project; limit <= 0 defaults to 100. Corrupt metadata entries are
// skipped with a warning rather than failing the listing.
func (s *SnapshotStore) List(ctx context.Context, projectHash string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if projectHash != "" {
		prefix = keyPrefixSnap + projectHash + ":"
	}

	var results []*SnapshotMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}

			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt snapshot metadata",
					slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot's data, metadata, and reverse index entry. When
// the deleted snapshot was the project's latest, the latest pointer goes
// with it.
func (s *SnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := s.getProjectHash(snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	dataKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete([]byte(metaKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		if err := txn.Delete([]byte(indexKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting reverse index: %w", err)
		}

		item, err := txn.Get([]byte(latestKey))
		if err == nil {
			var currentLatest string
			_ = item.Value(func(val []byte) error {
				currentLatest = string(val)
				return nil
			})
			if currentLatest == snapshotID {
				if err := txn.Delete([]byte(latestKey)); err != nil && err != badger.ErrKeyNotFound {
					return fmt.Errorf("deleting latest pointer: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	s.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

func (s *SnapshotStore) loadByKeys(projectHash, snapshotID string) (*CacheRoot, *SnapshotMetadata, error) {
	dataKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta

	var compressedData, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, err)
		}
		compressedData, err = dataItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}

		metaItem, err := txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, err)
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != HashContent(compressedData) {
		return nil, nil, fmt.Errorf("integrity check failed for %s: stored payload does not match content hash %s", snapshotID, meta.ContentHash)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()

	doc, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed snapshot %s: %w", snapshotID, err)
	}

	c, err := Decode(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot %s: %w", snapshotID, err)
	}
	return c, &meta, nil
}

func (s *SnapshotStore) getProjectHash(snapshotID string) (string, error) {
	indexKey := keyPrefixSnapIndex + snapshotID
	var projectHash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			projectHash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return projectHash, nil
}

// ProjectHash returns SHA256(projectRoot)[:16], the key prefix grouping all
// of a project's snapshots. Exported so command and server layers can turn
// a project root into the stored hash.
func ProjectHash(projectRoot string) string {
	return HashContent([]byte(projectRoot))[:16]
}

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package acp publishes one project's annotation index over HTTP: build and
// update endpoints, the query surface, snapshot management, and a websocket
// event stream for watchers.
package acp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/config"
	"github.com/AleutianAI/acp/services/acp/index"
	"github.com/AleutianAI/acp/services/acp/indexer"
	"github.com/AleutianAI/acp/services/acp/query"
)

// ErrNotInitialized is returned by operations that need a published index
// before one has been built or loaded.
var ErrNotInitialized = errors.New("no index loaded for project; run init first")

// published is one immutable generation of index state. A new generation
// replaces the pointer wholesale; readers holding the old one keep a
// consistent view.
type published struct {
	doc *cache.CacheRoot
	idx *index.Index
}

// Service owns the index lifecycle for a single project root: building,
// incremental updates, publication to readers, snapshots, and the event
// stream.
//
// Thread Safety: safe for concurrent use. Writes (Init, Update, Reload) are
// serialized on an internal mutex; reads go through an atomic pointer and
// never block writers.
type Service struct {
	root   string
	cfg    *config.Config
	ix     *indexer.Indexer
	logger *slog.Logger
	hub    *Hub

	// mu serializes index writes so incremental updates always chain from
	// the latest published generation.
	mu      sync.Mutex
	current atomic.Pointer[published]

	snapMu    sync.Mutex
	snapDB    *badger.DB
	snapshots *cache.SnapshotStore
}

// ServiceOption is a functional option for configuring a Service.
type ServiceOption func(*Service)

// WithServiceConfig supplies a resolved configuration instead of loading
// acp.config.yaml from the project root.
func WithServiceConfig(cfg *config.Config) ServiceOption {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithServiceLogger sets the logger. Nil keeps slog.Default().
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service for the project at root.
//
// Description:
//
//	Resolves root to an absolute path and loads acp.config.yaml unless a
//	configuration was supplied. No index is built or loaded; callers follow
//	up with Init, Update, or Reload depending on whether a cache document
//	already exists.
//
// Inputs:
//   - root: project root directory.
//   - opts: functional options.
//
// Outputs:
//   - *Service: ready to build or load an index.
//   - error: unresolvable root or malformed configuration.
func NewService(root string, opts ...ServiceOption) (*Service, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	s := &Service{
		root:   absRoot,
		logger: slog.Default(),
		hub:    NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg == nil {
		cfg, err := config.Load(absRoot)
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	}

	s.ix = indexer.New(indexer.WithConfig(s.cfg), indexer.WithLogger(s.logger))
	return s, nil
}

// Root returns the absolute project root.
func (s *Service) Root() string { return s.root }

// Config returns the resolved configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Events returns the hub that index events are broadcast on.
func (s *Service) Events() *Hub { return s.hub }

// Ready reports whether an index generation has been published.
func (s *Service) Ready() bool { return s.current.Load() != nil }

// Document returns the published cache document, or nil before the first
// Init, Update, or Reload.
func (s *Service) Document() *cache.CacheRoot {
	p := s.current.Load()
	if p == nil {
		return nil
	}
	return p.doc
}

// Engine returns a query engine over the published generation. The engine
// reuses the published lookup index, so construction is cheap enough to do
// per request.
func (s *Service) Engine(bestEffort bool) (*query.Engine, error) {
	p := s.current.Load()
	if p == nil {
		return nil, ErrNotInitialized
	}
	return query.NewEngine(p.doc, p.idx,
		query.WithBestEffort(bestEffort),
		query.WithProjectRoot(s.root),
		query.WithQueryLogger(s.logger),
	), nil
}

// Reload publishes the cache document already saved under the project root
// without re-scanning any sources.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := cache.Load(s.root)
	if err != nil {
		return err
	}
	s.publish(doc)
	s.logger.Info("cache document loaded",
		"project", doc.Project.Name,
		"files", doc.Stats.Files,
		"symbols", doc.Stats.Symbols)
	return nil
}

// Init builds the index from scratch, saves it, and publishes it.
//
// Outputs:
//   - *indexer.Result: build summary, non-nil when the build succeeded even
//     if the subsequent save failed.
//   - error: build or save failure.
func (s *Service) Init(ctx context.Context) (*indexer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.ix.Build(ctx, s.root)
	if err != nil {
		return nil, err
	}
	if err := s.persist(res.Cache); err != nil {
		return res, err
	}
	s.publish(res.Cache)
	s.hub.Broadcast(s.event(EventIndexBuilt, res, nil))
	return res, nil
}

// Update reconciles the given project-relative paths against disk, chains
// the result onto the latest generation, saves, and publishes.
//
// Edge cases: when nothing has been published yet, Update falls back to the
// document on disk so a restarted server can apply watcher batches without
// a full rebuild. With neither, it returns ErrNotInitialized.
func (s *Service) Update(ctx context.Context, paths []string) (*indexer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Document()
	if prev == nil {
		doc, err := cache.Load(s.root)
		if err != nil {
			return nil, fmt.Errorf("%w (load: %v)", ErrNotInitialized, err)
		}
		prev = doc
	}

	res, err := s.ix.Update(ctx, s.root, prev, paths)
	if err != nil {
		return nil, err
	}
	if err := s.persist(res.Cache); err != nil {
		return res, err
	}
	s.publish(res.Cache)
	s.hub.Broadcast(s.event(EventIndexUpdated, res, paths))
	return res, nil
}

// ApplyBatch adapts Update to the watcher's callback signature.
func (s *Service) ApplyBatch(ctx context.Context, paths []string) error {
	_, err := s.Update(ctx, paths)
	return err
}

// EnableSnapshots opens the project's snapshot database. Idempotent; the
// first call wins.
func (s *Service) EnableSnapshots() error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if s.snapshots != nil {
		return nil
	}
	db, err := cache.OpenSnapshotDB(s.root)
	if err != nil {
		return fmt.Errorf("opening snapshot database: %w", err)
	}
	store, err := cache.NewSnapshotStore(db, s.logger)
	if err != nil {
		db.Close()
		return err
	}
	s.snapDB = db
	s.snapshots = store
	return nil
}

// Snapshots returns the snapshot store, or nil when EnableSnapshots has not
// been called.
func (s *Service) Snapshots() *cache.SnapshotStore {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snapshots
}

// Close releases the snapshot database if one is open.
func (s *Service) Close() error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if s.snapDB == nil {
		return nil
	}
	err := s.snapDB.Close()
	s.snapDB = nil
	s.snapshots = nil
	return err
}

// persist saves the document and stamps its canonical hash, so the published
// generation reports the same cache_hash a reload from disk would.
func (s *Service) persist(doc *cache.CacheRoot) error {
	if err := cache.Save(doc, s.root); err != nil {
		return fmt.Errorf("saving cache document: %w", err)
	}
	if h, err := cache.Hash(doc); err == nil {
		doc.CacheHash = h
	}
	return nil
}

func (s *Service) publish(doc *cache.CacheRoot) {
	s.current.Store(&published{doc: doc, idx: index.Build(doc)})
}

func (s *Service) event(typ string, res *indexer.Result, paths []string) Event {
	return Event{
		Type:         typ,
		Project:      res.Cache.Project.Name,
		Paths:        paths,
		FilesIndexed: res.FilesIndexed,
		FilesRemoved: res.FilesRemoved,
		Symbols:      len(res.Cache.Symbols),
		AtMilli:      time.Now().UnixMilli(),
	}
}

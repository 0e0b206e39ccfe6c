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
	"errors"
	"fmt"
	"net/http"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/acp/services/acp/cache"
)

// defaultSnapshotListLimit bounds GET /v1/acp/snapshots when no limit is
// given.
const defaultSnapshotListLimit = 100

// resolveSnapshotStore returns the snapshot store or writes a 503 when
// snapshot storage is not enabled on this server.
func (h *Handlers) resolveSnapshotStore(c *gin.Context) (*cache.SnapshotStore, error) {
	store := h.svc.Snapshots()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot storage is not enabled",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return nil, fmt.Errorf("snapshot store not enabled")
	}
	return store, nil
}

// HandleSaveSnapshot serves POST /v1/acp/snapshot: persist the published
// document to the snapshot store. The body is optional; it may carry a
// label for later identification.
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleSaveSnapshot")

	store, err := h.resolveSnapshotStore(c)
	if err != nil {
		return
	}

	doc := h.svc.Document()
	if doc == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrNotInitialized.Error(),
			Code:  "NOT_INITIALIZED",
		})
		return
	}

	var req SaveSnapshotRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "invalid request: " + err.Error(),
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	meta, err := store.Save(c.Request.Context(), doc, req.Label)
	if err != nil {
		logger.Error("snapshot save failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_FAILED",
		})
		return
	}

	logger.Info("snapshot saved",
		"snapshot_id", meta.SnapshotID,
		"label", meta.Label,
		"files", meta.FileCount)
	c.JSON(http.StatusOK, SaveSnapshotResponse{
		SnapshotID:     meta.SnapshotID,
		CacheHash:      meta.CacheHash,
		FileCount:      meta.FileCount,
		SymbolCount:    meta.SymbolCount,
		CompressedSize: meta.CompressedSize,
	})
}

// HandleListSnapshots serves GET /v1/acp/snapshots?limit=N, newest first,
// scoped to this server's project.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	store, err := h.resolveSnapshotStore(c)
	if err != nil {
		return
	}

	limit := defaultSnapshotListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("invalid limit %q", raw),
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	metas, err := store.List(c.Request.Context(), cache.ProjectHash(h.svc.Root()), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: metas})
}

// HandleLoadSnapshot serves GET /v1/acp/snapshot/:id. The document is
// reconstructed and verified; counts in the response come from the decoded
// document rather than the stored metadata.
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	store, err := h.resolveSnapshotStore(c)
	if err != nil {
		return
	}

	snapshotID := c.Param("id")
	doc, meta, err := store.Load(c.Request.Context(), snapshotID)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: fmt.Sprintf("snapshot %s not found", snapshotID),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, LoadSnapshotResponse{
		Metadata:    meta,
		FileCount:   len(doc.Files),
		SymbolCount: len(doc.Symbols),
		CacheHash:   doc.CacheHash,
	})
}

// HandleDeleteSnapshot serves DELETE /v1/acp/snapshot/:id. Deleting an
// unknown ID succeeds; the endpoint is idempotent.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	store, err := h.resolveSnapshotStore(c)
	if err != nil {
		return
	}

	snapshotID := c.Param("id")
	if err := store.Delete(c.Request.Context(), snapshotID); err != nil {
		logger.Error("snapshot delete failed", "snapshot_id", snapshotID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_FAILED",
		})
		return
	}

	logger.Info("snapshot deleted", "snapshot_id", snapshotID)
	c.JSON(http.StatusOK, gin.H{"snapshot_id": snapshotID, "deleted": true})
}

// HandleDiffSnapshots serves GET /v1/acp/snapshot/diff?base=ID&target=ID,
// summarizing file, symbol, and domain drift between two snapshots.
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	store, err := h.resolveSnapshotStore(c)
	if err != nil {
		return
	}

	baseID := c.Query("base")
	targetID := c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "base and target snapshot IDs are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	ctx := c.Request.Context()
	baseDoc, _, err := store.Load(ctx, baseID)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: fmt.Sprintf("snapshot %s not found", baseID),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_FAILED"})
		return
	}
	targetDoc, _, err := store.Load(ctx, targetID)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: fmt.Sprintf("snapshot %s not found", targetID),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_FAILED"})
		return
	}

	diff, err := cache.DiffSnapshots(baseDoc, targetDoc, baseID, targetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SNAPSHOT_FAILED"})
		return
	}
	c.JSON(http.StatusOK, SnapshotDiffResponse{Diff: diff})
}

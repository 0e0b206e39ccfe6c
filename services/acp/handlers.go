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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/indexer"
)

// queryDuration records query latency by operation and outcome. The global
// meter delegates to the real provider once SetupTelemetry installs one.
var queryDuration = newQueryDuration()

func newQueryDuration() metric.Float64Histogram {
	hist, err := otel.Meter("acp.server").Float64Histogram(
		"acp_query_duration_seconds",
		metric.WithDescription("Latency of query operations by operation and status."),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
		hist, _ = noop.NewMeterProvider().Meter("acp.server").Float64Histogram("acp_query_duration_seconds")
	}
	return hist
}

// Handlers serves the /v1/acp endpoint set.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set around a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the request ID from the X-Request-ID header,
// generating a new one if absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return requestID
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// statusForCode maps diagnostic error codes onto HTTP statuses. Staleness is
// a precondition failure so callers can tell "re-index and retry" apart from
// a genuine miss.
func statusForCode(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "AMBIGUOUS":
		return http.StatusConflict
	case "STALE_CACHE":
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an ErrorResponse and returns the code it chose.
func writeError(c *gin.Context, err error) string {
	var bad *badRequestError
	if errors.As(err, &bad) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: bad.msg, Code: "INVALID_REQUEST"})
		return "INVALID_REQUEST"
	}
	if errors.Is(err, ErrNotInitialized) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_INITIALIZED"})
		return "NOT_INITIALIZED"
	}
	code := diag.ErrorCode(err)
	c.JSON(statusForCode(code), ErrorResponse{Error: err.Error(), Code: code})
	return code
}

// HandleQuery serves POST /v1/acp/query.
//
// Description:
//
//	Dispatches one operation against the published index generation. The
//	request names the operation plus its argument: name for symbol, file,
//	domain, callers, and callees; pattern for search; limit for search and
//	hotpaths. best_effort answers from the published document without
//	checking it against disk.
//
// Outputs: 200 with QueryResponse; 400 on malformed requests; 404, 409, 412
// per the operation's diagnostic; 500 otherwise.
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	start := time.Now()
	result, err := h.dispatch(c, &req)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = writeError(c, err)
		logger.Warn("query failed",
			"operation", req.Operation,
			"code", status,
			"error", err)
	} else {
		c.JSON(http.StatusOK, QueryResponse{Operation: req.Operation, Result: result})
		logger.Debug("query served", "operation", req.Operation, "duration", elapsed)
	}

	queryDuration.Record(c.Request.Context(), elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", req.Operation),
			attribute.String("status", status),
		))
}

func (h *Handlers) dispatch(c *gin.Context, req *QueryRequest) (any, error) {
	engine, err := h.svc.Engine(req.BestEffort)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()

	switch req.Operation {
	case "symbol":
		if req.Name == "" {
			return nil, badRequestf("operation %q requires a name", req.Operation)
		}
		return engine.Symbol(ctx, req.Name)
	case "file":
		if req.Name == "" {
			return nil, badRequestf("operation %q requires a project-relative path in name", req.Operation)
		}
		return engine.File(ctx, req.Name)
	case "domain":
		if req.Name == "" {
			return nil, badRequestf("operation %q requires a name", req.Operation)
		}
		return engine.Domain(ctx, req.Name)
	case "callers":
		if req.Name == "" {
			return nil, badRequestf("operation %q requires a name", req.Operation)
		}
		callers, err := engine.Callers(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		return &CallersResult{Name: req.Name, Callers: callers}, nil
	case "callees":
		if req.Name == "" {
			return nil, badRequestf("operation %q requires a name", req.Operation)
		}
		callees, err := engine.Callees(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		return &CalleesResult{Name: req.Name, Callees: callees}, nil
	case "search":
		if req.Pattern == "" {
			return nil, badRequestf("operation %q requires a pattern", req.Operation)
		}
		return engine.Search(ctx, req.Pattern, req.Limit)
	case "stats":
		return engine.Stats(ctx)
	case "hotpaths":
		return engine.Hotpaths(ctx, req.Limit)
	default:
		return nil, badRequestf("unknown operation %q (valid: symbol, file, domain, callers, callees, search, stats, hotpaths)", req.Operation)
	}
}

// HandleInit serves POST /v1/acp/init: a full rebuild of the project index.
// The response carries the diagnostics and skipped files from the run so
// strict-mode findings reach the caller.
func (h *Handlers) HandleInit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleInit")

	start := time.Now()
	res, err := h.svc.Init(c.Request.Context())
	if err != nil {
		logger.Error("index build failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INDEX_FAILED",
		})
		return
	}

	logger.Info("index built",
		"files", res.FilesIndexed,
		"symbols", len(res.Cache.Symbols),
		"diagnostics", len(res.Diagnostics),
		"duration", time.Since(start))
	c.JSON(http.StatusOK, newIndexResponse(res, start))
}

// HandleUpdate serves POST /v1/acp/update: incremental re-indexing of the
// listed project-relative paths.
func (h *Handlers) HandleUpdate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With("request_id", requestID, "handler", "HandleUpdate")

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	start := time.Now()
	res, err := h.svc.Update(c.Request.Context(), req.Paths)
	if err != nil {
		if errors.Is(err, ErrNotInitialized) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_INITIALIZED"})
			return
		}
		logger.Error("incremental update failed", "paths", len(req.Paths), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "UPDATE_FAILED",
		})
		return
	}

	logger.Info("index updated",
		"paths", len(req.Paths),
		"files_indexed", res.FilesIndexed,
		"files_removed", res.FilesRemoved,
		"duration", time.Since(start))
	c.JSON(http.StatusOK, newIndexResponse(res, start))
}

func newIndexResponse(res *indexer.Result, start time.Time) IndexResponse {
	fileErrors := make([]string, 0, len(res.FileErrors))
	for i := range res.FileErrors {
		fileErrors = append(fileErrors, res.FileErrors[i].Error())
	}
	return IndexResponse{
		Project:        res.Cache.Project.Name,
		FilesIndexed:   res.FilesIndexed,
		FilesRemoved:   res.FilesRemoved,
		Symbols:        len(res.Cache.Symbols),
		Diagnostics:    res.Diagnostics,
		FileErrors:     fileErrors,
		DurationMillis: time.Since(start).Milliseconds(),
	}
}

// HandleStats serves GET /v1/acp/stats from the published document without
// touching disk.
func (h *Handlers) HandleStats(c *gin.Context) {
	doc := h.svc.Document()
	if doc == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrNotInitialized.Error(),
			Code:  "NOT_INITIALIZED",
		})
		return
	}
	c.JSON(http.StatusOK, StatsResponse{
		Project:   doc.Project,
		Stats:     doc.Stats,
		CacheHash: doc.CacheHash,
	})
}

// HandleHealth serves GET /v1/acp/health. Liveness only; readiness is the
// /ready endpoint's job.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady serves GET /v1/acp/ready: 200 once an index generation is
// published, 503 while still initializing.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.svc.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	doc := h.svc.Document()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"project": doc.Project.Name,
	})
}

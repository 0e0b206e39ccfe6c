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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

// shopTree is the smallest project that exercises symbol, domain, and call
// lookups end to end.
func shopTree() map[string]string {
	return map[string]string{
		"go.mod": "module example.com/shop\n",
		"main.go": `// @acp:module app - Application entry point
package main

import "example.com/shop/billing"

// @acp:purpose - Wires the invoice pipeline together
func main() {
	billing.Charge()
}
`,
		"billing/charge.go": `// @acp:module billing - Payment capture
// @acp:domain payments - Payment processing core
package billing

// @acp:purpose - Captures one charge
func Charge() {}
`,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	root := writeTree(t, shopTree())
	svc, err := NewService(root,
		WithServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func initTestService(t *testing.T) *Service {
	t.Helper()
	svc := newTestService(t)
	if _, err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return svc
}

func newTestRouter(svc *Service) *gin.Engine {
	r := gin.New()
	v1 := r.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandleInit_BuildsAndPublishes(t *testing.T) {
	svc := newTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/init", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	resp := decodeBody[IndexResponse](t, w)
	if resp.Project != "shop" {
		t.Errorf("project = %q, want shop", resp.Project)
	}
	if resp.FilesIndexed != 2 {
		t.Errorf("files_indexed = %d, want 2", resp.FilesIndexed)
	}
	if resp.Symbols == 0 {
		t.Error("symbols = 0, want > 0")
	}
	if !svc.Ready() {
		t.Error("service not ready after init")
	}
}

func TestHandleQuery_SymbolBySimpleName(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "symbol", Name: "Charge"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	type symbolResponse struct {
		Operation string `json:"operation"`
		Result    struct {
			Symbol struct {
				QualifiedName string `json:"qualified_name"`
				Name          string `json:"name"`
			} `json:"symbol"`
		} `json:"result"`
	}
	resp := decodeBody[symbolResponse](t, w)
	if resp.Operation != "symbol" {
		t.Errorf("operation = %q", resp.Operation)
	}
	if resp.Result.Symbol.QualifiedName != "billing/charge.go:Charge" {
		t.Errorf("qualified_name = %q", resp.Result.Symbol.QualifiedName)
	}
}

func TestHandleQuery_NotFoundMapsTo404(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "symbol", Name: "NoSuchSymbol"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", resp.Code)
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	cases := []struct {
		name string
		req  QueryRequest
	}{
		{"missing operation", QueryRequest{Name: "Charge"}},
		{"unknown operation", QueryRequest{Operation: "teleport", Name: "Charge"}},
		{"symbol without name", QueryRequest{Operation: "symbol"}},
		{"search without pattern", QueryRequest{Operation: "search"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/v1/acp/query", tc.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body %s", w.Code, w.Body.String())
			}
			resp := decodeBody[ErrorResponse](t, w)
			if resp.Code != "INVALID_REQUEST" {
				t.Errorf("code = %q, want INVALID_REQUEST", resp.Code)
			}
		})
	}
}

func TestHandleQuery_BeforeInitMapsTo404(t *testing.T) {
	svc := newTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "stats"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "NOT_INITIALIZED" {
		t.Errorf("code = %q, want NOT_INITIALIZED", resp.Code)
	}
}

func TestHandleQuery_StaleCacheMapsTo412(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	changed := filepath.Join(svc.Root(), "billing", "charge.go")
	if err := os.WriteFile(changed, []byte("package billing\n\nfunc Charge() {}\n\nfunc Refund() {}\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "symbol", Name: "Charge"})
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "STALE_CACHE" {
		t.Errorf("code = %q, want STALE_CACHE", resp.Code)
	}

	// best_effort answers from the published generation regardless.
	w = doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "symbol", Name: "Charge", BestEffort: true})
	if w.Code != http.StatusOK {
		t.Errorf("best_effort status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHandleQuery_SearchAndHotpaths(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "search", Pattern: "charge", Limit: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body %s", w.Code, w.Body.String())
	}
	type searchResponse struct {
		Result struct {
			Matches []struct {
				Kind string `json:"kind"`
				Name string `json:"name"`
			} `json:"matches"`
			Total int `json:"total"`
		} `json:"result"`
	}
	search := decodeBody[searchResponse](t, w)
	if search.Result.Total == 0 {
		t.Errorf("search total = 0, body %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "hotpaths"})
	if w.Code != http.StatusOK {
		t.Errorf("hotpaths status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHandleQuery_Callers(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "callers", Name: "Charge"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	type callersResponse struct {
		Result CallersResult `json:"result"`
	}
	resp := decodeBody[callersResponse](t, w)
	found := false
	for _, caller := range resp.Result.Callers {
		if caller == "main.go:main" {
			found = true
		}
	}
	if !found {
		t.Errorf("callers = %v, want main.go:main", resp.Result.Callers)
	}
}

func TestHandleUpdate_ReindexesChangedPaths(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	changed := filepath.Join(svc.Root(), "billing", "charge.go")
	content := `// @acp:module billing - Payment capture
// @acp:domain payments - Payment processing core
package billing

// @acp:purpose - Captures one charge
func Charge() {}

// @acp:purpose - Reverses one charge
func Refund() {}
`
	if err := os.WriteFile(changed, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/v1/acp/update",
		UpdateRequest{Paths: []string{"billing/charge.go"}})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[IndexResponse](t, w)
	if resp.FilesIndexed == 0 {
		t.Errorf("files_indexed = 0, body %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/acp/query",
		QueryRequest{Operation: "symbol", Name: "Refund"})
	if w.Code != http.StatusOK {
		t.Errorf("query after update status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHandleUpdate_EmptyPathsRejected(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/update", UpdateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHandleStats_ServesPublishedCounts(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodGet, "/v1/acp/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[StatsResponse](t, w)
	if resp.Stats.Files != 2 {
		t.Errorf("files = %d, want 2", resp.Stats.Files)
	}
	if resp.Project.Name != "shop" {
		t.Errorf("project = %q, want shop", resp.Project.Name)
	}
	if resp.CacheHash == "" {
		t.Error("cache_hash empty")
	}
}

func TestHandleReady_ReflectsLifecycle(t *testing.T) {
	svc := newTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodGet, "/v1/acp/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("before init status = %d", w.Code)
	}

	if _, err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/acp/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("after init status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestSnapshotEndpoints_NotEnabled503(t *testing.T) {
	svc := initTestService(t)
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/snapshot", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Code != "SNAPSHOTS_NOT_AVAILABLE" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestSnapshotEndpoints_RoundTrip(t *testing.T) {
	svc := initTestService(t)
	if err := svc.EnableSnapshots(); err != nil {
		t.Fatalf("EnableSnapshots: %v", err)
	}
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/snapshot",
		SaveSnapshotRequest{Label: "before-refactor"})
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", w.Code, w.Body.String())
	}
	saved := decodeBody[SaveSnapshotResponse](t, w)
	if saved.SnapshotID == "" {
		t.Fatal("snapshot_id empty")
	}
	if saved.FileCount != 2 {
		t.Errorf("file_count = %d, want 2", saved.FileCount)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/acp/snapshots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", w.Code, w.Body.String())
	}
	list := decodeBody[ListSnapshotsResponse](t, w)
	if len(list.Snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(list.Snapshots))
	}
	if list.Snapshots[0].Label != "before-refactor" {
		t.Errorf("label = %q", list.Snapshots[0].Label)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/acp/snapshot/"+saved.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d, body %s", w.Code, w.Body.String())
	}
	loaded := decodeBody[LoadSnapshotResponse](t, w)
	if loaded.FileCount != 2 {
		t.Errorf("loaded file_count = %d, want 2", loaded.FileCount)
	}
	if loaded.CacheHash != saved.CacheHash {
		t.Errorf("cache_hash mismatch: %q vs %q", loaded.CacheHash, saved.CacheHash)
	}

	w = doJSON(t, r, http.MethodDelete, "/v1/acp/snapshot/"+saved.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/acp/snapshot/"+saved.SnapshotID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("load after delete status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHandleDiffSnapshots_ReportsDrift(t *testing.T) {
	svc := initTestService(t)
	if err := svc.EnableSnapshots(); err != nil {
		t.Fatalf("EnableSnapshots: %v", err)
	}
	r := newTestRouter(svc)

	w := doJSON(t, r, http.MethodPost, "/v1/acp/snapshot",
		SaveSnapshotRequest{Label: "base"})
	if w.Code != http.StatusOK {
		t.Fatalf("save base: %d %s", w.Code, w.Body.String())
	}
	base := decodeBody[SaveSnapshotResponse](t, w)

	changed := filepath.Join(svc.Root(), "billing", "charge.go")
	content := `// @acp:module billing - Payment capture
// @acp:domain payments - Payment processing core
package billing

// @acp:purpose - Captures one charge
func Charge() {}

// @acp:purpose - Reverses one charge
func Refund() {}
`
	if err := os.WriteFile(changed, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := svc.Update(context.Background(), []string{"billing/charge.go"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/acp/snapshot",
		SaveSnapshotRequest{Label: "target"})
	if w.Code != http.StatusOK {
		t.Fatalf("save target: %d %s", w.Code, w.Body.String())
	}
	target := decodeBody[SaveSnapshotResponse](t, w)

	w = doJSON(t, r, http.MethodGet,
		"/v1/acp/snapshot/diff?base="+base.SnapshotID+"&target="+target.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("diff status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/v1/acp/snapshot/diff?base="+base.SnapshotID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("diff without target status = %d", w.Code)
	}
}

func TestStatusForCode(t *testing.T) {
	cases := map[string]int{
		"NOT_FOUND":          http.StatusNotFound,
		"AMBIGUOUS":          http.StatusConflict,
		"STALE_CACHE":        http.StatusPreconditionFailed,
		"INCOMPATIBLE_CACHE": http.StatusInternalServerError,
		"INTERNAL":           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusForCode(code); got != want {
			t.Errorf("statusForCode(%s) = %d, want %d", code, got, want)
		}
	}
}

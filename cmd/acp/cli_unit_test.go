// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/config"
	"github.com/AleutianAI/acp/services/acp/constraint"
	"github.com/AleutianAI/acp/services/acp/query"
)

// runCLI executes the command tree in-process, capturing everything the
// command printed to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	execErr := root.Execute()

	os.Stdout = orig
	w.Close()
	data, readErr := io.ReadAll(r)
	r.Close()
	if readErr != nil {
		t.Fatal(readErr)
	}
	return string(data), execErr
}

func decodeOutput[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decoding output %q: %v", raw, err)
	}
	return v
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

func indexedShop(t *testing.T) string {
	t.Helper()
	root := writeTree(t, shopTree())
	if _, err := runCLI(t, "index", "-C", root); err != nil {
		t.Fatalf("index: %v", err)
	}
	return root
}

func TestInit_WritesStarterConfig(t *testing.T) {
	root := t.TempDir()

	out, err := runCLI(t, "init", "-C", root)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, config.FileName) {
		t.Errorf("output %q does not name the config file", out)
	}
	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("written template does not load: %v", err)
	}
	if cfg.Mode != "permissive" || cfg.Server.Addr != ":8750" {
		t.Errorf("template defaults wrong: mode=%q addr=%q", cfg.Mode, cfg.Server.Addr)
	}

	if _, err := runCLI(t, "init", "-C", root); err == nil {
		t.Fatal("second init did not refuse to overwrite")
	}
	if _, err := runCLI(t, "init", "-C", root, "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

func TestIndex_BuildsAndReportsJSON(t *testing.T) {
	root := writeTree(t, shopTree())

	out, err := runCLI(t, "index", "--json", "-C", root)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	summary := decodeOutput[buildSummary](t, out)
	if summary.Project != "shop" {
		t.Errorf("project = %q, want shop", summary.Project)
	}
	if summary.FilesIndexed != 2 {
		t.Errorf("files_indexed = %d, want 2", summary.FilesIndexed)
	}
	if summary.Symbols != 2 {
		t.Errorf("symbols = %d, want 2", summary.Symbols)
	}
	if summary.CacheHash == "" {
		t.Error("cache_hash empty")
	}
	if _, err := os.Stat(cache.DocumentPath(root)); err != nil {
		t.Errorf("cache document missing: %v", err)
	}
}

func TestSymbol_ResolvesSimpleName(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "symbol", "Charge", "--json", "-C", root)
	if err != nil {
		t.Fatalf("symbol: %v", err)
	}
	res := decodeOutput[query.SymbolResult](t, out)
	if res.Symbol.QualifiedName != "billing/charge.go:Charge" {
		t.Errorf("qualified name = %q", res.Symbol.QualifiedName)
	}
	if res.Constraint.Level != "normal" {
		t.Errorf("constraint = %q, want normal", res.Constraint.Level)
	}

	text, err := runCLI(t, "symbol", "Charge", "-C", root)
	if err != nil {
		t.Fatalf("symbol text: %v", err)
	}
	if !strings.Contains(text, "billing/charge.go:Charge") {
		t.Errorf("text output missing qualified name: %q", text)
	}
	if !strings.Contains(text, "Captures one charge") {
		t.Errorf("text output missing purpose: %q", text)
	}
}

func TestSymbol_BeforeIndexFails(t *testing.T) {
	root := writeTree(t, shopTree())

	_, err := runCLI(t, "symbol", "Charge", "-C", root)
	if err == nil {
		t.Fatal("expected error before index exists")
	}
	if !strings.Contains(err.Error(), "acp index") {
		t.Errorf("error does not point at 'acp index': %v", err)
	}
}

func TestSymbol_StaleSuggestsBestEffort(t *testing.T) {
	root := indexedShop(t)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "symbol", "Charge", "-C", root)
	if err == nil {
		t.Fatal("expected staleness error")
	}
	if !strings.Contains(err.Error(), "--best-effort") {
		t.Errorf("error does not mention --best-effort: %v", err)
	}

	out, err := runCLI(t, "symbol", "Charge", "--best-effort", "--json", "-C", root)
	if err != nil {
		t.Fatalf("best-effort symbol: %v", err)
	}
	res := decodeOutput[query.SymbolResult](t, out)
	if res.Symbol.Name != "Charge" {
		t.Errorf("symbol = %q", res.Symbol.Name)
	}
}

func TestUpdate_AutoDetectsChanges(t *testing.T) {
	root := indexedShop(t)

	refund := `// @acp:module billing - Payment capture
package billing

// @acp:purpose - Reverses a captured charge
func Refund() {}
`
	if err := os.WriteFile(filepath.Join(root, "billing", "refund.go"), []byte(refund), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "update", "--json", "-C", root)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	summary := decodeOutput[buildSummary](t, out)
	if summary.FilesIndexed != 1 {
		t.Errorf("files_indexed = %d, want 1", summary.FilesIndexed)
	}
	if summary.Symbols != 3 {
		t.Errorf("symbols = %d, want 3", summary.Symbols)
	}

	out, err = runCLI(t, "update", "--json", "-C", root)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	idle := decodeOutput[upToDateSummary](t, out)
	if !idle.UpToDate {
		t.Errorf("expected up_to_date, got %q", out)
	}
}

func TestUpdate_RemovesDeletedFiles(t *testing.T) {
	root := indexedShop(t)
	if err := os.Remove(filepath.Join(root, "billing", "charge.go")); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "update", "--json", "-C", root)
	if err != nil {
		t.Fatalf("update after delete: %v", err)
	}
	summary := decodeOutput[buildSummary](t, out)
	if summary.FilesRemoved != 1 {
		t.Errorf("files_removed = %d, want 1", summary.FilesRemoved)
	}
	if summary.Files != 1 {
		t.Errorf("files = %d, want 1", summary.Files)
	}
}

func TestValidate_ReportsStaleness(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "validate", "--json", "-C", root)
	if err != nil {
		t.Fatalf("validate on fresh index: %v (%s)", err, out)
	}
	report := decodeOutput[validationReport](t, out)
	if !report.Valid || report.SchemaVersion == "" {
		t.Errorf("unexpected report: %+v", report)
	}

	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "validate", "--json", "-C", root)
	if err == nil {
		t.Fatal("validate did not fail on a stale index")
	}
	report = decodeOutput[validationReport](t, out)
	if report.Valid {
		t.Error("report claims valid despite staleness")
	}
	if len(report.StalePaths) != 1 || report.StalePaths[0] != "main.go" {
		t.Errorf("stale_paths = %v", report.StalePaths)
	}
}

func TestScan_CensusAndProjectKind(t *testing.T) {
	root := writeTree(t, shopTree())

	out, err := runCLI(t, "scan", "--json", "-C", root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	summary := decodeOutput[scanSummary](t, out)
	if summary.Project != "shop" || summary.Kind != "go" {
		t.Errorf("project = %q kind = %q", summary.Project, summary.Kind)
	}
	if summary.Files != 2 || summary.Languages["go"] != 2 {
		t.Errorf("census = %+v", summary)
	}
}

func TestSearch_TruncatesAtLimit(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "search", "a", "--limit", "1", "--json", "-C", root)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	res := decodeOutput[query.SearchResult](t, out)
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if !res.Truncated || res.Total <= 1 {
		t.Errorf("total = %d truncated = %v", res.Total, res.Truncated)
	}
}

func TestCallers_ListsEdgeOrigins(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "callers", "Charge", "--json", "-C", root)
	if err != nil {
		t.Fatalf("callers: %v", err)
	}
	edges := decodeOutput[edgeList](t, out)
	if len(edges.Edges) != 1 || edges.Edges[0] != "main.go:main" {
		t.Errorf("edges = %v", edges.Edges)
	}
}

func TestStats_MatchesIndexedCounts(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "stats", "--json", "-C", root)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	res := decodeOutput[statsOutput](t, out)
	if res.Project.Name != "shop" {
		t.Errorf("project = %q", res.Project.Name)
	}
	if res.Stats.Files != 2 || res.Stats.Symbols != 2 || res.Stats.Domains != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if res.CacheHash == "" {
		t.Error("cache_hash empty")
	}
}

func TestHotpaths_RanksByCallerCount(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "hotpaths", "--json", "-C", root)
	if err != nil {
		t.Fatalf("hotpaths: %v", err)
	}
	paths := decodeOutput[[]query.Hotpath](t, out)
	if len(paths) != 1 {
		t.Fatalf("hotpaths = %+v", paths)
	}
	if paths[0].QualifiedName != "billing/charge.go:Charge" || paths[0].CallerCount != 1 {
		t.Errorf("top = %+v", paths[0])
	}
}

func TestSnapshot_SaveDiffDeleteLifecycle(t *testing.T) {
	root := indexedShop(t)

	out, err := runCLI(t, "snapshot", "save", "--label", "before", "--json", "-C", root)
	if err != nil {
		t.Fatalf("snapshot save: %v", err)
	}
	first := decodeOutput[cache.SnapshotMetadata](t, out)
	if first.SnapshotID == "" || first.Label != "before" || first.FileCount != 2 {
		t.Errorf("metadata = %+v", first)
	}

	refund := `// @acp:module billing - Payment capture
package billing

// @acp:purpose - Reverses a captured charge
func Refund() {}
`
	if err := os.WriteFile(filepath.Join(root, "billing", "refund.go"), []byte(refund), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "update", "-C", root); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := runCLI(t, "snapshot", "save", "--label", "after", "-C", root); err != nil {
		t.Fatalf("second save: %v", err)
	}

	out, err = runCLI(t, "snapshot", "list", "--json", "-C", root)
	if err != nil {
		t.Fatalf("snapshot list: %v", err)
	}
	metas := decodeOutput[[]*cache.SnapshotMetadata](t, out)
	if len(metas) != 2 {
		t.Fatalf("listed %d snapshots, want 2", len(metas))
	}

	out, err = runCLI(t, "snapshot", "diff", first.SnapshotID, "latest", "--json", "-C", root)
	if err != nil {
		t.Fatalf("snapshot diff: %v", err)
	}
	diff := decodeOutput[cache.SnapshotDiff](t, out)
	if len(diff.FilesAdded) != 1 || diff.FilesAdded[0] != "billing/refund.go" {
		t.Errorf("files_added = %v", diff.FilesAdded)
	}
	if len(diff.SymbolsAdded) != 1 || diff.SymbolsAdded[0] != "billing/refund.go:Refund" {
		t.Errorf("symbols_added = %v", diff.SymbolsAdded)
	}

	if _, err := runCLI(t, "snapshot", "delete", first.SnapshotID, "-C", root); err != nil {
		t.Fatalf("snapshot delete: %v", err)
	}
	if _, err := runCLI(t, "snapshot", "show", first.SnapshotID, "-C", root); err == nil {
		t.Fatal("show found a deleted snapshot")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "acp "+version) {
		t.Errorf("output = %q", out)
	}
}

// copyFixture copies test/fixtures/sample-acp-project into a temp directory
// so index runs never dirty the checked-in tree.
func copyFixture(t *testing.T) string {
	t.Helper()
	src, err := filepath.Abs(filepath.Join("..", "..", "test", "fixtures", "sample-acp-project"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("fixture project not found: %v", err)
	}

	dst := t.TempDir()
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		t.Fatalf("copying fixture: %v", err)
	}
	return dst
}

func TestFixtureProject_IndexAndQuery(t *testing.T) {
	root := copyFixture(t)

	out, err := runCLI(t, "index", "--json", "-C", root)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	summary := decodeOutput[buildSummary](t, out)
	if summary.Project != "checkout" {
		t.Errorf("project = %q, want checkout", summary.Project)
	}
	if summary.FilesIndexed != 4 || summary.Symbols != 10 || summary.Domains != 2 {
		t.Errorf("summary = %+v", summary)
	}

	// Python symbols inherit the file's frozen lock.
	out, err = runCLI(t, "symbol", "post_entry", "--json", "-C", root)
	if err != nil {
		t.Fatalf("symbol post_entry: %v", err)
	}
	sym := decodeOutput[query.SymbolResult](t, out)
	if sym.Symbol.File != "ledger/ledger.py" || sym.Symbol.Kind != "function" {
		t.Errorf("symbol = %+v", sym.Symbol)
	}
	if sym.Constraint.Level != constraint.LevelFrozen {
		t.Errorf("level = %q, want frozen via file inheritance", sym.Constraint.Level)
	}
	if !strings.Contains(sym.Constraint.Reason, "Auditors") {
		t.Errorf("reason = %q", sym.Constraint.Reason)
	}

	out, err = runCLI(t, "file", "orders/orders.go", "--json", "-C", root)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	entry := decodeOutput[cache.FileEntry](t, out)
	if entry.Module != "orders" || entry.Constraint.Level != constraint.LevelTestsRequired {
		t.Errorf("entry = module %q level %q", entry.Module, entry.Constraint.Level)
	}
	var ticket string
	for _, in := range entry.Inline {
		if in.Kind == "todo" {
			ticket = in.Ticket
		}
	}
	if ticket != "CHK-41" {
		t.Errorf("todo ticket = %q, want CHK-41", ticket)
	}

	// Cross-file Go call edge.
	out, err = runCLI(t, "callers", "Place", "--json", "-C", root)
	if err != nil {
		t.Fatalf("callers: %v", err)
	}
	edges := decodeOutput[edgeList](t, out)
	if len(edges.Edges) != 1 || edges.Edges[0] != "main.go:main" {
		t.Errorf("edges = %v", edges.Edges)
	}

	// The commerce domain spans the Go and JavaScript files.
	out, err = runCLI(t, "domain", "commerce", "--json", "-C", root)
	if err != nil {
		t.Fatalf("domain: %v", err)
	}
	dom := decodeOutput[cache.DomainEntry](t, out)
	if dom.FileCount != 2 {
		t.Errorf("file_count = %d, want 2", dom.FileCount)
	}
	wantFiles := []string{"orders/orders.go", "web/checkout.js"}
	for i, f := range wantFiles {
		if i >= len(dom.Files) || dom.Files[i] != f {
			t.Errorf("files = %v, want %v", dom.Files, wantFiles)
			break
		}
	}
}

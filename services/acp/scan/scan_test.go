// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AleutianAI/acp/services/acp/ast"
)

var testRegistry = ast.DefaultRegistry()

// writeTree materializes path → content under a fresh temp root.
func writeTree(t *testing.T, entries map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range entries {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":                 "package main\n",
		"lib/util.py":             "x = 1\n",
		"web/app.ts":              "export {}\n",
		"engine/core.rs":          "fn main() {}\n",
		"README.md":               "# readme\n",
		"node_modules/dep/ix.js":  "module.exports = {}\n",
		"vendor/lib/v.go":         "package lib\n",
		"__pycache__/m.cpython":   "",
		".hidden/secret.go":       "package secret\n",
		".DS_Store":               "",
		"build/out.js":            "var x\n",
		"sub/node_modules/x.ts":   "export {}\n",
		"docs/notes.txt":          "notes\n",
		"tools/gen/templates.go":  "package gen\n",
		"tools/legacy/old.py":     "y = 2\n",
		"tools/legacy/.hidden.py": "z = 3\n",
	})

	files, err := Walk(root, Options{Registry: testRegistry})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []string{
		"engine/core.rs",
		"lib/util.py",
		"main.go",
		"tools/gen/templates.go",
		"tools/legacy/old.py",
		"web/app.ts",
	}
	if got := paths(files); !reflect.DeepEqual(got, want) {
		t.Errorf("Walk paths = %v, want %v", got, want)
	}

	for _, f := range files {
		switch f.Path {
		case "main.go":
			if f.Language != "go" {
				t.Errorf("main.go language = %q, want go", f.Language)
			}
		case "engine/core.rs":
			if f.Language != "rust" {
				t.Errorf("core.rs language = %q, want rust", f.Language)
			}
		}
	}
}

func TestWalkIncludeExclude(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.go":         "package main\n",
		"main_test.go":    "package main\n",
		"lib/util.py":     "x = 1\n",
		"lib/util_aux.go": "package lib\n",
	})

	files, err := Walk(root, Options{
		Registry: testRegistry,
		Include:  []string{"*.go"},
		Exclude:  []string{"*_test.go"},
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	want := []string{"lib/util_aux.go", "main.go"}
	if got := paths(files); !reflect.DeepEqual(got, want) {
		t.Errorf("Walk paths = %v, want %v", got, want)
	}
}

func TestWalkGitignore(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":      "generated/\n*.gen.go\n",
		"main.go":         "package main\n",
		"main.gen.go":     "package main\n",
		"generated/g.go":  "package generated\n",
		"lib/ok.go":       "package lib\n",
		"lib/data.gen.go": "package lib\n",
	})

	files, err := Walk(root, Options{Registry: testRegistry, UseGitignore: true})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"lib/ok.go", "main.go"}
	if got := paths(files); !reflect.DeepEqual(got, want) {
		t.Errorf("Walk paths = %v, want %v", got, want)
	}

	// Without the flag the same tree yields the ignored files too.
	files, err = Walk(root, Options{Registry: testRegistry})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(files) != 5 {
		t.Errorf("expected 5 files without gitignore, got %d: %v", len(files), paths(files))
	}
}

func TestWalkMaxFileSize(t *testing.T) {
	root := writeTree(t, map[string]string{
		"small.go": "package a\n",
		"big.go":   "package a\n// " + string(make([]byte, 200)) + "\n",
	})

	files, err := Walk(root, Options{Registry: testRegistry, MaxFileSize: 100})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"small.go"}
	if got := paths(files); !reflect.DeepEqual(got, want) {
		t.Errorf("Walk paths = %v, want %v", got, want)
	}
}

func TestMatcherSource(t *testing.T) {
	m := NewMatcher(t.TempDir(), Options{Registry: testRegistry, SkipDirs: []string{"gen"}})

	cases := []struct {
		rel  string
		lang string
		ok   bool
	}{
		{"pkg/server.go", "go", true},
		{"pkg/gen/out.go", "", false},
		{"node_modules/x.js", "", false},
		{"deep/a/b/util.py", "python", true},
		{"notes.txt", "", false},
		{".env.py", "", false},
	}
	for _, tc := range cases {
		lang, ok := m.Source(tc.rel, 10)
		if lang != tc.lang || ok != tc.ok {
			t.Errorf("Source(%q) = (%q, %v), want (%q, %v)", tc.rel, lang, ok, tc.lang, tc.ok)
		}
	}
}

func TestCensus(t *testing.T) {
	files := []File{
		{Path: "a.go", Language: "go"},
		{Path: "b.go", Language: "go"},
		{Path: "c.py", Language: "python"},
	}
	got := Census(files)
	want := map[string]int{"go": 2, "python": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Census = %v, want %v", got, want)
	}
}

func TestDetectProject(t *testing.T) {
	t.Run("go module", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"go.mod": "module github.com/acme/widgets\n\ngo 1.25\n",
		})
		p := DetectProject(root)
		if p.Name != "widgets" || p.Kind != "go" {
			t.Errorf("DetectProject = %+v, want widgets/go", p)
		}
	})

	t.Run("node package", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"package.json": `{"name": "@acme/webapp", "version": "1.0.0"}`,
		})
		p := DetectProject(root)
		if p.Name != "webapp" || p.Kind != "node" {
			t.Errorf("DetectProject = %+v, want webapp/node", p)
		}
	})

	t.Run("rust crate", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"Cargo.toml": "[package]\nname = \"cruncher\"\nversion = \"0.1.0\"\n",
		})
		p := DetectProject(root)
		if p.Name != "cruncher" || p.Kind != "rust" {
			t.Errorf("DetectProject = %+v, want cruncher/rust", p)
		}
	})

	t.Run("python poetry", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"pyproject.toml": "[tool.poetry]\nname = \"pipeline\"\n",
		})
		p := DetectProject(root)
		if p.Name != "pipeline" || p.Kind != "python" {
			t.Errorf("DetectProject = %+v, want pipeline/python", p)
		}
	})

	t.Run("go.mod wins over package.json", func(t *testing.T) {
		root := writeTree(t, map[string]string{
			"go.mod":       "module example.com/both\n",
			"package.json": `{"name": "both-js"}`,
		})
		p := DetectProject(root)
		if p.Name != "both" || p.Kind != "go" {
			t.Errorf("DetectProject = %+v, want both/go", p)
		}
	})

	t.Run("bare directory", func(t *testing.T) {
		root := t.TempDir()
		p := DetectProject(root)
		if p.Name != filepath.Base(root) || p.Kind != "unknown" {
			t.Errorf("DetectProject = %+v, want %s/unknown", p, filepath.Base(root))
		}
	})
}

func TestTomlName(t *testing.T) {
	cases := []struct {
		name     string
		data     string
		sections []string
		want     string
	}{
		{
			name:     "simple",
			data:     "[package]\nname = \"alpha\"\n",
			sections: []string{"package"},
			want:     "alpha",
		},
		{
			name:     "other section ignored",
			data:     "[dependencies]\nname = \"nope\"\n\n[package]\nname = \"beta\"\n",
			sections: []string{"package"},
			want:     "beta",
		},
		{
			name:     "trailing comment",
			data:     "[project]\nname = \"gamma\"  # the project\n",
			sections: []string{"project"},
			want:     "gamma",
		},
		{
			name:     "no match",
			data:     "[package]\nversion = \"1.0\"\n",
			sections: []string{"project"},
			want:     "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tomlName([]byte(tc.data), tc.sections...); got != tc.want {
				t.Errorf("tomlName = %q, want %q", got, tc.want)
			}
		})
	}
}

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
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// Project identifies what lives at a root.
type Project struct {
	// Name is the project's declared name, or the directory name when no
	// project file declares one.
	Name string `json:"name"`

	// Kind is "go", "node", "rust", "python", or "unknown".
	Kind string `json:"kind"`
}

// DetectProject inspects the project files at root.
//
// Description:
//
//	Checks go.mod, package.json, Cargo.toml, and pyproject.toml in that
//	order and returns the first name found. A root with none of them (or
//	with unparsable ones) falls back to the directory name with kind
//	"unknown". Detection never fails; it only degrades.
func DetectProject(root string) Project {
	if data, err := os.ReadFile(filepath.Join(root, "go.mod")); err == nil {
		if mod := modfile.ModulePath(data); mod != "" {
			return Project{Name: path.Base(mod), Kind: "go"}
		}
	}
	if data, err := os.ReadFile(filepath.Join(root, "package.json")); err == nil {
		var pkg struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(data, &pkg) == nil && pkg.Name != "" {
			return Project{Name: path.Base(pkg.Name), Kind: "node"}
		}
	}
	if data, err := os.ReadFile(filepath.Join(root, "Cargo.toml")); err == nil {
		if name := tomlName(data, "package"); name != "" {
			return Project{Name: name, Kind: "rust"}
		}
	}
	if data, err := os.ReadFile(filepath.Join(root, "pyproject.toml")); err == nil {
		if name := tomlName(data, "project", "tool.poetry"); name != "" {
			return Project{Name: name, Kind: "python"}
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return Project{Name: filepath.Base(abs), Kind: "unknown"}
}

// tomlName pulls `name = "..."` out of the first matching TOML section.
// Project files that defeat this single-key scan fall back to directory-name
// detection.
func tomlName(data []byte, sections ...string) string {
	want := make(map[string]bool, len(sections))
	for _, s := range sections {
		want[s] = true
	}

	inSection := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = want[strings.Trim(line, "[]")]
			continue
		}
		if !inSection {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "name" {
			continue
		}
		value = strings.TrimSpace(value)
		if i := strings.Index(value, "#"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}
		return strings.Trim(value, `"'`)
	}
	return ""
}

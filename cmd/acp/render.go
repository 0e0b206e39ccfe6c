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
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/constraint"
	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/indexer"
	"github.com/AleutianAI/acp/services/acp/query"
)

// stdoutTTY gates styling: colors on a terminal, plain text when piped so
// shell pipelines see stable output.
var stdoutTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	levelStyles = map[constraint.Level]lipgloss.Style{
		constraint.LevelFrozen:           lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		constraint.LevelRestricted:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		constraint.LevelApprovalRequired: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		constraint.LevelTestsRequired:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		constraint.LevelDocsRequired:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		constraint.LevelNormal:           lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	}
)

// styled renders s with the style only when stdout is a terminal.
func styled(st lipgloss.Style, s string) string {
	if !stdoutTTY {
		return s
	}
	return st.Render(s)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func heading(s string) {
	fmt.Println(styled(headingStyle, s))
}

// field prints one aligned "label: value" line, skipping empty values.
func field(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("  %s %s\n", styled(labelStyle, fmt.Sprintf("%-13s", label+":")), value)
}

func renderConstraint(c constraint.Constraint) string {
	level := c.Level
	if level == "" {
		level = constraint.LevelNormal
	}
	st, ok := levelStyles[level]
	if !ok {
		st = dimStyle
	}
	out := styled(st, string(level))
	if c.Directive != "" {
		out += " " + styled(dimStyle, c.Directive)
	}
	return out
}

func renderSymbol(res *query.SymbolResult) {
	sym := res.Symbol
	heading(sym.QualifiedName)
	field("kind", sym.Kind)
	field("file", fmt.Sprintf("%s:%d-%d", sym.File, sym.StartLine, sym.EndLine))
	field("signature", sym.Signature)
	field("purpose", sym.Purpose)
	field("constraint", renderConstraint(res.Constraint))
	if len(sym.Callers) > 0 {
		field("callers", strings.Join(sym.Callers, ", "))
	}
	if len(sym.Callees) > 0 {
		field("callees", strings.Join(sym.Callees, ", "))
	}
}

func renderFile(f *cache.FileEntry) {
	heading(f.Path)
	field("language", f.Language)
	field("lines", strconv.Itoa(f.Lines))
	field("module", f.Module)
	field("layer", f.Layer)
	field("owner", f.Owner)
	field("purpose", f.Purpose)
	if len(f.Domains) > 0 {
		field("domains", strings.Join(f.Domains, ", "))
	}
	field("constraint", renderConstraint(f.Constraint))
	if len(f.Symbols) > 0 {
		fmt.Println(styled(labelStyle, "  symbols:"))
		for _, qn := range f.Symbols {
			fmt.Printf("    %s\n", qn)
		}
	}
	if len(f.Imports) > 0 {
		fmt.Println(styled(labelStyle, "  imports:"))
		for _, imp := range f.Imports {
			target := imp.Target
			if target == cache.External {
				target = styled(dimStyle, target)
			}
			fmt.Printf("    %s -> %s\n", imp.Source, target)
		}
	}
	if len(f.ImportedBy) > 0 {
		field("imported by", strings.Join(f.ImportedBy, ", "))
	}
	if len(f.Inline) > 0 {
		fmt.Println(styled(labelStyle, "  markers:"))
		for _, m := range f.Inline {
			line := fmt.Sprintf("    %s L%d", styled(warnStyle, m.Kind), m.Line)
			if m.Text != "" {
				line += " " + m.Text
			}
			if m.Expires != "" {
				line += styled(dimStyle, " expires="+m.Expires)
			}
			if m.Ticket != "" {
				line += styled(dimStyle, " ticket="+m.Ticket)
			}
			fmt.Println(line)
		}
	}
}

func renderDomain(d *cache.DomainEntry) {
	heading(d.Name)
	field("description", d.Description)
	field("files", strconv.Itoa(d.FileCount))
	field("symbols", strconv.Itoa(d.SymbolCount))
	for _, p := range d.Files {
		fmt.Printf("    %s\n", p)
	}
	for _, qn := range d.Symbols {
		fmt.Printf("    %s\n", styled(dimStyle, qn))
	}
}

// renderEdges prints a caller or callee listing, dimming the external
// pseudo-target.
func renderEdges(title, name string, edges []string) {
	heading(fmt.Sprintf("%s of %s (%d)", title, name, len(edges)))
	if len(edges) == 0 {
		fmt.Println(styled(dimStyle, "  none recorded"))
		return
	}
	for _, e := range edges {
		if e == cache.External {
			fmt.Printf("  %s\n", styled(dimStyle, e))
			continue
		}
		fmt.Printf("  %s\n", e)
	}
}

func renderSearch(pattern string, res *query.SearchResult) {
	heading(fmt.Sprintf("%d match(es) for %q", res.Total, pattern))
	for _, m := range res.Matches {
		line := fmt.Sprintf("  [%s] %s", m.Kind, m.Name)
		if m.Kind == "symbol" && m.File != "" {
			loc := m.File
			if m.Line > 0 {
				loc = fmt.Sprintf("%s:%d", m.File, m.Line)
			}
			line += "  " + styled(dimStyle, loc)
		}
		if m.Purpose != "" {
			line += "  " + styled(dimStyle, m.Purpose)
		}
		fmt.Println(line)
	}
	if res.Truncated {
		fmt.Println(styled(dimStyle, fmt.Sprintf("  ... %d more (raise --limit)", res.Total-len(res.Matches))))
	}
}

func renderStats(project cache.ProjectInfo, stats cache.Stats, cacheHash string) {
	heading(project.Name)
	field("root", project.Root)
	if project.GitCommit != "" {
		field("commit", shortHash(project.GitCommit))
	}
	field("files", strconv.Itoa(stats.Files))
	field("symbols", strconv.Itoa(stats.Symbols))
	field("lines", strconv.Itoa(stats.Lines))
	field("domains", strconv.Itoa(stats.Domains))
	field("coverage", fmt.Sprintf("%.1f%%", stats.AnnotationCoverage))
	if len(stats.Languages) > 0 {
		field("languages", formatCounts(stats.Languages))
	}
	if len(stats.Constraints) > 0 {
		// Most restrictive first, so frozen counts lead the line.
		parts := make([]string, 0, len(stats.Constraints))
		for _, level := range constraint.Levels() {
			if n := stats.Constraints[level]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", level, n))
			}
		}
		field("constraints", strings.Join(parts, " "))
	}
	if cacheHash != "" {
		field("cache hash", shortHash(cacheHash))
	}
}

func renderHotpaths(paths []query.Hotpath) {
	if len(paths) == 0 {
		fmt.Println(styled(dimStyle, "no call edges recorded"))
		return
	}
	heading(fmt.Sprintf("top %d by caller count", len(paths)))
	for i, p := range paths {
		fmt.Printf("  %2d. %-44s %s\n", i+1, p.QualifiedName,
			styled(dimStyle, fmt.Sprintf("%d caller(s)", p.CallerCount)))
	}
}

// renderBuildResult prints the outcome of an index or update run, then any
// diagnostics and skipped files.
func renderBuildResult(verb string, res *indexer.Result, elapsed time.Duration) {
	doc := res.Cache
	line := fmt.Sprintf("%s %s: %d file(s), %d symbol(s), %d domain(s) in %s",
		verb, doc.Project.Name, doc.Stats.Files, doc.Stats.Symbols, doc.Stats.Domains,
		elapsed.Round(time.Millisecond))
	if res.FilesRemoved > 0 {
		line += fmt.Sprintf(" (%d removed)", res.FilesRemoved)
	}
	fmt.Println(styled(okStyle, line))
	renderDiagnostics(res.Diagnostics)
	for i := range res.FileErrors {
		fmt.Println("  " + styled(errStyle, "skipped "+res.FileErrors[i].Error()))
	}
}

func renderDiagnostics(diags []diag.Diagnostic) {
	for _, d := range diags {
		fmt.Println("  " + styled(warnStyle, d.String()))
	}
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

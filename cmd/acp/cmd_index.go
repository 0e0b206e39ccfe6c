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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	acp "github.com/AleutianAI/acp/services/acp"
	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/config"
	"github.com/AleutianAI/acp/services/acp/indexer"
	"github.com/AleutianAI/acp/services/acp/scan"
)

// configTemplate is the starter configuration written by 'acp init'.
// Commented values show the defaults.
const configTemplate = `# acp indexer configuration.

# mode: "permissive" records diagnostics for malformed annotations and keeps
# indexing; "strict" skips the offending file entirely.
mode: permissive

# workers: 0 sizes the extraction pool to the machine.
#workers: 4

# include/exclude: gitignore-style patterns applied to project-relative
# paths. Empty include means every supported file the walk reaches.
#include:
#  - "src/**"
#exclude:
#  - "**/*_test.go"

# skip_dirs extends the built-in skip list (node_modules, target, dist,
# build, .git, vendor, __pycache__, venv).
#skip_dirs:
#  - generated

use_gitignore: true
max_file_size_mb: 10

watch:
  debounce_millis: 250

server:
  addr: ":8750"
  rate_limit: 50
  burst: 100
`

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter " + config.FileName,
		RunE:  runInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.FileName)
	if force, _ := cmd.Flags().GetBool("force"); !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", config.FileName)
		}
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the full index and save it under " + cache.DirName,
		RunE:  runIndex,
	}
	cmd.Flags().Bool("json", false, "Print a machine-readable summary")
	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	svc, err := openService(cmd)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := svc.Init(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(newBuildSummary(res, time.Since(start)))
	}
	renderBuildResult("indexed", res, time.Since(start))
	return nil
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [path...]",
		Short: "Reindex changed files against the saved index",
		Long: `update reindexes the given project-relative paths. With no arguments it
compares the saved content hashes against the tree and reindexes whatever
changed, disappeared, or is new.`,
		RunE: runUpdate,
	}
	cmd.Flags().Bool("json", false, "Print a machine-readable summary")
	return cmd
}

func runUpdate(cmd *cobra.Command, args []string) error {
	svc, err := loadedService(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	paths := args
	if len(paths) == 0 {
		paths, err = detectChanges(svc)
		if err != nil {
			return fmt.Errorf("detecting changes: %w", err)
		}
		if len(paths) == 0 {
			if jsonOut {
				return printJSON(upToDateSummary{Project: svc.Document().Project.Name, UpToDate: true})
			}
			fmt.Println("index is current")
			return nil
		}
	}

	start := time.Now()
	res, err := svc.Update(cmd.Context(), paths)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(newBuildSummary(res, time.Since(start)))
	}
	renderBuildResult("updated", res, time.Since(start))
	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Verify the saved index and report staleness",
		RunE:  runValidate,
	}
	cmd.Flags().Bool("json", false, "Print a machine-readable report")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	report := validationReport{Valid: true}
	doc, err := cache.Load(root)
	if err != nil {
		report.Valid = false
		report.Problem = err.Error()
		return emitValidation(jsonOut, report)
	}
	report.SchemaVersion = doc.SchemaVersion
	report.CacheHash = doc.CacheHash
	report.Files = doc.Stats.Files
	report.Symbols = doc.Stats.Symbols

	if err := cache.Verify(doc); err != nil {
		report.Valid = false
		report.Problem = err.Error()
		return emitValidation(jsonOut, report)
	}
	stale, err := doc.Stale(root)
	if err != nil {
		report.Valid = false
		report.Problem = err.Error()
		return emitValidation(jsonOut, report)
	}
	report.StalePaths = stale
	report.Valid = len(stale) == 0
	return emitValidation(jsonOut, report)
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Census the tree without building an index",
		RunE:  runScan,
	}
	cmd.Flags().Bool("json", false, "Print a machine-readable census")
	cmd.Flags().Bool("files", false, "List every discovered file")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	files, err := scan.Walk(root, scanOptions(cfg))
	if err != nil {
		return err
	}
	project := scan.DetectProject(root)
	census := scan.Census(files)

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		out := scanSummary{Project: project.Name, Kind: project.Kind, Files: len(files), Languages: census}
		if listFiles, _ := cmd.Flags().GetBool("files"); listFiles {
			out.Paths = make([]string, len(files))
			for i, f := range files {
				out.Paths[i] = f.Path
			}
		}
		return printJSON(out)
	}

	heading(fmt.Sprintf("%s (%s)", project.Name, project.Kind))
	field("files", fmt.Sprintf("%d", len(files)))
	if len(census) > 0 {
		field("languages", formatCounts(census))
	}
	if listFiles, _ := cmd.Flags().GetBool("files"); listFiles {
		for _, f := range files {
			fmt.Printf("    %s  %s\n", f.Path, styled(dimStyle, f.Language))
		}
	}
	return nil
}

// buildSummary is the --json output of index and update runs.
type buildSummary struct {
	Project        string   `json:"project"`
	FilesIndexed   int      `json:"files_indexed"`
	FilesRemoved   int      `json:"files_removed,omitempty"`
	Files          int      `json:"files"`
	Symbols        int      `json:"symbols"`
	Domains        int      `json:"domains"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
	Skipped        []string `json:"skipped,omitempty"`
	CacheHash      string   `json:"cache_hash,omitempty"`
	DurationMillis int64    `json:"duration_millis"`
}

type upToDateSummary struct {
	Project  string `json:"project"`
	UpToDate bool   `json:"up_to_date"`
}

type scanSummary struct {
	Project   string         `json:"project"`
	Kind      string         `json:"kind"`
	Files     int            `json:"files"`
	Languages map[string]int `json:"languages,omitempty"`
	Paths     []string       `json:"paths,omitempty"`
}

type validationReport struct {
	Valid         bool     `json:"valid"`
	SchemaVersion string   `json:"schema_version,omitempty"`
	CacheHash     string   `json:"cache_hash,omitempty"`
	Files         int      `json:"files,omitempty"`
	Symbols       int      `json:"symbols,omitempty"`
	StalePaths    []string `json:"stale_paths,omitempty"`
	Problem       string   `json:"problem,omitempty"`
}

func newBuildSummary(res *indexer.Result, elapsed time.Duration) buildSummary {
	s := buildSummary{
		Project:        res.Cache.Project.Name,
		FilesIndexed:   res.FilesIndexed,
		FilesRemoved:   res.FilesRemoved,
		Files:          res.Cache.Stats.Files,
		Symbols:        res.Cache.Stats.Symbols,
		Domains:        res.Cache.Stats.Domains,
		CacheHash:      res.Cache.CacheHash,
		DurationMillis: elapsed.Milliseconds(),
	}
	for _, d := range res.Diagnostics {
		s.Diagnostics = append(s.Diagnostics, d.String())
	}
	for i := range res.FileErrors {
		s.Skipped = append(s.Skipped, res.FileErrors[i].Error())
	}
	return s
}

func emitValidation(jsonOut bool, report validationReport) error {
	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else if report.Problem != "" {
		fmt.Println(styled(errStyle, "invalid: "+report.Problem))
	} else if len(report.StalePaths) > 0 {
		fmt.Println(styled(warnStyle, fmt.Sprintf("stale: %d file(s) changed since the last build (run 'acp update')", len(report.StalePaths))))
		for _, p := range report.StalePaths {
			fmt.Printf("    %s\n", p)
		}
	} else {
		fmt.Println(styled(okStyle, fmt.Sprintf("ok: %d file(s), %d symbol(s), schema %s, hash %s",
			report.Files, report.Symbols, report.SchemaVersion, shortHash(report.CacheHash))))
	}
	if !report.Valid {
		return fmt.Errorf("index validation failed")
	}
	return nil
}

// detectChanges compares the saved document against the tree: recorded files
// that changed or disappeared, plus files on disk the document has never
// seen.
func detectChanges(svc *acp.Service) ([]string, error) {
	doc := svc.Document()
	changed, err := doc.Stale(svc.Root())
	if err != nil {
		return nil, err
	}
	files, err := scan.Walk(svc.Root(), scanOptions(svc.Config()))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(changed))
	for _, p := range changed {
		seen[p] = true
	}
	for _, f := range files {
		if _, ok := doc.ContentHashes[f.Path]; !ok && !seen[f.Path] {
			changed = append(changed, f.Path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// scanOptions maps the config's walk settings onto scan.Options, the same
// way the indexer builds its matcher.
func scanOptions(cfg *config.Config) scan.Options {
	return scan.Options{
		SkipDirs:     cfg.SkipDirs,
		Include:      cfg.Include,
		Exclude:      cfg.Exclude,
		UseGitignore: cfg.UseGitignore,
		MaxFileSize:  cfg.MaxFileSize(),
	}
}

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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/acp/services/acp/cache"
	"github.com/AleutianAI/acp/services/acp/diag"
	"github.com/AleutianAI/acp/services/acp/query"
)

// addQueryFlags attaches the flags every query command shares.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print the raw result as JSON")
	cmd.Flags().Bool("best-effort", false, "Answer even when the index is stale")
}

// queryEngine loads the saved index and builds an engine honoring
// --best-effort.
func queryEngine(cmd *cobra.Command) (*query.Engine, error) {
	svc, err := loadedService(cmd)
	if err != nil {
		return nil, err
	}
	bestEffort, _ := cmd.Flags().GetBool("best-effort")
	return svc.Engine(bestEffort)
}

// explainStale appends the remediation for staleness failures so users are
// not left guessing.
func explainStale(err error) error {
	var stale *diag.StaleCacheError
	if errors.As(err, &stale) {
		return fmt.Errorf("%w\n  run 'acp update' to refresh, or pass --best-effort to answer from the stale index", err)
	}
	return err
}

func newSymbolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbol <name>",
		Short: "Look up a symbol by qualified or simple name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSymbol,
	}
	addQueryFlags(cmd)
	return cmd
}

func runSymbol(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	res, err := engine.Symbol(cmd.Context(), args[0])
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(res)
	}
	renderSymbol(res)
	return nil
}

func newFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Show a file's annotations, symbols, and edges",
		Args:  cobra.ExactArgs(1),
		RunE:  runFile,
	}
	addQueryFlags(cmd)
	return cmd
}

func runFile(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	entry, err := engine.File(cmd.Context(), args[0])
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(entry)
	}
	renderFile(entry)
	return nil
}

func newDomainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain <name>",
		Short: "Show a domain's member files and symbols",
		Args:  cobra.ExactArgs(1),
		RunE:  runDomain,
	}
	addQueryFlags(cmd)
	return cmd
}

func runDomain(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	entry, err := engine.Domain(cmd.Context(), args[0])
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(entry)
	}
	renderDomain(entry)
	return nil
}

func newCallersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callers <name>",
		Short: "List the recorded callers of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runCallers,
	}
	addQueryFlags(cmd)
	return cmd
}

func runCallers(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	callers, err := engine.Callers(cmd.Context(), args[0])
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(edgeList{Name: args[0], Edges: callers})
	}
	renderEdges("callers", args[0], callers)
	return nil
}

func newCalleesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callees <name>",
		Short: "List the recorded callees of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runCallees,
	}
	addQueryFlags(cmd)
	return cmd
}

func runCallees(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	callees, err := engine.Callees(cmd.Context(), args[0])
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(edgeList{Name: args[0], Edges: callees})
	}
	renderEdges("callees", args[0], callees)
	return nil
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Substring search over symbol names, paths, and purposes",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	addQueryFlags(cmd)
	cmd.Flags().Int("limit", 20, "Maximum matches to return (0 means unlimited)")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	res, err := engine.Search(cmd.Context(), args[0], limit)
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(res)
	}
	renderSearch(args[0], res)
	return nil
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate counts for the indexed project",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	addQueryFlags(cmd)
	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	svc, err := loadedService(cmd)
	if err != nil {
		return err
	}
	bestEffort, _ := cmd.Flags().GetBool("best-effort")
	engine, err := svc.Engine(bestEffort)
	if err != nil {
		return err
	}
	stats, err := engine.Stats(cmd.Context())
	if err != nil {
		return explainStale(err)
	}
	doc := svc.Document()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(statsOutput{Project: doc.Project, Stats: *stats, CacheHash: doc.CacheHash})
	}
	renderStats(doc.Project, *stats, doc.CacheHash)
	return nil
}

func newHotpathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotpaths",
		Short: "Rank symbols by caller count",
		Args:  cobra.NoArgs,
		RunE:  runHotpaths,
	}
	addQueryFlags(cmd)
	cmd.Flags().Int("limit", query.DefaultHotpathLimit, "Maximum entries to return")
	return cmd
}

func runHotpaths(cmd *cobra.Command, _ []string) error {
	engine, err := queryEngine(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	paths, err := engine.Hotpaths(cmd.Context(), limit)
	if err != nil {
		return explainStale(err)
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(paths)
	}
	renderHotpaths(paths)
	return nil
}

// edgeList is the --json shape of callers and callees output.
type edgeList struct {
	Name  string   `json:"name"`
	Edges []string `json:"edges"`
}

// statsOutput pairs the stats block with the project identity, matching the
// server's stats response.
type statsOutput struct {
	Project   cache.ProjectInfo `json:"project"`
	Stats     cache.Stats       `json:"stats"`
	CacheHash string            `json:"cache_hash,omitempty"`
}

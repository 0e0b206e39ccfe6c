// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command acp indexes @acp annotations across a source tree and answers
// structural queries over the saved index.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	acp "github.com/AleutianAI/acp/services/acp"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand assembles the full command tree. Tests call it to run
// commands in-process.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "acp",
		Short: "Index and query @acp source annotations",
		Long: `acp builds a persistent index of @acp:* comment directives across a source
tree: symbols, constraints, domains, import and call edges. Query commands
answer from the saved index under .acp/ and refuse stale answers unless
--best-effort is set.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			setupLogging(debug)
		},
	}
	rootCmd.PersistentFlags().StringP("path", "C", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("acp %s\n", version)
		},
	}

	rootCmd.AddCommand(
		newInitCmd(),
		newIndexCmd(),
		newUpdateCmd(),
		newValidateCmd(),
		newScanCmd(),
		newSymbolCmd(),
		newFileCmd(),
		newDomainCmd(),
		newCallersCmd(),
		newCalleesCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newHotpathsCmd(),
		newWatchCmd(),
		newServeCmd(),
		newSnapshotCmd(),
		versionCmd,
	)
	return rootCmd
}

// setupLogging routes logs to stderr: readable text on a terminal, JSON when
// piped into something that will parse it. Results always go to stdout, so
// logging never corrupts pipelines.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// projectRoot resolves the project root from --path or the working
// directory.
func projectRoot(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		root, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		return root, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("--path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("--path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("--path: %s is not a directory", path)
	}
	return abs, nil
}

// openService builds the service for the resolved project root.
func openService(cmd *cobra.Command) (*acp.Service, error) {
	root, err := projectRoot(cmd)
	if err != nil {
		return nil, err
	}
	return acp.NewService(root)
}

// loadedService opens the service and publishes the index saved on disk.
func loadedService(cmd *cobra.Command) (*acp.Service, error) {
	svc, err := openService(cmd)
	if err != nil {
		return nil, err
	}
	if err := svc.Reload(cmd.Context()); err != nil {
		return nil, fmt.Errorf("loading index (run 'acp index' first): %w", err)
	}
	return svc, nil
}

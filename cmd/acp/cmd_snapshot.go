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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/acp/services/acp/cache"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage saved index snapshots",
		Long: `snapshot keeps a history of index states in a local badger database under
` + cache.DirName + `/` + cache.SnapshotDirName + `. Snapshots are addressed by ID; "latest" resolves to
the most recent one.`,
	}
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Snapshot the current saved index",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotSave,
	}
	saveCmd.Flags().String("label", "", "Free-form label stored with the snapshot")
	saveCmd.Flags().Bool("json", false, "Print the snapshot metadata as JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotList,
	}
	listCmd.Flags().Int("limit", 20, "Maximum snapshots to list")
	listCmd.Flags().Bool("json", false, "Print the metadata list as JSON")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one snapshot's metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotShow,
	}
	showCmd.Flags().Bool("json", false, "Print the metadata as JSON")

	diffCmd := &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Summarize drift between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotDiff,
	}
	diffCmd.Flags().Bool("json", false, "Print the full diff as JSON")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotDelete,
	}

	cmd.AddCommand(saveCmd, listCmd, showCmd, diffCmd, deleteCmd)
	return cmd
}

// withSnapshotStore opens the project's snapshot database, runs fn, and
// closes the database again.
func withSnapshotStore(cmd *cobra.Command, fn func(ctx context.Context, root string, store *cache.SnapshotStore) error) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	db, err := cache.OpenSnapshotDB(root)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer db.Close()

	store, err := cache.NewSnapshotStore(db, slog.Default())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), root, store)
}

func runSnapshotSave(cmd *cobra.Command, _ []string) error {
	return withSnapshotStore(cmd, func(ctx context.Context, root string, store *cache.SnapshotStore) error {
		doc, err := cache.Load(root)
		if err != nil {
			return fmt.Errorf("loading index (run 'acp index' first): %w", err)
		}
		label, _ := cmd.Flags().GetString("label")
		meta, err := store.Save(ctx, doc, label)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(meta)
		}
		fmt.Printf("saved snapshot %s (%d files, %d symbols, %s)\n",
			meta.SnapshotID, meta.FileCount, meta.SymbolCount, formatBytes(int(meta.CompressedSize)))
		return nil
	})
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	return withSnapshotStore(cmd, func(ctx context.Context, root string, store *cache.SnapshotStore) error {
		limit, _ := cmd.Flags().GetInt("limit")
		metas, err := store.List(ctx, cache.ProjectHash(root), limit)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(metas)
		}
		if len(metas) == 0 {
			fmt.Println("no snapshots")
			return nil
		}
		for _, m := range metas {
			line := fmt.Sprintf("%s  %s  %4d file%s  %5d symbol%s",
				m.SnapshotID,
				time.UnixMilli(m.CreatedAtMilli).Format("2006-01-02 15:04:05"),
				m.FileCount, plural(m.FileCount, "", "s"),
				m.SymbolCount, plural(m.SymbolCount, "", "s"))
			if m.Label != "" {
				line += "  " + styled(dimStyle, m.Label)
			}
			fmt.Println(line)
		}
		return nil
	})
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	return withSnapshotStore(cmd, func(ctx context.Context, root string, store *cache.SnapshotStore) error {
		_, meta, err := loadSnapshot(ctx, root, store, args[0])
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(meta)
		}
		heading(meta.SnapshotID)
		field("created", time.UnixMilli(meta.CreatedAtMilli).Format(time.RFC3339))
		field("label", meta.Label)
		field("files", fmt.Sprintf("%d", meta.FileCount))
		field("symbols", fmt.Sprintf("%d", meta.SymbolCount))
		field("schema", meta.SchemaVersion)
		field("cache hash", shortHash(meta.CacheHash))
		field("size", formatBytes(int(meta.CompressedSize)))
		return nil
	})
}

func runSnapshotDiff(cmd *cobra.Command, args []string) error {
	return withSnapshotStore(cmd, func(ctx context.Context, root string, store *cache.SnapshotStore) error {
		baseDoc, baseMeta, err := loadSnapshot(ctx, root, store, args[0])
		if err != nil {
			return err
		}
		targetDoc, targetMeta, err := loadSnapshot(ctx, root, store, args[1])
		if err != nil {
			return err
		}
		diff, err := cache.DiffSnapshots(baseDoc, targetDoc, baseMeta.SnapshotID, targetMeta.SnapshotID)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(diff)
		}
		renderSnapshotDiff(diff)
		return nil
	})
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	return withSnapshotStore(cmd, func(ctx context.Context, _ string, store *cache.SnapshotStore) error {
		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	})
}

// loadSnapshot resolves an ID argument, honoring the "latest" alias.
func loadSnapshot(ctx context.Context, root string, store *cache.SnapshotStore, id string) (*cache.CacheRoot, *cache.SnapshotMetadata, error) {
	if id == "latest" {
		doc, meta, err := store.LoadLatest(ctx, cache.ProjectHash(root))
		if err != nil {
			return nil, nil, fmt.Errorf("resolving latest snapshot: %w", err)
		}
		return doc, meta, nil
	}
	doc, meta, err := store.Load(ctx, id)
	if err != nil {
		if isSnapshotNotFound(err) {
			return nil, nil, fmt.Errorf("snapshot %s not found", id)
		}
		return nil, nil, err
	}
	return doc, meta, nil
}

func isSnapshotNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

func renderSnapshotDiff(diff *cache.SnapshotDiff) {
	heading(fmt.Sprintf("%s -> %s", diff.BaseSnapshotID, diff.TargetSnapshotID))
	field("changes", fmt.Sprintf("%d across %d file%s (%.1f%% of symbols)",
		diff.Summary.TotalChanges, diff.Summary.FilesAffected,
		plural(diff.Summary.FilesAffected, "", "s"), diff.Summary.ChangeRatio*100))
	printDiffList("files added", diff.FilesAdded, okStyle)
	printDiffList("files removed", diff.FilesRemoved, errStyle)
	printDiffList("files changed", diff.FilesChanged, warnStyle)
	printDiffList("symbols added", diff.SymbolsAdded, okStyle)
	printDiffList("symbols removed", diff.SymbolsRemoved, errStyle)
	for _, s := range diff.SymbolsModified {
		fmt.Printf("    %s  %s\n", s.QualifiedName, styled(dimStyle, s.ChangeType))
	}
}

func printDiffList(label string, items []string, st lipgloss.Style) {
	if len(items) == 0 {
		return
	}
	fmt.Println(styled(labelStyle, "  "+label+":"))
	for _, item := range items {
		fmt.Printf("    %s\n", styled(st, item))
	}
}

// formatBytes renders a byte count with a human-readable prefix.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/1024/1024)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

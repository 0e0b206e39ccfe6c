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
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	acp "github.com/AleutianAI/acp/services/acp"
	"github.com/AleutianAI/acp/services/acp/scan"
	"github.com/AleutianAI/acp/services/acp/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the tree and reindex on change",
		Long: `watch keeps the saved index current: filesystem events are batched under a
debounce window and applied as incremental updates. The index is built first
when missing and refreshed when stale.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	cmd.Flags().Int("debounce", 0, "Debounce window in milliseconds (default from config)")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	svc, err := openService(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncIndex(ctx, svc); err != nil {
		return err
	}

	w, err := newWatcher(cmd, svc)
	if err != nil {
		return err
	}
	fmt.Printf("watching %s (ctrl-c to stop)\n", svc.Root())
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newWatcher builds a watcher over the service's root, sharing the indexer's
// walk rules so both agree on which paths count.
func newWatcher(cmd *cobra.Command, svc *acp.Service) (*watch.Watcher, error) {
	cfg := svc.Config()
	debounce := time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond
	if ms, _ := cmd.Flags().GetInt("debounce"); ms > 0 {
		debounce = time.Duration(ms) * time.Millisecond
	}
	return watch.New(svc.Root(), svc.ApplyBatch,
		watch.WithMatcher(scan.NewMatcher(svc.Root(), scanOptions(cfg))),
		watch.WithDebounce(debounce),
		watch.WithLogger(slog.Default()),
	)
}

// syncIndex brings the published index current before watching or serving:
// reload the saved document when one exists (applying any changes made since
// it was written), or build from scratch.
func syncIndex(ctx context.Context, svc *acp.Service) error {
	if err := svc.Reload(ctx); err != nil {
		slog.Info("no usable saved index, building", "root", svc.Root())
		if _, err := svc.Init(ctx); err != nil {
			return err
		}
		return nil
	}
	pending, err := detectChanges(svc)
	if err != nil {
		return fmt.Errorf("detecting changes: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	slog.Info("catching up on offline changes", "paths", len(pending))
	if _, err := svc.Update(ctx, pending); err != nil {
		return err
	}
	return nil
}

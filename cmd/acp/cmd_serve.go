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
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	acp "github.com/AleutianAI/acp/services/acp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over HTTP",
		Long: `serve answers queries over HTTP (routes under /v1/acp), streams index
events over a websocket, and exposes Prometheus metrics on /metrics. The
index is built on startup when missing and caught up when stale.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("watch", false, "Watch the tree and reindex on change")
	cmd.Flags().Bool("snapshots", false, "Enable the snapshot endpoints")
	cmd.Flags().Int("debounce", 0, "Watch debounce window in milliseconds (default from config)")
	cmd.Flags().Bool("trace-stdout", false, "Write spans to stdout")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceStdout, _ := cmd.Flags().GetBool("trace-stdout")
	shutdownTelemetry, err := acp.SetupTelemetry(ctx, acp.TelemetryOptions{TraceToStdout: traceStdout})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	if err := syncIndex(ctx, svc); err != nil {
		return err
	}
	snapshots, _ := cmd.Flags().GetBool("snapshots")
	if snapshots {
		if err := svc.EnableSnapshots(); err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
	}
	watching, _ := cmd.Flags().GetBool("watch")
	if watching {
		w, err := newWatcher(cmd, svc)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("watcher stopped", "error", err)
			}
		}()
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = svc.Config().Server.Addr
	}
	opts := []acp.ServerOption{acp.WithServerAddr(addr)}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		opts = append(opts, acp.WithDebug(true))
	}

	printBanner(svc.Document().Project.Name, addr, watching, snapshots)
	return acp.NewServer(svc, opts...).Run(ctx)
}

func printBanner(project, addr string, watching, snapshots bool) {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	watchStatus := "DISABLED (pass --watch to enable)"
	if watching {
		watchStatus = "ENABLED (incremental reindex on change)"
	}
	snapStatus := "DISABLED (pass --snapshots to enable)"
	if snapshots {
		snapStatus = "ENABLED (badger-backed history)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                         ACP QUERY SERVER                          ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Annotation index over HTTP: symbols, constraints, call edges.    ║
║  Project:   %-53s ║
║  Watch:     %-53s ║
║  Snapshots: %-53s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://%s/v1/acp/health                          │  ║
║  │                                                             │  ║
║  │ # Look up a symbol                                          │  ║
║  │ curl -X POST http://%s/v1/acp/query \                 │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"operation": "symbol", "name": "Charge"}'            │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Index: /init, /update, /stats                                ║
║  ├── Query: /query (symbol, file, domain, callers, callees,       ║
║  │          search, stats, hotpaths)                              ║
║  ├── Events: /events (websocket)                                  ║
║  └── Snapshots: /snapshot, /snapshots, /snapshot/:id, /diff       ║
║                                                                   ║
║  Metrics: /metrics    Press Ctrl+C to stop                        ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, project, watchStatus, snapStatus, host, host)
}

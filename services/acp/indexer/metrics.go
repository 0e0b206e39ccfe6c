// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for indexing operations.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// buildDuration measures full and incremental build times.
	//
	// Labels:
	//   - mode: "full" or "update"
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acp",
			Subsystem: "indexer",
			Name:      "build_duration_seconds",
			Help:      "Duration of index builds in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"mode"},
	)

	// filesIndexed counts files processed per build mode.
	//
	// Labels:
	//   - mode: "full" or "update"
	filesIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acp",
			Subsystem: "indexer",
			Name:      "files_indexed_total",
			Help:      "Total files parsed and indexed.",
		},
		[]string{"mode"},
	)

	// parseDuration measures the per-file parse pipeline.
	//
	// Labels:
	//   - language: detected language name, e.g. "go"
	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acp",
			Subsystem: "indexer",
			Name:      "parse_duration_seconds",
			Help:      "Duration of per-file extraction and annotation parsing in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"language"},
	)

	// diagnosticsTotal counts parse and link diagnostics by kind.
	//
	// Labels:
	//   - kind: diagnostic kind, e.g. "malformed_annotation"
	diagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acp",
			Subsystem: "indexer",
			Name:      "diagnostics_total",
			Help:      "Total diagnostics emitted during indexing.",
		},
		[]string{"kind"},
	)

	// fileErrorsTotal counts files that failed to index.
	fileErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "acp",
			Subsystem: "indexer",
			Name:      "file_errors_total",
			Help:      "Total files that failed to read, parse, or link.",
		},
	)
)

// recordBuildMetrics records one completed build or update.
func recordBuildMetrics(mode string, duration time.Duration, res *Result) {
	buildDuration.WithLabelValues(mode).Observe(duration.Seconds())
	filesIndexed.WithLabelValues(mode).Add(float64(res.FilesIndexed))
	fileErrorsTotal.Add(float64(len(res.FileErrors)))
	for _, d := range res.Diagnostics {
		diagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
}

// observeParseDuration records one file's parse pipeline time.
func observeParseDuration(language string, d time.Duration) {
	parseDuration.WithLabelValues(language).Observe(d.Seconds())
}

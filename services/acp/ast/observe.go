// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var astTracer = otel.Tracer("acp.ast")

// startExtractSpan opens the per-file extraction span.
func startExtractSpan(ctx context.Context, language, path string, sizeBytes int) (context.Context, trace.Span) {
	return astTracer.Start(ctx, "ast.Extract",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file", path),
			attribute.Int("size_bytes", sizeBytes),
		))
}

// setExtractSpanResult records extraction counts on the span.
func setExtractSpanResult(span trace.Span, symbols, imports int, syntaxErrors bool) {
	span.SetAttributes(
		attribute.Int("symbols", symbols),
		attribute.Int("imports", imports),
		attribute.Bool("syntax_errors", syntaxErrors),
	)
}

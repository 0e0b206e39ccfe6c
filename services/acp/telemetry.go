// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package acp

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TelemetryOptions controls the OpenTelemetry wiring for a server process.
type TelemetryOptions struct {
	// ServiceName tags exported telemetry. Defaults to "aleutian-acp".
	ServiceName string

	// TraceToStdout installs a pretty-printing stdout span exporter. Meant
	// for debug runs; without it spans stay no-op.
	TraceToStdout bool
}

// SetupTelemetry installs the process-global OpenTelemetry providers.
//
// Description:
//
//	Installs W3C trace-context propagation, a metric provider that exports
//	into the default Prometheus registry (the same registry the promauto
//	instruments use, so /metrics serves both), and optionally a stdout span
//	exporter.
//
// Outputs:
//   - func: shutdown hook that flushes providers in reverse install order.
//   - error: exporter construction failure; nothing global was installed.
func SetupTelemetry(ctx context.Context, opts TelemetryOptions) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "aleutian-acp"
	}

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("building prometheus exporter: %w", err)
	}

	var spanExporter *stdouttrace.Exporter
	if opts.TraceToStdout {
		spanExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("building stdout trace exporter: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
	)

	var shutdowns []func(context.Context) error

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)
	shutdowns = append(shutdowns, meterProvider.Shutdown)

	if spanExporter != nil {
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spanExporter),
		)
		otel.SetTracerProvider(tracerProvider)
		shutdowns = append(shutdowns, tracerProvider.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

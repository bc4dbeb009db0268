/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for inspectord.
//
// Spans follow the run/check lifecycle: one span per run execution, one
// child span per item evaluation, one child span per HTTP request. Custom
// span attributes use the `inspectord.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/qen-labs/inspectord"

// Tracer returns inspectord's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider configures the global TracerProvider to export spans to
// an OTLP/gRPC collector at endpoint. An empty endpoint disables tracing:
// the returned shutdown function is a no-op and Tracer() spans are dropped
// by the default no-op provider.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("inspectord"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartRunSpan opens the span covering one run's full server-executor
// lifecycle, from the start of execution through finalisation.
func StartRunSpan(ctx context.Context, runID, clusterID, executor string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("inspectord.run_id", runID),
			attribute.String("inspectord.cluster_id", clusterID),
			attribute.String("inspectord.executor", executor),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRunSpan records the run's terminal status and item counts, then closes
// the span.
func EndRunSpan(span trace.Span, status string, totalItems, processedItems int) {
	span.SetAttributes(
		attribute.String("inspectord.status", status),
		attribute.Int("inspectord.total_items", totalItems),
		attribute.Int("inspectord.processed_items", processedItems),
	)
	span.End()
}

// StartCheckSpan opens a span covering one inspection item's evaluation
// against a cluster.
func StartCheckSpan(ctx context.Context, checkType, itemID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "check.evaluate",
		trace.WithAttributes(
			attribute.String("inspectord.check_type", checkType),
			attribute.String("inspectord.item_id", itemID),
		),
	)
}

// EndCheckSpan records a check's outcome and closes the span.
func EndCheckSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("inspectord.result_status", status))
	span.End()
}

// StartProbeSpan opens a span covering one cluster connectivity probe.
func StartProbeSpan(ctx context.Context, clusterID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cluster.probe",
		trace.WithAttributes(
			attribute.String("inspectord.cluster_id", clusterID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndProbeSpan records a probe's connection status and closes the span.
func EndProbeSpan(span trace.Span, status string) {
	span.SetAttributes(attribute.String("inspectord.connection_status", status))
	span.End()
}

// StartAgentTaskSpan opens a span covering one agent's claim and processing
// of a dispatched task.
func StartAgentTaskSpan(ctx context.Context, agentID, runID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.task",
		trace.WithAttributes(
			attribute.String("inspectord.agent_id", agentID),
			attribute.String("inspectord.run_id", runID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndAgentTaskSpan closes an agent task span, recording whether the item's
// result was accepted as a new row or observed as an idempotent replay.
func EndAgentTaskSpan(span trace.Span, created bool) {
	span.SetAttributes(attribute.Bool("inspectord.result_created", created))
	span.End()
}

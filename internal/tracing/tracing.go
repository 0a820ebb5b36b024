// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps the OpenTelemetry SDK for per-run and
// per-task spans. Span teardown (End) is panic-guarded so a failure
// while closing a span never aborts a run. Spans go out through the stdouttrace
// exporter; there is no collector in the deployment to ship them to.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps an SDK TracerProvider configured with the stdouttrace
// exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider returns a Provider that writes completed spans as JSON
// to w. A nil w discards all output while still exercising the
// exporter pipeline, useful for commands run with --quiet.
func NewProvider(serviceName string, w io.Writer) (*Provider, error) {
	if w == nil {
		w = io.Discard
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("tracing: new stdouttrace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: merge resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return &Provider{tp: tp}, nil
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes buffered spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// RunSpan wraps the root span for one workflow run.
type RunSpan struct{ span trace.Span }

// StartRun opens a root span for a workflow run.
func StartRun(ctx context.Context, tracer trace.Tracer, runID, workflowName string) (context.Context, *RunSpan) {
	if tracer == nil {
		return ctx, nil
	}
	ctx, span := tracer.Start(ctx, fmt.Sprintf("workflow.run: %s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("workflow.run_id", runID),
		),
	)
	return ctx, &RunSpan{span: span}
}

// TaskSpan wraps the span for a single task execution.
type TaskSpan struct{ span trace.Span }

// StartTask opens a span for a task execution within a run.
func StartTask(ctx context.Context, tracer trace.Tracer, taskID string) (context.Context, *TaskSpan) {
	if tracer == nil {
		return ctx, nil
	}
	ctx, span := tracer.Start(ctx, fmt.Sprintf("task: %s", taskID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("task.id", taskID)),
	)
	return ctx, &TaskSpan{span: span}
}

// End closes the run span, recording err as the span's terminal
// status when non-nil.
func (s *RunSpan) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	defer recoverSpanPanic("run span end")
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// End closes the task span, recording err as the span's terminal
// status when non-nil.
func (s *TaskSpan) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	defer recoverSpanPanic("task span end")
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

func recoverSpanPanic(where string) {
	if r := recover(); r != nil {
		slog.Warn("recovered panic in tracing", slog.String("where", where), slog.Any("error", r))
	}
}

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

// Package metrics records workflow and task execution counts and
// durations through the OpenTelemetry Meter API, exported to the
// Prometheus scrape format via the otel prometheus bridge reader. The
// bridge registers against a private Prometheus registry rather than
// the global default so a Collector can be constructed more than once
// (e.g. in tests) without a duplicate-registration panic.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Collector implements pkg/workflow/runner.MetricsCollector over a
// Meter.
type Collector struct {
	registry *prometheus.Registry
	mp       *sdkmetric.MeterProvider

	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	tasksTotal   metric.Int64Counter
	taskDuration metric.Float64Histogram

	activeRuns   map[string]bool
	activeRunsMu sync.RWMutex
}

// New builds a Collector on its own MeterProvider: a fresh Prometheus
// registry, the otel prometheus bridge exporter reading into it, and a
// meter scoped to this engine.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	c, err := NewCollector(mp)
	if err != nil {
		return nil, err
	}
	c.registry = registry
	c.mp = mp
	return c, nil
}

// NewCollector builds a Collector's instruments from an existing meter
// provider. Callers who need the scrape handler should use New, which
// also owns the provider and its registry.
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("workflow-engine")

	c := &Collector{activeRuns: make(map[string]bool)}

	var err error
	c.runsTotal, err = meter.Int64Counter(
		"workflow_engine_runs_total",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	c.tasksTotal, err = meter.Int64Counter(
		"workflow_engine_tasks_total",
		metric.WithDescription("Total number of tasks executed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	c.runDuration, err = meter.Float64Histogram(
		"workflow_engine_run_duration_seconds",
		metric.WithDescription("Workflow run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.taskDuration, err = meter.Float64Histogram(
		"workflow_engine_task_duration_seconds",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"workflow_engine_active_runs",
		metric.WithDescription("Number of currently active workflow runs"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			c.activeRunsMu.RLock()
			count := len(c.activeRuns)
			c.activeRunsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordRunStart implements runner.MetricsCollector.
func (c *Collector) RecordRunStart(workflowID, runID string) {
	c.activeRunsMu.Lock()
	c.activeRuns[runID] = true
	c.activeRunsMu.Unlock()
}

// RecordRunComplete implements runner.MetricsCollector.
func (c *Collector) RecordRunComplete(workflowID, runID, status string, durationMs int64) {
	c.activeRunsMu.Lock()
	delete(c.activeRuns, runID)
	c.activeRunsMu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("status", status),
	)
	ctx := context.Background()
	c.runsTotal.Add(ctx, 1, attrs)
	c.runDuration.Record(ctx, float64(durationMs)/1000, attrs)
}

// RecordTaskComplete implements runner.MetricsCollector.
func (c *Collector) RecordTaskComplete(workflowID, taskID, status string, durationMs int64) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("task", taskID),
		attribute.String("status", status),
	)
	ctx := context.Background()
	c.tasksTotal.Add(ctx, 1, attrs)
	c.taskDuration.Record(ctx, float64(durationMs)/1000, attrs)
}

// Handler returns the HTTP handler exposing this Collector's registry
// in the Prometheus text exposition format. Nil when the Collector was
// built with NewCollector on a caller-owned provider.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider when this Collector owns one.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.mp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.mp.Shutdown(shutdownCtx)
}

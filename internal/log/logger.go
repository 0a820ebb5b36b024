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

// Package log configures the engine's structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys, kept consistent across the engine.
const (
	RunIDKey    = "run_id"
	TaskIDKey   = "task_id"
	WaveKey     = "wave"
	WorkflowKey = "workflow"
	DurationKey = "duration_ms"
	EventKey    = "event"
	ScheduleKey = "schedule_id"
	RuleKey     = "rule"
)

// Config holds logger construction options.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns sensible defaults: info level, JSON to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: os.Stderr}
}

// FromEnv builds a Config from WORKFLOW_ENGINE_LOG_LEVEL / LOG_LEVEL /
// LOG_FORMAT, falling back to DefaultConfig.
func FromEnv() *Config {
	cfg := DefaultConfig()
	if level := os.Getenv("WORKFLOW_ENGINE_LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	} else if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	return cfg
}

// New builds a slog.Logger from cfg.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a logger annotated with a run id.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String(RunIDKey, runID))
}

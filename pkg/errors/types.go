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

// Package errors defines the semantic error kinds raised at the
// engine's validation and scheduling boundaries. Task-level failures
// never surface as errors; they are recorded in a TaskResult instead.
package errors

import "fmt"

// ValidationError represents a malformed workflow: id collisions,
// missing dependencies, empty matrix dimensions, invalid regexes.
type ValidationError struct {
	Field      string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// CircularDependencyError is raised by the cycle detector. Path names
// each node in the cycle in traversal order, e.g. []string{"a","c","b","a"}.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	msg := "circular dependency detected: "
	for i, n := range e.Path {
		if i > 0 {
			msg += " -> "
		}
		msg += n
	}
	return msg
}

// ConfigError represents an invalid cron expression, a missing trigger
// credential, or another subcommand-fatal configuration problem.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NotFoundError represents a missing schedule, rule, or run.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// TimeoutError represents a drain or shutdown timeout, distinct from a
// per-task Timeout (which is a TaskResult status, not an error).
type TimeoutError struct {
	Operation string
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Operation)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

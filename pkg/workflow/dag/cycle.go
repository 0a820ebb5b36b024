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

// Package dag detects dependency cycles and assigns tasks to parallel
// execution waves.
package dag

import (
	"github.com/tombee/workflow-engine/pkg/errors"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

type color int

const (
	white color = iota // unvisited
	gray               // in progress (on the current DFS stack)
	black              // finished
)

// CheckCycles runs a three-color DFS over the pre-expansion task list.
// It is meant as a cheap early failure before matrix expansion:
// missing dependency references are not cycles and are left to a
// separate parse-time validator.
func CheckCycles(tasks []*workflow.Task) error {
	byID := make(map[string]*workflow.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	colors := make(map[string]color, len(tasks))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case black:
			return nil
		case gray:
			return &errors.CircularDependencyError{Path: cyclePath(stack, id)}
		}

		t, ok := byID[id]
		if !ok {
			return nil // unknown dependency: not this detector's concern
		}

		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range t.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, t := range tasks {
		if colors[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath returns the stack suffix from the first occurrence of
// repeat onward, plus repeat again, e.g. ["a","c","b"] + "a" yields
// ["a","c","b","a"].
func cyclePath(stack []string, repeat string) []string {
	for i, id := range stack {
		if id == repeat {
			path := append([]string{}, stack[i:]...)
			return append(path, repeat)
		}
	}
	return append(append([]string{}, stack...), repeat)
}

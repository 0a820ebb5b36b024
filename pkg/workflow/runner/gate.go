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

// Package runner drives an ExecutionPlan wave by wave and re-invokes
// the Task Executor for a single completed task on demand.
package runner

import "context"

// StepGate is the single-slot semaphore behind step mode: initialized
// empty, the runner blocks in Wait until an external
// caller (the CLI, a UI) calls Release once per step.
type StepGate struct {
	ch chan struct{}
}

// NewStepGate returns an empty gate.
func NewStepGate() *StepGate {
	return &StepGate{ch: make(chan struct{}, 1)}
}

// Release lets exactly one pending (or future) Wait proceed. Calling
// it again before the slot is consumed is a no-op, matching a
// single-slot semaphore rather than an accumulating counter.
func (g *StepGate) Release() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Release is called or ctx is done.
func (g *StepGate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

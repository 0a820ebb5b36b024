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

package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind tags the variant carried by an Event's Payload.
type EventKind string

const (
	EventWorkflowStarted   EventKind = "WorkflowStarted"
	EventWaveStarted       EventKind = "WaveStarted"
	EventWaveCompleted     EventKind = "WaveCompleted"
	EventWorkflowCompleted EventKind = "WorkflowCompleted"
	EventWorkflowCancelled EventKind = "WorkflowCancelled"
	EventStepPaused        EventKind = "StepPaused"
	EventStepResumed       EventKind = "StepResumed"
	EventTaskStarted       EventKind = "TaskStarted"
	EventTaskOutput        EventKind = "TaskOutput"
	EventTaskCompleted     EventKind = "TaskCompleted"
	EventTaskSkipped       EventKind = "TaskSkipped"
	EventTaskCancelled     EventKind = "TaskCancelled"
	EventTriggerCooldown   EventKind = "TriggerCooldown"
	EventScheduledRunTriggered EventKind = "ScheduledRunTriggered"
	EventScheduledRunCompleted EventKind = "ScheduledRunCompleted"
)

// Event is the common envelope every lifecycle event carries:
// workflowId, runId, timestamp (UTC), plus a kind-tagged
// payload.
type Event struct {
	Kind       EventKind
	WorkflowID string
	RunID      string
	Timestamp  time.Time
	Payload    interface{}
}

// OutputStream distinguishes which stream a TaskOutput line came from.
type OutputStream string

const (
	StreamStdout  OutputStream = "stdout"
	StreamStderr  OutputStream = "stderr"
	StreamCommand OutputStream = "command"
)

// Workflow-level payloads.

type WorkflowStartedPayload struct {
	TotalTasks int
}

type WaveStartedPayload struct {
	WaveIndex int
	TaskIDs   []string
}

type WaveCompletedPayload struct {
	WaveIndex int
	Succeeded int
	Failed    int
	Skipped   int
}

type WorkflowCompletedPayload struct {
	Name      string
	Status    string
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
}

type WorkflowCancelledPayload struct{}

type StepPausedPayload struct {
	CompletedTaskID string
}

type StepResumedPayload struct{}

// Task-level payloads.

type TaskStartedPayload struct {
	TaskID string
}

type TaskOutputPayload struct {
	TaskID string
	Line   string
	Stream OutputStream
}

type TaskCompletedPayload struct {
	Result TaskResult
}

type TaskSkippedPayload struct {
	TaskID string
	Reason string
}

type TaskCancelledPayload struct {
	TaskID string
}

// Trigger and scheduler payloads.

type TriggerCooldownPayload struct {
	RuleName  string
	Remaining time.Duration
}

type ScheduledRunTriggeredPayload struct {
	ScheduleID   string
	WorkflowPath string
	RunID        string
	IsManual     bool
}

type ScheduledRunCompletedPayload struct {
	ScheduleID string
	Status     string
	Duration   time.Duration
	Error      string
}

// Handler receives published events. A handler must not block
// indefinitely; the publisher serializes handler invocation for a
// single event but does not serialize across events.
type Handler func(Event)

// Publisher is a single-producer, multi-consumer in-process
// broadcaster. Handler panics/errors are caught and logged; they never
// abort the publishing goroutine.
type Publisher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

// NewPublisher returns a Publisher that logs handler failures via logger
// (or slog.Default() if nil).
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

// Subscribe registers a handler and returns an unsubscribe func.
func (p *Publisher) Subscribe(h Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.handlers)
	p.handlers = append(p.handlers, h)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.handlers) {
			p.handlers[idx] = nil
		}
	}
}

// Publish invokes every subscribed handler with ev, in subscription
// order, recovering from and logging any handler panic.
func (p *Publisher) Publish(ev Event) {
	p.mu.RLock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		p.invoke(h, ev)
	}
}

func (p *Publisher) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked", slog.Any("panic", r), slog.String("event", string(ev.Kind)))
		}
	}()
	h(ev)
}

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

package trigger

import (
	"context"
	"fmt"
)

// Dispatcher wires the Matcher and the template resolver to a
// Scheduler, turning one inbound Message into a workflow run when a
// rule matches.
type Dispatcher struct {
	Matcher   *Matcher
	Scheduler Scheduler
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(matcher *Matcher, scheduler Scheduler) *Dispatcher {
	return &Dispatcher{Matcher: matcher, Scheduler: scheduler}
}

// DispatchResult is returned to the chat surface that received msg.
type DispatchResult struct {
	Matched  bool
	RunID    string
	Response string
}

// Handle matches msg against rules and, on a match, resolves every
// parameter template and calls the Scheduler. senderDisplayName
// becomes TriggeredBy on the
// ManualDispatchRequest.
func (d *Dispatcher) Handle(ctx context.Context, rules []TriggerRule, msg Message, senderDisplayName string) (DispatchResult, error) {
	match, err := d.Matcher.Match(rules, msg)
	if err != nil {
		return DispatchResult{}, err
	}
	if match == nil {
		return DispatchResult{Matched: false}, nil
	}

	msgCtx := MessageContext(msg)
	params := make(map[string]string, len(match.Rule.Params))
	for name, tmpl := range match.Rule.Params {
		params[name] = ResolveTemplate(tmpl, match.Captures, msgCtx)
	}

	req := ManualDispatchRequest{
		WorkflowPath:    match.Rule.WorkflowPath,
		InputParameters: params,
		Reason:          fmt.Sprintf("Triggered by %s", match.Rule.Name),
		TriggeredBy:     senderDisplayName,
	}
	runID, err := d.Scheduler.Dispatch(ctx, req)
	if err != nil {
		return DispatchResult{}, err
	}

	response := ""
	if match.Rule.ResponseTemplate != "" {
		response = ResolveTemplate(match.Rule.ResponseTemplate, match.Captures, msgCtx, map[string]string{"runid": runID})
	}
	return DispatchResult{Matched: true, RunID: runID, Response: response}, nil
}

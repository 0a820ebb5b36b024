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

// Package trigger converts inbound chat messages into workflow runs:
// matching them against declared rules, resolving `{key}` templates,
// and dispatching the result to a scheduler.
package trigger

import (
	"context"
	"time"
)

// RuleType selects a TriggerRule's match algorithm.
type RuleType string

const (
	RuleCommand RuleType = "command"
	RulePattern RuleType = "pattern"
	RuleKeyword RuleType = "keyword"
)

// TriggerRule is one entry of a chat-dispatch configuration: a name
// unique within it, the sources it applies to, a match algorithm, and
// the workflow it dispatches to on a match.
type TriggerRule struct {
	Name     string
	Sources  []string
	Type     RuleType
	Pattern  string   // Command syntax ("/build {project}") or a raw regex, depending on Type.
	Keywords []string // Used only when Type == RuleKeyword.

	WorkflowPath     string
	Params           map[string]string // parameter name -> {token} template
	ResponseTemplate string
	Cooldown         time.Duration
	Enabled          bool
}

// Message is one inbound chat message being matched against the
// configured rules.
type Message struct {
	Text        string
	Source      string
	Username    string
	UserID      string
	ChannelID   string
	ChannelName string
	MessageID   string
}

// MatchResult is what a successful Match produces: the rule that fired
// and whatever named values it extracted (regex capture groups, or
// {"keyword": matched} for a keyword rule).
type MatchResult struct {
	Rule     TriggerRule
	Captures map[string]string
}

// ManualDispatchRequest is the parameter set the Dispatcher hands to
// the scheduler's entrypoint.
type ManualDispatchRequest struct {
	WorkflowPath    string
	InputParameters map[string]string
	Reason          string
	TriggeredBy     string
}

// Scheduler is the external collaborator a Dispatcher calls into once
// a rule has matched and its parameters have been resolved.
type Scheduler interface {
	Dispatch(ctx context.Context, req ManualDispatchRequest) (runID string, err error)
}

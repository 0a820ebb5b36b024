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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

func newMatcher() *Matcher {
	return NewMatcher(workflow.NewPublisher(nil))
}

func TestMatcher_CommandRule(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{
		Name: "build", Enabled: true, Sources: []string{"telegram"},
		Type: RuleCommand, Pattern: "/build {project}",
	}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "/build my-api", Source: "telegram"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "build", res.Rule.Name)
	assert.Equal(t, "my-api", res.Captures["project"])
}

func TestMatcher_CommandRule_NoMatch(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{
		Name: "build", Enabled: true, Sources: []string{"telegram"},
		Type: RuleCommand, Pattern: "/build {project}",
	}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "/deploy my-api", Source: "telegram"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMatcher_PatternRule_CaseInsensitiveAndCaptures(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{
		Name: "pr", Enabled: true, Sources: []string{"slack"},
		Type: RulePattern, Pattern: `^review pr (?P<number>\d+)$`,
	}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "REVIEW PR 42", Source: "slack"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "42", res.Captures["number"])
}

func TestMatcher_KeywordRule_FirstKeywordWins(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{
		Name: "alert", Enabled: true, Sources: []string{"discord"},
		Type: RuleKeyword, Keywords: []string{"fire", "down"},
	}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "the server is DOWN and on fire", Source: "discord"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "fire", res.Captures["keyword"])
}

func TestMatcher_DisabledRuleNeverMatches(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{Name: "x", Enabled: false, Sources: []string{"slack"}, Type: RuleKeyword, Keywords: []string{"hi"}}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "hi", Source: "slack"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMatcher_SourceMismatchNeverMatches(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{Name: "x", Enabled: true, Sources: []string{"slack"}, Type: RuleKeyword, Keywords: []string{"hi"}}
	res, err := m.Match([]TriggerRule{rule}, Message{Text: "hi", Source: "discord"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMatcher_FirstMatchWinsInDeclaredOrder(t *testing.T) {
	m := newMatcher()
	rules := []TriggerRule{
		{Name: "a", Enabled: true, Sources: []string{"slack"}, Type: RuleKeyword, Keywords: []string{"deploy"}},
		{Name: "b", Enabled: true, Sources: []string{"slack"}, Type: RuleKeyword, Keywords: []string{"deploy"}},
	}
	res, err := m.Match(rules, Message{Text: "please deploy now", Source: "slack"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "a", res.Rule.Name)
}

func TestMatcher_Cooldown(t *testing.T) {
	m := newMatcher()
	rule := TriggerRule{
		Name: "ping", Enabled: true, Sources: []string{"slack"},
		Type: RuleKeyword, Keywords: []string{"ping"}, Cooldown: 50 * time.Millisecond,
	}
	msg := Message{Text: "ping", Source: "slack"}

	res, err := m.Match([]TriggerRule{rule}, msg)
	require.NoError(t, err)
	require.NotNil(t, res, "first match should succeed")

	res, err = m.Match([]TriggerRule{rule}, msg)
	require.NoError(t, err)
	assert.Nil(t, res, "second match within the cooldown window must be suppressed")

	time.Sleep(70 * time.Millisecond)
	res, err = m.Match([]TriggerRule{rule}, msg)
	require.NoError(t, err)
	assert.NotNil(t, res, "match should succeed again once cooldown has elapsed")
}

func TestCommandToRegex_WhitespaceBetweenTokens(t *testing.T) {
	re, err := commandToRegex("/deploy {env} now")
	require.NoError(t, err)
	m := re.FindStringSubmatch("/deploy   staging   now")
	require.NotNil(t, m)
}

func TestEscapeToken_EmbeddedPlaceholder(t *testing.T) {
	re, err := commandToRegex("deploy-{env}")
	require.NoError(t, err)
	names := re.SubexpNames()
	found := false
	for _, n := range names {
		if n == "env" {
			found = true
		}
	}
	assert.True(t, found)

	m := re.FindStringSubmatch("deploy-prod")
	require.NotNil(t, m)
}

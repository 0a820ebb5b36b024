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
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

// Matcher evaluates TriggerRules against inbound Messages in declared
// order, first match wins. It caches compiled
// regexes (Command rules are converted to a regex once and reused) and
// tracks each rule's last-matched time so a rule on cooldown is
// skipped rather than re-triggered.
type Matcher struct {
	pub *workflow.Publisher

	reMu  sync.Mutex
	regex map[string]*regexp.Regexp // keyed by rule name

	cooldownMu sync.Mutex
	lastMatch  map[string]time.Time
}

// NewMatcher returns a Matcher publishing TriggerCooldown events on pub.
func NewMatcher(pub *workflow.Publisher) *Matcher {
	return &Matcher{
		pub:       pub,
		regex:     make(map[string]*regexp.Regexp),
		lastMatch: make(map[string]time.Time),
	}
}

// Match evaluates rules in order against msg and returns the first
// applicable one that matches. A rule is applicable only when enabled,
// msg.Source is in its Sources list, and it is not currently on
// cooldown; an inapplicable-by-cooldown rule publishes a
// TriggerCooldown event before being skipped.
func (m *Matcher) Match(rules []TriggerRule, msg Message) (*MatchResult, error) {
	for _, rule := range rules {
		if !rule.Enabled || !containsFold(rule.Sources, msg.Source) {
			continue
		}
		if remaining, onCooldown := m.remainingCooldown(rule); onCooldown {
			m.pub.Publish(workflow.Event{
				Kind: workflow.EventTriggerCooldown, Timestamp: time.Now(),
				Payload: workflow.TriggerCooldownPayload{RuleName: rule.Name, Remaining: remaining},
			})
			continue
		}

		captures, matched, err := m.tryMatch(rule, msg)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		m.stampCooldown(rule)
		return &MatchResult{Rule: rule, Captures: captures}, nil
	}
	return nil, nil
}

func (m *Matcher) tryMatch(rule TriggerRule, msg Message) (map[string]string, bool, error) {
	switch rule.Type {
	case RuleCommand:
		re, err := m.compiledCommand(rule)
		if err != nil {
			return nil, false, err
		}
		return namedCaptures(re, msg.Text)
	case RulePattern:
		re, err := m.compiledPattern(rule)
		if err != nil {
			return nil, false, err
		}
		return namedCaptures(re, msg.Text)
	case RuleKeyword:
		lower := strings.ToLower(msg.Text)
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return map[string]string{"keyword": kw}, true, nil
			}
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("trigger: unknown rule type %q for rule %q", rule.Type, rule.Name)
	}
}

func namedCaptures(re *regexp.Regexp, text string) (map[string]string, bool, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, false, nil
	}
	names := re.SubexpNames()
	out := make(map[string]string, len(names))
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out, true, nil
}

func (m *Matcher) compiledCommand(rule TriggerRule) (*regexp.Regexp, error) {
	return m.cached(rule.Name, func() (*regexp.Regexp, error) { return commandToRegex(rule.Pattern) })
}

func (m *Matcher) compiledPattern(rule TriggerRule) (*regexp.Regexp, error) {
	return m.cached(rule.Name, func() (*regexp.Regexp, error) {
		src := rule.Pattern
		if !strings.HasPrefix(src, "(?i)") {
			src = "(?i)" + src
		}
		return regexp.Compile(src)
	})
}

func (m *Matcher) cached(key string, build func() (*regexp.Regexp, error)) (*regexp.Regexp, error) {
	m.reMu.Lock()
	defer m.reMu.Unlock()
	if re, ok := m.regex[key]; ok {
		return re, nil
	}
	re, err := build()
	if err != nil {
		return nil, err
	}
	m.regex[key] = re
	return re, nil
}

// commandToRegex converts a command-syntax pattern such as
// "/build {project}" into an anchored, case-insensitive regex with one
// named capture group per `{name}` placeholder: all
// other characters are escaped, and whitespace between tokens matches
// one-or-more whitespace characters.
func commandToRegex(cmd string) (*regexp.Regexp, error) {
	tokens := strings.Fields(cmd)
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, escapeToken(tok))
	}
	pattern := `(?i)^\s*` + strings.Join(parts, `\s+`) + `\s*$`
	return regexp.Compile(pattern)
}

// escapeToken rewrites one whitespace-delimited token, replacing every
// `{name}` placeholder with a named capture group and escaping
// everything else with regexp.QuoteMeta.
func escapeToken(tok string) string {
	var sb strings.Builder
	runes := []rune(tok)
	for i := 0; i < len(runes); {
		if runes[i] == '{' {
			if j := indexRune(runes[i:], '}'); j > 0 {
				name := string(runes[i+1 : i+j])
				sb.WriteString(fmt.Sprintf(`(?P<%s>\S+)`, name))
				i += j + 1
				continue
			}
		}
		sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		i++
	}
	return sb.String()
}

func indexRune(rs []rune, target rune) int {
	for i, r := range rs {
		if r == target {
			return i
		}
	}
	return -1
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// remainingCooldown reports whether rule last matched within its own
// Cooldown window, and if so how much of it remains.
func (m *Matcher) remainingCooldown(rule TriggerRule) (time.Duration, bool) {
	if rule.Cooldown <= 0 {
		return 0, false
	}
	m.cooldownMu.Lock()
	last, ok := m.lastMatch[rule.Name]
	m.cooldownMu.Unlock()
	if !ok {
		return 0, false
	}
	elapsed := time.Since(last)
	if elapsed >= rule.Cooldown {
		return 0, false
	}
	return rule.Cooldown - elapsed, true
}

func (m *Matcher) stampCooldown(rule TriggerRule) {
	m.cooldownMu.Lock()
	m.lastMatch[rule.Name] = time.Now()
	m.cooldownMu.Unlock()
}

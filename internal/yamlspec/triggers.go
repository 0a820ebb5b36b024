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

package yamlspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/workflow-engine/internal/trigger"
)

// triggerRulesDoc is the on-disk shape of a chat trigger-rule file, the
// config surface internal/trigger.TriggerRule is parsed from.
type triggerRulesDoc struct {
	Rules []triggerRuleDoc `yaml:"rules"`
}

type triggerRuleDoc struct {
	Name             string            `yaml:"name"`
	Sources          []string          `yaml:"sources"`
	Type             string            `yaml:"type"`
	Pattern          string            `yaml:"pattern"`
	Keywords         []string          `yaml:"keywords"`
	WorkflowPath     string            `yaml:"workflow"`
	Params           map[string]string `yaml:"params"`
	ResponseTemplate string            `yaml:"response"`
	Cooldown         string            `yaml:"cooldown"`
	Enabled          *bool             `yaml:"enabled"`
}

// LoadTriggerRules reads a trigger-rule file from path.
func LoadTriggerRules(path string) ([]trigger.TriggerRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamlspec: read %s: %w", path, err)
	}
	return ParseTriggerRules(data)
}

// ParseTriggerRules decodes a trigger-rule document.
func ParseTriggerRules(data []byte) ([]trigger.TriggerRule, error) {
	var doc triggerRulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yamlspec: parse trigger rules: %w", err)
	}

	rules := make([]trigger.TriggerRule, 0, len(doc.Rules))
	for _, rd := range doc.Rules {
		cooldown, err := parseDuration(rd.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("yamlspec: rule %q cooldown: %w", rd.Name, err)
		}
		enabled := true
		if rd.Enabled != nil {
			enabled = *rd.Enabled
		}
		rules = append(rules, trigger.TriggerRule{
			Name:             rd.Name,
			Sources:          rd.Sources,
			Type:             trigger.RuleType(rd.Type),
			Pattern:          rd.Pattern,
			Keywords:         rd.Keywords,
			WorkflowPath:     rd.WorkflowPath,
			Params:           rd.Params,
			ResponseTemplate: rd.ResponseTemplate,
			Cooldown:         cooldown,
			Enabled:          enabled,
		})
	}
	return rules, nil
}

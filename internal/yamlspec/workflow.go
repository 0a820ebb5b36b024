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

// Package yamlspec is the reference adapter pkg/workflow's package doc
// names: it parses a workflow YAML file into pkg/workflow's
// parser-agnostic types.
package yamlspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/workflow-engine/pkg/workflow"
)

// workflowDoc mirrors workflow.Workflow's YAML surface; durations are
// kept as strings and parsed with time.ParseDuration rather than a
// custom yaml.Unmarshaler.
type workflowDoc struct {
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Env            map[string]string `yaml:"env"`
	DefaultTimeout string            `yaml:"default_timeout"`
	DefaultShell   string            `yaml:"default_shell"`
	MaxParallelism int               `yaml:"max_parallelism"`
	Tasks          []taskDoc         `yaml:"tasks"`
	Webhooks       []webhookDoc      `yaml:"webhooks"`
	Execution      *executionDoc     `yaml:"execution"`
	Watch          *watchDoc         `yaml:"watch"`
	Triggers       []triggerDefDoc   `yaml:"triggers"`
}

type taskDoc struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Run             string            `yaml:"run"`
	Shell           string            `yaml:"shell"`
	WorkingDir      string            `yaml:"working_dir"`
	Env             map[string]string `yaml:"env"`
	DependsOn       []string          `yaml:"depends_on"`
	If              string            `yaml:"if"`
	Input           *inputDoc         `yaml:"input"`
	Output          *outputDoc        `yaml:"output"`
	Timeout         string            `yaml:"timeout"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	RetryCount      int               `yaml:"retry_count"`
	RetryDelay      string            `yaml:"retry_delay"`
	Matrix          *matrixDoc        `yaml:"matrix"`
	Execution       *executionDoc     `yaml:"execution"`
	Always          bool              `yaml:"always"`
}

type matrixDoc struct {
	// Dimensions is kept as a raw yaml.Node (rather than a Go map) so
	// its declared key order survives into MatrixSpec.DimensionOrder;
	// a plain map[string][]string would lose it.
	Dimensions yaml.Node           `yaml:"dimensions"`
	Include    []map[string]string `yaml:"include"`
	Exclude    []map[string]string `yaml:"exclude"`
}

type inputDoc struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type outputDoc struct {
	Kind          string `yaml:"kind"`
	Path          string `yaml:"path"`
	CaptureStderr bool   `yaml:"capture_stderr"`
	MaxSizeBytes  int64  `yaml:"max_size_bytes"`
}

type webhookDoc struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

type executionDoc struct {
	Kind                  string `yaml:"kind"`
	Container             string `yaml:"container"`
	Privileged            bool   `yaml:"privileged"`
	User                  string `yaml:"user"`
	Interactive           bool   `yaml:"interactive"`
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	SSHUser               string `yaml:"ssh_user"`
	IdentityFile          string `yaml:"identity_file"`
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking"`
	Disabled              bool   `yaml:"disabled"`
}

type watchDoc struct {
	Paths   []string `yaml:"paths"`
	Exclude []string `yaml:"exclude"`
}

type triggerDefDoc struct {
	Type string `yaml:"type"`
	Cron string `yaml:"cron"`
	Path string `yaml:"path"`
}

// Loader loads workflow.Workflow values from YAML files on disk,
// satisfying internal/scheduler's WorkflowLoader.
type Loader struct{}

// NewLoader returns a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load reads and parses the workflow file at path.
func (l *Loader) Load(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamlspec: read %s: %w", path, err)
	}
	return Parse(data, workflowID(path))
}

func workflowID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Parse decodes a workflow YAML document into workflow.Workflow. id is
// typically the source file's stem.
func Parse(data []byte, id string) (*workflow.Workflow, error) {
	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yamlspec: parse workflow: %w", err)
	}

	defaultTimeout, err := parseDuration(doc.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("yamlspec: default_timeout: %w", err)
	}

	wf := &workflow.Workflow{
		ID:             id,
		Name:           doc.Name,
		Description:    doc.Description,
		Env:            doc.Env,
		DefaultTimeout: defaultTimeout,
		DefaultShell:   doc.DefaultShell,
		MaxParallelism: doc.MaxParallelism,
		Execution:      convertExecution(doc.Execution),
		Watch:          convertWatch(doc.Watch),
	}

	for _, w := range doc.Webhooks {
		wf.Webhooks = append(wf.Webhooks, workflow.WebhookConfig{Name: w.Name, URL: w.URL, Events: w.Events})
	}
	for _, t := range doc.Triggers {
		wf.Triggers = append(wf.Triggers, workflow.TriggerDefinition{
			Type: workflow.TriggerDefinitionType(t.Type),
			Cron: t.Cron,
			Path: t.Path,
		})
	}

	for _, td := range doc.Tasks {
		task, err := convertTask(td)
		if err != nil {
			return nil, fmt.Errorf("yamlspec: task %q: %w", td.ID, err)
		}
		wf.Tasks = append(wf.Tasks, task)
	}

	if err := workflow.Validate(wf); err != nil {
		return nil, err
	}

	return wf, nil
}

func convertTask(td taskDoc) (*workflow.Task, error) {
	timeout, err := parseDuration(td.Timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	retryDelay, err := parseDuration(td.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("retry_delay: %w", err)
	}

	task := &workflow.Task{
		ID:              td.ID,
		Name:            td.Name,
		Run:             td.Run,
		Shell:           td.Shell,
		WorkingDir:      td.WorkingDir,
		Env:             td.Env,
		DependsOn:       td.DependsOn,
		If:              td.If,
		Timeout:         timeout,
		ContinueOnError: td.ContinueOnError,
		RetryCount:      td.RetryCount,
		RetryDelay:      retryDelay,
		Execution:       convertExecution(td.Execution),
	}

	if td.Input != nil {
		task.Input = &workflow.TaskInput{Kind: workflow.TaskInputKind(td.Input.Kind), Value: td.Input.Value}
	}
	if td.Output != nil {
		maxSize := td.Output.MaxSizeBytes
		if maxSize == 0 {
			maxSize = workflow.DefaultMaxOutputBytes
		}
		task.Output = &workflow.TaskOutputConfig{
			Kind:          workflow.TaskOutputKind(td.Output.Kind),
			Path:          td.Output.Path,
			CaptureStderr: td.Output.CaptureStderr,
			MaxSizeBytes:  maxSize,
		}
	}
	if td.Matrix != nil {
		spec, err := convertMatrix(td.Matrix)
		if err != nil {
			return nil, fmt.Errorf("matrix: %w", err)
		}
		task.Matrix = spec
	}
	if td.Always && task.If == "" {
		// Shorthand for `if: always()`, the literal token
		// dag.ContainsAlwaysToken siphons into ExecutionPlan.AlwaysTasks.
		task.If = "always()"
	}

	return task, nil
}

func convertMatrix(md *matrixDoc) (*workflow.MatrixSpec, error) {
	spec := &workflow.MatrixSpec{
		Dimensions: make(map[string][]string),
		Include:    md.Include,
		Exclude:    md.Exclude,
	}
	if md.Dimensions.Kind == 0 {
		return spec, nil
	}
	if md.Dimensions.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("dimensions must be a mapping")
	}
	for i := 0; i < len(md.Dimensions.Content); i += 2 {
		keyNode, valueNode := md.Dimensions.Content[i], md.Dimensions.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return nil, fmt.Errorf("dimension key: %w", err)
		}
		var values []string
		if err := valueNode.Decode(&values); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", key, err)
		}
		spec.Dimensions[key] = values
		spec.DimensionOrder = append(spec.DimensionOrder, key)
	}
	return spec, nil
}

func convertExecution(ed *executionDoc) *workflow.ExecutionEnvConfig {
	if ed == nil {
		return nil
	}
	return &workflow.ExecutionEnvConfig{
		Kind:                  workflow.ExecutionEnvKind(ed.Kind),
		Container:             ed.Container,
		Privileged:            ed.Privileged,
		User:                  ed.User,
		Interactive:           ed.Interactive,
		Host:                  ed.Host,
		Port:                  ed.Port,
		SSHUser:               ed.SSHUser,
		IdentityFile:          ed.IdentityFile,
		StrictHostKeyChecking: ed.StrictHostKeyChecking,
		Disabled:              ed.Disabled,
	}
}

func convertWatch(wd *watchDoc) *workflow.WatchConfig {
	if wd == nil {
		return nil
	}
	return &workflow.WatchConfig{Paths: wd.Paths, Exclude: wd.Exclude}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

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

package expression

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/tombee/workflow-engine/internal/util"
	"github.com/tombee/workflow-engine/pkg/workflow"
)

// EvalContext supplies the run/task/params state a single expression
// resolves against. Task is nil when evaluating outside task scope
// (e.g. a schedule's input template has no evaluating task).
type EvalContext struct {
	Run    *workflow.RunContext
	Task   *workflow.Task
	Params map[string]string
}

// NewEvalContext builds an EvalContext for evaluating expressions
// belonging to task (nil if none) within run.
func NewEvalContext(run *workflow.RunContext, task *workflow.Task, params map[string]string) *EvalContext {
	return &EvalContext{Run: run, Task: task, Params: params}
}

// unresolvedMatrix marks a matrix.<key> reference that did not resolve
// (no current task, or key absent from its matrixValues). Interpolate
// preserves the original ${{ }} span verbatim for a bare unresolved
// matrix reference; every other context folds it to
// the empty string like any other unknown reference.
type unresolvedMatrix struct{}

func resolveLeaf(n node, ec *EvalContext) (interface{}, error) {
	switch t := n.(type) {
	case litNode:
		return t.value, nil
	case refNode:
		return resolveRef(t.path, ec)
	case funcNode:
		return resolveFunc(t, ec)
	case jsonPathNode:
		return resolveJSONPath(t, ec)
	default:
		return nil, fmt.Errorf("expression: unexpected node type %T", n)
	}
}

func resolveRef(path string, ec *EvalContext) (interface{}, error) {
	dot := strings.IndexByte(path, '.')
	if dot < 0 {
		return "", nil
	}
	prefix := strings.ToLower(path[:dot])
	rest := path[dot+1:]

	switch prefix {
	case "tasks":
		return resolveTaskRef(rest, ec)
	case "env":
		if ec.Run == nil {
			return "", nil
		}
		if v, ok := ec.Run.DeclaredEnv()[rest]; ok {
			return v, nil
		}
		return "", nil
	case "workflow":
		return resolveWorkflowRef(rest, ec)
	case "matrix":
		if ec.Task != nil && ec.Task.MatrixValues != nil {
			for k, v := range ec.Task.MatrixValues {
				if strings.EqualFold(k, rest) {
					return v, nil
				}
			}
		}
		return unresolvedMatrix{}, nil
	case "params":
		if ec.Params == nil {
			return "", nil
		}
		if v, ok := ec.Params[rest]; ok {
			return v, nil
		}
		return "", nil
	default:
		return "", nil
	}
}

func resolveTaskRef(rest string, ec *EvalContext) (interface{}, error) {
	dot := strings.IndexByte(rest, '.')
	if dot < 0 || ec.Run == nil {
		return "", nil
	}
	id := rest[:dot]
	prop := strings.ToLower(rest[dot+1:])
	result, ok := ec.Run.Result(id)
	if !ok {
		return "", nil
	}
	switch prop {
	case "output":
		return result.Stdout, nil
	case "stderr":
		return result.Stderr, nil
	case "exitcode":
		return int64(result.ExitCode), nil
	case "status":
		return strings.ToLower(string(result.Status)), nil
	case "duration":
		return util.MillisOr(result.Duration), nil
	case "issuccess":
		return result.IsSuccess(), nil
	case "isfailed":
		return result.IsFailed(), nil
	case "wasskipped":
		return result.WasSkipped(), nil
	default:
		return "", nil
	}
}

func resolveWorkflowRef(rest string, ec *EvalContext) (interface{}, error) {
	if ec.Run == nil {
		return "", nil
	}
	switch strings.ToLower(rest) {
	case "name":
		return ec.Run.Workflow.Name, nil
	case "id":
		return ec.Run.Workflow.ID, nil
	case "runid":
		return ec.Run.RunID, nil
	case "workingdirectory":
		return ec.Run.WorkingDir(), nil
	case "description":
		return ec.Run.Workflow.Description, nil
	case "taskcount":
		return int64(ec.Run.TotalTaskCount), nil
	case "elapsedms":
		return int64(time.Since(ec.Run.StartedAt) / time.Millisecond), nil
	default:
		return "", nil
	}
}

func resolveFunc(t funcNode, ec *EvalContext) (interface{}, error) {
	arg := func(i int) (interface{}, error) {
		if i >= len(t.args) {
			return "", nil
		}
		return resolveLeaf(t.args[i], ec)
	}

	switch strings.ToLower(t.name) {
	case "success":
		if ec.Task == nil || ec.Run == nil {
			return false, nil
		}
		return ec.Run.DependenciesSucceeded(ec.Task.DependsOn), nil
	case "failure":
		if ec.Task == nil || ec.Run == nil {
			return false, nil
		}
		return ec.Run.DependenciesFailed(ec.Task.DependsOn), nil
	case "always":
		return true, nil
	case "cancelled":
		if ec.Run == nil {
			return false, nil
		}
		return ec.Run.Cancelled(), nil
	case "contains":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		return strings.Contains(strings.ToLower(stringOf(a)), strings.ToLower(stringOf(b))), nil
	case "startswith":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(strings.ToLower(stringOf(a)), strings.ToLower(stringOf(b))), nil
	case "endswith":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(strings.ToLower(stringOf(a)), strings.ToLower(stringOf(b))), nil
	case "equals":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		return strings.EqualFold(stringOf(a), stringOf(b)), nil
	case "isempty":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		return stringOf(a) == "", nil
	case "isnotempty":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		return stringOf(a) != "", nil
	case "fromjson":
		// A bare fromJson(x) with no trailing path (never produced by
		// the grammar's ".path" form) just passes its argument through.
		return arg(0)
	default:
		return "", fmt.Errorf("expression: unknown function %q", t.name)
	}
}

func resolveJSONPath(t jsonPathNode, ec *EvalContext) (interface{}, error) {
	raw, err := resolveLeaf(t.inner, ec)
	if err != nil {
		return nil, err
	}
	var data interface{}
	if err := json.Unmarshal([]byte(stringOf(raw)), &data); err != nil {
		return "", nil
	}
	val, ok := navigateJSONPath(data, t.path)
	if !ok {
		return "", nil
	}
	return jsonLeafValue(val), nil
}

// jqQueryCache compiles the dotted/bracket "path" suffix of a
// fromJson(...).path[n] reference into a jq program once per distinct
// path and reuses it on every subsequent evaluation, the same
// compile-once-then-cache idiom the Evaluator itself applies to
// expr-lang programs. The query is always a plain field/index walk
// ("items[0].name"), derived from the path by prefixing a leading
// ".", so no user input reaches gojq's grammar beyond what the
// expression parser already validated as dotted-path syntax.
var (
	jqCacheMu sync.RWMutex
	jqCache   = make(map[string]*gojq.Code)
)

func compiledJQPath(path string) (*gojq.Code, error) {
	jqCacheMu.RLock()
	code, ok := jqCache[path]
	jqCacheMu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse("." + path)
	if err != nil {
		return nil, fmt.Errorf("expression: invalid json path %q: %w", path, err)
	}
	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("expression: failed to compile json path %q: %w", path, err)
	}

	jqCacheMu.Lock()
	jqCache[path] = code
	jqCacheMu.Unlock()
	return code, nil
}

// navigateJSONPath walks a decoded JSON value through dotted field
// steps and [index] array steps, e.g. "items[0].name", by running the
// path as a compiled jq query. A missing field, an out-of-range index,
// or any other jq-reported error resolves to "not found" rather than
// propagating.
func navigateJSONPath(data interface{}, path string) (interface{}, bool) {
	if strings.TrimSpace(path) == "" {
		return data, true
	}
	code, err := compiledJQPath(path)
	if err != nil {
		return nil, false
	}

	iter := code.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}

// jsonLeafValue re-serializes object/array results to their raw JSON
// text: a navigated array or object is exposed as the literal text
// rather than a structured value, so downstream ${{ }} interpolation
// always produces a string.
func jsonLeafValue(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return v
	}
}

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

// Package matrix expands a parameterized Task carrying a MatrixSpec
// into the concrete family of Tasks it represents, and rewrites
// dependency edges once every task's expansion set is known.
package matrix

import (
	"strings"

	"github.com/tombee/workflow-engine/pkg/workflow"
	"github.com/tombee/workflow-engine/pkg/workflow/expression"
)

// Expander expands matrix tasks and rewrites dependencies.
type Expander struct {
	eval *expression.Evaluator
}

// NewExpander returns an Expander using eval for matrix.* interpolation.
func NewExpander(eval *expression.Evaluator) *Expander {
	return &Expander{eval: eval}
}

// Expand replaces every matrix-carrying task in tasks with its concrete
// expansions (in combination order, immediately following the
// original task's position) and rewrites every DependsOn edge for the
// resulting flat list.
func (x *Expander) Expand(tasks []*workflow.Task) ([]*workflow.Task, error) {
	expansions := make(map[string][]*workflow.Task, len(tasks))
	var flat []*workflow.Task

	for _, t := range tasks {
		if t.Matrix == nil {
			expansions[t.ID] = []*workflow.Task{t}
			flat = append(flat, t)
			continue
		}
		exp, err := x.expandOne(t)
		if err != nil {
			return nil, err
		}
		expansions[t.ID] = exp
		flat = append(flat, exp...)
	}

	rewriteDependencies(flat, expansions)
	return flat, nil
}

// combination is one surviving mapping from dimension name to value,
// carrying the ordered keys used to build the deterministic suffix.
type combination struct {
	values map[string]string
	order  []string
}

func (x *Expander) expandOne(t *workflow.Task) ([]*workflow.Task, error) {
	combos := cartesianProduct(t.Matrix)
	combos = applyExclude(combos, t.Matrix.Exclude)
	combos = applyInclude(combos, t.Matrix.Include)

	out := make([]*workflow.Task, 0, len(combos))
	for _, c := range combos {
		expanded, err := x.buildExpansion(t, c)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded)
	}
	return out, nil
}

func cartesianProduct(m *workflow.MatrixSpec) []combination {
	order := m.DimensionOrder
	if len(order) == 0 {
		for k := range m.Dimensions {
			order = append(order, k)
		}
	}

	combos := []combination{{values: map[string]string{}, order: nil}}
	for _, dim := range order {
		values := m.Dimensions[dim]
		next := make([]combination, 0, len(combos)*len(values))
		for _, c := range combos {
			for _, v := range values {
				nv := make(map[string]string, len(c.values)+1)
				for k, vv := range c.values {
					nv[k] = vv
				}
				nv[dim] = v
				next = append(next, combination{values: nv, order: append(append([]string{}, c.order...), dim)})
			}
		}
		combos = next
	}
	return combos
}

func applyExclude(combos []combination, excludes []map[string]string) []combination {
	if len(excludes) == 0 {
		return combos
	}
	out := combos[:0:0]
	for _, c := range combos {
		excluded := false
		for _, ex := range excludes {
			if matchesAll(c.values, ex) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, c)
		}
	}
	return out
}

func applyInclude(combos []combination, includes []map[string]string) []combination {
	for _, inc := range includes {
		matched := false
		for i := range combos {
			shared, ok := sharedKeysMatch(combos[i].values, inc)
			if !ok || !shared {
				continue
			}
			matched = true
			for k, v := range inc {
				if _, exists := findKeyFold(combos[i].values, k); !exists {
					combos[i].values[k] = v
					combos[i].order = append(combos[i].order, k)
				}
			}
		}
		if !matched {
			values := make(map[string]string, len(inc))
			var order []string
			for k, v := range inc {
				values[k] = v
				order = append(order, k)
			}
			combos = append(combos, combination{values: values, order: order})
		}
	}
	return combos
}

// matchesAll reports whether every key in ex is present in values with
// a case-insensitively equal value.
func matchesAll(values, ex map[string]string) bool {
	for k, v := range ex {
		actual, ok := findKeyFold(values, k)
		if !ok || !strings.EqualFold(actual, v) {
			return false
		}
	}
	return true
}

// sharedKeysMatch reports, for the keys inc and values have in common
// (case-insensitively), whether all such keys' values match; the bool
// "shared" is false when inc and values share no keys at all (so the
// caller can distinguish "no overlap" from "overlap but mismatched").
func sharedKeysMatch(values, inc map[string]string) (shared bool, matched bool) {
	any := false
	for k, v := range inc {
		actual, ok := findKeyFold(values, k)
		if !ok {
			continue
		}
		any = true
		if !strings.EqualFold(actual, v) {
			return true, false
		}
	}
	return any, true
}

func findKeyFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (x *Expander) buildExpansion(t *workflow.Task, c combination) (*workflow.Task, error) {
	expanded := *t
	expanded.Matrix = nil
	expanded.MatrixValues = c.values
	expanded.MatrixLaneSuffix = laneSuffix(c)

	ec := expression.NewEvalContext(nil, &expanded, nil)
	interp := func(s string) (string, error) { return x.eval.Interpolate(s, ec) }

	var err error
	if expanded.ID, err = interpolatedID(interp, t.ID, c); err != nil {
		return nil, err
	}
	if expanded.Name, err = interp(t.Name); err != nil {
		return nil, err
	}
	if expanded.Run, err = interp(t.Run); err != nil {
		return nil, err
	}
	if expanded.WorkingDir, err = interp(t.WorkingDir); err != nil {
		return nil, err
	}
	if expanded.If, err = interp(t.If); err != nil {
		return nil, err
	}
	if len(t.Env) > 0 {
		env := make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			iv, err := interp(v)
			if err != nil {
				return nil, err
			}
			env[k] = iv
		}
		expanded.Env = env
	}
	if t.Input != nil {
		in := *t.Input
		if in.Value != "" {
			if in.Value, err = interp(t.Input.Value); err != nil {
				return nil, err
			}
		}
		expanded.Input = &in
	}
	return &expanded, nil
}

// interpolatedID applies matrix interpolation to the original id; if
// that produced no change (no matrix.* reference present), falls back
// to a deterministic suffix built from the combination's values in
// declared dimension order.
func interpolatedID(interp func(string) (string, error), originalID string, c combination) (string, error) {
	interpolated, err := interp(originalID)
	if err != nil {
		return "", err
	}
	if interpolated != originalID {
		return interpolated, nil
	}

	return originalID + laneSuffix(c), nil
}

// laneSuffix builds the "-v1-v2-..." suffix from a combination's
// values in declared dimension order; also recorded as the
// expansion's MatrixLaneSuffix so dependency rewriting can find the
// matching lane without needing map iteration order.
func laneSuffix(c combination) string {
	var sb strings.Builder
	for _, k := range c.order {
		sb.WriteByte('-')
		sb.WriteString(sanitize(c.values[k]))
	}
	return sb.String()
}

func sanitize(v string) string {
	var sb strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}

// rewriteDependencies fixes up every DependsOn edge on the flat,
// post-expansion task list: a dependent lane pairs with its matching
// expansion, everything else fans in to all of them.
func rewriteDependencies(flat []*workflow.Task, expansions map[string][]*workflow.Task) {
	for _, t := range flat {
		if len(t.DependsOn) == 0 {
			continue
		}
		var rewritten []string
		for _, dep := range t.DependsOn {
			depExpansions, ok := expansions[dep]
			if !ok || len(depExpansions) == 0 {
				rewritten = append(rewritten, dep)
				continue
			}
			// A single-entry expansion set still rewrites to the
			// expansion's id: a one-combination matrix renames its task.
			if len(depExpansions) == 1 {
				rewritten = append(rewritten, depExpansions[0].ID)
				continue
			}
			if t.MatrixValues != nil {
				if lane, ok := matchingLane(t, depExpansions); ok {
					rewritten = append(rewritten, lane.ID)
					continue
				}
			}
			for _, d := range depExpansions {
				rewritten = append(rewritten, d.ID)
			}
		}
		t.DependsOn = dedupe(rewritten)
	}
}

// matchingLane finds the dependency expansion sharing t's matrix lane
// suffix, preserving per-axis matrix lanes on fan-out.
func matchingLane(t *workflow.Task, depExpansions []*workflow.Task) (*workflow.Task, bool) {
	if t.MatrixLaneSuffix == "" {
		return nil, false
	}
	for _, d := range depExpansions {
		if d.MatrixLaneSuffix == t.MatrixLaneSuffix {
			return d, true
		}
	}
	return nil, false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

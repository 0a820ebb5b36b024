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
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// plan is the compiled shape of one expression: exprSrc is expr-lang
// source with every leaf (reference, literal, function call, fromJson
// path) replaced by a placeholder variable v0, v1, ...; leaves holds
// the original AST node for each placeholder, in the same order, so a
// later Evaluate call only has to resolve fresh values and not
// re-parse or re-plan.
type plan struct {
	program *vm.Program
	leaves  []node
}

// Evaluator resolves ${{ ... }} expressions. It caches the parsed AST
// and compiled boolean-algebra program per distinct expression source:
// parsing and expr-lang compilation happen once, re-evaluation against
// new task results is just a leaf-value substitution and an expr.Run.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*plan
}

// NewEvaluator returns an Evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*plan)}
}

func (e *Evaluator) planFor(src string) (*plan, error) {
	e.mu.RLock()
	p, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	root, err := parseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("expression: parse %q: %w", src, err)
	}
	exprSrc, leaves := buildPlanSource(root)
	if len(leaves) == 0 {
		exprSrc = "true"
	}
	program, err := expr.Compile(exprSrc, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", src, err)
	}

	p = &plan{program: program, leaves: leaves}
	e.mu.Lock()
	e.cache[src] = p
	e.mu.Unlock()
	return p, nil
}

// buildPlanSource walks the AST once, emitting expr-lang source with
// each leaf replaced by an indexed placeholder, and returns the leaves
// in the exact order their placeholders appear so a caller can rebuild
// the runtime environment by index alone.
func buildPlanSource(n node) (string, []node) {
	var leaves []node
	var sb strings.Builder

	var visit func(n node)
	visit = func(n node) {
		switch t := n.(type) {
		case orNode:
			sb.WriteByte('(')
			for i, part := range t.parts {
				if i > 0 {
					sb.WriteString(" || ")
				}
				visit(part)
			}
			sb.WriteByte(')')
		case andNode:
			sb.WriteByte('(')
			for i, part := range t.parts {
				if i > 0 {
					sb.WriteString(" && ")
				}
				visit(part)
			}
			sb.WriteByte(')')
		case compNode:
			if t.op == "" {
				visit(t.left)
				return
			}
			sb.WriteByte('(')
			visit(t.left)
			fmt.Fprintf(&sb, " %s ", t.op)
			visit(t.right)
			sb.WriteByte(')')
		default:
			fmt.Fprintf(&sb, "v%d", len(leaves))
			leaves = append(leaves, n)
		}
	}
	visit(n)
	return sb.String(), leaves
}

// evalRaw resolves src's leaves against ec and runs the cached
// boolean-algebra program, returning whatever Go value the expression
// produces (bool for a comparison/predicate, the leaf's native type
// for a bare value).
func (e *Evaluator) evalRaw(src string, ec *EvalContext) (interface{}, error) {
	p, err := e.planFor(src)
	if err != nil {
		return nil, err
	}

	env := make(map[string]interface{}, len(p.leaves))
	for i, leaf := range p.leaves {
		v, err := resolveLeaf(leaf, ec)
		if err != nil {
			return nil, err
		}
		if _, unresolved := v.(unresolvedMatrix); unresolved {
			v = ""
		}
		env[fmt.Sprintf("v%d", i)] = v
	}

	out, err := expr.Run(p.program, env)
	if err != nil {
		return nil, fmt.Errorf("expression: run %q: %w", src, err)
	}
	return out, nil
}

// Evaluate resolves the inside of a single ${{ ... }} expression
// (without the braces) and returns its raw Go value.
func (e *Evaluator) Evaluate(src string, ec *EvalContext) (interface{}, error) {
	return e.evalRaw(src, ec)
}

// EvalBool evaluates the inside of a single ${{ ... }} expression and
// applies the whole-expression boolean coercion rule.
func (e *Evaluator) EvalBool(src string, ec *EvalContext) (bool, error) {
	v, err := e.evalRaw(src, ec)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// EvalIf evaluates a task's if field. An empty field defaults to true.
// A field that is exactly one ${{ ... }} span evaluates that
// expression directly; anything else (bare text, or literal text
// mixed with spans) is run through Interpolate and coerced from the
// resulting string, so a plain "true"/"" if field still behaves
// sensibly even without the wrapper.
func (e *Evaluator) EvalIf(src string, ec *EvalContext) (bool, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return true, nil
	}
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		v, err := e.evalRaw(inner, ec)
		if err != nil {
			return false, err
		}
		return toBool(v), nil
	}
	out, err := e.Interpolate(src, ec)
	if err != nil {
		return false, err
	}
	return toBool(out), nil
}

// Interpolate scans src for ${{ ... }} spans (matching braces, no
// nesting) and replaces each with its evaluated, stringified result,
// leaving surrounding literal text untouched. A bare, unresolved
// matrix.<key> reference is left as the original span text rather
// than folded to empty string.
func (e *Evaluator) Interpolate(src string, ec *EvalContext) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(src) {
		start := strings.Index(src[i:], "${{")
		if start < 0 {
			sb.WriteString(src[i:])
			break
		}
		start += i
		sb.WriteString(src[i:start])

		end := strings.Index(src[start:], "}}")
		if end < 0 {
			sb.WriteString(src[start:])
			break
		}
		end += start

		inner := strings.TrimSpace(src[start+3 : end])
		verbatim, result, err := e.evalForInterpolation(inner, ec)
		if err != nil {
			return "", err
		}
		if verbatim {
			sb.WriteString(src[start : end+2])
		} else {
			sb.WriteString(valueToString(result))
		}
		i = end + 2
	}
	return sb.String(), nil
}

// evalForInterpolation resolves inner and reports whether it was a
// bare, unresolved matrix reference that should be left verbatim.
func (e *Evaluator) evalForInterpolation(inner string, ec *EvalContext) (bool, interface{}, error) {
	p, err := e.planFor(inner)
	if err != nil {
		return false, nil, err
	}
	if len(p.leaves) == 1 {
		if ref, ok := p.leaves[0].(refNode); ok && strings.HasPrefix(strings.ToLower(ref.path), "matrix.") {
			v, err := resolveRef(ref.path, ec)
			if err != nil {
				return false, nil, err
			}
			if _, unresolved := v.(unresolvedMatrix); unresolved {
				return true, nil, nil
			}
			return false, v, nil
		}
	}
	v, err := e.evalRaw(inner, ec)
	return false, v, err
}

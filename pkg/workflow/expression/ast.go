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

// node is the AST produced by the parser: orNode of andNodes of
// compNodes of values.
type node interface{ isNode() }

type orNode struct{ parts []node }
type andNode struct{ parts []node }

// compNode is "value" when op == "", otherwise a comparison of two values.
type compNode struct {
	left  node
	op    string // "==", "!=", or ""
	right node   // nil when op == ""
}

type funcNode struct {
	name string
	args []node
}

type refNode struct{ path string }

type litNode struct{ value interface{} }

// jsonPathNode is fromJson(inner).<path>: inner is evaluated and decoded
// as JSON, then path is navigated with dotted fields and [index] steps.
type jsonPathNode struct {
	inner node
	path  string
}

func (orNode) isNode()       {}
func (andNode) isNode()      {}
func (compNode) isNode()     {}
func (funcNode) isNode()     {}
func (refNode) isNode()      {}
func (litNode) isNode()      {}
func (jsonPathNode) isNode() {}

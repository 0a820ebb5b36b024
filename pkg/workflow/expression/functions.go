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
	"strconv"
	"strings"
)

// stringOf renders a resolved leaf value the way the string functions
// (contains, equals, isEmpty, ...) and fromJson's inner argument expect
// it: null and an unresolved matrix reference both collapse to "".
func stringOf(v interface{}) string {
	switch t := v.(type) {
	case nil, unresolvedMatrix:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// valueToString renders an evaluation result for splicing into an
// interpolated string.
func valueToString(v interface{}) string {
	return stringOf(v)
}

// toBool applies the whole-expression boolean coercion:
// empty string, "0", and "false" (any case) are false; everything else
// is true. A native bool from a comparison is used as-is.
func toBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	s := stringOf(v)
	if s == "" || s == "0" || strings.EqualFold(s, "false") {
		return false
	}
	return true
}

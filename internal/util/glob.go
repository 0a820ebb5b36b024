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

package util

import "github.com/bmatcuk/doublestar/v4"

// GlobMatch reports whether name matches the doublestar pattern
// (supporting "**" across path separators).
func GlobMatch(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}

// GlobMatchAny reports whether name matches any of patterns. An empty
// pattern list means "match everything".
func GlobMatchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if GlobMatch(p, name) {
			return true
		}
	}
	return false
}

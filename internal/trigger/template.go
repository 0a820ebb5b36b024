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
	"regexp"
	"strings"
)

var templateToken = regexp.MustCompile(`\{(\w+)\}`)

// ResolveTemplate replaces every `{key}` token in tmpl
// case-insensitively. sources are consulted in order with later sources
// overwriting earlier ones on key collision; an unresolved token is
// left literal.
func ResolveTemplate(tmpl string, sources ...map[string]string) string {
	combined := make(map[string]string)
	for _, src := range sources {
		for k, v := range src {
			combined[strings.ToLower(k)] = v
		}
	}
	return templateToken.ReplaceAllStringFunc(tmpl, func(tok string) string {
		key := strings.ToLower(tok[1 : len(tok)-1])
		if v, ok := combined[key]; ok {
			return v
		}
		return tok
	})
}

// MessageContext builds the standard message-context token set
// (`{username}`, `{userId}`, `{channelId}`, `{channelName}`,
// `{source}`, `{messageId}`, `{text}`). The dispatcher passes it after
// the rule captures, so its tokens override captures of the same name.
func MessageContext(msg Message) map[string]string {
	return map[string]string{
		"username":    msg.Username,
		"userid":      msg.UserID,
		"channelid":   msg.ChannelID,
		"channelname": msg.ChannelName,
		"source":      msg.Source,
		"messageid":   msg.MessageID,
		"text":        msg.Text,
	}
}

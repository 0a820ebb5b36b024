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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTemplate(t *testing.T) {
	captures := map[string]string{"project": "my-api"}

	got := ResolveTemplate("Building {project} now", captures)
	assert.Equal(t, "Building my-api now", got)
}

func TestResolveTemplate_CaseInsensitiveKeys(t *testing.T) {
	got := ResolveTemplate("run {RunId}", map[string]string{"runid": "abc123"})
	assert.Equal(t, "run abc123", got)
}

func TestResolveTemplate_LaterSourcesWin(t *testing.T) {
	got := ResolveTemplate("{env}", map[string]string{"env": "dev"}, map[string]string{"env": "prod"})
	assert.Equal(t, "prod", got)
}

func TestResolveTemplate_UnknownTokenLeftLiteral(t *testing.T) {
	got := ResolveTemplate("deploy {target}", map[string]string{"project": "x"})
	assert.Equal(t, "deploy {target}", got)
}

func TestResolveTemplate_Idempotent(t *testing.T) {
	captures := map[string]string{"project": "my-api", "env": "prod"}
	once := ResolveTemplate("Run for {project} on {env}", captures)
	twice := ResolveTemplate(once, captures)
	assert.Equal(t, once, twice)
}

func TestMessageContext(t *testing.T) {
	msg := Message{
		Text: "/build my-api", Source: "slack",
		Username: "alice", UserID: "U1", ChannelID: "C1", ChannelName: "ops", MessageID: "M1",
	}
	ctx := MessageContext(msg)

	got := ResolveTemplate("{username} in {channelName} via {source}: {text}", ctx)
	assert.Equal(t, "alice in ops via slack: /build my-api", got)
}

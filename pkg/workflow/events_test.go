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

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_InvokesHandlersInSubscriptionOrder(t *testing.T) {
	pub := NewPublisher(nil)
	var order []string
	pub.Subscribe(func(Event) { order = append(order, "first") })
	pub.Subscribe(func(Event) { order = append(order, "second") })

	pub.Publish(Event{Kind: EventTaskStarted})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublisher_Unsubscribe(t *testing.T) {
	pub := NewPublisher(nil)
	calls := 0
	unsub := pub.Subscribe(func(Event) { calls++ })

	pub.Publish(Event{Kind: EventTaskStarted})
	unsub()
	pub.Publish(Event{Kind: EventTaskStarted})
	assert.Equal(t, 1, calls)
}

func TestPublisher_HandlerPanicDoesNotAbortRemainingHandlers(t *testing.T) {
	pub := NewPublisher(nil)
	pub.Subscribe(func(Event) { panic("handler bug") })
	reached := false
	pub.Subscribe(func(Event) { reached = true })

	require.NotPanics(t, func() {
		pub.Publish(Event{Kind: EventWorkflowStarted})
	})
	assert.True(t, reached)
}

func TestPublisher_PublishWithNoSubscribers(t *testing.T) {
	pub := NewPublisher(nil)
	require.NotPanics(t, func() {
		pub.Publish(Event{Kind: EventWorkflowCompleted})
	})
}

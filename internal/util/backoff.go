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

import (
	"math/rand"
	"time"
)

// Backoff implements an exponential-with-jitter reconnect policy:
// base 1s, factor 2, cap 60s, 30% jitter.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64

	attempt int
}

// NewBackoff returns the default reconnect policy.
func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Factor: 2, Cap: 60 * time.Second, Jitter: 0.3}
}

// Next returns the delay for the current attempt and advances the
// internal counter.
func (b *Backoff) Next() time.Duration {
	d := float64(b.Base)
	for i := 0; i < b.attempt; i++ {
		d *= b.Factor
	}
	if cap := float64(b.Cap); d > cap {
		d = cap
	}
	b.attempt++

	if b.Jitter > 0 {
		delta := d * b.Jitter
		d = d - delta + rand.Float64()*2*delta
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// Reset clears the attempt counter after a successful reconnect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

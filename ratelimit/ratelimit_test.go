/***************************************************************
 *
 * Copyright (C) 2026, Inkhorn Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard(t *testing.T) {
	t.Run("burst-then-throttled", func(t *testing.T) {
		guard := NewGuard(5, 5, time.Minute)
		defer guard.Stop()

		for i := 0; i < 5; i++ {
			assert.True(t, guard.Allow("ip:203.0.113.7"), "request %d within the burst should pass", i)
		}
		assert.False(t, guard.Allow("ip:203.0.113.7"))
	})

	t.Run("keys-are-independent", func(t *testing.T) {
		guard := NewGuard(1, 1, time.Minute)
		defer guard.Stop()

		assert.True(t, guard.Allow("ip:203.0.113.7"))
		assert.False(t, guard.Allow("ip:203.0.113.7"))
		assert.True(t, guard.Allow("ip:198.51.100.9"), "an exhausted bucket must not throttle other keys")
	})

	t.Run("check-returns-typed-error", func(t *testing.T) {
		guard := NewGuard(1, 1, time.Minute)
		defer guard.Stop()

		assert.NoError(t, guard.Check("state:abc"))
		assert.ErrorIs(t, guard.Check("state:abc"), ErrRateLimited)
	})

	t.Run("charge-counts-without-gating", func(t *testing.T) {
		guard := NewGuard(2, 2, time.Minute)
		defer guard.Stop()

		assert.False(t, guard.Exceeded("idp:583231"))
		guard.Charge("idp:583231")
		assert.False(t, guard.Exceeded("idp:583231"))
		guard.Charge("idp:583231")
		assert.True(t, guard.Exceeded("idp:583231"))
	})

	t.Run("exceeded-does-not-consume", func(t *testing.T) {
		guard := NewGuard(1, 1, time.Minute)
		defer guard.Stop()

		// Peeking repeatedly must leave the bucket untouched
		for i := 0; i < 10; i++ {
			assert.False(t, guard.Exceeded("k"))
		}
		assert.True(t, guard.Allow("k"))
	})

	t.Run("bucket-refills-over-window", func(t *testing.T) {
		// 1000 events per second so the refill is observable in a test
		guard := NewGuard(1000, 1, time.Second)
		defer guard.Stop()

		assert.True(t, guard.Allow("k"))
		assert.False(t, guard.Allow("k"))
		time.Sleep(5 * time.Millisecond)
		assert.True(t, guard.Allow("k"))
	})
}

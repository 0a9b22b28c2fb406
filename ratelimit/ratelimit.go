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

// Package ratelimit provides keyed token-bucket throttling for the
// authorization flow: initiation by source IP, callback attempts by
// state token, and failed logins by external identity.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a key exceeds its threshold. The
// guarded operation is not attempted.
var ErrRateLimited = errors.New("rate limit exceeded")

// Guard throttles operations per key. Each key gets its own token
// bucket; buckets for idle keys are garbage-collected after their TTL.
type Guard struct {
	mu       sync.Mutex
	limiters *ttlcache.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewGuard creates a guard allowing burst events immediately per key and
// refilling at limit events per window. Buckets idle for two windows are
// collected.
func NewGuard(limit int, burst int, window time.Duration) *Guard {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](2 * window),
	)
	go cache.Start()
	return &Guard{
		limiters: cache,
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    burst,
	}
}

// Allow reports whether one more event is permitted for the key.
func (g *Guard) Allow(key string) bool {
	return g.limiterFor(key).Allow()
}

// Check returns ErrRateLimited when the key has exceeded its threshold.
func (g *Guard) Check(key string) error {
	if !g.Allow(key) {
		return ErrRateLimited
	}
	return nil
}

// Charge records one event against the key without gating the caller.
// Used to count failures after the fact.
func (g *Guard) Charge(key string) {
	g.limiterFor(key).Allow()
}

// Exceeded reports whether the key's bucket is empty, without consuming
// an event.
func (g *Guard) Exceeded(key string) bool {
	return g.limiterFor(key).Tokens() < 1
}

// Stop terminates the bucket GC goroutine.
func (g *Guard) Stop() {
	g.limiters.Stop()
}

func (g *Guard) limiterFor(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if item := g.limiters.Get(key); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(g.limit, g.burst)
	g.limiters.Set(key, limiter, ttlcache.DefaultTTL)
	return limiter
}

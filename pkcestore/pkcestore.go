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

// Package pkcestore holds the short-lived server-side state for pending
// authorization attempts: the PKCE verifier/challenge pair and the
// anti-CSRF state token.
//
// ConsumeIfValid is the single cross-flow mutual-exclusion point of the
// subsystem: it is simultaneously the CSRF defense and the replay
// defense, so it must be linearizable per state token.
package pkcestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
)

const (
	// verifierBytes is the entropy of the PKCE code verifier.
	verifierBytes = 32

	// stateBytes is the entropy of the anti-CSRF state token.
	stateBytes = 24
)

var (
	ErrSessionNotFound        = errors.New("authorization session not found or expired")
	ErrSessionAlreadyConsumed = errors.New("authorization session already consumed")
)

// Session binds one pending authorization attempt to its verifier,
// challenge and state token.
type Session struct {
	SessionID     string
	ProviderName  string
	CodeVerifier  string
	CodeChallenge string
	StateToken    string
	RedirectURI   string
	ReturnURL     string
	LinkUserID    string // set when an authenticated user is linking a provider
	CreatedAt     time.Time
	ExpiresAt     time.Time

	consumed bool
}

// Store is a TTL-expiring key-value store keyed by state token.
type Store struct {
	mu       sync.Mutex
	sessions *ttlcache.Cache[string, *Session]
	ttl      time.Duration
}

// NewStore creates a session store whose sessions expire after ttl.
// Call Stop when done to terminate the expiry janitor.
func NewStore(ttl time.Duration) *Store {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Session](),
	)
	go cache.Start()
	return &Store{sessions: cache, ttl: ttl}
}

// Stop terminates the expiry janitor goroutine.
func (s *Store) Stop() {
	s.sessions.Stop()
}

// Create generates a fresh verifier, challenge and state token and
// records the pending session. The returned session is a snapshot; the
// store retains the canonical copy.
func (s *Store) Create(providerName, redirectURI, returnURL, linkUserID string) (*Session, error) {
	verifier, err := randomToken(verifierBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate code verifier")
	}
	state, err := randomToken(stateBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate state token")
	}
	sessionID, err := randomToken(16)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &Session{
		SessionID:     sessionID,
		ProviderName:  providerName,
		CodeVerifier:  verifier,
		CodeChallenge: DeriveChallenge(verifier),
		StateToken:    state,
		RedirectURI:   redirectURI,
		ReturnURL:     returnURL,
		LinkUserID:    linkUserID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Set(state, session, ttlcache.DefaultTTL)

	snapshot := *session
	return &snapshot, nil
}

// ConsumeIfValid atomically looks up the session for the given state
// token and marks it consumed. A second call with the same state always
// fails with ErrSessionAlreadyConsumed; an unknown or expired state
// fails with ErrSessionNotFound. The consumed session stays in the
// store until its TTL elapses so replays remain distinguishable from
// forgeries.
func (s *Store) ConsumeIfValid(state string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.sessions.Get(state)
	if item == nil {
		return nil, ErrSessionNotFound
	}
	session := item.Value()
	if session.consumed {
		return nil, ErrSessionAlreadyConsumed
	}
	session.consumed = true

	snapshot := *session
	return &snapshot, nil
}

// Abort removes a pending session regardless of its consumed flag.
func (s *Store) Abort(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Delete(state)
}

// Len returns the number of live sessions, consumed ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

// DeriveChallenge computes the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), no padding.
func DeriveChallenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

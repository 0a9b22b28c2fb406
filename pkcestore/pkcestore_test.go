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

package pkcestore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveChallenge(t *testing.T) {
	t.Run("rfc7636-test-vector", func(t *testing.T) {
		// Appendix B of RFC 7636
		verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", DeriveChallenge(verifier))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, DeriveChallenge("some-verifier"), DeriveChallenge("some-verifier"))
		assert.NotEqual(t, DeriveChallenge("some-verifier"), DeriveChallenge("other-verifier"))
	})
}

func TestCreateSession(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Stop()

	t.Run("session-fields-populated", func(t *testing.T) {
		session, err := store.Create("github", "https://example.com/callback", "/dashboard", "")
		require.NoError(t, err)
		assert.NotEmpty(t, session.SessionID)
		assert.NotEmpty(t, session.StateToken)
		assert.NotEmpty(t, session.CodeVerifier)
		assert.Equal(t, DeriveChallenge(session.CodeVerifier), session.CodeChallenge)
		assert.Equal(t, "github", session.ProviderName)
		assert.Equal(t, "/dashboard", session.ReturnURL)
		assert.True(t, session.ExpiresAt.After(session.CreatedAt))
	})

	t.Run("fresh-state-and-verifier-per-session", func(t *testing.T) {
		first, err := store.Create("github", "", "", "")
		require.NoError(t, err)
		second, err := store.Create("github", "", "", "")
		require.NoError(t, err)
		assert.NotEqual(t, first.StateToken, second.StateToken)
		assert.NotEqual(t, first.CodeVerifier, second.CodeVerifier)
	})
}

func TestConsumeIfValid(t *testing.T) {
	t.Run("unknown-state-rejected", func(t *testing.T) {
		store := NewStore(time.Minute)
		defer store.Stop()

		_, err := store.ConsumeIfValid("no-such-state")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("consume-then-replay", func(t *testing.T) {
		store := NewStore(time.Minute)
		defer store.Stop()

		created, err := store.Create("github", "", "/home", "")
		require.NoError(t, err)

		consumed, err := store.ConsumeIfValid(created.StateToken)
		require.NoError(t, err)
		assert.Equal(t, created.CodeVerifier, consumed.CodeVerifier)
		assert.Equal(t, "/home", consumed.ReturnURL)

		_, err = store.ConsumeIfValid(created.StateToken)
		assert.ErrorIs(t, err, ErrSessionAlreadyConsumed)
	})

	t.Run("concurrent-consume-single-winner", func(t *testing.T) {
		store := NewStore(time.Minute)
		defer store.Stop()

		session, err := store.Create("github", "", "", "")
		require.NoError(t, err)

		var successes atomic.Int32
		var replays atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ConsumeIfValid(session.StateToken)
				if err == nil {
					successes.Add(1)
				} else if errors.Is(err, ErrSessionAlreadyConsumed) {
					replays.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(31), replays.Load())
	})

	t.Run("expired-state-looks-like-forgery", func(t *testing.T) {
		store := NewStore(50 * time.Millisecond)
		defer store.Stop()

		session, err := store.Create("github", "", "", "")
		require.NoError(t, err)

		time.Sleep(150 * time.Millisecond)
		_, err = store.ConsumeIfValid(session.StateToken)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestAbort(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Stop()

	session, err := store.Create("github", "", "", "")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	store.Abort(session.StateToken)
	assert.Equal(t, 0, store.Len())

	_, err = store.ConsumeIfValid(session.StateToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

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

package tokens

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/vault"
)

type mockProvider struct {
	server       *httptest.Server
	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32

	// refreshDelay simulates a slow provider so concurrent callers
	// actually overlap.
	refreshDelay time.Duration
	// rejectRefresh makes the token endpoint return an OAuth2 error
	// response instead of a fresh token.
	rejectRefresh bool
}

func newMockProvider(t *testing.T) *mockProvider {
	p := &mockProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.refreshCalls.Add(1)
		if p.refreshDelay > 0 {
			time.Sleep(p.refreshDelay)
		}
		if p.rejectRefresh {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"refreshed-access","token_type":"bearer","refresh_token":"rotated-refresh","expires_in":3600}`))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		p.revokeCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("token"))
		assert.NotEmpty(t, r.PostForm.Get("token_type_hint"))
		w.WriteHeader(http.StatusOK)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func setupManager(t *testing.T, p *mockProvider) (*Manager, *database.OAuthAccount) {
	db := database.SetupMockAuthDB(t)
	t.Cleanup(func() { database.TeardownMockAuthDB(t) })

	masterKey := make([]byte, 32)
	v, err := vault.New(masterKey, "test-tokens")
	require.NoError(t, err)

	registry, err := providers.NewRegistry([]providers.Config{{
		Name:               "testidp",
		ClientID:           "client-id",
		ClientSecret:       "client-secret",
		Enabled:            true,
		TokenEndpoint:      p.server.URL + "/token",
		RevocationEndpoint: p.server.URL + "/revoke",
	}})
	require.NoError(t, err)

	user := &database.User{Username: "jane", Email: "jane@example.com"}
	account := &database.OAuthAccount{Provider: "testidp", ProviderUserID: "u-1"}
	require.NoError(t, database.CreateUserWithAccount(db, user, account))

	mgr := NewManager(db, v, registry, events.NopSink{}, p.server.Client(), 5*time.Second)
	return mgr, account
}

func TestStoreAndFetch(t *testing.T) {
	p := newMockProvider(t)
	mgr, account := setupManager(t, p)

	t.Run("fresh-token-returned-without-refresh", func(t *testing.T) {
		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken: "stored-access",
			Expiry:      time.Now().Add(time.Hour),
		}))

		access, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		require.NoError(t, err)
		assert.Equal(t, "stored-access", access)
		assert.Equal(t, int32(0), p.refreshCalls.Load())
	})

	t.Run("token-material-encrypted-at-rest", func(t *testing.T) {
		row, err := database.GetTokenByAccount(database.AuthDatabase, account.ID)
		require.NoError(t, err)
		assert.NotContains(t, string(row.AccessCiphertext), "stored-access")
	})

	t.Run("empty-access-token-rejected", func(t *testing.T) {
		err := mgr.Store(account.ID, &oauth2.Token{})
		assert.Error(t, err)
	})
}

func TestRefresh(t *testing.T) {
	t.Run("expired-access-refreshed-once", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken:  "expired-access",
			RefreshToken: "valid-refresh",
			Expiry:       time.Now().Add(-time.Minute),
		}))

		access, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		require.NoError(t, err)
		assert.Equal(t, "refreshed-access", access)
		assert.Equal(t, int32(1), p.refreshCalls.Load())

		// The refreshed token is now fresh; no second provider call
		access, err = mgr.GetValidAccessToken(context.Background(), account.ID)
		require.NoError(t, err)
		assert.Equal(t, "refreshed-access", access)
		assert.Equal(t, int32(1), p.refreshCalls.Load())
	})

	t.Run("concurrent-callers-share-one-refresh", func(t *testing.T) {
		p := newMockProvider(t)
		p.refreshDelay = 100 * time.Millisecond
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken:  "expired-access",
			RefreshToken: "valid-refresh",
			Expiry:       time.Now().Add(-time.Minute),
		}))

		var wg sync.WaitGroup
		results := make([]string, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				access, err := mgr.GetValidAccessToken(context.Background(), account.ID)
				assert.NoError(t, err)
				results[idx] = access
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), p.refreshCalls.Load(), "concurrent waiters must reuse one refresh")
		for _, access := range results {
			assert.Equal(t, "refreshed-access", access)
		}
	})

	t.Run("no-expiry-token-never-refreshed", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		// GitHub classic OAuth apps send no expires_in and no refresh
		// token; the access token is long-lived and must be returned
		// as-is rather than treated as expired.
		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken: "classic-access",
		}))

		access, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		require.NoError(t, err)
		assert.Equal(t, "classic-access", access)
		assert.Equal(t, int32(0), p.refreshCalls.Load())
	})

	t.Run("missing-refresh-token-requires-reauth", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken: "expired-access",
			Expiry:      time.Now().Add(-time.Minute),
		}))

		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
		assert.Equal(t, int32(0), p.refreshCalls.Load())
	})

	t.Run("expired-refresh-token-requires-reauth", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		tok := &oauth2.Token{
			AccessToken:  "expired-access",
			RefreshToken: "expired-refresh",
			Expiry:       time.Now().Add(-time.Hour),
		}
		// GitLab-style bounded refresh token, already lapsed
		tok = tok.WithExtra(map[string]interface{}{"refresh_token_expires_in": float64(1)})
		require.NoError(t, mgr.Store(account.ID, tok))
		time.Sleep(1100 * time.Millisecond)

		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
		assert.Equal(t, int32(0), p.refreshCalls.Load())
	})

	t.Run("provider-rejection-requires-reauth", func(t *testing.T) {
		p := newMockProvider(t)
		p.rejectRefresh = true
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken:  "expired-access",
			RefreshToken: "revoked-refresh",
			Expiry:       time.Now().Add(-time.Minute),
		}))

		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
	})

	t.Run("unreachable-provider-is-not-reauth", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken:  "expired-access",
			RefreshToken: "valid-refresh",
			Expiry:       time.Now().Add(-time.Minute),
		}))
		p.server.Close()

		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("no-stored-token-requires-reauth", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, _ := setupManager(t, p)

		_, err := mgr.GetValidAccessToken(context.Background(), "no-such-account")
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
	})
}

func TestRevoke(t *testing.T) {
	t.Run("revokes-upstream-and-deletes-row", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(time.Hour),
		}))

		require.NoError(t, mgr.Revoke(context.Background(), account.ID))
		assert.Equal(t, int32(1), p.revokeCalls.Load())

		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
	})

	t.Run("local-deletion-survives-provider-outage", func(t *testing.T) {
		p := newMockProvider(t)
		mgr, account := setupManager(t, p)

		require.NoError(t, mgr.Store(account.ID, &oauth2.Token{
			AccessToken: "access",
			Expiry:      time.Now().Add(time.Hour),
		}))
		p.server.Close()

		require.NoError(t, mgr.Revoke(context.Background(), account.ID))
		_, err := mgr.GetValidAccessToken(context.Background(), account.ID)
		assert.ErrorIs(t, err, ErrReauthenticationRequired)
	})
}

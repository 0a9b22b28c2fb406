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

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/providers"
)

func setupResolver(t *testing.T) (*Resolver, *gorm.DB) {
	db := database.SetupMockAuthDB(t)
	t.Cleanup(func() { database.TeardownMockAuthDB(t) })
	return New(db, events.NopSink{}, true), db
}

func janeIdentity() providers.Identity {
	return providers.Identity{
		ExternalID:    "583231",
		Email:         "jane@example.com",
		EmailVerified: true,
		DisplayName:   "Jane Doe",
		AvatarURL:     "https://example.com/avatar.png",
	}
}

func TestResolveFreshIdentity(t *testing.T) {
	t.Run("creates-user-and-account", func(t *testing.T) {
		r, db := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)
		assert.True(t, resolution.NewUser)
		assert.False(t, resolution.Linked)
		assert.Equal(t, "jane@example.com", resolution.User.Email)
		assert.Equal(t, "Jane Doe", resolution.User.Username)
		assert.True(t, resolution.User.EmailVerified)

		account, err := database.GetAccountByProviderSubject(db, "github", "583231")
		require.NoError(t, err)
		assert.Equal(t, resolution.User.ID, account.UserID)
	})

	t.Run("missing-email-rejected", func(t *testing.T) {
		r, _ := setupResolver(t)

		_, err := r.Resolve("github", providers.Identity{ExternalID: "583231"}, "")
		assert.ErrorIs(t, err, ErrEmailRequired)
	})

	t.Run("email-collision-never-auto-links", func(t *testing.T) {
		r, db := setupResolver(t)

		existing := &database.User{ID: "u-existing", Username: "jane", Email: "jane@example.com"}
		require.NoError(t, db.Create(existing).Error)

		_, err := r.Resolve("github", janeIdentity(), "")
		assert.ErrorIs(t, err, ErrEmailConflict)

		// The identity must not have been linked to the existing user
		_, err = database.GetAccountByProviderSubject(db, "github", "583231")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("username-falls-back-to-email-localpart", func(t *testing.T) {
		r, _ := setupResolver(t)

		ident := janeIdentity()
		ident.DisplayName = ""
		resolution, err := r.Resolve("github", ident, "")
		require.NoError(t, err)
		assert.Equal(t, "jane", resolution.User.Username)
	})
}

func TestResolveReturningLogin(t *testing.T) {
	t.Run("same-identity-returns-same-user", func(t *testing.T) {
		r, _ := setupResolver(t)

		first, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		second, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)
		assert.False(t, second.NewUser)
		assert.Equal(t, first.User.ID, second.User.ID)
		assert.Equal(t, first.Account.ID, second.Account.ID)
	})

	t.Run("profile-synced-on-login", func(t *testing.T) {
		r, db := setupResolver(t)

		_, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		updated := janeIdentity()
		updated.DisplayName = "Jane A. Doe"
		updated.Email = "jane.doe@example.com"
		_, err = r.Resolve("github", updated, "")
		require.NoError(t, err)

		account, err := database.GetAccountByProviderSubject(db, "github", "583231")
		require.NoError(t, err)
		assert.Equal(t, "jane.doe@example.com", account.Email)
		assert.Contains(t, account.ProfileSnapshot, "Jane A. Doe")
	})

	t.Run("profile-sync-disabled", func(t *testing.T) {
		db := database.SetupMockAuthDB(t)
		t.Cleanup(func() { database.TeardownMockAuthDB(t) })
		r := New(db, events.NopSink{}, false)

		_, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		updated := janeIdentity()
		updated.Email = "changed@example.com"
		_, err = r.Resolve("github", updated, "")
		require.NoError(t, err)

		account, err := database.GetAccountByProviderSubject(db, "github", "583231")
		require.NoError(t, err)
		assert.Equal(t, "jane@example.com", account.Email)
	})
}

func TestResolveLinking(t *testing.T) {
	t.Run("links-to-current-user", func(t *testing.T) {
		r, db := setupResolver(t)

		user := &database.User{ID: "u-1", Username: "jane", Email: "jane@example.com"}
		require.NoError(t, db.Create(user).Error)

		resolution, err := r.Resolve("github", janeIdentity(), "u-1")
		require.NoError(t, err)
		assert.True(t, resolution.Linked)
		assert.False(t, resolution.NewUser)
		assert.Equal(t, "u-1", resolution.User.ID)
	})

	t.Run("identity-owned-by-another-user", func(t *testing.T) {
		r, db := setupResolver(t)

		// Jane signs up via GitHub, then a different logged-in user
		// tries to link the same GitHub identity
		_, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		other := &database.User{ID: "u-other", Username: "mallory", Email: "mallory@example.com"}
		require.NoError(t, db.Create(other).Error)

		_, err = r.Resolve("github", janeIdentity(), "u-other")
		assert.ErrorIs(t, err, ErrAlreadyLinkedElsewhere)
	})

	t.Run("relink-own-identity-is-a-login", func(t *testing.T) {
		r, _ := setupResolver(t)

		first, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		resolution, err := r.Resolve("github", janeIdentity(), first.User.ID)
		require.NoError(t, err)
		assert.False(t, resolution.Linked)
		assert.Equal(t, first.User.ID, resolution.User.ID)
	})
}

func TestUnlink(t *testing.T) {
	t.Run("not-linked", func(t *testing.T) {
		r, db := setupResolver(t)

		user := &database.User{ID: "u-1", Username: "jane", Email: "jane@example.com"}
		require.NoError(t, db.Create(user).Error)

		assert.ErrorIs(t, r.Unlink("u-1", "github"), ErrNotLinked)
	})

	t.Run("last-method-guarded", func(t *testing.T) {
		r, _ := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		assert.ErrorIs(t, r.Unlink(resolution.User.ID, "github"), ErrLastAuthMethod)
	})

	t.Run("unlink-with-password-set", func(t *testing.T) {
		r, db := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)
		require.NoError(t, db.Model(&database.User{}).Where("id = ?", resolution.User.ID).
			Update("hashed_password", "$argon2id$fake").Error)

		require.NoError(t, r.Unlink(resolution.User.ID, "github"))
		_, err = database.GetAccountByProviderSubject(db, "github", "583231")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("unlink-with-second-provider", func(t *testing.T) {
		r, db := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		gitlabIdent := janeIdentity()
		gitlabIdent.ExternalID = "42"
		_, err = r.Resolve("gitlab", gitlabIdent, resolution.User.ID)
		require.NoError(t, err)

		require.NoError(t, r.Unlink(resolution.User.ID, "github"))

		accounts, err := database.GetAccountsByUser(db, resolution.User.ID)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.Equal(t, "gitlab", accounts[0].Provider)
	})
}

func TestPrepareUnlink(t *testing.T) {
	t.Run("not-linked", func(t *testing.T) {
		r, db := setupResolver(t)

		user := &database.User{ID: "u-1", Username: "jane", Email: "jane@example.com"}
		require.NoError(t, db.Create(user).Error)

		_, err := r.PrepareUnlink("u-1", "github")
		assert.ErrorIs(t, err, ErrNotLinked)
	})

	t.Run("last-method-refused-without-side-effects", func(t *testing.T) {
		r, db := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		_, err = r.PrepareUnlink(resolution.User.ID, "github")
		assert.ErrorIs(t, err, ErrLastAuthMethod)

		// The refusal must leave the linked account in place
		_, err = database.GetAccountByProviderSubject(db, "github", "583231")
		assert.NoError(t, err)
	})

	t.Run("eligible-returns-the-account", func(t *testing.T) {
		r, _ := setupResolver(t)

		resolution, err := r.Resolve("github", janeIdentity(), "")
		require.NoError(t, err)

		gitlabIdent := janeIdentity()
		gitlabIdent.ExternalID = "42"
		_, err = r.Resolve("gitlab", gitlabIdent, resolution.User.ID)
		require.NoError(t, err)

		account, err := r.PrepareUnlink(resolution.User.ID, "github")
		require.NoError(t, err)
		assert.Equal(t, resolution.Account.ID, account.ID)
		assert.Equal(t, "github", account.Provider)
	})
}

func TestListLinkedProviders(t *testing.T) {
	r, _ := setupResolver(t)

	resolution, err := r.Resolve("github", janeIdentity(), "")
	require.NoError(t, err)

	gitlabIdent := janeIdentity()
	gitlabIdent.ExternalID = "42"
	gitlabIdent.DisplayName = "jane.gl"
	_, err = r.Resolve("gitlab", gitlabIdent, resolution.User.ID)
	require.NoError(t, err)

	linked, err := r.ListLinkedProviders(resolution.User.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, "github", linked[0].Provider)
	assert.Equal(t, "gitlab", linked[1].Provider)
	assert.Equal(t, "jane.gl", linked[1].DisplayName)
	assert.Equal(t, "jane@example.com", linked[0].Email)
}

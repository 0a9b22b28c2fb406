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

// Package resolver maps a verified external identity onto a local
// account: returning login, new-user creation, explicit linking, or a
// conflict requiring the user to authenticate with their existing
// method first.
//
// Auto-linking by email match is never performed, even for verified
// emails: an attacker controlling an email address at a provider must
// not gain access to a pre-existing local account with that address.
package resolver

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/server_structs"
)

var (
	// ErrEmailConflict indicates the provider email matches an existing
	// local user; the user must log in with their existing method and
	// link explicitly.
	ErrEmailConflict = errors.New("email belongs to an existing account; log in with your existing method to link")

	// ErrAlreadyLinkedElsewhere indicates the provider identity is
	// already bound to a different local user.
	ErrAlreadyLinkedElsewhere = errors.New("provider identity is already linked to another account")

	// ErrLastAuthMethod indicates unlinking would leave the user with
	// no way to authenticate.
	ErrLastAuthMethod = errors.New("cannot remove the only remaining authentication method")

	// ErrNotLinked indicates the user has no account for the provider.
	ErrNotLinked = errors.New("provider is not linked to this account")

	// ErrEmailRequired indicates the provider supplied no email address
	// for a brand-new identity, so no local account can be created.
	ErrEmailRequired = errors.New("provider did not supply an email address")
)

// Resolution is the successful outcome of Resolve.
type Resolution struct {
	User    *database.User
	Account *database.OAuthAccount
	// NewUser is true when a local user was created for this login.
	NewUser bool
	// Linked is true when the identity was attached to an existing
	// authenticated user.
	Linked bool
}

// Resolver owns all OAuthAccount mutations besides token rows.
type Resolver struct {
	db          *gorm.DB
	sink        events.Sink
	profileSync bool
}

func New(db *gorm.DB, sink events.Sink, profileSync bool) *Resolver {
	return &Resolver{db: db, sink: sink, profileSync: profileSync}
}

// Resolve decides what a verified identity means locally.
// currentUserID is empty for a fresh login and set when an
// authenticated user is explicitly linking a provider.
func (r *Resolver) Resolve(providerName string, ident providers.Identity, currentUserID string) (*Resolution, error) {
	account, err := database.GetAccountByProviderSubject(r.db, providerName, ident.ExternalID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if account != nil {
		return r.resolveExisting(account, ident, currentUserID)
	}

	if currentUserID != "" {
		return r.linkToCurrent(providerName, ident, currentUserID)
	}

	return r.resolveFresh(providerName, ident)
}

// resolveExisting handles a provider identity that is already linked:
// a returning login, or a link attempt colliding with another user.
func (r *Resolver) resolveExisting(account *database.OAuthAccount, ident providers.Identity, currentUserID string) (*Resolution, error) {
	if currentUserID != "" && account.UserID != currentUserID {
		return nil, ErrAlreadyLinkedElsewhere
	}

	user, err := database.GetUserByID(r.db, account.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "linked account references a missing user")
	}

	if r.profileSync {
		if err := r.syncProfile(account, ident); err != nil {
			// Sync failure does not block the login.
			log.Warningf("Failed to sync profile for account %s: %v", account.ID, err)
		}
	}

	return &Resolution{User: user, Account: account}, nil
}

// resolveFresh handles a brand-new identity with no authenticated user:
// either a conflict with an existing local email or an atomic
// user-plus-account creation.
func (r *Resolver) resolveFresh(providerName string, ident providers.Identity) (*Resolution, error) {
	if ident.Email == "" {
		return nil, ErrEmailRequired
	}

	_, err := database.GetUserByEmail(r.db, ident.Email)
	if err == nil {
		// A local user owns this email. Never auto-link, verified or
		// not; the user must prove ownership of the local account
		// first.
		return nil, ErrEmailConflict
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user := &database.User{
		Username:      usernameFor(ident, providerName),
		Email:         strings.ToLower(ident.Email),
		EmailVerified: ident.EmailVerified,
	}
	account := r.newAccountRow(providerName, ident)

	if err := database.CreateUserWithAccount(r.db, user, account); err != nil {
		if errors.Is(err, database.ErrDuplicateIdentity) {
			return nil, ErrAlreadyLinkedElsewhere
		}
		return nil, err
	}

	return &Resolution{User: user, Account: account, NewUser: true}, nil
}

// linkToCurrent attaches a new provider identity to the authenticated
// user.
func (r *Resolver) linkToCurrent(providerName string, ident providers.Identity, currentUserID string) (*Resolution, error) {
	user, err := database.GetUserByID(r.db, currentUserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load the linking user")
	}

	account := r.newAccountRow(providerName, ident)
	account.UserID = user.ID
	if err := database.CreateAccount(r.db, account); err != nil {
		if errors.Is(err, database.ErrDuplicateIdentity) {
			return nil, ErrAlreadyLinkedElsewhere
		}
		return nil, err
	}

	r.sink.Emit(events.KindAccountLinked, map[string]any{
		"user_id":     user.ID,
		"provider":    providerName,
		"external_id": ident.ExternalID,
	})
	return &Resolution{User: user, Account: account, Linked: true}, nil
}

// PrepareUnlink confirms an unlink is permitted and returns the account
// that would be removed, so callers can revoke its stored credentials
// upstream before committing to Unlink. The eligibility rules live only
// here; Unlink re-applies them through this method.
func (r *Resolver) PrepareUnlink(userID, providerName string) (*database.OAuthAccount, error) {
	account, err := database.GetAccountByUserProvider(r.db, userID, providerName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotLinked
		}
		return nil, err
	}

	methods, err := database.CountAuthMethods(r.db, userID)
	if err != nil {
		return nil, err
	}
	if methods <= 1 {
		return nil, ErrLastAuthMethod
	}
	return account, nil
}

// Unlink removes a linked provider, cascading its token, unless the
// provider is the user's only remaining authentication method.
func (r *Resolver) Unlink(userID, providerName string) error {
	account, err := r.PrepareUnlink(userID, providerName)
	if err != nil {
		return err
	}

	if err := database.DeleteAccountWithToken(r.db, account.ID); err != nil {
		return err
	}

	r.sink.Emit(events.KindAccountUnlinked, map[string]any{
		"user_id":  userID,
		"provider": providerName,
	})
	return nil
}

// ListLinkedProviders returns the user's linked providers, oldest link
// first.
func (r *Resolver) ListLinkedProviders(userID string) ([]server_structs.LinkedProvider, error) {
	accounts, err := database.GetAccountsByUser(r.db, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]server_structs.LinkedProvider, 0, len(accounts))
	for _, account := range accounts {
		summary := server_structs.LinkedProvider{
			Provider: account.Provider,
			Email:    account.Email,
			LinkedAt: account.LinkedAt,
		}
		if account.ProfileSnapshot != "" {
			var snapshot map[string]string
			if err := json.Unmarshal([]byte(account.ProfileSnapshot), &snapshot); err == nil {
				summary.DisplayName = snapshot["display_name"]
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *Resolver) newAccountRow(providerName string, ident providers.Identity) *database.OAuthAccount {
	return &database.OAuthAccount{
		Provider:        providerName,
		ProviderUserID:  ident.ExternalID,
		Email:           strings.ToLower(ident.Email),
		EmailVerified:   ident.EmailVerified,
		ProfileSnapshot: snapshotFor(ident),
	}
}

func (r *Resolver) syncProfile(account *database.OAuthAccount, ident providers.Identity) error {
	return database.UpdateAccountProfile(r.db, account.ID,
		strings.ToLower(ident.Email), ident.EmailVerified, snapshotFor(ident))
}

func snapshotFor(ident providers.Identity) string {
	snapshot := map[string]string{
		"display_name": ident.DisplayName,
		"avatar_url":   ident.AvatarURL,
	}
	buf, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	return string(buf)
}

func usernameFor(ident providers.Identity, providerName string) string {
	if ident.DisplayName != "" {
		return ident.DisplayName
	}
	if at := strings.Index(ident.Email, "@"); at > 0 {
		return ident.Email[:at]
	}
	return providerName + ":" + ident.ExternalID
}

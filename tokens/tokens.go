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

// Package tokens manages the stored provider credentials for linked
// accounts: encrypted persistence, lazy refresh on expiry, and
// best-effort revocation.
package tokens

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/vault"
)

var (
	// ErrReauthenticationRequired indicates no usable access or refresh
	// token remains; the user must complete a fresh authorization flow.
	ErrReauthenticationRequired = errors.New("reauthentication required")

	// ErrProviderUnavailable indicates a provider network failure or
	// timeout, as opposed to an explicit provider rejection.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// accessExpirySkew treats tokens expiring within this window as already
// expired so callers never receive a token that dies mid-request.
const accessExpirySkew = 30 * time.Second

// Manager is the token lifecycle manager. All OAuthToken rows are
// mutated through it, under per-account single-writer discipline.
type Manager struct {
	db       *gorm.DB
	vault    *vault.Vault
	registry *providers.Registry
	sink     events.Sink
	client   *http.Client
	timeout  time.Duration

	// group collapses concurrent refresh attempts for one account into
	// a single provider call.
	group singleflight.Group
}

func NewManager(db *gorm.DB, v *vault.Vault, registry *providers.Registry, sink events.Sink, client *http.Client, timeout time.Duration) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		db:       db,
		vault:    v,
		registry: registry,
		sink:     sink,
		client:   client,
		timeout:  timeout,
	}
}

// Store encrypts and persists the token material for an account,
// overwriting any existing record.
func (m *Manager) Store(accountID string, tok *oauth2.Token) error {
	if tok.AccessToken == "" {
		return errors.New("refusing to store an empty access token")
	}

	accessCiphertext, err := m.vault.Encrypt([]byte(tok.AccessToken))
	if err != nil {
		return errors.Wrap(err, "failed to encrypt access token")
	}

	row := &database.OAuthToken{
		AccountID:        accountID,
		AccessCiphertext: accessCiphertext,
		AccessExpiresAt:  tok.Expiry.UTC(),
		Scopes:           scopesFromToken(tok),
	}

	if tok.RefreshToken != "" {
		refreshCiphertext, err := m.vault.Encrypt([]byte(tok.RefreshToken))
		if err != nil {
			return errors.Wrap(err, "failed to encrypt refresh token")
		}
		row.RefreshCiphertext = refreshCiphertext
		if ttl := refreshTTLFromToken(tok); ttl > 0 {
			expiry := time.Now().UTC().Add(ttl)
			row.RefreshExpiresAt = &expiry
		}
	}

	return database.UpsertToken(m.db, row)
}

// GetValidAccessToken returns a decrypted access token for the account,
// refreshing it first when expired. Concurrent calls for one account
// trigger at most one provider refresh; the rest wait and reuse the
// result.
func (m *Manager) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	row, err := database.GetTokenByAccount(m.db, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrReauthenticationRequired
		}
		return "", err
	}

	if accessStillValid(row) {
		plaintext, err := m.vault.Decrypt(row.AccessCiphertext)
		if err != nil {
			return "", errors.Wrap(err, "failed to decrypt access token")
		}
		return string(plaintext), nil
	}

	result, err, _ := m.group.Do(accountID, func() (interface{}, error) {
		return m.refresh(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// refresh performs one provider refresh exchange for the account. It
// re-reads the row first: a concurrent flight may have just written a
// fresh token, in which case that one is reused.
func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	row, err := database.GetTokenByAccount(m.db, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrReauthenticationRequired
		}
		return "", err
	}

	if accessStillValid(row) {
		plaintext, err := m.vault.Decrypt(row.AccessCiphertext)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	}

	if len(row.RefreshCiphertext) == 0 {
		return "", ErrReauthenticationRequired
	}
	if row.RefreshExpiresAt != nil && time.Now().UTC().After(*row.RefreshExpiresAt) {
		return "", ErrReauthenticationRequired
	}

	account := &database.OAuthAccount{}
	if err := m.db.First(account, "id = ?", accountID).Error; err != nil {
		return "", errors.Wrap(err, "failed to look up account for token refresh")
	}

	cfg, err := m.registry.Lookup(account.Provider)
	if err != nil {
		return "", err
	}

	refreshPlain, err := m.vault.Decrypt(row.RefreshCiphertext)
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt refresh token")
	}

	refreshCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	refreshCtx = context.WithValue(refreshCtx, oauth2.HTTPClient, m.client)

	ocfg := cfg.OAuth2Config("")
	source := ocfg.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: string(refreshPlain)})
	newTok, err := source.Token()
	if err != nil {
		if IsProviderRejection(err) {
			// The provider no longer accepts this refresh token.
			log.Debugf("Provider %s rejected the refresh token for account %s", account.Provider, accountID)
			return "", ErrReauthenticationRequired
		}
		return "", errors.Wrapf(ErrProviderUnavailable, "token refresh against %s failed: %v", account.Provider, err)
	}

	// The provider may not echo the refresh token back; keep the old one.
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = string(refreshPlain)
	}

	if err := m.Store(accountID, newTok); err != nil {
		return "", err
	}

	m.sink.Emit(events.KindTokenRefreshed, map[string]any{
		"account_id": accountID,
		"provider":   account.Provider,
		"expires_at": newTok.Expiry.UTC().Format(time.RFC3339),
	})
	return newTok.AccessToken, nil
}

// Revoke attempts provider-side revocation and then deletes the local
// token row. Provider failure is logged, not fatal; the local deletion
// always proceeds.
func (m *Manager) Revoke(ctx context.Context, accountID string) error {
	account := &database.OAuthAccount{}
	if err := m.db.First(account, "id = ?", accountID).Error; err != nil {
		return errors.Wrap(err, "failed to look up account for revocation")
	}

	row, err := database.GetTokenByAccount(m.db, accountID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if row != nil {
		if err := m.revokeUpstream(ctx, account.Provider, row); err != nil {
			log.Warningf("Best-effort token revocation at provider %s failed: %v", account.Provider, err)
		}
	}

	if err := database.DeleteTokenByAccount(m.db, accountID); err != nil {
		return errors.Wrap(err, "failed to delete local token record")
	}

	m.sink.Emit(events.KindTokenRevoked, map[string]any{
		"account_id": accountID,
		"provider":   account.Provider,
	})
	return nil
}

// revokeUpstream posts the RFC 7009 revocation request for the stored
// refresh token (falling back to the access token).
func (m *Manager) revokeUpstream(ctx context.Context, providerName string, row *database.OAuthToken) error {
	cfg, err := m.registry.Lookup(providerName)
	if err != nil {
		return err
	}
	if cfg.RevocationEndpoint == "" {
		log.Debugf("Provider %s has no revocation endpoint; skipping upstream revocation", providerName)
		return nil
	}

	ciphertext := row.RefreshCiphertext
	hint := "refresh_token"
	if len(ciphertext) == 0 {
		ciphertext = row.AccessCiphertext
		hint = "access_token"
	}
	plaintext, err := m.vault.Decrypt(ciphertext)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("token", string(plaintext))
	form.Set("token_type_hint", hint)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)

	revokeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(revokeCtx, http.MethodPost, cfg.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("revocation endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// IsProviderRejection reports whether the error is an explicit OAuth2
// error response from the provider, as opposed to a transport failure
// or timeout.
func IsProviderRejection(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

func accessStillValid(row *database.OAuthToken) bool {
	// A zero expiry means the provider sent no expires_in; the access
	// token does not expire (GitHub classic OAuth apps do this).
	if row.AccessExpiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().Before(row.AccessExpiresAt.Add(-accessExpirySkew))
}

func scopesFromToken(tok *oauth2.Token) string {
	if scope, ok := tok.Extra("scope").(string); ok {
		return scope
	}
	return ""
}

// refreshTTLFromToken extracts the nonstandard refresh_expires_in field
// some providers (e.g. GitLab, GitHub fine-grained tokens) return.
func refreshTTLFromToken(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("refresh_token_expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	}
	return 0
}

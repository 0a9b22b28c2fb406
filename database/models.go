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

package database

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// User is a local account. A user may authenticate with a password, with
// one or more linked OAuth providers, or both; the resolver's last-auth-
// method guard relies on HashedPassword being empty when no password is
// set.
type User struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"not null" json:"username"`
	Email          string    `gorm:"not null;uniqueIndex:idx_user_email" json:"email"`
	EmailVerified  bool      `gorm:"not null;default:false" json:"emailVerified"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// OAuthAccount links an external provider identity to a local user.
// The (provider, provider_user_id) pair is unique system-wide so one
// external identity can never be attached to two local users; the
// (user_id, provider) pair is unique so each user links a provider at
// most once.
type OAuthAccount struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	UserID          string    `gorm:"not null;uniqueIndex:idx_account_user_provider" json:"userId"`
	Provider        string    `gorm:"not null;uniqueIndex:idx_account_user_provider;uniqueIndex:idx_account_provider_subject" json:"provider"`
	ProviderUserID  string    `gorm:"not null;uniqueIndex:idx_account_provider_subject" json:"providerUserId"`
	Email           string    `json:"email"`
	EmailVerified   bool      `gorm:"not null;default:false" json:"emailVerified"`
	ProfileSnapshot string    `json:"profileSnapshot"` // JSON object of provider display fields
	LinkedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"linkedAt"`
}

// OAuthToken holds the encrypted provider credentials for one linked
// account. Exactly one live row exists per account; Store overwrites.
// Ciphertext columns are sealed by the vault and never logged.
type OAuthToken struct {
	ID                string     `gorm:"primaryKey" json:"id"`
	AccountID         string     `gorm:"not null;uniqueIndex:idx_token_account" json:"accountId"`
	AccessCiphertext  []byte     `gorm:"not null" json:"-"`
	RefreshCiphertext []byte     `json:"-"`
	AccessExpiresAt   time.Time  `gorm:"not null" json:"accessExpiresAt"`
	RefreshExpiresAt  *time.Time `json:"refreshExpiresAt"`
	Scopes            string     `json:"scopes"`
	UpdatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func generateSlug() (string, error) {
	slug := make([]byte, 16)
	_, err := rand.Read(slug)
	if err != nil {
		return "", err
	}
	slugStr := hex.EncodeToString(slug)
	slugStr = slugStr[:8]
	return slugStr, nil
}

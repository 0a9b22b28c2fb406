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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateIdentity indicates the (provider, provider_user_id)
	// pair already exists for another account.
	ErrDuplicateIdentity = errors.New("provider identity is already linked")
)

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	user := &User{}
	if err := db.First(user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	user := &User{}
	if err := db.Where("email = ?", strings.ToLower(email)).First(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUserWithAccount creates a local user and its first linked OAuth
// account in a single transaction so a failure cannot leave an orphaned
// row on either side.
func CreateUserWithAccount(db *gorm.DB, user *User, account *OAuthAccount) error {
	if user.ID == "" {
		slug, err := generateSlug()
		if err != nil {
			return err
		}
		user.ID = slug
	}
	user.Email = strings.ToLower(user.Email)
	account.UserID = user.ID
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.LinkedAt.IsZero() {
		account.LinkedAt = time.Now().UTC()
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := tx.Create(account).Error; err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicateIdentity
			}
			return err
		}
		return nil
	})
}

func GetAccountByProviderSubject(db *gorm.DB, provider, providerUserID string) (*OAuthAccount, error) {
	account := &OAuthAccount{}
	err := db.Where("provider = ? AND provider_user_id = ?", provider, providerUserID).First(account).Error
	if err != nil {
		return nil, err
	}
	return account, nil
}

func GetAccountByUserProvider(db *gorm.DB, userID, provider string) (*OAuthAccount, error) {
	account := &OAuthAccount{}
	err := db.Where("user_id = ? AND provider = ?", userID, provider).First(account).Error
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountsByUser returns all linked accounts for a user, oldest link
// first.
func GetAccountsByUser(db *gorm.DB, userID string) ([]OAuthAccount, error) {
	accounts := []OAuthAccount{}
	err := db.Where("user_id = ?", userID).Order("linked_at ASC").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func CreateAccount(db *gorm.DB, account *OAuthAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.LinkedAt.IsZero() {
		account.LinkedAt = time.Now().UTC()
	}
	if err := db.Create(account).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateIdentity
		}
		return err
	}
	return nil
}

// UpdateAccountProfile refreshes the provider-supplied display fields on
// a subsequent login.
func UpdateAccountProfile(db *gorm.DB, accountID, email string, emailVerified bool, profileSnapshot string) error {
	return db.Model(&OAuthAccount{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"email":            email,
		"email_verified":   emailVerified,
		"profile_snapshot": profileSnapshot,
	}).Error
}

// DeleteAccountWithToken removes a linked account and cascades deletion
// of its token row in one transaction.
func DeleteAccountWithToken(db *gorm.DB, accountID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("account_id = ?", accountID).Delete(&OAuthToken{}); result.Error != nil {
			return result.Error
		}
		if result := tx.Delete(&OAuthAccount{}, "id = ?", accountID); result.Error != nil {
			return result.Error
		}
		return nil
	})
}

// UpsertToken stores a token row for the account, replacing any existing
// one so at most one live row exists per account.
func UpsertToken(db *gorm.DB, token *OAuthToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	token.UpdatedAt = time.Now().UTC()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_ciphertext", "refresh_ciphertext",
			"access_expires_at", "refresh_expires_at",
			"scopes", "updated_at",
		}),
	}).Create(token).Error
}

func GetTokenByAccount(db *gorm.DB, accountID string) (*OAuthToken, error) {
	token := &OAuthToken{}
	if err := db.Where("account_id = ?", accountID).First(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

func DeleteTokenByAccount(db *gorm.DB, accountID string) error {
	return db.Where("account_id = ?", accountID).Delete(&OAuthToken{}).Error
}

// CountAuthMethods returns how many distinct authentication methods the
// user has: one per linked provider, plus one if a password is set.
func CountAuthMethods(db *gorm.DB, userID string) (int, error) {
	user, err := GetUserByID(db, userID)
	if err != nil {
		return 0, err
	}
	var linked int64
	if err := db.Model(&OAuthAccount{}).Where("user_id = ?", userID).Count(&linked).Error; err != nil {
		return 0, err
	}
	count := int(linked)
	if user.HashedPassword != "" {
		count++
	}
	return count, nil
}

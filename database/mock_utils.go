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
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupMockAuthDB replaces AuthDatabase with an in-memory sqlite
// instance carrying the auth schema. Tests only.
func SetupMockAuthDB(t *testing.T) *gorm.DB {
	mockDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Error setting up mock auth DB")
	err = mockDB.AutoMigrate(&User{}, &OAuthAccount{}, &OAuthToken{})
	require.NoError(t, err, "Failed to migrate mock auth DB")
	AuthDatabase = mockDB
	return mockDB
}

// TeardownMockAuthDB drops the auth tables created by SetupMockAuthDB.
func TeardownMockAuthDB(t *testing.T) {
	err := AuthDatabase.Migrator().DropTable(&OAuthToken{}, &OAuthAccount{}, &User{})
	require.NoError(t, err, "Error tearing down mock auth DB")
	AuthDatabase = nil
}

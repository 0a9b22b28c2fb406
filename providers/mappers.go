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

package providers

import (
	"fmt"

	"github.com/pkg/errors"
)

// MapperForProvider selects the identity mapper for a provider name.
// Providers without a dedicated mapper get the standard OIDC claim
// mapping.
func MapperForProvider(name string) IdentityMapper {
	switch name {
	case "github":
		return githubMapper{}
	case "gitlab":
		return gitlabMapper{}
	default:
		return oidcMapper{}
	}
}

// stringClaim returns the named claim as a string if present.
func stringClaim(raw map[string]interface{}, key string) string {
	if val, ok := raw[key]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return ""
}

func boolClaim(raw map[string]interface{}, key string) bool {
	if val, ok := raw[key]; ok {
		if boolVal, ok := val.(bool); ok {
			return boolVal
		}
	}
	return false
}

// subjectClaim extracts a stable subject identifier, tolerating the
// numeric IDs some providers return. Floats are converted through int64
// to avoid precision artifacts.
func subjectClaim(raw map[string]interface{}, key string) (string, error) {
	val, ok := raw[key]
	if !ok {
		return "", errors.Errorf("userinfo payload does not contain the %q claim", key)
	}
	switch v := val.(type) {
	case string:
		if v == "" {
			return "", errors.Errorf("userinfo claim %q is empty", key)
		}
		return v, nil
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return "", errors.Errorf("userinfo claim %q is not a valid numeric identifier", key)
		}
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", errors.Errorf("userinfo claim %q has unsupported type %T", key, val)
	}
}

// oidcMapper handles the standard OpenID Connect userinfo claims.
type oidcMapper struct{}

func (oidcMapper) Map(raw map[string]interface{}) (Identity, error) {
	sub, err := subjectClaim(raw, "sub")
	if err != nil {
		return Identity{}, err
	}
	name := stringClaim(raw, "name")
	if name == "" {
		name = stringClaim(raw, "preferred_username")
	}
	return Identity{
		ExternalID:    sub,
		Email:         stringClaim(raw, "email"),
		EmailVerified: boolClaim(raw, "email_verified"),
		DisplayName:   name,
		AvatarURL:     stringClaim(raw, "picture"),
	}, nil
}

// githubMapper handles GitHub's /user payload: numeric id, login as the
// username, and no email_verified flag (GitHub only returns a verified
// primary email on the user endpoint when the email scope is granted).
type githubMapper struct{}

func (githubMapper) Map(raw map[string]interface{}) (Identity, error) {
	id, err := subjectClaim(raw, "id")
	if err != nil {
		return Identity{}, err
	}
	name := stringClaim(raw, "name")
	if name == "" {
		name = stringClaim(raw, "login")
	}
	email := stringClaim(raw, "email")
	return Identity{
		ExternalID:    id,
		Email:         email,
		EmailVerified: email != "",
		DisplayName:   name,
		AvatarURL:     stringClaim(raw, "avatar_url"),
	}, nil
}

// gitlabMapper handles GitLab's OIDC-style userinfo with its
// nonstandard avatar claim.
type gitlabMapper struct{}

func (gitlabMapper) Map(raw map[string]interface{}) (Identity, error) {
	sub, err := subjectClaim(raw, "sub")
	if err != nil {
		return Identity{}, err
	}
	name := stringClaim(raw, "name")
	if name == "" {
		name = stringClaim(raw, "nickname")
	}
	avatar := stringClaim(raw, "picture")
	if avatar == "" {
		avatar = stringClaim(raw, "avatar_url")
	}
	return Identity{
		ExternalID:    sub,
		Email:         stringClaim(raw, "email"),
		EmailVerified: boolClaim(raw, "email_verified"),
		DisplayName:   name,
		AvatarURL:     avatar,
	}, nil
}

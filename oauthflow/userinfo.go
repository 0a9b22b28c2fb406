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

package oauthflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/inkhorn/inkhorn/providers"
)

// fetchIdentity obtains the user's claims from the provider and maps
// them to a normalized identity. Claims from the userinfo endpoint take
// precedence; an id_token, when present, only fills in claims userinfo
// did not supply. The id_token is parsed without signature verification
// since it arrived over the direct token-endpoint TLS channel.
func (e *Engine) fetchIdentity(ctx context.Context, cfg *providers.Config, tok *oauth2.Token) (providers.Identity, error) {
	claims := make(map[string]interface{})

	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		parsed, err := jwt.ParseString(idToken, jwt.WithVerify(false), jwt.WithValidate(false))
		if err != nil {
			log.Debugln("Failed to parse id_token from token response:", err)
		} else {
			claims, err = parsed.AsMap(ctx)
			if err != nil {
				claims = make(map[string]interface{})
			}
		}
	}

	userinfo, err := e.fetchUserInfo(ctx, cfg, tok.AccessToken)
	if err != nil {
		// Some providers (notably GitHub App installs with no scopes)
		// may still have yielded usable id_token claims.
		if len(claims) == 0 {
			return providers.Identity{}, err
		}
		log.Debugln("Userinfo request failed, falling back to id_token claims:", err)
	}
	for k, v := range userinfo {
		claims[k] = v
	}

	identity, err := cfg.Mapper.Map(claims)
	if err != nil {
		return providers.Identity{}, errors.Wrap(err, "provider returned an unusable identity document")
	}
	return identity, nil
}

func (e *Engine) fetchUserInfo(ctx context.Context, cfg *providers.Config, accessToken string) (map[string]interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.UserInfoEndpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "userinfo request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "failed to read userinfo response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrProviderUnavailable, "userinfo endpoint returned status %d", resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, errors.Wrap(err, "userinfo endpoint returned malformed JSON")
	}
	return claims, nil
}

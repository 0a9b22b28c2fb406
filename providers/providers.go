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

// Package providers holds the static per-provider OAuth2 configuration
// and the mapping from raw userinfo payloads to a normalized identity.
//
// The registry is an immutable lookup table built once at startup and
// injected into the flow engine; disabling a provider only stops new
// logins, it never deletes existing linked accounts.
package providers

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
)

// Identity is the normalized result of mapping a provider userinfo
// payload.
type Identity struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	DisplayName   string
	AvatarURL     string
}

// IdentityMapper converts a provider's raw userinfo JSON object into a
// normalized Identity.
type IdentityMapper interface {
	Map(raw map[string]interface{}) (Identity, error)
}

// Config is the static configuration for one provider.
type Config struct {
	Name                  string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
	RevocationEndpoint    string
	ClientID              string
	ClientSecret          string
	Scopes                []string
	Enabled               bool
	Mapper                IdentityMapper
}

// OAuth2Config bridges this provider's endpoints into an x/oauth2 config
// for the given redirect URL.
func (c *Config) OAuth2Config(redirectURL string) oauth2.Config {
	return oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthorizationEndpoint,
			TokenURL: c.TokenEndpoint,
		},
	}
}

// Registry is the immutable provider lookup table.
type Registry struct {
	providers map[string]*Config
	names     []string
}

var (
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrProviderDisabled = errors.New("provider is disabled")
)

// NewRegistry validates the configs (unique, non-empty names; client
// credentials present for enabled providers) and builds the table.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Config, len(configs))}
	for i := range configs {
		cfg := configs[i]
		name := strings.ToLower(cfg.Name)
		if name == "" {
			return nil, errors.New("provider name must not be empty")
		}
		if _, ok := r.providers[name]; ok {
			return nil, errors.Errorf("duplicate provider name %q", name)
		}
		if cfg.Enabled && (cfg.ClientID == "" || cfg.ClientSecret == "") {
			return nil, errors.Errorf("provider %q is enabled but has no client credentials", name)
		}
		if cfg.Mapper == nil {
			cfg.Mapper = MapperForProvider(name)
		}
		cfg.Name = name
		r.providers[name] = &cfg
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the provider config if it exists and is enabled.
func (r *Registry) Get(name string) (*Config, error) {
	cfg, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "provider %q", name)
	}
	if !cfg.Enabled {
		return nil, errors.Wrapf(ErrProviderDisabled, "provider %q", name)
	}
	return cfg, nil
}

// Lookup returns the provider config regardless of the enabled flag.
// Token refresh and revocation for already-linked accounts still work
// after a provider is disabled for new logins.
func (r *Registry) Lookup(name string) (*Config, error) {
	cfg, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProvider, "provider %q", name)
	}
	return cfg, nil
}

// Names returns all configured provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// LoadRegistry builds the registry from the OAuth.Providers.* viper
// subtree. Provider names are the map keys; endpoints default to the
// well-known values for github/google/gitlab so deployments only need
// client credentials for those.
func LoadRegistry() (*Registry, error) {
	raw := viper.GetStringMap("OAuth.Providers")
	configs := make([]Config, 0, len(raw))
	for name := range raw {
		sub := viper.Sub("OAuth.Providers." + name)
		if sub == nil {
			continue
		}
		cfg := defaultEndpoints(strings.ToLower(name))
		cfg.Name = strings.ToLower(name)
		cfg.ClientID = sub.GetString("ClientID")
		cfg.ClientSecret = sub.GetString("ClientSecret")
		if sub.IsSet("AuthorizationEndpoint") {
			cfg.AuthorizationEndpoint = sub.GetString("AuthorizationEndpoint")
		}
		if sub.IsSet("TokenEndpoint") {
			cfg.TokenEndpoint = sub.GetString("TokenEndpoint")
		}
		if sub.IsSet("UserInfoEndpoint") {
			cfg.UserInfoEndpoint = sub.GetString("UserInfoEndpoint")
		}
		if sub.IsSet("RevocationEndpoint") {
			cfg.RevocationEndpoint = sub.GetString("RevocationEndpoint")
		}
		if sub.IsSet("Scopes") {
			cfg.Scopes = sub.GetStringSlice("Scopes")
		}
		cfg.Enabled = sub.GetBool("Enabled")
		configs = append(configs, cfg)
	}
	return NewRegistry(configs)
}

func defaultEndpoints(name string) Config {
	switch name {
	case "github":
		return Config{
			AuthorizationEndpoint: "https://github.com/login/oauth/authorize",
			TokenEndpoint:         "https://github.com/login/oauth/access_token",
			UserInfoEndpoint:      "https://api.github.com/user",
			Scopes:                []string{"read:user", "user:email"},
		}
	case "google":
		return Config{
			AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenEndpoint:         "https://oauth2.googleapis.com/token",
			UserInfoEndpoint:      "https://openidconnect.googleapis.com/v1/userinfo",
			RevocationEndpoint:    "https://oauth2.googleapis.com/revoke",
			Scopes:                []string{"openid", "profile", "email"},
		}
	case "gitlab":
		return Config{
			AuthorizationEndpoint: "https://gitlab.com/oauth/authorize",
			TokenEndpoint:         "https://gitlab.com/oauth/token",
			UserInfoEndpoint:      "https://gitlab.com/oauth/userinfo",
			RevocationEndpoint:    "https://gitlab.com/oauth/revoke",
			Scopes:                []string{"openid", "profile", "email"},
		}
	default:
		return Config{Scopes: []string{"openid", "profile", "email"}}
	}
}

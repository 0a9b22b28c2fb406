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

// Package oauthflow orchestrates the authorization-code-with-PKCE
// handshake: initiation, callback validation, code exchange, identity
// resolution, and token storage.
//
// Each authentication attempt moves through
// INITIATED -> AWAITING_CALLBACK -> EXCHANGING -> RESOLVED, or to
// FAILED with a reason code at any point. Every terminal transition is
// reported to the audit sink.
package oauthflow

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/pkcestore"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/ratelimit"
	"github.com/inkhorn/inkhorn/resolver"
	"github.com/inkhorn/inkhorn/server_structs"
	"github.com/inkhorn/inkhorn/tokens"
)

// AuthResult is the successful outcome of a callback: an authenticated
// local user and where to send the browser next.
type AuthResult struct {
	User      *database.User
	AccountID string
	NewUser   bool
	Linked    bool
	ReturnURL string
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Registry    *providers.Registry
	Sessions    *pkcestore.Store
	Tokens      *tokens.Manager
	Resolver    *resolver.Resolver
	Sink        events.Sink
	Client      *http.Client
	CallbackURL string
	// Timeout bounds each provider network call.
	Timeout time.Duration

	InitiateGuard *ratelimit.Guard
	CallbackGuard *ratelimit.Guard
	IdentityGuard *ratelimit.Guard
}

// Engine drives the authorization-code flow. It is safe for concurrent
// use; independent flows interleave arbitrarily and only the PKCE
// session store serializes across them.
type Engine struct {
	registry    *providers.Registry
	sessions    *pkcestore.Store
	tokens      *tokens.Manager
	resolver    *resolver.Resolver
	sink        events.Sink
	client      *http.Client
	callbackURL string
	timeout     time.Duration

	initiateGuard *ratelimit.Guard
	callbackGuard *ratelimit.Guard
	identityGuard *ratelimit.Guard
}

func NewEngine(cfg EngineConfig) *Engine {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		tokens:        cfg.Tokens,
		resolver:      cfg.Resolver,
		sink:          cfg.Sink,
		client:        client,
		callbackURL:   cfg.CallbackURL,
		timeout:       cfg.Timeout,
		initiateGuard: cfg.InitiateGuard,
		callbackGuard: cfg.CallbackGuard,
		identityGuard: cfg.IdentityGuard,
	}
}

// Initiate starts an authorization attempt against the named provider
// and returns the URL to redirect the browser to. linkUserID is the
// authenticated user's ID when this is an explicit linking flow, empty
// for a fresh login. No session is created when the provider is
// unknown, disabled, or the caller is throttled.
func (e *Engine) Initiate(providerName, returnURL, linkUserID, clientIP string) (string, error) {
	if err := e.initiateGuard.Check("ip:" + clientIP); err != nil {
		e.sink.Emit(events.KindSecurityThrottle, map[string]any{
			"operation": "initiate",
			"client_ip": clientIP,
		})
		return "", err
	}

	cfg, err := e.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	session, err := e.sessions.Create(providerName, e.callbackURL, returnURL, linkUserID)
	if err != nil {
		return "", errors.Wrap(err, "failed to create authorization session")
	}

	ocfg := cfg.OAuth2Config(e.callbackURL)
	authURL := ocfg.AuthCodeURL(session.StateToken,
		oauth2.SetAuthURLParam("code_challenge", session.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	e.sink.Emit(events.KindFlowInitiated, map[string]any{
		"provider":   providerName,
		"session_id": session.SessionID,
		"linking":    linkUserID != "",
	})
	return authURL, nil
}

// HandleCallback validates the provider redirect, exchanges the code,
// and resolves the identity to a local user. Every exit path produces a
// terminal state: either an AuthResult or a typed failure with an audit
// event.
func (e *Engine) HandleCallback(ctx context.Context, cb server_structs.OAuthCallbackRequest, clientIP, currentUserID string) (*AuthResult, error) {
	if cb.Error != "" {
		// The user declined at the provider; drop any pending session
		// for this state and report denial.
		if cb.State != "" {
			e.sessions.Abort(cb.State)
		}
		err := errors.Wrapf(ErrProviderDenied, "provider returned error %q", cb.Error)
		e.fail(nil, err, map[string]any{"provider_error": cb.Error})
		return nil, err
	}

	session, err := e.sessions.ConsumeIfValid(cb.State)
	if err != nil {
		// Unknown state is the CSRF-mismatch case, a consumed state is
		// a replay; both are security events rather than plain 404s.
		kind := events.KindSecurityCSRF
		if errors.Is(err, pkcestore.ErrSessionAlreadyConsumed) {
			kind = events.KindSecurityReplay
		}
		e.sink.Emit(kind, map[string]any{"client_ip": clientIP})
		e.fail(nil, err, map[string]any{"client_ip": clientIP})
		return nil, err
	}

	if err := e.gateCallback(session, clientIP); err != nil {
		e.fail(session, err, nil)
		return nil, err
	}

	cfg, err := e.registry.Get(session.ProviderName)
	if err != nil {
		e.fail(session, err, nil)
		return nil, err
	}

	e.sink.Emit(events.KindFlowExchanging, map[string]any{
		"provider":   session.ProviderName,
		"session_id": session.SessionID,
	})

	tok, err := e.exchange(ctx, cfg, session, cb.Code)
	if err != nil {
		e.fail(session, err, nil)
		return nil, err
	}

	identity, err := e.fetchIdentity(ctx, cfg, tok)
	if err != nil {
		e.fail(session, err, nil)
		return nil, err
	}

	// Only failed resolutions count against the per-identity bucket;
	// a legitimate identity logging in often is never throttled by its
	// own successes.
	identityKey := session.ProviderName + ":" + identity.ExternalID
	if e.identityGuard.Exceeded(identityKey) {
		err := ratelimit.ErrRateLimited
		e.sink.Emit(events.KindSecurityThrottle, map[string]any{
			"operation": "resolve",
			"provider":  session.ProviderName,
		})
		e.fail(session, err, nil)
		return nil, err
	}

	// A linking flow records its user at initiation; a user already
	// authenticated at callback time takes the same path.
	linkUserID := session.LinkUserID
	if linkUserID == "" {
		linkUserID = currentUserID
	}

	resolution, err := e.resolver.Resolve(session.ProviderName, identity, linkUserID)
	if err != nil {
		e.identityGuard.Charge(identityKey)
		e.fail(session, err, nil)
		return nil, err
	}

	if err := e.tokens.Store(resolution.Account.ID, tok); err != nil {
		e.fail(session, err, nil)
		return nil, err
	}

	e.sink.Emit(events.KindFlowResolved, map[string]any{
		"provider":   session.ProviderName,
		"session_id": session.SessionID,
		"user_id":    resolution.User.ID,
		"new_user":   resolution.NewUser,
		"linked":     resolution.Linked,
	})

	return &AuthResult{
		User:      resolution.User,
		AccountID: resolution.Account.ID,
		NewUser:   resolution.NewUser,
		Linked:    resolution.Linked,
		ReturnURL: session.ReturnURL,
	}, nil
}

// gateCallback applies the callback rate limits keyed by state token
// and source IP. The state-token key defends against code-exchange
// brute forcing; the IP key against broad abuse.
func (e *Engine) gateCallback(session *pkcestore.Session, clientIP string) error {
	if err := e.callbackGuard.Check("state:" + session.StateToken); err != nil {
		e.sink.Emit(events.KindSecurityThrottle, map[string]any{
			"operation":  "callback",
			"session_id": session.SessionID,
		})
		return err
	}
	if err := e.callbackGuard.Check("ip:" + clientIP); err != nil {
		e.sink.Emit(events.KindSecurityThrottle, map[string]any{
			"operation": "callback",
			"client_ip": clientIP,
		})
		return err
	}
	return nil
}

// exchange trades the authorization code plus the stored verifier for
// tokens. The provider enforces the verifier/challenge binding; its
// rejection is surfaced distinctly from a network failure, and a
// timeout never un-consumes the session.
func (e *Engine) exchange(ctx context.Context, cfg *providers.Config, session *pkcestore.Session, code string) (*oauth2.Token, error) {
	exchangeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, e.client)

	ocfg := cfg.OAuth2Config(session.RedirectURI)
	tok, err := ocfg.Exchange(exchangeCtx, code,
		oauth2.SetAuthURLParam("code_verifier", session.CodeVerifier),
	)
	if err != nil {
		if tokens.IsProviderRejection(err) {
			log.Debugf("Provider %s rejected the code exchange for session %s: %v",
				session.ProviderName, session.SessionID, err)
			return nil, errors.Wrapf(ErrExchangeRejected, "%v", err)
		}
		return nil, errors.Wrapf(ErrProviderUnavailable, "code exchange against %s failed: %v", session.ProviderName, err)
	}
	return tok, nil
}

// fail records a terminal FAILED transition with its reason code.
func (e *Engine) fail(session *pkcestore.Session, err error, extra map[string]any) {
	attrs := map[string]any{"reason": ReasonForError(err)}
	if session != nil {
		attrs["provider"] = session.ProviderName
		attrs["session_id"] = session.SessionID
	}
	for k, v := range extra {
		attrs[k] = v
	}
	e.sink.Emit(events.KindFlowFailed, attrs)
}

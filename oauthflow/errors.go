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
	"github.com/pkg/errors"

	"github.com/inkhorn/inkhorn/pkcestore"
	"github.com/inkhorn/inkhorn/ratelimit"
	"github.com/inkhorn/inkhorn/resolver"
	"github.com/inkhorn/inkhorn/tokens"
)

// The full failure taxonomy of the authorization flow. Errors detected
// by collaborating packages are aliased here so callers can match the
// whole taxonomy against one package with errors.Is.
var (
	// ErrProviderDenied indicates the user declined consent at the
	// provider.
	ErrProviderDenied = errors.New("the provider denied the authorization request")

	// ErrExchangeRejected indicates the provider refused the code
	// exchange: invalid or expired code, or PKCE verifier mismatch.
	ErrExchangeRejected = errors.New("the provider rejected the code exchange")

	ErrSessionNotFound        = pkcestore.ErrSessionNotFound
	ErrSessionAlreadyConsumed = pkcestore.ErrSessionAlreadyConsumed
	ErrRateLimited            = ratelimit.ErrRateLimited
	ErrProviderUnavailable    = tokens.ErrProviderUnavailable
	ErrReauthRequired         = tokens.ErrReauthenticationRequired
	ErrEmailConflict          = resolver.ErrEmailConflict
	ErrAlreadyLinkedElsewhere = resolver.ErrAlreadyLinkedElsewhere
	ErrLastAuthMethod         = resolver.ErrLastAuthMethod
)

// ReasonForError maps a flow failure to the stable reason code recorded
// in audit events and terminal flow states.
func ReasonForError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderDenied):
		return "provider_denied"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionAlreadyConsumed):
		return "session_already_consumed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrExchangeRejected):
		return "exchange_rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrReauthRequired):
		return "reauthentication_required"
	case errors.Is(err, ErrEmailConflict):
		return "email_conflict"
	case errors.Is(err, ErrAlreadyLinkedElsewhere):
		return "already_linked_elsewhere"
	case errors.Is(err, ErrLastAuthMethod):
		return "last_auth_method"
	case errors.Is(err, resolver.ErrEmailRequired):
		return "email_required"
	default:
		return "internal"
	}
}

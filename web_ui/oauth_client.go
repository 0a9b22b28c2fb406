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

// Package web_ui exposes the third-party authentication endpoints over
// gin: starting a provider login, handling the provider callback, and
// managing the linked providers of a logged-in account.
package web_ui

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/inkhorn/inkhorn/oauthflow"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/resolver"
	"github.com/inkhorn/inkhorn/server_structs"
	"github.com/inkhorn/inkhorn/tokens"
)

var (
	flowEngine      *oauthflow.Engine
	accountResolver *resolver.Resolver
	tokenManager    *tokens.Manager
)

// Start an authorization attempt against the named provider and
// redirect the browser to the provider's consent page
func handleOAuthLogin(ctx *gin.Context) {
	req := server_structs.OAuthLoginRequest{}
	if ctx.ShouldBindQuery(&req) != nil {
		ctx.JSON(http.StatusBadRequest,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Failed to bind next url",
			})
		return
	}
	nextURL := req.NextUrl
	// Only same-site relative targets; anything else is an open
	// redirect vector.
	if nextURL == "" || !strings.HasPrefix(nextURL, "/") || strings.HasPrefix(nextURL, "//") {
		nextURL = "/"
	}

	// A logged-in user starting a provider login is linking that
	// provider to their account.
	linkUserID := currentUserID(ctx)

	redirectURL, err := flowEngine.Initiate(ctx.Param("provider"), nextURL, linkUserID, ctx.ClientIP())
	if err != nil {
		status, msg := statusForFlowError(err)
		ctx.JSON(status,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    msg,
			})
		return
	}

	ctx.Redirect(http.StatusTemporaryRedirect, redirectURL)
}

// Handle the provider's redirect back: validate state, exchange the
// code, and log the resolved user in
func handleOAuthCallback(ctx *gin.Context) {
	req := server_structs.OAuthCallbackRequest{}
	if ctx.ShouldBindQuery(&req) != nil {
		ctx.JSON(http.StatusBadRequest,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Invalid OAuth callback: failed to bind the state and code from the callback query",
			})
		return
	}

	result, err := flowEngine.HandleCallback(ctx.Request.Context(), req, ctx.ClientIP(), currentUserID(ctx))
	if err != nil {
		status, msg := statusForFlowError(err)
		ctx.JSON(status,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    msg,
			})
		return
	}

	if err := setLoginSession(ctx, result.User.ID); err != nil {
		log.Errorln("Failure when saving the login session:", err)
		ctx.JSON(http.StatusInternalServerError,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Authentication succeeded but the login session could not be saved",
			})
		return
	}

	ctx.Redirect(http.StatusFound, result.ReturnURL)
}

// List the providers linked to the logged-in account, oldest first
func handleListLinkedProviders(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Login required to list linked providers",
			})
		return
	}

	linked, err := accountResolver.ListLinkedProviders(userID)
	if err != nil {
		log.Errorln("Failed to list linked providers:", err)
		ctx.JSON(http.StatusInternalServerError,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Failed to list linked providers",
			})
		return
	}

	ctx.JSON(http.StatusOK, server_structs.LinkedProvidersResp{
		Status:    server_structs.RespOK,
		Providers: linked,
	})
}

// Unlink a provider from the logged-in account, revoking its stored
// tokens upstream on a best-effort basis
func handleUnlinkProvider(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    "Login required to unlink a provider",
			})
		return
	}
	providerName := ctx.Param("provider")

	// Revocation destroys the stored credentials, so confirm the
	// unlink is permitted before touching them.
	account, err := accountResolver.PrepareUnlink(userID, providerName)
	if err != nil {
		status, msg := statusForFlowError(err)
		ctx.JSON(status,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    msg,
			})
		return
	}

	// Best-effort upstream revocation; the unlink proceeds even if the
	// provider cannot be reached.
	if err := tokenManager.Revoke(ctx.Request.Context(), account.ID); err != nil {
		log.Debugf("Best-effort token revocation for provider %s failed: %v", providerName, err)
	}

	if err := accountResolver.Unlink(userID, providerName); err != nil {
		status, msg := statusForFlowError(err)
		ctx.JSON(status,
			server_structs.SimpleApiResp{
				Status: server_structs.RespFailed,
				Msg:    msg,
			})
		return
	}

	ctx.JSON(http.StatusOK, server_structs.SimpleApiResp{Status: server_structs.RespOK})
}

// statusForFlowError maps the flow's error taxonomy to an HTTP status
// and a user-facing message that never echoes provider payloads.
func statusForFlowError(err error) (int, string) {
	switch {
	case errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusNotFound, "Unknown authentication provider"
	case errors.Is(err, providers.ErrProviderDisabled):
		return http.StatusNotFound, "This authentication provider is not enabled"
	case errors.Is(err, oauthflow.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many authentication attempts; try again later"
	case errors.Is(err, oauthflow.ErrProviderDenied):
		return http.StatusBadRequest, "The provider reported that authorization was denied"
	case errors.Is(err, oauthflow.ErrSessionNotFound):
		return http.StatusBadRequest, "Invalid OAuth callback: unrecognized state token"
	case errors.Is(err, oauthflow.ErrSessionAlreadyConsumed):
		return http.StatusBadRequest, "Invalid OAuth callback: this authorization response was already used"
	case errors.Is(err, oauthflow.ErrExchangeRejected):
		return http.StatusBadRequest, "The provider rejected the authorization code"
	case errors.Is(err, oauthflow.ErrProviderUnavailable):
		return http.StatusBadGateway, "The authentication provider could not be reached; try again later"
	case errors.Is(err, oauthflow.ErrEmailConflict):
		return http.StatusConflict, "An account with this email already exists; log in with it first, then link this provider from your account page"
	case errors.Is(err, oauthflow.ErrAlreadyLinkedElsewhere):
		return http.StatusConflict, "This provider identity is already linked to a different account"
	case errors.Is(err, oauthflow.ErrLastAuthMethod):
		return http.StatusConflict, "Cannot unlink the only way to sign in to this account"
	case errors.Is(err, resolver.ErrEmailRequired):
		return http.StatusBadRequest, "The provider did not supply an email address for this account"
	case errors.Is(err, resolver.ErrNotLinked):
		return http.StatusNotFound, "This provider is not linked to your account"
	default:
		log.Errorln("Unexpected failure in the authentication flow:", err)
		return http.StatusInternalServerError, "Internal error during authentication"
	}
}

// ConfigOAuthClientAPIs wires the collaborators built at startup and
// registers the authentication routes on the engine.
func ConfigOAuthClientAPIs(engine *gin.Engine, flow *oauthflow.Engine, res *resolver.Resolver, mgr *tokens.Manager) error {
	flowEngine = flow
	accountResolver = res
	tokenManager = mgr

	seHandler, err := GetSessionHandler()
	if err != nil {
		return errors.Wrap(err, "failed to set up the session handler")
	}

	oauthGroup := engine.Group("/api/v1.0/auth/oauth", seHandler)
	{
		oauthGroup.GET("/callback", handleOAuthCallback)
		oauthGroup.GET("/providers", handleListLinkedProviders)
		oauthGroup.GET("/:provider/login", handleOAuthLogin)
		oauthGroup.DELETE("/:provider", handleUnlinkProvider)
	}
	return nil
}

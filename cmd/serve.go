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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inkhorn/inkhorn/config"
	"github.com/inkhorn/inkhorn/database"
	"github.com/inkhorn/inkhorn/events"
	"github.com/inkhorn/inkhorn/oauthflow"
	"github.com/inkhorn/inkhorn/param"
	"github.com/inkhorn/inkhorn/pkcestore"
	"github.com/inkhorn/inkhorn/providers"
	"github.com/inkhorn/inkhorn/ratelimit"
	"github.com/inkhorn/inkhorn/resolver"
	"github.com/inkhorn/inkhorn/tokens"
	"github.com/inkhorn/inkhorn/vault"
	"github.com/inkhorn/inkhorn/web_ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication service",
	RunE:  serveMain,
}

func serveMain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.InitAuthDatabase(); err != nil {
		return errors.Wrap(err, "failed to initialize the auth database")
	}
	defer func() {
		if err := database.ShutdownDB(database.AuthDatabase); err != nil {
			log.Errorln("Failure when shutting down the auth database:", err)
		}
	}()

	masterKey, err := vault.LoadOrCreateMasterKey()
	if err != nil {
		return errors.Wrap(err, "failed to load the credential master key")
	}
	tokenVault, err := vault.New(masterKey, "oauth-tokens")
	if err != nil {
		return errors.Wrap(err, "failed to initialize the credential vault")
	}

	registry, err := providers.LoadRegistry()
	if err != nil {
		return errors.Wrap(err, "failed to load the provider registry")
	}
	if len(registry.Names()) == 0 {
		log.Warningln("No OAuth providers are configured; third-party login is effectively disabled")
	}

	sink := events.LogSink{}
	client := config.GetClient()
	timeout := param.OAuth_ProviderTimeout.GetDuration()

	sessions := pkcestore.NewStore(param.OAuth_SessionTTL.GetDuration())
	defer sessions.Stop()

	initiateGuard := ratelimit.NewGuard(param.OAuth_RateLimit_InitiatePerMinute.GetInt(),
		param.OAuth_RateLimit_InitiatePerMinute.GetInt(), time.Minute)
	callbackGuard := ratelimit.NewGuard(param.OAuth_RateLimit_CallbackAttempts.GetInt(),
		param.OAuth_RateLimit_CallbackAttempts.GetInt(), time.Minute)
	identityGuard := ratelimit.NewGuard(param.OAuth_RateLimit_IdentityFailures.GetInt(),
		param.OAuth_RateLimit_IdentityFailures.GetInt(), time.Minute)
	defer initiateGuard.Stop()
	defer callbackGuard.Stop()
	defer identityGuard.Stop()

	tokenManager := tokens.NewManager(database.AuthDatabase, tokenVault, registry, sink, client, timeout)
	accountResolver := resolver.New(database.AuthDatabase, sink, param.OAuth_ProfileSyncOnLogin.GetBool())

	externalURL := strings.TrimSuffix(param.Server_ExternalWebUrl.GetString(), "/")
	flow := oauthflow.NewEngine(oauthflow.EngineConfig{
		Registry:      registry,
		Sessions:      sessions,
		Tokens:        tokenManager,
		Resolver:      accountResolver,
		Sink:          sink,
		Client:        client,
		CallbackURL:   externalURL + "/api/v1.0/auth/oauth/callback",
		Timeout:       timeout,
		InitiateGuard: initiateGuard,
		CallbackGuard: callbackGuard,
		IdentityGuard: identityGuard,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if err := web_ui.ConfigOAuthClientAPIs(engine, flow, accountResolver, tokenManager); err != nil {
		return errors.Wrap(err, "failed to configure the authentication APIs")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", param.Server_WebPort.GetInt()),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	egrp, egrpCtx := errgroup.WithContext(ctx)
	egrp.Go(func() error {
		log.Infoln("Serving authentication APIs on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "web server failed")
		}
		return nil
	})
	egrp.Go(func() error {
		<-egrpCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return egrp.Wait()
}

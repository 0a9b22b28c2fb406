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

// Package config handles process-wide initialization: viper defaults,
// config file discovery, and logging setup.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inkhorn/inkhorn/param"
)

var initialized = false

func setDefaults() {
	viper.SetDefault(param.Logging_Level.GetName(), "info")
	viper.SetDefault(param.Logging_Format.GetName(), "text")

	viper.SetDefault(param.Server_WebPort.GetName(), 8444)

	viper.SetDefault(param.Transport_DialerTimeout.GetName(), 10*time.Second)
	viper.SetDefault(param.Transport_DialerKeepAlive.GetName(), 30*time.Second)
	viper.SetDefault(param.Transport_MaxIdleConns.GetName(), 30)
	viper.SetDefault(param.Transport_IdleConnTimeout.GetName(), 90*time.Second)
	viper.SetDefault(param.Transport_TLSHandshakeTimeout.GetName(), 15*time.Second)
	viper.SetDefault(param.Transport_ExpectContinueTimeout.GetName(), 1*time.Second)
	viper.SetDefault(param.Transport_ResponseHeaderTimeout.GetName(), 10*time.Second)

	viper.SetDefault(param.OAuth_SessionTTL.GetName(), 10*time.Minute)
	viper.SetDefault(param.OAuth_ProviderTimeout.GetName(), 10*time.Second)
	viper.SetDefault(param.OAuth_ProfileSyncOnLogin.GetName(), true)
	viper.SetDefault(param.OAuth_RateLimit_InitiatePerMinute.GetName(), 30)
	viper.SetDefault(param.OAuth_RateLimit_CallbackAttempts.GetName(), 5)
	viper.SetDefault(param.OAuth_RateLimit_IdentityFailures.GetName(), 10)
}

// InitConfig reads the configuration file (if present), applies defaults,
// and configures the global logger.  Call once at process startup.
func InitConfig(cfgFile string) error {
	setDefaults()

	viper.SetEnvPrefix("INKHORN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", cfgFile)
		}
		if param.Server_DbLocation.GetString() == "" {
			viper.SetDefault(param.Server_DbLocation.GetName(),
				filepath.Join(filepath.Dir(cfgFile), "inkhorn.sqlite"))
		}
	}

	if err := initLogging(); err != nil {
		return err
	}

	initialized = true
	return nil
}

func initLogging() error {
	levelStr := param.Logging_Level.GetString()
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return errors.Wrapf(err, "invalid Logging.Level %q", levelStr)
	}
	log.SetLevel(level)

	switch strings.ToLower(param.Logging_Format.GetString()) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("invalid Logging.Format %q", param.Logging_Format.GetString())
	}
	return nil
}

// ResetConfig reverts all global configuration state. Tests only.
func ResetConfig() {
	_ = param.Reset()
	initialized = false
	resetTransport()
	resetSessionSecret()
}

// IsInitialized reports whether InitConfig has completed successfully.
func IsInitialized() bool {
	return initialized
}

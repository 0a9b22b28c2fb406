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

// Package param provides typed accessors for the viper-backed configuration.
//
// Every configuration knob the subsystem reads is declared here so that
// call sites never hard-code config key strings.  The accessors read from
// viper's global instance; Set/MultiSet/Reset exist primarily for tests.
package param

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type StringParam struct {
	name string
}

type StringSliceParam struct {
	name string
}

type BoolParam struct {
	name string
}

type IntParam struct {
	name string
}

type DurationParam struct {
	name string
}

func (p StringParam) GetName() string {
	return p.name
}

func (p StringParam) GetString() string {
	return viper.GetString(p.name)
}

func (p StringParam) IsSet() bool {
	return viper.IsSet(p.name)
}

func (p StringSliceParam) GetName() string {
	return p.name
}

func (p StringSliceParam) GetStringSlice() []string {
	return viper.GetStringSlice(p.name)
}

func (p StringSliceParam) IsSet() bool {
	return viper.IsSet(p.name)
}

func (p BoolParam) GetName() string {
	return p.name
}

func (p BoolParam) GetBool() bool {
	return viper.GetBool(p.name)
}

func (p BoolParam) IsSet() bool {
	return viper.IsSet(p.name)
}

func (p IntParam) GetName() string {
	return p.name
}

func (p IntParam) GetInt() int {
	return viper.GetInt(p.name)
}

func (p IntParam) IsSet() bool {
	return viper.IsSet(p.name)
}

func (p DurationParam) GetName() string {
	return p.name
}

func (p DurationParam) GetDuration() time.Duration {
	return viper.GetDuration(p.name)
}

func (p DurationParam) IsSet() bool {
	return viper.IsSet(p.name)
}

var (
	Logging_Level  = StringParam{"Logging.Level"}
	Logging_Format = StringParam{"Logging.Format"}

	Server_DbLocation        = StringParam{"Server.DbLocation"}
	Server_ExternalWebUrl    = StringParam{"Server.ExternalWebUrl"}
	Server_WebPort           = IntParam{"Server.WebPort"}
	Server_SessionSecretFile = StringParam{"Server.SessionSecretFile"}
	Server_MasterKeyFile     = StringParam{"Server.MasterKeyFile"}

	Transport_DialerTimeout         = DurationParam{"Transport.DialerTimeout"}
	Transport_DialerKeepAlive       = DurationParam{"Transport.DialerKeepAlive"}
	Transport_MaxIdleConns          = IntParam{"Transport.MaxIdleConns"}
	Transport_IdleConnTimeout       = DurationParam{"Transport.IdleConnTimeout"}
	Transport_TLSHandshakeTimeout   = DurationParam{"Transport.TLSHandshakeTimeout"}
	Transport_ExpectContinueTimeout = DurationParam{"Transport.ExpectContinueTimeout"}
	Transport_ResponseHeaderTimeout = DurationParam{"Transport.ResponseHeaderTimeout"}

	OAuth_SessionTTL         = DurationParam{"OAuth.SessionTTL"}
	OAuth_ProviderTimeout    = DurationParam{"OAuth.ProviderTimeout"}
	OAuth_ProfileSyncOnLogin = BoolParam{"OAuth.ProfileSyncOnLogin"}

	OAuth_RateLimit_InitiatePerMinute = IntParam{"OAuth.RateLimit.InitiatePerMinute"}
	OAuth_RateLimit_CallbackAttempts  = IntParam{"OAuth.RateLimit.CallbackAttempts"}
	OAuth_RateLimit_IdentityFailures  = IntParam{"OAuth.RateLimit.IdentityFailures"}

	// OAuth.Providers.<name>.* keys are read as a map by the providers
	// package since the provider set is deployment-defined.
	OAuth_Providers = StringParam{"OAuth.Providers"}
)

var configMutex sync.Mutex

// Set sets a single parameter value in viper. Primarily for tests.
func Set(key string, value interface{}) error {
	return MultiSet(map[string]interface{}{key: value})
}

// MultiSet sets multiple parameter values in viper under one lock.
func MultiSet(keyValues map[string]interface{}) error {
	configMutex.Lock()
	defer configMutex.Unlock()
	for key, value := range keyValues {
		viper.Set(key, value)
	}
	return nil
}

// Reset clears the global viper configuration. Primarily for tests.
func Reset() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	viper.Reset()
	return nil
}

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

package config

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/inkhorn/inkhorn/param"
)

const sessionSecretBytes = 32

var (
	sessionSecret     []byte
	sessionSecretOnce sync.Once
	sessionSecretErr  error
)

// LoadSessionSecret returns the secret used to authenticate browser
// session cookies, generating and persisting one on first start.
func LoadSessionSecret() ([]byte, error) {
	sessionSecretOnce.Do(loadSessionSecret)
	return sessionSecret, sessionSecretErr
}

func loadSessionSecret() {
	secretLocation := param.Server_SessionSecretFile.GetString()
	if secretLocation == "" {
		sessionSecretErr = errors.New("empty filename for Server.SessionSecretFile")
		return
	}

	buf, err := os.ReadFile(secretLocation)
	if err == nil {
		if len(buf) < sessionSecretBytes {
			sessionSecretErr = errors.Errorf("session secret file %s is too short", secretLocation)
			return
		}
		sessionSecret = buf
		return
	}
	if !os.IsNotExist(err) {
		sessionSecretErr = errors.Wrap(err, "error reading session secret file")
		return
	}

	log.Debugln("Generating a new session secret at", secretLocation)
	secret := make([]byte, sessionSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		sessionSecretErr = err
		return
	}
	if err := os.MkdirAll(filepath.Dir(secretLocation), 0700); err != nil {
		sessionSecretErr = errors.Wrap(err, "failed to create directory for session secret")
		return
	}
	if err := os.WriteFile(secretLocation, secret, 0600); err != nil {
		sessionSecretErr = errors.Wrap(err, "failed to write session secret file")
		return
	}
	sessionSecret = secret
}

func resetSessionSecret() {
	sessionSecret = nil
	sessionSecretErr = nil
	sessionSecretOnce = sync.Once{}
}

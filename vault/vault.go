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

// Package vault provides symmetric encryption of token material at rest.
//
// A process-wide 32-byte master key is loaded (or generated) at startup;
// purpose-specific sub-keys are derived from it with HKDF-SHA256 so a key
// derived for one usage cannot decrypt material sealed under another.
// The key material is read-only after initialization; rotation is an
// external operational concern.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/inkhorn/inkhorn/param"
)

const (
	// masterKeyBytes is the size of the randomly-generated master key.
	masterKeyBytes = 32

	// nonceSize is the byte length of a NaCl secretbox nonce.
	nonceSize = 24
)

// Vault seals and opens byte slices under a purpose-derived sub-key.
type Vault struct {
	key [32]byte
}

// New derives a purpose-bound Vault from the master key using
// HKDF-SHA256. The purpose string is the HKDF "info" input.
func New(masterKey []byte, purpose string) (*Vault, error) {
	if len(masterKey) != masterKeyBytes {
		return nil, errors.Errorf("master key must be %d bytes, got %d", masterKeyBytes, len(masterKey))
	}
	r := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	v := &Vault{}
	if _, err := io.ReadFull(r, v.key[:]); err != nil {
		return nil, errors.Wrapf(err, "HKDF derivation failed for purpose %q", purpose)
	}
	return v, nil
}

// Encrypt seals plaintext and returns nonce || ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	// secretbox.Seal appends to the first arg; pre-fill with nonce so the
	// result is nonce||ciphertext.
	return secretbox.Seal(nonce[:], plaintext, &nonce, &v.key), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) <= nonceSize {
		return nil, errors.New("encrypted blob is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, errors.New("decryption failed")
	}
	return plaintext, nil
}

// LoadOrCreateMasterKey reads the master key from Server.MasterKeyFile,
// generating and persisting a fresh one on first start.
func LoadOrCreateMasterKey() ([]byte, error) {
	keyLocation := param.Server_MasterKeyFile.GetString()
	if keyLocation == "" {
		return nil, errors.New("empty filename for Server.MasterKeyFile")
	}

	buf, err := os.ReadFile(keyLocation)
	if err == nil {
		if len(buf) != masterKeyBytes {
			return nil, errors.Errorf("master key file %s must contain exactly %d bytes", keyLocation, masterKeyBytes)
		}
		return buf, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "error reading master key file")
	}

	log.Infoln("No master key found; generating a new one at", keyLocation)
	key := make([]byte, masterKeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate master key")
	}
	if err := os.MkdirAll(filepath.Dir(keyLocation), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create directory for master key")
	}
	if err := os.WriteFile(keyLocation, key, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to write master key file")
	}
	return key, nil
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Cipher is the pluggable encryption capability used by the vault. The key
// is process-wide static configuration (§4.1); rotating it invalidates
// every stored secret.
type Cipher interface {
	Encrypt(plaintext []byte) (EncryptedPayload, error)
	Decrypt(payload EncryptedPayload) ([]byte, error)
}

// aesGCMCipher implements Cipher with AES-256-GCM. No third-party AEAD
// implementation appears anywhere in the example pack (the closest,
// golang.org/x/crypto, is used elsewhere for SSH/bcrypt, not AEAD), so this
// is grounded directly on crypto/aes + crypto/cipher, the same primitives
// the teacher's trace-storage encryption uses.
type aesGCMCipher struct {
	key        []byte
	keyVersion int
}

// NewAESGCMCipher builds a Cipher from a 32-byte AES-256 key.
func NewAESGCMCipher(key []byte, keyVersion int) (Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: encryption key must be 32 bytes, got %d", len(key))
	}
	return &aesGCMCipher{key: key, keyVersion: keyVersion}, nil
}

func (c *aesGCMCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with a fresh random nonce per call.
func (c *aesGCMCipher) Encrypt(plaintext []byte) (EncryptedPayload, error) {
	gcm, err := c.gcm()
	if err != nil {
		return EncryptedPayload{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedPayload{}, fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return EncryptedPayload{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyVersion: c.keyVersion,
	}, nil
}

// Decrypt opens a payload sealed by Encrypt.
func (c *aesGCMCipher) Decrypt(payload EncryptedPayload) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plaintext, nil
}

// previewCiphertext returns the first and last two characters of the
// base64-encoded ciphertext, joined by an ellipsis. Never the plaintext.
func previewCiphertext(ciphertext []byte) string {
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	if len(encoded) <= 4 {
		return encoded
	}
	return encoded[:2] + "..." + encoded[len(encoded)-2:]
}

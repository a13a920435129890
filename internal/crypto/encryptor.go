// Package crypto provides the encrypted-database fallback used when the OS
// keyring is unavailable (headless hosts, locked-down containers). Secrets
// never touch disk in cleartext; the key material lives in its own
// owner-only file next to the database.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const keyFileName = ".credential_key"

// Encryptor seals/opens strings with a per-install NaCl secretbox key.
type Encryptor struct {
	key [32]byte
}

// NewEncryptor loads the install's key from dataDir, generating and
// persisting one (mode 0600) on first use.
func NewEncryptor(dataDir string) (*Encryptor, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dataDir, keyFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		var key [32]byte
		n, decErr := base64.StdEncoding.Decode(key[:], raw)
		if decErr != nil || n != 32 {
			return nil, fmt.Errorf("credential key file is corrupt")
		}
		return &Encryptor{key: key}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read credential key: %w", err)
	}

	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate credential key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist credential key: %w", err)
	}
	return &Encryptor{key: key}, nil
}

// Encrypt seals plaintext, returning a base64-encoded nonce+ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &e.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &e.key)
	if !ok {
		return "", fmt.Errorf("decryption failed: key mismatch or corrupt data")
	}
	return string(opened), nil
}

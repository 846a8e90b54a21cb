package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/sessionforge/agentcore/internal/netctx"
)

const keyringService = "agentcore"

// SecretStore persists per-account secrets (API keys, OAuth refresh tokens).
// It prefers the OS keychain and falls back to an encrypted file under
// CODE_HOME when no keyring is available (headless CI runners, containers
// without a login keyring session).
type SecretStore struct {
	home      string
	keyPath   string
	keyringOK bool
}

// NewSecretStore probes keyring availability once at construction time and
// remembers the result for the lifetime of the store.
func NewSecretStore(home string) (*SecretStore, error) {
	s := &SecretStore{home: home, keyPath: filepath.Join(home, ".secret_key")}
	if err := keyring.Set(keyringService, "__probe__", "ok"); err == nil {
		s.keyringOK = true
		_ = keyring.Delete(keyringService, "__probe__")
	}
	return s, nil
}

// Put stores secret under accountID.
func (s *SecretStore) Put(accountID, secret string) error {
	name := netctx.SafePathComponent(accountID, "account")
	if s.keyringOK {
		if err := keyring.Set(keyringService, name, secret); err == nil {
			return nil
		}
		// Fall through to file storage if the keyring rejects this write.
	}
	return s.putFile(name, secret)
}

// Get retrieves the secret for accountID. Returns an empty string and no
// error if nothing is stored.
func (s *SecretStore) Get(accountID string) (string, error) {
	name := netctx.SafePathComponent(accountID, "account")
	if s.keyringOK {
		v, err := keyring.Get(keyringService, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("auth: keyring get: %w", err)
		}
	}
	return s.getFile(name)
}

// Delete removes the secret for accountID from whichever backend holds it.
func (s *SecretStore) Delete(accountID string) error {
	name := netctx.SafePathComponent(accountID, "account")
	if s.keyringOK {
		_ = keyring.Delete(keyringService, name)
	}
	path := s.fileSecretPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *SecretStore) fileSecretPath(name string) string {
	return filepath.Join(s.home, "secrets", name+".enc")
}

func (s *SecretStore) encryptionKey() (*[32]byte, error) {
	data, err := os.ReadFile(s.keyPath)
	if err == nil && len(data) == 32 {
		var key [32]byte
		copy(key[:], data)
		return &key, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("auth: generate secret key: %w", err)
	}
	if err := atomicWriteFile(s.keyPath, key[:], 0o600); err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *SecretStore) putFile(name, secret string) error {
	key, err := s.encryptionKey()
	if err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("auth: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(secret), &nonce, key)
	path := s.fileSecretPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return atomicWriteFile(path, []byte(base64.StdEncoding.EncodeToString(sealed)), 0o600)
}

func (s *SecretStore) getFile(name string) (string, error) {
	path := s.fileSecretPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return "", fmt.Errorf("auth: decode secret: %w", err)
	}
	if len(sealed) < 24 {
		return "", fmt.Errorf("auth: secret file corrupt")
	}
	key, err := s.encryptionKey()
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("auth: secret decryption failed")
	}
	return string(opened), nil
}

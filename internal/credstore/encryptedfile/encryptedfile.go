// Package encryptedfile implements the universal-fallback credstore.Store
// backend: AES-256-GCM-encrypted files under
// $XDG_DATA_HOME/lamco-rdp-server/tokens/, keyed by a machine-unique
// secret. Grounded on helixml-helix/api/pkg/crypto/encryption.go's
// EncryptAES256GCM/DecryptAES256GCM (same nonce-prepended-to-ciphertext
// layout, same GCM construction), with the key-derivation step replaced:
// the teacher reads a single operator-supplied HELIX_ENCRYPTION_KEY env
// var; this backend instead derives a key from /etc/machine-id mixed
// with a per-install salt via HKDF, since there is no equivalent
// operator-supplied secret in this deployment model.
package encryptedfile

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const dirName = "lamco-rdp-server/tokens"

// Backend is the encrypted-file credstore.Store.
type Backend struct {
	dir string
	key []byte
}

// New builds a Backend rooted at dataHome (typically $XDG_DATA_HOME).
// The encryption key is derived lazily on first Save/Load so
// construction never fails even if /etc/machine-id is unreadable (a
// fixed fallback identifier then takes its place and is mixed with the
// same persisted per-install salt; see deriveKey).
func New(dataHome string) *Backend {
	return &Backend{dir: filepath.Join(dataHome, dirName)}
}

func (b *Backend) Name() string { return "encrypted-file" }

func (b *Backend) Save(ctx context.Context, name string, secret []byte) error {
	key, err := b.deriveKey()
	if err != nil {
		return fmt.Errorf("derive encryption key: %w", err)
	}
	ciphertext, err := encryptAES256GCM(secret, key)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	path := b.pathFor(name)
	if err := os.WriteFile(path, ciphertext, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	path := b.pathFor(name)
	ciphertext, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	key, err := b.deriveKey()
	if err != nil {
		return nil, false, fmt.Errorf("derive encryption key: %w", err)
	}
	plaintext, err := decryptAES256GCM(ciphertext, key)
	if err != nil {
		return nil, false, fmt.Errorf("decrypt %s: %w", name, err)
	}
	return plaintext, true, nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	err := os.Remove(b.pathFor(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *Backend) pathFor(name string) string {
	return filepath.Join(b.dir, name+".bin")
}

// deriveKey mixes /etc/machine-id with a per-install salt file (created
// on first use, stored alongside the encrypted tokens) via HKDF-SHA256
// to produce a 32-byte AES-256 key that survives process restarts but
// not a machine-id change or a fresh install.
func (b *Backend) deriveKey() ([]byte, error) {
	if b.key != nil {
		return b.key, nil
	}

	machineID, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		machineID = []byte("lamco-rdp-server-fallback-machine-id")
	}

	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return nil, err
	}
	saltPath := filepath.Join(b.dir, ".salt")
	salt, err := os.ReadFile(saltPath)
	if err != nil {
		salt = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("persist salt: %w", err)
		}
	}

	h := hkdf.New(sha256.New, machineID, salt, []byte("lamco-rdp-server token key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("HKDF expand: %w", err)
	}
	b.key = key
	return key, nil
}

func encryptAES256GCM(plaintext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAES256GCM(ciphertext, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

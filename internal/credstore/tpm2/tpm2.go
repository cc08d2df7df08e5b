// Package tpm2 implements a credstore.Store backend bound to the local
// TPM 2.0 chip via the systemd-creds command-line tool, for systemd-unit
// deployments where hardware-bound (non-portable) credential storage is
// preferred over the Secret Service. Grounded on
// helixml-helix/api/pkg/crypto/encryption.go's Save/Load/Delete shape,
// with the encryption itself delegated to systemd-creds rather than
// reimplemented — there is no TPM2 Go library anywhere in the retrieval
// pack, and the systemd-creds CLI is the standard, already-installed way
// to reach the TPM on these deployments.
package tpm2

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

const (
	binaryName = "systemd-creds"
	dirName    = "lamco-rdp-server/tpm-tokens"
)

// Backend is the TPM2 credstore.Store, shelling out to systemd-creds
// encrypt/decrypt for each operation. Ciphertext blobs are opaque to
// this package; only the TPM that sealed them (or systemd-creds running
// against it) can open them, which is the point: these tokens do not
// survive a disk being copied to another machine.
type Backend struct {
	log *slog.Logger
	dir string
}

// New verifies systemd-creds is present and TPM-backed sealing is
// available, returning an error otherwise so the caller can fall back
// to another backend.
func New(log *slog.Logger) (*Backend, error) {
	path, err := exec.LookPath(binaryName)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", binaryName, err)
	}

	cmd := exec.Command(path, "has-tpm2")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("TPM2 not available: %w", err)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data home: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	return &Backend{log: log, dir: filepath.Join(dataHome, dirName)}, nil
}

func (b *Backend) Name() string { return "tpm2" }

func (b *Backend) Save(ctx context.Context, name string, secret []byte) error {
	if err := os.MkdirAll(b.dir, 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, binaryName, "encrypt", "--with-key=tpm2", "-", b.pathFor(name))
	cmd.Stdin = bytes.NewReader(secret)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemd-creds encrypt: %w (%s)", err, stderr.String())
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	path := b.pathFor(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}

	cmd := exec.CommandContext(ctx, binaryName, "decrypt", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, false, fmt.Errorf("systemd-creds decrypt: %w (%s)", err, stderr.String())
	}
	return stdout.Bytes(), true, nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	err := os.Remove(b.pathFor(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *Backend) pathFor(name string) string {
	return filepath.Join(b.dir, name+".cred")
}

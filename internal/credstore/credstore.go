// Package credstore defines the token-persistence contract (§4.7) used
// to store capture-strategy restore tokens between runs, plus
// deployment/backend detection. Grounded in shape on
// helixml-helix/api/pkg/crypto/encryption.go's AES-256-GCM helpers,
// generalized from a pair of free functions into a pluggable backend
// interface with three implementations.
package credstore

import (
	"context"
	"log/slog"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/credstore/encryptedfile"
	"github.com/lamco/rdp-server/internal/credstore/secretservice"
	"github.com/lamco/rdp-server/internal/credstore/tpm2"
)

// Store saves, loads, and deletes named secrets. Implementations must
// zeroize any in-memory copy of a secret once it is no longer needed —
// Load's returned slice is the caller's to zero after use.
type Store interface {
	Save(ctx context.Context, name string, secret []byte) error
	Load(ctx context.Context, name string) ([]byte, bool, error)
	Delete(ctx context.Context, name string) error
	Name() string
}

// Zero overwrites secret in place. Call it as soon as a loaded or
// about-to-be-saved secret is no longer needed.
func Zero(secret []byte) {
	for i := range secret {
		secret[i] = 0
	}
}

// DetectBackend returns the best available Store for the given
// deployment context, per §4.7's selection rule: Secret Service when
// reachable, TPM2 under systemd, encrypted file as the universal
// fallback. Under Flatpak, Secret Service is tried first (reachable only
// when the sandbox permits it) and the encrypted file is used otherwise.
func DetectBackend(ctx context.Context, log *slog.Logger, deployment capture.Deployment, dataHome string) Store {
	fallback := func() Store { return encryptedfile.New(dataHome) }

	switch deployment {
	case capture.DeploymentFlatpak:
		if s, err := secretservice.New(ctx, log); err == nil {
			return s
		}
		return fallback()
	case capture.DeploymentSystemdUser, capture.DeploymentSystemdSystem:
		if s, err := secretservice.New(ctx, log); err == nil {
			return s
		}
		if s, err := tpm2.New(log); err == nil {
			return s
		}
		return fallback()
	default:
		if s, err := secretservice.New(ctx, log); err == nil {
			return s
		}
		return fallback()
	}
}

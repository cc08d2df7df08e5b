// Package session wires the capture-strategy selection algorithm
// (internal/capture) together with restore-token persistence
// (internal/credstore) into the single entry point the server package
// uses to acquire a desktop session (§4.3 selection, §4.7 persistence).
// Grounded on helixml-helix/api/pkg/desktop/session_portal.go's
// detectCompositor, generalized from a single-strategy GNOME/portal
// split into the full compositor × deployment × candidate-ranking
// algorithm spec.md §4.3 names, plus this server's own
// internal/capture.Selector built earlier in the same spirit.
package session

import (
	"context"
	"log/slog"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/capture/libei"
	"github.com/lamco/rdp-server/internal/capture/mutter"
	"github.com/lamco/rdp-server/internal/capture/portal"
	"github.com/lamco/rdp-server/internal/capture/wlrdirect"
	"github.com/lamco/rdp-server/internal/credstore"
)

// restoreTokenName is the credstore entry holding the portal's
// persisted restore token (§4.7), letting an unattended restart skip
// the interactive consent dialog.
const restoreTokenName = "capture-restore-token"

// RestoreTokenName exports restoreTokenName for callers (the CLI's
// token-management commands) that need to address the same credstore
// entry without constructing a full Manager.
const RestoreTokenName = restoreTokenName

// CredentialStore detects the deployment context and returns the same
// credstore.Store backend NewManager would select, without probing or
// opening any capture strategy. Used by the CLI's token list/clear
// commands, which only need to read or delete the persisted restore
// token.
func CredentialStore(ctx context.Context, log *slog.Logger, dataHome string) credstore.Store {
	deployment := capture.DetectDeployment()
	return credstore.DetectBackend(ctx, log, deployment, dataHome)
}

// Manager acquires and releases a desktop capture session, persisting
// the portal restore token across restarts via whatever credstore
// backend DetectBackend picked for this deployment.
type Manager struct {
	log        *slog.Logger
	selector   *capture.Selector
	store      credstore.Store
	compositor capture.Compositor
	deployment capture.Deployment
}

// Options configures the candidate strategies Manager builds.
type Options struct {
	DataHome      string
	ScreenWidth   int
	ScreenHeight  int
}

// NewManager detects the compositor and deployment context, loads any
// previously persisted restore token, builds the four candidate
// strategies, and returns a Manager ready to Open a session.
func NewManager(ctx context.Context, log *slog.Logger, opts Options) (*Manager, error) {
	compositor := capture.DetectCompositor()
	deployment := capture.DetectDeployment()
	store := credstore.DetectBackend(ctx, log, deployment, opts.DataHome)

	restoreToken := ""
	if tok, ok, err := store.Load(ctx, restoreTokenName); err != nil {
		log.Warn("restore token load failed", "err", err)
	} else if ok {
		restoreToken = string(tok)
		credstore.Zero(tok)
	}

	portalStrategy := portal.New(log, "")
	if restoreToken != "" {
		if portalStrategy.SupportsUnattendedRestore() {
			portalStrategy.RestoreToken = restoreToken
		} else {
			log.Info("restore token present but portal version doesn't support unattended restore; falling back to interactive consent")
		}
	}

	candidates := []capture.Strategy{
		mutter.New(log),
		portalStrategy,
		wlrdirect.New(log, opts.ScreenWidth, opts.ScreenHeight),
		libei.New(log),
	}

	selector := capture.NewSelector(log, compositor, deployment, candidates)
	return &Manager{
		log:        log,
		selector:   selector,
		store:      store,
		compositor: compositor,
		deployment: deployment,
	}, nil
}

// Open acquires a session through the selector and persists any
// restore token the chosen strategy returned.
func (m *Manager) Open(ctx context.Context) (capture.SessionHandle, error) {
	handle, err := m.selector.Open(ctx)
	if err != nil {
		return nil, err
	}
	m.persistRestoreToken(ctx, handle)
	return handle, nil
}

// Degrade moves to the next-ranked candidate after a non-recoverable
// failure of the currently active one (§4.3).
func (m *Manager) Degrade(ctx context.Context) (capture.SessionHandle, error) {
	handle, err := m.selector.Degrade(ctx)
	if err != nil {
		return nil, err
	}
	m.persistRestoreToken(ctx, handle)
	return handle, nil
}

func (m *Manager) persistRestoreToken(ctx context.Context, handle capture.SessionHandle) {
	token := portal.RestoreTokenOf(handle)
	if token == "" {
		return
	}
	if err := m.store.Save(ctx, restoreTokenName, []byte(token)); err != nil {
		m.log.Warn("restore token save failed", "err", err)
	}
}

// CredentialBackendName reports which credstore backend this Manager
// selected, for diagnostics.
func (m *Manager) CredentialBackendName() string {
	if m.store == nil {
		return ""
	}
	return m.store.Name()
}

// Compositor reports the detected compositor family, for diagnostics.
func (m *Manager) Compositor() capture.Compositor { return m.compositor }

// Deployment reports the detected sandbox/deployment context, for
// diagnostics.
func (m *Manager) Deployment() capture.Deployment { return m.deployment }

// ActiveCaptureStrategy reports which capture strategy is currently
// active, or ok=false before the first successful Open.
func (m *Manager) ActiveCaptureStrategy() (capture.SessionType, bool) {
	return m.selector.ActiveStrategy()
}

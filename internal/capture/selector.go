package capture

import (
	"context"
	"log/slog"
	"os"

	"github.com/lamco/rdp-server/internal/rdperr"
)

// Compositor identifies the running compositor family, detected from
// environment variables only (see DetectCompositor); no D-Bus probe is
// made.
type Compositor int

const (
	CompositorUnknown Compositor = iota
	CompositorGnome
	CompositorWlroots
	CompositorKDE
)

// Deployment identifies how the server process itself is confined,
// which bears on whether Mutter/wlr-direct's direct protocols are even
// reachable (sandboxed processes can't see them).
type Deployment int

const (
	DeploymentNative Deployment = iota
	DeploymentFlatpak
	DeploymentSystemdUser
	DeploymentSystemdSystem
)

// DetectCompositor inspects XDG_CURRENT_DESKTOP/XDG_SESSION_TYPE.
func DetectCompositor() Compositor {
	switch os.Getenv("XDG_CURRENT_DESKTOP") {
	case "GNOME", "gnome", "ubuntu:GNOME":
		return CompositorGnome
	case "KDE", "kde":
		return CompositorKDE
	}
	if os.Getenv("XDG_SESSION_TYPE") == "wayland" {
		return CompositorWlroots
	}
	return CompositorUnknown
}

// DetectDeployment reports Flatpak when /.flatpak-info exists,
// SystemdUser when both XDG_SESSION_TYPE and DBUS_SESSION_BUS_ADDRESS
// are set, and Native otherwise. It never returns
// DeploymentSystemdSystem.
func DetectDeployment() Deployment {
	if _, err := os.Stat("/.flatpak-info"); err == nil {
		return DeploymentFlatpak
	}
	if os.Getenv("XDG_SESSION_TYPE") != "" && os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" {
		return DeploymentSystemdUser
	}
	return DeploymentNative
}

func (d Deployment) sandboxed() bool {
	return d == DeploymentFlatpak
}

func (c Compositor) String() string {
	switch c {
	case CompositorGnome:
		return "gnome"
	case CompositorWlroots:
		return "wlroots"
	case CompositorKDE:
		return "kde"
	default:
		return "unknown"
	}
}

func (d Deployment) String() string {
	switch d {
	case DeploymentFlatpak:
		return "flatpak"
	case DeploymentSystemdUser:
		return "systemd-user"
	case DeploymentSystemdSystem:
		return "systemd-system"
	default:
		return "native"
	}
}

// Selector orders candidate strategies per the compositor/deployment
// pairing and opens the first one whose Available probe succeeds,
// caching the winner for the lifetime of the session and degrading to
// the next candidate if told the current one failed unrecoverably.
type Selector struct {
	log        *slog.Logger
	compositor Compositor
	deployment Deployment
	candidates []Strategy

	active int
	opened bool
}

// NewSelector builds a Selector with strategies supplied in priority
// order for the detected compositor/deployment; candidates that don't
// apply to this environment should simply not be constructed by the
// caller (e.g. skip Mutter when not GNOME).
func NewSelector(log *slog.Logger, compositor Compositor, deployment Deployment, candidates []Strategy) *Selector {
	return &Selector{log: log, compositor: compositor, deployment: deployment, candidates: candidates}
}

// Rank orders candidates: Mutter (GNOME, unsandboxed) > wlr-direct
// (wlroots, unsandboxed) > libei (wlroots, sandboxed-capable) >
// Portal+token (always last, as the universal fallback).
func Rank(s SessionType) int {
	switch s {
	case SessionTypeMutter:
		return 0
	case SessionTypeWlrDirect:
		return 1
	case SessionTypeLibei:
		return 2
	case SessionTypePortal:
		return 3
	default:
		return 4
	}
}

// Open probes candidates in rank order and opens the first available
// one, remembering which index succeeded so a later Degrade call can
// resume from the next candidate.
func (s *Selector) Open(ctx context.Context) (SessionHandle, error) {
	ordered := rankedCopy(s.candidates)
	for i, cand := range ordered {
		if !cand.Available(ctx) {
			s.log.Debug("capture strategy unavailable", "strategy", cand.Name())
			continue
		}
		handle, err := cand.Open(ctx)
		if err != nil {
			s.log.Warn("capture strategy failed to open", "strategy", cand.Name(), "err", err)
			continue
		}
		s.active = i
		s.candidates = ordered
		s.opened = true
		s.log.Info("capture strategy selected", "strategy", cand.Name())
		return handle, nil
	}
	return nil, rdperr.New(rdperr.KindCaptureUnavailable, "capture.selector", rdperr.ErrStrategyUnavailable)
}

// Degrade reopens using the candidate after the one currently active,
// used when a strategy reports a non-recoverable mid-session error.
func (s *Selector) Degrade(ctx context.Context) (SessionHandle, error) {
	next := s.active + 1
	if next >= len(s.candidates) {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "capture.selector", rdperr.ErrStrategyUnavailable)
	}
	for i := next; i < len(s.candidates); i++ {
		cand := s.candidates[i]
		if !cand.Available(ctx) {
			continue
		}
		handle, err := cand.Open(ctx)
		if err != nil {
			continue
		}
		s.active = i
		s.opened = true
		s.log.Info("capture strategy degraded", "strategy", cand.Name())
		return handle, nil
	}
	return nil, rdperr.New(rdperr.KindCaptureUnavailable, "capture.selector", rdperr.ErrStrategyUnavailable)
}

// ActiveStrategy reports which SessionType is currently active, or
// ok=false if Open/Degrade has never succeeded.
func (s *Selector) ActiveStrategy() (SessionType, bool) {
	if !s.opened || s.active < 0 || s.active >= len(s.candidates) {
		return 0, false
	}
	return s.candidates[s.active].Name(), true
}

func rankedCopy(in []Strategy) []Strategy {
	out := make([]Strategy, len(in))
	copy(out, in)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && Rank(out[j].Name()) < Rank(out[j-1].Name()) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

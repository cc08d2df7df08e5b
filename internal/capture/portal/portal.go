// Package portal implements the capture.Strategy backed by
// xdg-desktop-portal's ScreenCast and RemoteDesktop interfaces — the
// universal-fallback strategy, reachable from sandboxed and
// unsandboxed deployments alike. Grounded on
// helixml-helix/api/pkg/desktop/session_portal.go, generalized from a
// single hardcoded Server method set into a reusable capture.Strategy.
package portal

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/rdperr"
)

const (
	busName  = "org.freedesktop.portal.Desktop"
	basePath = "/org/freedesktop/portal/desktop"

	screenCastIface    = "org.freedesktop.portal.ScreenCast"
	remoteDesktopIface = "org.freedesktop.portal.RemoteDesktop"
	requestIface       = "org.freedesktop.portal.Request"
	sessionIface       = "org.freedesktop.portal.Session"

	sourceMonitor = uint32(1)

	cursorModeHidden   = uint32(1)
	cursorModeEmbedded = uint32(2)
	cursorModeMetadata = uint32(4)

	// persistModeExplicitlyRevoked keeps the permission grant alive
	// (and a restore token valid) until the user explicitly revokes it,
	// rather than expiring it at session end.
	persistModeExplicitlyRevoked = uint32(2)

	responseTimeout = 30 * time.Second

	// minRestoreVersion is the ScreenCast interface version that
	// introduced persist_mode/restore_token support. Older portal
	// backends accept the restore_token option silently but never
	// actually skip the interactive dialog, so restore must not be
	// attempted below this version.
	minRestoreVersion = 4
)

// Strategy is the capture.Strategy implementation for xdg-desktop-portal.
type Strategy struct {
	log *slog.Logger

	// RestoreToken, when non-empty, is presented to CreateSession to
	// skip the interactive permission dialog (token persistence).
	RestoreToken string
}

// New builds a portal capture.Strategy. restoreToken may be empty.
func New(log *slog.Logger, restoreToken string) *Strategy {
	return &Strategy{log: log, RestoreToken: restoreToken}
}

func (s *Strategy) Name() capture.SessionType { return capture.SessionTypePortal }

func (s *Strategy) Available(ctx context.Context) bool {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false
	}
	defer conn.Close()
	obj := conn.Object(busName, basePath)
	return obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Err == nil
}

func (s *Strategy) RequiresInitialSetup() bool { return s.RestoreToken == "" }

// SupportsUnattendedRestore probes the live ScreenCast interface version
// over D-Bus and reports whether it's new enough to honor a restore
// token without falling back to the interactive permission dialog. A
// failed probe is treated as unsupported rather than optimistically
// assumed, since a silent downgrade to the interactive dialog defeats
// the point of unattended restore.
func (s *Strategy) SupportsUnattendedRestore() bool {
	ver, err := s.portalVersion(context.Background())
	if err != nil {
		s.log.Warn("portal: ScreenCast version probe failed, disabling unattended restore", "err", err)
		return false
	}
	return ver >= minRestoreVersion
}

func (s *Strategy) portalVersion(ctx context.Context) (uint32, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	obj := conn.Object(busName, basePath)
	v, err := obj.GetProperty(screenCastIface + ".version")
	if err != nil {
		return 0, err
	}
	ver, ok := v.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("portal: unexpected ScreenCast version property type %T", v.Value())
	}
	return ver, nil
}

// Open creates a linked ScreenCast + RemoteDesktop session, selects a
// monitor source, starts it, and extracts the PipeWire node id and FD —
// following session_portal.go's createPortalSession/selectPortalSources
// /startPortalSession/openPipeWireRemote sequence.
func (s *Strategy) Open(ctx context.Context) (capture.SessionHandle, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "capture.portal.connect", err)
	}

	h := &handle{log: s.log, conn: conn, pipeWireFD: -1}

	sessionHandle, err := h.createSession(ctx)
	if err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.create_session", err)
	}
	h.sessionHandle = sessionHandle

	if err := h.selectSources(ctx, s.RestoreToken); err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.select_sources", err)
	}

	stream, restoreToken, err := h.start(ctx)
	if err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.start", err)
	}
	h.streams = []capture.StreamDescriptor{stream}
	h.restoreToken = restoreToken

	if fd, err := h.openPipeWireRemote(); err == nil {
		h.pipeWireFD = fd
	} else {
		s.log.Warn("portal: OpenPipeWireRemote failed, zero-copy path unavailable", "err", err)
	}

	return h, nil
}

// RestoreTokenOf returns the restore token produced by a completed
// Open, for the session layer to persist via credstore (§4.7).
func RestoreTokenOf(h capture.SessionHandle) string {
	if ph, ok := h.(*handle); ok {
		return ph.restoreToken
	}
	return ""
}

type handle struct {
	log           *slog.Logger
	conn          *dbus.Conn
	sessionHandle string
	rdSessionPath dbus.ObjectPath
	streams       []capture.StreamDescriptor
	pipeWireFD    int
	restoreToken  string
}

func (h *handle) Type() capture.SessionType            { return capture.SessionTypePortal }
func (h *handle) Streams() []capture.StreamDescriptor   { return h.streams }
func (h *handle) PipeWireFD() int                       { return h.pipeWireFD }
func (h *handle) Clipboard() capture.ClipboardComponent { return nil }

func (h *handle) Close() error {
	if h.sessionHandle != "" {
		obj := h.conn.Object(busName, dbus.ObjectPath(h.sessionHandle))
		_ = obj.Call(sessionIface+".Close", 0).Err
	}
	return h.conn.Close()
}

// Input injection for the portal strategy rides the RemoteDesktop
// session created alongside ScreenCast (optional — Sway can use
// wlr-direct instead, per session_portal.go's createPortalRemoteDesktopSession).
func (h *handle) KeyEvent(ctx context.Context, keycode uint32, pressed bool) error {
	if h.rdSessionPath == "" {
		return rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.key_event", fmt.Errorf("no RemoteDesktop session"))
	}
	state := int32(0)
	if pressed {
		state = 1
	}
	obj := h.conn.Object(busName, h.rdSessionPath)
	return obj.Call(remoteDesktopIface+".Session.NotifyKeyboardKeycode", 0, int32(keycode), state).Err
}

func (h *handle) PointerMotionAbsolute(ctx context.Context, x, y float64) error {
	if h.rdSessionPath == "" {
		return rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.pointer_motion", fmt.Errorf("no RemoteDesktop session"))
	}
	obj := h.conn.Object(busName, h.rdSessionPath)
	stream := dbus.ObjectPath("")
	if len(h.streams) > 0 {
		stream = dbus.ObjectPath(fmt.Sprintf("%d", h.streams[0].NodeID))
	}
	return obj.Call(remoteDesktopIface+".Session.NotifyPointerMotionAbsolute", 0, stream, x, y).Err
}

func (h *handle) PointerButton(ctx context.Context, button capture.Button, pressed bool) error {
	if h.rdSessionPath == "" {
		return rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.pointer_button", fmt.Errorf("no RemoteDesktop session"))
	}
	state := int32(0)
	if pressed {
		state = 1
	}
	obj := h.conn.Object(busName, h.rdSessionPath)
	return obj.Call(remoteDesktopIface+".Session.NotifyPointerButton", 0, int32(button), state).Err
}

func (h *handle) PointerAxis(ctx context.Context, source capture.AxisSource, dx, dy float64) error {
	if h.rdSessionPath == "" {
		return rdperr.New(rdperr.KindCompositorProtocol, "capture.portal.pointer_axis", fmt.Errorf("no RemoteDesktop session"))
	}
	obj := h.conn.Object(busName, h.rdSessionPath)
	flags := uint32(0)
	return obj.Call(remoteDesktopIface+".Session.NotifyPointerAxis", 0, dx, dy, flags).Err
}

func (h *handle) Frame(ctx context.Context) error { return nil }

func (h *handle) createSession(ctx context.Context) (string, error) {
	sessionToken := "s" + strings.ReplaceAll(uuid.NewString(), "-", "")
	requestToken := "r" + strings.ReplaceAll(uuid.NewString(), "-", "")
	requestPath := h.requestPath(requestToken)

	if err := h.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(requestPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return "", fmt.Errorf("add signal match: %w", err)
	}
	sigCh := make(chan *dbus.Signal, 10)
	h.conn.Signal(sigCh)
	defer h.conn.RemoveSignal(sigCh)

	obj := h.conn.Object(busName, basePath)
	opts := map[string]dbus.Variant{
		"handle_token":          dbus.MakeVariant(requestToken),
		"session_handle_token":  dbus.MakeVariant(sessionToken),
	}
	var reqPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".CreateSession", 0, opts).Store(&reqPath); err != nil {
		return "", fmt.Errorf("CreateSession: %w", err)
	}

	return h.waitForString(ctx, sigCh, "session_handle")
}

func (h *handle) selectSources(ctx context.Context, restoreToken string) error {
	requestToken := "r" + strings.ReplaceAll(uuid.NewString(), "-", "")
	requestPath := h.requestPath(requestToken)

	if err := h.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(requestPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return fmt.Errorf("add signal match: %w", err)
	}
	sigCh := make(chan *dbus.Signal, 10)
	h.conn.Signal(sigCh)
	defer h.conn.RemoveSignal(sigCh)

	obj := h.conn.Object(busName, basePath)
	opts := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(requestToken),
		"types":        dbus.MakeVariant(sourceMonitor),
		"cursor_mode":  dbus.MakeVariant(cursorModeMetadata),
		"persist_mode": dbus.MakeVariant(persistModeExplicitlyRevoked),
	}
	if restoreToken != "" {
		opts["restore_token"] = dbus.MakeVariant(restoreToken)
	}

	sessionPath := dbus.ObjectPath(h.sessionHandle)
	var reqPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".SelectSources", 0, sessionPath, opts).Store(&reqPath); err != nil {
		return fmt.Errorf("SelectSources: %w", err)
	}
	_, err := h.waitForString(ctx, sigCh, "")
	return err
}

func (h *handle) start(ctx context.Context) (capture.StreamDescriptor, string, error) {
	requestToken := "r" + strings.ReplaceAll(uuid.NewString(), "-", "")
	requestPath := h.requestPath(requestToken)

	if err := h.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(requestPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return capture.StreamDescriptor{}, "", fmt.Errorf("add signal match: %w", err)
	}
	sigCh := make(chan *dbus.Signal, 10)
	h.conn.Signal(sigCh)
	defer h.conn.RemoveSignal(sigCh)

	obj := h.conn.Object(busName, basePath)
	opts := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(requestToken)}
	sessionPath := dbus.ObjectPath(h.sessionHandle)

	var reqPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".Start", 0, sessionPath, "", opts).Store(&reqPath); err != nil {
		return capture.StreamDescriptor{}, "", fmt.Errorf("Start: %w", err)
	}

	timeout := time.After(responseTimeout)
	for {
		select {
		case <-ctx.Done():
			return capture.StreamDescriptor{}, "", ctx.Err()
		case sig := <-sigCh:
			if sig.Name != requestIface+".Response" || len(sig.Body) < 2 {
				continue
			}
			code, ok := sig.Body[0].(uint32)
			if !ok || code != 0 {
				return capture.StreamDescriptor{}, "", fmt.Errorf("portal Start response code %v", sig.Body[0])
			}
			results, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				return capture.StreamDescriptor{}, "", fmt.Errorf("invalid Start response")
			}
			stream, err := parseStreams(results["streams"])
			if err != nil {
				return capture.StreamDescriptor{}, "", err
			}
			token := ""
			if v, ok := results["restore_token"]; ok {
				if s, ok := v.Value().(string); ok {
					token = s
				}
			}
			return stream, token, nil
		case <-timeout:
			return capture.StreamDescriptor{}, "", fmt.Errorf("timeout waiting for Start response")
		}
	}
}

// parseStreams extracts the first (node_id, properties) pair out of the
// portal's a(ua{sv}) streams reply, parsing size/position defensively:
// a missing or malformed field leaves the zero value rather than
// failing session setup, per session_portal.go's tolerant extraction.
func parseStreams(v dbus.Variant) (capture.StreamDescriptor, error) {
	raw, ok := v.Value().([][]interface{})
	if !ok || len(raw) == 0 {
		if alt, ok := v.Value().([]interface{}); ok && len(alt) > 0 {
			raw = [][]interface{}{alt}
		} else {
			return capture.StreamDescriptor{}, fmt.Errorf("no streams in portal response")
		}
	}
	first := raw[0]
	if len(first) == 0 {
		return capture.StreamDescriptor{}, fmt.Errorf("empty stream entry")
	}
	nodeID, _ := first[0].(uint32)
	if nodeID == 0 {
		return capture.StreamDescriptor{}, fmt.Errorf("missing node id in stream entry")
	}
	desc := capture.StreamDescriptor{NodeID: nodeID}
	if len(first) > 1 {
		if props, ok := first[1].(map[string]dbus.Variant); ok {
			if sz, ok := props["size"]; ok {
				if dims, ok := sz.Value().([]int32); ok && len(dims) == 2 {
					desc.Width, desc.Height = int(dims[0]), int(dims[1])
				}
			}
			if pos, ok := props["position"]; ok {
				if xy, ok := pos.Value().([]int32); ok && len(xy) == 2 {
					desc.X, desc.Y = int(xy[0]), int(xy[1])
				}
			}
		}
	}
	return desc, nil
}

func (h *handle) openPipeWireRemote() (int, error) {
	if h.sessionHandle == "" {
		return -1, fmt.Errorf("no portal session handle")
	}
	obj := h.conn.Object(busName, basePath)
	var fd dbus.UnixFD
	err := obj.Call(screenCastIface+".OpenPipeWireRemote", 0, dbus.ObjectPath(h.sessionHandle), map[string]dbus.Variant{}).Store(&fd)
	if err != nil {
		return -1, fmt.Errorf("OpenPipeWireRemote: %w", err)
	}
	dup, err := syscall.Dup(int(fd))
	if err != nil {
		return int(fd), nil
	}
	return dup, nil
}

func (h *handle) requestPath(requestToken string) dbus.ObjectPath {
	sender := h.conn.Names()[0]
	var sb strings.Builder
	for _, c := range sender[1:] {
		if c == '.' {
			sb.WriteByte('_')
		} else {
			sb.WriteRune(c)
		}
	}
	return dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", basePath, sb.String(), requestToken))
}

func (h *handle) waitForString(ctx context.Context, sigCh chan *dbus.Signal, key string) (string, error) {
	timeout := time.After(responseTimeout)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case sig := <-sigCh:
			if sig.Name != requestIface+".Response" || len(sig.Body) < 2 {
				continue
			}
			code, ok := sig.Body[0].(uint32)
			if !ok || code != 0 {
				return "", fmt.Errorf("portal response code %v", sig.Body[0])
			}
			if key == "" {
				return "", nil
			}
			results, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				return "", nil
			}
			if val, ok := results[key]; ok {
				if s, ok := val.Value().(string); ok {
					return s, nil
				}
			}
			return "", nil
		case <-timeout:
			return "", fmt.Errorf("timeout waiting for portal response")
		}
	}
}

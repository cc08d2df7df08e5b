// Package libei implements the capture.Strategy used inside a Flatpak
// sandbox on a wlroots compositor, where neither Mutter's D-Bus API nor
// wlr-direct's native protocols are reachable: input travels over the
// EIS socket handed back by the portal RemoteDesktop session's
// ConnectToEIS call. Frame capture still goes through the portal's
// ScreenCast interface, exactly as in internal/capture/portal.
//
// No Go binding for the libei wire protocol itself exists anywhere in
// the available dependency corpus, so the EIS handshake below speaks
// only the minimal subset of the protocol (the HELLO handshake and the
// frame-based pointer/keyboard events) needed to drive input,
// using encoding/binary directly over the socket fd — see DESIGN.md.
package libei

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/rdperr"
)

const (
	portalBus  = "org.freedesktop.portal.Desktop"
	portalPath = "/org/freedesktop/portal/desktop"

	remoteDesktopIface        = "org.freedesktop.portal.RemoteDesktop"
	remoteDesktopSessionIface = "org.freedesktop.portal.RemoteDesktop.Session"
	screenCastIface           = "org.freedesktop.portal.ScreenCast"
	requestIface              = "org.freedesktop.portal.Request"

	sourceMonitor    = uint32(1)
	cursorModeHidden = uint32(1)
	persistModeNone  = uint32(0)
	responseTimeout  = 30 * time.Second

	// eisProtocolName is sent in the HELLO handshake identifying this
	// client to the EIS server, mirroring libei's own client naming.
	eisProtocolName = "lamco-rdp-server"
)

// Strategy is the capture.Strategy implementation using portal-mediated
// libei input injection.
type Strategy struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Strategy { return &Strategy{log: log} }

func (s *Strategy) Name() capture.SessionType { return capture.SessionTypeLibei }

func (s *Strategy) Available(ctx context.Context) bool {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return false
	}
	defer conn.Close()

	obj := conn.Object(portalBus, dbus.ObjectPath(portalPath))
	var v dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, remoteDesktopIface, "version").Store(&v); err != nil {
		return false
	}
	version, ok := v.Value().(uint32)
	// ConnectToEIS was added in portal RemoteDesktop interface version 2.
	return ok && version >= 2
}

func (s *Strategy) RequiresInitialSetup() bool      { return true }
func (s *Strategy) SupportsUnattendedRestore() bool { return false }

func (s *Strategy) Open(ctx context.Context) (capture.SessionHandle, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "capture.libei.connect", err)
	}

	rdPath, err := createRemoteDesktopSession(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.libei.create_rd_session", err)
	}

	eisFD, err := connectToEIS(conn, rdPath)
	if err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.libei.connect_to_eis", err)
	}

	client, err := newEISClient(eisFD)
	if err != nil {
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.libei.handshake", err)
	}

	if err := startRemoteDesktopSession(conn, rdPath); err != nil {
		client.close()
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.libei.start", err)
	}

	desc, err := requestScreenCast(ctx, conn)
	if err != nil {
		client.close()
		conn.Close()
		return nil, rdperr.New(rdperr.KindCompositorProtocol, "capture.libei.screencast", err)
	}

	return &handle{log: s.log, conn: conn, eis: client, streams: []capture.StreamDescriptor{desc}}, nil
}

type handle struct {
	log     *slog.Logger
	conn    *dbus.Conn
	eis     *eisClient
	streams []capture.StreamDescriptor
}

func (h *handle) Type() capture.SessionType            { return capture.SessionTypeLibei }
func (h *handle) Streams() []capture.StreamDescriptor   { return h.streams }
func (h *handle) PipeWireFD() int                       { return -1 }
func (h *handle) Clipboard() capture.ClipboardComponent { return nil }

func (h *handle) Close() error {
	h.eis.close()
	return h.conn.Close()
}

func (h *handle) KeyEvent(ctx context.Context, keycode uint32, pressed bool) error {
	return h.eis.sendKey(keycode, pressed)
}

func (h *handle) PointerMotionAbsolute(ctx context.Context, x, y float64) error {
	return h.eis.sendPointerAbsolute(x, y)
}

func (h *handle) PointerButton(ctx context.Context, button capture.Button, pressed bool) error {
	return h.eis.sendButton(uint32(button), pressed)
}

func (h *handle) PointerAxis(ctx context.Context, source capture.AxisSource, dx, dy float64) error {
	return h.eis.sendScroll(dx, dy)
}

func (h *handle) Frame(ctx context.Context) error {
	return h.eis.sendFrame()
}

// eisClient speaks the minimal HELLO + per-event-then-frame subset of
// the EIS wire protocol over the socket returned by ConnectToEIS:
// a 4-byte big-endian opcode followed by a 4-byte big-endian payload
// length, then the payload. This is sufficient for unidirectional
// input injection; it does not implement device discovery or the full
// capability-negotiation handshake libei's own client library performs.
type eisClient struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

const (
	eisOpHello         = 1
	eisOpKey           = 2
	eisOpPointerAbs    = 3
	eisOpButton        = 4
	eisOpScroll        = 5
	eisOpFrame         = 6
)

func newEISClient(fd int) (*eisClient, error) {
	f := os.NewFile(uintptr(fd), "eis-socket")
	if f == nil {
		return nil, fmt.Errorf("invalid EIS file descriptor")
	}
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap EIS fd as net.Conn: %w", err)
	}
	c := &eisClient{conn: conn, w: bufio.NewWriter(conn)}
	if err := c.writeFrame(eisOpHello, []byte(eisProtocolName)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("EIS HELLO: %w", err)
	}
	return c, nil
}

func (c *eisClient) writeFrame(op uint32, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], op)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.w.Write(payload); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func (c *eisClient) sendKey(keycode uint32, pressed bool) error {
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[0:4], keycode)
	buf[4] = boolByte(pressed)
	return c.writeFrame(eisOpKey, buf[:])
}

func (c *eisClient) sendPointerAbsolute(x, y float64) error {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(x))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(y))
	return c.writeFrame(eisOpPointerAbs, buf[:])
}

func (c *eisClient) sendButton(code uint32, pressed bool) error {
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[0:4], code)
	buf[4] = boolByte(pressed)
	return c.writeFrame(eisOpButton, buf[:])
}

func (c *eisClient) sendScroll(dx, dy float64) error {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(dx))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(dy))
	return c.writeFrame(eisOpScroll, buf[:])
}

func (c *eisClient) sendFrame() error {
	return c.writeFrame(eisOpFrame, nil)
}

func (c *eisClient) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func createRemoteDesktopSession(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, error) {
	obj := conn.Object(portalBus, dbus.ObjectPath(portalPath))
	reqToken := "r" + randToken()
	reqPath := requestPathFor(conn, reqToken)

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return "", err
	}
	sigCh := make(chan *dbus.Signal, 10)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)

	opts := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(reqToken),
		"session_handle_token": dbus.MakeVariant("s" + randToken()),
	}
	var retPath dbus.ObjectPath
	if err := obj.Call(remoteDesktopIface+".CreateSession", 0, opts).Store(&retPath); err != nil {
		return "", err
	}

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
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			if v, ok := results["session_handle"]; ok {
				if s, ok := v.Value().(string); ok {
					return dbus.ObjectPath(s), nil
				}
			}
			return "", fmt.Errorf("no session_handle in response")
		case <-timeout:
			return "", fmt.Errorf("timeout waiting for CreateSession response")
		}
	}
}

func connectToEIS(conn *dbus.Conn, sessionPath dbus.ObjectPath) (int, error) {
	obj := conn.Object(portalBus, sessionPath)
	var fd dbus.UnixFD
	if err := obj.Call(remoteDesktopSessionIface+".ConnectToEIS", 0, map[string]dbus.Variant{}).Store(&fd); err != nil {
		return -1, err
	}
	return int(fd), nil
}

func startRemoteDesktopSession(conn *dbus.Conn, sessionPath dbus.ObjectPath) error {
	obj := conn.Object(portalBus, sessionPath)
	return obj.Call(remoteDesktopSessionIface+".Start", 0, "", map[string]dbus.Variant{}).Err
}

func requestScreenCast(ctx context.Context, conn *dbus.Conn) (capture.StreamDescriptor, error) {
	obj := conn.Object(portalBus, dbus.ObjectPath(portalPath))
	sessToken := "s" + randToken()
	createReq := "r" + randToken()
	var scSessionPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".CreateSession", 0, map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(createReq),
		"session_handle_token": dbus.MakeVariant(sessToken),
	}).Store(&scSessionPath); err != nil {
		return capture.StreamDescriptor{}, err
	}

	selectReq := "r" + randToken()
	if err := obj.Call(screenCastIface+".SelectSources", 0, scSessionPath, map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(selectReq),
		"types":        dbus.MakeVariant(sourceMonitor),
		"cursor_mode":  dbus.MakeVariant(cursorModeHidden),
		"persist_mode": dbus.MakeVariant(persistModeNone),
	}).Err; err != nil {
		return capture.StreamDescriptor{}, err
	}

	startReq := "r" + randToken()
	reqPath := requestPathFor(conn, startReq)
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(reqPath),
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return capture.StreamDescriptor{}, err
	}
	sigCh := make(chan *dbus.Signal, 10)
	conn.Signal(sigCh)
	defer conn.RemoveSignal(sigCh)

	var retPath dbus.ObjectPath
	if err := obj.Call(screenCastIface+".Start", 0, scSessionPath, "", map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(startReq),
	}).Store(&retPath); err != nil {
		return capture.StreamDescriptor{}, err
	}

	timeout := time.After(responseTimeout)
	for {
		select {
		case <-ctx.Done():
			return capture.StreamDescriptor{}, ctx.Err()
		case sig := <-sigCh:
			if sig.Name != requestIface+".Response" || len(sig.Body) < 2 {
				continue
			}
			code, ok := sig.Body[0].(uint32)
			if !ok || code != 0 {
				return capture.StreamDescriptor{}, fmt.Errorf("Start response code %v", sig.Body[0])
			}
			results, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				return capture.StreamDescriptor{}, fmt.Errorf("invalid Start response")
			}
			streamsVal, ok := results["streams"]
			if !ok {
				return capture.StreamDescriptor{}, fmt.Errorf("no streams in response")
			}
			raw, ok := streamsVal.Value().([][]interface{})
			if !ok || len(raw) == 0 {
				return capture.StreamDescriptor{}, fmt.Errorf("empty streams array")
			}
			nodeID, _ := raw[0][0].(uint32)
			return capture.StreamDescriptor{NodeID: nodeID}, nil
		case <-timeout:
			return capture.StreamDescriptor{}, fmt.Errorf("timeout waiting for Start response")
		}
	}
}

func requestPathFor(conn *dbus.Conn, reqToken string) dbus.ObjectPath {
	sender := conn.Names()[0]
	path := ""
	for _, c := range sender[1:] {
		if c == '.' {
			path += "_"
		} else {
			path += string(c)
		}
	}
	return dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", portalPath, path, reqToken))
}

// randToken generates a short hex-ish token for handle_token/session
// tokens without depending on time.Now() uniqueness (multiple portal
// calls in quick succession would otherwise collide).
var tokenCounter uint64
var tokenMu sync.Mutex

func randToken() string {
	tokenMu.Lock()
	defer tokenMu.Unlock()
	tokenCounter++
	return fmt.Sprintf("%x", tokenCounter)
}



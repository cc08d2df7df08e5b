// Package secretservice implements the credstore.Store backend over the
// freedesktop Secret Service D-Bus API (GNOME Keyring / KWallet /
// KeePassXC) — the preferred backend whenever it is reachable. Grounded
// on helixml-helix/api/pkg/desktop/session_portal.go's D-Bus dialing
// and Response-signal-wait pattern (connect, subscribe, call, wait),
// reused here against org.freedesktop.secrets instead of the portal.
package secretservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	busName        = "org.freedesktop.secrets"
	basePath       = "/org/freedesktop/secrets"
	serviceIface   = "org.freedesktop.Secret.Service"
	collectionIface = "org.freedesktop.Secret.Collection"
	itemIface      = "org.freedesktop.Secret.Item"

	defaultCollectionPath = "/org/freedesktop/secrets/aliases/default"

	attribute = "lamco-rdp-server-token"
)

// Backend is the Secret Service credstore.Store, using an unencrypted
// D-Bus session (plain algorithm): acceptable here because the session
// D-Bus socket itself is already process-local and permissioned, same
// trust boundary the teacher's portal/Mutter D-Bus calls rely on.
type Backend struct {
	log  *slog.Logger
	conn *dbus.Conn
}

// New connects to the Secret Service and verifies the default
// collection is reachable (unlocking it if necessary), returning an
// error if the service isn't present — the caller falls back to
// another backend in that case.
func New(ctx context.Context, log *slog.Logger) (*Backend, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	obj := conn.Object(busName, dbus.ObjectPath(basePath))
	if err := obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("secret service unavailable: %w", err)
	}

	b := &Backend{log: log, conn: conn}
	if err := b.unlockDefaultCollection(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unlock default collection: %w", err)
	}
	return b, nil
}

func (b *Backend) Name() string { return "secret-service" }

func (b *Backend) unlockDefaultCollection(ctx context.Context) error {
	serviceObj := b.conn.Object(busName, dbus.ObjectPath(basePath))
	var unlocked []dbus.ObjectPath
	var prompt dbus.ObjectPath
	collections := []dbus.ObjectPath{defaultCollectionPath}
	if err := serviceObj.Call(serviceIface+".Unlock", 0, collections).Store(&unlocked, &prompt); err != nil {
		return err
	}
	if prompt != "" && prompt != "/" {
		return b.awaitPromptCompleted(ctx, prompt)
	}
	return nil
}

func (b *Backend) awaitPromptCompleted(ctx context.Context, promptPath dbus.ObjectPath) error {
	if err := b.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(promptPath),
		dbus.WithMatchInterface("org.freedesktop.Secret.Prompt"),
		dbus.WithMatchMember("Completed"),
	); err != nil {
		return err
	}
	sigCh := make(chan *dbus.Signal, 1)
	b.conn.Signal(sigCh)
	defer b.conn.RemoveSignal(sigCh)

	promptObj := b.conn.Object(busName, promptPath)
	if err := promptObj.Call("org.freedesktop.Secret.Prompt.Prompt", 0, "").Err; err != nil {
		return err
	}
	select {
	case sig := <-sigCh:
		if len(sig.Body) > 0 {
			if dismissed, ok := sig.Body[0].(bool); ok && dismissed {
				return fmt.Errorf("unlock prompt dismissed")
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Save stores secret as an item in the default collection, attributed
// so a later Load/Delete can find it by name. The Secret Service API
// itself requires a session for its Secret struct (plain algorithm, no
// payload encryption at the D-Bus layer) — a new session is opened via
// openSession on every Save and Load call.
func (b *Backend) Save(ctx context.Context, name string, secret []byte) error {
	sessionPath, err := b.openSession()
	if err != nil {
		return fmt.Errorf("open secret service session: %w", err)
	}

	props := map[string]dbus.Variant{
		"org.freedesktop.Secret.Item.Label": dbus.MakeVariant("lamco-rdp-server: " + name),
		"org.freedesktop.Secret.Item.Attributes": dbus.MakeVariant(map[string]string{
			attribute: name,
		}),
	}
	secretStruct := dbusSecret{
		Session:     sessionPath,
		Parameters:  []byte{},
		Value:       secret,
		ContentType: "text/plain",
	}

	collObj := b.conn.Object(busName, dbus.ObjectPath(defaultCollectionPath))
	var itemPath, promptPath dbus.ObjectPath
	if err := collObj.Call(collectionIface+".CreateItem", 0, props, secretStruct, true).Store(&itemPath, &promptPath); err != nil {
		return fmt.Errorf("CreateItem: %w", err)
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	sessionPath, err := b.openSession()
	if err != nil {
		return nil, false, fmt.Errorf("open secret service session: %w", err)
	}

	serviceObj := b.conn.Object(busName, dbus.ObjectPath(basePath))
	var unlocked, locked []dbus.ObjectPath
	attrs := map[string]string{attribute: name}
	if err := serviceObj.Call(serviceIface+".SearchItems", 0, attrs).Store(&unlocked, &locked); err != nil {
		return nil, false, fmt.Errorf("SearchItems: %w", err)
	}
	if len(unlocked) == 0 {
		return nil, false, nil
	}

	itemObj := b.conn.Object(busName, unlocked[0])
	var secretStruct dbusSecret
	if err := itemObj.Call(itemIface+".GetSecret", 0, sessionPath).Store(&secretStruct); err != nil {
		return nil, false, fmt.Errorf("GetSecret: %w", err)
	}
	return secretStruct.Value, true, nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	serviceObj := b.conn.Object(busName, dbus.ObjectPath(basePath))
	var unlocked, locked []dbus.ObjectPath
	attrs := map[string]string{attribute: name}
	if err := serviceObj.Call(serviceIface+".SearchItems", 0, attrs).Store(&unlocked, &locked); err != nil {
		return fmt.Errorf("SearchItems: %w", err)
	}
	for _, path := range unlocked {
		itemObj := b.conn.Object(busName, path)
		var promptPath dbus.ObjectPath
		if err := itemObj.Call(itemIface+".Delete", 0).Store(&promptPath); err != nil {
			return fmt.Errorf("Delete: %w", err)
		}
	}
	return nil
}

// dbusSecret mirrors the Secret Service API's (o, ay, ay, s) Secret
// struct: session path, algorithm parameters, value, content type.
type dbusSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// openSession negotiates a "plain" algorithm session, the simplest of
// the two the spec allows (the other is a Diffie-Hellman session for
// services that refuse plain). Since this runs over the already-trusted
// session D-Bus socket, plain is sufficient.
func (b *Backend) openSession() (dbus.ObjectPath, error) {
	serviceObj := b.conn.Object(busName, dbus.ObjectPath(basePath))
	var output dbus.Variant
	var sessionPath dbus.ObjectPath
	if err := serviceObj.Call(serviceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).Store(&output, &sessionPath); err != nil {
		return "", err
	}
	return sessionPath, nil
}


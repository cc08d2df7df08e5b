package capture

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name      SessionType
	available bool
	openErr   error
}

func (f *fakeStrategy) Name() SessionType                  { return f.name }
func (f *fakeStrategy) Available(ctx context.Context) bool  { return f.available }
func (f *fakeStrategy) RequiresInitialSetup() bool          { return false }
func (f *fakeStrategy) SupportsUnattendedRestore() bool     { return false }
func (f *fakeStrategy) Open(ctx context.Context) (SessionHandle, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeHandle{typ: f.name}, nil
}

type fakeHandle struct{ typ SessionType }

func (h *fakeHandle) Type() SessionType                  { return h.typ }
func (h *fakeHandle) Streams() []StreamDescriptor         { return nil }
func (h *fakeHandle) PipeWireFD() int                     { return -1 }
func (h *fakeHandle) Clipboard() ClipboardComponent       { return nil }
func (h *fakeHandle) Close() error                        { return nil }
func (h *fakeHandle) KeyEvent(context.Context, uint32, bool) error               { return nil }
func (h *fakeHandle) PointerMotionAbsolute(context.Context, float64, float64) error { return nil }
func (h *fakeHandle) PointerButton(context.Context, Button, bool) error          { return nil }
func (h *fakeHandle) PointerAxis(context.Context, AxisSource, float64, float64) error { return nil }
func (h *fakeHandle) Frame(context.Context) error          { return nil }

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRankOrdersMutterFirstThenWlrThenLibeiThenPortal(t *testing.T) {
	assert.Less(t, Rank(SessionTypeMutter), Rank(SessionTypeWlrDirect))
	assert.Less(t, Rank(SessionTypeWlrDirect), Rank(SessionTypeLibei))
	assert.Less(t, Rank(SessionTypeLibei), Rank(SessionTypePortal))
}

func TestSelectorOpenPicksHighestRankedAvailable(t *testing.T) {
	s := NewSelector(discardLog(), CompositorGnome, DeploymentNative, []Strategy{
		&fakeStrategy{name: SessionTypePortal, available: true},
		&fakeStrategy{name: SessionTypeMutter, available: true},
	})
	h, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionTypeMutter, h.Type())
}

func TestSelectorSkipsUnavailableCandidates(t *testing.T) {
	s := NewSelector(discardLog(), CompositorWlroots, DeploymentNative, []Strategy{
		&fakeStrategy{name: SessionTypeWlrDirect, available: false},
		&fakeStrategy{name: SessionTypePortal, available: true},
	})
	h, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionTypePortal, h.Type())
}

func TestSelectorOpenFailsWhenNoCandidateWorks(t *testing.T) {
	s := NewSelector(discardLog(), CompositorUnknown, DeploymentNative, []Strategy{
		&fakeStrategy{name: SessionTypePortal, available: false},
	})
	_, err := s.Open(context.Background())
	assert.Error(t, err)
}

func TestSelectorDegradeMovesToNextCandidate(t *testing.T) {
	s := NewSelector(discardLog(), CompositorGnome, DeploymentNative, []Strategy{
		&fakeStrategy{name: SessionTypeMutter, available: true},
		&fakeStrategy{name: SessionTypePortal, available: true},
	})
	h, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionTypeMutter, h.Type())

	degraded, err := s.Degrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionTypePortal, degraded.Type())
}

func TestSelectorDegradeFailsAtEndOfList(t *testing.T) {
	s := NewSelector(discardLog(), CompositorGnome, DeploymentNative, []Strategy{
		&fakeStrategy{name: SessionTypeMutter, available: true},
	})
	_, err := s.Open(context.Background())
	require.NoError(t, err)

	_, err = s.Degrade(context.Background())
	assert.Error(t, err)
}

func TestDeploymentSandboxed(t *testing.T) {
	assert.True(t, DeploymentFlatpak.sandboxed())
	assert.False(t, DeploymentNative.sandboxed())
}

func TestSessionTypeStringsAreStable(t *testing.T) {
	assert.Equal(t, "portal", SessionTypePortal.String())
	assert.Equal(t, "mutter", SessionTypeMutter.String())
	assert.Equal(t, "wlr-direct", SessionTypeWlrDirect.String())
	assert.Equal(t, "libei", SessionTypeLibei.String())
}

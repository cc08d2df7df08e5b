package encryptedfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)
	ctx := context.Background()

	secret := []byte("restore-token-xyz")
	require.NoError(t, b.Save(ctx, "portal-restore", secret))

	got, ok, err := b.Load(ctx, "portal-restore")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, secret, got)
}

func TestLoadMissingReturnsFalseNoError(t *testing.T) {
	b := New(t.TempDir())
	got, ok, err := b.Load(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestDeleteThenLoadMisses(t *testing.T) {
	dir := t.TempDir()
	b := New(dir)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, "tok", []byte("secret")))
	require.NoError(t, b.Delete(ctx, "tok"))

	_, ok, err := b.Load(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	b := New(t.TempDir())
	assert.NoError(t, b.Delete(context.Background(), "absent"))
}

func TestKeyDerivationDeterministicAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := New(dir)
	require.NoError(t, first.Save(ctx, "tok", []byte("payload")))

	second := New(dir)
	got, ok, err := second.Load(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestNameIdentifiesBackend(t *testing.T) {
	assert.Equal(t, "encrypted-file", New(t.TempDir()).Name())
}

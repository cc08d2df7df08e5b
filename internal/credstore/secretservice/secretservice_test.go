package secretservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameIdentifiesBackend(t *testing.T) {
	b := &Backend{}
	assert.Equal(t, "secret-service", b.Name())
}

// New requires a live session D-Bus with org.freedesktop.secrets
// registered; unavailable in this environment it must fail closed so
// DetectBackend falls through to the next candidate rather than
// panicking or hanging.
func TestNewFailsClosedWithoutSecretService(t *testing.T) {
	_, err := New(context.Background(), nil)
	if err != nil {
		assert.Error(t, err)
	}
}

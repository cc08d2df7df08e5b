package clipboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectingSender(mu *sync.Mutex, chunks *[][]byte) ChunkSender {
	return func(ctx context.Context, seq int, chunk []byte) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		*chunks = append(*chunks, cp)
		return nil
	}
}

func TestTransferEngineSendCompletesAndVerifies(t *testing.T) {
	e := NewTransferEngine().WithChunkSize(4)
	content := []byte("0123456789")

	var mu sync.Mutex
	var chunks [][]byte
	tr, err := e.Send(context.Background(), content, collectingSender(&mu, &chunks))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.Progress().State == TransferCompleted
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// last chunk is the trailing SHA-256 digest (32 bytes)
	require.GreaterOrEqual(t, len(chunks), 2)
	digest := chunks[len(chunks)-1]
	assert.Len(t, digest, 32)

	r := NewReceiver()
	for _, c := range chunks[:len(chunks)-1] {
		_, err := r.Accept(c, false)
		require.NoError(t, err)
	}
	verified, err := r.Accept(digest, true)
	require.NoError(t, err)
	assert.Equal(t, content, verified)
}

func TestTransferEngineRejectsOversizedContent(t *testing.T) {
	e := NewTransferEngine()
	oversized := make([]byte, MaxTransferSize+1)
	_, err := e.Send(context.Background(), oversized, func(ctx context.Context, seq int, chunk []byte) error {
		return nil
	})
	assert.Error(t, err)
}

func TestTransferEngineCancel(t *testing.T) {
	e := NewTransferEngine().WithChunkSize(1)
	content := make([]byte, 1000)

	block := make(chan struct{})
	sender := func(ctx context.Context, seq int, chunk []byte) error {
		if seq == 0 {
			close(block)
		}
		<-ctx.Done()
		return ctx.Err()
	}

	tr, err := e.Send(context.Background(), content, sender)
	require.NoError(t, err)

	<-block
	tr.Cancel()

	require.Eventually(t, func() bool {
		return tr.Progress().State == TransferCancelled
	}, time.Second, time.Millisecond)
}

func TestReceiverDetectsIntegrityFailure(t *testing.T) {
	r := NewReceiver()
	_, err := r.Accept([]byte("some content"), false)
	require.NoError(t, err)

	_, err = r.Accept(make([]byte, 32), true)
	assert.Error(t, err)
}

func TestReceiverRejectsOversizedAccumulation(t *testing.T) {
	r := &Receiver{maxSize: 8}
	_, err := r.Accept([]byte("12345678"), false)
	require.NoError(t, err)
	_, err = r.Accept([]byte("9"), false)
	assert.Error(t, err)
}

func TestTransferStateStringsAreStable(t *testing.T) {
	assert.Equal(t, "pending", TransferPending.String())
	assert.Equal(t, "in_progress", TransferInProgress.String())
	assert.Equal(t, "completed", TransferCompleted.String())
	assert.Equal(t, "cancelled", TransferCancelled.String())
	assert.Equal(t, "failed", TransferFailed.String())
}

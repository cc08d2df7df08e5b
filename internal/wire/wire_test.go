package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssemblesFieldsLittleEndian(t *testing.T) {
	b := NewBuilder().U8(1).U16(0x0203).U32(0x04050607).Pad(2).Bytes([]byte("hi"))
	got := b.Build()
	want := []byte{1, 0x03, 0x02, 0x07, 0x06, 0x05, 0x04, 0, 0, 'h', 'i'}
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), b.Len())
}

func TestReaderRoundTripsBuilderOutput(t *testing.T) {
	built := NewBuilder().U8(9).U16(1000).U32(70000).Bytes([]byte{1, 2, 3}).Build()

	r := NewReader(built)
	assert.Equal(t, uint8(9), r.U8())
	assert.Equal(t, uint16(1000), r.U16())
	assert.Equal(t, uint32(70000), r.U32())
	assert.Equal(t, []byte{1, 2, 3}, r.Bytes(3))
	require.NoError(t, r.Err())
}

func TestReaderReportsShortRead(t *testing.T) {
	r := NewReader([]byte{1, 2})
	r.U32()
	assert.Error(t, r.Err())
}

func TestReaderShortReadIsSticky(t *testing.T) {
	r := NewReader([]byte{1, 2})
	r.U32()
	assert.Equal(t, uint8(0), r.U8())
	assert.Error(t, r.Err())
}

func TestReaderRemaining(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	r.U16()
	assert.Equal(t, []byte{3, 4, 5}, r.Remaining())
}
